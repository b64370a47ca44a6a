package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/orchestkit/ork-coord/internal/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Coordination.Dir != filepath.Join(".claude", "coordination") {
		t.Errorf("Coordination.Dir = %q, want .claude/coordination", cfg.Coordination.Dir)
	}
	if cfg.Coordination.Backend != BackendJSON {
		t.Errorf("Coordination.Backend = %q, want %q", cfg.Coordination.Backend, BackendJSON)
	}
	if cfg.Coordination.LockTTL != 30*time.Minute {
		t.Errorf("Coordination.LockTTL = %v, want 30m", cfg.Coordination.LockTTL)
	}
	if cfg.Coordination.ClaimTTL != 2*time.Hour {
		t.Errorf("Coordination.ClaimTTL = %v, want 2h", cfg.Coordination.ClaimTTL)
	}
	if !cfg.Coordination.AutoInit {
		t.Error("Coordination.AutoInit should default to true")
	}
	if cfg.Coordination.LockWait != 2*time.Second {
		t.Errorf("Coordination.LockWait = %v, want 2s", cfg.Coordination.LockWait)
	}
	if cfg.Identity.OverrideEnv != "CLAUDE_INSTANCE_ID" {
		t.Errorf("Identity.OverrideEnv = %q, want CLAUDE_INSTANCE_ID", cfg.Identity.OverrideEnv)
	}
	if !cfg.Logging.Enabled {
		t.Error("Logging.Enabled should default to true")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB != 5 || cfg.Logging.MaxBackups != 2 || cfg.Logging.Compress {
		t.Errorf("Logging rotation = %d/%d/%v, want 5/2/false",
			cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.Compress)
	}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default() should validate, got %v", errs)
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaultsOn(v)

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Coordination.LockTTL != 30*time.Minute {
		t.Errorf("LockTTL = %v, want 30m", cfg.Coordination.LockTTL)
	}
	if cfg.Coordination.Backend != BackendJSON {
		t.Errorf("Backend = %q, want json", cfg.Coordination.Backend)
	}
}

func TestLoadFrom_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `coordination:
  backend: sqlite
  lock_ttl: 10m
  claim_ttl: 0s
  auto_init: false
identity:
  override_env: MY_AGENT_ID
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	SetDefaultsOn(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Coordination.Backend != BackendSQLite {
		t.Errorf("Backend = %q, want sqlite", cfg.Coordination.Backend)
	}
	if cfg.Coordination.LockTTL != 10*time.Minute {
		t.Errorf("LockTTL = %v, want 10m", cfg.Coordination.LockTTL)
	}
	if cfg.Coordination.ClaimTTL != 0 {
		t.Errorf("ClaimTTL = %v, want 0", cfg.Coordination.ClaimTTL)
	}
	if cfg.Coordination.AutoInit {
		t.Error("AutoInit = true, want false")
	}
	// Unset keys keep their defaults
	if cfg.Coordination.LockWait != 2*time.Second {
		t.Errorf("LockWait = %v, want 2s", cfg.Coordination.LockWait)
	}
	if cfg.Identity.OverrideEnv != "MY_AGENT_ID" {
		t.Errorf("OverrideEnv = %q, want MY_AGENT_ID", cfg.Identity.OverrideEnv)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadFrom_EnvOverride(t *testing.T) {
	t.Setenv("ORK_COORD_COORDINATION_LOCK_TTL", "45m")

	v := viper.New()
	SetDefaultsOn(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Coordination.LockTTL != 45*time.Minute {
		t.Errorf("LockTTL = %v, want 45m", cfg.Coordination.LockTTL)
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	v := viper.New()
	SetDefaultsOn(v)
	v.Set("coordination.backend", "redis")

	_, err := LoadFrom(v)
	if err == nil {
		t.Fatal("LoadFrom() should fail for unknown backend")
	}
	if !errors.Is(err, errors.ErrInvalidConfig) {
		t.Errorf("error should match ErrInvalidConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "coordination.backend") {
		t.Errorf("error should name the field, got %q", err.Error())
	}
}

func TestConfigFile(t *testing.T) {
	got := ConfigFile()
	if filepath.Base(got) != "config.yaml" {
		t.Errorf("ConfigFile() = %q, want config.yaml basename", got)
	}
	if filepath.Base(filepath.Dir(got)) != AppName {
		t.Errorf("ConfigFile() = %q, want parent dir %q", got, AppName)
	}
}
