package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/orchestkit/ork-coord/internal/errors"
)

// AppName is used for the config directory and env prefix.
const AppName = "ork-coord"

// EnvPrefix is the prefix for environment overrides, e.g. ORK_COORD_COORDINATION_LOCK_TTL.
const EnvPrefix = "ORK_COORD"

// Store backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config represents the complete ork-coord configuration
type Config struct {
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Identity     IdentityConfig     `mapstructure:"identity"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// CoordinationConfig controls the shared lock/claim store
type CoordinationConfig struct {
	// Dir is the coordination directory relative to the project root
	// (default: ".claude/coordination")
	Dir string `mapstructure:"dir"`
	// Backend selects the store implementation: "json" or "sqlite" (default: "json")
	Backend string `mapstructure:"backend"`
	// LockTTL is the lease length for file locks (default: 30m)
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// ClaimTTL is the lease length for work claims, 0 = claims never expire (default: 2h)
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
	// AutoInit creates the coordination directory on the first acquire (default: true).
	// When false, coordination stays disabled until "ork-coord init" runs.
	AutoInit bool `mapstructure:"auto_init"`
	// LockWait bounds how long an update waits for the advisory store lock
	// before proceeding without it (default: 2s)
	LockWait time.Duration `mapstructure:"lock_wait"`
}

// IdentityConfig controls instance identity resolution
type IdentityConfig struct {
	// OverrideEnv names the environment variable whose value, when set,
	// becomes the instance id (default: "CLAUDE_INSTANCE_ID")
	OverrideEnv string `mapstructure:"override_env"`
}

// LoggingConfig controls the coordination log
type LoggingConfig struct {
	// Enabled controls whether coord.log is written (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 5)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep (default: 2)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Coordination: CoordinationConfig{
			Dir:      filepath.Join(".claude", "coordination"),
			Backend:  BackendJSON,
			LockTTL:  30 * time.Minute,
			ClaimTTL: 2 * time.Hour,
			AutoInit: true,
			LockWait: 2 * time.Second,
		},
		Identity: IdentityConfig{
			OverrideEnv: "CLAUDE_INSTANCE_ID",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  5,
			MaxBackups: 2,
			Compress:   false,
		},
	}
}

// SetDefaults registers default values with the global viper instance
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Coordination defaults
	v.SetDefault("coordination.dir", defaults.Coordination.Dir)
	v.SetDefault("coordination.backend", defaults.Coordination.Backend)
	v.SetDefault("coordination.lock_ttl", defaults.Coordination.LockTTL)
	v.SetDefault("coordination.claim_ttl", defaults.Coordination.ClaimTTL)
	v.SetDefault("coordination.auto_init", defaults.Coordination.AutoInit)
	v.SetDefault("coordination.lock_wait", defaults.Coordination.LockWait)

	// Identity defaults
	v.SetDefault("identity.override_env", defaults.Identity.OverrideEnv)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from the global viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v into a Config struct and validates it
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, errors.Wrap(errors.Join(errors.ErrInvalidConfig, err), "decoding configuration")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if it is invalid.
// Coordination must never refuse to run because of a bad config file.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
// ($XDG_CONFIG_HOME/ork-coord)
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// ConfigFile returns the path to the user's config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidBackends returns the list of valid store backends
func ValidBackends() []string {
	return []string{BackendJSON, BackendSQLite}
}
