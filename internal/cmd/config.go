package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orchestkit/ork-coord/internal/config"
	"github.com/orchestkit/ork-coord/internal/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify ork-coord configuration",
	Long: `View or modify ork-coord configuration.

Without arguments, displays the effective configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  ork-coord config set coordination.lock_ttl 10m
  ork-coord config set coordination.backend sqlite

Valid keys:
  coordination.backend     - Store backend: json, sqlite
  coordination.lock_ttl    - File lock lease (duration, e.g. 30m)
  coordination.claim_ttl   - Work claim lease, 0 = never expires
  coordination.auto_init   - Enable coordination on first use (true/false)
  coordination.lock_wait   - Max wait for the store lock (duration)
  identity.override_env    - Env variable holding an explicit instance id
  logging.enabled          - Write coord.log (true/false)
  logging.level            - debug, info, warn, error
  logging.max_size_mb      - Rotate coord.log at this size
  logging.max_backups      - Rotated files to keep`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at $XDG_CONFIG_HOME/ork-coord/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	addOutputFlag(configShowCmd, outputYAML)

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// configView is the printable form of config.Config.
type configView struct {
	Coordination struct {
		Dir      string `json:"dir" yaml:"dir"`
		Backend  string `json:"backend" yaml:"backend"`
		LockTTL  string `json:"lock_ttl" yaml:"lock_ttl"`
		ClaimTTL string `json:"claim_ttl" yaml:"claim_ttl"`
		AutoInit bool   `json:"auto_init" yaml:"auto_init"`
		LockWait string `json:"lock_wait" yaml:"lock_wait"`
	} `json:"coordination" yaml:"coordination"`
	Identity struct {
		OverrideEnv string `json:"override_env" yaml:"override_env"`
	} `json:"identity" yaml:"identity"`
	Logging struct {
		Enabled    bool   `json:"enabled" yaml:"enabled"`
		Level      string `json:"level" yaml:"level"`
		MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
		MaxBackups int    `json:"max_backups" yaml:"max_backups"`
		Compress   bool   `json:"compress" yaml:"compress"`
	} `json:"logging" yaml:"logging"`
}

func newConfigView(cfg *config.Config) configView {
	var v configView
	v.Coordination.Dir = cfg.Coordination.Dir
	v.Coordination.Backend = cfg.Coordination.Backend
	v.Coordination.LockTTL = cfg.Coordination.LockTTL.String()
	v.Coordination.ClaimTTL = cfg.Coordination.ClaimTTL.String()
	v.Coordination.AutoInit = cfg.Coordination.AutoInit
	v.Coordination.LockWait = cfg.Coordination.LockWait.String()
	v.Identity.OverrideEnv = cfg.Identity.OverrideEnv
	v.Logging.Enabled = cfg.Logging.Enabled
	v.Logging.Level = cfg.Logging.Level
	v.Logging.MaxSizeMB = cfg.Logging.MaxSizeMB
	v.Logging.MaxBackups = cfg.Logging.MaxBackups
	v.Logging.Compress = cfg.Logging.Compress
	return v
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	format := outputYAML
	if cmd.Flags().Lookup("output") != nil {
		f, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		format = f
	}
	if format == outputTable {
		format = outputYAML
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == outputYAML {
		// Show where config is being read from
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(out, "# config file: %s\n", used)
		} else {
			fmt.Fprintln(out, "# config file: (none - using defaults)")
		}
	}
	return render(out, format, newConfigView(cfg), nil)
}

// settableKeys maps each key accepted by 'config set' to its value kind.
var settableKeys = map[string]string{
	"coordination.backend":   "backend",
	"coordination.lock_ttl":  "duration",
	"coordination.claim_ttl": "duration",
	"coordination.auto_init": "bool",
	"coordination.lock_wait": "duration",
	"identity.override_env":  "string",
	"logging.enabled":        "bool",
	"logging.level":          "level",
	"logging.max_size_mb":    "int",
	"logging.max_backups":    "int",
}

// parseSetting validates value for key and returns the value to store.
func parseSetting(key, value string) (any, error) {
	kind, ok := settableKeys[key]
	if !ok {
		return nil, errors.NewUserError(
			errors.Wrapf(errors.ErrInvalidConfig, "unknown configuration key: %s", key),
			"run 'ork-coord config set --help' to see valid keys")
	}

	invalid := func(expected string) error {
		return errors.NewUserError(
			errors.Wrapf(errors.ErrInvalidConfig, "invalid value for %s: %q", key, value),
			"expected "+expected)
	}

	switch kind {
	case "backend":
		if !slices.Contains(config.ValidBackends(), value) {
			return nil, invalid(strings.Join(config.ValidBackends(), " or "))
		}
		return value, nil
	case "level":
		if !slices.Contains(config.ValidLogLevels(), value) {
			return nil, invalid(strings.Join(config.ValidLogLevels(), ", "))
		}
		return value, nil
	case "duration":
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			return nil, invalid("a non-negative duration such as 30m")
		}
		return d.String(), nil
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, invalid("true or false")
		}
		return b, nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return nil, invalid("a non-negative integer")
		}
		return n, nil
	default:
		if strings.TrimSpace(value) == "" {
			return nil, invalid("a non-empty value")
		}
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	typed, err := parseSetting(key, value)
	if err != nil {
		return err
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return errors.Wrap(err, "creating config directory")
	}

	viper.Set(key, typed)
	if err := viper.WriteConfigAs(configFile); err != nil {
		return errors.Wrap(err, "writing config file")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typed)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

const defaultConfigContent = `# ork-coord configuration

coordination:
  # Directory holding the lock store, relative to the repository root
  dir: .claude/coordination
  # Store backend: json (locks.json) or sqlite (coordination.db)
  backend: json
  # Lease length of a file lock; renewed on every edit
  lock_ttl: 30m
  # Lease length of a work claim; 0 means claims never expire
  claim_ttl: 2h
  # Enable coordination on first use without running 'ork-coord init'
  auto_init: true
  # How long an update waits for the store lock
  lock_wait: 2s

identity:
  # Environment variable holding an explicit instance id
  override_env: CLAUDE_INSTANCE_ID

logging:
  # Write <coordination dir>/coord.log
  enabled: true
  # debug, info, warn or error
  level: info
  max_size_mb: 5
  max_backups: 2
  compress: false
`

func runConfigInit(cmd *cobra.Command, _ []string) error {
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return errors.NewUserError(
			errors.Newf("config file already exists at %s", configFile),
			"use 'ork-coord config set' to modify values")
	}

	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return errors.Wrap(err, "creating config directory")
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0o644); err != nil {
		return errors.Wrap(err, "writing config file")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nProject overrides:")
	fmt.Fprintf(out, "  %s\n", filepath.Join(projectDir(), ProjectConfigFile))
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_COORDINATION_LOCK_TTL)\n", config.EnvPrefix, config.EnvPrefix)
	return nil
}
