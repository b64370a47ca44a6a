// Package cmd implements the ork-coord command line.
package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	hookcmd "github.com/orchestkit/ork-coord/internal/cmd/hook"
	"github.com/orchestkit/ork-coord/internal/config"
	"github.com/orchestkit/ork-coord/internal/coordination"
	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/hook"
)

// Version is set at build time via ldflags.
var Version = "dev"

// ProjectConfigFile is the per-project config file merged over the user config.
const ProjectConfigFile = ".ork-coord.yaml"

var rootCmd = &cobra.Command{
	Use:   "ork-coord",
	Short: "File-lock coordination for concurrent coding-assistant instances",
	Long: `ork-coord keeps several coding-assistant instances working on one
repository from editing the same file at the same time.

Instances take short leases on files before editing them and claim the
tasks they work on. State lives in <repo>/.claude/coordination and is
shared by every worktree of the repository. Leases expire on their own,
and a session's locks and claims are released when it ends.`,
	Example: `  # Enable coordination for the current repository
  ork-coord init

  # Show who holds what
  ork-coord status

  # Wire into the host as hooks
  ork-coord hook pretool < input.json`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("ork-coord version {{.Version}}\n")

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/ork-coord/config.yaml)")
	rootCmd.PersistentFlags().StringP("project", "C", "", "project directory (default is the current directory)")
	rootCmd.PersistentFlags().String("session", "", "host session id keying the instance identity")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "mirror coordination logs to stderr at debug level")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("session", rootCmd.PersistentFlags().Lookup("session"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	hookcmd.Register(rootCmd, openForHook)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(config.EnvPrefix)
	// e.g. ORK_COORD_COORDINATION_LOCK_TTL for coordination.lock_ttl
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()

	mergeProjectConfig(viper.GetViper(), projectDir())
}

// mergeProjectConfig layers <dir>/.ork-coord.yaml over the config in v.
func mergeProjectConfig(v *viper.Viper, dir string) {
	path := filepath.Join(dir, ProjectConfigFile)
	if _, err := os.Stat(path); err != nil {
		return
	}
	local := viper.New()
	local.SetConfigFile(path)
	local.SetConfigType("yaml")
	if err := local.ReadInConfig(); err != nil {
		return
	}
	_ = v.MergeConfigMap(local.AllSettings())
}

// projectDir returns the --project flag or the working directory.
func projectDir() string {
	if dir := viper.GetString("project"); dir != "" {
		return dir
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// loadConfig returns the validated configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.NewUserError(err, "fix the configuration or run 'ork-coord config show'")
	}
	if viper.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// openCoordinator opens the coordinator for the --project directory.
func openCoordinator(cmd *cobra.Command) (*coordination.Coordinator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts := []coordination.Option{coordination.WithSessionKey(viper.GetString("session"))}
	if viper.GetBool("verbose") {
		opts = append(opts, coordination.WithMirror(cmd.ErrOrStderr()))
	}
	return coordination.Open(projectDir(), cfg, opts...)
}

// openForHook opens the coordinator for a hook invocation. Hooks must never
// fail because of configuration, so an invalid config falls back to defaults.
func openForHook(in *hook.Input) (hook.Coordinator, error) {
	dir := in.Cwd
	if dir == "" {
		dir = projectDir()
	}
	c, err := coordination.Open(dir, config.Get(), coordination.WithSessionKey(in.SessionID))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// requireEnabled fails with a hint when coordination is off for the project.
func requireEnabled(c *coordination.Coordinator) error {
	if c.Enabled() {
		return nil
	}
	return errors.NewUserError(
		errors.Wrapf(errors.ErrNotEnabled, "%s", c.Project().Root),
		"run 'ork-coord init' or set coordination.auto_init: true")
}

// instanceFlag returns --instance when set, otherwise this instance's id.
func instanceFlag(cmd *cobra.Command, c *coordination.Coordinator) string {
	if id, _ := cmd.Flags().GetString("instance"); id != "" {
		return id
	}
	return c.InstanceID()
}
