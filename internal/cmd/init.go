package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Enable coordination in the current repository",
	Long: `Create the coordination directory and an empty store in the
repository's common root. Every worktree of the repository shares it.

Running init again is harmless: it only purges expired entries.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	c, err := openCoordinator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Init(cmd.Context()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Coordination initialized.")
	fmt.Fprintf(out, "Directory: %s\n", c.Dir())
	fmt.Fprintf(out, "Store:     %s (%s)\n", c.Store().Path(), c.Store().Kind())
	return nil
}
