package cmd

import (
	"github.com/spf13/cobra"

	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/store"
	"github.com/orchestkit/ork-coord/internal/tui/locks"
	"github.com/orchestkit/ork-coord/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of locks and claims",
	Long: `Open a terminal dashboard that follows the coordination store as
instances lock, release and claim. Press tab to switch between locks and
claims, q to quit.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	c, err := openCoordinator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := requireEnabled(c); err != nil {
		return err
	}
	// The watcher needs the directory to exist.
	if !c.Store().Exists() {
		if err := c.Init(cmd.Context()); err != nil {
			return err
		}
	}

	w, err := watch.New(c.Dir(),
		[]string{store.FileJSON, store.FileSQLite, store.FileSQLite + "-wal"},
		watch.WithLogger(c.Logger()))
	if err != nil {
		return errors.NewSystemError(err, "")
	}
	w.Start()
	defer w.Stop()

	return locks.Run(c, locks.WithChanges(w.Changes()))
}
