package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/orchestkit/ork-coord/internal/tui/locks"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live locks and claims",
	Long: `Display the coordination state of the current project: every live file
lock and work claim with its owner and remaining lease. Locks held by this
instance are marked "(you)".

Use 'ork-coord watch' for a live view.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	addOutputFlag(statusCmd, outputTable)
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	c, err := openCoordinator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	st := c.Status(cmd.Context())
	return render(cmd.OutOrStdout(), format, st, func() string {
		return locks.RenderStatus(st, time.Now())
	})
}
