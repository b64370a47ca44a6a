package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/reaper"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Release everything an instance holds",
	Long: `Release every lock and claim of this instance, as the stop hook does when
a session ends. Expired entries of any instance are purged in the same pass.

Without --instance only an identity that already exists is reaped; reap
never creates one.`,
	Args: cobra.NoArgs,
	RunE: runReap,
}

func init() {
	reapCmd.Flags().String("instance", "", "reap this instance instead of the resolved one")
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, _ []string) error {
	c, err := openCoordinator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	var rep reaper.Report
	if id, _ := cmd.Flags().GetString("instance"); id != "" {
		rep = c.ReapInstance(cmd.Context(), id)
	} else {
		rep = c.Reap(cmd.Context())
	}

	out := cmd.OutOrStdout()
	if rep.Skipped != "" {
		fmt.Fprintf(out, "Nothing to reap: %s\n", rep.Skipped)
		return nil
	}
	if rep.Err != nil {
		return errors.NewSystemError(rep.Err, "leases still expire on their own")
	}

	fmt.Fprintf(out, "Reaped %s: %d lock(s), %d claim(s)\n", rep.InstanceID, rep.Locks, rep.Claims)
	if expired := rep.ExpiredLocks + rep.ExpiredClaims; expired > 0 {
		fmt.Fprintf(out, "Purged %d expired entr%s\n", expired, plural(expired, "y", "ies"))
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
