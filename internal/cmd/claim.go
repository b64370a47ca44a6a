package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/store"
	"github.com/orchestkit/ork-coord/internal/tui/locks"
	"github.com/orchestkit/ork-coord/internal/workclaim"
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim, release and list tasks",
	Long: `Manage work claims. A claim marks a task id as taken by one instance so
that others pick different work.`,
}

var claimAcquireCmd = &cobra.Command{
	Use:   "acquire <task-id>",
	Short: "Claim a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimAcquire,
}

var claimReleaseCmd = &cobra.Command{
	Use:   "release [task-id]...",
	Short: "Release claims",
	RunE:  runClaimRelease,
}

var claimListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List live work claims",
	Args:    cobra.NoArgs,
	RunE:    runClaimList,
}

func init() {
	claimAcquireCmd.Flags().Duration("ttl", 0, "lease length (default coordination.claim_ttl)")
	claimAcquireCmd.Flags().Bool("permanent", false, "claim until released or reaped")
	claimAcquireCmd.Flags().Duration("wait", 0, "keep retrying a denied claim for up to this long")
	claimAcquireCmd.Flags().String("instance", "", "act as this instance instead of the resolved one")

	claimReleaseCmd.Flags().Bool("all", false, "release every claim of the instance")
	claimReleaseCmd.Flags().String("instance", "", "act as this instance instead of the resolved one")

	claimListCmd.Flags().String("instance", "", "only show claims held by this instance")
	addOutputFlag(claimListCmd, outputTable)

	claimCmd.AddCommand(claimAcquireCmd, claimReleaseCmd, claimListCmd)
	rootCmd.AddCommand(claimCmd)
}

func runClaimAcquire(cmd *cobra.Command, args []string) error {
	c, err := openCoordinator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := requireEnabled(c); err != nil {
		return err
	}

	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl == 0 {
		ttl = c.Config().Coordination.ClaimTTL
	}
	if permanent, _ := cmd.Flags().GetBool("permanent"); permanent {
		ttl = 0
	}

	wait, _ := cmd.Flags().GetDuration("wait")
	id := instanceFlag(cmd, c)

	var res workclaim.Result
	err = retry(cmd.Context(), wait, func() error {
		res = c.Claims().Claim(cmd.Context(), args[0], id, ttl)
		if res.Status != workclaim.Denied {
			return nil
		}
		return errors.NewUserError(
			errors.Wrapf(errors.ErrClaimHeld, "task %s is claimed by %s", res.TaskID, res.Holder),
			"pick another task")
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.Status == workclaim.Skipped {
		fmt.Fprintln(out, "Nothing claimed: empty task id")
		return nil
	}

	verb := "Claimed"
	if res.Renewed {
		verb = "Renewed"
	}
	if res.ExpiresAt.IsZero() {
		fmt.Fprintf(out, "%s task %s\n", verb, res.TaskID)
	} else {
		fmt.Fprintf(out, "%s task %s until %s\n", verb, res.TaskID, res.ExpiresAt.Local().Format(time.TimeOnly))
	}
	if res.Degraded {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: store unavailable, claim not recorded: %v\n", res.Err)
	}
	return nil
}

func runClaimRelease(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) > 0) {
		return errors.NewUserError(
			errors.Wrap(errors.ErrInvalidInput, "specify task ids or --all"),
			"e.g. 'ork-coord claim release 42'")
	}

	c, err := openCoordinator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	if !c.Store().Exists() {
		fmt.Fprintln(out, "No claims held.")
		return nil
	}

	ctx := cmd.Context()
	id := instanceFlag(cmd, c)
	if all {
		n, err := c.Claims().ReleaseAll(ctx, id)
		if err != nil {
			return errors.NewSystemError(err, "")
		}
		fmt.Fprintf(out, "Released %d claim(s) of %s\n", n, id)
		return nil
	}

	for _, task := range args {
		released, err := c.Claims().Release(ctx, task, id)
		if err != nil {
			return errors.NewSystemError(err, "")
		}
		if released {
			fmt.Fprintf(out, "Released task %s\n", task)
		} else {
			fmt.Fprintf(out, "Not claimed by %s: %s\n", id, task)
		}
	}
	return nil
}

func runClaimList(cmd *cobra.Command, _ []string) error {
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
	if id, _ := cmd.Flags().GetString("instance"); id != "" {
		st.Claims = filterClaims(st.Claims, id)
	}
	return render(cmd.OutOrStdout(), format, st.Claims, func() string {
		return locks.RenderClaims(st, time.Now())
	})
}

func filterClaims(all []store.WorkClaim, instanceID string) []store.WorkClaim {
	out := make([]store.WorkClaim, 0, len(all))
	for _, c := range all {
		if c.InstanceID == instanceID {
			out = append(out, c)
		}
	}
	return out
}
