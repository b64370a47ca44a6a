package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/filelock"
	"github.com/orchestkit/ork-coord/internal/store"
	"github.com/orchestkit/ork-coord/internal/tui/locks"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Acquire, release and list file locks",
	Long: `Manage file locks by hand. The hooks normally do this for every edit;
these commands are for scripts and for cleaning up after a crashed session.

Paths may be absolute or relative to the worktree root, and are stored
relative to it.`,
}

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire <path>...",
	Short: "Lock one or more files",
	Long: `Lock every given file for this instance, or none of them if any is
held by another instance. Locks already held by this instance are renewed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLockAcquire,
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release [path]...",
	Short: "Release file locks",
	Long:  `Release the given locks, or every lock of the instance with --all.`,
	RunE:  runLockRelease,
}

var lockListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List live file locks",
	Args:    cobra.NoArgs,
	RunE:    runLockList,
}

func init() {
	lockAcquireCmd.Flags().Duration("ttl", 0, "lease length (default coordination.lock_ttl)")
	lockAcquireCmd.Flags().Duration("wait", 0, "keep retrying a denied lock for up to this long")
	lockAcquireCmd.Flags().String("instance", "", "act as this instance instead of the resolved one")

	lockReleaseCmd.Flags().Bool("all", false, "release every lock of the instance")
	lockReleaseCmd.Flags().String("instance", "", "act as this instance instead of the resolved one")

	lockListCmd.Flags().String("instance", "", "only show locks held by this instance")
	addOutputFlag(lockListCmd, outputTable)

	lockCmd.AddCommand(lockAcquireCmd, lockReleaseCmd, lockListCmd)
	rootCmd.AddCommand(lockCmd)
}

func runLockAcquire(cmd *cobra.Command, args []string) error {
	c, err := openCoordinator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := requireEnabled(c); err != nil {
		return err
	}

	for _, p := range args {
		if err := c.Locks().Check(p); err != nil {
			return errors.NewUserError(err, "paths must be inside the worktree and outside the coordination directory")
		}
	}

	ttl, _ := cmd.Flags().GetDuration("ttl")
	wait, _ := cmd.Flags().GetDuration("wait")
	id := instanceFlag(cmd, c)

	var res filelock.Result
	err = retry(cmd.Context(), wait, func() error {
		res = c.Locks().AcquireMany(cmd.Context(), args, id, ttl)
		if res.Status != filelock.Denied {
			return nil
		}
		return errors.NewUserError(
			errors.Wrapf(errors.ErrLockHeld, "%s is locked by %s until %s",
				res.Path, res.Holder, res.ExpiresAt.Local().Format(time.TimeOnly)),
			"retry with --wait or release it with 'ork-coord lock release --instance "+res.Holder+"'")
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.Status == filelock.Skipped {
		fmt.Fprintf(out, "Nothing locked: %s\n", res.Reason)
		return nil
	}

	verb := "Locked"
	if res.Renewed {
		verb = "Renewed"
	}
	fmt.Fprintf(out, "%s %s until %s\n", verb, strings.Join(res.Paths, ", "),
		res.ExpiresAt.Local().Format(time.TimeOnly))
	if res.Degraded {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: store unavailable, lock not recorded: %v\n", res.Err)
	}
	return nil
}

func runLockRelease(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) > 0) {
		return errors.NewUserError(
			errors.Wrap(errors.ErrInvalidInput, "specify paths or --all"),
			"e.g. 'ork-coord lock release src/main.go'")
	}

	c, err := openCoordinator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	if !c.Store().Exists() {
		fmt.Fprintln(out, "No locks held.")
		return nil
	}

	ctx := cmd.Context()
	id := instanceFlag(cmd, c)
	if all {
		n, err := c.Locks().ReleaseAll(ctx, id)
		if err != nil {
			return errors.NewSystemError(err, "")
		}
		fmt.Fprintf(out, "Released %d lock(s) of %s\n", n, id)
		return nil
	}

	for _, p := range args {
		released, err := c.Locks().Release(ctx, p, id)
		if err != nil {
			return errors.NewSystemError(err, "")
		}
		if released {
			fmt.Fprintf(out, "Released %s\n", p)
		} else {
			fmt.Fprintf(out, "Not held by %s: %s\n", id, p)
		}
	}
	return nil
}

func runLockList(cmd *cobra.Command, _ []string) error {
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
		st.Locks = filterLocks(st.Locks, id)
	}
	return render(cmd.OutOrStdout(), format, st.Locks, func() string {
		return locks.RenderLocks(st, time.Now())
	})
}

func filterLocks(all []store.Lock, instanceID string) []store.Lock {
	out := make([]store.Lock, 0, len(all))
	for _, l := range all {
		if l.InstanceID == instanceID {
			out = append(out, l)
		}
	}
	return out
}
