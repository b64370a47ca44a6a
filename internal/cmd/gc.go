package cmd

import (
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/orchestkit/ork-coord/internal/coordination"
	"github.com/orchestkit/ork-coord/internal/errors"
)

var gcCmd = &cobra.Command{
	Use:   "gc [project]...",
	Short: "Purge expired locks and claims",
	Long: `Remove expired locks and claims from the store of each given project, or
of the current project when none is given. Projects are swept in parallel.
Projects without a store are left untouched.`,
	RunE: runGC,
}

func init() {
	gcCmd.Flags().Int("jobs", runtime.GOMAXPROCS(0), "projects swept concurrently")
	rootCmd.AddCommand(gcCmd)
}

type gcResult struct {
	dir    string
	locks  int
	claims int
	err    error
}

func runGC(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		args = []string{projectDir()}
	}
	jobs, _ := cmd.Flags().GetInt("jobs")

	ctx := cmd.Context()
	p := pool.NewWithResults[gcResult]().WithMaxGoroutines(max(jobs, 1))
	for _, dir := range args {
		p.Go(func() gcResult {
			res := gcResult{dir: dir}
			c, err := coordination.Open(dir, cfg)
			if err != nil {
				res.err = err
				return res
			}
			defer c.Close()

			res.dir = c.Project().Root
			purged, err := c.GC(ctx)
			res.locks, res.claims, res.err = len(purged.Locks), len(purged.Claims), err
			return res
		})
	}
	results := p.Wait()
	slices.SortFunc(results, func(a, b gcResult) int { return strings.Compare(a.dir, b.dir) })

	out := cmd.OutOrStdout()
	var errs []error
	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(out, "%s: error: %v\n", filepath.Clean(r.dir), r.err)
			errs = append(errs, errors.Wrapf(r.err, "%s", r.dir))
			continue
		}
		fmt.Fprintf(out, "%s: purged %d lock(s), %d claim(s)\n", r.dir, r.locks, r.claims)
	}
	if len(errs) > 0 {
		return errors.NewSystemError(errors.Join(errs...), "")
	}
	return nil
}
