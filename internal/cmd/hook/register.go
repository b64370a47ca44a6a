// Package hook implements the "ork-coord hook" commands the host runs around
// tool calls.
package hook

import (
	"github.com/spf13/cobra"

	"github.com/orchestkit/ork-coord/internal/hook"
	"github.com/orchestkit/ork-coord/internal/logging"
)

// Register adds the hook command tree to parent. open builds the
// coordinator for each invocation.
func Register(parent *cobra.Command, open hook.Opener) {
	hookCmd := &cobra.Command{
		Use:   "hook",
		Short: "Host hook adapters (JSON on stdin, decision on stdout)",
		Long: `Hook adapters for the host assistant.

Each subcommand reads one hook invocation as JSON from stdin and writes
the decision as JSON to stdout. They always exit 0: a denial is part of
the JSON output, and any internal failure allows the tool call. Failures
that happen before the project's coordination log is open are reported on
stderr.`,
	}

	hookCmd.AddCommand(
		newEventCmd("pretool", hook.EventPreToolUse,
			"Acquire file locks and task claims before a tool runs", open),
		newEventCmd("posttool", hook.EventPostToolUse,
			"Release file locks and finished task claims after a tool ran", open),
		newEventCmd("stop", hook.EventStop,
			"Release everything this session holds", open),
	)
	parent.AddCommand(hookCmd)
}

func newEventCmd(use, event, short string, open hook.Opener) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logging.Options{Level: logging.LevelWarn, Mirror: cmd.ErrOrStderr()})
			if err != nil {
				logger = logging.NopLogger()
			}
			defer logger.Close()

			h := hook.NewHandler(open, logger.With("event", event))
			return h.Run(cmd.Context(), event, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
