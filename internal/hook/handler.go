package hook

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/orchestkit/ork-coord/internal/filelock"
	"github.com/orchestkit/ork-coord/internal/logging"
	"github.com/orchestkit/ork-coord/internal/reaper"
	"github.com/orchestkit/ork-coord/internal/workclaim"
)

// Coordinator is the part of coordination.Coordinator the hooks use.
type Coordinator interface {
	AcquireMany(ctx context.Context, paths []string, ttl time.Duration) filelock.Result
	Release(ctx context.Context, path string) (bool, error)
	Claim(ctx context.Context, taskID string, ttl time.Duration) workclaim.Result
	ReleaseClaim(ctx context.Context, taskID string) (bool, error)
	Reap(ctx context.Context) reaper.Report
}

// Opener builds a Coordinator for the project and session named in the
// hook input. A returned io.Closer is closed after the hook completes.
type Opener func(in *Input) (Coordinator, error)

// Handler answers hook invocations.
type Handler struct {
	open   Opener
	logger *logging.Logger
}

// NewHandler creates a Handler. A nil logger discards output.
func NewHandler(open Opener, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Handler{open: open, logger: logger}
}

// Run reads one invocation of event from stdin and writes the decision to
// stdout. Only a failure to write stdout is returned.
func (h *Handler) Run(ctx context.Context, event string, stdin io.Reader, stdout io.Writer) error {
	return h.Handle(ctx, event, stdin).Write(stdout)
}

// Handle reads one invocation of event and returns the decision.
func (h *Handler) Handle(ctx context.Context, event string, stdin io.Reader) Output {
	in, err := Parse(stdin)
	if err != nil {
		h.logger.Warn("unparsable hook input, allowing", "event", event, "error", err)
		return Allow()
	}
	if in.HookEventName != "" && in.HookEventName != event {
		h.logger.Debug("hook event mismatch", "want", event, "got", in.HookEventName)
	}
	if !h.relevant(event, in) {
		return Allow()
	}

	coord, err := h.open(in)
	if err != nil {
		h.logger.Warn("coordination unavailable, allowing", "event", event, "cwd", in.Cwd, "error", err)
		return Allow()
	}
	if c, ok := coord.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	switch event {
	case EventPreToolUse:
		return h.preToolUse(ctx, coord, in)
	case EventPostToolUse:
		h.postToolUse(ctx, coord, in)
	case EventStop:
		h.stop(ctx, coord)
	}
	return Allow()
}

// relevant reports whether event and in need the store at all, so unrelated
// tool calls never touch the project.
func (h *Handler) relevant(event string, in *Input) bool {
	switch event {
	case EventPreToolUse:
		if in.IsEdit() {
			return len(in.ToolInput.Paths()) > 0
		}
		return in.IsTask() && in.ToolInput.Status == TaskInProgress && in.ToolInput.Task() != ""
	case EventPostToolUse:
		if in.IsEdit() {
			return len(in.ToolInput.Paths()) > 0
		}
		return in.IsTask() && in.ToolInput.Status == TaskCompleted && in.ToolInput.Task() != ""
	case EventStop:
		return true
	default:
		h.logger.Warn("unknown hook event", "event", event)
		return false
	}
}

func (h *Handler) preToolUse(ctx context.Context, coord Coordinator, in *Input) Output {
	if in.IsTask() {
		res := coord.Claim(ctx, in.ToolInput.Task(), 0)
		if res.Status == workclaim.Denied {
			return Deny(ClaimDeniedReason(res))
		}
		return Allow()
	}

	res := coord.AcquireMany(ctx, in.ToolInput.Paths(), 0)
	if res.Status == filelock.Denied {
		return Deny(LockDeniedReason(res))
	}
	if res.Degraded {
		h.logger.Warn("edit allowed without coordination", "tool", in.ToolName, "error", res.Err)
	}
	return Allow()
}

func (h *Handler) postToolUse(ctx context.Context, coord Coordinator, in *Input) {
	if in.IsTask() {
		if _, err := coord.ReleaseClaim(ctx, in.ToolInput.Task()); err != nil {
			h.logger.Warn("claim release failed", "task_id", in.ToolInput.Task(), "error", err)
		}
		return
	}
	for _, p := range in.ToolInput.Paths() {
		if _, err := coord.Release(ctx, p); err != nil {
			h.logger.Warn("lock release failed", "path", p, "error", err)
		}
	}
}

func (h *Handler) stop(ctx context.Context, coord Coordinator) {
	rep := coord.Reap(ctx)
	if rep.Err != nil {
		h.logger.Warn("session cleanup incomplete", "error", rep.Err)
	}
}

// LockDeniedReason is the message shown to the assistant when an edit is
// blocked by another instance's lock.
func LockDeniedReason(res filelock.Result) string {
	msg := fmt.Sprintf("File %s is locked by instance %s", res.Path, res.Holder)
	if !res.ExpiresAt.IsZero() {
		msg += fmt.Sprintf(" until %s", res.ExpiresAt.UTC().Format(time.TimeOnly)+" UTC")
	}
	return msg + ". Another instance is editing it; work on something else or retry after it finishes."
}

// ClaimDeniedReason is the message shown when a task is already claimed.
func ClaimDeniedReason(res workclaim.Result) string {
	return fmt.Sprintf("Task %s is already claimed by instance %s. Pick another task.", res.TaskID, res.Holder)
}
