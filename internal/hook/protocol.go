// Package hook adapts coordination to the host assistant's hook protocol.
//
// The host runs one process per hook invocation, writes a JSON description
// of the tool call to stdin and reads a JSON decision from stdout. Anything
// this package cannot understand is allowed: coordination must never block
// the host because of its own failures.
package hook

import (
	"encoding/json"
	"io"
	"slices"
	"strings"

	"github.com/orchestkit/ork-coord/internal/errors"
)

// Host event names.
const (
	EventPreToolUse  = "PreToolUse"
	EventPostToolUse = "PostToolUse"
	EventStop        = "Stop"
)

// Task statuses that drive work claims.
const (
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
)

// editTools modify files and are guarded by file locks.
var editTools = []string{"Write", "Edit", "MultiEdit", "NotebookEdit"}

// taskTools drive work claims.
var taskTools = []string{"TaskUpdate"}

// Input is the JSON the host writes to stdin.
type Input struct {
	SessionID     string          `json:"session_id"`
	Cwd           string          `json:"cwd"`
	HookEventName string          `json:"hook_event_name"`
	ToolName      string          `json:"tool_name"`
	ToolInput     ToolInput       `json:"tool_input"`
	ToolResponse  json.RawMessage `json:"tool_response,omitempty"`
}

// ToolInput holds the tool arguments coordination cares about.
type ToolInput struct {
	FilePath     string `json:"file_path"`
	NotebookPath string `json:"notebook_path"`
	Edits        []Edit `json:"edits"`
	TaskID       string `json:"task_id"`
	TaskIDAlt    string `json:"taskId"`
	Status       string `json:"status"`
}

// Edit is one entry of a MultiEdit call. Only the target path is used.
type Edit struct {
	FilePath string `json:"file_path"`
}

// Paths returns the distinct non-empty file paths the tool call touches.
func (t ToolInput) Paths() []string {
	var paths []string
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p != "" && !slices.Contains(paths, p) {
			paths = append(paths, p)
		}
	}
	add(t.FilePath)
	add(t.NotebookPath)
	for _, e := range t.Edits {
		add(e.FilePath)
	}
	return paths
}

// Task returns the task id, whichever spelling the host used.
func (t ToolInput) Task() string {
	if id := strings.TrimSpace(t.TaskID); id != "" {
		return id
	}
	return strings.TrimSpace(t.TaskIDAlt)
}

// IsEdit reports whether the tool modifies files.
func (in *Input) IsEdit() bool {
	return slices.Contains(editTools, in.ToolName)
}

// IsTask reports whether the tool updates task state.
func (in *Input) IsTask() bool {
	return slices.Contains(taskTools, in.ToolName)
}

// Parse decodes hook input. Empty input is an error.
func Parse(r io.Reader) (*Input, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading hook input")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "empty hook input")
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, errors.Wrap(errors.Join(errors.ErrInvalidInput, err), "decoding hook input")
	}
	return &in, nil
}

// Output is the JSON decision written to stdout.
type Output struct {
	Continue           bool            `json:"continue,omitempty"`
	SuppressOutput     bool            `json:"suppressOutput,omitempty"`
	HookSpecificOutput *SpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// SpecificOutput carries an event-specific decision.
type SpecificOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

// Allow lets the tool call proceed silently. It is also the acknowledgement
// for events that make no decision.
func Allow() Output {
	return Output{Continue: true, SuppressOutput: true}
}

// Deny blocks a PreToolUse call and shows reason to the assistant.
func Deny(reason string) Output {
	return Output{
		HookSpecificOutput: &SpecificOutput{
			HookEventName:            EventPreToolUse,
			PermissionDecision:       "deny",
			PermissionDecisionReason: reason,
		},
	}
}

// Denied reports whether o blocks the tool call.
func (o Output) Denied() bool {
	return o.HookSpecificOutput != nil && o.HookSpecificOutput.PermissionDecision == "deny"
}

// Write encodes o as a single JSON line.
func (o Output) Write(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(o); err != nil {
		return errors.Wrap(err, "writing hook output")
	}
	return nil
}
