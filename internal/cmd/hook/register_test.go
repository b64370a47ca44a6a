package hook

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/orchestkit/ork-coord/internal/hook"
)

func runHook(t *testing.T, open hook.Opener, event, stdin string) (stdout, stderr string) {
	t.Helper()

	root := &cobra.Command{Use: "ork-coord"}
	Register(root, open)

	var out, errOut bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"hook", event})
	if err := root.Execute(); err != nil {
		t.Fatalf("hook %s: %v", event, err)
	}
	return out.String(), errOut.String()
}

func TestRegister_Subcommands(t *testing.T) {
	root := &cobra.Command{Use: "ork-coord"}
	Register(root, nil)

	for _, name := range []string{"pretool", "posttool", "stop"} {
		if _, _, err := root.Find([]string{"hook", name}); err != nil {
			t.Errorf("hook %s not registered: %v", name, err)
		}
	}
}

func TestHookFailuresAreLogged(t *testing.T) {
	failing := func(*hook.Input) (hook.Coordinator, error) {
		return nil, errors.New("permission denied")
	}

	tests := []struct {
		name    string
		event   string
		stdin   string
		wantLog string
	}{
		{name: "unparsable input", event: "pretool", stdin: "{not json", wantLog: "unparsable hook input"},
		{name: "store unavailable on stop", event: "stop", stdin: `{"session_id":"s-1"}`, wantLog: "permission denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr := runHook(t, failing, tt.event, tt.stdin)

			var out hook.Output
			if err := json.Unmarshal([]byte(stdout), &out); err != nil {
				t.Fatalf("stdout %q is not a hook decision: %v", stdout, err)
			}
			if out.Denied() || !out.Continue {
				t.Errorf("decision = %s, want allow", stdout)
			}
			if !strings.Contains(stderr, tt.wantLog) {
				t.Errorf("stderr = %q, want it to mention %q", stderr, tt.wantLog)
			}
		})
	}
}
