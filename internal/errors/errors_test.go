package errors

import (
	"os"
	"strings"
	"testing"
)

func TestStoreError(t *testing.T) {
	tests := []struct {
		name    string
		err     *StoreError
		wantMsg []string
	}{
		{
			name:    "op and path",
			err:     NewStoreError("save", "/tmp/locks.json", os.ErrPermission),
			wantMsg: []string{"op=save", "path=/tmp/locks.json", "permission denied"},
		},
		{
			name:    "with backend",
			err:     NewStoreError("update", "", nil).WithBackend("sqlite"),
			wantMsg: []string{"op=update", "backend=sqlite"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, want := range tt.wantMsg {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() = %q, want it to contain %q", msg, want)
				}
			}
		})
	}
}

func TestStoreErrorMatching(t *testing.T) {
	err := Wrap(NewStoreError("load", "x", os.ErrNotExist), "loading snapshot")

	if !Is(err, ErrStoreUnavailable) {
		t.Error("wrapped StoreError should match ErrStoreUnavailable")
	}
	if !Is(err, os.ErrNotExist) {
		t.Error("wrapped StoreError should match its cause")
	}

	var storeErr *StoreError
	if !As(err, &storeErr) {
		t.Fatal("As() should find StoreError in chain")
	}
	if storeErr.Op != "load" {
		t.Errorf("Op = %q, want %q", storeErr.Op, "load")
	}
}

func TestIdentityError(t *testing.T) {
	err := NewIdentityError("cache", "/repo/.instance/id.json", os.ErrNotExist)
	if !strings.Contains(err.Error(), "step=cache") {
		t.Errorf("Error() = %q, want step", err.Error())
	}
	if !Is(err, os.ErrNotExist) {
		t.Error("IdentityError should unwrap to its cause")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"user error", NewUserError(ErrInvalidInput, "check flags"), ExitUser},
		{"system error", NewSystemError(ErrStoreUnavailable, ""), ExitSystem},
		{"invalid config", Wrap(ErrInvalidConfig, "loading"), ExitUser},
		{"plain error", New("boom"), ExitSystem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if !IsRetryable(Wrap(ErrLockTimeout, "update")) {
		t.Error("lock timeout should be retryable")
	}
	if IsRetryable(ErrStoreCorrupted) {
		t.Error("corruption should not be retryable")
	}
}
