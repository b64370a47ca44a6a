package errors

import (
	"fmt"
	"strings"

	crdb "github.com/cockroachdb/errors"
)

// Re-export the cockroachdb/errors helpers for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is    = crdb.Is
	As    = crdb.As
	New   = crdb.New
	Newf  = crdb.Newf
	Wrap  = crdb.Wrap
	Wrapf = crdb.Wrapf
	Join  = crdb.Join
)

// Exit codes for CLI applications.
const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess = 0

	// ExitUser indicates a user-related error (invalid input, configuration, etc.).
	ExitUser = 1

	// ExitSystem indicates a system-related error (I/O, permissions, etc.).
	ExitSystem = 2
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Store-related sentinel errors
var (
	// ErrStoreUnavailable indicates the store could not be read or written.
	ErrStoreUnavailable = New("coordination store unavailable")
	// ErrStoreCorrupted indicates the store content could not be parsed.
	ErrStoreCorrupted = New("coordination store corrupted")
	// ErrUnknownBackend indicates an unsupported store backend name.
	ErrUnknownBackend = New("unknown store backend")
	// ErrLockTimeout indicates an advisory file lock could not be obtained in time.
	ErrLockTimeout = New("timed out waiting for file lock")
)

// Coordination sentinel errors
var (
	// ErrLockHeld indicates a live lock is owned by another instance.
	ErrLockHeld = New("lock held by another instance")
	// ErrClaimHeld indicates a task is claimed by another instance.
	ErrClaimHeld = New("task claimed by another instance")
	// ErrNoIdentity indicates no instance identity could be resolved.
	ErrNoIdentity = New("no instance identity")
	// ErrInvalidPath indicates a path that cannot be lock-managed.
	ErrInvalidPath = New("path is not lock-managed")
	// ErrNotEnabled indicates coordination has not been initialized for the project.
	ErrNotEnabled = New("coordination not enabled for project")
)

// General sentinel errors
var (
	// ErrInvalidConfig indicates configuration validation failed.
	ErrInvalidConfig = New("invalid configuration")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// StoreError represents a failure of a store operation.
//
// Example:
//
//	err := errors.NewStoreError("save", "/repo/.claude/coordination/locks.json", cause)
//	fmt.Println(err) // "store error [op=save, path=...]: write failed: <cause>"
type StoreError struct {
	Op      string
	Path    string
	Backend string
	cause   error
}

// NewStoreError creates a new StoreError for the given operation and path.
func NewStoreError(op, path string, cause error) *StoreError {
	return &StoreError{Op: op, Path: path, cause: cause}
}

// WithBackend records which backend produced the error.
func (e *StoreError) WithBackend(backend string) *StoreError {
	e.Backend = backend
	return e
}

// Error returns the formatted error message.
func (e *StoreError) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Backend != "" {
		parts = append(parts, "backend="+e.Backend)
	}
	if e.Path != "" {
		parts = append(parts, "path="+e.Path)
	}

	prefix := "store error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("store error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.cause
}

// Is reports ErrStoreUnavailable for every StoreError so callers can test the
// category without unpacking the type.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// IdentityError represents a failure while resolving or caching an identity.
type IdentityError struct {
	Step  string // "parse", "write"
	Path  string
	cause error
}

// NewIdentityError creates a new IdentityError.
func NewIdentityError(step, path string, cause error) *IdentityError {
	return &IdentityError{Step: step, Path: path, cause: cause}
}

// Error returns the formatted error message.
func (e *IdentityError) Error() string {
	msg := fmt.Sprintf("identity error [step=%s]", e.Step)
	if e.Path != "" {
		msg = fmt.Sprintf("identity error [step=%s, path=%s]", e.Step, e.Path)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *IdentityError) Unwrap() error {
	return e.cause
}

// -----------------------------------------------------------------------------
// CLI Errors
// -----------------------------------------------------------------------------

// ExitError wraps an error with an exit code and optional suggestion for CLI applications.
type ExitError struct {
	// Err is the underlying error that caused the exit.
	Err error

	// Code is the exit code to return to the operating system.
	Code int

	// Suggestion is an optional actionable suggestion for the user.
	Suggestion string
}

// NewUserError creates an ExitError with ExitUser code and a suggestion.
func NewUserError(err error, suggestion string) *ExitError {
	return &ExitError{Err: err, Code: ExitUser, Suggestion: suggestion}
}

// NewSystemError creates an ExitError with ExitSystem code and a suggestion.
func NewSystemError(err error, suggestion string) *ExitError {
	return &ExitError{Err: err, Code: ExitSystem, Suggestion: suggestion}
}

// Error returns the error message from the underlying error.
func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error is transient: a caller-side retry of the
// same operation may succeed. The core itself never retries.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrLockTimeout) || Is(err, ErrLockHeld) || Is(err, ErrClaimHeld)
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if As(err, &exitErr) {
		return exitErr.Code
	}
	if Is(err, ErrInvalidConfig) || Is(err, ErrInvalidInput) {
		return ExitUser
	}
	return ExitSystem
}
