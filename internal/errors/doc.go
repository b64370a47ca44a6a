// Package errors provides centralized error definitions for ork-coord.
//
// It re-exports the wrapping helpers of github.com/cockroachdb/errors so callers
// import a single package, and defines the sentinel errors, domain error types
// and CLI exit handling used across the coordination core.
//
// # Error Types
//
// Domain-specific errors:
//   - StoreError: a load/save/update failure on the persisted lock store
//   - IdentityError: a failure while resolving or caching an instance identity
//
// CLI errors:
//   - ExitError: an error carrying a process exit code and an optional suggestion
//
// # Usage
//
//	err := errors.NewStoreError("save", path, cause)
//	if errors.Is(err, errors.ErrStoreUnavailable) { ... }
//
//	var storeErr *errors.StoreError
//	if errors.As(err, &storeErr) { ... }
//
// # Failure Policy
//
// None of these errors is fatal to the host session. The coordination core
// recovers persistence failures locally and degrades to a safe default; the
// types here exist so that the degradation can be logged with enough context
// and so tests can assert on it.
package errors
