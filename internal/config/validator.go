package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/orchestkit/ork-coord/internal/errors"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "coordination.lock_ttl")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Is lets callers match any validation failure against errors.ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == errors.ErrInvalidConfig
}

// envVarRegex matches portable environment variable names
var envVarRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// maxLeaseTTL bounds lock and claim leases. A lease longer than a day is
// indistinguishable from a leak.
const maxLeaseTTL = 24 * time.Hour

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateCoordination()...)
	errs = append(errs, c.validateIdentity()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func (c *Config) validateCoordination() []ValidationError {
	var errs []ValidationError
	coord := c.Coordination

	switch {
	case strings.TrimSpace(coord.Dir) == "":
		errs = append(errs, ValidationError{
			Field:   "coordination.dir",
			Value:   coord.Dir,
			Message: "must not be empty",
		})
	case filepath.IsAbs(coord.Dir):
		errs = append(errs, ValidationError{
			Field:   "coordination.dir",
			Value:   coord.Dir,
			Message: "must be relative to the project root",
		})
	case strings.HasPrefix(filepath.Clean(coord.Dir), ".."):
		errs = append(errs, ValidationError{
			Field:   "coordination.dir",
			Value:   coord.Dir,
			Message: "must stay inside the project root",
		})
	}

	if !slices.Contains(ValidBackends(), coord.Backend) {
		errs = append(errs, ValidationError{
			Field:   "coordination.backend",
			Value:   coord.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	if coord.LockTTL <= 0 {
		errs = append(errs, ValidationError{
			Field:   "coordination.lock_ttl",
			Value:   coord.LockTTL,
			Message: "must be positive",
		})
	} else if coord.LockTTL > maxLeaseTTL {
		errs = append(errs, ValidationError{
			Field:   "coordination.lock_ttl",
			Value:   coord.LockTTL,
			Message: fmt.Sprintf("exceeds maximum of %s", maxLeaseTTL),
		})
	}

	if coord.ClaimTTL < 0 {
		errs = append(errs, ValidationError{
			Field:   "coordination.claim_ttl",
			Value:   coord.ClaimTTL,
			Message: "must be non-negative (0 disables expiry)",
		})
	} else if coord.ClaimTTL > maxLeaseTTL {
		errs = append(errs, ValidationError{
			Field:   "coordination.claim_ttl",
			Value:   coord.ClaimTTL,
			Message: fmt.Sprintf("exceeds maximum of %s", maxLeaseTTL),
		})
	}

	const maxLockWait = 30 * time.Second
	if coord.LockWait < 0 || coord.LockWait > maxLockWait {
		errs = append(errs, ValidationError{
			Field:   "coordination.lock_wait",
			Value:   coord.LockWait,
			Message: fmt.Sprintf("must be between 0 and %s", maxLockWait),
		})
	}

	return errs
}

func (c *Config) validateIdentity() []ValidationError {
	var errs []ValidationError

	if c.Identity.OverrideEnv != "" && !envVarRegex.MatchString(c.Identity.OverrideEnv) {
		errs = append(errs, ValidationError{
			Field:   "identity.override_env",
			Value:   c.Identity.OverrideEnv,
			Message: "must be a valid environment variable name",
		})
	}

	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errs
}
