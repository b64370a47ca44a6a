package filelock

import (
	"path"
	"path/filepath"
	"time"

	"github.com/orchestkit/ork-coord/internal/event"
	"github.com/orchestkit/ork-coord/internal/logging"
)

// DefaultTTL is the lease length used when a caller passes no TTL.
const DefaultTTL = 30 * time.Minute

// Status is the outcome of a lock request.
type Status int

const (
	// Granted means the caller holds the lock.
	Granted Status = iota
	// Denied means another instance holds a live lock.
	Denied
	// Skipped means the path is not lock-managed.
	Skipped
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Skip reasons.
const (
	ReasonEmptyPath   = "empty path"
	ReasonOutsideRoot = "outside work root"
	ReasonCoordDir    = "coordination file"
	ReasonNoIdentity  = "no instance identity"
	ReasonNoPaths     = "no lock-managed paths"
)

// Result describes the outcome of Acquire or AcquireMany.
type Result struct {
	Status Status
	// Path is the normalized lock key. For a denied batch it is the first
	// conflicting path; for a skipped request it is the input.
	Path string
	// Paths lists every lock key covered by a granted batch.
	Paths []string
	// Holder is the instance holding the conflicting lock.
	Holder string
	// ExpiresAt is the lease end of the granted lock or of the holder's lock.
	ExpiresAt time.Time
	// Renewed is set when the caller already held the lock.
	Renewed bool
	// Degraded is set when the lock was granted without a working store.
	Degraded bool
	// Err is the store error behind a degraded grant.
	Err error
	// Reason explains a Skipped result.
	Reason string
}

// Allowed reports whether the caller may proceed with the edit.
func (r Result) Allowed() bool {
	return r.Status != Denied
}

// Option configures a Manager.
type Option func(*Manager)

// WithBus publishes lock events on bus.
func WithBus(bus *event.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithLogger sets the logger for decisions and store failures.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithDefaultTTL sets the lease used when Acquire is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.defaultTTL = ttl }
}

// WithCoordinationDir excludes dir (relative to the work root) from locking.
func WithCoordinationDir(dir string) Option {
	return func(m *Manager) { m.coordDir = path.Clean(filepath.ToSlash(dir)) }
}
