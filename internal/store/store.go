// Package store persists locks and work claims shared by every instance
// working on a project.
//
// Two backends exist and a project uses one of them for all instances:
//
//   - json: locks.json, replaced atomically on every write. Read-modify-write
//     cycles are serialized with an advisory flock on locks.json.lock.
//   - sqlite: coordination.db, each update runs in an immediate transaction.
//
// Reads never fail. A missing, empty or unparsable store reads as empty
// state so that a damaged file cannot block editing.
package store

import (
	"context"
	"path/filepath"
	"time"

	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/logging"
)

// Backend kinds.
const (
	KindJSON   = "json"
	KindSQLite = "sqlite"
)

// File names inside the coordination directory.
const (
	FileJSON     = "locks.json"
	FileJSONLock = "locks.json.lock"
	FileSQLite   = "coordination.db"
)

// DefaultLockWait bounds how long Update waits for the advisory lock.
const DefaultLockWait = 2 * time.Second

// ErrSkipWrite may be returned by an UpdateFunc to leave the stored
// entries untouched. Expired entries found on the way are still removed.
var ErrSkipWrite = errors.New("skip write")

// UpdateFunc mutates a snapshot that has already been purged of expired
// entries.
type UpdateFunc func(s *Snapshot) error

// Backend is a coordination store.
type Backend interface {
	// Load returns the stored state. It never fails: a missing or damaged
	// store reads as empty.
	Load(ctx context.Context) Snapshot

	// Save replaces the stored state atomically.
	Save(ctx context.Context, s Snapshot) error

	// Update loads the state, purges entries expired at now, applies fn and
	// saves the result as one serialized step. It returns the saved state
	// and the entries the purge removed. An error from fn other than
	// ErrSkipWrite aborts the update and is returned unchanged.
	Update(ctx context.Context, now time.Time, fn UpdateFunc) (Snapshot, Purged, error)

	// Exists reports whether the store has been created.
	Exists() bool

	// Path returns the store file.
	Path() string

	// Kind returns the backend kind.
	Kind() string

	// Close releases backend resources.
	Close() error
}

type options struct {
	logger   *logging.Logger
	lockWait time.Duration
}

// Option configures a backend.
type Option func(*options)

// WithLogger sets the logger for damaged-store warnings and lock fallbacks.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLockWait bounds how long an update waits for exclusive access before
// continuing without it.
func WithLockWait(d time.Duration) Option {
	return func(o *options) { o.lockWait = d }
}

// Open returns the backend of the given kind rooted at dir. An empty kind
// selects the JSON backend. Nothing is created on disk until the first write.
func Open(dir, kind string, opts ...Option) (Backend, error) {
	o := options{lockWait: DefaultLockWait}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}

	switch kind {
	case "", KindJSON:
		return newJSONBackend(dir, o), nil
	case KindSQLite:
		return newSQLiteBackend(filepath.Join(dir, FileSQLite), o), nil
	default:
		return nil, errors.Wrapf(errors.ErrUnknownBackend, "%q", kind)
	}
}

// apply runs the shared purge-then-mutate step of Update. write reports
// whether the result differs from what was loaded.
func apply(loaded Snapshot, now time.Time, fn UpdateFunc) (next Snapshot, purged Purged, write bool, err error) {
	next, purged = PurgeExpired(loaded, now)
	write = purged.Total() > 0

	if fn == nil {
		return next, purged, write, nil
	}

	working := next.Clone()
	switch err := fn(&working); {
	case err == nil:
		return working, purged, true, nil
	case errors.Is(err, ErrSkipWrite):
		return next, purged, write, nil
	default:
		return loaded, Purged{}, false, err
	}
}
