package store

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/fsutil"
	"github.com/orchestkit/ork-coord/internal/logging"
)

type jsonBackend struct {
	dir      string
	path     string
	lockPath string
	lockWait time.Duration
	logger   *logging.Logger
}

func newJSONBackend(dir string, o options) *jsonBackend {
	return &jsonBackend{
		dir:      dir,
		path:     filepath.Join(dir, FileJSON),
		lockPath: filepath.Join(dir, FileJSONLock),
		lockWait: o.lockWait,
		logger:   o.logger.With("backend", KindJSON),
	}
}

func (b *jsonBackend) Kind() string { return KindJSON }
func (b *jsonBackend) Path() string { return b.path }
func (b *jsonBackend) Close() error { return nil }

func (b *jsonBackend) Exists() bool {
	info, err := os.Stat(b.path)
	return err == nil && info.Mode().IsRegular()
}

func (b *jsonBackend) Load(_ context.Context) Snapshot {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.logger.Warn("store unreadable, treating as empty", "path", b.path, "error", err)
		}
		return Snapshot{}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return Snapshot{}
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		b.logger.Warn("store corrupted, treating as empty",
			"path", b.path,
			"error", errors.Join(errors.ErrStoreCorrupted, err))
		return Snapshot{}
	}

	s, dropped := sanitize(s)
	if dropped > 0 {
		b.logger.Warn("dropped malformed store entries", "path", b.path, "count", dropped)
	}
	return s
}

func (b *jsonBackend) Save(_ context.Context, s Snapshot) error {
	if err := fsutil.AtomicWriteJSON(b.path, normalize(s), 0o644); err != nil {
		return errors.NewStoreError("save", b.path, err).WithBackend(KindJSON)
	}
	return nil
}

func (b *jsonBackend) Update(ctx context.Context, now time.Time, fn UpdateFunc) (Snapshot, Purged, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return Snapshot{}, Purged{}, errors.NewStoreError("update", b.path, err).WithBackend(KindJSON)
	}

	unlock, err := fsutil.LockFile(ctx, b.lockPath, b.lockWait)
	if err != nil {
		// Fail open: continue unserialized.
		b.logger.Warn("store lock unavailable, updating without it",
			"path", b.lockPath, "wait", b.lockWait.String(), "error", err)
		unlock = func() {}
	}
	defer unlock()

	next, purged, write, err := apply(b.Load(ctx), now, fn)
	if err != nil {
		return next, purged, err
	}
	if write || !b.Exists() {
		if err := b.Save(ctx, next); err != nil {
			return next, purged, err
		}
	}
	return next, purged, nil
}
