package filelock

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/event"
	"github.com/orchestkit/ork-coord/internal/logging"
	"github.com/orchestkit/ork-coord/internal/project"
	"github.com/orchestkit/ork-coord/internal/store"
)

// Manager grants, renews and releases file locks held in a shared store.
// It keeps no state of its own; every decision is made against the store.
type Manager struct {
	store      store.Backend
	root       string
	coordDir   string
	bus        *event.Bus
	logger     *logging.Logger
	now        func() time.Time
	defaultTTL time.Duration
}

// NewManager creates a Manager that normalizes paths against workRoot.
func NewManager(backend store.Backend, workRoot string, opts ...Option) *Manager {
	m := &Manager{
		store:      backend,
		root:       workRoot,
		coordDir:   ".claude/coordination",
		now:        time.Now,
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NopLogger()
	}
	return m
}

// Normalize returns the lock key for path and whether it is lock-managed.
// The reason is set when it is not.
func (m *Manager) Normalize(path string) (key string, reason string) {
	if strings.TrimSpace(path) == "" {
		return "", ReasonEmptyPath
	}
	key, ok := project.Normalize(m.root, path)
	if !ok {
		return "", ReasonOutsideRoot
	}
	if key == m.coordDir || strings.HasPrefix(key, m.coordDir+"/") {
		return "", ReasonCoordDir
	}
	return key, ""
}

// Check returns an error wrapping errors.ErrInvalidPath when path is not
// lock-managed.
func (m *Manager) Check(path string) error {
	if _, reason := m.Normalize(path); reason != "" {
		return errors.Wrapf(errors.ErrInvalidPath, "%s: %s", path, reason)
	}
	return nil
}

// Acquire requests an exclusive lease on path for instanceID. A ttl <= 0
// uses the default lease. See the package documentation for the outcomes.
func (m *Manager) Acquire(ctx context.Context, path, instanceID string, ttl time.Duration) Result {
	key, reason := m.Normalize(path)
	if reason != "" {
		m.logger.Debug("lock skipped", "path", path, "reason", reason)
		return Result{Status: Skipped, Path: path, Reason: reason}
	}
	return m.acquire(ctx, []string{key}, instanceID, ttl)
}

// AcquireMany locks every lock-managed path in paths or none of them. The
// first conflict denies the whole batch. Paths that are not lock-managed are
// ignored; if none remain the result is Skipped.
func (m *Manager) AcquireMany(ctx context.Context, paths []string, instanceID string, ttl time.Duration) Result {
	var keys []string
	for _, p := range paths {
		key, reason := m.Normalize(p)
		if reason != "" {
			m.logger.Debug("lock skipped", "path", p, "reason", reason)
			continue
		}
		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return Result{Status: Skipped, Reason: ReasonNoPaths}
	}
	return m.acquire(ctx, keys, instanceID, ttl)
}

func (m *Manager) acquire(ctx context.Context, keys []string, instanceID string, ttl time.Duration) Result {
	if instanceID == "" {
		return Result{Status: Skipped, Path: keys[0], Reason: ReasonNoIdentity}
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	now := m.now()
	expires := now.Add(ttl)

	var (
		denied  *store.Lock
		renewed []bool
	)
	_, purged, err := m.store.Update(ctx, now, func(s *store.Snapshot) error {
		denied, renewed = nil, make([]bool, len(keys))

		// Check the whole batch before touching anything
		for _, key := range keys {
			if i := s.FindLock(key); i >= 0 && s.Locks[i].InstanceID != instanceID {
				held := s.Locks[i]
				denied = &held
				return store.ErrSkipWrite
			}
		}

		for n, key := range keys {
			if i := s.FindLock(key); i >= 0 {
				s.Locks[i].ExpiresAt = expires
				renewed[n] = true
				continue
			}
			s.Locks = append(s.Locks, store.Lock{
				FilePath:   key,
				InstanceID: instanceID,
				AcquiredAt: now,
				ExpiresAt:  expires,
			})
		}
		return nil
	})
	m.bus.PublishPurged(now, purged)

	if err != nil {
		m.logger.Warn("store unavailable, granting lock without recording it",
			"instance_id", instanceID, "paths", keys, "error", err)
		for _, key := range keys {
			m.bus.Publish(event.NewLockAcquiredEvent(now, instanceID, key, expires, false, true))
		}
		return Result{Status: Granted, Path: keys[0], Paths: keys, ExpiresAt: expires, Degraded: true, Err: err}
	}

	if denied != nil {
		m.logger.Info("lock denied",
			"instance_id", instanceID, "path", denied.FilePath, "holder", denied.InstanceID)
		m.bus.Publish(event.NewLockDeniedEvent(now, instanceID, denied.FilePath, denied.InstanceID))
		return Result{Status: Denied, Path: denied.FilePath, Holder: denied.InstanceID, ExpiresAt: denied.ExpiresAt}
	}

	for n, key := range keys {
		m.logger.Debug("lock granted",
			"instance_id", instanceID, "path", key, "renewed", renewed[n], "expires_at", expires)
		m.bus.Publish(event.NewLockAcquiredEvent(now, instanceID, key, expires, renewed[n], false))
	}
	return Result{
		Status:    Granted,
		Path:      keys[0],
		Paths:     keys,
		ExpiresAt: expires,
		Renewed:   !slices.Contains(renewed, false),
	}
}

// Release removes instanceID's lock on path. Releasing a lock that is not
// held, or held by someone else, does nothing. It reports whether a lock was
// removed.
func (m *Manager) Release(ctx context.Context, path, instanceID string) (bool, error) {
	key, reason := m.Normalize(path)
	if reason != "" || instanceID == "" {
		return false, nil
	}

	now := m.now()
	removed := 0
	_, purged, err := m.store.Update(ctx, now, func(s *store.Snapshot) error {
		removed = s.RemoveLocks(func(l store.Lock) bool {
			return l.FilePath == key && l.InstanceID == instanceID
		})
		if removed == 0 {
			return store.ErrSkipWrite
		}
		return nil
	})
	m.bus.PublishPurged(now, purged)
	if err != nil {
		m.logger.Warn("lock release failed", "instance_id", instanceID, "path", key, "error", err)
		return false, errors.Wrapf(err, "releasing %s", key)
	}

	if removed > 0 {
		m.logger.Debug("lock released", "instance_id", instanceID, "path", key)
		m.bus.Publish(event.NewLockReleasedEvent(now, instanceID, key))
	}
	return removed > 0, nil
}

// ReleaseAll removes every lock held by instanceID and returns the count.
func (m *Manager) ReleaseAll(ctx context.Context, instanceID string) (int, error) {
	if instanceID == "" {
		return 0, nil
	}

	now := m.now()
	var released []string
	_, purged, err := m.store.Update(ctx, now, func(s *store.Snapshot) error {
		released = released[:0]
		s.RemoveLocks(func(l store.Lock) bool {
			if l.InstanceID == instanceID {
				released = append(released, l.FilePath)
				return true
			}
			return false
		})
		if len(released) == 0 {
			return store.ErrSkipWrite
		}
		return nil
	})
	m.bus.PublishPurged(now, purged)
	if err != nil {
		return 0, errors.Wrapf(err, "releasing locks of %s", instanceID)
	}

	slices.Sort(released)
	for _, key := range released {
		m.bus.Publish(event.NewLockReleasedEvent(now, instanceID, key))
	}
	if len(released) > 0 {
		m.logger.Info("released all locks", "instance_id", instanceID, "count", len(released))
	}
	return len(released), nil
}

// Expire sweeps expired entries from the store and returns how many locks
// were removed.
func (m *Manager) Expire(ctx context.Context) (int, error) {
	now := m.now()
	_, purged, err := m.store.Update(ctx, now, func(*store.Snapshot) error {
		return store.ErrSkipWrite
	})
	if err != nil {
		return 0, errors.Wrap(err, "expiring locks")
	}
	m.bus.PublishPurged(now, purged)
	if n := len(purged.Locks); n > 0 {
		m.logger.Info("expired stale locks", "count", n)
	}
	return len(purged.Locks), nil
}

// Owner returns the instance holding a live lock on path.
func (m *Manager) Owner(ctx context.Context, path string) (string, bool) {
	key, reason := m.Normalize(path)
	if reason != "" {
		return "", false
	}
	for _, l := range m.List(ctx) {
		if l.FilePath == key {
			return l.InstanceID, true
		}
	}
	return "", false
}

// List returns all live locks sorted by path.
func (m *Manager) List(ctx context.Context) []store.Lock {
	live, _ := store.PurgeExpired(m.store.Load(ctx), m.now())
	locks := live.Locks
	slices.SortFunc(locks, func(a, b store.Lock) int { return strings.Compare(a.FilePath, b.FilePath) })
	return locks
}

// InstanceFiles returns the paths locked by instanceID, sorted.
func (m *Manager) InstanceFiles(ctx context.Context, instanceID string) []string {
	var files []string
	for _, l := range m.List(ctx) {
		if l.InstanceID == instanceID {
			files = append(files, l.FilePath)
		}
	}
	return files
}
