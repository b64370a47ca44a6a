// Package workclaim tracks which instance is working on which task.
//
// Claims share the lock store and the lease model of package filelock but
// are keyed by opaque task ids instead of paths. A claim made with no TTL
// lasts until it is released or its instance is reaped.
package workclaim

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/event"
	"github.com/orchestkit/ork-coord/internal/logging"
	"github.com/orchestkit/ork-coord/internal/store"
)

// Status is the outcome of a claim request.
type Status int

const (
	// Claimed means the caller owns the task.
	Claimed Status = iota
	// Denied means another instance owns the task.
	Denied
	// Skipped means the request carried no task id or identity.
	Skipped
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case Denied:
		return "denied"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result describes the outcome of Claim.
type Result struct {
	Status    Status
	TaskID    string
	Holder    string    // owner of a conflicting claim
	ExpiresAt time.Time // zero when the claim never expires
	Renewed   bool
	Degraded  bool  // claimed without a working store
	Err       error // store error behind a degraded claim
}

// Tracker records work claims in a shared store.
type Tracker struct {
	store  store.Backend
	bus    *event.Bus
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBus publishes claim events on bus.
func WithBus(bus *event.Bus) Option {
	return func(t *Tracker) { t.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a Tracker on backend.
func NewTracker(backend store.Backend, opts ...Option) *Tracker {
	t := &Tracker{store: backend, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.NopLogger()
	}
	return t
}

// Claim records instanceID as the owner of taskID. A ttl <= 0 makes the
// claim permanent. Claiming a task the caller already owns renews it.
func (t *Tracker) Claim(ctx context.Context, taskID, instanceID string, ttl time.Duration) Result {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" || instanceID == "" {
		return Result{Status: Skipped, TaskID: taskID}
	}

	now := t.now()
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}

	var (
		held    *store.WorkClaim
		renewed bool
	)
	_, purged, err := t.store.Update(ctx, now, func(s *store.Snapshot) error {
		held, renewed = nil, false
		i := s.FindClaim(taskID)
		switch {
		case i < 0:
			s.Claims = append(s.Claims, store.WorkClaim{
				TaskID:     taskID,
				InstanceID: instanceID,
				ClaimedAt:  now,
				ExpiresAt:  expires,
			})
		case s.Claims[i].InstanceID == instanceID:
			s.Claims[i].ExpiresAt = expires
			renewed = true
		default:
			c := s.Claims[i]
			held = &c
			return store.ErrSkipWrite
		}
		return nil
	})
	t.bus.PublishPurged(now, purged)

	if err != nil {
		t.logger.Warn("store unavailable, claiming without recording it",
			"instance_id", instanceID, "task_id", taskID, "error", err)
		return Result{Status: Claimed, TaskID: taskID, ExpiresAt: expires, Degraded: true, Err: err}
	}

	if held != nil {
		t.logger.Info("claim denied", "instance_id", instanceID, "task_id", taskID, "holder", held.InstanceID)
		t.bus.Publish(event.NewClaimDeniedEvent(now, instanceID, taskID, held.InstanceID))
		return Result{Status: Denied, TaskID: taskID, Holder: held.InstanceID, ExpiresAt: held.ExpiresAt}
	}

	t.logger.Debug("task claimed", "instance_id", instanceID, "task_id", taskID, "renewed", renewed)
	t.bus.Publish(event.NewClaimClaimedEvent(now, instanceID, taskID, renewed))
	return Result{Status: Claimed, TaskID: taskID, ExpiresAt: expires, Renewed: renewed}
}

// Release drops instanceID's claim on taskID. It is a no-op for tasks the
// caller does not own and reports whether a claim was removed.
func (t *Tracker) Release(ctx context.Context, taskID, instanceID string) (bool, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" || instanceID == "" {
		return false, nil
	}

	now := t.now()
	removed := 0
	_, purged, err := t.store.Update(ctx, now, func(s *store.Snapshot) error {
		removed = s.RemoveClaims(func(c store.WorkClaim) bool {
			return c.TaskID == taskID && c.InstanceID == instanceID
		})
		if removed == 0 {
			return store.ErrSkipWrite
		}
		return nil
	})
	t.bus.PublishPurged(now, purged)
	if err != nil {
		t.logger.Warn("claim release failed", "instance_id", instanceID, "task_id", taskID, "error", err)
		return false, errors.Wrapf(err, "releasing task %s", taskID)
	}

	if removed > 0 {
		t.bus.Publish(event.NewClaimReleasedEvent(now, instanceID, taskID))
	}
	return removed > 0, nil
}

// ReleaseAll drops every claim owned by instanceID and returns the count.
func (t *Tracker) ReleaseAll(ctx context.Context, instanceID string) (int, error) {
	if instanceID == "" {
		return 0, nil
	}

	now := t.now()
	var released []string
	_, purged, err := t.store.Update(ctx, now, func(s *store.Snapshot) error {
		released = released[:0]
		s.RemoveClaims(func(c store.WorkClaim) bool {
			if c.InstanceID == instanceID {
				released = append(released, c.TaskID)
				return true
			}
			return false
		})
		if len(released) == 0 {
			return store.ErrSkipWrite
		}
		return nil
	})
	t.bus.PublishPurged(now, purged)
	if err != nil {
		return 0, errors.Wrapf(err, "releasing claims of %s", instanceID)
	}

	slices.Sort(released)
	for _, id := range released {
		t.bus.Publish(event.NewClaimReleasedEvent(now, instanceID, id))
	}
	return len(released), nil
}

// Expire sweeps expired entries from the store and returns how many claims
// were removed.
func (t *Tracker) Expire(ctx context.Context) (int, error) {
	now := t.now()
	_, purged, err := t.store.Update(ctx, now, func(*store.Snapshot) error {
		return store.ErrSkipWrite
	})
	if err != nil {
		return 0, errors.Wrap(err, "expiring claims")
	}
	t.bus.PublishPurged(now, purged)
	return len(purged.Claims), nil
}

// Owner returns the instance holding a live claim on taskID.
func (t *Tracker) Owner(ctx context.Context, taskID string) (string, bool) {
	taskID = strings.TrimSpace(taskID)
	for _, c := range t.List(ctx) {
		if c.TaskID == taskID {
			return c.InstanceID, true
		}
	}
	return "", false
}

// List returns all live claims sorted by task id.
func (t *Tracker) List(ctx context.Context) []store.WorkClaim {
	live, _ := store.PurgeExpired(t.store.Load(ctx), t.now())
	claims := live.Claims
	slices.SortFunc(claims, func(a, b store.WorkClaim) int { return strings.Compare(a.TaskID, b.TaskID) })
	return claims
}

// InstanceTasks returns the task ids claimed by instanceID, sorted.
func (t *Tracker) InstanceTasks(ctx context.Context, instanceID string) []string {
	var tasks []string
	for _, c := range t.List(ctx) {
		if c.InstanceID == instanceID {
			tasks = append(tasks, c.TaskID)
		}
	}
	return tasks
}
