// Package reaper releases everything an instance holds when its session
// ends, so a clean shutdown does not have to wait for leases to run out.
package reaper

import (
	"context"
	"time"

	"github.com/orchestkit/ork-coord/internal/event"
	"github.com/orchestkit/ork-coord/internal/logging"
	"github.com/orchestkit/ork-coord/internal/store"
)

// Skip reasons reported when Reap does nothing.
const (
	SkipDisabled   = "coordination disabled"
	SkipNoIdentity = "no identity"
)

// IdentityLookup returns an instance id without generating one.
// *identity.Resolver satisfies it.
type IdentityLookup interface {
	Lookup() (string, bool)
}

// Report summarizes one reap.
type Report struct {
	InstanceID string
	// Skipped is set when nothing was attempted.
	Skipped string
	// Locks and Claims count entries removed because the instance owned them.
	Locks  int
	Claims int
	// ExpiredLocks and ExpiredClaims count stale entries of any owner purged
	// in the same pass.
	ExpiredLocks  int
	ExpiredClaims int
	// Err is the swallowed store failure, if any.
	Err error
}

// Removed returns the number of entries removed for the instance.
func (r Report) Removed() int {
	return r.Locks + r.Claims
}

// Reaper performs session-end cleanup.
type Reaper struct {
	store  store.Backend
	bus    *event.Bus
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithBus publishes reap and expiry events on bus.
func WithBus(bus *event.Bus) Option {
	return func(r *Reaper) { r.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reaper) { r.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

// New creates a Reaper on backend.
func New(backend store.Backend, opts ...Option) *Reaper {
	r := &Reaper{store: backend, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.NopLogger()
	}
	return r
}

// Reap removes every lock and claim owned by instanceID and purges expired
// entries in a single store update. Entries of other instances are left
// alone. Failures are logged and reported, never returned: session end must
// always succeed.
func (r *Reaper) Reap(ctx context.Context, instanceID string) Report {
	rep := Report{InstanceID: instanceID}

	if !r.store.Exists() {
		rep.Skipped = SkipDisabled
		r.logger.Debug("reap skipped", "reason", rep.Skipped)
		return rep
	}
	if instanceID == "" {
		rep.Skipped = SkipNoIdentity
		r.logger.Debug("reap skipped", "reason", rep.Skipped)
		return rep
	}

	now := r.now()
	_, purged, err := r.store.Update(ctx, now, func(s *store.Snapshot) error {
		rep.Locks = s.RemoveLocks(func(l store.Lock) bool { return l.InstanceID == instanceID })
		rep.Claims = s.RemoveClaims(func(c store.WorkClaim) bool { return c.InstanceID == instanceID })
		if rep.Removed() == 0 {
			return store.ErrSkipWrite
		}
		return nil
	})
	if err != nil {
		rep.Locks, rep.Claims = 0, 0
		rep.Err = err
		r.logger.Warn("reap failed", "instance_id", instanceID, "error", err)
		return rep
	}

	rep.ExpiredLocks = len(purged.Locks)
	rep.ExpiredClaims = len(purged.Claims)
	r.bus.PublishPurged(now, purged)
	r.bus.Publish(event.NewInstanceReapedEvent(now, instanceID, rep.Locks, rep.Claims, purged.Total()))

	r.logger.Info("instance reaped",
		"instance_id", instanceID,
		"locks", rep.Locks,
		"claims", rep.Claims,
		"expired", purged.Total())
	return rep
}

// ReapIdentity reaps the instance known to ids. An instance that never
// resolved an identity has nothing to reap.
func (r *Reaper) ReapIdentity(ctx context.Context, ids IdentityLookup) Report {
	id, ok := ids.Lookup()
	if !ok {
		id = ""
	}
	return r.Reap(ctx, id)
}
