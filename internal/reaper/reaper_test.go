package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestkit/ork-coord/internal/event"
	"github.com/orchestkit/ork-coord/internal/store"
)

var t0 = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s store.Snapshot) store.Backend {
	t.Helper()
	backend, err := store.Open(t.TempDir(), store.KindJSON)
	require.NoError(t, err)
	require.NoError(t, backend.Save(context.Background(), s))
	return backend
}

type staticLookup struct {
	id string
	ok bool
}

func (s staticLookup) Lookup() (string, bool) { return s.id, s.ok }

// A session ends holding two locks and a claim; another instance keeps its lock.
func TestReap_RemovesOnlyOwnedEntries(t *testing.T) {
	backend := seed(t, store.Snapshot{
		Locks: []store.Lock{
			{FilePath: "x", InstanceID: "A", AcquiredAt: t0, ExpiresAt: t0.Add(time.Hour)},
			{FilePath: "y", InstanceID: "A", AcquiredAt: t0, ExpiresAt: t0.Add(time.Hour)},
			{FilePath: "z", InstanceID: "B", AcquiredAt: t0, ExpiresAt: t0.Add(time.Hour)},
		},
		Claims: []store.WorkClaim{
			{TaskID: "T1", InstanceID: "A", ClaimedAt: t0},
		},
	})

	bus := event.NewBus(nil)
	var reaped []event.InstanceReapedEvent
	bus.Subscribe(event.TypeInstanceReaped, func(e event.Event) {
		reaped = append(reaped, e.(event.InstanceReapedEvent))
	})

	r := New(backend, WithBus(bus), WithClock(func() time.Time { return t0.Add(time.Minute) }))
	rep := r.Reap(context.Background(), "A")

	require.NoError(t, rep.Err)
	assert.Empty(t, rep.Skipped)
	assert.Equal(t, 2, rep.Locks)
	assert.Equal(t, 1, rep.Claims)
	assert.Equal(t, 3, rep.Removed())

	s := backend.Load(context.Background())
	require.Len(t, s.Locks, 1)
	assert.Equal(t, "z", s.Locks[0].FilePath)
	assert.Empty(t, s.Claims)

	require.Len(t, reaped, 1)
	assert.Equal(t, "A", reaped[0].InstanceID)
}

func TestReap_PurgesExpiredInSamePass(t *testing.T) {
	backend := seed(t, store.Snapshot{
		Locks: []store.Lock{
			{FilePath: "stale", InstanceID: "C", AcquiredAt: t0, ExpiresAt: t0.Add(time.Minute)},
			{FilePath: "live", InstanceID: "B", AcquiredAt: t0, ExpiresAt: t0.Add(time.Hour)},
		},
		Claims: []store.WorkClaim{
			{TaskID: "old", InstanceID: "C", ClaimedAt: t0, ExpiresAt: t0.Add(time.Minute)},
		},
	})

	rep := New(backend, WithClock(func() time.Time { return t0.Add(10 * time.Minute) })).
		Reap(context.Background(), "A")

	assert.Equal(t, 0, rep.Removed())
	assert.Equal(t, 1, rep.ExpiredLocks)
	assert.Equal(t, 1, rep.ExpiredClaims)

	s := backend.Load(context.Background())
	require.Len(t, s.Locks, 1)
	assert.Equal(t, "live", s.Locks[0].FilePath)
	assert.Empty(t, s.Claims)
}

func TestReap_Skips(t *testing.T) {
	missing, err := store.Open(t.TempDir(), store.KindJSON)
	require.NoError(t, err)

	rep := New(missing).Reap(context.Background(), "A")
	assert.Equal(t, SkipDisabled, rep.Skipped)
	assert.False(t, missing.Exists(), "reap must not create the store")

	present := seed(t, store.Snapshot{})
	rep = New(present).Reap(context.Background(), "")
	assert.Equal(t, SkipNoIdentity, rep.Skipped)
}

func TestReapIdentity(t *testing.T) {
	backend := seed(t, store.Snapshot{
		Locks: []store.Lock{{FilePath: "x", InstanceID: "A", AcquiredAt: t0, ExpiresAt: t0.Add(time.Hour)}},
	})
	r := New(backend, WithClock(func() time.Time { return t0 }))

	rep := r.ReapIdentity(context.Background(), staticLookup{})
	assert.Equal(t, SkipNoIdentity, rep.Skipped)
	assert.Len(t, backend.Load(context.Background()).Locks, 1)

	rep = r.ReapIdentity(context.Background(), staticLookup{id: "A", ok: true})
	assert.Equal(t, 1, rep.Locks)
	assert.Empty(t, backend.Load(context.Background()).Locks)
}

type failingStore struct{ store.Backend }

func (failingStore) Exists() bool { return true }
func (failingStore) Update(context.Context, time.Time, store.UpdateFunc) (store.Snapshot, store.Purged, error) {
	return store.Snapshot{}, store.Purged{}, errors.New("permission denied")
}

func TestReap_FailureIsSwallowed(t *testing.T) {
	rep := New(failingStore{}).Reap(context.Background(), "A")

	assert.Error(t, rep.Err)
	assert.Equal(t, 0, rep.Removed())
}
