package filelock

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	coorderrors "github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/event"
	"github.com/orchestkit/ork-coord/internal/store"
	"github.com/orchestkit/ork-coord/internal/testutil"
)

var t0 = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	mgr    *Manager
	bus    *event.Bus
	clock  *testutil.Clock
	root   string
	store  store.Backend
	events []event.Event
}

func newTestManager(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	backend, err := store.Open(filepath.Join(root, ".claude", "coordination"), store.KindJSON)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	env := &testEnv{
		bus:   event.NewBus(nil),
		clock: testutil.NewClock(t0),
		root:  root,
		store: backend,
	}
	env.bus.SubscribeAll(func(e event.Event) { env.events = append(env.events, e) })
	env.mgr = NewManager(backend, root,
		WithBus(env.bus),
		WithClock(env.clock.Now),
		WithCoordinationDir(filepath.Join(".claude", "coordination")),
	)
	return env
}

func (e *testEnv) eventTypes() []string {
	var types []string
	for _, ev := range e.events {
		types = append(types, ev.EventType())
	}
	return types
}

func TestAcquire(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(e *testEnv)
		path       string
		instanceID string
		wantStatus Status
		wantHolder string
		wantReason string
	}{
		{
			name:       "unlocked file",
			path:       "pkg/foo.go",
			instanceID: "inst-a",
			wantStatus: Granted,
		},
		{
			name: "re-entrant acquire",
			setup: func(e *testEnv) {
				e.mgr.Acquire(context.Background(), "pkg/foo.go", "inst-a", time.Minute)
			},
			path:       "pkg/foo.go",
			instanceID: "inst-a",
			wantStatus: Granted,
		},
		{
			name: "held by another instance",
			setup: func(e *testEnv) {
				e.mgr.Acquire(context.Background(), "pkg/foo.go", "inst-a", time.Minute)
			},
			path:       "pkg/foo.go",
			instanceID: "inst-b",
			wantStatus: Denied,
			wantHolder: "inst-a",
		},
		{
			name: "absolute and relative forms are the same lock",
			setup: func(e *testEnv) {
				e.mgr.Acquire(context.Background(), filepath.Join(e.root, "pkg", "foo.go"), "inst-a", time.Minute)
			},
			path:       "pkg/./foo.go",
			instanceID: "inst-b",
			wantStatus: Denied,
			wantHolder: "inst-a",
		},
		{
			name: "expired lock is taken over",
			setup: func(e *testEnv) {
				e.mgr.Acquire(context.Background(), "pkg/foo.go", "inst-a", time.Minute)
				e.clock.Advance(time.Minute)
			},
			path:       "pkg/foo.go",
			instanceID: "inst-b",
			wantStatus: Granted,
		},
		{
			name:       "empty path",
			path:       "  ",
			instanceID: "inst-a",
			wantStatus: Skipped,
			wantReason: ReasonEmptyPath,
		},
		{
			name:       "outside work root",
			path:       "../elsewhere/main.go",
			instanceID: "inst-a",
			wantStatus: Skipped,
			wantReason: ReasonOutsideRoot,
		},
		{
			name:       "coordination store itself",
			path:       ".claude/coordination/locks.json",
			instanceID: "inst-a",
			wantStatus: Skipped,
			wantReason: ReasonCoordDir,
		},
		{
			name:       "no identity",
			path:       "pkg/foo.go",
			instanceID: "",
			wantStatus: Skipped,
			wantReason: ReasonNoIdentity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestManager(t)
			if tt.setup != nil {
				tt.setup(e)
			}

			res := e.mgr.Acquire(context.Background(), tt.path, tt.instanceID, 30*time.Minute)

			if res.Status != tt.wantStatus {
				t.Fatalf("Status = %v, want %v", res.Status, tt.wantStatus)
			}
			if res.Holder != tt.wantHolder {
				t.Errorf("Holder = %q, want %q", res.Holder, tt.wantHolder)
			}
			if res.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.wantReason)
			}
			if res.Allowed() == (tt.wantStatus == Denied) {
				t.Errorf("Allowed() = %v for status %v", res.Allowed(), res.Status)
			}
		})
	}
}

func TestAcquire_RenewExtendsLease(t *testing.T) {
	e := newTestManager(t)
	ctx := context.Background()

	first := e.mgr.Acquire(ctx, "a.go", "inst-a", 30*time.Minute)
	if first.Renewed {
		t.Error("first acquire should not be a renewal")
	}

	e.clock.Advance(20 * time.Minute)
	second := e.mgr.Acquire(ctx, "a.go", "inst-a", 30*time.Minute)

	if !second.Renewed {
		t.Error("second acquire should renew")
	}
	if want := t0.Add(50 * time.Minute); !second.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", second.ExpiresAt, want)
	}

	locks := e.mgr.List(ctx)
	if len(locks) != 1 {
		t.Fatalf("List() has %d locks, want exactly 1", len(locks))
	}
	if !locks[0].AcquiredAt.Equal(t0) {
		t.Errorf("AcquiredAt = %v, renewal must keep the original", locks[0].AcquiredAt)
	}
}

func TestAcquire_DefaultTTL(t *testing.T) {
	e := newTestManager(t)
	res := e.mgr.Acquire(context.Background(), "a.go", "inst-a", 0)
	if want := t0.Add(DefaultTTL); !res.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", res.ExpiresAt, want)
	}
}

// Two instances contend for one file; the loser gets it after release.
func TestLockHandoff(t *testing.T) {
	e := newTestManager(t)
	ctx := context.Background()

	if res := e.mgr.Acquire(ctx, "src/app.ts", "A", 30*time.Minute); res.Status != Granted {
		t.Fatalf("A: Status = %v, want granted", res.Status)
	}
	res := e.mgr.Acquire(ctx, "src/app.ts", "B", 30*time.Minute)
	if res.Status != Denied || res.Holder != "A" {
		t.Fatalf("B: got %v held by %q, want denied by A", res.Status, res.Holder)
	}

	released, err := e.mgr.Release(ctx, "src/app.ts", "A")
	if err != nil || !released {
		t.Fatalf("Release() = %v, %v", released, err)
	}
	if res := e.mgr.Acquire(ctx, "src/app.ts", "B", 30*time.Minute); res.Status != Granted {
		t.Fatalf("B after release: Status = %v, want granted", res.Status)
	}
}

// A stale lock from a crashed instance is purged on the next read.
func TestStaleLockSelfHeals(t *testing.T) {
	e := newTestManager(t)
	ctx := context.Background()

	e.mgr.Acquire(ctx, "src/app.ts", "A", 10*time.Minute)
	e.clock.Advance(11 * time.Minute)

	res := e.mgr.Acquire(ctx, "src/app.ts", "B", 30*time.Minute)
	if res.Status != Granted {
		t.Fatalf("Status = %v, want granted", res.Status)
	}

	snap := e.store.Load(ctx)
	if len(snap.Locks) != 1 || snap.Locks[0].InstanceID != "B" {
		t.Errorf("store = %+v, want only B's lock", snap.Locks)
	}

	var sawExpired bool
	for _, ev := range e.events {
		if exp, ok := ev.(event.LockExpiredEvent); ok && exp.InstanceID == "A" {
			sawExpired = true
		}
	}
	if !sawExpired {
		t.Errorf("events = %v, want filelock.expired for A", e.eventTypes())
	}
}

func TestAcquireMany(t *testing.T) {
	e := newTestManager(t)
	ctx := context.Background()

	e.mgr.Acquire(ctx, "c.go", "inst-b", time.Hour)

	res := e.mgr.AcquireMany(ctx, []string{"a.go", "b.go", "c.go"}, "inst-a", time.Hour)
	if res.Status != Denied {
		t.Fatalf("Status = %v, want denied", res.Status)
	}
	if res.Path != "c.go" || res.Holder != "inst-b" {
		t.Errorf("conflict = %s by %s, want c.go by inst-b", res.Path, res.Holder)
	}
	if files := e.mgr.InstanceFiles(ctx, "inst-a"); len(files) != 0 {
		t.Errorf("denied batch left locks behind: %v", files)
	}

	res = e.mgr.AcquireMany(ctx, []string{"a.go", "b.go", "a.go", "", "../x.go"}, "inst-a", time.Hour)
	if res.Status != Granted {
		t.Fatalf("Status = %v, want granted", res.Status)
	}
	if len(res.Paths) != 2 {
		t.Errorf("Paths = %v, want a.go and b.go once each", res.Paths)
	}

	res = e.mgr.AcquireMany(ctx, []string{"", "/nowhere/x.go"}, "inst-a", time.Hour)
	if res.Status != Skipped {
		t.Errorf("Status = %v, want skipped when nothing is lock-managed", res.Status)
	}
}

func TestRelease(t *testing.T) {
	e := newTestManager(t)
	ctx := context.Background()

	e.mgr.Acquire(ctx, "a.go", "inst-a", time.Hour)

	// Someone else's lock is left alone
	released, err := e.mgr.Release(ctx, "a.go", "inst-b")
	if err != nil || released {
		t.Errorf("Release by non-owner = %v, %v; want false, nil", released, err)
	}
	if owner, _ := e.mgr.Owner(ctx, "a.go"); owner != "inst-a" {
		t.Errorf("Owner = %q, want inst-a", owner)
	}

	// Idempotent for the owner
	for i := range 2 {
		released, err := e.mgr.Release(ctx, "a.go", "inst-a")
		if err != nil {
			t.Fatalf("Release #%d error = %v", i+1, err)
		}
		if released != (i == 0) {
			t.Errorf("Release #%d = %v", i+1, released)
		}
	}

	if _, ok := e.mgr.Owner(ctx, "a.go"); ok {
		t.Error("a.go should be unlocked")
	}

	// Never-locked and unmanaged paths are no-ops
	if released, err := e.mgr.Release(ctx, "never.go", "inst-a"); err != nil || released {
		t.Errorf("Release(never.go) = %v, %v", released, err)
	}
	if released, err := e.mgr.Release(ctx, "", "inst-a"); err != nil || released {
		t.Errorf("Release(\"\") = %v, %v", released, err)
	}
}

func TestReleaseAll(t *testing.T) {
	e := newTestManager(t)
	ctx := context.Background()

	e.mgr.AcquireMany(ctx, []string{"b.go", "a.go"}, "inst-a", time.Hour)
	e.mgr.Acquire(ctx, "c.go", "inst-b", time.Hour)

	n, err := e.mgr.ReleaseAll(ctx, "inst-a")
	if err != nil {
		t.Fatalf("ReleaseAll() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ReleaseAll() = %d, want 2", n)
	}
	if files := e.mgr.InstanceFiles(ctx, "inst-b"); len(files) != 1 || files[0] != "c.go" {
		t.Errorf("inst-b files = %v, want [c.go]", files)
	}

	n, err = e.mgr.ReleaseAll(ctx, "inst-a")
	if err != nil || n != 0 {
		t.Errorf("second ReleaseAll() = %d, %v; want 0, nil", n, err)
	}
}

func TestExpire(t *testing.T) {
	e := newTestManager(t)
	ctx := context.Background()

	e.mgr.Acquire(ctx, "short.go", "inst-a", time.Minute)
	e.mgr.Acquire(ctx, "long.go", "inst-b", time.Hour)
	e.clock.Advance(2 * time.Minute)

	n, err := e.mgr.Expire(ctx)
	if err != nil {
		t.Fatalf("Expire() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Expire() = %d, want 1", n)
	}
	if got := len(e.store.Load(ctx).Locks); got != 1 {
		t.Errorf("store has %d locks after Expire, want 1", got)
	}
}

func TestListAndOwner(t *testing.T) {
	e := newTestManager(t)
	ctx := context.Background()

	e.mgr.Acquire(ctx, "z.go", "inst-a", time.Hour)
	e.mgr.Acquire(ctx, "m.go", "inst-b", time.Hour)
	e.mgr.Acquire(ctx, "a.go", "inst-a", time.Minute)
	e.clock.Advance(time.Minute)

	locks := e.mgr.List(ctx)
	if len(locks) != 2 || locks[0].FilePath != "m.go" || locks[1].FilePath != "z.go" {
		t.Errorf("List() = %+v, want live m.go, z.go", locks)
	}
	if _, ok := e.mgr.Owner(ctx, "a.go"); ok {
		t.Error("Owner must ignore expired locks")
	}
	if owner, ok := e.mgr.Owner(ctx, filepath.Join(e.root, "m.go")); !ok || owner != "inst-b" {
		t.Errorf("Owner(m.go) = %q, %v", owner, ok)
	}
	if files := e.mgr.InstanceFiles(ctx, "inst-a"); len(files) != 1 || files[0] != "z.go" {
		t.Errorf("InstanceFiles(inst-a) = %v, want [z.go]", files)
	}
}

func TestEvents(t *testing.T) {
	e := newTestManager(t)
	ctx := context.Background()

	e.mgr.Acquire(ctx, "a.go", "inst-a", time.Hour)
	e.mgr.Acquire(ctx, "a.go", "inst-b", time.Hour)
	e.mgr.Release(ctx, "a.go", "inst-a") //nolint:errcheck

	want := []string{event.TypeLockAcquired, event.TypeLockDenied, event.TypeLockReleased}
	got := e.eventTypes()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	denied := e.events[1].(event.LockDeniedEvent)
	if denied.Holder != "inst-a" || denied.InstanceID != "inst-b" {
		t.Errorf("denied event = %+v", denied)
	}
}

// failingStore reads as empty and fails every write.
type failingStore struct{ store.Backend }

var errDiskFull = errors.New("disk full")

func (failingStore) Load(context.Context) store.Snapshot { return store.Snapshot{} }
func (failingStore) Update(context.Context, time.Time, store.UpdateFunc) (store.Snapshot, store.Purged, error) {
	return store.Snapshot{}, store.Purged{}, errDiskFull
}

func TestAcquire_StoreFailureFailsOpen(t *testing.T) {
	mgr := NewManager(failingStore{}, t.TempDir(), WithClock(func() time.Time { return t0 }))

	res := mgr.Acquire(context.Background(), "a.go", "inst-a", time.Hour)
	if res.Status != Granted {
		t.Fatalf("Status = %v, want granted", res.Status)
	}
	if !res.Degraded || !errors.Is(res.Err, errDiskFull) {
		t.Errorf("Degraded = %v, Err = %v", res.Degraded, res.Err)
	}

	if _, err := mgr.Release(context.Background(), "a.go", "inst-a"); !errors.Is(err, errDiskFull) {
		t.Errorf("Release() error = %v, want disk full", err)
	}
}

// Many processes race for one file; exactly one wins.
func TestAcquire_MutualExclusion(t *testing.T) {
	const contenders = 12

	root := t.TempDir()
	dir := filepath.Join(root, ".claude", "coordination")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []string
	)
	for i := range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			backend, err := store.Open(dir, store.KindJSON, store.WithLockWait(10*time.Second))
			if err != nil {
				t.Error(err)
				return
			}
			defer backend.Close()

			id := fmt.Sprintf("inst-%d", i)
			res := NewManager(backend, root).Acquire(context.Background(), "shared.go", id, time.Hour)
			if res.Status == Granted {
				mu.Lock()
				granted = append(granted, id)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(granted) != 1 {
		t.Errorf("granted to %v, want exactly one instance", granted)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{Granted, "granted"},
		{Denied, "denied"},
		{Skipped, "skipped"},
		{Status(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestCheck(t *testing.T) {
	e := newTestManager(t)

	tests := []struct {
		path    string
		wantErr bool
	}{
		{path: "pkg/foo.go"},
		{path: filepath.Join(e.root, "pkg", "foo.go")},
		{path: "  ", wantErr: true},
		{path: "../elsewhere/foo.go", wantErr: true},
		{path: ".claude/coordination/locks.json", wantErr: true},
	}
	for _, tt := range tests {
		err := e.mgr.Check(tt.path)
		if tt.wantErr {
			if !coorderrors.Is(err, coorderrors.ErrInvalidPath) {
				t.Errorf("Check(%q) = %v, want ErrInvalidPath", tt.path, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Check(%q) = %v, want nil", tt.path, err)
		}
	}
}
