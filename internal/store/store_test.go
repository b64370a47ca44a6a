package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/fsutil"
)

var t0 = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

func lock(path, owner string, ttl time.Duration) Lock {
	return Lock{FilePath: path, InstanceID: owner, AcquiredAt: t0, ExpiresAt: t0.Add(ttl)}
}

func claim(task, owner string, ttl time.Duration) WorkClaim {
	c := WorkClaim{TaskID: task, InstanceID: owner, ClaimedAt: t0}
	if ttl > 0 {
		c.ExpiresAt = t0.Add(ttl)
	}
	return c
}

func openBackend(t *testing.T, kind, dir string, opts ...Option) Backend {
	t.Helper()
	b, err := Open(dir, kind, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

var kinds = []string{KindJSON, KindSQLite}

func TestPurgeExpired(t *testing.T) {
	s := Snapshot{
		Locks: []Lock{
			lock("live.go", "a", time.Hour),
			lock("boundary.go", "a", 10*time.Minute),
			lock("stale.go", "b", time.Minute),
		},
		Claims: []WorkClaim{
			claim("forever", "a", 0),
			claim("stale", "b", time.Minute),
		},
	}
	now := t0.Add(10 * time.Minute)

	out, purged := PurgeExpired(s, now)

	assert.Equal(t, []Lock{lock("live.go", "a", time.Hour)}, out.Locks)
	assert.Equal(t, []WorkClaim{claim("forever", "a", 0)}, out.Claims)
	assert.Len(t, purged.Locks, 2, "expires_at == now counts as expired")
	assert.Len(t, purged.Claims, 1)
	assert.Equal(t, 3, purged.Total())
	assert.Len(t, s.Locks, 3, "input must not be modified")
}

func TestSnapshotHelpers(t *testing.T) {
	s := Snapshot{
		Locks:  []Lock{lock("a.go", "x", time.Hour), lock("b.go", "y", time.Hour)},
		Claims: []WorkClaim{claim("t1", "x", 0)},
	}

	assert.Equal(t, 1, s.FindLock("b.go"))
	assert.Equal(t, -1, s.FindLock("c.go"))
	assert.Equal(t, 0, s.FindClaim("t1"))

	c := s.Clone()
	c.Locks[0].InstanceID = "changed"
	assert.Equal(t, "x", s.Locks[0].InstanceID, "Clone must be deep")

	assert.Equal(t, 1, s.RemoveLocks(func(l Lock) bool { return l.InstanceID == "x" }))
	assert.Equal(t, 1, s.RemoveClaims(func(c WorkClaim) bool { return c.InstanceID == "x" }))
	assert.False(t, s.Empty())
	s.RemoveLocks(func(Lock) bool { return true })
	assert.True(t, s.Empty())
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	b := openBackend(t, "", dir)
	assert.Equal(t, KindJSON, b.Kind())
	assert.Equal(t, filepath.Join(dir, FileJSON), b.Path())

	b = openBackend(t, KindSQLite, dir)
	assert.Equal(t, filepath.Join(dir, FileSQLite), b.Path())

	_, err := Open(dir, "redis")
	assert.True(t, errors.Is(err, errors.ErrUnknownBackend))
}

func TestJSONLoad_Tolerance(t *testing.T) {
	tests := []struct {
		name    string
		content *string
	}{
		{name: "missing file"},
		{name: "zero bytes", content: ptr("")},
		{name: "whitespace", content: ptr("  \n")},
		{name: "unparsable", content: ptr("not json at all")},
		{name: "torn write", content: ptr(`{"locks":[{"file_path":"a.go","instance_id":"x"`)},
		{name: "wrong shape", content: ptr(`["locks"]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.content != nil {
				require.NoError(t, os.WriteFile(filepath.Join(dir, FileJSON), []byte(*tt.content), 0o644))
			}
			b := openBackend(t, KindJSON, dir)

			s := b.Load(context.Background())
			assert.True(t, s.Empty())
		})
	}
}

func TestJSONLoad_CorruptStoreIsReplacedOnUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileJSON)
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o644))
	b := openBackend(t, KindJSON, dir)

	_, _, err := b.Update(context.Background(), t0, func(s *Snapshot) error {
		s.Locks = append(s.Locks, lock("a.go", "x", time.Hour))
		return nil
	})
	require.NoError(t, err)

	s := b.Load(context.Background())
	require.Len(t, s.Locks, 1)
	assert.Equal(t, "a.go", s.Locks[0].FilePath)
}

func TestJSONLoad_DropsMalformedEntries(t *testing.T) {
	dir := t.TempDir()
	content := `{
  "locks": [
    {"file_path": "a.go", "instance_id": "x", "acquired_at": "2026-03-14T09:00:00Z", "expires_at": "2026-03-14T10:00:00Z"},
    {"file_path": "a.go", "instance_id": "y", "acquired_at": "2026-03-14T09:00:00Z", "expires_at": "2026-03-14T10:00:00Z"},
    {"file_path": "", "instance_id": "z"}
  ],
  "work_claims": [
    {"task_id": "t1", "instance_id": ""}
  ]
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileJSON), []byte(content), 0o644))
	b := openBackend(t, KindJSON, dir)

	s := b.Load(context.Background())
	require.Len(t, s.Locks, 1)
	assert.Equal(t, "x", s.Locks[0].InstanceID, "first entry wins a tie")
	assert.Empty(t, s.Claims)
}

func TestJSONLoad_DuplicateKeepsLiveEntry(t *testing.T) {
	dir := t.TempDir()
	content := `{
  "locks": [
    {"file_path": "a.go", "instance_id": "old", "acquired_at": "2026-03-14T08:00:00Z", "expires_at": "2026-03-14T08:30:00Z"},
    {"file_path": "a.go", "instance_id": "live", "acquired_at": "2026-03-14T09:00:00Z", "expires_at": "2026-03-14T10:00:00Z"},
    {"file_path": "b.go", "instance_id": "live", "acquired_at": "2026-03-14T09:00:00Z", "expires_at": "2026-03-14T10:00:00Z"},
    {"file_path": "b.go", "instance_id": "old", "acquired_at": "2026-03-14T08:00:00Z", "expires_at": "2026-03-14T08:30:00Z"}
  ],
  "work_claims": [
    {"task_id": "t1", "instance_id": "old", "claimed_at": "2026-03-14T08:00:00Z", "expires_at": "2026-03-14T08:30:00Z"},
    {"task_id": "t1", "instance_id": "live", "claimed_at": "2026-03-14T09:00:00Z"}
  ]
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileJSON), []byte(content), 0o644))
	b := openBackend(t, KindJSON, dir)

	now := time.Date(2026, time.March, 14, 9, 10, 0, 0, time.UTC)
	s, purged := PurgeExpired(b.Load(context.Background()), now)

	require.Len(t, s.Locks, 2)
	for _, l := range s.Locks {
		assert.Equal(t, "live", l.InstanceID, "lock on %s", l.FilePath)
	}
	require.Len(t, s.Claims, 1)
	assert.Equal(t, "live", s.Claims[0].InstanceID)
	assert.Zero(t, purged.Total(), "expired duplicates are dropped on load, not purged")
}

func TestJSONSave_Format(t *testing.T) {
	dir := t.TempDir()
	b := openBackend(t, KindJSON, dir)

	require.NoError(t, b.Save(context.Background(), Snapshot{}))

	data, err := os.ReadFile(b.Path())
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `[]`, string(raw["locks"]))
	assert.JSONEq(t, `[]`, string(raw["work_claims"]))

	// A claim without expiry omits the field entirely
	require.NoError(t, b.Save(context.Background(), Snapshot{Claims: []WorkClaim{claim("t1", "x", 0)}}))
	data, err = os.ReadFile(b.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "expires_at")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp files must not remain")
	}
}

func TestJSONUpdate_LockTimeoutFallsBack(t *testing.T) {
	dir := t.TempDir()
	b := openBackend(t, KindJSON, dir, WithLockWait(50*time.Millisecond))

	// Hold the advisory lock as another process would
	unlock, err := fsutil.LockFile(context.Background(), filepath.Join(dir, FileJSONLock), time.Second)
	require.NoError(t, err)
	defer unlock()

	start := time.Now()
	_, _, err = b.Update(context.Background(), t0, func(s *Snapshot) error {
		s.Locks = append(s.Locks, lock("a.go", "x", time.Hour))
		return nil
	})
	require.NoError(t, err, "update proceeds without the lock")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, b.Load(context.Background()).Locks, 1)
}

func TestSQLiteLoad_MissingDoesNotCreate(t *testing.T) {
	dir := t.TempDir()
	b := openBackend(t, KindSQLite, dir)

	assert.True(t, b.Load(context.Background()).Empty())
	assert.False(t, b.Exists())
}

func TestSQLiteLoad_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileSQLite), []byte("definitely not a database"), 0o644))
	b := openBackend(t, KindSQLite, dir)

	assert.True(t, b.Load(context.Background()).Empty())
}

func TestBackends_RoundTrip(t *testing.T) {
	for _, kind := range kinds {
		t.Run(kind, func(t *testing.T) {
			b := openBackend(t, kind, t.TempDir())
			ctx := context.Background()

			assert.False(t, b.Exists())

			want := Snapshot{
				Locks:  []Lock{lock("src/a.go", "inst-1", time.Hour)},
				Claims: []WorkClaim{claim("task-1", "inst-1", 0), claim("task-2", "inst-2", time.Hour)},
			}
			require.NoError(t, b.Save(ctx, want))
			assert.True(t, b.Exists())

			got := b.Load(ctx)
			require.Len(t, got.Locks, 1)
			require.Len(t, got.Claims, 2)
			assert.Equal(t, "src/a.go", got.Locks[0].FilePath)
			assert.True(t, got.Locks[0].ExpiresAt.Equal(want.Locks[0].ExpiresAt))

			byTask := map[string]WorkClaim{}
			for _, c := range got.Claims {
				byTask[c.TaskID] = c
			}
			assert.True(t, byTask["task-1"].ExpiresAt.IsZero())
			assert.True(t, byTask["task-2"].ExpiresAt.Equal(t0.Add(time.Hour)))
		})
	}
}

func TestBackends_Update(t *testing.T) {
	for _, kind := range kinds {
		t.Run(kind, func(t *testing.T) {
			b := openBackend(t, kind, t.TempDir())
			ctx := context.Background()

			// First update initializes the store even without changes
			_, _, err := b.Update(ctx, t0, nil)
			require.NoError(t, err)
			assert.True(t, b.Exists())

			require.NoError(t, b.Save(ctx, Snapshot{
				Locks: []Lock{lock("stale.go", "a", time.Minute), lock("live.go", "a", time.Hour)},
			}))

			// ErrSkipWrite still persists the purge
			now := t0.Add(5 * time.Minute)
			s, purged, err := b.Update(ctx, now, func(s *Snapshot) error {
				assert.Equal(t, -1, s.FindLock("stale.go"), "fn sees purged state")
				s.Locks = append(s.Locks, lock("ignored.go", "b", time.Hour))
				return ErrSkipWrite
			})
			require.NoError(t, err)
			assert.Len(t, purged.Locks, 1)
			assert.Len(t, s.Locks, 1)
			assert.Len(t, b.Load(ctx).Locks, 1)

			// A failing fn leaves the store untouched
			boom := errors.New("boom")
			_, _, err = b.Update(ctx, now, func(s *Snapshot) error {
				s.Locks = nil
				return boom
			})
			assert.True(t, errors.Is(err, boom))
			assert.Len(t, b.Load(ctx).Locks, 1)

			// A successful fn is persisted
			_, _, err = b.Update(ctx, now, func(s *Snapshot) error {
				s.Claims = append(s.Claims, claim("t1", "a", 0))
				return nil
			})
			require.NoError(t, err)
			assert.Len(t, b.Load(ctx).Claims, 1)
		})
	}
}

func TestBackends_ConcurrentUpdatesAreSerialized(t *testing.T) {
	const writers = 16

	for _, kind := range kinds {
		t.Run(kind, func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()
			_, _, err := openBackend(t, kind, dir).Update(ctx, t0, nil)
			require.NoError(t, err)

			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					// Separate backends stand in for separate processes
					b, err := Open(dir, kind, WithLockWait(10*time.Second))
					if err != nil {
						errs <- err
						return
					}
					defer b.Close()

					_, _, err = b.Update(ctx, t0, func(s *Snapshot) error {
						s.Locks = append(s.Locks, lock(fmt.Sprintf("f%02d.go", i), fmt.Sprintf("inst-%d", i), time.Hour))
						return nil
					})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				require.NoError(t, err)
			}
			assert.Len(t, openBackend(t, kind, dir).Load(ctx).Locks, writers, "no update may be lost")
		})
	}
}

func ptr(s string) *string { return &s }
