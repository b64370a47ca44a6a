// Package filelock prevents two instances from editing the same file at
// the same time.
//
// Locks live in the shared coordination store, so every process working on
// the project sees them. Each lock is a lease: it expires after its TTL
// unless renewed, so a crashed instance cannot block a file forever.
//
// # Decisions
//
// [Manager.Acquire] never blocks and never fails. It returns a [Result]:
//   - [Granted]: the caller may edit. Re-acquiring a lock the caller already
//     holds renews the lease.
//   - [Denied]: another instance holds a live lock; Result.Holder names it.
//   - [Skipped]: the path is not lock-managed (empty, outside the work
//     root, or inside the coordination directory).
//
// If the store cannot be written the lock is Granted with Degraded set:
// a broken store must not stop anyone from working.
//
// # Basic Usage
//
//	mgr := filelock.NewManager(backend, workRoot, filelock.WithBus(bus))
//
//	res := mgr.Acquire(ctx, "/repo/pkg/foo.go", "inst-1", 30*time.Minute)
//	if res.Status == filelock.Denied {
//	    fmt.Printf("%s is being edited by %s\n", res.Path, res.Holder)
//	}
//
//	mgr.Release(ctx, "/repo/pkg/foo.go", "inst-1")
//
// Paths are stored relative to the work root with forward slashes, so
// "pkg/foo.go" and "/repo/pkg/foo.go" name the same lock.
package filelock
