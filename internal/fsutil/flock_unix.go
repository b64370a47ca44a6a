//go:build unix

package fsutil

import (
	"context"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/orchestkit/ork-coord/internal/errors"
)

const lockPollInterval = 10 * time.Millisecond

// LockFile takes an exclusive flock(2) on path, polling until wait elapses.
// It returns errors.ErrLockTimeout when the lock stays held.
// The returned func releases the lock and closes the file.
func LockFile(ctx context.Context, path string, wait time.Duration) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open lock file")
	}
	fd := int(f.Fd())

	deadline := time.Now().Add(wait)
	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return func() {
				_ = unix.Flock(fd, unix.LOCK_UN)
				_ = f.Close()
			}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			_ = f.Close()
			return nil, errors.Wrap(err, "flock")
		}
		if !time.Now().Before(deadline) {
			_ = f.Close()
			return nil, errors.ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}
