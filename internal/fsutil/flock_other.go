//go:build !unix

package fsutil

import (
	"context"
	"time"
)

// LockFile is a no-op where flock(2) is unavailable; callers fall back to
// last-writer-wins.
func LockFile(_ context.Context, _ string, _ time.Duration) (func(), error) {
	return func() {}, nil
}
