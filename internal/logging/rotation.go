package logging

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/fsutil"
)

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the maximum size of a log file in megabytes before rotation.
	// A value of 0 disables rotation.
	MaxSizeMB int
	// MaxBackups is the number of old log files to keep.
	// A value of 0 keeps no backups.
	MaxBackups int
	// Compress determines whether rotated log files are gzip compressed.
	Compress bool
}

// DefaultRotationConfig returns the rotation used for coord.log. Hook
// processes are short-lived and append a few lines each, so the file stays small.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  5,
		MaxBackups: 2,
		Compress:   false,
	}
}

// rotateLockWait bounds how long a write waits for another process that is
// rotating the same file. On timeout the write goes to the current file.
const rotateLockWait = 50 * time.Millisecond

// RotatingWriter appends to a log file shared by every ork-coord process of a
// project and rotates it by size.
//
// Each hook invocation opens its own writer on the same coord.log, so no
// writer can trust an in-memory size. The size is read from the path before
// each write, rotation runs under an flock on <file>.lock and re-checks the
// size once the lock is held, and a writer whose open file was renamed away
// by another process reopens the path before writing.
type RotatingWriter struct {
	mu sync.Mutex

	path       string
	maxSize    int64
	maxBackups int
	compress   bool
	warn       io.Writer

	file *os.File
}

// NewRotatingWriter opens path for appending, creating parent directories.
// If MaxSizeMB is 0 the file is never rotated.
func NewRotatingWriter(path string, config RotationConfig) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating log directory")
	}
	rw := &RotatingWriter{
		path:       path,
		maxSize:    int64(config.MaxSizeMB) * 1024 * 1024,
		maxBackups: config.MaxBackups,
		compress:   config.Compress,
		warn:       os.Stderr,
	}
	if err := rw.reopen(); err != nil {
		return nil, err
	}
	return rw, nil
}

// reopen replaces the open file with whatever the path names now.
// The caller must hold the mutex.
func (rw *RotatingWriter) reopen() error {
	if rw.file != nil {
		_ = rw.file.Close()
		rw.file = nil
	}
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "opening log file")
	}
	rw.file = f
	return nil
}

// Write appends p as a single write(2). Rotation failures are reported on
// stderr and never lose the record.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, errors.New("log file is closed")
	}

	if rw.needsRotation(int64(len(p))) {
		if err := rw.rotate(int64(len(p))); err != nil {
			fmt.Fprintf(rw.warn, "ork-coord: log rotation failed: %v\n", err)
		}
	}
	if rw.stale() {
		if err := rw.reopen(); err != nil {
			return 0, err
		}
	}
	return rw.file.Write(p)
}

func (rw *RotatingWriter) needsRotation(incoming int64) bool {
	if rw.maxSize <= 0 {
		return false
	}
	size := rw.size()
	return size > 0 && size+incoming > rw.maxSize
}

// size returns the size of the file currently at path, including what other
// processes appended.
func (rw *RotatingWriter) size() int64 {
	info, err := os.Stat(rw.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// stale reports whether the open file is no longer the one at path.
func (rw *RotatingWriter) stale() bool {
	open, err := rw.file.Stat()
	if err != nil {
		return true
	}
	current, err := os.Stat(rw.path)
	if err != nil {
		return true
	}
	return !os.SameFile(open, current)
}

// rotate moves the log to .1 unless another process rotated it while this
// one waited for the lock. The caller must hold the mutex.
func (rw *RotatingWriter) rotate(incoming int64) error {
	unlock, err := fsutil.LockFile(context.Background(), rw.path+".lock", rotateLockWait)
	if err != nil {
		return errors.Wrap(err, "locking log for rotation")
	}
	defer unlock()

	if !rw.needsRotation(incoming) {
		return nil
	}

	rw.shiftBackups()
	if rw.maxBackups <= 0 {
		return errors.Wrap(os.Remove(rw.path), "truncating log file")
	}
	backup := rw.backupPath(1)
	if err := os.Rename(rw.path, backup); err != nil {
		return errors.Wrap(err, "renaming log file")
	}
	if rw.compress {
		return compressFile(backup)
	}
	return nil
}

// shiftBackups renames .N to .N+1, dropping the oldest. Files are numbered
// .1 (newest) to .maxBackups (oldest). Failures cost at most one backup.
func (rw *RotatingWriter) shiftBackups() {
	if rw.maxBackups <= 0 {
		return
	}
	oldest := rw.backupPath(rw.maxBackups)
	_ = os.Remove(oldest)
	_ = os.Remove(oldest + ".gz")

	for i := rw.maxBackups - 1; i >= 1; i-- {
		from, to := rw.backupPath(i), rw.backupPath(i+1)
		if _, err := os.Stat(from + ".gz"); err == nil {
			_ = os.Rename(from+".gz", to+".gz")
		} else if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}
}

func (rw *RotatingWriter) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}

// compressFile gzips path to path.gz and removes the original. It runs
// inline: a hook process exits right after its last write.
func compressFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading backup for compression")
	}

	gzPath := path + ".gz"
	f, err := os.Create(gzPath)
	if err != nil {
		return errors.Wrap(err, "creating compressed backup")
	}
	zw := gzip.NewWriter(f)
	_, err = zw.Write(data)
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(gzPath)
		return errors.Wrap(err, "writing compressed backup")
	}
	return errors.Wrap(os.Remove(path), "removing uncompressed backup")
}

// Close closes the file. Closing twice is a no-op.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return errors.Wrap(err, "closing log file")
}
