package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/logging"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS file_locks (
	file_path   TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL,
	acquired_at TEXT NOT NULL,
	expires_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS work_claims (
	task_id     TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL,
	claimed_at  TEXT NOT NULL,
	expires_at  TEXT
);
CREATE INDEX IF NOT EXISTS idx_file_locks_instance ON file_locks(instance_id);
CREATE INDEX IF NOT EXISTS idx_work_claims_instance ON work_claims(instance_id);
`

type sqliteBackend struct {
	path   string
	logger *logging.Logger

	mu sync.Mutex
	db *sql.DB
}

func newSQLiteBackend(path string, o options) *sqliteBackend {
	return &sqliteBackend{
		path:   path,
		logger: o.logger.With("backend", KindSQLite),
	}
}

func (b *sqliteBackend) Kind() string { return KindSQLite }
func (b *sqliteBackend) Path() string { return b.path }

func (b *sqliteBackend) Exists() bool {
	info, err := os.Stat(b.path)
	return err == nil && info.Mode().IsRegular()
}

func (b *sqliteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// conn opens the database on first use. Without create, a missing database
// yields nil so reads do not materialize the store.
func (b *sqliteBackend) conn(ctx context.Context, create bool) (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return b.db, nil
	}
	if !create && !b.Exists() {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating store directory")
	}

	dsn := "file:" + b.path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite store")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating sqlite schema")
	}

	b.db = db
	return db, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (b *sqliteBackend) Load(ctx context.Context) Snapshot {
	db, err := b.conn(ctx, false)
	if err != nil {
		b.logger.Warn("store unreadable, treating as empty", "path", b.path, "error", err)
		return Snapshot{}
	}
	if db == nil {
		return Snapshot{}
	}

	s, err := b.read(ctx, db)
	if err != nil {
		b.logger.Warn("store unreadable, treating as empty", "path", b.path, "error", err)
		return Snapshot{}
	}
	return s
}

func (b *sqliteBackend) read(ctx context.Context, q querier) (Snapshot, error) {
	var s Snapshot
	dropped := 0

	rows, err := q.QueryContext(ctx,
		`SELECT file_path, instance_id, acquired_at, expires_at FROM file_locks ORDER BY acquired_at, file_path`)
	if err != nil {
		return s, errors.Wrap(err, "querying file_locks")
	}
	for rows.Next() {
		var l Lock
		var acquired, expires string
		if err := rows.Scan(&l.FilePath, &l.InstanceID, &acquired, &expires); err != nil {
			_ = rows.Close()
			return s, errors.Wrap(err, "scanning file_locks")
		}
		var ok bool
		if l.AcquiredAt, ok = parseTime(acquired); !ok {
			dropped++
			continue
		}
		if l.ExpiresAt, ok = parseTime(expires); !ok {
			dropped++
			continue
		}
		s.Locks = append(s.Locks, l)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return s, errors.Wrap(err, "reading file_locks")
	}
	_ = rows.Close()

	rows, err = q.QueryContext(ctx,
		`SELECT task_id, instance_id, claimed_at, COALESCE(expires_at, '') FROM work_claims ORDER BY claimed_at, task_id`)
	if err != nil {
		return s, errors.Wrap(err, "querying work_claims")
	}
	defer rows.Close()
	for rows.Next() {
		var c WorkClaim
		var claimed, expires string
		if err := rows.Scan(&c.TaskID, &c.InstanceID, &claimed, &expires); err != nil {
			return s, errors.Wrap(err, "scanning work_claims")
		}
		var ok bool
		if c.ClaimedAt, ok = parseTime(claimed); !ok {
			dropped++
			continue
		}
		if expires != "" {
			if c.ExpiresAt, ok = parseTime(expires); !ok {
				dropped++
				continue
			}
		}
		s.Claims = append(s.Claims, c)
	}
	if err := rows.Err(); err != nil {
		return s, errors.Wrap(err, "reading work_claims")
	}

	s, n := sanitize(s)
	if dropped+n > 0 {
		b.logger.Warn("dropped malformed store entries", "path", b.path, "count", dropped+n)
	}
	return s, nil
}

func (b *sqliteBackend) write(ctx context.Context, q querier, s Snapshot) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM file_locks`); err != nil {
		return errors.Wrap(err, "clearing file_locks")
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM work_claims`); err != nil {
		return errors.Wrap(err, "clearing work_claims")
	}

	for _, l := range s.Locks {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO file_locks(file_path, instance_id, acquired_at, expires_at) VALUES(?, ?, ?, ?)`,
			l.FilePath, l.InstanceID, formatTime(l.AcquiredAt), formatTime(l.ExpiresAt),
		); err != nil {
			return errors.Wrapf(err, "inserting lock %s", l.FilePath)
		}
	}
	for _, c := range s.Claims {
		var expires any
		if !c.ExpiresAt.IsZero() {
			expires = formatTime(c.ExpiresAt)
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO work_claims(task_id, instance_id, claimed_at, expires_at) VALUES(?, ?, ?, ?)`,
			c.TaskID, c.InstanceID, formatTime(c.ClaimedAt), expires,
		); err != nil {
			return errors.Wrapf(err, "inserting claim %s", c.TaskID)
		}
	}
	return nil
}

func (b *sqliteBackend) Save(ctx context.Context, s Snapshot) error {
	_, _, err := b.transact(ctx, func(tx *sql.Tx) (Snapshot, Purged, error) {
		return s, Purged{}, b.write(ctx, tx, s)
	})
	return err
}

func (b *sqliteBackend) Update(ctx context.Context, now time.Time, fn UpdateFunc) (Snapshot, Purged, error) {
	return b.transact(ctx, func(tx *sql.Tx) (Snapshot, Purged, error) {
		loaded, err := b.read(ctx, tx)
		if err != nil {
			b.logger.Warn("store unreadable, treating as empty", "path", b.path, "error", err)
			loaded = Snapshot{}
		}

		next, purged, write, err := apply(loaded, now, fn)
		if err != nil {
			return next, purged, errSkipCommit{err}
		}
		if write {
			if err := b.write(ctx, tx, next); err != nil {
				return next, purged, err
			}
		}
		return next, purged, nil
	})
}

// errSkipCommit carries an UpdateFunc error through transact so that the
// transaction is rolled back and the error returned without wrapping.
type errSkipCommit struct{ err error }

func (e errSkipCommit) Error() string { return e.err.Error() }

func (b *sqliteBackend) transact(ctx context.Context, fn func(*sql.Tx) (Snapshot, Purged, error)) (Snapshot, Purged, error) {
	db, err := b.conn(ctx, true)
	if err != nil {
		return Snapshot{}, Purged{}, errors.NewStoreError("open", b.path, err).WithBackend(KindSQLite)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, Purged{}, errors.NewStoreError("begin", b.path, err).WithBackend(KindSQLite)
	}
	defer func() { _ = tx.Rollback() }()

	s, purged, err := fn(tx)
	if err != nil {
		var skip errSkipCommit
		if errors.As(err, &skip) {
			return s, purged, skip.err
		}
		return s, purged, errors.NewStoreError("update", b.path, err).WithBackend(KindSQLite)
	}

	if err := tx.Commit(); err != nil {
		return s, purged, errors.NewStoreError("commit", b.path, err).WithBackend(KindSQLite)
	}
	return s, purged, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}
