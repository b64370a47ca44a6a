// Package identity resolves the stable instance id a coordinating process
// uses as lock owner.
//
// Resolution order:
//
//  1. the override environment variable (CLAUDE_INSTANCE_ID by default)
//  2. the cached id under <work-root>/<coordination-dir>/.instance/
//  3. a freshly generated id, written back to the cache
//
// Generated ids look like {project}-{branch}-{MMDD}-{HHMM}-{hash4}, for
// example "orchestkit-feature-login-0314-0930-a1b2". Resolution never fails.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/fsutil"
	"github.com/orchestkit/ork-coord/internal/logging"
	"github.com/orchestkit/ork-coord/internal/project"
)

const (
	// DefaultOverrideEnv is the environment variable checked first.
	DefaultOverrideEnv = "CLAUDE_INSTANCE_ID"

	// CacheDirName is the cache directory inside the coordination directory.
	CacheDirName = ".instance"

	// DefaultCacheFile is used when no session key is configured.
	DefaultCacheFile = "id.json"

	fallbackProject = "project"
	fallbackBranch  = "nobranch"
	maxSessionKey   = 64
)

// Record is the on-disk identity cache.
type Record struct {
	InstanceID string    `json:"instance_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Resolver resolves and memoizes the instance identity for one work root.
type Resolver struct {
	workRoot    string
	projectName string
	branch      string
	coordDir    string
	overrideEnv string
	sessionKey  string

	getenv func(string) string
	now    func() time.Time
	pid    int
	logger *logging.Logger

	mu sync.Mutex
	id string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithOverrideEnv sets the environment variable consulted first.
// An empty name disables the override.
func WithOverrideEnv(name string) Option {
	return func(r *Resolver) { r.overrideEnv = name }
}

// WithSessionKey keys the cache file by a host session id so separate
// terminals on one checkout get separate identities.
func WithSessionKey(key string) Option {
	return func(r *Resolver) { r.sessionKey = key }
}

// WithCoordinationDir sets the coordination directory relative to the work root.
func WithCoordinationDir(dir string) Option {
	return func(r *Resolver) { r.coordDir = dir }
}

// WithEnv replaces os.Getenv.
func WithEnv(getenv func(string) string) Option {
	return func(r *Resolver) { r.getenv = getenv }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithPID replaces os.Getpid in the hash seed.
func WithPID(pid int) Option {
	return func(r *Resolver) { r.pid = pid }
}

// WithLogger sets the logger used for cache failures.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver for the project described by info.
// A nil info behaves like an unknown project on an unknown branch.
func New(info *project.Info, opts ...Option) *Resolver {
	r := &Resolver{
		coordDir:    filepath.Join(".claude", "coordination"),
		overrideEnv: DefaultOverrideEnv,
		getenv:      os.Getenv,
		now:         time.Now,
		pid:         os.Getpid(),
	}
	if info != nil {
		r.workRoot = info.WorkRoot
		r.projectName = info.Name()
		r.branch = info.Branch
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.NopLogger()
	}
	return r
}

// Resolve returns the instance id, generating and caching one if needed.
// The result is memoized for the life of the Resolver.
func (r *Resolver) Resolve() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.id != "" {
		return r.id
	}

	if id, ok := r.lookup(); ok {
		r.id = id
		return id
	}

	now := r.now()
	id := Generate(r.projectName, r.branch, now, r.seed(now))
	if err := r.writeCache(Record{InstanceID: id, CreatedAt: now.UTC()}); err != nil {
		r.logger.Warn("identity cache write failed, using generated id",
			"path", r.CachePath(), "instance_id", id, "error", err)
	} else {
		r.logger.Info("generated instance identity", "instance_id", id, "path", r.CachePath())
	}
	r.id = id
	return id
}

// Lookup returns the override or cached id without generating one.
func (r *Resolver) Lookup() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.id != "" {
		return r.id, true
	}
	return r.lookup()
}

func (r *Resolver) lookup() (string, bool) {
	if r.overrideEnv != "" {
		if v := strings.TrimSpace(r.getenv(r.overrideEnv)); v != "" {
			return v, true
		}
	}

	rec, err := r.readCache()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("ignoring unreadable identity cache", "path", r.CachePath(), "error", err)
		}
		return "", false
	}
	return rec.InstanceID, true
}

// CachePath returns the identity cache file for this resolver.
func (r *Resolver) CachePath() string {
	name := DefaultCacheFile
	if key := sanitizeKey(r.sessionKey); key != "" {
		name = key + ".json"
	}
	return filepath.Join(r.workRoot, r.coordDir, CacheDirName, name)
}

func (r *Resolver) readCache() (Record, error) {
	var rec Record
	data, err := os.ReadFile(r.CachePath())
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, errors.NewIdentityError("parse", r.CachePath(), err)
	}
	rec.InstanceID = strings.TrimSpace(rec.InstanceID)
	if rec.InstanceID == "" {
		return rec, errors.NewIdentityError("parse", r.CachePath(), errors.New("empty instance_id"))
	}
	return rec, nil
}

func (r *Resolver) writeCache(rec Record) error {
	if r.workRoot == "" {
		return errors.NewIdentityError("write", "", errors.ErrNoIdentity)
	}
	if err := fsutil.AtomicWriteJSON(r.CachePath(), rec, 0o644); err != nil {
		return errors.NewIdentityError("write", r.CachePath(), err)
	}
	return nil
}

func (r *Resolver) seed(now time.Time) string {
	return fmt.Sprintf("%s|%d|%d", r.workRoot, r.pid, now.UnixNano())
}

// Generate builds an instance id from its parts. seed feeds the 4-character
// hash suffix that keeps ids distinct within the same minute.
func Generate(projectName, branch string, now time.Time, seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("%s-%s-%s-%s",
		project.Slug(projectName, fallbackProject),
		project.Slug(branch, fallbackBranch),
		now.Format("0102-1504"),
		hex.EncodeToString(sum[:])[:4],
	)
}

// sanitizeKey maps a host session id onto a safe file name stem.
func sanitizeKey(key string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(key) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
		if sb.Len() >= maxSessionKey {
			break
		}
	}
	return strings.Trim(sb.String(), "_")
}
