package coordination

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/orchestkit/ork-coord/internal/config"
	"github.com/orchestkit/ork-coord/internal/errors"
	"github.com/orchestkit/ork-coord/internal/event"
	"github.com/orchestkit/ork-coord/internal/filelock"
	"github.com/orchestkit/ork-coord/internal/identity"
	"github.com/orchestkit/ork-coord/internal/logging"
	"github.com/orchestkit/ork-coord/internal/project"
	"github.com/orchestkit/ork-coord/internal/reaper"
	"github.com/orchestkit/ork-coord/internal/store"
	"github.com/orchestkit/ork-coord/internal/workclaim"
)

// ReasonDisabled is the skip reason used while coordination is not enabled.
const ReasonDisabled = "coordination disabled"

// Coordinator wires identity, store and managers together for one project.
type Coordinator struct {
	cfg  *config.Config
	info *project.Info
	dir  string
	now  func() time.Time

	store  store.Backend
	bus    *event.Bus
	logger *logging.Logger
	ids    *identity.Resolver
	locks  *filelock.Manager
	claims *workclaim.Tracker
	reaper *reaper.Reaper

	ownsLogger bool
	auditSub   string

	closeOnce sync.Once
	closeErr  error
}

// Status is a point-in-time view of the coordination state.
type Status struct {
	Project    string            `json:"project" yaml:"project"`
	Dir        string            `json:"dir" yaml:"dir"`
	Backend    string            `json:"backend" yaml:"backend"`
	Enabled    bool              `json:"enabled" yaml:"enabled"`
	InstanceID string            `json:"instance_id,omitempty" yaml:"instance_id,omitempty"`
	Locks      []store.Lock      `json:"locks" yaml:"locks"`
	Claims     []store.WorkClaim `json:"work_claims" yaml:"work_claims"`
}

// Open detects the project containing dir and builds a Coordinator for it.
// A nil cfg uses config.Default(). Open never creates the store.
func Open(dir string, cfg *config.Config, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.executor == nil {
		o.executor = project.NewCLICommandExecutor()
	}

	info, err := project.DetectWith(o.executor, dir)
	if err != nil {
		return nil, errors.Wrap(err, "detecting project")
	}

	c := &Coordinator{
		cfg:  cfg,
		info: info,
		dir:  filepath.Join(info.Root, cfg.Coordination.Dir),
		now:  o.now,
	}

	c.openLogger(o)

	c.bus = o.bus
	if c.bus == nil {
		c.bus = event.NewBus(c.logger)
	}
	c.auditSub = c.bus.SubscribeAll(c.audit)

	c.store, err = store.Open(c.dir, cfg.Coordination.Backend,
		store.WithLogger(c.logger),
		store.WithLockWait(cfg.Coordination.LockWait))
	if err != nil {
		_ = c.Close()
		return nil, errors.NewUserError(err, "set coordination.backend to one of: json, sqlite")
	}

	idOpts := []identity.Option{
		identity.WithOverrideEnv(cfg.Identity.OverrideEnv),
		identity.WithCoordinationDir(cfg.Coordination.Dir),
		identity.WithSessionKey(o.sessionKey),
		identity.WithClock(o.now),
		identity.WithLogger(c.logger),
	}
	if o.getenv != nil {
		idOpts = append(idOpts, identity.WithEnv(o.getenv))
	}
	c.ids = identity.New(info, idOpts...)

	c.locks = filelock.NewManager(c.store, info.WorkRoot,
		filelock.WithBus(c.bus),
		filelock.WithLogger(c.logger),
		filelock.WithClock(o.now),
		filelock.WithDefaultTTL(cfg.Coordination.LockTTL),
		filelock.WithCoordinationDir(cfg.Coordination.Dir))
	c.claims = workclaim.NewTracker(c.store,
		workclaim.WithBus(c.bus),
		workclaim.WithLogger(c.logger),
		workclaim.WithClock(o.now))
	c.reaper = reaper.New(c.store,
		reaper.WithBus(c.bus),
		reaper.WithLogger(c.logger),
		reaper.WithClock(o.now))

	return c, nil
}

// openLogger writes coord.log into the coordination directory once it
// exists, so read-only commands never create it.
func (c *Coordinator) openLogger(o *options) {
	if o.logger != nil {
		c.logger = o.logger.WithProject(c.info.Root).WithSession(o.sessionKey)
		return
	}

	logDir := ""
	if c.cfg.Logging.Enabled && dirExists(c.dir) {
		logDir = c.dir
	}
	if logDir == "" && o.mirror == nil {
		c.logger = logging.NopLogger()
		return
	}

	l, err := logging.New(logging.Options{
		Dir:   logDir,
		Level: c.cfg.Logging.Level,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  c.cfg.Logging.MaxSizeMB,
			MaxBackups: c.cfg.Logging.MaxBackups,
			Compress:   c.cfg.Logging.Compress,
		},
		Mirror: o.mirror,
	})
	if err != nil {
		// Logging is best effort.
		c.logger = logging.NopLogger()
		return
	}
	c.logger = l.WithProject(c.info.Root).WithSession(o.sessionKey)
	c.ownsLogger = true
}

func (c *Coordinator) audit(e event.Event) {
	c.logger.Debug("coordination event", "type", e.EventType(), "at", e.Timestamp())
}

// Enabled reports whether coordination is active for the project: the store
// exists, or auto_init lets the first write create it.
func (c *Coordinator) Enabled() bool {
	return c.cfg.Coordination.AutoInit || c.store.Exists()
}

// Init creates the coordination directory and an empty store. Running it on
// an initialized project purges expired entries and changes nothing else.
func (c *Coordinator) Init(ctx context.Context) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return errors.NewSystemError(errors.Wrapf(err, "creating %s", c.dir), "check directory permissions")
	}
	now := c.now()
	_, purged, err := c.store.Update(ctx, now, func(*store.Snapshot) error { return nil })
	if err != nil {
		return err
	}
	c.bus.PublishPurged(now, purged)
	c.logger.Info("coordination initialized", "dir", c.dir, "backend", c.store.Kind())
	return nil
}

// InstanceID resolves the identity of this instance.
func (c *Coordinator) InstanceID() string {
	return c.ids.Resolve()
}

// Acquire locks path for this instance. A ttl <= 0 uses coordination.lock_ttl.
func (c *Coordinator) Acquire(ctx context.Context, path string, ttl time.Duration) filelock.Result {
	if !c.Enabled() {
		return filelock.Result{Status: filelock.Skipped, Path: path, Reason: ReasonDisabled}
	}
	return c.locks.Acquire(ctx, path, c.InstanceID(), ttl)
}

// AcquireMany locks all paths for this instance or none of them.
func (c *Coordinator) AcquireMany(ctx context.Context, paths []string, ttl time.Duration) filelock.Result {
	if !c.Enabled() {
		return filelock.Result{Status: filelock.Skipped, Reason: ReasonDisabled}
	}
	return c.locks.AcquireMany(ctx, paths, c.InstanceID(), ttl)
}

// Release frees this instance's lock on path. It never creates the store.
func (c *Coordinator) Release(ctx context.Context, path string) (bool, error) {
	if !c.store.Exists() {
		return false, nil
	}
	return c.locks.Release(ctx, path, c.InstanceID())
}

// Claim claims taskID for this instance. A ttl of 0 uses
// coordination.claim_ttl; a negative ttl claims without expiry.
func (c *Coordinator) Claim(ctx context.Context, taskID string, ttl time.Duration) workclaim.Result {
	if !c.Enabled() {
		return workclaim.Result{Status: workclaim.Skipped, TaskID: taskID}
	}
	switch {
	case ttl == 0:
		ttl = c.cfg.Coordination.ClaimTTL
	case ttl < 0:
		ttl = 0
	}
	return c.claims.Claim(ctx, taskID, c.InstanceID(), ttl)
}

// ReleaseClaim frees this instance's claim on taskID.
func (c *Coordinator) ReleaseClaim(ctx context.Context, taskID string) (bool, error) {
	if !c.store.Exists() {
		return false, nil
	}
	return c.claims.Release(ctx, taskID, c.InstanceID())
}

// Reap releases everything this instance holds. Only an identity that was
// already resolved, overridden or cached is reaped.
func (c *Coordinator) Reap(ctx context.Context) reaper.Report {
	return c.reaper.ReapIdentity(ctx, c.ids)
}

// ReapInstance releases everything instanceID holds.
func (c *Coordinator) ReapInstance(ctx context.Context, instanceID string) reaper.Report {
	return c.reaper.Reap(ctx, instanceID)
}

// GC purges expired locks and claims. A missing store is left alone.
func (c *Coordinator) GC(ctx context.Context) (store.Purged, error) {
	if !c.store.Exists() {
		return store.Purged{}, nil
	}
	now := c.now()
	_, purged, err := c.store.Update(ctx, now, func(*store.Snapshot) error { return store.ErrSkipWrite })
	if err != nil {
		return store.Purged{}, err
	}
	c.bus.PublishPurged(now, purged)
	if purged.Total() > 0 {
		c.logger.Info("purged expired entries", "locks", len(purged.Locks), "claims", len(purged.Claims))
	}
	return purged, nil
}

// Status returns the live locks and claims of the project.
func (c *Coordinator) Status(ctx context.Context) Status {
	st := Status{
		Project: c.info.Root,
		Dir:     c.dir,
		Backend: c.store.Kind(),
		Enabled: c.Enabled(),
		Locks:   c.locks.List(ctx),
		Claims:  c.claims.List(ctx),
	}
	if id, ok := c.ids.Lookup(); ok {
		st.InstanceID = id
	}
	if st.Locks == nil {
		st.Locks = []store.Lock{}
	}
	if st.Claims == nil {
		st.Claims = []store.WorkClaim{}
	}
	return st
}

// Close releases the store and the log file. It is idempotent.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		if c.bus != nil {
			c.bus.Unsubscribe(c.auditSub)
		}
		if c.store != nil {
			c.closeErr = c.store.Close()
		}
		if c.ownsLogger {
			if err := c.logger.Close(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
	})
	return c.closeErr
}

// Config returns the configuration in use.
func (c *Coordinator) Config() *config.Config { return c.cfg }

// Project returns the detected project.
func (c *Coordinator) Project() *project.Info { return c.info }

// Dir returns the absolute coordination directory.
func (c *Coordinator) Dir() string { return c.dir }

// Store returns the shared store backend.
func (c *Coordinator) Store() store.Backend { return c.store }

// Bus returns the event bus.
func (c *Coordinator) Bus() *event.Bus { return c.bus }

// Logger returns the coordination logger.
func (c *Coordinator) Logger() *logging.Logger { return c.logger }

// Identity returns the identity resolver.
func (c *Coordinator) Identity() *identity.Resolver { return c.ids }

// Locks returns the file lock manager.
func (c *Coordinator) Locks() *filelock.Manager { return c.locks }

// Claims returns the work claim tracker.
func (c *Coordinator) Claims() *workclaim.Tracker { return c.claims }

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
