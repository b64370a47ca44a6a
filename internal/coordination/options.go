package coordination

import (
	"io"
	"time"

	"github.com/orchestkit/ork-coord/internal/event"
	"github.com/orchestkit/ork-coord/internal/logging"
	"github.com/orchestkit/ork-coord/internal/project"
)

// options holds optional configuration for a Coordinator.
type options struct {
	sessionKey string
	executor   project.CommandExecutor
	logger     *logging.Logger
	mirror     io.Writer
	bus        *event.Bus
	now        func() time.Time
	getenv     func(string) string
}

// Option configures a Coordinator.
type Option func(*options)

// WithSessionKey keys the identity cache by a host session id.
func WithSessionKey(key string) Option {
	return func(o *options) { o.sessionKey = key }
}

// WithExecutor sets the command executor used for git discovery.
func WithExecutor(e project.CommandExecutor) Option {
	return func(o *options) { o.executor = e }
}

// WithLogger uses l instead of opening coord.log. The Coordinator does not
// close a logger it did not open.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMirror copies log records to w in human-readable form.
func WithMirror(w io.Writer) Option {
	return func(o *options) { o.mirror = w }
}

// WithBus publishes coordination events on bus instead of a private one.
func WithBus(bus *event.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithEnv replaces os.Getenv for identity resolution.
func WithEnv(getenv func(string) string) Option {
	return func(o *options) { o.getenv = getenv }
}
