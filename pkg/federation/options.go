package federation

import (
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/chazu/mfhost/pkg/eventbus"
)

// Defaults for the loader
const (
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = time.Second
	DefaultCooldown         = 30 * time.Second
	DefaultContainerTimeout = 5 * time.Second
	DefaultPollInterval     = 100 * time.Millisecond
)

// Option configures a Loader
type Option func(*Loader)

// WithMaxRetries sets the number of attempts per load sequence
func WithMaxRetries(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxRetries = n
		}
	}
}

// WithRetryDelay sets the base of the linear retry delay
func WithRetryDelay(d time.Duration) Option {
	return func(l *Loader) { l.retryDelay = d }
}

// WithCooldown sets how long an exhausted key is rejected
func WithCooldown(d time.Duration) Option {
	return func(l *Loader) { l.cooldown = d }
}

// WithContainerTimeout bounds the wait for a linked container
func WithContainerTimeout(d time.Duration) Option {
	return func(l *Loader) { l.containerTimeout = d }
}

// WithPollInterval sets how often the container registry is polled
func WithPollInterval(d time.Duration) Option {
	return func(l *Loader) { l.pollInterval = d }
}

// WithClock sets the clock used for cooldowns and retry delays
func WithClock(c clock.Clock) Option {
	return func(l *Loader) { l.clock = c }
}

// WithEventBus publishes module:loaded and module:error on bus and provides
// the bus to containers through the shared scope
func WithEventBus(bus *eventbus.Bus) Option {
	return func(l *Loader) { l.bus = bus }
}

// WithSharedScope sets the scope containers are initialized with
func WithSharedScope(s *SharedScope) Option {
	return func(l *Loader) { l.shared = s }
}

// WithContainers sets the registry linked containers are looked up in
func WithContainers(c *Containers) Option {
	return func(l *Loader) { l.containers = c }
}

// WithPinger sets the pinger used by HealthCheck
func WithPinger(p Pinger) Option {
	return func(l *Loader) { l.pinger = p }
}

// WithHTTPClient sets the client used by the default pinger
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.httpClient = c }
}

// WithLogger sets the loader's base logger
func WithLogger(log logr.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// LoadOption tunes a single LoadModule call
type LoadOption func(*loadOptions)

type loadOptions struct {
	attempts int
}

// WithAttempts overrides the loader's MaxRetries for the attempt sequence
// this call starts. Callers that join an in-flight load share its sequence.
// Values below 1 are ignored.
func WithAttempts(n int) LoadOption {
	return func(o *loadOptions) {
		if n > 0 {
			o.attempts = n
		}
	}
}
