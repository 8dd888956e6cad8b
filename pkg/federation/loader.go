package federation

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/mfhost/api/v1alpha1"
	"github.com/chazu/mfhost/pkg/eventbus"
	"github.com/chazu/mfhost/pkg/metrics"
)

// Loader loads exports from remote containers
type Loader struct {
	state      *LoaderState
	document   *Document
	containers *Containers
	shared     *SharedScope
	bus        *eventbus.Bus
	clock      clock.Clock
	pinger     Pinger
	httpClient *http.Client
	log        logr.Logger

	maxRetries       int
	retryDelay       time.Duration
	cooldown         time.Duration
	containerTimeout time.Duration
	pollInterval     time.Duration
}

// NewLoader creates a loader that links remote entries with linker
func NewLoader(linker Linker, opts ...Option) *Loader {
	l := &Loader{
		state:            NewLoaderState(),
		document:         NewDocument(linker),
		clock:            clock.RealClock{},
		log:              logf.Log.WithName("federation"),
		maxRetries:       DefaultMaxRetries,
		retryDelay:       DefaultRetryDelay,
		cooldown:         DefaultCooldown,
		containerTimeout: DefaultContainerTimeout,
		pollInterval:     DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.containers == nil {
		l.containers = NewContainers()
	}
	if l.shared == nil {
		l.shared = NewSharedScope(DefaultShareScope)
	}
	if l.httpClient == nil {
		l.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if l.pinger == nil {
		l.pinger = &httpPinger{client: l.httpClient}
	}
	if l.bus != nil {
		l.shared.Provide(SharedEventBus, "1.0.0", l.bus)
	}
	return l
}

// Containers returns the container registry the loader reads
func (l *Loader) Containers() *Containers {
	return l.containers
}

// SharedScope returns the scope containers are initialized with
func (l *Loader) SharedScope() *SharedScope {
	return l.shared
}

// LoadModule returns the export named by ref. A loaded export is returned
// from cache. Concurrent callers share one in-flight load; ctx bounds only
// the caller's wait, the load itself runs to completion and is cached.
func (l *Loader) LoadModule(ctx context.Context, ref v1alpha1.ModuleReference, opts ...LoadOption) (*Export, error) {
	key := KeyFor(ref)
	o := loadOptions{attempts: l.maxRetries}
	for _, opt := range opts {
		opt(&o)
	}

	l.state.mu.Lock()
	if export, ok := l.state.loaded[key]; ok {
		l.state.mu.Unlock()
		metrics.RecordCacheHit()
		return export, nil
	}
	if pending, ok := l.state.loading[key]; ok {
		l.state.mu.Unlock()
		metrics.RecordSharedWait()
		return l.wait(ctx, pending)
	}
	if failed, ok := l.state.failed[key]; ok {
		if elapsed := l.clock.Since(failed.FailedAt); elapsed < l.cooldown {
			l.state.mu.Unlock()
			metrics.RecordCooldownRejection()
			return nil, &RecentFailureError{
				Key:        key,
				FailedAt:   failed.FailedAt,
				RetryAfter: l.cooldown - elapsed,
				LastError:  failed.Error,
			}
		}
		delete(l.state.failed, key)
	}
	pending := newPendingLoad(ref, o.attempts)
	l.state.loading[key] = pending
	l.updateCountsLocked()
	l.state.mu.Unlock()

	go l.run(logf.IntoContext(context.WithoutCancel(ctx), l.log), key, pending)

	return l.wait(ctx, pending)
}

func (l *Loader) wait(ctx context.Context, pending *pendingLoad) (*Export, error) {
	select {
	case <-pending.done:
		return pending.export, pending.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run performs the attempt sequence for key and settles pending
func (l *Loader) run(ctx context.Context, key Key, pending *pendingLoad) {
	ref := pending.ref
	logger := logf.FromContext(ctx).WithValues("module", key.String(), "url", ref.URL)
	start := l.clock.Now()

	export, attempts, err := l.loadWithRetry(ctx, ref, key, pending.attempts)

	l.state.mu.Lock()
	// A purge while loading detaches this sequence from the state
	current := l.state.loading[key] == pending
	if current {
		delete(l.state.loading, key)
	}
	if err != nil {
		err = &LoadError{Key: key, Name: ref.Name, URL: ref.URL, Attempts: attempts, Err: err}
		if current {
			l.state.failed[key] = FailedLoad{
				Module:   ref.Module,
				Key:      key.String(),
				Error:    err.Error(),
				FailedAt: l.clock.Now(),
				Attempts: attempts,
			}
		}
	} else if current {
		l.state.loaded[key] = export
	}
	pending.export, pending.err = export, err
	l.updateCountsLocked()
	l.state.mu.Unlock()

	// Waiters are released after the event so handlers observe the load first
	defer close(pending.done)

	duration := l.clock.Since(start).Seconds()
	if err != nil {
		metrics.RecordLoad("failure", duration)
		logger.Error(err, "Module load failed", "attempts", attempts)
		l.emit(v1alpha1.EventModuleError, v1alpha1.ModuleErrorPayload{Module: key.String(), Error: err.Error()})
		return
	}
	metrics.RecordLoad("success", duration)
	logger.Info("Module loaded", "attempts", attempts)
	l.emit(v1alpha1.EventModuleLoaded, v1alpha1.ModuleLoadedPayload{Key: key.String()})
}

// loadWithRetry runs up to maxAttempts attempts with a linear delay between them
func (l *Loader) loadWithRetry(ctx context.Context, ref v1alpha1.ModuleReference, key Key, maxAttempts int) (*Export, int, error) {
	logger := logf.FromContext(ctx).WithValues("module", key.String())

	attempts := 0
	policy := backoff.WithMaxRetries(&linearBackOff{base: l.retryDelay}, uint64(maxAttempts-1))
	export, err := backoff.RetryNotifyWithTimerAndData(func() (*Export, error) {
		attempts++
		export, err := l.loadRemote(ctx, ref, key)
		if err != nil {
			metrics.RecordAttempt("failure")
			return nil, err
		}
		metrics.RecordAttempt("success")
		export.Attempts = attempts
		return export, nil
	}, policy, func(err error, next time.Duration) {
		logger.Info("Module load attempt failed, retrying", "attempt", attempts, "maxAttempts", maxAttempts,
			"retryIn", next.String(), "error", err.Error())
	}, &clockTimer{clock: l.clock})

	return export, attempts, err
}

// loadRemote is a single attempt: link, wait for the container, handshake,
// then instantiate the export
func (l *Loader) loadRemote(ctx context.Context, ref v1alpha1.ModuleReference, key Key) (*Export, error) {
	if err := l.document.Ensure(ctx, ref.URL); err != nil {
		return nil, err
	}

	container, err := l.waitForContainer(ctx, ref.Scope)
	if err != nil {
		return nil, err
	}

	l.shared.Init()
	if err := container.Init(ctx, l.shared); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrHandshake, ref.Scope, err)
	}

	factory, err := container.Get(ctx, ref.Module)
	if err != nil {
		return nil, fmt.Errorf("%w: %s in %s: %w", ErrExportNotFound, ref.Module, ref.Scope, err)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrExportNotFound, ref.Module, ref.Scope)
	}

	value, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate %s: %w", key, err)
	}
	if isNil(value) {
		return nil, fmt.Errorf("%w: %s in %s returned no value", ErrExportNotFound, ref.Module, ref.Scope)
	}

	return &Export{Key: key, Value: value, URL: ref.URL, LoadedAt: l.clock.Now()}, nil
}

// waitForContainer polls the registry until scope is registered
func (l *Loader) waitForContainer(ctx context.Context, scope string) (Container, error) {
	var container Container
	err := wait.PollUntilContextTimeout(ctx, l.pollInterval, l.containerTimeout, true, func(context.Context) (bool, error) {
		c, ok := l.containers.Lookup(scope)
		if ok {
			container = c
		}
		return ok, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s not registered within %s", ErrContainerTimeout, scope, l.containerTimeout)
	}
	return container, nil
}

// UnloadModule purges every record whose scope starts with scopePrefix and
// returns the number of records removed
func (l *Loader) UnloadModule(scopePrefix string) int {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	removed := l.state.purge(func(k Key) bool { return k.hasScopePrefix(scopePrefix) })
	l.updateCountsLocked()
	if removed > 0 {
		l.log.Info("Unloaded modules", "scopePrefix", scopePrefix, "removed", removed)
	}
	return removed
}

// Forget purges ref's scope and drops its container and linked entry so the
// next load links the entry again
func (l *Loader) Forget(ref v1alpha1.ModuleReference) int {
	l.state.mu.Lock()
	removed := l.state.purge(func(k Key) bool { return k.Scope == ref.Scope })
	l.updateCountsLocked()
	l.state.mu.Unlock()

	l.containers.Remove(ref.Scope)
	if ref.URL != "" {
		l.document.Remove(ref.URL)
	}
	l.log.Info("Forgot remote", "scope", ref.Scope, "url", ref.URL, "removed", removed)
	return removed
}

// ClearCache empties every cache
func (l *Loader) ClearCache() {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	l.state.purge(func(Key) bool { return true })
	l.updateCountsLocked()
}

// Stats returns a snapshot of the loader state
func (l *Loader) Stats() Stats {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	return l.state.snapshot()
}

// LoadedModules returns the keys of loaded exports
func (l *Loader) LoadedModules() []string {
	return l.Stats().LoadedModules
}

// FailedLoads returns the records of exhausted loads
func (l *Loader) FailedLoads() []FailedLoad {
	return l.Stats().FailedLoads
}

// updateCountsLocked publishes the map sizes. Callers hold state.mu.
func (l *Loader) updateCountsLocked() {
	metrics.SetModuleCounts(l.state.counts())
}

func (l *Loader) emit(name string, payload any) {
	if l.bus != nil {
		l.bus.Emit(name, payload)
	}
}

// isNil reports whether v is nil or a typed nil
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
