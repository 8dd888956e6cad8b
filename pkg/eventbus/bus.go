package eventbus

import (
	"cmp"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/mfhost/pkg/metrics"
)

// Event is the envelope delivered to handlers
type Event struct {
	ID      string
	Name    string
	Payload any
	Time    time.Time
}

// Handler receives events
type Handler func(Event)

// Subscription is a single registration of a handler for an event name
type Subscription struct {
	bus     *Bus
	name    string
	handler Handler
	seq     uint64
}

// Name returns the event name the subscription is registered for
func (s *Subscription) Name() string {
	return s.name
}

// Unsubscribe removes exactly this registration. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.Off(s.name, s)
}

// Bus is a typed-by-name publish/subscribe bus
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]map[*Subscription]struct{}
	seq      uint64

	log   logr.Logger
	trace bool
}

// Option configures a Bus
type Option func(*Bus)

// WithLogger sets the logger used for handler failures and tracing
func WithLogger(log logr.Logger) Option {
	return func(b *Bus) { b.log = log }
}

// WithTrace logs every emission at V(1)
func WithTrace() Option {
	return func(b *Bus) { b.trace = true }
}

// New creates an empty bus
func New(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string]map[*Subscription]struct{}),
		log:      logf.Log.WithName("eventbus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers handler for name and returns its subscription
func (b *Bus) On(name string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	sub := &Subscription{bus: b, name: name, handler: handler, seq: b.seq}

	set, ok := b.handlers[name]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.handlers[name] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Subscribe is an alias of On
func (b *Bus) Subscribe(name string, handler Handler) *Subscription {
	return b.On(name, handler)
}

// Off removes sub from name. Removing the last handler deletes the name.
func (b *Bus) Off(name string, sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.handlers[name]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.handlers, name)
	}
}

// Once registers a handler that runs at most once. The registration is
// removed before the handler is invoked.
func (b *Bus) Once(name string, handler Handler) *Subscription {
	var fired atomic.Bool
	var sub *Subscription
	ready := make(chan struct{})

	sub = b.On(name, func(e Event) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		<-ready
		sub.Unsubscribe()
		handler(e)
	})
	close(ready)
	return sub
}

// Emit delivers payload to the handlers registered for name at the time of
// the call, in registration order. A handler removed by an earlier handler
// of the same emission is skipped.
func (b *Bus) Emit(name string, payload any) {
	b.mu.RLock()
	set := b.handlers[name]
	snapshot := make([]*Subscription, 0, len(set))
	for sub := range set {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()
	slices.SortFunc(snapshot, func(x, y *Subscription) int { return cmp.Compare(x.seq, y.seq) })

	evt := Event{
		ID:      uuid.NewString(),
		Name:    name,
		Payload: payload,
		Time:    time.Now(),
	}

	metrics.RecordEvent(name)
	if b.trace {
		b.log.V(1).Info("Emitting event", "event", name, "id", evt.ID, "handlers", len(snapshot))
	}

	for _, sub := range snapshot {
		if !b.registered(sub) {
			continue
		}
		b.dispatch(sub, evt)
	}
}

func (b *Bus) registered(sub *Subscription) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.handlers[sub.name][sub]
	return ok
}

func (b *Bus) dispatch(sub *Subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordHandlerPanic(evt.Name)
			b.log.Error(fmt.Errorf("handler panicked: %v", r), "Error in event handler",
				"event", evt.Name, "id", evt.ID, "stack", string(debug.Stack()))
		}
	}()
	sub.handler(evt)
}

// Clear removes the handlers for the given names, or all handlers when no
// names are given
func (b *Bus) Clear(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(names) == 0 {
		b.handlers = make(map[string]map[*Subscription]struct{})
		return
	}
	for _, name := range names {
		delete(b.handlers, name)
	}
}

// HandlerCount returns the number of handlers registered for name
func (b *Bus) HandlerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.handlers[name])
}

// Names returns the event names that currently have handlers
func (b *Bus) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	return names
}
