package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/vigil/internal/circuitbreaker"
	"github.com/mbd888/vigil/internal/idgen"
	"github.com/mbd888/vigil/internal/metrics"
)

const (
	DefaultBufferSize     = 1024
	DefaultHandlerTimeout = 10 * time.Second
)

// Handler consumes one event. Returning an error counts against the
// subscriber's circuit breaker.
type Handler func(ctx context.Context, event *Event) error

type subscription struct {
	name    string
	types   map[EventType]bool // empty = all types
	handler Handler
}

func (s subscription) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus is an in-process Publisher that fans events out to subscribers from a
// single background loop. Publish never blocks: when the buffer is full the
// event is dropped and ErrBusFull returned.
type Bus struct {
	logger         *slog.Logger
	ch             chan *Event
	handlerTimeout time.Duration
	breaker        *circuitbreaker.Breaker

	mu   sync.RWMutex
	subs []subscription

	closed   atomic.Bool
	started  atomic.Bool
	running  atomic.Bool
	dropped  atomic.Int64
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the queue length.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.ch = make(chan *Event, n)
		}
	}
}

// WithHandlerTimeout bounds each subscriber call.
func WithHandlerTimeout(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.handlerTimeout = d
		}
	}
}

// WithBreaker replaces the per-subscriber circuit breaker.
func WithBreaker(br *circuitbreaker.Breaker) BusOption {
	return func(b *Bus) {
		if br != nil {
			b.breaker = br
		}
	}
}

// NewBus creates an idle bus. Call Start to begin delivery.
func NewBus(logger *slog.Logger, opts ...BusOption) *Bus {
	b := &Bus{
		logger:         logger,
		ch:             make(chan *Event, DefaultBufferSize),
		handlerTimeout: DefaultHandlerTimeout,
		breaker:        circuitbreaker.New(circuitbreaker.DefaultThreshold, circuitbreaker.DefaultOpenDuration),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		b.logger.Warn("subscriber circuit changed", "subscriber", key, "from", from.String(), "to", to.String())
	})
	return b
}

// Subscribe registers handler under name for the given event types (all
// types when none are given).
func (b *Bus) Subscribe(name string, handler Handler, types ...EventType) {
	sub := subscription{name: name, handler: handler, types: make(map[EventType]bool, len(types))}
	for _, t := range types {
		sub.types[t] = true
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

// Publish enqueues an event for delivery.
func (b *Bus) Publish(_ context.Context, eventType EventType, payload map[string]interface{}) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      payload,
	}
	select {
	case b.ch <- event:
		metrics.EventsPublishedTotal.WithLabelValues(string(eventType)).Inc()
		return nil
	default:
		b.dropped.Add(1)
		metrics.EventsDroppedTotal.WithLabelValues(string(eventType)).Inc()
		return ErrBusFull
	}
}

// Dropped returns the number of events dropped on a full buffer.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Running reports whether the delivery loop is active.
func (b *Bus) Running() bool {
	return b.running.Load()
}

// Start runs the delivery loop until ctx ends or Stop is called, then
// drains whatever is still queued. Call in a goroutine.
func (b *Bus) Start(ctx context.Context) {
	b.started.Store(true)
	b.running.Store(true)
	defer func() {
		b.running.Store(false)
		close(b.done)
	}()
	b.logger.Info("event bus started")

	for {
		select {
		case <-ctx.Done():
			b.drain()
			return
		case <-b.stop:
			b.drain()
			return
		case event := <-b.ch:
			b.dispatch(event)
		}
	}
}

// Stop rejects new events, flushes queued ones and waits for a started
// loop to exit. Safe to call more than once.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.closed.Store(true)
		close(b.stop)
	})
	if b.started.Load() {
		<-b.done
	}
}

func (b *Bus) drain() {
	b.closed.Store(true)
	for {
		select {
		case event := <-b.ch:
			b.dispatch(event)
		default:
			b.logger.Info("event bus stopped", "dropped", b.dropped.Load())
			return
		}
	}
}

func (b *Bus) dispatch(event *Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.wants(event.Type) {
			continue
		}
		if !b.breaker.Allow(sub.name) {
			b.logger.Debug("subscriber circuit open, skipping", "subscriber", sub.name, "event", event.Type)
			continue
		}
		if err := b.invoke(sub, event); err != nil {
			b.breaker.RecordFailure(sub.name)
			metrics.SubscriberErrorsTotal.WithLabelValues(sub.name).Inc()
			b.logger.Warn("subscriber failed", "subscriber", sub.name, "event", event.Type, "error", err)
			continue
		}
		b.breaker.RecordSuccess(sub.name)
	}
}

func (b *Bus) invoke(sub subscription, event *Event) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return sub.handler(ctx, event)
}

type panicError struct{ value interface{} }

func (p *panicError) Error() string { return "subscriber panic: " + toString(p.value) }

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	default:
		return "non-error value"
	}
}
