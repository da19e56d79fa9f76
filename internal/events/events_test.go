package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/vigil/internal/circuitbreaker"
	"github.com/mbd888/vigil/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []*Event
}

func (r *recorder) handle(_ context.Context, e *Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestNotify_SwallowsErrors(t *testing.T) {
	var called bool
	p := PublisherFunc(func(context.Context, EventType, map[string]interface{}) error {
		called = true
		return errors.New("broker down")
	})

	assert.NotPanics(t, func() {
		Notify(context.Background(), p, logging.Discard(), EventAnomalyDetected, map[string]interface{}{"id": "a"})
	})
	assert.True(t, called)

	// nil publisher and nil logger are tolerated
	Notify(context.Background(), nil, nil, EventAnomalyDetected, nil)
	Notify(context.Background(), p, nil, EventAnomalyDetected, nil)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), EventFraudPredicted, nil))
}

func TestBus_DeliversToMatchingSubscribers(t *testing.T) {
	bus := NewBus(logging.Discard())
	all := &recorder{}
	fraudOnly := &recorder{}
	bus.Subscribe("all", all.handle)
	bus.Subscribe("fraud", fraudOnly.handle, EventFraudPredicted)

	require.NoError(t, bus.Publish(context.Background(), EventAnomalyDetected, map[string]interface{}{"id": "1"}))
	require.NoError(t, bus.Publish(context.Background(), EventFraudPredicted, map[string]interface{}{"id": "2"}))

	ctx, cancel := context.WithCancel(context.Background())
	go bus.Start(ctx)
	require.Eventually(t, func() bool { return all.len() == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	assert.Equal(t, 1, fraudOnly.len())
	assert.Equal(t, EventFraudPredicted, fraudOnly.events[0].Type)
	assert.Equal(t, "2", fraudOnly.events[0].Data["id"])
	assert.NotEmpty(t, fraudOnly.events[0].ID)
}

func TestBus_DropsOnFull(t *testing.T) {
	bus := NewBus(logging.Discard(), WithBufferSize(2))

	for i := 0; i < 2; i++ {
		require.NoError(t, bus.Publish(context.Background(), EventOutagePredicted, nil))
	}
	err := bus.Publish(context.Background(), EventOutagePredicted, nil)
	assert.ErrorIs(t, err, ErrBusFull)
	assert.Equal(t, int64(1), bus.Dropped())
}

func TestBus_StopDrainsAndCloses(t *testing.T) {
	bus := NewBus(logging.Discard())
	rec := &recorder{}
	bus.Subscribe("rec", rec.handle)

	go bus.Start(context.Background())
	require.Eventually(t, bus.Running, time.Second, time.Millisecond)

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(context.Background(), EventAnomalyDetected, nil))
	}
	bus.Stop()

	assert.Equal(t, 10, rec.len())
	assert.ErrorIs(t, bus.Publish(context.Background(), EventAnomalyDetected, nil), ErrBusClosed)
	bus.Stop() // idempotent
}

func TestBus_FailingSubscriberTripsBreaker(t *testing.T) {
	bus := NewBus(logging.Discard(), WithBreaker(circuitbreaker.New(2, time.Hour)))
	var mu sync.Mutex
	calls := 0
	bus.Subscribe("flaky", func(context.Context, *Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("boom")
	})
	healthy := &recorder{}
	bus.Subscribe("healthy", healthy.handle)

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(context.Background(), EventAnomalyDetected, nil))
	}
	go bus.Start(context.Background())
	require.Eventually(t, bus.Running, time.Second, time.Millisecond)
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls, "breaker should stop deliveries after threshold")
	assert.Equal(t, 5, healthy.len())
}

func TestBus_RecoversFromPanickingSubscriber(t *testing.T) {
	bus := NewBus(logging.Discard())
	bus.Subscribe("panics", func(context.Context, *Event) error { panic("bad handler") })
	rec := &recorder{}
	bus.Subscribe("rec", rec.handle)

	require.NoError(t, bus.Publish(context.Background(), EventAnomalyDetected, nil))
	go bus.Start(context.Background())
	require.Eventually(t, bus.Running, time.Second, time.Millisecond)
	bus.Stop()

	assert.Equal(t, 1, rec.len())
}
