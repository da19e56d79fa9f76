// Package events defines the publish boundary between the detectors and
// whatever delivers their findings downstream.
//
// Detectors only ever call Publisher.Publish through Notify, which treats
// publishing as best-effort: a failure is logged and counted but never
// changes what the detector returns to its caller.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/vigil/internal/metrics"
)

// EventType names a published event.
type EventType string

const (
	EventAnomalyDetected EventType = "monitoring.anomaly_detected"
	EventOutagePredicted EventType = "monitoring.outage_predicted"
	EventFraudPredicted  EventType = "monitoring.fraud_predicted"
)

var (
	ErrBusFull   = errors.New("event bus full")
	ErrBusClosed = errors.New("event bus closed")
)

// Event is a published finding.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Publisher delivers events. Implementations may be asynchronous; callers
// do not wait for delivery.
type Publisher interface {
	Publish(ctx context.Context, eventType EventType, payload map[string]interface{}) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, eventType EventType, payload map[string]interface{}) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, eventType EventType, payload map[string]interface{}) error {
	return f(ctx, eventType, payload)
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, EventType, map[string]interface{}) error { return nil }

// Notify publishes best-effort: errors are logged and counted, never returned.
func Notify(ctx context.Context, p Publisher, logger *slog.Logger, eventType EventType, payload map[string]interface{}) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, eventType, payload); err != nil {
		metrics.PublishErrorsTotal.WithLabelValues(string(eventType)).Inc()
		if logger != nil {
			logger.Warn("event publish failed", "event", eventType, "error", err)
		}
	}
}
