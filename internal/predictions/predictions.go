// Package predictions keeps an audit log of every detection the monitoring
// core emits. It subscribes to the event bus and records anomalies, outage
// predictions and fraud predictions for later review by tenant.
package predictions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/vigil/internal/events"
	"github.com/mbd888/vigil/internal/logging"
	"github.com/mbd888/vigil/internal/pagination"
)

var (
	ErrRecordNotFound = errors.New("prediction record not found")
	ErrInvalidRecord  = errors.New("invalid prediction record")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Record is one emitted detection.
type Record struct {
	ID        string                 `json:"id"`
	EventType events.EventType       `json:"eventType"`
	TenantID  string                 `json:"tenantId"`
	Subject   string                 `json:"subject"` // service/metric, service, or fraud source
	Score     float64                `json:"score"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"createdAt"`
}

// ListFilter narrows a listing. Zero fields match everything.
type ListFilter struct {
	TenantID  string
	EventType events.EventType
	Limit     int
	// Before restricts results to records strictly older than the cursor.
	Before *pagination.Cursor
}

func (f ListFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// Store persists records.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// List returns matching records, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Record, error)
}

// Recorder turns bus events into stored records.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{store: store, logger: logger}
}

// Subscribe registers the recorder for every detection event on bus.
func (r *Recorder) Subscribe(bus *events.Bus) {
	bus.Subscribe("predictions", r.Handle,
		events.EventAnomalyDetected,
		events.EventOutagePredicted,
		events.EventFraudPredicted,
	)
}

// Handle stores one event. It satisfies events.Handler.
func (r *Recorder) Handle(ctx context.Context, event *events.Event) error {
	rec, err := FromEvent(event)
	if err != nil {
		return err
	}
	if err := r.store.Create(ctx, rec); err != nil {
		return fmt.Errorf("record %s: %w", rec.ID, err)
	}
	r.logger.Debug("prediction recorded", "id", rec.ID, "type", rec.EventType, "tenant", rec.TenantID)
	return nil
}

// FromEvent builds a record from a detection event.
func FromEvent(event *events.Event) (*Record, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: nil event", ErrInvalidRecord)
	}
	p := event.Data
	tenantID := str(p, "tenantId")
	if tenantID == "" {
		return nil, fmt.Errorf("%w: %s event without tenantId", ErrInvalidRecord, event.Type)
	}

	rec := &Record{
		ID:        str(p, "id"),
		EventType: event.Type,
		TenantID:  tenantID,
		Payload:   p,
		CreatedAt: event.Timestamp,
	}
	if rec.ID == "" {
		rec.ID = event.ID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	switch event.Type {
	case events.EventAnomalyDetected:
		rec.Subject = str(p, "serviceName") + "/" + str(p, "metricName")
		rec.Score = num(p, "anomalyScore")
	case events.EventOutagePredicted:
		rec.Subject = str(p, "serviceName")
		rec.Score = num(p, "riskScore")
	case events.EventFraudPredicted:
		rec.Subject = str(p, "source")
		rec.Score = num(p, "riskScore")
	default:
		return nil, fmt.Errorf("%w: unexpected event type %s", ErrInvalidRecord, event.Type)
	}
	return rec, nil
}

func str(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
