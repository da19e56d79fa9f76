package anomaly

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/mbd888/vigil/internal/baseline"
	"github.com/mbd888/vigil/internal/events"
	"github.com/mbd888/vigil/internal/idgen"
	"github.com/mbd888/vigil/internal/logging"
	"github.com/mbd888/vigil/internal/metrics"
	"github.com/mbd888/vigil/internal/validation"
)

// HistorySource supplies baseline snapshots. *baseline.Store satisfies it.
type HistorySource interface {
	History(metricName string) []float64
}

// Detector scores samples against their baseline history.
type Detector struct {
	history   HistorySource
	cfg       Config
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithPublisher sets where detections are announced.
func WithPublisher(p events.Publisher) Option {
	return func(d *Detector) { d.publisher = p }
}

// WithLogger sets the detector's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// NewDetector creates a detector reading history from src.
func NewDetector(src HistorySource, cfg Config, opts ...Option) *Detector {
	d := &Detector{
		history:   src,
		cfg:       cfg.withDefaults(),
		publisher: events.Nop{},
		logger:    logging.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Detect compares value with metricName's baseline. It returns nil when the
// history is too short or |Z| does not exceed the metric's threshold.
func (d *Detector) Detect(ctx context.Context, tenantID, serviceName, metricName string, value float64) (*Anomaly, error) {
	if err := validation.Validate(
		validation.Required("tenantId", tenantID),
		validation.Required("serviceName", serviceName),
		validation.MetricName("metricName", metricName),
		validation.Finite("value", value),
	); err != nil {
		return nil, err
	}

	history := d.history.History(metricName)
	if len(history) < d.cfg.MinDataPoints {
		metrics.AnomalyEvaluationsTotal.WithLabelValues("insufficient_data").Inc()
		return nil, nil
	}

	mean := baseline.Mean(history)
	stdDev := baseline.PopulationStdDev(history, mean)
	z := ZScore(value, mean, stdDev)
	score := math.Abs(z)
	threshold := d.cfg.ThresholdFor(metricName)

	if score <= threshold {
		metrics.AnomalyEvaluationsTotal.WithLabelValues("normal").Inc()
		return nil, nil
	}

	a := &Anomaly{
		ID:           idgen.WithPrefix("anom_"),
		TenantID:     tenantID,
		MetricName:   metricName,
		ServiceName:  serviceName,
		AnomalyScore: score,
		Threshold:    threshold,
		Confidence:   Confidence(score, len(history)),
		DetectedAt:   d.now(),
		Status:       StatusActive,
		Metadata: Metadata{
			BaselineMean:   mean,
			BaselineStd:    stdDev,
			CurrentValue:   value,
			ZScore:         z,
			TrendDirection: TrendOf(history, d.cfg.TrendWindow, d.cfg.TrendChange),
			DataPoints:     len(history),
		},
	}

	metrics.AnomalyEvaluationsTotal.WithLabelValues("detected").Inc()
	metrics.AnomaliesDetectedTotal.WithLabelValues(metricName).Inc()
	d.logger.Info("anomaly detected",
		"tenant", tenantID,
		"service", serviceName,
		"metric", metricName,
		"z_score", z,
		"threshold", threshold,
	)
	events.Notify(ctx, d.publisher, d.logger, events.EventAnomalyDetected, a.Payload())
	return a, nil
}

// ZScore returns (value-mean)/stdDev, or 0 when stdDev is 0.
func ZScore(value, mean, stdDev float64) float64 {
	if stdDev == 0 {
		return 0
	}
	return (value - mean) / stdDev
}

// Confidence blends score magnitude (70%) with sample size (30%), each
// capped at 1.
func Confidence(absZ float64, dataPoints int) float64 {
	magnitude := math.Min(absZ/4, 1)
	sample := math.Min(float64(dataPoints)/100, 1)
	return 0.7*magnitude + 0.3*sample
}

// TrendOf compares the mean of the last window values with the mean of the
// window before it. Histories shorter than 2*window, or a zero prior mean,
// are stable.
func TrendOf(history []float64, window int, change float64) Trend {
	if window <= 0 || len(history) < 2*window {
		return TrendStable
	}
	n := len(history)
	recent := baseline.Mean(history[n-window:])
	previous := baseline.Mean(history[n-2*window : n-window])
	if previous == 0 {
		return TrendStable
	}

	rel := (recent - previous) / math.Abs(previous)
	switch {
	case rel > change:
		return TrendIncreasing
	case rel < -change:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
