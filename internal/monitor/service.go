// Package monitor is the entry point of the predictive monitoring core.
//
// Service owns no state of its own: it validates inbound records, wraps every
// operation in a span and a latency observation, and delegates to the
// baseline store and the three detectors.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/vigil/internal/anomaly"
	"github.com/mbd888/vigil/internal/baseline"
	"github.com/mbd888/vigil/internal/chain"
	"github.com/mbd888/vigil/internal/fraud"
	"github.com/mbd888/vigil/internal/metrics"
	"github.com/mbd888/vigil/internal/outage"
	"github.com/mbd888/vigil/internal/traces"
	"github.com/mbd888/vigil/internal/validation"
)

var (
	// ErrInvalidInput is returned for missing names and non-finite numbers.
	ErrInvalidInput = validation.ErrInvalidInput

	// ErrChainDisabled is returned by ScanWallet when no chain collector is configured.
	ErrChainDisabled = errors.New("monitor: chain scanning not configured")
)

// Service exposes the monitoring operations to the HTTP and MCP surfaces.
type Service struct {
	baselines *baseline.Store
	anomalies *anomaly.Detector
	outages   *outage.Predictor
	fraud     *fraud.Predictor
	chain     *chain.Collector
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithChain enables wallet scanning through collector.
func WithChain(collector *chain.Collector) Option {
	return func(s *Service) { s.chain = collector }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService wires a Service. The anomaly detector should read from the same
// baseline store passed here so recorded samples are visible to detection.
func NewService(baselines *baseline.Store, anomalies *anomaly.Detector, outages *outage.Predictor, fraudPredictor *fraud.Predictor, opts ...Option) *Service {
	s := &Service{
		baselines: baselines,
		anomalies: anomalies,
		outages:   outages,
		fraud:     fraudPredictor,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChainEnabled reports whether ScanWallet can be used.
func (s *Service) ChainEnabled() bool {
	return s.chain != nil
}

// RecordMetric appends the sample to its baseline and then evaluates it
// against the updated history. A nil anomaly means the value is normal or the
// history is still too short.
func (s *Service) RecordMetric(ctx context.Context, tenantID string, sample baseline.Sample) (_ *anomaly.Anomaly, retErr error) {
	ctx, span := traces.StartSpan(ctx, "monitor.RecordMetric",
		traces.TenantID(tenantID),
		traces.ServiceName(sample.ServiceName),
		traces.MetricName(sample.MetricName),
	)
	defer func() {
		traces.Fail(span, retErr)
		span.End()
	}()
	defer metrics.ObserveDetection("record_metric")()

	if err := validation.Validate(
		validation.Required("tenantId", tenantID),
		validation.Required("serviceName", sample.ServiceName),
		validation.MetricName("metricName", sample.MetricName),
		validation.Finite("value", sample.Value),
	); err != nil {
		return nil, err
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}

	s.baselines.Record(sample)
	a, err := s.anomalies.Detect(ctx, tenantID, sample.ServiceName, sample.MetricName, sample.Value)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.Detected(a != nil))
	return a, nil
}

// UpdateBaseline appends value to metricName's history without evaluating it.
func (s *Service) UpdateBaseline(ctx context.Context, metricName string, value float64) error {
	_, span := traces.StartSpan(ctx, "monitor.UpdateBaseline", traces.MetricName(metricName))
	defer span.End()

	if err := validation.Validate(
		validation.MetricName("metricName", metricName),
		validation.Finite("value", value),
	); err != nil {
		traces.Fail(span, err)
		return err
	}
	s.baselines.Update(metricName, value)
	return nil
}

// History returns a copy of metricName's baseline, oldest first.
func (s *Service) History(metricName string) []float64 {
	return s.baselines.History(metricName)
}

// Baseline summarizes metricName's current history.
func (s *Service) Baseline(metricName string) baseline.Stats {
	return baseline.Summarize(s.baselines.History(metricName))
}

// DetectAnomaly evaluates value against metricName's baseline without
// recording it.
func (s *Service) DetectAnomaly(ctx context.Context, tenantID, serviceName, metricName string, value float64) (_ *anomaly.Anomaly, retErr error) {
	ctx, span := traces.StartSpan(ctx, "monitor.DetectAnomaly",
		traces.TenantID(tenantID),
		traces.ServiceName(serviceName),
		traces.MetricName(metricName),
	)
	defer func() {
		traces.Fail(span, retErr)
		span.End()
	}()
	defer metrics.ObserveDetection("anomaly")()

	a, err := s.anomalies.Detect(ctx, tenantID, serviceName, metricName, value)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.Detected(a != nil))
	if a != nil {
		span.SetAttributes(traces.Score(a.AnomalyScore))
	}
	return a, nil
}

// DetectOutageRisk scores a snapshot of a service's current readings.
func (s *Service) DetectOutageRisk(ctx context.Context, tenantID, serviceName string, readings map[string]float64) (_ *outage.Prediction, retErr error) {
	ctx, span := traces.StartSpan(ctx, "monitor.DetectOutageRisk",
		traces.TenantID(tenantID),
		traces.ServiceName(serviceName),
	)
	defer func() {
		traces.Fail(span, retErr)
		span.End()
	}()
	defer metrics.ObserveDetection("outage")()

	p, err := s.outages.Predict(ctx, tenantID, serviceName, readings)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.Detected(p != nil))
	if p != nil {
		span.SetAttributes(traces.Score(p.RiskScore))
	}
	return p, nil
}

// DetectFraud scores a transaction summary against the tenant's profile.
func (s *Service) DetectFraud(ctx context.Context, tenantID string, tx *fraud.Transaction) (_ *fraud.Prediction, retErr error) {
	ctx, span := traces.StartSpan(ctx, "monitor.DetectFraud", traces.TenantID(tenantID))
	defer func() {
		traces.Fail(span, retErr)
		span.End()
	}()
	defer metrics.ObserveDetection("fraud")()

	p, err := s.fraud.DetectFraud(ctx, tenantID, tx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.Detected(p != nil))
	if p != nil {
		span.SetAttributes(traces.Score(p.RiskScore))
	}
	return p, nil
}

// DetectWeb3SuspiciousActivity scores a wallet activity summary.
func (s *Service) DetectWeb3SuspiciousActivity(ctx context.Context, tenantID string, activity *fraud.Web3Activity) (_ *fraud.Prediction, retErr error) {
	wallet := ""
	if activity != nil {
		wallet = activity.WalletAddress
	}
	ctx, span := traces.StartSpan(ctx, "monitor.DetectWeb3SuspiciousActivity",
		traces.TenantID(tenantID),
		traces.Wallet(wallet),
	)
	defer func() {
		traces.Fail(span, retErr)
		span.End()
	}()
	defer metrics.ObserveDetection("web3")()

	p, err := s.fraud.DetectWeb3(ctx, tenantID, activity)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.Detected(p != nil))
	if p != nil {
		span.SetAttributes(traces.Score(p.RiskScore))
	}
	return p, nil
}

// ScanWallet builds an activity summary for wallet from chain data and
// scores it. The activity is returned even when nothing is flagged.
func (s *Service) ScanWallet(ctx context.Context, tenantID, wallet string) (_ *fraud.Web3Activity, _ *fraud.Prediction, retErr error) {
	ctx, span := traces.StartSpan(ctx, "monitor.ScanWallet",
		traces.TenantID(tenantID),
		traces.Wallet(wallet),
	)
	defer func() {
		traces.Fail(span, retErr)
		span.End()
	}()
	defer metrics.ObserveDetection("wallet_scan")()

	if s.chain == nil {
		return nil, nil, ErrChainDisabled
	}
	if err := validation.Validate(
		validation.Required("tenantId", tenantID),
		validation.Required("walletAddress", wallet),
		validation.ValidAddress("walletAddress", wallet),
	); err != nil {
		return nil, nil, err
	}

	activity, err := s.chain.Collect(ctx, wallet)
	if err != nil {
		return nil, nil, fmt.Errorf("collect wallet activity: %w", err)
	}
	p, err := s.fraud.DetectWeb3(ctx, tenantID, activity)
	if err != nil {
		return activity, nil, err
	}
	span.SetAttributes(traces.Detected(p != nil))
	return activity, p, nil
}

// ObserveTransaction folds a legitimate transaction into the tenant's
// learned profile.
func (s *Service) ObserveTransaction(ctx context.Context, tenantID string, tx *fraud.Transaction) (_ *fraud.Profile, retErr error) {
	ctx, span := traces.StartSpan(ctx, "monitor.ObserveTransaction", traces.TenantID(tenantID))
	defer func() {
		traces.Fail(span, retErr)
		span.End()
	}()

	return s.fraud.Observe(ctx, tenantID, tx)
}
