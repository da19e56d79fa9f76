package outage

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/mbd888/vigil/internal/events"
	"github.com/mbd888/vigil/internal/idgen"
	"github.com/mbd888/vigil/internal/logging"
	"github.com/mbd888/vigil/internal/metrics"
	"github.com/mbd888/vigil/internal/validation"
)

// Predictor scores service-health snapshots against a rule table.
type Predictor struct {
	cfg       Config
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithPublisher sets where predictions are announced.
func WithPublisher(p events.Publisher) Option {
	return func(pr *Predictor) { pr.publisher = p }
}

// WithLogger sets the predictor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(pr *Predictor) { pr.logger = l }
}

// NewPredictor creates a predictor.
func NewPredictor(cfg Config, opts ...Option) *Predictor {
	p := &Predictor{
		cfg:       cfg.withDefaults(),
		publisher: events.Nop{},
		logger:    logging.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Predictor) Config() Config {
	return p.cfg
}

// Assessment is the rule evaluation behind a prediction.
type Assessment struct {
	Score           float64
	RiskFactors     []string
	AffectedMetrics []string
	Actions         []string
}

// Assess evaluates every rule against readings. Metrics absent from
// readings never trigger.
func (p *Predictor) Assess(readings map[string]float64) Assessment {
	var a Assessment
	for _, rule := range p.cfg.Rules {
		v, ok := readings[rule.Metric]
		if !ok || v <= rule.Above {
			continue
		}
		a.Score += rule.Weight
		a.RiskFactors = append(a.RiskFactors, rule.Label)
		a.AffectedMetrics = append(a.AffectedMetrics, rule.Metric)
		a.Actions = append(a.Actions, rule.Actions...)
	}
	return a
}

// scoreEpsilon absorbs float error in weight sums such as 0.4+0.2, so a
// score equal to the threshold on paper never crosses it.
const scoreEpsilon = 1e-9

// exceeds reports whether score is strictly above threshold.
func exceeds(score, threshold float64) bool {
	return score-threshold > scoreEpsilon
}

// TimeToFailure estimates minutes until failure for a score.
func (p *Predictor) TimeToFailure(score float64) int {
	minutes := math.Max(p.cfg.MinMinutes, p.cfg.BaseMinutes-score*p.cfg.MinutesPerPoint)
	return int(math.Round(minutes))
}

// Predict returns a prediction when the composite score exceeds the
// threshold, and nil otherwise.
func (p *Predictor) Predict(ctx context.Context, tenantID, serviceName string, readings map[string]float64) (*Prediction, error) {
	if err := validation.Validate(
		validation.Required("tenantId", tenantID),
		validation.Required("serviceName", serviceName),
		validation.FiniteValues("metrics", readings),
	); err != nil {
		return nil, err
	}

	a := p.Assess(readings)
	metrics.OutageRiskScore.Observe(a.Score)
	if !exceeds(a.Score, p.cfg.Threshold) {
		return nil, nil
	}

	pred := &Prediction{
		ID:                   idgen.WithPrefix("outg_"),
		TenantID:             tenantID,
		ServiceName:          serviceName,
		Confidence:           math.Min(a.Score, 1),
		RiskScore:            a.Score,
		TimeToFailureMinutes: p.TimeToFailure(a.Score),
		RiskFactors:          a.RiskFactors,
		AffectedMetrics:      a.AffectedMetrics,
		RecommendedActions:   a.Actions,
		Status:               StatusPredicted,
		PredictedAt:          p.now(),
	}

	metrics.OutagePredictionsTotal.WithLabelValues(serviceName).Inc()
	p.logger.Warn("outage predicted",
		"tenant", tenantID,
		"service", serviceName,
		"risk_score", a.Score,
		"ttf_minutes", pred.TimeToFailureMinutes,
		"factors", a.RiskFactors,
	)
	events.Notify(ctx, p.publisher, p.logger, events.EventOutagePredicted, pred.Payload())
	return pred, nil
}
