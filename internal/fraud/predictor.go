package fraud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/mbd888/vigil/internal/events"
	"github.com/mbd888/vigil/internal/idgen"
	"github.com/mbd888/vigil/internal/logging"
	"github.com/mbd888/vigil/internal/metrics"
	"github.com/mbd888/vigil/internal/syncutil"
	"github.com/mbd888/vigil/internal/validation"
)

// Predictor scores transactions and wallet activity.
type Predictor struct {
	profiles  ProfileStore
	cfg       Config
	denylist  map[string]struct{}
	publisher events.Publisher
	logger    *slog.Logger
	locks     *syncutil.ShardedMutex
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

// NewPredictor creates a predictor. A nil store means every tenant is
// scored against the configured defaults.
func NewPredictor(profiles ProfileStore, cfg Config, opts ...Option) *Predictor {
	cfg = cfg.withDefaults()
	p := &Predictor{
		profiles:  profiles,
		cfg:       cfg,
		denylist:  cfg.Web3.denylist(),
		publisher: events.Nop{},
		logger:    logging.Discard(),
		locks:     syncutil.NewShardedMutex(0),
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

// DetectFraud scores an aggregated transaction record. It returns nil when
// no check triggers or the overall score does not exceed the transaction
// threshold.
func (p *Predictor) DetectFraud(ctx context.Context, tenantID string, tx *Transaction) (*Prediction, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction is required", validation.ErrInvalidInput)
	}
	if err := validateTransaction(tenantID, tx); err != nil {
		return nil, err
	}

	profile := p.lookup(ctx, tenantID)
	signals := p.transactionSignals(tx, profile)

	pred := p.finalize(tenantID, SourceTransaction, signals, p.cfg.TransactionThreshold, p.cfg.TransactionReview)
	if pred == nil {
		return nil, nil
	}
	pred.Context["timeWindow"] = tx.TimeWindow
	if tx.ID != "" {
		pred.Context["transactionId"] = tx.ID
	}
	p.emit(ctx, pred)
	return pred, nil
}

// DetectWeb3 scores wallet activity. The emission threshold is lower than
// for transactions and the type is always behavioral_anomaly; the rule with
// the highest score is recorded as context["dominantRule"].
func (p *Predictor) DetectWeb3(ctx context.Context, tenantID string, activity *Web3Activity) (*Prediction, error) {
	if activity == nil {
		return nil, fmt.Errorf("%w: web3 activity is required", validation.ErrInvalidInput)
	}
	if err := validateActivity(tenantID, activity); err != nil {
		return nil, err
	}

	signals := p.web3Signals(activity)
	pred := p.finalize(tenantID, SourceWeb3, signals, p.cfg.Web3.Threshold, p.cfg.Web3.Review)
	if pred == nil {
		return nil, nil
	}
	pred.Context["dominantRule"] = dominant(signals).Rule
	pred.Type = TypeBehavioralAnomaly
	pred.Context["walletAddress"] = activity.WalletAddress
	if activity.ChainID != 0 {
		pred.Context["chainId"] = activity.ChainID
	}
	if activity.TimeWindow != "" {
		pred.Context["timeWindow"] = activity.TimeWindow
	}
	p.emit(ctx, pred)
	return pred, nil
}

// lookup loads the tenant's profile. Store failures degrade to the
// configured defaults.
func (p *Predictor) lookup(ctx context.Context, tenantID string) *Profile {
	if p.profiles == nil {
		return nil
	}
	profile, err := p.profiles.Get(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, ErrProfileNotFound) {
			p.logger.Warn("fraud profile lookup failed, using defaults", "tenant", tenantID, "error", err)
		}
		return nil
	}
	return profile
}

func (p *Predictor) transactionSignals(tx *Transaction, profile *Profile) []Signal {
	volumeBaseline := p.cfg.DefaultVolumeBaseline
	frequencyBaseline := p.cfg.DefaultFrequencyBaseline
	if profile != nil && profile.VolumeBaseline > 0 {
		volumeBaseline = profile.VolumeBaseline
	}
	if profile != nil && profile.FrequencyBaseline > 0 {
		frequencyBaseline = profile.FrequencyBaseline
	}

	var signals []Signal

	if threshold := volumeBaseline * p.cfg.VolumeMultiplier; tx.Volume > threshold {
		signals = append(signals, Signal{
			Type:       TypeTransactionVolume,
			Rule:       "volume",
			Indicator:  fmt.Sprintf("Transaction volume %.2f exceeds threshold %.2f", tx.Volume, threshold),
			Score:      math.Min(tx.Volume/threshold, 1),
			Confidence: p.cfg.VolumeConfidence,
		})
	}

	if threshold := frequencyBaseline * p.cfg.FrequencyMultiplier; tx.Frequency > threshold {
		signals = append(signals, Signal{
			Type:       TypeFrequencyAnomaly,
			Rule:       "frequency",
			Indicator:  fmt.Sprintf("Transaction frequency %.0f exceeds threshold %.0f", tx.Frequency, threshold),
			Score:      math.Min(tx.Frequency/threshold, 1),
			Confidence: p.cfg.FrequencyConfidence,
		})
	}

	if profile.hasBehavior() {
		deviation := (deviationOf(tx.TimeSinceLast, profile.Behavior.AvgTimeBetweenTx) +
			deviationOf(tx.Amount, profile.Behavior.AvgAmount)) / 2
		if deviation > p.cfg.BehaviorDeviation {
			signals = append(signals, Signal{
				Type:       TypeBehavioralAnomaly,
				Rule:       "behavior",
				Indicator:  fmt.Sprintf("Behavior deviates %.0f%% from tenant profile", deviation*100),
				Score:      deviation,
				Confidence: p.cfg.BehaviorConfidence,
			})
		}
	}

	if profile.hasPattern() {
		deviation := (deviationOf(tx.Volume, profile.Pattern.AvgVolume) +
			deviationOf(tx.Frequency, profile.Pattern.AvgFrequency)) / 2
		if deviation > p.cfg.PatternDeviation {
			signals = append(signals, Signal{
				Type:       TypePatternDeviation,
				Rule:       "pattern",
				Indicator:  fmt.Sprintf("Transaction pattern deviates %.0f%% from tenant profile", deviation*100),
				Score:      deviation,
				Confidence: p.cfg.PatternConfidence,
			})
		}
	}

	return signals
}

func (p *Predictor) web3Signals(a *Web3Activity) []Signal {
	rules := p.cfg.Web3
	var signals []Signal

	if a.TransactionCount > rules.TxCountAbove {
		signals = append(signals, Signal{
			Type:       TypeBehavioralAnomaly,
			Rule:       "transaction_count",
			Indicator:  fmt.Sprintf("High transaction count: %d", a.TransactionCount),
			Score:      rules.TxCountScore,
			Confidence: rules.TxCountConfidence,
		})
	}
	if a.LargeTransactionCount > rules.LargeTxAbove {
		signals = append(signals, Signal{
			Type:       TypeBehavioralAnomaly,
			Rule:       "large_transactions",
			Indicator:  fmt.Sprintf("Multiple large transactions: %d", a.LargeTransactionCount),
			Score:      rules.LargeTxScore,
			Confidence: rules.LargeTxConfidence,
		})
	}
	if suspicious := p.suspiciousContracts(a.ContractInteractions); len(suspicious) > 0 {
		signals = append(signals, Signal{
			Type:       TypeBehavioralAnomaly,
			Rule:       "suspicious_contract",
			Indicator:  "Interaction with suspicious contracts: " + strings.Join(suspicious, ", "),
			Score:      rules.ContractScore,
			Confidence: rules.ContractConfidence,
		})
	}
	if a.AbnormalGasUsage {
		signals = append(signals, Signal{
			Type:       TypeBehavioralAnomaly,
			Rule:       "abnormal_gas",
			Indicator:  "Abnormal gas usage pattern",
			Score:      rules.GasScore,
			Confidence: rules.GasConfidence,
		})
	}
	return signals
}

func (p *Predictor) suspiciousContracts(interactions []ContractInteraction) []string {
	var out []string
	for _, ci := range interactions {
		_, denied := p.denylist[strings.ToLower(ci.Address)]
		if ci.Suspicious || denied {
			out = append(out, ci.Address)
		}
	}
	return out
}

// finalize aggregates signals and builds a prediction when the score
// exceeds threshold.
func (p *Predictor) finalize(tenantID string, source Source, signals []Signal, threshold, review float64) *Prediction {
	if len(signals) == 0 {
		return nil
	}
	score, confidence := Aggregate(signals)
	if !exceeds(score, threshold) {
		return nil
	}

	indicators := make([]string, 0, len(signals))
	subScores := map[string]float64{}
	for _, s := range signals {
		indicators = append(indicators, s.Indicator)
		subScores[s.Rule] = s.Score
	}
	details := map[string]interface{}{}
	if source == SourceTransaction {
		for _, rule := range []string{"volume", "frequency", "behavior", "pattern"} {
			details[rule+"Score"] = subScores[rule]
		}
	} else {
		details["ruleScores"] = subScores
	}

	return &Prediction{
		ID:             idgen.WithPrefix("frd_"),
		TenantID:       tenantID,
		Type:           dominant(signals).Type,
		Source:         source,
		RiskScore:      score,
		Confidence:     confidence,
		RiskLevel:      RiskLevelFor(score),
		Indicators:     indicators,
		Context:        details,
		RequiresReview: exceeds(score, review),
		CreatedAt:      p.now(),
	}
}

func (p *Predictor) emit(ctx context.Context, pred *Prediction) {
	metrics.FraudPredictionsTotal.WithLabelValues(string(pred.Source), string(pred.RiskLevel)).Inc()
	p.logger.Warn("fraud predicted",
		"tenant", pred.TenantID,
		"source", pred.Source,
		"type", pred.Type,
		"risk_score", pred.RiskScore,
		"risk_level", pred.RiskLevel,
		"requires_review", pred.RequiresReview,
	)
	events.Notify(ctx, p.publisher, p.logger, events.EventFraudPredicted, pred.Payload())
}

// Aggregate returns the confidence-weighted mean score and the mean
// confidence of signals.
func Aggregate(signals []Signal) (score, confidence float64) {
	if len(signals) == 0 {
		return 0, 0
	}
	var weighted, totalConfidence float64
	for _, s := range signals {
		weighted += s.Score * s.Confidence
		totalConfidence += s.Confidence
	}
	if totalConfidence == 0 {
		return 0, 0
	}
	score = weighted / totalConfidence
	confidence = totalConfidence / float64(len(signals))
	return score, confidence
}

// scoreEpsilon absorbs float error in the weighted mean, so a lone 0.6
// signal stays on a 0.6 threshold instead of landing a hair above it.
const scoreEpsilon = 1e-9

// exceeds reports whether score is strictly above threshold.
func exceeds(score, threshold float64) bool {
	return score-threshold > scoreEpsilon
}

// dominant returns the first signal with the highest score.
func dominant(signals []Signal) Signal {
	best := signals[0]
	for _, s := range signals[1:] {
		if s.Score > best.Score {
			best = s
		}
	}
	return best
}

// deviationOf is |actual-expected|/expected capped at 1. An unset
// expectation counts as full deviation unless actual is also zero.
func deviationOf(actual, expected float64) float64 {
	if expected == 0 {
		if actual == 0 {
			return 0
		}
		return 1
	}
	return math.Min(math.Abs(actual-expected)/math.Abs(expected), 1)
}

func validateTransaction(tenantID string, tx *Transaction) error {
	return validation.Validate(
		validation.Required("tenantId", tenantID),
		validation.NonNegative("volume", tx.Volume),
		validation.NonNegative("frequency", tx.Frequency),
		validation.NonNegative("amount", tx.Amount),
		validation.NonNegative("timeSinceLast", tx.TimeSinceLast),
	)
}

func validateActivity(tenantID string, a *Web3Activity) error {
	checks := []func() *validation.ValidationError{
		validation.Required("tenantId", tenantID),
		validation.ValidAddress("walletAddress", a.WalletAddress),
		validation.NonNegative("transactionCount", float64(a.TransactionCount)),
		validation.NonNegative("largeTransactionCount", float64(a.LargeTransactionCount)),
	}
	for i, ci := range a.ContractInteractions {
		checks = append(checks,
			validation.Required(fmt.Sprintf("contractInteractions[%d].address", i), ci.Address),
			validation.ValidAddress(fmt.Sprintf("contractInteractions[%d].address", i), ci.Address),
		)
	}
	return validation.Validate(checks...)
}
