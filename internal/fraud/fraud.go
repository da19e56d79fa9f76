// Package fraud scores transaction records and Web3 wallet activity for
// fraud risk.
//
// Both entry points evaluate a set of independent checks. Each triggered
// check yields a signal with its own score and confidence, and the overall
// risk is the confidence-weighted mean of the triggered signals. Per-tenant
// baselines come from a ProfileStore and are learned from observed
// transactions.
package fraud

import (
	"context"
	"errors"
	"time"
)

var (
	ErrProfileNotFound = errors.New("fraud profile not found")
	ErrNoProfileStore  = errors.New("fraud profile store not configured")
)

// PredictionType classifies what a fraud prediction is about.
type PredictionType string

const (
	TypeTransactionVolume PredictionType = "transaction_volume"
	TypeFrequencyAnomaly  PredictionType = "frequency_anomaly"
	TypePatternDeviation  PredictionType = "pattern_deviation"
	TypeBehavioralAnomaly PredictionType = "behavioral_anomaly"
)

// Source identifies the entry point that produced a prediction.
type Source string

const (
	SourceTransaction Source = "transaction"
	SourceWeb3        Source = "web3"
)

// RiskLevel is a coarse band over the risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevelFor bands a score: below 0.3 low, below 0.6 medium, below 0.8
// high, otherwise critical.
func RiskLevelFor(score float64) RiskLevel {
	switch {
	case score < 0.3:
		return RiskLow
	case score < 0.6:
		return RiskMedium
	case score < 0.8:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// Transaction is an aggregated view of a tenant's recent transactions.
type Transaction struct {
	ID string `json:"id,omitempty"`
	// Volume is the total value moved in the window.
	Volume float64 `json:"volume"`
	// Frequency is the number of transactions in the window.
	Frequency float64 `json:"frequency"`
	// Amount is the value of the latest transaction.
	Amount float64 `json:"amount"`
	// TimeSinceLast is the seconds elapsed since the previous transaction.
	TimeSinceLast float64   `json:"timeSinceLast"`
	TimeWindow    string    `json:"timeWindow,omitempty"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
}

// ContractInteraction is one contract a wallet called.
type ContractInteraction struct {
	Address    string `json:"address"`
	Suspicious bool   `json:"suspicious"`
}

// Web3Activity summarizes a wallet's on-chain behavior.
type Web3Activity struct {
	WalletAddress         string                `json:"walletAddress"`
	ChainID               int64                 `json:"chainId,omitempty"`
	TransactionCount      int                   `json:"transactionCount"`
	LargeTransactionCount int                   `json:"largeTransactionCount"`
	ContractInteractions  []ContractInteraction `json:"contractInteractions,omitempty"`
	AbnormalGasUsage      bool                  `json:"abnormalGasUsage"`
	TimeWindow            string                `json:"timeWindow,omitempty"`
}

// Behavior is a tenant's typical per-transaction behavior.
type Behavior struct {
	AvgTimeBetweenTx float64 `json:"avgTimeBetweenTx"`
	AvgAmount        float64 `json:"avgAmount"`
}

// Pattern is a tenant's typical aggregate transaction pattern.
type Pattern struct {
	AvgVolume    float64 `json:"avgVolume"`
	AvgFrequency float64 `json:"avgFrequency"`
}

// Profile holds the learned baselines for one tenant. A zero Behavior or
// Pattern means that part has not been learned yet.
type Profile struct {
	TenantID          string    `json:"tenantId"`
	VolumeBaseline    float64   `json:"volumeBaseline"`
	FrequencyBaseline float64   `json:"frequencyBaseline"`
	Behavior          Behavior  `json:"behavior"`
	Pattern           Pattern   `json:"pattern"`
	Observations      int64     `json:"observations"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (p *Profile) hasBehavior() bool {
	return p != nil && (p.Behavior.AvgTimeBetweenTx > 0 || p.Behavior.AvgAmount > 0)
}

func (p *Profile) hasPattern() bool {
	return p != nil && (p.Pattern.AvgVolume > 0 || p.Pattern.AvgFrequency > 0)
}

// Signal is one triggered check.
type Signal struct {
	Type       PredictionType `json:"type"`
	Rule       string         `json:"rule"`
	Indicator  string         `json:"indicator"`
	Score      float64        `json:"score"`
	Confidence float64        `json:"confidence"`
}

// Prediction is an emitted fraud finding. It is never modified after
// creation.
type Prediction struct {
	ID             string                 `json:"id"`
	TenantID       string                 `json:"tenantId"`
	Type           PredictionType         `json:"predictionType"`
	Source         Source                 `json:"source"`
	RiskScore      float64                `json:"riskScore"`
	Confidence     float64                `json:"confidence"`
	RiskLevel      RiskLevel              `json:"riskLevel"`
	Indicators     []string               `json:"indicators"`
	Context        map[string]interface{} `json:"context"`
	RequiresReview bool                   `json:"requiresReview"`
	CreatedAt      time.Time              `json:"createdAt"`
}

// Payload is the event body published for a prediction.
func (p *Prediction) Payload() map[string]interface{} {
	return map[string]interface{}{
		"id":             p.ID,
		"tenantId":       p.TenantID,
		"predictionType": string(p.Type),
		"source":         string(p.Source),
		"riskScore":      p.RiskScore,
		"confidence":     p.Confidence,
		"riskLevel":      string(p.RiskLevel),
		"requiresReview": p.RequiresReview,
		"indicators":     p.Indicators,
		"createdAt":      p.CreatedAt,
	}
}

// ProfileStore persists tenant profiles.
type ProfileStore interface {
	// Get returns ErrProfileNotFound when the tenant has no profile.
	Get(ctx context.Context, tenantID string) (*Profile, error)
	Save(ctx context.Context, profile *Profile) error
}
