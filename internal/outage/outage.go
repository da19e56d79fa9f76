// Package outage combines simultaneous service-health readings into a
// composite outage-risk score and, above a threshold, an estimated time to
// failure with remediation suggestions.
package outage

import (
	"time"
)

// Status is the lifecycle state of a prediction. The predictor only
// creates StatusPredicted.
type Status string

const (
	StatusPredicted     Status = "predicted"
	StatusMitigated     Status = "mitigated"
	StatusOccurred      Status = "occurred"
	StatusFalsePositive Status = "false_positive"
)

// Prediction is an outage-risk finding for one service.
type Prediction struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	ServiceName string `json:"serviceName"`
	// Confidence is RiskScore clamped to [0, 1].
	Confidence float64 `json:"predictionConfidence"`
	// RiskScore is the uncapped sum of triggered rule weights.
	RiskScore            float64   `json:"riskScore"`
	TimeToFailureMinutes int       `json:"timeToFailure"`
	RiskFactors          []string  `json:"riskFactors"`
	AffectedMetrics      []string  `json:"affectedMetrics"`
	RecommendedActions   []string  `json:"recommendedActions"`
	Status               Status    `json:"status"`
	PredictedAt          time.Time `json:"predictedAt"`
}

// Payload is the event body published for a prediction.
func (p *Prediction) Payload() map[string]interface{} {
	return map[string]interface{}{
		"id":                   p.ID,
		"tenantId":             p.TenantID,
		"serviceName":          p.ServiceName,
		"predictionConfidence": p.Confidence,
		"riskScore":            p.RiskScore,
		"timeToFailure":        p.TimeToFailureMinutes,
		"riskFactors":          p.RiskFactors,
		"predictedAt":          p.PredictedAt,
	}
}

// Rule adds Weight to the risk score when Metric is present and exceeds
// Above.
type Rule struct {
	Metric  string   `yaml:"metric" json:"metric"`
	Above   float64  `yaml:"above" json:"above"`
	Label   string   `yaml:"label" json:"label"`
	Weight  float64  `yaml:"weight" json:"weight"`
	Actions []string `yaml:"actions" json:"actions"`
}

// Config tunes the predictor.
type Config struct {
	Rules []Rule `yaml:"rules" json:"rules"`
	// Threshold is the score a prediction must exceed to be emitted.
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// BaseMinutes and MinutesPerPoint give TTF = BaseMinutes - score*MinutesPerPoint.
	BaseMinutes     float64 `yaml:"baseMinutes" json:"baseMinutes"`
	MinutesPerPoint float64 `yaml:"minutesPerPoint" json:"minutesPerPoint"`
	// MinMinutes floors the time to failure.
	MinMinutes float64 `yaml:"minMinutes" json:"minMinutes"`
}

// DefaultRules is the stock rule table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Metric: "cpu_usage", Above: 85, Label: "High CPU usage", Weight: 0.3,
			Actions: []string{"Scale up compute resources", "Optimize CPU-intensive operations"},
		},
		{
			Metric: "memory_usage", Above: 90, Label: "High memory usage", Weight: 0.3,
			Actions: []string{"Increase memory allocation", "Check for memory leaks"},
		},
		{
			Metric: "error_rate", Above: 10, Label: "High error rate", Weight: 0.4,
			Actions: []string{"Check application logs for errors", "Consider rolling back recent deployments"},
		},
		{
			Metric: "response_time", Above: 2000, Label: "High response time", Weight: 0.2,
			Actions: []string{"Check database performance", "Optimize slow queries"},
		},
	}
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Rules:           DefaultRules(),
		Threshold:       0.6,
		BaseMinutes:     60,
		MinutesPerPoint: 30,
		MinMinutes:      5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Rules) == 0 {
		c.Rules = d.Rules
	}
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.BaseMinutes <= 0 {
		c.BaseMinutes = d.BaseMinutes
	}
	if c.MinutesPerPoint <= 0 {
		c.MinutesPerPoint = d.MinutesPerPoint
	}
	if c.MinMinutes <= 0 {
		c.MinMinutes = d.MinMinutes
	}
	return c
}
