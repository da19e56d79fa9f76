// Package anomaly flags metric samples that sit far outside their rolling
// baseline, using a population Z-score against a per-metric threshold.
package anomaly

import (
	"time"
)

// Status is the review state of an anomaly. The detector only creates
// StatusActive; later transitions belong to reviewers.
type Status string

const (
	StatusActive        Status = "active"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
)

// Trend describes the short-term direction of a metric's history.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Metadata carries the statistics behind a detection.
type Metadata struct {
	BaselineMean   float64 `json:"baselineMean"`
	BaselineStd    float64 `json:"baselineStd"`
	CurrentValue   float64 `json:"currentValue"`
	ZScore         float64 `json:"zScore"`
	TrendDirection Trend   `json:"trendDirection"`
	DataPoints     int     `json:"dataPoints"`
}

// Anomaly is a detected statistical outlier.
type Anomaly struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantId"`
	MetricName   string    `json:"metricName"`
	ServiceName  string    `json:"serviceName"`
	AnomalyScore float64   `json:"anomalyScore"` // |Z|
	Threshold    float64   `json:"threshold"`
	Confidence   float64   `json:"confidence"`
	DetectedAt   time.Time `json:"detectedAt"`
	Status       Status    `json:"status"`
	Metadata     Metadata  `json:"metadata"`
}

// Payload is the event body published for a detection.
func (a *Anomaly) Payload() map[string]interface{} {
	return map[string]interface{}{
		"id":           a.ID,
		"tenantId":     a.TenantID,
		"serviceName":  a.ServiceName,
		"metricName":   a.MetricName,
		"anomalyScore": a.AnomalyScore,
		"threshold":    a.Threshold,
		"confidence":   a.Confidence,
		"zScore":       a.Metadata.ZScore,
		"trend":        string(a.Metadata.TrendDirection),
		"detectedAt":   a.DetectedAt,
	}
}

// Config tunes the detector.
type Config struct {
	// Thresholds maps metric name to the |Z| a sample must exceed.
	Thresholds map[string]float64 `yaml:"thresholds" json:"thresholds"`
	// DefaultThreshold applies to metrics missing from Thresholds.
	DefaultThreshold float64 `yaml:"defaultThreshold" json:"defaultThreshold"`
	// MinDataPoints is the history length below which nothing is detected.
	MinDataPoints int `yaml:"minDataPoints" json:"minDataPoints"`
	// TrendWindow is the size of each half of the trend comparison.
	TrendWindow int `yaml:"trendWindow" json:"trendWindow"`
	// TrendChange is the relative change that counts as a trend (0.1 = 10%).
	TrendChange float64 `yaml:"trendChange" json:"trendChange"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Thresholds: map[string]float64{
			"cpu_usage":          2.5,
			"memory_usage":       2.5,
			"response_time":      3.0,
			"error_rate":         2.0,
			"transaction_volume": 3.5,
			"api_calls":          2.5,
		},
		DefaultThreshold: 2.5,
		MinDataPoints:    10,
		TrendWindow:      5,
		TrendChange:      0.1,
	}
}

// ThresholdFor returns the |Z| threshold for metricName.
func (c Config) ThresholdFor(metricName string) float64 {
	if t, ok := c.Thresholds[metricName]; ok {
		return t
	}
	return c.DefaultThreshold
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Thresholds == nil {
		c.Thresholds = d.Thresholds
	}
	if c.DefaultThreshold <= 0 {
		c.DefaultThreshold = d.DefaultThreshold
	}
	if c.MinDataPoints <= 0 {
		c.MinDataPoints = d.MinDataPoints
	}
	if c.TrendWindow <= 0 {
		c.TrendWindow = d.TrendWindow
	}
	if c.TrendChange <= 0 {
		c.TrendChange = d.TrendChange
	}
	return c
}
