package fraud

import "strings"

// Config tunes the fraud predictor.
type Config struct {
	// Baselines used when a tenant has no stored profile.
	DefaultVolumeBaseline    float64 `yaml:"defaultVolumeBaseline" json:"defaultVolumeBaseline"`
	DefaultFrequencyBaseline float64 `yaml:"defaultFrequencyBaseline" json:"defaultFrequencyBaseline"`

	VolumeMultiplier    float64 `yaml:"volumeMultiplier" json:"volumeMultiplier"`
	FrequencyMultiplier float64 `yaml:"frequencyMultiplier" json:"frequencyMultiplier"`
	BehaviorDeviation   float64 `yaml:"behaviorDeviation" json:"behaviorDeviation"`
	PatternDeviation    float64 `yaml:"patternDeviation" json:"patternDeviation"`

	VolumeConfidence    float64 `yaml:"volumeConfidence" json:"volumeConfidence"`
	FrequencyConfidence float64 `yaml:"frequencyConfidence" json:"frequencyConfidence"`
	BehaviorConfidence  float64 `yaml:"behaviorConfidence" json:"behaviorConfidence"`
	PatternConfidence   float64 `yaml:"patternConfidence" json:"patternConfidence"`

	// Emission and review thresholds for the transaction path.
	TransactionThreshold float64 `yaml:"transactionThreshold" json:"transactionThreshold"`
	TransactionReview    float64 `yaml:"transactionReview" json:"transactionReview"`

	Web3 Web3Rules `yaml:"web3" json:"web3"`

	// LearningRate is the EWMA weight given to each observed transaction.
	LearningRate float64 `yaml:"learningRate" json:"learningRate"`
}

// Web3Rules tunes the wallet activity checks.
type Web3Rules struct {
	TxCountAbove        int      `yaml:"txCountAbove" json:"txCountAbove"`
	TxCountScore        float64  `yaml:"txCountScore" json:"txCountScore"`
	TxCountConfidence   float64  `yaml:"txCountConfidence" json:"txCountConfidence"`
	LargeTxAbove        int      `yaml:"largeTxAbove" json:"largeTxAbove"`
	LargeTxScore        float64  `yaml:"largeTxScore" json:"largeTxScore"`
	LargeTxConfidence   float64  `yaml:"largeTxConfidence" json:"largeTxConfidence"`
	ContractScore       float64  `yaml:"contractScore" json:"contractScore"`
	ContractConfidence  float64  `yaml:"contractConfidence" json:"contractConfidence"`
	GasScore            float64  `yaml:"gasScore" json:"gasScore"`
	GasConfidence       float64  `yaml:"gasConfidence" json:"gasConfidence"`
	Threshold           float64  `yaml:"threshold" json:"threshold"`
	Review              float64  `yaml:"review" json:"review"`
	SuspiciousContracts []string `yaml:"suspiciousContracts" json:"suspiciousContracts"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		DefaultVolumeBaseline:    10000,
		DefaultFrequencyBaseline: 50,
		VolumeMultiplier:         5,
		FrequencyMultiplier:      3,
		BehaviorDeviation:        0.7,
		PatternDeviation:         0.8,
		VolumeConfidence:         0.85,
		FrequencyConfidence:      0.9,
		BehaviorConfidence:       0.8,
		PatternConfidence:        0.95,
		TransactionThreshold:     0.7,
		TransactionReview:        0.8,
		Web3:                     DefaultWeb3Rules(),
		LearningRate:             0.1,
	}
}

// DefaultWeb3Rules returns the stock wallet activity rules.
func DefaultWeb3Rules() Web3Rules {
	return Web3Rules{
		TxCountAbove:       100,
		TxCountScore:       0.6,
		TxCountConfidence:  0.8,
		LargeTxAbove:       10,
		LargeTxScore:       0.7,
		LargeTxConfidence:  0.9,
		ContractScore:      0.8,
		ContractConfidence: 0.95,
		GasScore:           0.5,
		GasConfidence:      0.7,
		Threshold:          0.6,
		Review:             0.7,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	fill := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&c.DefaultVolumeBaseline, d.DefaultVolumeBaseline)
	fill(&c.DefaultFrequencyBaseline, d.DefaultFrequencyBaseline)
	fill(&c.VolumeMultiplier, d.VolumeMultiplier)
	fill(&c.FrequencyMultiplier, d.FrequencyMultiplier)
	fill(&c.BehaviorDeviation, d.BehaviorDeviation)
	fill(&c.PatternDeviation, d.PatternDeviation)
	fill(&c.VolumeConfidence, d.VolumeConfidence)
	fill(&c.FrequencyConfidence, d.FrequencyConfidence)
	fill(&c.BehaviorConfidence, d.BehaviorConfidence)
	fill(&c.PatternConfidence, d.PatternConfidence)
	fill(&c.TransactionThreshold, d.TransactionThreshold)
	fill(&c.TransactionReview, d.TransactionReview)
	fill(&c.LearningRate, d.LearningRate)

	w, dw := &c.Web3, d.Web3
	if w.TxCountAbove <= 0 {
		w.TxCountAbove = dw.TxCountAbove
	}
	if w.LargeTxAbove <= 0 {
		w.LargeTxAbove = dw.LargeTxAbove
	}
	fill(&w.TxCountScore, dw.TxCountScore)
	fill(&w.TxCountConfidence, dw.TxCountConfidence)
	fill(&w.LargeTxScore, dw.LargeTxScore)
	fill(&w.LargeTxConfidence, dw.LargeTxConfidence)
	fill(&w.ContractScore, dw.ContractScore)
	fill(&w.ContractConfidence, dw.ContractConfidence)
	fill(&w.GasScore, dw.GasScore)
	fill(&w.GasConfidence, dw.GasConfidence)
	fill(&w.Threshold, dw.Threshold)
	fill(&w.Review, dw.Review)
	if c.LearningRate > 1 {
		c.LearningRate = 1
	}
	return c
}

// denylist normalizes SuspiciousContracts for lookup.
func (w Web3Rules) denylist() map[string]struct{} {
	out := make(map[string]struct{}, len(w.SuspiciousContracts))
	for _, addr := range w.SuspiciousContracts {
		out[strings.ToLower(addr)] = struct{}{}
	}
	return out
}
