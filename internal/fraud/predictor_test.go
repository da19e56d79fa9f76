package fraud

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/vigil/internal/events"
	"github.com/mbd888/vigil/internal/validation"
)

type capture struct {
	mu       sync.Mutex
	payloads []map[string]interface{}
}

func (c *capture) Publish(_ context.Context, t events.EventType, payload map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t == events.EventFraudPredicted {
		c.payloads = append(c.payloads, payload)
	}
	return nil
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*Profile, error) { return nil, errors.New("db down") }
func (failingStore) Save(context.Context, *Profile) error          { return errors.New("db down") }

func TestRiskLevelFor(t *testing.T) {
	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0, RiskLow},
		{0.29, RiskLow},
		{0.3, RiskMedium},
		{0.59, RiskMedium},
		{0.6, RiskHigh},
		{0.79, RiskHigh},
		{0.8, RiskCritical},
		{1, RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RiskLevelFor(tt.score), "score %v", tt.score)
	}
}

func TestAggregate(t *testing.T) {
	score, confidence := Aggregate([]Signal{
		{Score: 0.6, Confidence: 0.8},
		{Score: 0.7, Confidence: 0.9},
	})
	// (0.48 + 0.63) / 1.7, unrounded
	assert.InDelta(t, 1.11/1.7, score, 1e-12)
	assert.InDelta(t, 0.85, confidence, 1e-9)

	score, confidence = Aggregate(nil)
	assert.Zero(t, score)
	assert.Zero(t, confidence)
}

func TestDetectFraud_NoSignals(t *testing.T) {
	pub := &capture{}
	p := NewPredictor(NewMemoryProfileStore(), DefaultConfig(), WithPublisher(pub))

	pred, err := p.DetectFraud(context.Background(), "ten_1", &Transaction{Volume: 1000, Frequency: 10, Amount: 50, TimeSinceLast: 60})
	require.NoError(t, err)
	assert.Nil(t, pred)
	assert.Empty(t, pub.payloads)
}

func TestDetectFraud_Volume(t *testing.T) {
	pub := &capture{}
	p := NewPredictor(nil, DefaultConfig(), WithPublisher(pub))

	pred, err := p.DetectFraud(context.Background(), "ten_1", &Transaction{Volume: 50000, TimeWindow: "1h"})
	require.NoError(t, err)
	assert.Nil(t, pred, "volume equal to the threshold does not trigger")

	pred, err = p.DetectFraud(context.Background(), "ten_1", &Transaction{ID: "tx_9", Volume: 60000, TimeWindow: "1h"})
	require.NoError(t, err)
	require.NotNil(t, pred)

	assert.Equal(t, TypeTransactionVolume, pred.Type)
	assert.Equal(t, SourceTransaction, pred.Source)
	assert.Equal(t, 1.0, pred.RiskScore)
	assert.InDelta(t, 0.85, pred.Confidence, 1e-9)
	assert.Equal(t, RiskCritical, pred.RiskLevel)
	assert.True(t, pred.RequiresReview)
	require.Len(t, pred.Indicators, 1)
	assert.Contains(t, pred.Indicators[0], "volume")
	assert.Equal(t, 1.0, pred.Context["volumeScore"])
	assert.Equal(t, 0.0, pred.Context["frequencyScore"])
	assert.Equal(t, "1h", pred.Context["timeWindow"])
	assert.Equal(t, "tx_9", pred.Context["transactionId"])
	assert.Contains(t, pred.ID, "frd_")

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, pred.ID, pub.payloads[0]["id"])
	assert.Equal(t, "critical", pub.payloads[0]["riskLevel"])
}

func TestDetectFraud_VolumeAndFrequencyPicksFirstHighest(t *testing.T) {
	p := NewPredictor(nil, DefaultConfig())

	pred, err := p.DetectFraud(context.Background(), "ten_1", &Transaction{Volume: 90000, Frequency: 500})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.Equal(t, TypeTransactionVolume, pred.Type)
	assert.Len(t, pred.Indicators, 2)
	assert.InDelta(t, (0.85+0.9)/2, pred.Confidence, 1e-9)

	pred, err = p.DetectFraud(context.Background(), "ten_1", &Transaction{Frequency: 151})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.Equal(t, TypeFrequencyAnomaly, pred.Type)
}

func TestDetectFraud_Behavior(t *testing.T) {
	store := NewMemoryProfileStore()
	require.NoError(t, store.Save(context.Background(), &Profile{
		TenantID: "ten_1",
		Behavior: Behavior{AvgTimeBetweenTx: 60, AvgAmount: 100},
	}))
	p := NewPredictor(store, DefaultConfig())

	// time deviation capped at 1, amount deviation 0: mean 0.5
	pred, err := p.DetectFraud(context.Background(), "ten_1", &Transaction{TimeSinceLast: 600, Amount: 100})
	require.NoError(t, err)
	assert.Nil(t, pred)

	// (1 + 0.5) / 2 = 0.75
	pred, err = p.DetectFraud(context.Background(), "ten_1", &Transaction{TimeSinceLast: 600, Amount: 150})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.Equal(t, TypeBehavioralAnomaly, pred.Type)
	assert.InDelta(t, 0.75, pred.RiskScore, 1e-9)
	assert.Equal(t, RiskHigh, pred.RiskLevel)
	assert.False(t, pred.RequiresReview)

	// (1 + 0.8) / 2 = 0.9
	pred, err = p.DetectFraud(context.Background(), "ten_1", &Transaction{TimeSinceLast: 600, Amount: 180})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.InDelta(t, 0.9, pred.RiskScore, 1e-9)
	assert.True(t, pred.RequiresReview)

	// other tenants have no profile
	pred, err = p.DetectFraud(context.Background(), "ten_2", &Transaction{TimeSinceLast: 600, Amount: 180})
	require.NoError(t, err)
	assert.Nil(t, pred)
}

func TestDetectFraud_Pattern(t *testing.T) {
	store := NewMemoryProfileStore()
	require.NoError(t, store.Save(context.Background(), &Profile{
		TenantID: "ten_1",
		Pattern:  Pattern{AvgVolume: 1000, AvgFrequency: 10},
	}))
	p := NewPredictor(store, DefaultConfig())

	pred, err := p.DetectFraud(context.Background(), "ten_1", &Transaction{Volume: 1500, Frequency: 16})
	require.NoError(t, err)
	assert.Nil(t, pred, "mean deviation 0.55 stays under 0.8")

	pred, err = p.DetectFraud(context.Background(), "ten_1", &Transaction{Volume: 5000, Frequency: 20})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.Equal(t, TypePatternDeviation, pred.Type)
	assert.Equal(t, 1.0, pred.RiskScore)
	assert.InDelta(t, 0.95, pred.Confidence, 1e-9)
	assert.Equal(t, 1.0, pred.Context["patternScore"])
}

func TestDetectFraud_ProfileBaselinesOverrideDefaults(t *testing.T) {
	store := NewMemoryProfileStore()
	require.NoError(t, store.Save(context.Background(), &Profile{
		TenantID:          "ten_1",
		VolumeBaseline:    1000,
		FrequencyBaseline: 5,
	}))
	p := NewPredictor(store, DefaultConfig())

	pred, err := p.DetectFraud(context.Background(), "ten_1", &Transaction{Volume: 6000})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.Equal(t, TypeTransactionVolume, pred.Type)

	pred, err = p.DetectFraud(context.Background(), "ten_1", &Transaction{Frequency: 16})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.Equal(t, TypeFrequencyAnomaly, pred.Type)
}

func TestDetectFraud_StoreFailureFallsBackToDefaults(t *testing.T) {
	p := NewPredictor(failingStore{}, DefaultConfig())

	pred, err := p.DetectFraud(context.Background(), "ten_1", &Transaction{Volume: 6000})
	require.NoError(t, err)
	assert.Nil(t, pred)

	pred, err = p.DetectFraud(context.Background(), "ten_1", &Transaction{Volume: 60000})
	require.NoError(t, err)
	assert.NotNil(t, pred)
}

func TestDetectFraud_RejectsInvalidInput(t *testing.T) {
	p := NewPredictor(nil, DefaultConfig())
	ctx := context.Background()

	cases := map[string]struct {
		tenant string
		tx     *Transaction
	}{
		"nil transaction": {"ten_1", nil},
		"missing tenant":  {"", &Transaction{Volume: 1}},
		"negative volume": {"ten_1", &Transaction{Volume: -1}},
		"nan amount":      {"ten_1", &Transaction{Amount: math.NaN()}},
		"inf frequency":   {"ten_1", &Transaction{Frequency: math.Inf(1)}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			pred, err := p.DetectFraud(ctx, tc.tenant, tc.tx)
			assert.Nil(t, pred)
			assert.True(t, errors.Is(err, validation.ErrInvalidInput), "got %v", err)
		})
	}
}

const wallet = "0x52908400098527886E0F7030069857D2E4169EE7"

func TestDetectWeb3_Aggregation(t *testing.T) {
	pub := &capture{}
	p := NewPredictor(nil, DefaultConfig(), WithPublisher(pub))

	pred, err := p.DetectWeb3(context.Background(), "ten_1", &Web3Activity{
		WalletAddress:         wallet,
		ChainID:               8453,
		TransactionCount:      150,
		LargeTransactionCount: 15,
	})
	require.NoError(t, err)
	require.NotNil(t, pred)

	assert.InDelta(t, 1.11/1.7, pred.RiskScore, 1e-12)
	assert.InDelta(t, 0.85, pred.Confidence, 1e-9)
	assert.Equal(t, TypeBehavioralAnomaly, pred.Type)
	assert.Equal(t, SourceWeb3, pred.Source)
	assert.Equal(t, RiskHigh, pred.RiskLevel)
	assert.False(t, pred.RequiresReview)
	assert.Equal(t, "large_transactions", pred.Context["dominantRule"])
	assert.Equal(t, wallet, pred.Context["walletAddress"])
	assert.Equal(t, int64(8453), pred.Context["chainId"])
	assert.Len(t, pred.Indicators, 2)
	assert.Len(t, pub.payloads, 1)
}

func TestDetectWeb3_ThresholdIsStrict(t *testing.T) {
	p := NewPredictor(nil, DefaultConfig())

	pred, err := p.DetectWeb3(context.Background(), "ten_1", &Web3Activity{WalletAddress: wallet, TransactionCount: 101})
	require.NoError(t, err)
	assert.Nil(t, pred, "a lone 0.6 signal sits on the threshold")

	pred, err = p.DetectWeb3(context.Background(), "ten_1", &Web3Activity{WalletAddress: wallet, TransactionCount: 100, LargeTransactionCount: 10})
	require.NoError(t, err)
	assert.Nil(t, pred, "counts equal to the limits do not trigger")

	pred, err = p.DetectWeb3(context.Background(), "ten_1", &Web3Activity{WalletAddress: wallet, AbnormalGasUsage: true})
	require.NoError(t, err)
	assert.Nil(t, pred)
}

func TestDetectWeb3_SuspiciousContracts(t *testing.T) {
	denied := "0x000000000000000000000000000000000000dEaD"
	cfg := DefaultConfig()
	cfg.Web3.SuspiciousContracts = []string{denied}
	p := NewPredictor(nil, cfg)

	pred, err := p.DetectWeb3(context.Background(), "ten_1", &Web3Activity{
		WalletAddress: wallet,
		ContractInteractions: []ContractInteraction{
			{Address: "0x1111111111111111111111111111111111111111"},
			{Address: "0x000000000000000000000000000000000000DEAD"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.InDelta(t, 0.8, pred.RiskScore, 1e-9)
	assert.True(t, pred.RequiresReview)
	assert.Equal(t, RiskCritical, pred.RiskLevel)
	assert.Equal(t, "suspicious_contract", pred.Context["dominantRule"])
	assert.Contains(t, pred.Indicators[0], "0x000000000000000000000000000000000000DEAD")

	pred, err = p.DetectWeb3(context.Background(), "ten_1", &Web3Activity{
		WalletAddress: wallet,
		ContractInteractions: []ContractInteraction{
			{Address: "0x2222222222222222222222222222222222222222", Suspicious: true},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, pred)
}

func TestDetectWeb3_AllRules(t *testing.T) {
	p := NewPredictor(nil, DefaultConfig())

	pred, err := p.DetectWeb3(context.Background(), "ten_1", &Web3Activity{
		WalletAddress:         wallet,
		TransactionCount:      500,
		LargeTransactionCount: 50,
		ContractInteractions:  []ContractInteraction{{Address: wallet, Suspicious: true}},
		AbnormalGasUsage:      true,
	})
	require.NoError(t, err)
	require.NotNil(t, pred)
	// (0.48 + 0.63 + 0.76 + 0.35) / 3.35
	assert.InDelta(t, 2.22/3.35, pred.RiskScore, 1e-12)
	assert.Len(t, pred.Indicators, 4)
	assert.Equal(t, "suspicious_contract", pred.Context["dominantRule"])
}

func TestDetectWeb3_RejectsInvalidInput(t *testing.T) {
	p := NewPredictor(nil, DefaultConfig())
	ctx := context.Background()

	_, err := p.DetectWeb3(ctx, "ten_1", nil)
	assert.True(t, errors.Is(err, validation.ErrInvalidInput))

	_, err = p.DetectWeb3(ctx, "ten_1", &Web3Activity{WalletAddress: "not-an-address"})
	assert.True(t, errors.Is(err, validation.ErrInvalidInput))

	_, err = p.DetectWeb3(ctx, "ten_1", &Web3Activity{WalletAddress: wallet, TransactionCount: -1})
	assert.True(t, errors.Is(err, validation.ErrInvalidInput))

	_, err = p.DetectWeb3(ctx, "ten_1", &Web3Activity{
		WalletAddress:        wallet,
		ContractInteractions: []ContractInteraction{{Address: "0xnope"}},
	})
	assert.True(t, errors.Is(err, validation.ErrInvalidInput))
}

// The same 0.65 aggregate emits on the Web3 path but not on the
// transaction path.
func TestThresholdAsymmetry(t *testing.T) {
	p := NewPredictor(nil, DefaultConfig())
	signals := []Signal{{Type: TypeBehavioralAnomaly, Rule: "behavior", Indicator: "x", Score: 0.65, Confidence: 0.9}}

	// Every transaction signal scores above 0.7 (volume and frequency
	// saturate at 1), so DetectFraud can never build a 0.65 aggregate.
	// That side goes through the shared tail directly.
	tx := p.finalize("ten_1", SourceTransaction, signals, p.cfg.TransactionThreshold, p.cfg.TransactionReview)
	assert.Nil(t, tx)

	web3 := p.finalize("ten_1", SourceWeb3, signals, p.cfg.Web3.Threshold, p.cfg.Web3.Review)
	require.NotNil(t, web3)
	assert.InDelta(t, 0.65, web3.RiskScore, 1e-12)
	assert.False(t, web3.RequiresReview)
	assert.Equal(t, RiskHigh, web3.RiskLevel)

	// Through the public entry point: tx count and large transfers give
	// (0.48 + 0.63) / 1.7 ≈ 0.653.
	pred, err := p.DetectWeb3(context.Background(), "ten_1", &Web3Activity{
		WalletAddress:         wallet,
		TransactionCount:      101,
		LargeTransactionCount: 11,
	})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.InDelta(t, 0.65, pred.RiskScore, 0.005)
	assert.Less(t, pred.RiskScore, p.cfg.TransactionThreshold)
	assert.False(t, pred.RequiresReview)
}

func TestDetectFraud_ScoresAreNotRounded(t *testing.T) {
	store := NewMemoryProfileStore()
	require.NoError(t, store.Save(context.Background(), &Profile{
		TenantID: "ten_1",
		Behavior: Behavior{AvgTimeBetweenTx: 60, AvgAmount: 10000},
	}))
	p := NewPredictor(store, DefaultConfig())

	// (1 + 0.4008) / 2 = 0.7004, just above the 0.7 emission threshold.
	pred, err := p.DetectFraud(context.Background(), "ten_1", &Transaction{TimeSinceLast: 600, Amount: 14008})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.InDelta(t, 0.7004, pred.RiskScore, 1e-9)
	assert.False(t, pred.RequiresReview)
	assert.Equal(t, RiskHigh, pred.RiskLevel)

	// (1 + 0.6008) / 2 = 0.8004, just above the 0.8 review threshold.
	pred, err = p.DetectFraud(context.Background(), "ten_1", &Transaction{TimeSinceLast: 600, Amount: 16008})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.InDelta(t, 0.8004, pred.RiskScore, 1e-9)
	assert.True(t, pred.RequiresReview)
	assert.Equal(t, RiskCritical, pred.RiskLevel)
}

func TestExceeds(t *testing.T) {
	assert.True(t, exceeds(0.7004, 0.7))
	assert.False(t, exceeds(0.7, 0.7))
	assert.False(t, exceeds(0.75*0.8/0.8-0.05, 0.7), "float noise above the threshold")
	assert.False(t, exceeds(0.69, 0.7))
}

func TestDeviationOf(t *testing.T) {
	assert.Equal(t, 0.0, deviationOf(0, 0))
	assert.Equal(t, 1.0, deviationOf(5, 0))
	assert.InDelta(t, 0.5, deviationOf(150, 100), 1e-9)
	assert.InDelta(t, 0.5, deviationOf(50, 100), 1e-9)
	assert.Equal(t, 1.0, deviationOf(1000, 100))
}

func TestConfig_Defaults(t *testing.T) {
	p := NewPredictor(nil, Config{})
	cfg := p.Config()
	assert.Equal(t, 10000.0, cfg.DefaultVolumeBaseline)
	assert.Equal(t, 50.0, cfg.DefaultFrequencyBaseline)
	assert.Equal(t, 0.7, cfg.TransactionThreshold)
	assert.Equal(t, 0.6, cfg.Web3.Threshold)
	assert.Equal(t, 100, cfg.Web3.TxCountAbove)
	assert.Equal(t, 0.1, cfg.LearningRate)
}
