package outage

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/vigil/internal/events"
	"github.com/mbd888/vigil/internal/validation"
)

func TestPredict_AllRulesTriggered(t *testing.T) {
	var published []map[string]interface{}
	pub := events.PublisherFunc(func(_ context.Context, et events.EventType, payload map[string]interface{}) error {
		assert.Equal(t, events.EventOutagePredicted, et)
		published = append(published, payload)
		return nil
	})
	p := NewPredictor(DefaultConfig(), WithPublisher(pub))

	pred, err := p.Predict(context.Background(), "ten_1", "checkout", map[string]float64{
		"cpu_usage":     90,
		"memory_usage":  95,
		"error_rate":    15,
		"response_time": 2500,
	})
	require.NoError(t, err)
	require.NotNil(t, pred)

	assert.InDelta(t, 1.2, pred.RiskScore, 1e-9)
	assert.Equal(t, 1.0, pred.Confidence)
	assert.Equal(t, 24, pred.TimeToFailureMinutes)
	assert.Equal(t, StatusPredicted, pred.Status)
	assert.Equal(t, []string{"High CPU usage", "High memory usage", "High error rate", "High response time"}, pred.RiskFactors)
	assert.Equal(t, []string{"cpu_usage", "memory_usage", "error_rate", "response_time"}, pred.AffectedMetrics)
	assert.Len(t, pred.RecommendedActions, 8)
	assert.Contains(t, pred.ID, "outg_")

	require.Len(t, published, 1)
	assert.Equal(t, pred.ID, published[0]["id"])
}

func TestPredict_Scenario(t *testing.T) {
	p := NewPredictor(DefaultConfig())

	pred, err := p.Predict(context.Background(), "ten_1", "api", map[string]float64{
		"cpu_usage":     90,
		"memory_usage":  95,
		"error_rate":    15,
		"response_time": 0,
	})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.InDelta(t, 1.0, pred.RiskScore, 1e-9)
	assert.Equal(t, 30, pred.TimeToFailureMinutes)
	assert.Equal(t, []string{"High CPU usage", "High memory usage", "High error rate"}, pred.RiskFactors)
	assert.Equal(t, []string{
		"Scale up compute resources", "Optimize CPU-intensive operations",
		"Increase memory allocation", "Check for memory leaks",
		"Check application logs for errors", "Consider rolling back recent deployments",
	}, pred.RecommendedActions)
}

func TestPredict_ScenarioBelowThreshold(t *testing.T) {
	p := NewPredictor(DefaultConfig())

	// Only the CPU rule fires: 0.3.
	readings := map[string]float64{
		"cpu_usage":     90,
		"memory_usage":  50,
		"error_rate":    0,
		"response_time": 0,
	}
	assert.InDelta(t, 0.3, p.Assess(readings).Score, 1e-9)

	pred, err := p.Predict(context.Background(), "ten_1", "api", readings)
	require.NoError(t, err)
	assert.Nil(t, pred)
}

func TestPredict_ThresholdIsStrict(t *testing.T) {
	p := NewPredictor(DefaultConfig())

	// 0.3 + 0.3 sits exactly on the threshold.
	pred, err := p.Predict(context.Background(), "ten_1", "api", map[string]float64{
		"cpu_usage":    86,
		"memory_usage": 91,
	})
	require.NoError(t, err)
	assert.Nil(t, pred)

	pred, err = p.Predict(context.Background(), "ten_1", "api", map[string]float64{
		"error_rate":    11,
		"response_time": 2001,
		"cpu_usage":     86,
	})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.InDelta(t, 0.9, pred.RiskScore, 1e-9)
	assert.Equal(t, 33, pred.TimeToFailureMinutes)

	// 0.4 + 0.2 sums to 0.6000000000000001 in float64 and must not fire.
	pred, err = p.Predict(context.Background(), "ten_1", "api", map[string]float64{
		"error_rate":    11,
		"response_time": 2001,
	})
	require.NoError(t, err)
	assert.Nil(t, pred)
}

func TestPredict_FineGrainedWeights(t *testing.T) {
	p := NewPredictor(Config{
		Threshold: 0.6,
		Rules: []Rule{
			{Metric: "queue_depth", Above: 1000, Label: "Queue backlog", Weight: 0.6004},
		},
	})

	pred, err := p.Predict(context.Background(), "ten_1", "worker", map[string]float64{"queue_depth": 5000})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.InDelta(t, 0.6004, pred.RiskScore, 1e-12)
}

func TestPredict_ConditionsAreStrict(t *testing.T) {
	p := NewPredictor(DefaultConfig())
	a := p.Assess(map[string]float64{
		"cpu_usage":     85,
		"memory_usage":  90,
		"error_rate":    10,
		"response_time": 2000,
	})
	assert.Equal(t, 0.0, a.Score)
	assert.Empty(t, a.RiskFactors)
}

func TestPredict_MissingMetricsNeverTrigger(t *testing.T) {
	p := NewPredictor(DefaultConfig())

	pred, err := p.Predict(context.Background(), "ten_1", "api", map[string]float64{})
	require.NoError(t, err)
	assert.Nil(t, pred)

	pred, err = p.Predict(context.Background(), "ten_1", "api", nil)
	require.NoError(t, err)
	assert.Nil(t, pred)

	a := p.Assess(map[string]float64{"disk_usage": 99, "error_rate": 50})
	assert.InDelta(t, 0.4, a.Score, 1e-9)
	assert.Equal(t, []string{"error_rate"}, a.AffectedMetrics)
}

func TestPredict_RejectsInvalidInput(t *testing.T) {
	p := NewPredictor(DefaultConfig())
	ctx := context.Background()

	_, err := p.Predict(ctx, "ten_1", "api", map[string]float64{"cpu_usage": math.NaN()})
	assert.True(t, errors.Is(err, validation.ErrInvalidInput))

	_, err = p.Predict(ctx, "", "api", map[string]float64{"cpu_usage": 99})
	assert.True(t, errors.Is(err, validation.ErrInvalidInput))

	_, err = p.Predict(ctx, "ten_1", "", map[string]float64{"cpu_usage": 99})
	assert.True(t, errors.Is(err, validation.ErrInvalidInput))
}

func TestTimeToFailure(t *testing.T) {
	p := NewPredictor(DefaultConfig())
	assert.Equal(t, 39, p.TimeToFailure(0.7))
	assert.Equal(t, 30, p.TimeToFailure(1.0))
	assert.Equal(t, 24, p.TimeToFailure(1.2))
	assert.Equal(t, 5, p.TimeToFailure(3))
}

func TestPredict_CustomRules(t *testing.T) {
	cfg := Config{
		Threshold: 0.5,
		Rules: []Rule{
			{Metric: "queue_depth", Above: 1000, Label: "Queue backlog", Weight: 0.6, Actions: []string{"Add workers"}},
		},
	}
	p := NewPredictor(cfg)
	assert.Equal(t, 60.0, p.Config().BaseMinutes)

	pred, err := p.Predict(context.Background(), "ten_1", "worker", map[string]float64{"queue_depth": 5000, "cpu_usage": 99})
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.Equal(t, []string{"Queue backlog"}, pred.RiskFactors)
	assert.Equal(t, []string{"Add workers"}, pred.RecommendedActions)
}

func TestPredict_PublishFailureStillReturnsPrediction(t *testing.T) {
	pub := events.PublisherFunc(func(context.Context, events.EventType, map[string]interface{}) error {
		return errors.New("unavailable")
	})
	p := NewPredictor(DefaultConfig(), WithPublisher(pub))

	pred, err := p.Predict(context.Background(), "ten_1", "api", map[string]float64{"error_rate": 50, "cpu_usage": 99})
	require.NoError(t, err)
	assert.NotNil(t, pred)
}
