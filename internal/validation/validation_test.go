package validation

import (
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite(0))
	assert.True(t, IsFinite(-12.5))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(1)))
	assert.False(t, IsFinite(math.Inf(-1)))
}

func TestIsValidMetricName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"cpu_usage", true},
		{"http.latency_ms", true},
		{"queue:depth", true},
		{"", false},
		{"9lives", false},
		{"cpu usage", false},
		{strings.Repeat("a", MaxNameLength+1), false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.valid, IsValidMetricName(tc.name), tc.name)
	}
}

func TestValidate_AllPass(t *testing.T) {
	err := Validate(
		Required("tenantId", "tenant-1"),
		MetricName("metricName", "cpu_usage"),
		Finite("value", 42),
		ValidAddress("walletAddress", "0x1234567890123456789012345678901234567890"),
	)
	assert.NoError(t, err)
}

func TestValidate_CollectsErrors(t *testing.T) {
	err := Validate(
		Required("tenantId", " "),
		Finite("value", math.NaN()),
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)
	assert.Equal(t, "tenantId: is required", err.Error())
}

func TestNonNegative(t *testing.T) {
	assert.Nil(t, NonNegative("volume", 0)())
	assert.NotNil(t, NonNegative("volume", -1)())
	assert.NotNil(t, NonNegative("volume", math.Inf(1))())
}

func TestFiniteValues(t *testing.T) {
	assert.Nil(t, FiniteValues("metrics", map[string]float64{"cpu_usage": 90})())

	verr := FiniteValues("metrics", map[string]float64{"cpu_usage": math.NaN()})()
	require.NotNil(t, verr)
	assert.Equal(t, "metrics.cpu_usage", verr.Field)

	assert.NotNil(t, FiniteValues("metrics", map[string]float64{"bad key": 1})())
}

func TestValidAddress(t *testing.T) {
	assert.Nil(t, ValidAddress("a", "")())
	assert.Nil(t, ValidAddress("a", "0xabcdefABCDEF1234567890123456789012345678")())
	assert.NotNil(t, ValidAddress("a", "1234567890123456789012345678901234567890")())
	assert.NotNil(t, ValidAddress("a", "0x1234")())
	assert.NotNil(t, ValidAddress("a", "0xGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGG")())
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  ", 10))
	assert.Equal(t, "hello", SanitizeString("hello world", 5))
	assert.Equal(t, "helloworld", SanitizeString("hello\x00world", 20))
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(8))
	r.POST("/", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"value": 1234567890}`))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
