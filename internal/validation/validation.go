// Package validation provides boundary checks for detector inputs and the
// request-size middleware used by the HTTP host.
package validation

import (
	"errors"
	"math"
	"net/http"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxNameLength bounds tenant, service and metric identifiers.
const MaxNameLength = 256

// ErrInvalidInput is matched (via errors.Is) by every ValidationErrors value.
var ErrInvalidInput = errors.New("invalid input")

var metricNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.:\-]*$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsFinite reports whether v is neither NaN nor ±Inf.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// IsValidMetricName checks a metric identifier like "cpu_usage" or "http.latency_ms".
func IsValidMetricName(name string) bool {
	return len(name) <= MaxNameLength && metricNameRegex.MatchString(name)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Is makes errors.Is(err, ErrInvalidInput) true for any validation failure.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidInput
}

// Validate runs validators and returns nil when all pass.
func Validate(validators ...func() *ValidationError) error {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		if len(value) > MaxNameLength {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// MetricName checks that a metric name is present and well-formed
func MetricName(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		if !IsValidMetricName(value) {
			return &ValidationError{Field: field, Message: "must be a metric identifier"}
		}
		return nil
	}
}

// Finite rejects NaN and infinite values
func Finite(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if !IsFinite(value) {
			return &ValidationError{Field: field, Message: "must be a finite number"}
		}
		return nil
	}
}

// NonNegative rejects non-finite and negative values
func NonNegative(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if !IsFinite(value) {
			return &ValidationError{Field: field, Message: "must be a finite number"}
		}
		if value < 0 {
			return &ValidationError{Field: field, Message: "must not be negative"}
		}
		return nil
	}
}

// FiniteValues rejects a map containing any non-finite value or invalid key
func FiniteValues(field string, values map[string]float64) func() *ValidationError {
	return func() *ValidationError {
		for k, v := range values {
			if !IsValidMetricName(k) {
				return &ValidationError{Field: field + "." + k, Message: "must be a metric identifier"}
			}
			if !IsFinite(v) {
				return &ValidationError{Field: field + "." + k, Message: "must be a finite number"}
			}
		}
		return nil
	}
}

// ValidAddress checks if a field is a valid Ethereum address
func ValidAddress(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !common.IsHexAddress(value) || !strings.HasPrefix(value, "0x") {
			return &ValidationError{Field: field, Message: "must be a valid Ethereum address (0x...)"}
		}
		return nil
	}
}
