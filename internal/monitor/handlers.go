package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/vigil/internal/baseline"
	"github.com/mbd888/vigil/internal/chain"
	"github.com/mbd888/vigil/internal/fraud"
	"github.com/mbd888/vigil/internal/logging"
	"github.com/mbd888/vigil/internal/validation"
)

// Handler provides HTTP endpoints for the monitoring core
type Handler struct {
	service *Service
}

// NewHandler creates a new monitor handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up monitoring routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/metrics", h.RecordMetric)
	r.GET("/baselines/:metric", h.GetBaseline)
	r.POST("/baselines/:metric", h.UpdateBaseline)
	r.POST("/anomalies/detect", h.DetectAnomaly)
	r.POST("/outages/detect", h.DetectOutageRisk)
	r.POST("/fraud/detect", h.DetectFraud)
	r.POST("/fraud/observe", h.ObserveTransaction)
	r.POST("/fraud/web3", h.DetectWeb3)
	r.POST("/fraud/web3/scan", h.ScanWallet)
}

// RecordMetricRequest is the body of POST /v1/metrics
type RecordMetricRequest struct {
	TenantID    string            `json:"tenantId"`
	ServiceName string            `json:"serviceName"`
	MetricName  string            `json:"metricName"`
	Value       *float64          `json:"value"`
	Timestamp   time.Time         `json:"timestamp"`
	Labels      map[string]string `json:"labels"`
}

// DetectAnomalyRequest is the body of POST /v1/anomalies/detect
type DetectAnomalyRequest struct {
	TenantID    string   `json:"tenantId"`
	ServiceName string   `json:"serviceName"`
	MetricName  string   `json:"metricName"`
	Value       *float64 `json:"value"`
}

// DetectOutageRequest is the body of POST /v1/outages/detect
type DetectOutageRequest struct {
	TenantID    string             `json:"tenantId"`
	ServiceName string             `json:"serviceName"`
	Metrics     map[string]float64 `json:"metrics"`
}

// TransactionRequest is the body of POST /v1/fraud/detect and /v1/fraud/observe
type TransactionRequest struct {
	TenantID    string             `json:"tenantId"`
	Transaction *fraud.Transaction `json:"transaction"`
}

// Web3Request is the body of POST /v1/fraud/web3
type Web3Request struct {
	TenantID string              `json:"tenantId"`
	Activity *fraud.Web3Activity `json:"activity"`
}

// ScanRequest is the body of POST /v1/fraud/web3/scan
type ScanRequest struct {
	TenantID      string `json:"tenantId"`
	WalletAddress string `json:"walletAddress"`
}

// RecordMetric handles POST /v1/metrics
func (h *Handler) RecordMetric(c *gin.Context) {
	var req RecordMetricRequest
	if !bind(c, &req) {
		return
	}
	if req.Value == nil {
		missingField(c, "value")
		return
	}

	a, err := h.service.RecordMetric(c.Request.Context(), req.TenantID, baseline.Sample{
		ServiceName: req.ServiceName,
		MetricName:  req.MetricName,
		Value:       *req.Value,
		Timestamp:   req.Timestamp,
		Labels:      req.Labels,
	})
	if err != nil {
		respondError(c, err, "record_failed")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"recorded":   true,
		"dataPoints": len(h.service.History(req.MetricName)),
		"anomaly":    a,
	})
}

// GetBaseline handles GET /v1/baselines/:metric
func (h *Handler) GetBaseline(c *gin.Context) {
	metric := c.Param("metric")
	if err := validation.Validate(validation.MetricName("metric", metric)); err != nil {
		respondError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"metricName": metric,
		"history":    h.service.History(metric),
		"stats":      h.service.Baseline(metric),
	})
}

// UpdateBaseline handles POST /v1/baselines/:metric
func (h *Handler) UpdateBaseline(c *gin.Context) {
	var req struct {
		Value *float64 `json:"value"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Value == nil {
		missingField(c, "value")
		return
	}
	metric := c.Param("metric")
	if err := h.service.UpdateBaseline(c.Request.Context(), metric, *req.Value); err != nil {
		respondError(c, err, "update_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"metricName": metric,
		"dataPoints": len(h.service.History(metric)),
	})
}

// DetectAnomaly handles POST /v1/anomalies/detect
func (h *Handler) DetectAnomaly(c *gin.Context) {
	var req DetectAnomalyRequest
	if !bind(c, &req) {
		return
	}
	if req.Value == nil {
		missingField(c, "value")
		return
	}

	a, err := h.service.DetectAnomaly(c.Request.Context(), req.TenantID, req.ServiceName, req.MetricName, *req.Value)
	if err != nil {
		respondError(c, err, "detection_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"detected": a != nil, "anomaly": a})
}

// DetectOutageRisk handles POST /v1/outages/detect
func (h *Handler) DetectOutageRisk(c *gin.Context) {
	var req DetectOutageRequest
	if !bind(c, &req) {
		return
	}

	p, err := h.service.DetectOutageRisk(c.Request.Context(), req.TenantID, req.ServiceName, req.Metrics)
	if err != nil {
		respondError(c, err, "detection_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"detected": p != nil, "prediction": p})
}

// DetectFraud handles POST /v1/fraud/detect
func (h *Handler) DetectFraud(c *gin.Context) {
	var req TransactionRequest
	if !bind(c, &req) {
		return
	}
	if req.Transaction == nil {
		missingField(c, "transaction")
		return
	}

	p, err := h.service.DetectFraud(c.Request.Context(), req.TenantID, req.Transaction)
	if err != nil {
		respondError(c, err, "detection_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"detected": p != nil, "prediction": p})
}

// ObserveTransaction handles POST /v1/fraud/observe
func (h *Handler) ObserveTransaction(c *gin.Context) {
	var req TransactionRequest
	if !bind(c, &req) {
		return
	}
	if req.Transaction == nil {
		missingField(c, "transaction")
		return
	}

	profile, err := h.service.ObserveTransaction(c.Request.Context(), req.TenantID, req.Transaction)
	if err != nil {
		respondError(c, err, "observe_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

// DetectWeb3 handles POST /v1/fraud/web3
func (h *Handler) DetectWeb3(c *gin.Context) {
	var req Web3Request
	if !bind(c, &req) {
		return
	}
	if req.Activity == nil {
		missingField(c, "activity")
		return
	}

	p, err := h.service.DetectWeb3SuspiciousActivity(c.Request.Context(), req.TenantID, req.Activity)
	if err != nil {
		respondError(c, err, "detection_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"detected": p != nil, "prediction": p})
}

// ScanWallet handles POST /v1/fraud/web3/scan
func (h *Handler) ScanWallet(c *gin.Context) {
	var req ScanRequest
	if !bind(c, &req) {
		return
	}

	activity, p, err := h.service.ScanWallet(c.Request.Context(), req.TenantID, req.WalletAddress)
	if err != nil {
		respondError(c, err, "scan_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"detected":   p != nil,
		"activity":   activity,
		"prediction": p,
	})
}

func bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return false
	}
	return true
}

func missingField(c *gin.Context, field string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": field + ": is required",
	})
}

func respondError(c *gin.Context, err error, code string) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": verrs.Error(),
			"details": verrs,
		})
	case errors.Is(err, ErrInvalidInput), errors.Is(err, chain.ErrInvalidWallet):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	case errors.Is(err, ErrChainDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "chain_disabled",
			"message": "Wallet scanning is not configured",
		})
	case errors.Is(err, fraud.ErrNoProfileStore):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "profiles_unavailable",
			"message": "Profile learning is not configured",
		})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":   "timeout",
			"message": "Request timed out",
		})
	default:
		logging.L(c.Request.Context()).Error("monitor request failed", "error", err, "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   code,
			"message": "Internal error",
		})
	}
}
