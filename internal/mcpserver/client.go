package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to a vigil API server.
type Config struct {
	APIURL   string // Base URL, e.g. "http://localhost:8080"
	APIKey   string // Optional bearer token for a fronting gateway
	TenantID string // Tenant every tool call is scoped to
}

// VigilClient is a pure HTTP client for the vigil /v1 API.
type VigilClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewVigilClient creates a new client for the vigil API.
func NewVigilClient(cfg Config) *VigilClient {
	return &VigilClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the server.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the server and returns the response body.
func (c *VigilClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("X-Tenant-ID", c.cfg.TenantID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var ae apiError
		if json.Unmarshal(respBody, &ae) == nil && ae.Message != "" {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, ae.Message)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// RecordMetric calls POST /v1/metrics.
func (c *VigilClient) RecordMetric(ctx context.Context, serviceName, metricName string, value float64) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/metrics", nil, map[string]any{
		"tenantId":    c.cfg.TenantID,
		"serviceName": serviceName,
		"metricName":  metricName,
		"value":       value,
	})
}

// DetectAnomaly calls POST /v1/anomalies/detect.
func (c *VigilClient) DetectAnomaly(ctx context.Context, serviceName, metricName string, value float64) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/anomalies/detect", nil, map[string]any{
		"tenantId":    c.cfg.TenantID,
		"serviceName": serviceName,
		"metricName":  metricName,
		"value":       value,
	})
}

// DetectOutageRisk calls POST /v1/outages/detect.
func (c *VigilClient) DetectOutageRisk(ctx context.Context, serviceName string, metrics map[string]float64) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/outages/detect", nil, map[string]any{
		"tenantId":    c.cfg.TenantID,
		"serviceName": serviceName,
		"metrics":     metrics,
	})
}

// DetectFraud calls POST /v1/fraud/detect.
func (c *VigilClient) DetectFraud(ctx context.Context, tx map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/fraud/detect", nil, map[string]any{
		"tenantId":    c.cfg.TenantID,
		"transaction": tx,
	})
}

// DetectWeb3 calls POST /v1/fraud/web3.
func (c *VigilClient) DetectWeb3(ctx context.Context, activity map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/fraud/web3", nil, map[string]any{
		"tenantId": c.cfg.TenantID,
		"activity": activity,
	})
}

// ScanWallet calls POST /v1/fraud/web3/scan.
func (c *VigilClient) ScanWallet(ctx context.Context, wallet string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/fraud/web3/scan", nil, map[string]any{
		"tenantId":      c.cfg.TenantID,
		"walletAddress": wallet,
	})
}

// GetBaseline calls GET /v1/baselines/:metric.
func (c *VigilClient) GetBaseline(ctx context.Context, metricName string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/baselines/"+url.PathEscape(metricName), nil, nil)
}

// ListPredictions calls GET /v1/predictions for the configured tenant.
func (c *VigilClient) ListPredictions(ctx context.Context, eventType string, limit int, cursor string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("tenantId", c.cfg.TenantID)
	if eventType != "" {
		q.Set("type", eventType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/predictions", q, nil)
}
