package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *VigilClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *VigilClient) *Handlers {
	return &Handlers{client: client}
}

// HandleRecordMetric records a sample and reports any anomaly it triggered.
func (h *Handlers) HandleRecordMetric(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serviceName, metricName, value, errResult := metricArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.RecordMetric(ctx, serviceName, metricName, value)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to record metric: %v", err)), nil
	}

	var resp struct {
		DataPoints int             `json:"dataPoints"`
		Anomaly    json.RawMessage `json:"anomaly"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Recorded %s/%s = %g (%d data points)\n", serviceName, metricName, value, resp.DataPoints)
	if isNull(resp.Anomaly) {
		sb.WriteString("No anomaly detected.")
	} else {
		sb.WriteString("\n")
		sb.WriteString(formatAnomaly(resp.Anomaly))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleDetectAnomaly tests a value against a baseline without recording it.
func (h *Handlers) HandleDetectAnomaly(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serviceName, metricName, value, errResult := metricArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.DetectAnomaly(ctx, serviceName, metricName, value)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to detect anomaly: %v", err)), nil
	}

	detected, body, err := detection(raw, "anomaly")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	if !detected {
		return mcp.NewToolResultText(fmt.Sprintf(
			"No anomaly: %g is within the baseline for %s/%s (or the baseline has too few samples).",
			value, serviceName, metricName)), nil
	}
	return mcp.NewToolResultText(formatAnomaly(body)), nil
}

// HandleDetectOutageRisk scores a metric snapshot for outage risk.
func (h *Handlers) HandleDetectOutageRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serviceName := req.GetString("service_name", "")
	if serviceName == "" {
		return mcp.NewToolResultError("service_name is required"), nil
	}
	rawMetrics, ok := req.GetArguments()["metrics"].(map[string]any)
	if !ok || len(rawMetrics) == 0 {
		return mcp.NewToolResultError("metrics is required"), nil
	}
	metrics := make(map[string]float64, len(rawMetrics))
	for k, v := range rawMetrics {
		f, ok := v.(float64)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("metrics.%s must be a number", k)), nil
		}
		metrics[k] = f
	}

	raw, err := h.client.DetectOutageRisk(ctx, serviceName, metrics)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to assess outage risk: %v", err)), nil
	}

	detected, body, err := detection(raw, "prediction")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	if !detected {
		return mcp.NewToolResultText(fmt.Sprintf("Outage risk for %s is low.", serviceName)), nil
	}
	return mcp.NewToolResultText(formatOutage(body)), nil
}

// HandleDetectFraud scores a transaction.
func (h *Handlers) HandleDetectFraud(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	for _, k := range []string{"volume", "frequency"} {
		if _, ok := args[k].(float64); !ok {
			return mcp.NewToolResultError(k + " is required"), nil
		}
	}
	tx := map[string]any{
		"volume":        req.GetFloat("volume", 0),
		"frequency":     req.GetFloat("frequency", 0),
		"amount":        req.GetFloat("amount", 0),
		"timeSinceLast": req.GetFloat("time_since_last", 0),
	}

	raw, err := h.client.DetectFraud(ctx, tx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to detect fraud: %v", err)), nil
	}
	return fraudResult(raw, "Transaction looks normal.")
}

// HandleDetectWeb3Activity scores a wallet activity summary.
func (h *Handlers) HandleDetectWeb3Activity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wallet := req.GetString("wallet_address", "")
	if wallet == "" {
		return mcp.NewToolResultError("wallet_address is required"), nil
	}
	if _, ok := req.GetArguments()["transaction_count"].(float64); !ok {
		return mcp.NewToolResultError("transaction_count is required"), nil
	}
	activity := map[string]any{
		"walletAddress":         wallet,
		"transactionCount":      req.GetInt("transaction_count", 0),
		"largeTransactionCount": req.GetInt("large_transaction_count", 0),
		"abnormalGasUsage":      req.GetBool("abnormal_gas_usage", false),
	}

	raw, err := h.client.DetectWeb3(ctx, activity)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to score wallet activity: %v", err)), nil
	}
	return fraudResult(raw, fmt.Sprintf("No suspicious activity for %s.", wallet))
}

// HandleScanWallet collects on-chain activity for a wallet and scores it.
func (h *Handlers) HandleScanWallet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wallet := req.GetString("wallet_address", "")
	if wallet == "" {
		return mcp.NewToolResultError("wallet_address is required"), nil
	}

	raw, err := h.client.ScanWallet(ctx, wallet)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to scan wallet: %v", err)), nil
	}

	var resp struct {
		Detected   bool            `json:"detected"`
		Activity   map[string]any  `json:"activity"`
		Prediction json.RawMessage `json:"prediction"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Wallet %s\n", wallet)
	if v := getString(resp.Activity, "timeWindow"); v != "" {
		fmt.Fprintf(&sb, "  Window: %s\n", v)
	}
	if v, ok := getFloat(resp.Activity, "transactionCount"); ok {
		fmt.Fprintf(&sb, "  Transactions: %.0f\n", v)
	}
	if v, ok := getFloat(resp.Activity, "largeTransactionCount"); ok {
		fmt.Fprintf(&sb, "  Large transfers: %.0f\n", v)
	}
	if v, ok := resp.Activity["abnormalGasUsage"].(bool); ok && v {
		sb.WriteString("  Abnormal gas usage\n")
	}
	sb.WriteString("\n")
	if !resp.Detected || isNull(resp.Prediction) {
		sb.WriteString("No suspicious activity detected.")
	} else {
		sb.WriteString(formatFraud(resp.Prediction))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetBaseline shows a metric's history and statistics.
func (h *Handlers) HandleGetBaseline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	metricName := req.GetString("metric_name", "")
	if metricName == "" {
		return mcp.NewToolResultError("metric_name is required"), nil
	}

	raw, err := h.client.GetBaseline(ctx, metricName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get baseline: %v", err)), nil
	}

	var resp struct {
		History []float64      `json:"history"`
		Stats   map[string]any `json:"stats"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse baseline: %v", err)), nil
	}
	if len(resp.History) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No samples recorded for %s.", metricName)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Baseline for %s:\n", metricName)
	if v, ok := getFloat(resp.Stats, "count"); ok {
		fmt.Fprintf(&sb, "  Samples: %.0f\n", v)
	}
	if v, ok := getFloat(resp.Stats, "mean"); ok {
		fmt.Fprintf(&sb, "  Mean:    %.4g\n", v)
	}
	if v, ok := getFloat(resp.Stats, "stdDev"); ok {
		fmt.Fprintf(&sb, "  StdDev:  %.4g\n", v)
	}
	fmt.Fprintf(&sb, "  Latest:  %g\n", resp.History[len(resp.History)-1])
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListPredictions lists the tenant's recorded predictions.
func (h *Handlers) HandleListPredictions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eventType := req.GetString("type", "")
	limit := req.GetInt("limit", 20)
	cursor := req.GetString("cursor", "")

	raw, err := h.client.ListPredictions(ctx, eventType, limit, cursor)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list predictions: %v", err)), nil
	}

	text, err := formatPredictionList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse predictions: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Helpers ---

func metricArgs(req mcp.CallToolRequest) (string, string, float64, *mcp.CallToolResult) {
	serviceName := req.GetString("service_name", "")
	if serviceName == "" {
		return "", "", 0, mcp.NewToolResultError("service_name is required")
	}
	metricName := req.GetString("metric_name", "")
	if metricName == "" {
		return "", "", 0, mcp.NewToolResultError("metric_name is required")
	}
	value, ok := req.GetArguments()["value"].(float64)
	if !ok {
		return "", "", 0, mcp.NewToolResultError("value is required")
	}
	return serviceName, metricName, value, nil
}

// detection unpacks a {"detected": bool, "<key>": {...}} response.
func detection(raw json.RawMessage, key string) (bool, json.RawMessage, error) {
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, nil, err
	}
	var detected bool
	if d, ok := resp["detected"]; ok {
		if err := json.Unmarshal(d, &detected); err != nil {
			return false, nil, err
		}
	}
	body := resp[key]
	return detected && !isNull(body), body, nil
}

func fraudResult(raw json.RawMessage, clean string) (*mcp.CallToolResult, error) {
	detected, body, err := detection(raw, "prediction")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	if !detected {
		return mcp.NewToolResultText(clean), nil
	}
	return mcp.NewToolResultText(formatFraud(body)), nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func formatAnomaly(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return formatJSON(raw)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "ANOMALY on %s/%s\n", getString(m, "serviceName"), getString(m, "metricName"))
	if v, ok := getFloat(m, "anomalyScore"); ok {
		fmt.Fprintf(&sb, "  Score: %.2f", v)
		if t, ok := getFloat(m, "threshold"); ok {
			fmt.Fprintf(&sb, " (threshold %.2f)", t)
		}
		sb.WriteString("\n")
	}
	if v, ok := getFloat(m, "confidence"); ok {
		fmt.Fprintf(&sb, "  Confidence: %.0f%%\n", v*100)
	}
	if md, ok := m["metadata"].(map[string]any); ok {
		if v, ok := getFloat(md, "currentValue"); ok {
			fmt.Fprintf(&sb, "  Value: %g", v)
			if mean, ok := getFloat(md, "baselineMean"); ok {
				fmt.Fprintf(&sb, " vs mean %.4g", mean)
			}
			sb.WriteString("\n")
		}
		if v := getString(md, "trendDirection"); v != "" {
			fmt.Fprintf(&sb, "  Trend: %s\n", v)
		}
	}
	if v := getString(m, "id"); v != "" {
		fmt.Fprintf(&sb, "  ID: %s\n", v)
	}
	return sb.String()
}

func formatOutage(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return formatJSON(raw)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "OUTAGE RISK for %s\n", getString(m, "serviceName"))
	if v, ok := getFloat(m, "riskScore"); ok {
		fmt.Fprintf(&sb, "  Risk score: %.2f\n", v)
	}
	if v, ok := getFloat(m, "timeToFailure"); ok {
		fmt.Fprintf(&sb, "  Estimated time to failure: %.0f minutes\n", v)
	}
	writeList(&sb, "Risk factors", m["riskFactors"])
	writeList(&sb, "Recommended actions", m["recommendedActions"])
	return sb.String()
}

func formatFraud(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return formatJSON(raw)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "FRAUD RISK: %s (%s)\n", strings.ToUpper(getString(m, "riskLevel")), getString(m, "predictionType"))
	if v, ok := getFloat(m, "riskScore"); ok {
		fmt.Fprintf(&sb, "  Risk score: %.3f\n", v)
	}
	if v, ok := getFloat(m, "confidence"); ok {
		fmt.Fprintf(&sb, "  Confidence: %.0f%%\n", v*100)
	}
	if review, ok := m["requiresReview"].(bool); ok && review {
		sb.WriteString("  Requires manual review\n")
	}
	writeList(&sb, "Indicators", m["indicators"])
	return sb.String()
}

func formatPredictionList(raw json.RawMessage) (string, error) {
	var resp struct {
		Predictions []map[string]any `json:"predictions"`
		NextCursor  string           `json:"nextCursor"`
		HasMore     bool             `json:"hasMore"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Predictions) == 0 {
		return "No predictions recorded.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d prediction(s):\n\n", len(resp.Predictions))
	for i, p := range resp.Predictions {
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, getString(p, "eventType"), getString(p, "subject"))
		if v, ok := getFloat(p, "score"); ok {
			fmt.Fprintf(&sb, " score=%.3f", v)
		}
		if v := getString(p, "createdAt"); v != "" {
			fmt.Fprintf(&sb, " at %s", v)
		}
		sb.WriteString("\n")
	}
	if resp.HasMore {
		fmt.Fprintf(&sb, "\nMore results available. Pass cursor=%s to continue.", resp.NextCursor)
	}
	return sb.String(), nil
}

func writeList(sb *strings.Builder, title string, v any) {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			lines = append(lines, s)
		}
	}
	fmt.Fprintf(sb, "  %s:\n", title)
	for _, l := range lines {
		fmt.Fprintf(sb, "    - %s\n", l)
	}
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
