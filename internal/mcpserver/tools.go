package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the vigil MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolRecordMetric = mcp.NewTool("record_metric",
	mcp.WithDescription(
		"Record one metric sample for a service. The sample joins the metric's rolling baseline "+
			"and is checked against it; any anomaly found is returned."),
	mcp.WithString("service_name",
		mcp.Required(),
		mcp.Description("Service the sample belongs to (e.g. 'checkout-api')")),
	mcp.WithString("metric_name",
		mcp.Required(),
		mcp.Description("Metric name (e.g. 'cpu_usage', 'error_rate', 'response_time')")),
	mcp.WithNumber("value",
		mcp.Required(),
		mcp.Description("Observed value")),
)

var ToolDetectAnomaly = mcp.NewTool("detect_anomaly",
	mcp.WithDescription(
		"Check whether a value would be anomalous for a metric's learned baseline without recording it. "+
			"Needs at least 10 prior samples for the metric."),
	mcp.WithString("service_name",
		mcp.Required(),
		mcp.Description("Service the metric belongs to")),
	mcp.WithString("metric_name",
		mcp.Required(),
		mcp.Description("Metric name")),
	mcp.WithNumber("value",
		mcp.Required(),
		mcp.Description("Value to test")),
)

var ToolDetectOutageRisk = mcp.NewTool("detect_outage_risk",
	mcp.WithDescription(
		"Score the outage risk for a service from a snapshot of its current metrics. "+
			"Returns risk factors, estimated minutes to failure, and recommended actions when the risk is high."),
	mcp.WithString("service_name",
		mcp.Required(),
		mcp.Description("Service to assess")),
	mcp.WithObject("metrics",
		mcp.Required(),
		mcp.Description("Current metric values, e.g. {\"cpu_usage\": 92, \"memory_usage\": 88, \"error_rate\": 6, \"response_time\": 1500}")),
)

var ToolDetectFraud = mcp.NewTool("detect_fraud",
	mcp.WithDescription(
		"Score a transaction against the tenant's learned volume, frequency, amount and timing profile."),
	mcp.WithNumber("volume",
		mcp.Required(),
		mcp.Description("Transaction volume in the current window")),
	mcp.WithNumber("frequency",
		mcp.Required(),
		mcp.Description("Transactions per window")),
	mcp.WithNumber("amount",
		mcp.Description("Amount of this transaction")),
	mcp.WithNumber("time_since_last",
		mcp.Description("Seconds since the previous transaction")),
)

var ToolDetectWeb3Activity = mcp.NewTool("detect_web3_activity",
	mcp.WithDescription(
		"Score a wallet's on-chain activity summary for suspicious behavior "+
			"(bursts of transactions, many large transfers, abnormal gas usage)."),
	mcp.WithString("wallet_address",
		mcp.Required(),
		mcp.Description("Wallet address (0x followed by 40 hex characters)")),
	mcp.WithNumber("transaction_count",
		mcp.Required(),
		mcp.Description("Transactions in the observed window")),
	mcp.WithNumber("large_transaction_count",
		mcp.Description("Large transfers in the observed window")),
	mcp.WithBoolean("abnormal_gas_usage",
		mcp.Description("Whether gas usage was abnormal in the window")),
)

var ToolScanWallet = mcp.NewTool("scan_wallet",
	mcp.WithDescription(
		"Collect a wallet's recent on-chain activity from the configured RPC node and score it. "+
			"Only available when the server has chain access configured."),
	mcp.WithString("wallet_address",
		mcp.Required(),
		mcp.Description("Wallet address (0x followed by 40 hex characters)")),
)

var ToolGetBaseline = mcp.NewTool("get_baseline",
	mcp.WithDescription(
		"Show the rolling history and summary statistics (mean, standard deviation, count) for a metric."),
	mcp.WithString("metric_name",
		mcp.Required(),
		mcp.Description("Metric name")),
)

var ToolListPredictions = mcp.NewTool("list_predictions",
	mcp.WithDescription(
		"List recent anomalies, outage predictions and fraud predictions recorded for the tenant, newest first."),
	mcp.WithString("type",
		mcp.Description("Filter by prediction kind"),
		mcp.Enum("monitoring.anomaly_detected", "monitoring.outage_predicted", "monitoring.fraud_predicted")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of predictions to return (default 20)")),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous call to fetch the next page")),
)
