package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all vigil tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("vigil", version)
	client := NewVigilClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolRecordMetric, h.HandleRecordMetric)
	s.AddTool(ToolDetectAnomaly, h.HandleDetectAnomaly)
	s.AddTool(ToolDetectOutageRisk, h.HandleDetectOutageRisk)
	s.AddTool(ToolDetectFraud, h.HandleDetectFraud)
	s.AddTool(ToolDetectWeb3Activity, h.HandleDetectWeb3Activity)
	s.AddTool(ToolScanWallet, h.HandleScanWallet)
	s.AddTool(ToolGetBaseline, h.HandleGetBaseline)
	s.AddTool(ToolListPredictions, h.HandleListPredictions)

	return s
}
