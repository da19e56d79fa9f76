// Vigil MCP Server - Exposes vigil detection tools to LLMs over stdio
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/vigil/internal/mcpserver"
)

// Version is set by ldflags
var Version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL:   envOrDefault("VIGIL_API_URL", "http://localhost:8080"),
		APIKey:   os.Getenv("VIGIL_API_KEY"),
		TenantID: os.Getenv("VIGIL_TENANT_ID"),
	}

	if cfg.TenantID == "" {
		fmt.Fprintln(os.Stderr, "VIGIL_TENANT_ID is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
