package main

import (
	"context"
	"os"

	mcpadapter "github.com/kirillkom/policy-router/internal/adapters/mcp"
	"github.com/kirillkom/policy-router/internal/bootstrap"
	"github.com/kirillkom/policy-router/internal/config"
	"github.com/kirillkom/policy-router/internal/observability/logging"
)

var version = "dev"

func main() {
	cfg := config.Load()
	// stdout carries the MCP protocol.
	logger := logging.NewJSONLoggerTo(os.Stderr, "policy-mcp", cfg.LogLevel)

	app, err := bootstrap.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := mcpadapter.NewServer(app.Pipeline, app.Plans, version).ServeStdio(); err != nil {
		logger.Error("mcp_server_failed", "error", err)
		os.Exit(1)
	}
}
