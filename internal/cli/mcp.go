package cli

import (
	"context"
	"fmt"

	"github.com/aretw0/espalier/pkg/adapters/mcp"
)

// ServeMCP exposes the pipeline as MCP tools over stdio or SSE.
func ServeMCP(ctx context.Context, opts MCPOptions) error {
	logger, err := createLogger(opts.LogLevel)
	if err != nil {
		return err
	}

	engine, closeStore, err := createEngine(opts.Options, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	defer func() { _ = engine.Close(context.WithoutCancel(ctx)) }()

	srv := mcp.NewServer(engine, mcp.WithLogger(logger))
	switch opts.Transport {
	case "", "stdio":
		logger.Info("Starting espalier MCP Server (Stdio)")
		return srv.ServeStdio()
	case "sse":
		return srv.ServeSSE(ctx, opts.Port)
	default:
		return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", opts.Transport)
	}
}
