package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/internal/presentation/graph"
	"github.com/aretw0/espalier/internal/sanitize"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
)

// Resource URIs.
const (
	GraphURI = "espalier://graph"
	NodesURI = "espalier://nodes"
)

// Engine defines what the MCP server needs from the pipeline engine.
type Engine interface {
	RunWithID(ctx context.Context, runID string, inputs map[string]any) (*domain.Outcome, error)
	Load(ctx context.Context, runID string) (*domain.Outcome, error)
	Inspect() []domain.NodeInfo
	Name() string
}

// RunArgs are the arguments of the run_pipeline tool.
type RunArgs struct {
	RunID  string         `json:"run_id,omitempty"`
	Inputs map[string]any `json:"inputs"`
}

// Server wraps the Engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the server logger. Under stdio it must not write to stdout.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		mcpServer: server.NewMCPServer("espalier-mcp", espalier.Version),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over SSE on the given port until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))
	httpServer := &http.Server{Addr: addr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: run_pipeline
	s.mcpServer.AddTool(mcp.NewTool("run_pipeline",
		mcp.WithDescription(fmt.Sprintf("Run the %q pipeline once and return its outcome.", s.engine.Name())),
		mcp.WithObject("inputs", mcp.Required(), mcp.Description("Values for the pipeline inputs, by name")),
		mcp.WithString("run_id", mcp.Description("Run ID to record the outcome under (optional, must be unused)")),
	), s.handleRun)

	// TOOL: get_run
	s.mcpServer.AddTool(mcp.NewTool("get_run",
		mcp.WithDescription("Fetch the recorded outcome of a previous run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("The run ID")),
	), s.handleGetRun)

	// TOOL: describe_pipeline
	s.mcpServer.AddTool(mcp.NewTool("describe_pipeline",
		mcp.WithDescription("Describe the nodes of the pipeline: what each reads and writes."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jsonBytes, err := json.Marshal(s.engine.Inspect())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("inspect failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

func (s *Server) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args RunArgs
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	inputs, err := sanitize.Inputs(args.Inputs)
	if err != nil {
		s.logger.Warn("MCP run: Input rejected", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("input rejected: %v", err)), nil
	}
	if args.RunID == "" {
		args.RunID = uuid.NewString()
	}

	outcome, err := s.engine.RunWithID(ctx, args.RunID, inputs)
	if outcome == nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", err)), nil
	}
	return outcomeResult(outcome)
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	outcome, err := s.engine.Load(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("load failed: %v", err)), nil
	}
	return outcomeResult(outcome)
}

// outcomeResult carries the outcome as structured content; a run that did
// not succeed is flagged as a tool error.
func outcomeResult(outcome *domain.Outcome) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outcome: %w", err)
	}
	result := mcp.NewToolResultStructured(outcome, string(jsonBytes))
	result.IsError = !outcome.Succeeded()
	return result, nil
}

func (s *Server) registerResources() {
	// EXPOSE: espalier://graph
	s.mcpServer.AddResource(mcp.NewResource(GraphURI, "Pipeline Graph (Mermaid)",
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      GraphURI,
				MIMEType: "text/plain",
				Text:     graph.GenerateMermaid(s.engine.Inspect(), nil),
			},
		}, nil
	})

	// EXPOSE: espalier://nodes
	s.mcpServer.AddResource(mcp.NewResource(NodesURI, "Pipeline Nodes",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.engine.Inspect())
		if err != nil {
			return nil, fmt.Errorf("failed to inspect graph: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      NodesURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
