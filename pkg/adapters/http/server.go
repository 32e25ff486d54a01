package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/internal/presentation/graph"
	"github.com/aretw0/espalier/internal/sanitize"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ledger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine defines what the HTTP surface needs from the pipeline engine.
type Engine interface {
	RunWithID(ctx context.Context, runID string, inputs map[string]any) (*domain.Outcome, error)
	Load(ctx context.Context, runID string) (*domain.Outcome, error)
	List(ctx context.Context) ([]string, error)
	Inspect() []domain.NodeInfo
	Name() string
}

// RunRequest is the body of POST /runs.
type RunRequest struct {
	RunID  string         `json:"run_id,omitempty"`
	Inputs map[string]any `json:"inputs"`
}

// ErrorResponse is returned for requests that did not produce an outcome.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server serves the pipeline run interface.
type Server struct {
	Engine   Engine
	Streams  *StreamManager
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithStreams publishes run events to SSE subscribers. The same manager's
// Hooks must be registered on the engine.
func WithStreams(streams *StreamManager) Option {
	return func(s *Server) {
		s.Streams = streams
	}
}

// WithMetrics exposes the gatherer on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{Engine: engine, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.logger)
	}

	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/nodes", s.GetNodes)
	r.Get("/graph", s.GetGraph)
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.CreateRun)
		r.Get("/", s.ListRuns)
		r.Get("/{runID}", s.GetRun)
		r.Get("/{runID}/events", s.SubscribeEvents)
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateRun executes the pipeline once and answers with its outcome.
func (s *Server) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	r.Body = http.MaxBytesReader(w, r.Body, int64(sanitize.MaxInputSize()))
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("%w: limit=%d", sanitize.ErrInputTooLarge, tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	inputs, err := sanitize.Inputs(req.Inputs)
	if err != nil {
		s.logger.Warn("Run rejected", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	outcome, err := s.Engine.RunWithID(r.Context(), req.RunID, inputs)
	switch {
	case errors.Is(err, ledger.ErrRunExists):
		writeError(w, http.StatusConflict, err)
	case outcome == nil && err != nil:
		s.logger.Error("Run failed to start", "run_id", req.RunID, "err", err)
		writeError(w, http.StatusInternalServerError, err)
	case outcome.Succeeded():
		writeJSON(w, http.StatusOK, outcome)
	default:
		s.logger.Info("Run failed", "run_id", req.RunID, "node", outcome.FailedNode, "status", outcome.Status)
		writeJSON(w, http.StatusUnprocessableEntity, outcome)
	}
}

// GetRun returns a recorded outcome.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.Engine.Load(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, domain.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// ListRuns returns the recorded run IDs, most recent first.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// GetNodes describes the graph.
func (s *Server) GetNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Inspect())
}

// GetGraph renders the graph as Mermaid. With ?run_id= the nodes of that run
// are highlighted.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	var overlay *graph.GraphOverlay
	if runID := r.URL.Query().Get("run_id"); runID != "" {
		outcome, err := s.Engine.Load(r.Context(), runID)
		if errors.Is(err, domain.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		overlay = graph.OverlayFromOutcome(outcome)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(graph.GenerateMermaid(s.Engine.Inspect(), overlay)))
}

// GetHealth returns the health status of the server.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo returns the pipeline and module version.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"pipeline": s.Engine.Name(),
		"version":  espalier.Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
