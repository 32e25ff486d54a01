package espalier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ledger"
	"github.com/aretw0/espalier/pkg/pipeline"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/google/uuid"
)

// Engine is the high-level entry point for the espalier library.
// It runs one graph many times, recording every run in a ledger.
type Engine struct {
	graph  *runtime.Graph
	runner *runtime.Runner
	ledger *ledger.Ledger

	name        string
	logger      *slog.Logger
	hooks       domain.LifecycleHooks
	grace       time.Duration
	concurrency int
	partial     bool
	store       ports.OutcomeStore
	locker      ports.DistributedLocker
	runtimeOpts []runtime.Option

	compiled *pipeline.Compiled
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks. It may be given more than
// once; hooks run in registration order.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = e.hooks.Combine(hooks)
	}
}

// WithGracePeriod bounds how long canceled nodes may take to return.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Engine) {
		e.grace = d
	}
}

// WithMaxConcurrency limits how many nodes run at once.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		e.concurrency = n
	}
}

// WithStore sets where outcomes are recorded (default: in memory).
func WithStore(store ports.OutcomeStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLocker serializes run IDs across replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithPartialOutputs keeps the values merged before a failure in the outcome.
func WithPartialOutputs(enabled bool) Option {
	return func(e *Engine) {
		e.partial = enabled
	}
}

// WithName names the pipeline in outcomes, logs and metrics.
func WithName(name string) Option {
	return func(e *Engine) {
		e.name = name
	}
}

// New creates an engine for an already built graph.
func New(graph *runtime.Graph, opts ...Option) (*Engine, error) {
	if graph == nil {
		return nil, errors.New("espalier: nil graph")
	}
	e := &Engine{graph: graph}
	for _, opt := range opts {
		opt(e)
	}
	e.init()
	return e, nil
}

// Load reads a pipeline file and creates an engine for it. The pipeline's
// own settings apply unless overridden by opts. Close releases its nodes.
func Load(path string, compileOpts []pipeline.CompileOption, opts ...Option) (*Engine, error) {
	def, err := pipeline.Load(path)
	if err != nil {
		return nil, err
	}
	return FromDefinition(def, compileOpts, opts...)
}

// FromDefinition compiles a pipeline definition into an engine.
func FromDefinition(def *pipeline.Definition, compileOpts []pipeline.CompileOption, opts ...Option) (*Engine, error) {
	compiled, err := def.Compile(compileOpts...)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		graph:       compiled.Graph,
		compiled:    compiled,
		name:        def.Name,
		runtimeOpts: compiled.RunnerOptions(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.init()
	return e, nil
}

func (e *Engine) init() {
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.store == nil {
		e.store = memory.NewStore()
	}

	runnerOpts := append([]runtime.Option{}, e.runtimeOpts...)
	runnerOpts = append(runnerOpts,
		runtime.WithLogger(e.logger),
		runtime.WithLifecycleHooks(e.hooks),
	)
	if e.name != "" {
		runnerOpts = append(runnerOpts, runtime.WithPipelineName(e.name))
	}
	if e.grace > 0 {
		runnerOpts = append(runnerOpts, runtime.WithGracePeriod(e.grace))
	}
	if e.concurrency > 0 {
		runnerOpts = append(runnerOpts, runtime.WithMaxConcurrency(e.concurrency))
	}
	e.runner = runtime.NewRunner(runnerOpts...)

	ledgerOpts := []ledger.Option{ledger.WithLogger(e.logger)}
	if e.locker != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithLocker(e.locker))
	}
	e.ledger = ledger.New(e.store, ledgerOpts...)
}

// Run executes the graph once under a fresh run ID.
func (e *Engine) Run(ctx context.Context, inputs map[string]any) (*domain.Outcome, error) {
	return e.RunWithID(ctx, uuid.NewString(), inputs)
}

// RunWithID executes the graph once under runID.
//
// On success the outcome holds every value of the final context. On failure
// it names the failed node and the cause chain, and the returned error is the
// run error. A run ID that was already used is refused with
// ledger.ErrRunExists.
func (e *Engine) RunWithID(ctx context.Context, runID string, inputs map[string]any) (*domain.Outcome, error) {
	return e.ledger.Execute(ctx, runID, func(ctx context.Context) (*domain.Outcome, error) {
		root := domain.NewContext(runID, inputs)
		outcome := &domain.Outcome{
			RunID:     runID,
			Pipeline:  e.name,
			Status:    domain.StatusSucceeded,
			StartedAt: time.Now().UTC(),
		}

		_, err := e.runner.Run(ctx, e.graph, root)
		outcome.FinishedAt = time.Now().UTC()
		outcome.History = root.History()
		if err != nil {
			outcome.Fail(err)
			if e.partial {
				outcome.Outputs = root.Values()
			}
			e.logger.Debug("Run failed", "run_id", runID, "node", outcome.FailedNode, "err", err)
			return outcome, err
		}
		outcome.Outputs = root.Values()
		return outcome, nil
	})
}

// Load retrieves a recorded outcome.
func (e *Engine) Load(ctx context.Context, runID string) (*domain.Outcome, error) {
	return e.ledger.Load(ctx, runID)
}

// List returns the recorded run IDs, most recent first.
func (e *Engine) List(ctx context.Context) ([]string, error) {
	return e.ledger.List(ctx)
}

// Inspect describes the nodes of the graph in execution order.
func (e *Engine) Inspect() []domain.NodeInfo {
	return e.graph.Nodes()
}

// Inputs returns the names the caller must supply to Run.
func (e *Engine) Inputs() []string {
	return e.graph.ExternalInputs()
}

// Ledger returns the run ledger.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Name returns the pipeline name.
func (e *Engine) Name() string {
	return e.name
}

// Close releases the foreign nodes of a loaded pipeline.
func (e *Engine) Close(ctx context.Context) error {
	if e.compiled == nil {
		return nil
	}
	if err := e.compiled.Close(ctx); err != nil {
		return fmt.Errorf("failed to close pipeline %s: %w", e.name, err)
	}
	return nil
}
