package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
)

// DefaultGracePeriod is how long the runner waits for in-flight nodes after cancellation.
const DefaultGracePeriod = 5 * time.Second

// Runner schedules the nodes of a Graph.
//
// Independent nodes run concurrently. Every merge into the root context is
// performed by the goroutine that called Run, so merges are linearized and a
// dependent only starts once all of its producers have been merged.
type Runner struct {
	logger         *slog.Logger
	hooks          domain.LifecycleHooks
	maxConcurrency int
	gracePeriod    time.Duration
	pipeline       string
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used by the runner.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(r *Runner) {
		r.hooks = hooks
	}
}

// WithMaxConcurrency bounds the number of nodes executing at once. Zero means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.maxConcurrency = n
		}
	}
}

// WithGracePeriod sets how long in-flight nodes get to return once the run is canceled.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.gracePeriod = d
		}
	}
}

// WithPipelineName labels run events.
func WithPipelineName(name string) Option {
	return func(r *Runner) {
		r.pipeline = name
	}
}

// NewRunner creates a runner with the given options.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger:      logging.NewNop(),
		gracePeriod: DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GracePeriod returns the configured cancellation grace period.
func (r *Runner) GracePeriod() time.Duration {
	return r.gracePeriod
}

type nodeResult struct {
	name     string
	in       *domain.Context
	out      *domain.Context
	err      error
	duration time.Duration
}

// run holds the coordinator state of a single Run call.
// It is only touched by the coordinating goroutine.
type run struct {
	r     *Runner
	g     *Graph
	root  *domain.Context
	runID string

	ctx    context.Context
	cancel context.CancelFunc

	pending   map[string]int
	ready     []string
	inFlight  map[string]*domain.Context
	started   map[string]time.Time
	abandoned map[string]struct{}
	completed int

	results chan nodeResult
	expired chan string
	timers  []*time.Timer

	failure error
	stopped bool
}

// Run executes g against root, merging every node's outputs into root.
//
// The first node failure cancels the run and is returned as a
// *GraphExecutionError; nodes that already completed are not undone. When ctx
// is canceled, in-flight nodes get the grace period to return. A node that does
// not return in time is reported with a *CancellationTimeoutError.
func (r *Runner) Run(ctx context.Context, g *Graph, root *domain.Context) (*domain.Context, error) {
	if g == nil {
		return nil, errors.New("runtime: nil graph")
	}
	if root == nil {
		return nil, errors.New("runtime: nil root context")
	}
	for _, name := range g.externals {
		if !root.Has(name) {
			return root, &domain.UnresolvedInputError{Input: name}
		}
	}

	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &run{
		r:         r,
		g:         g,
		root:      root,
		runID:     root.RunID(),
		ctx:       runCtx,
		cancel:    cancel,
		pending:   make(map[string]int, len(g.order)),
		inFlight:  make(map[string]*domain.Context),
		started:   make(map[string]time.Time),
		abandoned: make(map[string]struct{}),
		// Buffered for every node so an abandoned goroutine never blocks on send.
		results: make(chan nodeResult, len(g.order)),
		expired: make(chan string, len(g.order)),
	}
	for _, name := range g.order {
		s.pending[name] = len(g.deps[name])
		if s.pending[name] == 0 {
			s.ready = append(s.ready, name)
		}
	}
	sort.Strings(s.ready)

	r.logger.DebugContext(ctx, "run started", "run_id", s.runID, "nodes", len(g.order))
	if r.hooks.OnRunStart != nil {
		r.hooks.OnRunStart(ctx, &domain.RunEvent{
			EventBase: domain.EventBase{Timestamp: start, Type: domain.EventRunStart, RunID: s.runID},
			Pipeline:  r.pipeline,
			Nodes:     len(g.order),
		})
	}

	err := s.loop(ctx)
	for _, t := range s.timers {
		t.Stop()
	}

	if err != nil {
		r.logger.DebugContext(ctx, "run failed", "run_id", s.runID, "err", err)
	} else {
		r.logger.DebugContext(ctx, "run completed", "run_id", s.runID, "duration", time.Since(start))
	}
	if r.hooks.OnRunFinish != nil {
		r.hooks.OnRunFinish(ctx, &domain.RunEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventRunFinish, RunID: s.runID},
			Pipeline:  r.pipeline,
			Nodes:     s.completed,
			Duration:  time.Since(start),
			Err:       err,
		})
	}
	return root, err
}

func (s *run) loop(parent context.Context) error {
	var grace <-chan time.Time
	for {
		if !s.stopped {
			s.launchReady()
		}
		if len(s.inFlight) == 0 {
			break
		}

		done := s.ctx.Done()
		if s.stopped {
			done = nil
			if grace == nil {
				t := time.NewTimer(s.r.gracePeriod)
				s.timers = append(s.timers, t)
				grace = t.C
			}
		}

		select {
		case res := <-s.results:
			s.handle(res)
		case name := <-s.expired:
			if _, ok := s.inFlight[name]; ok {
				s.abandon(name)
			}
		case <-done:
			s.stop()
		case <-grace:
			for _, name := range s.inFlightNames() {
				s.abandon(name)
			}
		}
	}

	if s.failure != nil {
		return s.failure
	}
	if s.completed < len(s.g.order) {
		// Canceled between nodes: nothing was interrupted.
		if err := parent.Err(); err != nil {
			return err
		}
		return s.ctx.Err()
	}
	return nil
}

func (s *run) stop() {
	if !s.stopped {
		s.stopped = true
		s.cancel()
	}
}

func (s *run) launchReady() {
	for len(s.ready) > 0 {
		if s.ctx.Err() != nil {
			s.stop()
			return
		}
		if limit := s.r.maxConcurrency; limit > 0 && len(s.inFlight) >= limit {
			return
		}
		name := s.ready[0]
		s.ready = s.ready[1:]
		s.launch(name)
		if s.stopped {
			return
		}
	}
}

func (s *run) launch(name string) {
	spec := s.g.specs[name]
	child, err := s.root.CreateChild(s.g.inputs[name])
	if err != nil {
		s.fail(name, err)
		return
	}

	nodeCtx, cancelNode := s.ctx, context.CancelFunc(func() {})
	if spec.Timeout > 0 {
		nodeCtx, cancelNode = context.WithTimeout(s.ctx, spec.Timeout)
		expired := s.expired
		s.timers = append(s.timers, time.AfterFunc(spec.Timeout+s.r.gracePeriod, func() {
			expired <- name
		}))
	}

	s.inFlight[name] = child
	s.started[name] = time.Now()
	s.r.logger.DebugContext(s.ctx, "node started", "run_id", s.runID, "node", name)
	if s.r.hooks.OnNodeStart != nil {
		s.r.hooks.OnNodeStart(s.ctx, &domain.NodeEvent{
			EventBase: domain.EventBase{Timestamp: s.started[name], Type: domain.EventNodeStart, RunID: s.runID},
			Node:      name,
			Kind:      domain.KindOf(spec.Node),
		})
	}

	results := s.results
	go func() {
		defer cancelNode()
		begin := time.Now()
		out, err := execute(nodeCtx, name, spec.Node, child)
		results <- nodeResult{name: name, in: child, out: out, err: err, duration: time.Since(begin)}
	}()
}

// execute runs a node, converting a panic into a *NodeExecutionError.
func execute(ctx context.Context, name string, node domain.Node, ectx *domain.Context) (out *domain.Context, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &domain.NodeExecutionError{
				Node:        name,
				Description: fmt.Sprintf("panic: %v", p),
			}
		}
	}()
	out, err = node.Execute(ctx, ectx)
	nameErr(err, name)
	return out, err
}

// nameErr fills in the node name on errors raised by nodes built without one.
func nameErr(err error, name string) {
	var execErr *domain.NodeExecutionError
	if errors.As(err, &execErr) && execErr.Node == "" {
		execErr.Node = name
	}
	var missing *domain.MissingInputError
	if errors.As(err, &missing) && missing.Node == "" {
		missing.Node = name
	}
}

func (s *run) handle(res nodeResult) {
	if _, gone := s.abandoned[res.name]; gone {
		// Late result of a node that missed its grace period.
		release(res.in, res.out)
		return
	}
	delete(s.inFlight, res.name)

	spec := s.g.specs[res.name]
	err := res.err
	if err == nil && res.out == nil {
		err = &domain.NodeExecutionError{Node: res.name, Description: "node returned no context"}
	}
	if err == nil {
		var opts []domain.MergeOption
		opts = append(opts, domain.FromNode(res.name))
		if spec.AllowOverwrite {
			opts = append(opts, domain.AllowOverwrite(spec.Outputs...))
		}
		err = s.root.MergeOutputs(res.out, spec.Outputs, opts...)
	}
	release(res.in, res.out)

	s.finishEvent(res.name, spec, res.duration, err)
	if err != nil {
		s.fail(res.name, nodeFailure(res.name, err))
		return
	}

	s.completed++
	for _, dep := range s.g.dependents[res.name] {
		s.pending[dep]--
		if s.pending[dep] == 0 {
			s.ready = insertSorted(s.ready, dep)
		}
	}
}

// abandon gives up on a node that did not return within its grace period.
func (s *run) abandon(name string) {
	child := s.inFlight[name]
	delete(s.inFlight, name)
	s.abandoned[name] = struct{}{}
	release(child, nil)

	timeout := &domain.CancellationTimeoutError{Node: name, GracePeriod: s.r.gracePeriod}
	s.r.logger.WarnContext(s.ctx, "node ignored cancellation", "run_id", s.runID, "node", name, "grace_period", s.r.gracePeriod)
	s.finishEvent(name, s.g.specs[name], time.Since(s.started[name]), timeout)

	// A hung node outranks the cancellation errors of nodes that honored it.
	if s.failure == nil || isCancellation(s.failure) && !isTimeout(s.failure) {
		s.failure = &domain.GraphExecutionError{Node: name, Cause: timeout}
	}
	s.stop()
}

func (s *run) fail(name string, err error) {
	if s.failure == nil {
		s.failure = &domain.GraphExecutionError{Node: name, Cause: err}
		s.r.logger.DebugContext(s.ctx, "node failed", "run_id", s.runID, "node", name, "err", err)
	}
	s.stop()
}

func (s *run) finishEvent(name string, spec NodeSpec, d time.Duration, err error) {
	if err != nil {
		s.r.logger.DebugContext(s.ctx, "node finished with error", "run_id", s.runID, "node", name, "err", err)
	} else {
		s.r.logger.DebugContext(s.ctx, "node finished", "run_id", s.runID, "node", name, "duration", d)
	}
	if s.r.hooks.OnNodeFinish != nil {
		s.r.hooks.OnNodeFinish(s.ctx, &domain.NodeEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventNodeFinish, RunID: s.runID},
			Node:      name,
			Kind:      domain.KindOf(spec.Node),
			Duration:  d,
			Err:       err,
		})
	}
}

func (s *run) inFlightNames() []string {
	names := make([]string, 0, len(s.inFlight))
	for name := range s.inFlight {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func release(ctxs ...*domain.Context) {
	for _, c := range ctxs {
		if c != nil {
			c.Release()
		}
	}
}

// nodeFailure wraps a failure in a *NodeExecutionError unless it already
// belongs to the node error taxonomy.
func nodeFailure(name string, err error) error {
	var (
		execErr     *domain.NodeExecutionError
		missingErr  *domain.MissingInputError
		contractErr *domain.ForeignContractViolationError
		timeoutErr  *domain.CancellationTimeoutError
		dupErr      *domain.DuplicateOutputError
		notFoundErr *domain.NameNotFoundError
	)
	switch {
	case errors.As(err, &execErr), errors.As(err, &missingErr), errors.As(err, &contractErr),
		errors.As(err, &timeoutErr), errors.As(err, &dupErr), errors.As(err, &notFoundErr):
		return err
	}
	return &domain.NodeExecutionError{Node: name, Cause: err}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isTimeout(err error) bool {
	var timeoutErr *domain.CancellationTimeoutError
	return errors.As(err, &timeoutErr)
}
