package foreign

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// DefaultGracePeriod is how long a canceled call may take to resolve.
const DefaultGracePeriod = 5 * time.Second

const (
	opGetInputNames = "get_input_names"
	opExecute       = "execute"
)

// Adapter exposes a foreign node implementation as a domain.Node.
//
// The adapter exclusively owns the foreign handle. Every call runs in its own
// goroutine and resolves through a single buffered channel; the caller either
// takes the result or, once canceled, waits at most the grace period for it.
// The handle is released (when it implements io.Closer) only after every
// in-flight call has resolved.
type Adapter struct {
	name   string
	obj    ports.ForeignNode
	inputs []string
	grace  time.Duration
	logger *slog.Logger

	declared []string

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	pending map[uint64]*call
	idle    chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

// call is one in-flight foreign invocation.
type call struct {
	cancel context.CancelFunc
}

type resolution struct {
	value any
	err   error
	panic any
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithGracePeriod sets how long a canceled call may take to resolve before
// it is reported as a *CancellationTimeoutError.
func WithGracePeriod(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.grace = d
		}
	}
}

// WithDeclaredInputs states the inputs the host expects. The foreign
// declaration must name the same set.
func WithDeclaredInputs(names ...string) Option {
	return func(a *Adapter) {
		a.declared = slices.Clone(names)
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// New wraps obj. The foreign input declaration is read once, here; a failing
// or malformed declaration yields a *ForeignContractViolationError.
func New(name string, obj ports.ForeignNode, opts ...Option) (*Adapter, error) {
	if obj == nil {
		return nil, fmt.Errorf("foreign node '%s': nil implementation", name)
	}
	a := &Adapter{
		name:    name,
		obj:     obj,
		grace:   DefaultGracePeriod,
		logger:  logging.NewNop(),
		pending: make(map[uint64]*call),
	}
	for _, opt := range opts {
		opt(a)
	}

	inputs, err := a.declareInputs()
	if err != nil {
		return nil, err
	}
	if a.declared != nil && !sameSet(a.declared, inputs) {
		return nil, a.violation(opGetInputNames,
			fmt.Sprintf("declared inputs %v do not match host declaration %v", inputs, a.declared))
	}
	a.inputs = inputs
	return a, nil
}

func (a *Adapter) declareInputs() (names []string, err error) {
	defer func() {
		if p := recover(); p != nil {
			names, err = nil, a.violation(opGetInputNames, fmt.Sprintf("panic: %v", p))
		}
	}()

	raw, err := a.obj.GetInputNames()
	if err != nil {
		return nil, a.violation(opGetInputNames, err.Error())
	}
	names, reason := toNames(raw)
	if reason != "" {
		return nil, a.violation(opGetInputNames, reason)
	}
	return names, nil
}

func (a *Adapter) violation(op, reason string) error {
	return &domain.ForeignContractViolationError{Node: a.name, Op: op, Reason: reason}
}

// Name returns the node name used in errors.
func (a *Adapter) Name() string {
	return a.name
}

// Kind reports the node kind for introspection.
func (a *Adapter) Kind() string {
	return domain.NodeKindForeign
}

// InputNames returns a copy of the foreign input declaration.
func (a *Adapter) InputNames() []string {
	return slices.Clone(a.inputs)
}

// InFlight returns the number of foreign calls that have not resolved yet,
// including calls whose caller already gave up on them.
func (a *Adapter) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Execute forwards a call to the foreign implementation.
func (a *Adapter) Execute(ctx context.Context, ectx *domain.Context) (*domain.Context, error) {
	if err := domain.CheckInputs(a.name, a.inputs, ectx); err != nil {
		return nil, err
	}

	view := make(map[string]any, len(a.inputs))
	for _, name := range a.inputs {
		v, _ := ectx.Get(name)
		view[name] = deepCopy(v)
	}

	callCtx, cancel := context.WithCancel(ctx)
	id, err := a.register(cancel)
	if err != nil {
		cancel()
		return nil, &domain.NodeExecutionError{Node: a.name, Cause: err}
	}

	resolved := make(chan resolution, 1)
	go a.invoke(callCtx, id, view, resolved)

	select {
	case res := <-resolved:
		cancel()
		if err := ctx.Err(); err != nil {
			return nil, a.canceled(err)
		}
		return a.translate(ectx, res)
	case <-ctx.Done():
	}

	cancel()
	timer := time.NewTimer(a.grace)
	defer timer.Stop()
	select {
	case <-resolved:
		// Whatever the foreign side produced is discarded.
		return nil, a.canceled(ctx.Err())
	case <-timer.C:
		a.logger.Warn("foreign node ignored cancellation", "node", a.name, "grace_period", a.grace)
		return nil, &domain.CancellationTimeoutError{Node: a.name, GracePeriod: a.grace}
	}
}

func (a *Adapter) canceled(err error) error {
	return &domain.NodeExecutionError{Node: a.name, Description: "canceled", Cause: err}
}

func (a *Adapter) register(cancel context.CancelFunc) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, domain.ErrAdapterClosed
	}
	a.nextID++
	a.pending[a.nextID] = &call{cancel: cancel}
	return a.nextID, nil
}

func (a *Adapter) invoke(ctx context.Context, id uint64, view map[string]any, resolved chan<- resolution) {
	var res resolution
	defer func() {
		if p := recover(); p != nil {
			res = resolution{panic: p}
		}
		resolved <- res
		a.complete(id)
	}()
	res.value, res.err = a.obj.Execute(ctx, view)
}

// complete deregisters a resolved call and releases the handle when the
// adapter is closed and nothing is left in flight.
func (a *Adapter) complete(id uint64) {
	a.mu.Lock()
	delete(a.pending, id)
	last := a.closed && len(a.pending) == 0
	a.mu.Unlock()

	if last {
		a.release()
	}
}

func (a *Adapter) translate(ectx *domain.Context, res resolution) (*domain.Context, error) {
	switch {
	case res.panic != nil:
		return nil, &domain.NodeExecutionError{
			Node:        a.name,
			Description: fmt.Sprintf("panic: %v", res.panic),
			Cause:       domain.ErrForeignFailure,
		}
	case res.err != nil:
		// Only the text crosses the boundary, never the foreign error value.
		return nil, &domain.NodeExecutionError{
			Node:        a.name,
			Description: res.err.Error(),
			Cause:       domain.ErrForeignFailure,
		}
	}

	outputs, reason := toOutputs(res.value)
	if reason != "" {
		return nil, a.violation(opExecute, reason)
	}

	out, err := ectx.CreateChild(nil)
	if err != nil {
		return nil, &domain.NodeExecutionError{Node: a.name, Cause: err}
	}
	for _, name := range sortedKeys(outputs) {
		if err := out.Set(name, outputs[name]); err != nil {
			return nil, &domain.NodeExecutionError{Node: a.name, Cause: err}
		}
	}
	return out, nil
}

// Close refuses new calls and waits for in-flight calls to resolve before
// releasing the foreign handle. If ctx ends first, Close returns ctx.Err()
// and the release happens when the last call resolves. Close is idempotent.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		a.idle = make(chan struct{})
		if len(a.pending) == 0 {
			close(a.idle)
		}
	}
	idle := a.idle
	empty := len(a.pending) == 0
	a.mu.Unlock()

	if empty {
		a.release()
		return a.releaseErr
	}

	select {
	case <-idle:
		return a.releaseErr
	case <-ctx.Done():
		a.cancelPending()
		a.logger.Warn("foreign handle release deferred", "node", a.name, "in_flight", a.InFlight())
		return ctx.Err()
	}
}

// cancelPending asks every in-flight call to stop.
func (a *Adapter) cancelPending() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.pending {
		c.cancel()
	}
}

func (a *Adapter) release() {
	a.releaseOnce.Do(func() {
		if closer, ok := a.obj.(io.Closer); ok {
			a.releaseErr = closer.Close()
		}
		a.mu.Lock()
		if a.idle != nil {
			select {
			case <-a.idle:
			default:
				close(a.idle)
			}
		}
		a.mu.Unlock()
	})
}
