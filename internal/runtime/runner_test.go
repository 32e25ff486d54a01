package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_SimpleChain(t *testing.T) {
	upper := &funcNode{
		inputs: []string{"text"},
		fn: func(_ context.Context, ectx *domain.Context) (*domain.Context, error) {
			v, _ := ectx.Get("text")
			return ectx, ectx.Set("shout", fmt.Sprintf("%v!", v))
		},
	}
	count := &funcNode{
		inputs: []string{"shout"},
		fn: func(_ context.Context, ectx *domain.Context) (*domain.Context, error) {
			v, _ := ectx.Get("shout")
			return ectx, ectx.Set("length", len(v.(string)))
		},
	}
	g, err := Build([]NodeSpec{
		{Name: "count", Node: count, Outputs: []string{"length"}},
		{Name: "upper", Node: upper, Outputs: []string{"shout"}},
	}, WithExternalInputs("text"))
	require.NoError(t, err)

	root := domain.NewContext("run-1", map[string]any{"text": "hi"})
	out, err := NewRunner().Run(context.Background(), g, root)
	require.NoError(t, err)

	values := out.Values()
	assert.Equal(t, "hi!", values["shout"])
	assert.Equal(t, 3, values["length"])

	history := out.History()
	require.Len(t, history, 2)
	assert.Equal(t, "upper", history[0].Node)
	assert.Equal(t, "count", history[1].Node)
}

func TestRunner_DependentStartsAfterMerge(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}

	a := &funcNode{fn: func(_ context.Context, ectx *domain.Context) (*domain.Context, error) {
		time.Sleep(20 * time.Millisecond)
		record("a")
		return ectx, ectx.Set("x", 1)
	}}
	b := &funcNode{inputs: []string{"x"}, fn: func(_ context.Context, ectx *domain.Context) (*domain.Context, error) {
		record("b")
		v, ok := ectx.Get("x")
		if !ok || v != 1 {
			return nil, errors.New("x was not merged before b started")
		}
		return ectx, ectx.Set("y", 2)
	}}
	g, err := Build([]NodeSpec{
		{Name: "a", Node: a, Outputs: []string{"x"}},
		{Name: "b", Node: b, Outputs: []string{"y"}},
	})
	require.NoError(t, err)

	_, err = NewRunner().Run(context.Background(), g, domain.NewContext("r", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRunner_MissingExternalInput(t *testing.T) {
	var ran atomic.Bool
	node := &funcNode{inputs: []string{"question"}, fn: func(_ context.Context, ectx *domain.Context) (*domain.Context, error) {
		ran.Store(true)
		return ectx, nil
	}}
	g, err := Build([]NodeSpec{{Name: "n", Node: node}}, WithExternalInputs("question"))
	require.NoError(t, err)

	_, err = NewRunner().Run(context.Background(), g, domain.NewContext("r", nil))

	var unresolved *domain.UnresolvedInputError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "question", unresolved.Input)
	assert.False(t, ran.Load(), "no node runs when external inputs are missing")
}

func TestRunner_FailureIsWrapped(t *testing.T) {
	boom := errors.New("model refused")
	var downstream atomic.Bool

	g, err := Build([]NodeSpec{
		{Name: "first", Node: produce(nil, map[string]any{"x": 1}), Outputs: []string{"x"}},
		{Name: "broken", Node: &funcNode{inputs: []string{"x"}, fn: func(context.Context, *domain.Context) (*domain.Context, error) {
			return nil, boom
		}}, Outputs: []string{"y"}},
		{Name: "after", Node: &funcNode{inputs: []string{"y"}, fn: func(_ context.Context, ectx *domain.Context) (*domain.Context, error) {
			downstream.Store(true)
			return ectx, nil
		}}},
	})
	require.NoError(t, err)

	root := domain.NewContext("r", nil)
	_, err = NewRunner().Run(context.Background(), g, root)

	var graphErr *domain.GraphExecutionError
	require.ErrorAs(t, err, &graphErr)
	assert.Equal(t, "broken", graphErr.Node)

	var nodeErr *domain.NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "broken", nodeErr.Node)
	assert.ErrorIs(t, err, boom)

	assert.False(t, downstream.Load())
	assert.True(t, root.Has("x"), "completed nodes are not undone")
}

func TestRunner_MissingInputErrorIsNotRewrapped(t *testing.T) {
	node := &funcNode{fn: func(_ context.Context, ectx *domain.Context) (*domain.Context, error) {
		return nil, &domain.MissingInputError{Node: "n", Missing: []string{"x"}}
	}}
	g, err := Build([]NodeSpec{{Name: "n", Node: node}})
	require.NoError(t, err)

	_, err = NewRunner().Run(context.Background(), g, domain.NewContext("r", nil))

	var graphErr *domain.GraphExecutionError
	require.ErrorAs(t, err, &graphErr)
	_, isMissing := graphErr.Cause.(*domain.MissingInputError)
	assert.True(t, isMissing)
}

func TestRunner_PanicBecomesNodeError(t *testing.T) {
	node := &funcNode{fn: func(context.Context, *domain.Context) (*domain.Context, error) {
		panic("index out of range")
	}}
	g, err := Build([]NodeSpec{{Name: "n", Node: node}})
	require.NoError(t, err)

	_, err = NewRunner().Run(context.Background(), g, domain.NewContext("r", nil))

	var nodeErr *domain.NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Contains(t, nodeErr.Description, "index out of range")
}

func TestRunner_MissingProducedOutput(t *testing.T) {
	g, err := Build([]NodeSpec{
		{Name: "lazy", Node: produce(nil, nil), Outputs: []string{"promised"}},
	})
	require.NoError(t, err)

	_, err = NewRunner().Run(context.Background(), g, domain.NewContext("r", nil))

	var nf *domain.NameNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "promised", nf.Name)
}

func TestRunner_OutputCollidesWithInitialEntry(t *testing.T) {
	g, err := Build([]NodeSpec{
		{Name: "n", Node: produce(nil, map[string]any{"seed": 2}), Outputs: []string{"seed"}},
	})
	require.NoError(t, err)

	root := domain.NewContext("r", map[string]any{"seed": 1})
	_, err = NewRunner().Run(context.Background(), g, root)

	var dup *domain.DuplicateOutputError
	require.ErrorAs(t, err, &dup)

	g, err = Build([]NodeSpec{
		{Name: "n", Node: produce(nil, map[string]any{"seed": 2}), Outputs: []string{"seed"}, AllowOverwrite: true},
	})
	require.NoError(t, err)
	root = domain.NewContext("r", map[string]any{"seed": 1})
	_, err = NewRunner().Run(context.Background(), g, root)
	require.NoError(t, err)
	v, _ := root.Get("seed")
	assert.Equal(t, 2, v)
}

func TestRunner_ChildReleasedAfterMerge(t *testing.T) {
	var kept *domain.Context
	node := &funcNode{fn: func(_ context.Context, ectx *domain.Context) (*domain.Context, error) {
		kept = ectx
		return ectx, ectx.Set("x", 1)
	}}
	g, err := Build([]NodeSpec{{Name: "n", Node: node, Outputs: []string{"x"}}})
	require.NoError(t, err)

	_, err = NewRunner().Run(context.Background(), g, domain.NewContext("r", nil))
	require.NoError(t, err)

	assert.ErrorIs(t, kept.Set("late", true), domain.ErrContextReleased)
}

func TestRunner_CancellationHonored(t *testing.T) {
	started := make(chan struct{})
	node := &funcNode{fn: func(ctx context.Context, ectx *domain.Context) (*domain.Context, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	g, err := Build([]NodeSpec{{Name: "waiter", Node: node, Outputs: []string{"x"}}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err = NewRunner(WithGracePeriod(time.Second)).Run(ctx, g, domain.NewContext("r", nil))

	var graphErr *domain.GraphExecutionError
	require.ErrorAs(t, err, &graphErr)
	assert.Equal(t, "waiter", graphErr.Node)
	assert.ErrorIs(t, err, context.Canceled)

	var timeoutErr *domain.CancellationTimeoutError
	assert.False(t, errors.As(err, &timeoutErr))
}

func TestRunner_CancellationIgnored(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	defer close(unblock)

	stubborn := &funcNode{fn: func(_ context.Context, ectx *domain.Context) (*domain.Context, error) {
		close(started)
		<-unblock
		return ectx, ectx.Set("x", "late")
	}}
	g, err := Build([]NodeSpec{{Name: "stubborn", Node: stubborn, Outputs: []string{"x"}}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	root := domain.NewContext("r", nil)
	begin := time.Now()
	_, err = NewRunner(WithGracePeriod(50*time.Millisecond)).Run(ctx, g, root)

	var timeoutErr *domain.CancellationTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "stubborn", timeoutErr.Node)
	assert.Less(t, time.Since(begin), 2*time.Second)
	assert.False(t, root.Has("x"), "late results never reach the context")
}

func TestRunner_NodeTimeout(t *testing.T) {
	slow := &funcNode{fn: func(ctx context.Context, ectx *domain.Context) (*domain.Context, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return ectx, nil
		}
	}}
	g, err := Build([]NodeSpec{{Name: "slow", Node: slow, Timeout: 20 * time.Millisecond}})
	require.NoError(t, err)

	_, err = NewRunner().Run(context.Background(), g, domain.NewContext("r", nil))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var graphErr *domain.GraphExecutionError
	require.ErrorAs(t, err, &graphErr)
	assert.Equal(t, "slow", graphErr.Node)
}

func TestRunner_NodeTimeoutIgnored(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)
	stubborn := &funcNode{fn: func(_ context.Context, ectx *domain.Context) (*domain.Context, error) {
		<-unblock
		return ectx, nil
	}}
	g, err := Build([]NodeSpec{{Name: "stubborn", Node: stubborn, Timeout: 10 * time.Millisecond}})
	require.NoError(t, err)

	_, err = NewRunner(WithGracePeriod(20*time.Millisecond)).Run(context.Background(), g, domain.NewContext("r", nil))

	var timeoutErr *domain.CancellationTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestRunner_AlreadyCanceled(t *testing.T) {
	g, err := Build([]NodeSpec{{Name: "n", Node: produce(nil, nil)}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewRunner().Run(ctx, g, domain.NewContext("r", nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_MaxConcurrency(t *testing.T) {
	const n = 12
	var running, peak atomic.Int32

	specs := make([]NodeSpec, 0, n)
	for i := 0; i < n; i++ {
		out := fmt.Sprintf("out_%d", i)
		specs = append(specs, NodeSpec{
			Name:    fmt.Sprintf("node_%02d", i),
			Outputs: []string{out},
			Node: &funcNode{fn: func(_ context.Context, ectx *domain.Context) (*domain.Context, error) {
				cur := running.Add(1)
				for {
					old := peak.Load()
					if cur <= old || peak.CompareAndSwap(old, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return ectx, ectx.Set(out, true)
			}},
		})
	}
	g, err := Build(specs)
	require.NoError(t, err)

	_, err = NewRunner(WithMaxConcurrency(3)).Run(context.Background(), g, domain.NewContext("r", nil))
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

// TestRunner_SiblingStress runs many independent siblings that share one input
// and checks every output is merged exactly once and no sibling observed another.
func TestRunner_SiblingStress(t *testing.T) {
	const n = 200
	specs := make([]NodeSpec, 0, n+1)
	for i := 0; i < n; i++ {
		out := fmt.Sprintf("out_%03d", i)
		specs = append(specs, NodeSpec{
			Name:    fmt.Sprintf("sibling_%03d", i),
			Outputs: []string{out},
			Node: &funcNode{inputs: []string{"seed"}, fn: func(_ context.Context, ectx *domain.Context) (*domain.Context, error) {
				if got := len(ectx.InputNames()); got != 1 {
					return nil, fmt.Errorf("sibling saw %d names", got)
				}
				seed, _ := ectx.Get("seed")
				return ectx, ectx.Set(out, fmt.Sprintf("%v-%s", seed, out))
			}},
		})
	}
	inputs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		inputs = append(inputs, fmt.Sprintf("out_%03d", i))
	}
	specs = append(specs, NodeSpec{
		Name:    "join",
		Outputs: []string{"count"},
		Node: &funcNode{inputs: inputs, fn: func(_ context.Context, ectx *domain.Context) (*domain.Context, error) {
			return ectx, ectx.Set("count", len(ectx.InputNames()))
		}},
	})

	g, err := Build(specs, WithExternalInputs("seed"))
	require.NoError(t, err)

	root := domain.NewContext("stress", map[string]any{"seed": "s"})
	_, err = NewRunner().Run(context.Background(), g, root)
	require.NoError(t, err)

	values := root.Values()
	for i := 0; i < n; i++ {
		out := fmt.Sprintf("out_%03d", i)
		assert.Equal(t, "s-"+out, values[out])
	}
	assert.Equal(t, n, values["count"])
	assert.Len(t, root.History(), n+1)
}

func TestRunner_Hooks(t *testing.T) {
	var mu sync.Mutex
	var events []string
	hooks := domain.LifecycleHooks{
		OnRunStart: func(_ context.Context, e *domain.RunEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, fmt.Sprintf("run_start:%d", e.Nodes))
		},
		OnNodeStart: func(_ context.Context, e *domain.NodeEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, "start:"+e.Node)
		},
		OnNodeFinish: func(_ context.Context, e *domain.NodeEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, "finish:"+e.Node)
		},
		OnRunFinish: func(_ context.Context, e *domain.RunEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, fmt.Sprintf("run_finish:%v", e.Err == nil))
		},
	}
	g, err := Build([]NodeSpec{
		{Name: "a", Node: produce(nil, map[string]any{"x": 1}), Outputs: []string{"x"}},
		{Name: "b", Node: produce([]string{"x"}, map[string]any{"y": 1}), Outputs: []string{"y"}},
	})
	require.NoError(t, err)

	_, err = NewRunner(WithLifecycleHooks(hooks)).Run(context.Background(), g, domain.NewContext("r", nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"run_start:2", "start:a", "finish:a", "start:b", "finish:b", "run_finish:true"}, events)
}
