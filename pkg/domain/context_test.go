package domain_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_InputNames_Order(t *testing.T) {
	c := domain.NewContext("run-1", map[string]any{"b": 2, "a": 1})
	require.NoError(t, c.Set("c", 3))
	require.NoError(t, c.Set("a", 10)) // overwrite keeps position

	assert.Equal(t, []string{"a", "b", "c"}, c.InputNames())
	assert.Equal(t, []string{"a", "b", "c"}, c.InputNames(), "pure: repeated calls agree")

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestContext_CreateChild_MissingName(t *testing.T) {
	root := domain.NewContext("run-1", map[string]any{"question": "why?"})

	_, err := root.CreateChild([]string{"question", "answer"})

	var nf *domain.NameNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "answer", nf.Name)
}

func TestContext_CreateChild_Defaults(t *testing.T) {
	root := domain.NewContext("run-1", map[string]any{"question": "why?"})

	child, err := root.CreateChild([]string{"question", "temperature"},
		domain.WithDefaults(map[string]any{"temperature": 0.2}))
	require.NoError(t, err)

	v, ok := child.Get("temperature")
	require.True(t, ok)
	assert.Equal(t, 0.2, v)
	assert.False(t, root.Has("temperature"), "defaults live in the child only")
}

func TestContext_CreateChild_ScopedView(t *testing.T) {
	root := domain.NewContext("run-1", map[string]any{"a": 1, "b": 2, "c": 3})

	child, err := root.CreateChild([]string{"c", "a"})
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a"}, child.InputNames())
	assert.False(t, child.Has("b"), "names outside the scope are hidden")
	assert.Equal(t, "run-1", child.RunID())
	assert.Same(t, root, child.Parent())
}

func TestContext_CopyOnWrite_Isolation(t *testing.T) {
	root := domain.NewContext("run-1", map[string]any{"prompt": "v1"})

	child, err := root.CreateChild([]string{"prompt"})
	require.NoError(t, err)

	// Later mutation of the ancestor is not visible to the child.
	require.NoError(t, root.Set("prompt", "v2"))
	v, _ := child.Get("prompt")
	assert.Equal(t, "v1", v)

	// Child writes never reach the parent.
	require.NoError(t, child.Set("prompt", "child"))
	v, _ = root.Get("prompt")
	assert.Equal(t, "v2", v)
}

func TestContext_CopyOnWrite_Grandchild(t *testing.T) {
	root := domain.NewContext("run-1", map[string]any{"x": 1})
	child, err := root.CreateChild([]string{"x"})
	require.NoError(t, err)
	require.NoError(t, child.Set("y", 2))

	grandchild, err := child.CreateChild([]string{"x", "y"})
	require.NoError(t, err)

	require.NoError(t, child.Set("y", 20))
	require.NoError(t, root.Set("x", 10))

	x, _ := grandchild.Get("x")
	y, _ := grandchild.Get("y")
	assert.Equal(t, 1, x)
	assert.Equal(t, 2, y)
}

func TestContext_Siblings_DoNotObserveEachOther(t *testing.T) {
	root := domain.NewContext("run-1", map[string]any{"in": "x"})
	a, err := root.CreateChild([]string{"in"})
	require.NoError(t, err)
	b, err := root.CreateChild([]string{"in"})
	require.NoError(t, err)

	require.NoError(t, a.Set("out", "from-a"))
	assert.False(t, b.Has("out"))
}

func TestContext_MergeOutputs(t *testing.T) {
	root := domain.NewContext("run-1", map[string]any{"in": "x"})
	child, err := root.CreateChild([]string{"in"})
	require.NoError(t, err)
	require.NoError(t, child.Set("out", "y"))
	require.NoError(t, child.Set("scratch", "ignored"))

	require.NoError(t, root.MergeOutputs(child, []string{"out"}, domain.FromNode("upper")))

	v, ok := root.Get("out")
	require.True(t, ok)
	assert.Equal(t, "y", v)
	assert.False(t, root.Has("scratch"), "only produced names are merged")

	history := root.History()
	require.Len(t, history, 1)
	assert.Equal(t, "upper", history[0].Node)
	assert.Equal(t, map[string]any{"out": "y"}, history[0].Outputs)
}

func TestContext_MergeOutputs_Duplicate(t *testing.T) {
	root := domain.NewContext("run-1", map[string]any{"in": "x", "out": "old"})
	child, err := root.CreateChild([]string{"in"})
	require.NoError(t, err)
	require.NoError(t, child.Set("fresh", 1))
	require.NoError(t, child.Set("out", "new"))

	err = root.MergeOutputs(child, []string{"fresh", "out"}, domain.FromNode("n"))

	var dup *domain.DuplicateOutputError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "out", dup.Name)
	assert.Equal(t, "n", dup.Node)
	assert.False(t, root.Has("fresh"), "a rejected merge writes nothing")
	assert.Empty(t, root.History())

	require.NoError(t, root.MergeOutputs(child, []string{"fresh", "out"}, domain.AllowOverwrite("out")))
	v, _ := root.Get("out")
	assert.Equal(t, "new", v)
}

func TestContext_MergeOutputs_ProducedNameMissing(t *testing.T) {
	root := domain.NewContext("run-1", nil)
	child, err := root.CreateChild(nil)
	require.NoError(t, err)

	err = root.MergeOutputs(child, []string{"ghost"})

	var nf *domain.NameNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.Name)
}

func TestContext_Release(t *testing.T) {
	root := domain.NewContext("run-1", nil)
	child, err := root.CreateChild(nil)
	require.NoError(t, err)

	child.Release()

	assert.True(t, child.Released())
	assert.ErrorIs(t, child.Set("late", 1), domain.ErrContextReleased)
}

func TestContext_ConcurrentSiblingMerges(t *testing.T) {
	const n = 64
	root := domain.NewContext("run-1", map[string]any{"seed": 0})

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			child, err := root.CreateChild([]string{"seed"})
			if !assert.NoError(t, err) {
				return
			}
			name := fmt.Sprintf("out_%d", i)
			assert.NoError(t, child.Set(name, i))
			assert.NoError(t, root.MergeOutputs(child, []string{name}))
		}(i)
	}
	wg.Wait()

	values := root.Values()
	for i := 0; i < n; i++ {
		assert.Equal(t, i, values[fmt.Sprintf("out_%d", i)])
	}
	assert.Len(t, root.History(), n)
}

func TestCheckInputs(t *testing.T) {
	c := domain.NewContext("run-1", map[string]any{"a": 1})

	assert.NoError(t, domain.CheckInputs("n", []string{"a"}, c))

	err := domain.CheckInputs("n", []string{"a", "b", "c"}, c)
	var missing *domain.MissingInputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"b", "c"}, missing.Missing)
}
