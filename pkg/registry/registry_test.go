package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNative_MissingInputHasNoSideEffect(t *testing.T) {
	called := false
	node := registry.Native([]string{"prompt"}, func(_ context.Context, ectx *domain.Context) (*domain.Context, error) {
		called = true
		return ectx, nil
	}, registry.Named("llm"))

	_, err := node.Execute(context.Background(), domain.NewContext("r", nil))

	var missing *domain.MissingInputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "llm", missing.Node)
	assert.False(t, called)
}

func TestNative_InputNamesStable(t *testing.T) {
	inputs := []string{"a", "b"}
	node := registry.Native(inputs, nil)
	inputs[0] = "changed"

	assert.Equal(t, []string{"a", "b"}, node.InputNames())
	got := node.InputNames()
	got[1] = "changed"
	assert.Equal(t, []string{"a", "b"}, node.InputNames())
	assert.Equal(t, domain.NodeKindNative, domain.KindOf(node))
}

func TestNative_ErrorIsWrapped(t *testing.T) {
	cause := errors.New("rate limited")
	node := registry.Native(nil, func(context.Context, *domain.Context) (*domain.Context, error) {
		return nil, cause
	}, registry.Named("llm"))

	_, err := node.Execute(context.Background(), domain.NewContext("r", nil))

	var execErr *domain.NodeExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "llm", execErr.Node)
	assert.ErrorIs(t, err, cause)
}

func TestNative_PanicIsRecovered(t *testing.T) {
	node := registry.Native(nil, func(context.Context, *domain.Context) (*domain.Context, error) {
		var m map[string]int
		m["boom"]++
		return nil, nil
	})

	_, err := node.Execute(context.Background(), domain.NewContext("r", nil))

	var execErr *domain.NodeExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Description, "panic")
}

func TestNativeMap(t *testing.T) {
	node := registry.NativeMap([]string{"text"}, func(_ context.Context, in map[string]any) (map[string]any, error) {
		assert.Equal(t, map[string]any{"text": "hello"}, in)
		return map[string]any{"length": len(in["text"].(string))}, nil
	})

	ectx := domain.NewContext("r", map[string]any{"text": "hello", "other": 1})
	out, err := node.Execute(context.Background(), ectx)
	require.NoError(t, err)

	v, ok := out.Get("length")
	require.True(t, ok)
	assert.Equal(t, 5, v)
	assert.False(t, ectx.Has("length"))
}

func TestRegistry_Builtins(t *testing.T) {
	reg := registry.NewRegistry()
	assert.Equal(t, []string{"constant", "copy"}, reg.Types())

	t.Run("copy", func(t *testing.T) {
		node, err := reg.Create("copy", "final", []string{"score"}, map[string]any{
			"mapping": map[string]any{"score": "result"},
		})
		require.NoError(t, err)

		out, err := node.Execute(context.Background(), domain.NewContext("r", map[string]any{"score": 0.7}))
		require.NoError(t, err)
		v, _ := out.Get("result")
		assert.Equal(t, 0.7, v)
	})

	t.Run("copy rejects undeclared source", func(t *testing.T) {
		_, err := reg.Create("copy", "final", []string{"score"}, map[string]any{
			"mapping": map[string]any{"other": "result"},
		})
		assert.ErrorContains(t, err, "not a declared input")
	})

	t.Run("constant", func(t *testing.T) {
		node, err := reg.Create("constant", "defaults", nil, map[string]any{
			"values": map[string]any{"temperature": 0.2},
		})
		require.NoError(t, err)

		out, err := node.Execute(context.Background(), domain.NewContext("r", nil))
		require.NoError(t, err)
		v, _ := out.Get("temperature")
		assert.Equal(t, 0.2, v)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := reg.Create("embedding", "e", nil, nil)
		assert.ErrorContains(t, err, "node type not found")
	})
}

func TestRegistry_Register(t *testing.T) {
	reg := registry.NewRegistry()
	reg.Register("upper", func(name string, inputs []string, _ map[string]any) (domain.Node, error) {
		return registry.NativeMap(inputs, func(_ context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"upper": in["text"]}, nil
		}, registry.Named(name)), nil
	})

	node, err := reg.Create("upper", "u", []string{"text"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"text"}, node.InputNames())
}
