package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/aretw0/espalier/pkg/domain"
)

// NativeFunc is the signature of a native node implementation. It receives a
// context exposing the node's inputs and returns a context holding its outputs.
type NativeFunc func(ctx context.Context, ectx *domain.Context) (*domain.Context, error)

// MapFunc is the map-in/map-out form of a native node.
type MapFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// NativeOption configures a native node.
type NativeOption func(*nativeNode)

// Named sets the node name reported in errors.
func Named(name string) NativeOption {
	return func(n *nativeNode) {
		n.name = name
	}
}

type nativeNode struct {
	name   string
	inputs []string
	fn     NativeFunc
}

// Native wraps a Go callable as a node with a fixed input contract.
func Native(inputs []string, fn NativeFunc, opts ...NativeOption) domain.Node {
	n := &nativeNode{inputs: slices.Clone(inputs), fn: fn}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NativeMap wraps a MapFunc. The function sees only its declared inputs and
// its result becomes the node's outputs.
func NativeMap(inputs []string, fn MapFunc, opts ...NativeOption) domain.Node {
	declared := slices.Clone(inputs)
	return Native(declared, func(ctx context.Context, ectx *domain.Context) (*domain.Context, error) {
		in := make(map[string]any, len(declared))
		for _, name := range declared {
			in[name], _ = ectx.Get(name)
		}
		outputs, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		out, err := ectx.CreateChild(nil)
		if err != nil {
			return nil, err
		}
		for name, v := range outputs {
			if err := out.Set(name, v); err != nil {
				return nil, err
			}
		}
		return out, nil
	}, opts...)
}

func (n *nativeNode) InputNames() []string {
	return slices.Clone(n.inputs)
}

func (n *nativeNode) Kind() string {
	return domain.NodeKindNative
}

func (n *nativeNode) Execute(ctx context.Context, ectx *domain.Context) (out *domain.Context, err error) {
	if err := domain.CheckInputs(n.name, n.inputs, ectx); err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &domain.NodeExecutionError{Node: n.name, Description: fmt.Sprintf("panic: %v", p)}
		}
	}()

	out, err = n.fn(ctx, ectx)
	if err != nil {
		var execErr *domain.NodeExecutionError
		if errors.As(err, &execErr) {
			return nil, err
		}
		return nil, &domain.NodeExecutionError{Node: n.name, Cause: err}
	}
	return out, nil
}
