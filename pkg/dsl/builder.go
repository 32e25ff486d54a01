package dsl

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/adapters/foreign"
)

// Builder manages the graph construction.
type Builder struct {
	nodes    map[string]*NodeBuilder
	order    []string
	adapters []*foreign.Adapter
}

// New creates a new graph builder.
func New() *Builder {
	return &Builder{
		nodes: make(map[string]*NodeBuilder),
	}
}

// Add creates a new node in the graph.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(name string) *NodeBuilder {
	if nb, ok := b.nodes[name]; ok {
		return nb
	}
	nb := &NodeBuilder{
		spec:    runtime.NodeSpec{Name: name},
		builder: b,
	}
	b.nodes[name] = nb
	b.order = append(b.order, name)
	return nb
}

// Build validates the nodes and derives the graph. externals are the names
// the caller supplies at run time.
func (b *Builder) Build(externals ...string) (*runtime.Graph, error) {
	specs := make([]runtime.NodeSpec, 0, len(b.order))
	for _, name := range b.order {
		nb := b.nodes[name]
		if nb.err != nil {
			return nil, fmt.Errorf("node '%s': %w", name, nb.err)
		}
		if nb.spec.Node == nil {
			return nil, fmt.Errorf("node '%s' has no implementation", name)
		}
		specs = append(specs, nb.spec)
	}

	g, err := runtime.Build(specs, runtime.WithExternalInputs(externals...))
	if err != nil {
		return nil, fmt.Errorf("failed to build graph: %w", err)
	}
	return g, nil
}

// Close releases the foreign adapters created through Foreign.
func (b *Builder) Close(ctx context.Context) error {
	var errs []error
	for _, a := range b.adapters {
		errs = append(errs, a.Close(ctx))
	}
	return errors.Join(errs...)
}
