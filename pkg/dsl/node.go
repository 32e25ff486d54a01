package dsl

import (
	"time"

	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/adapters/foreign"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/registry"
)

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	spec    runtime.NodeSpec
	err     error
	builder *Builder
}

// Native implements the node with a Go function over the execution context.
func (n *NodeBuilder) Native(inputs []string, fn registry.NativeFunc) *NodeBuilder {
	n.spec.Node = registry.Native(inputs, fn, registry.Named(n.spec.Name))
	return n
}

// NativeMap implements the node with a Go function over plain maps.
func (n *NodeBuilder) NativeMap(inputs []string, fn registry.MapFunc) *NodeBuilder {
	n.spec.Node = registry.NativeMap(inputs, fn, registry.Named(n.spec.Name))
	return n
}

// Foreign implements the node with a foreign object. The adapter is owned by
// the Builder and released by Builder.Close. Construction errors surface at Build.
func (n *NodeBuilder) Foreign(obj ports.ForeignNode, opts ...foreign.Option) *NodeBuilder {
	a, err := registry.Foreign(n.spec.Name, obj, opts...)
	if err != nil {
		n.err = err
		return n
	}
	n.builder.adapters = append(n.builder.adapters, a)
	n.spec.Node = a
	return n
}

// Node uses an existing capability as is.
func (n *NodeBuilder) Node(node domain.Node) *NodeBuilder {
	n.spec.Node = node
	return n
}

// Outputs declares the names the node produces.
func (n *NodeBuilder) Outputs(names ...string) *NodeBuilder {
	n.spec.Outputs = append(n.spec.Outputs, names...)
	return n
}

// Timeout bounds a single execution of the node.
func (n *NodeBuilder) Timeout(d time.Duration) *NodeBuilder {
	n.spec.Timeout = d
	return n
}

// AllowOverwrite lets the node's outputs replace existing entries.
func (n *NodeBuilder) AllowOverwrite() *NodeBuilder {
	n.spec.AllowOverwrite = true
	return n
}

// Builder returns the parent builder so definitions can be chained.
func (n *NodeBuilder) Builder() *Builder {
	return n.builder
}

// Spec returns the underlying node spec.
// This is primarily used by the Builder, but exposed for advanced usage.
func (n *NodeBuilder) Spec() runtime.NodeSpec {
	return n.spec
}
