package domain

import (
	"context"
	"slices"
)

// Node is the contract every graph node satisfies, native or foreign.
type Node interface {
	// InputNames returns the fixed input contract of the node.
	// It is deterministic, side-effect free and stable for the node's lifetime.
	InputNames() []string

	// Execute runs the node against a context exposing at least its inputs and
	// returns a context holding its outputs. The node must not retain ectx once
	// Execute returns.
	Execute(ctx context.Context, ectx *Context) (*Context, error)
}

// CheckInputs returns a *MissingInputError naming every input absent from ectx.
func CheckInputs(node string, inputs []string, ectx *Context) error {
	if ectx == nil {
		return &MissingInputError{Node: node, Missing: slices.Clone(inputs)}
	}
	var missing []string
	for _, name := range inputs {
		if !ectx.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingInputError{Node: node, Missing: missing}
	}
	return nil
}

// NodeInfo describes a node for introspection tools.
type NodeInfo struct {
	Name      string   `json:"name" yaml:"name"`
	Kind      string   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Inputs    []string `json:"inputs" yaml:"inputs"`
	Outputs   []string `json:"outputs" yaml:"outputs"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Timeout   string   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Node kinds reported by introspection.
const (
	NodeKindNative  = "native"
	NodeKindForeign = "foreign"
)

// Kinded is implemented by nodes that report their kind for introspection.
type Kinded interface {
	Kind() string
}

// KindOf returns the node's reported kind, defaulting to native.
func KindOf(n Node) string {
	if k, ok := n.(Kinded); ok {
		return k.Kind()
	}
	return NodeKindNative
}
