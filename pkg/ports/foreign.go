package ports

import "context"

// ForeignNode is the object a foreign node implementation exposes to the engine.
//
// Values are deliberately untyped: whatever the foreign runtime produces is handed
// to the foreign adapter, which validates the shape before anything reaches a
// domain.Context.
type ForeignNode interface {
	// GetInputNames returns the node's input contract as a sequence of strings.
	// It is consulted once, when the adapter is built.
	GetInputNames() (any, error)

	// Execute runs the node against a read-only snapshot of its inputs and
	// returns a mapping of output names to values. Implementations should return
	// promptly once ctx is done.
	Execute(ctx context.Context, view map[string]any) (any, error)
}
