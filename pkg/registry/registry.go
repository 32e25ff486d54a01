package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/espalier/pkg/domain"
)

// Factory builds a native node of one type from its declared inputs and config.
type Factory func(name string, inputs []string, config map[string]any) (domain.Node, error)

// Registry manages the available native node types.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry holding the built-in types.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
	}
	r.Register("copy", newCopy)
	r.Register("constant", newConstant)
	return r
}

// Register adds a node type to the registry.
// If a type with the same name exists, it is overwritten.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Create looks up a node type and builds a node from it.
// Returns an error if the type is not found.
func (r *Registry) Create(typ, name string, inputs []string, config map[string]any) (domain.Node, error) {
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("node type not found: %s", typ)
	}

	node, err := f(name, inputs, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create node '%s' of type %s: %w", name, typ, err)
	}
	return node, nil
}

// Types lists the registered node types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
