package registry

import (
	"github.com/aretw0/espalier/pkg/adapters/foreign"
	"github.com/aretw0/espalier/pkg/ports"
)

// Foreign registers a foreign node implementation. The returned adapter owns
// obj from now on and must be closed by the caller.
func Foreign(name string, obj ports.ForeignNode, opts ...foreign.Option) (*foreign.Adapter, error) {
	return foreign.New(name, obj, opts...)
}
