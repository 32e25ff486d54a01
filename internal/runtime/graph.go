package runtime

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

// NodeSpec describes one node of a graph: the capability plus the names it produces.
type NodeSpec struct {
	Name    string
	Node    domain.Node
	Outputs []string

	// Timeout bounds a single execution of the node. Zero means no limit.
	Timeout time.Duration

	// AllowOverwrite lets the node's outputs replace existing context entries.
	AllowOverwrite bool
}

// Graph is a validated, acyclic set of nodes. Edges are derived from name
// matches: a node depends on the producer of each of its input names.
// A Graph is immutable after Build and safe to run concurrently.
type Graph struct {
	specs      map[string]NodeSpec
	inputs     map[string][]string
	deps       map[string][]string
	dependents map[string][]string
	producers  map[string]string
	externals  []string
	order      []string
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	externals []string
}

// WithExternalInputs declares names supplied by the caller at run time.
func WithExternalInputs(names ...string) BuildOption {
	return func(cfg *buildConfig) {
		cfg.externals = append(cfg.externals, names...)
	}
}

// Build validates the specs and derives the dependency graph.
//
// It fails with *DuplicateOutputError when two nodes produce the same name or a
// node produces an external input, *UnresolvedInputError when an input has no
// producer and is not external, and *CycleDetectedError when the derived graph
// is not acyclic.
func Build(specs []NodeSpec, opts ...BuildOption) (*Graph, error) {
	cfg := buildConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(specs) == 0 {
		return nil, errors.New("graph has no nodes")
	}

	g := &Graph{
		specs:      make(map[string]NodeSpec, len(specs)),
		inputs:     make(map[string][]string, len(specs)),
		deps:       make(map[string][]string, len(specs)),
		dependents: make(map[string][]string, len(specs)),
		producers:  make(map[string]string),
	}

	external := make(map[string]struct{}, len(cfg.externals))
	for _, name := range cfg.externals {
		if _, dup := external[name]; dup {
			continue
		}
		external[name] = struct{}{}
		g.externals = append(g.externals, name)
	}

	for _, spec := range specs {
		if spec.Name == "" {
			return nil, errors.New("node name cannot be empty")
		}
		if spec.Node == nil {
			return nil, fmt.Errorf("node '%s' has no implementation", spec.Name)
		}
		if _, dup := g.specs[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate node name '%s'", spec.Name)
		}
		spec.Outputs = slices.Clone(spec.Outputs)
		g.specs[spec.Name] = spec
		// InputNames is fixed for the node's lifetime; read it once.
		g.inputs[spec.Name] = spec.Node.InputNames()

		for _, out := range spec.Outputs {
			if prev, ok := g.producers[out]; ok {
				return nil, &domain.DuplicateOutputError{Name: out, Node: spec.Name, Existing: prev}
			}
			if _, ok := external[out]; ok {
				return nil, &domain.DuplicateOutputError{Name: out, Node: spec.Name}
			}
			g.producers[out] = spec.Name
		}
	}

	names := g.sortedNames()
	for _, name := range names {
		seen := make(map[string]struct{})
		for _, in := range g.inputs[name] {
			producer, ok := g.producers[in]
			if !ok {
				if _, ext := external[in]; ext {
					continue
				}
				return nil, &domain.UnresolvedInputError{Node: name, Input: in}
			}
			if _, dup := seen[producer]; dup {
				continue
			}
			seen[producer] = struct{}{}
			g.deps[name] = append(g.deps[name], producer)
			g.dependents[producer] = append(g.dependents[producer], name)
		}
		sort.Strings(g.deps[name])
	}
	for _, name := range names {
		sort.Strings(g.dependents[name])
	}

	if err := g.detectCycles(names); err != nil {
		return nil, err
	}
	g.order = g.topoOrder(names)
	return g, nil
}

func (g *Graph) sortedNames() []string {
	names := make([]string, 0, len(g.specs))
	for name := range g.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// detectCycles walks the graph depth-first, keeping the current path so the
// cycle can be reported.
func (g *Graph) detectCycles(names []string) error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		visiting[name] = true
		path = append(path, name)
		for _, dep := range g.deps[name] {
			if visiting[dep] {
				start := slices.Index(path, dep)
				cycle := append(slices.Clone(path[start:]), dep)
				slices.Reverse(cycle)
				return &domain.CycleDetectedError{Path: cycle}
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		delete(visiting, name)
		visited[name] = true
		return nil
	}

	for _, name := range names {
		if !visited[name] {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// topoOrder is Kahn's algorithm with ties broken by name.
func (g *Graph) topoOrder(names []string) []string {
	pending := make(map[string]int, len(names))
	var ready []string
	for _, name := range names {
		pending[name] = len(g.deps[name])
		if pending[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(names))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, dep := range g.dependents[name] {
			pending[dep]--
			if pending[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
	}
	return order
}

func insertSorted(list []string, name string) []string {
	i, _ := slices.BinarySearch(list, name)
	return slices.Insert(list, i, name)
}

// Order returns the node names in a deterministic topological order.
func (g *Graph) Order() []string {
	return slices.Clone(g.order)
}

// Dependencies returns the names of the nodes that must complete before name runs.
func (g *Graph) Dependencies(name string) []string {
	return slices.Clone(g.deps[name])
}

// Dependents returns the names of the nodes waiting on name.
func (g *Graph) Dependents(name string) []string {
	return slices.Clone(g.dependents[name])
}

// Spec returns the spec registered under name.
func (g *Graph) Spec(name string) (NodeSpec, bool) {
	spec, ok := g.specs[name]
	return spec, ok
}

// Inputs returns the input names of a node as read at build time.
func (g *Graph) Inputs(name string) []string {
	return slices.Clone(g.inputs[name])
}

// ExternalInputs returns the names the caller must supply to Run.
func (g *Graph) ExternalInputs() []string {
	return slices.Clone(g.externals)
}

// Producer returns the node producing an output name.
func (g *Graph) Producer(output string) (string, bool) {
	name, ok := g.producers[output]
	return name, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.specs)
}

// Nodes describes every node in topological order.
func (g *Graph) Nodes() []domain.NodeInfo {
	infos := make([]domain.NodeInfo, 0, len(g.order))
	for _, name := range g.order {
		spec := g.specs[name]
		info := domain.NodeInfo{
			Name:      name,
			Kind:      domain.KindOf(spec.Node),
			Inputs:    slices.Clone(g.inputs[name]),
			Outputs:   slices.Clone(spec.Outputs),
			DependsOn: slices.Clone(g.deps[name]),
		}
		if spec.Timeout > 0 {
			info.Timeout = spec.Timeout.String()
		}
		infos = append(infos, info)
	}
	return infos
}
