package domain

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"
)

// HistoryEntry records the outputs one node merged into a context.
type HistoryEntry struct {
	Node    string         `json:"node"`
	Outputs map[string]any `json:"outputs"`
	At      time.Time      `json:"at"`
}

// entries is an insertion-ordered name/value map.
type entries struct {
	values map[string]any
	order  []string
}

func newEntries() *entries {
	return &entries{values: make(map[string]any)}
}

func (e *entries) set(name string, value any) {
	if _, exists := e.values[name]; !exists {
		e.order = append(e.order, name)
	}
	e.values[name] = value
}

func (e *entries) clone() *entries {
	return &entries{
		values: maps.Clone(e.values),
		order:  slices.Clone(e.order),
	}
}

// view is an immutable snapshot of a context, as seen by the children created from it.
// Once an entries map is referenced by a view it is never written again:
// the owning context clones it before its next write.
type view struct {
	own        *entries
	scope      map[string]struct{} // nil: everything in parent is visible
	scopeOrder []string
	parent     *view
}

func (v *view) lookup(name string) (any, bool) {
	for cur := v; cur != nil; cur = cur.parent {
		if val, ok := cur.own.values[name]; ok {
			return val, true
		}
		if cur.scope != nil {
			if _, ok := cur.scope[name]; !ok {
				return nil, false
			}
		}
	}
	return nil, false
}

func (v *view) names() []string {
	if v == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	if v.scope != nil {
		for _, name := range v.scopeOrder {
			if _, ok := v.parent.lookup(name); ok {
				add(name)
			}
		}
	} else {
		for _, name := range v.parent.names() {
			add(name)
		}
	}
	for _, name := range v.own.order {
		add(name)
	}
	return out
}

// Context is the unit of shared state flowing through a graph run.
//
// A child context reads its parent through an immutable snapshot and writes
// only to its own entries, so sibling children never observe each other's
// writes. Parent writes after a child was created go to a fresh copy of the
// parent's entries (copy-on-write).
//
// Context is safe for concurrent use.
type Context struct {
	mu sync.RWMutex

	runID  string
	parent *Context
	base   *view

	own    *entries
	shared bool // own is referenced by a child view

	scope      map[string]struct{}
	scopeOrder []string

	history  []HistoryEntry
	released bool
}

// NewContext creates a root context for a run.
// Initial entries are inserted in name order so InputNames is deterministic.
func NewContext(runID string, initial map[string]any) *Context {
	c := &Context{
		runID: runID,
		own:   newEntries(),
	}
	keys := make([]string, 0, len(initial))
	for k := range initial {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.own.set(k, initial[k])
	}
	return c
}

// RunID returns the identifier shared by every context of a run.
func (c *Context) RunID() string {
	return c.runID
}

// Parent returns the context this one was created from, or nil for a root.
func (c *Context) Parent() *Context {
	return c.parent
}

// snapshot must be called with c.mu held.
func (c *Context) snapshot() *view {
	return &view{
		own:        c.own,
		scope:      c.scope,
		scopeOrder: c.scopeOrder,
		parent:     c.base,
	}
}

// InputNames returns the names this context currently exposes, without duplicates.
func (c *Context) InputNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot().names()
}

// Get returns the value visible under name.
func (c *Context) Get(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot().lookup(name)
}

// Has reports whether name is visible in this context.
func (c *Context) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Set writes name into this context's own entries.
func (c *Context) Set(name string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrContextReleased
	}
	c.writeLocked(name, value)
	return nil
}

func (c *Context) writeLocked(name string, value any) {
	if c.shared {
		c.own = c.own.clone()
		c.shared = false
	}
	c.own.set(name, value)
}

// Values returns a snapshot of every visible entry.
func (c *Context) Values() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := c.snapshot()
	out := make(map[string]any)
	for _, name := range v.names() {
		out[name], _ = v.lookup(name)
	}
	return out
}

// History returns the outputs merged into this context so far, oldest first.
func (c *Context) History() []HistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.history)
}

// Release marks the context as discarded. Further writes fail with ErrContextReleased.
func (c *Context) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
}

// Released reports whether Release was called.
func (c *Context) Released() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.released
}

// ChildOption configures CreateChild.
type ChildOption func(*childConfig)

type childConfig struct {
	defaults map[string]any
}

// WithDefaults supplies values for required names the parent does not hold.
func WithDefaults(defaults map[string]any) ChildOption {
	return func(cfg *childConfig) {
		cfg.defaults = defaults
	}
}

// CreateChild returns a context scoped to the required names.
// It fails with *NameNotFoundError when a name is absent from this context,
// its ancestry and the supplied defaults.
func (c *Context) CreateChild(required []string, opts ...ChildOption) (*Context, error) {
	cfg := childConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.snapshot()
	scope := make(map[string]struct{}, len(required))
	var order []string
	var defaulted []string
	for _, name := range required {
		if _, dup := scope[name]; dup {
			continue
		}
		if _, ok := v.lookup(name); !ok {
			if _, ok := cfg.defaults[name]; !ok {
				return nil, &NameNotFoundError{Name: name}
			}
			defaulted = append(defaulted, name)
		}
		scope[name] = struct{}{}
		order = append(order, name)
	}

	c.shared = true
	child := &Context{
		runID:      c.runID,
		parent:     c,
		base:       v,
		own:        newEntries(),
		scope:      scope,
		scopeOrder: order,
		history:    slices.Clone(c.history),
	}
	for _, name := range defaulted {
		child.own.set(name, cfg.defaults[name])
	}
	return child, nil
}

// MergeOption configures MergeOutputs.
type MergeOption func(*mergeConfig)

type mergeConfig struct {
	node      string
	overwrite map[string]struct{}
	now       func() time.Time
}

// FromNode names the producer, for history and error reporting.
func FromNode(name string) MergeOption {
	return func(cfg *mergeConfig) {
		cfg.node = name
	}
}

// AllowOverwrite permits the listed names to replace existing entries.
func AllowOverwrite(names ...string) MergeOption {
	return func(cfg *mergeConfig) {
		for _, n := range names {
			cfg.overwrite[n] = struct{}{}
		}
	}
}

// MergeOutputs copies the produced names from a completed child into this
// context's own entries and records a history entry. Every name is validated
// before the first write, so a failed merge leaves the context untouched.
func (c *Context) MergeOutputs(child *Context, produced []string, opts ...MergeOption) error {
	if child == nil {
		return fmt.Errorf("merge outputs: nil child context")
	}
	cfg := mergeConfig{overwrite: make(map[string]struct{}), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	outputs := make(map[string]any, len(produced))
	for _, name := range produced {
		val, ok := child.Get(name)
		if !ok {
			return &NameNotFoundError{Name: name}
		}
		outputs[name] = val
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrContextReleased
	}

	v := c.snapshot()
	for _, name := range produced {
		if _, allowed := cfg.overwrite[name]; allowed {
			continue
		}
		if _, exists := v.lookup(name); exists {
			return &DuplicateOutputError{Name: name, Node: cfg.node}
		}
	}

	for _, name := range produced {
		c.writeLocked(name, outputs[name])
	}
	c.history = append(c.history, HistoryEntry{
		Node:    cfg.node,
		Outputs: outputs,
		At:      cfg.now(),
	})
	return nil
}
