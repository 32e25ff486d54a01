package process

import (
	"fmt"
	"sort"
)

// Registry is an allow-list of commands that pipelines may reference by
// name. Arbitrary commands are only accepted when inline execution is enabled.
type Registry struct {
	commands    map[string]Config
	allowInline bool
	opts        []Option
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCommands populates the allow-list from a loaded config.
func WithCommands(commands map[string]Config) RegistryOption {
	return func(r *Registry) {
		for name, c := range commands {
			c.Name = name
			r.commands[name] = c
		}
	}
}

// WithInlineExecution enables ad-hoc commands (Dangerous).
func WithInlineExecution(allow bool) RegistryOption {
	return func(r *Registry) {
		r.allowInline = allow
	}
}

// WithCommandOptions sets options applied to every command built by the registry.
func WithCommandOptions(opts ...Option) RegistryOption {
	return func(r *Registry) {
		r.opts = append(r.opts, opts...)
	}
}

// NewRegistry creates an empty allow-list.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{commands: make(map[string]Config)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Registry) Register(cfg Config) {
	r.commands[cfg.Name] = cfg
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup builds the registered command with the given name.
func (r *Registry) Lookup(name string) (*Command, error) {
	cfg, ok := r.commands[name]
	if !ok {
		return nil, fmt.Errorf("process command not registered: %s", name)
	}
	return New(cfg, r.opts...)
}

// Inline builds an ad-hoc command, if the registry allows it.
func (r *Registry) Inline(cfg Config) (*Command, error) {
	if !r.allowInline {
		return nil, fmt.Errorf("inline execution is disabled for %s", cfg.Name)
	}
	return New(cfg, r.opts...)
}
