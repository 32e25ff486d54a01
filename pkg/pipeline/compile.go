package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/adapters/foreign"
	"github.com/aretw0/espalier/pkg/adapters/lua"
	"github.com/aretw0/espalier/pkg/adapters/process"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/registry"
)

// Compiled is a pipeline ready to run. It owns the foreign adapters it
// created; Close releases them.
type Compiled struct {
	Definition *Definition
	Graph      *runtime.Graph

	adapters []*foreign.Adapter
}

// CompileOption configures Compile.
type CompileOption func(*compileConfig)

type compileConfig struct {
	natives  *registry.Registry
	commands *process.Registry
	logger   *slog.Logger
}

// WithRegistry sets the native node types available to the pipeline.
func WithRegistry(reg *registry.Registry) CompileOption {
	return func(c *compileConfig) {
		c.natives = reg
	}
}

// WithCommands sets the allow-list used by process nodes. Without it, process
// nodes may only use inline commands.
func WithCommands(reg *process.Registry) CompileOption {
	return func(c *compileConfig) {
		c.commands = reg
	}
}

// WithLogger sets the logger handed to foreign adapters and Lua scripts.
func WithLogger(logger *slog.Logger) CompileOption {
	return func(c *compileConfig) {
		c.logger = logger
	}
}

// Compile builds every node and the dependency graph.
func (d *Definition) Compile(opts ...CompileOption) (*Compiled, error) {
	cfg := compileConfig{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.natives == nil {
		cfg.natives = registry.NewRegistry()
	}
	if cfg.commands == nil {
		cfg.commands = process.NewRegistry(process.WithInlineExecution(true))
	}

	c := &Compiled{Definition: d}
	specs := make([]runtime.NodeSpec, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		node, err := c.build(n, cfg)
		if err != nil {
			_ = c.Close(context.Background())
			return nil, fmt.Errorf("node '%s': %w", n.Name, err)
		}
		specs = append(specs, runtime.NodeSpec{
			Name:           n.Name,
			Node:           node,
			Outputs:        n.Outputs,
			Timeout:        n.Timeout,
			AllowOverwrite: n.AllowOverwrite,
		})
	}

	g, err := runtime.Build(specs, runtime.WithExternalInputs(d.Inputs...))
	if err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	c.Graph = g
	return c, nil
}

func (c *Compiled) build(n NodeDefinition, cfg compileConfig) (domain.Node, error) {
	switch n.Kind {
	case KindNative:
		return cfg.natives.Create(n.Type, n.Name, n.Inputs, n.Config)
	case KindLua:
		var (
			script *lua.Script
			err    error
		)
		if n.ScriptFile != "" {
			script, err = lua.CompileFile(n.Name, c.Definition.resolve(n.ScriptFile), lua.WithLogger(cfg.logger))
		} else {
			script, err = lua.Compile(n.Name, n.Script, lua.WithLogger(cfg.logger))
		}
		if err != nil {
			return nil, err
		}
		return c.adapt(n, script, cfg)
	case KindProcess:
		var (
			cmd *process.Command
			err error
		)
		if n.Use != "" {
			cmd, err = cfg.commands.Lookup(n.Use)
		} else {
			cmd, err = cfg.commands.Inline(process.Config{
				Name:        n.Name,
				Command:     n.Command,
				Args:        n.Args,
				Environment: n.Env,
				Inputs:      n.Inputs,
				Dir:         c.workDir(n.Dir),
			})
		}
		if err != nil {
			return nil, err
		}
		return c.adapt(n, cmd, cfg)
	}
	return nil, fmt.Errorf("unknown kind '%s'", n.Kind)
}

func (c *Compiled) workDir(dir string) string {
	if dir == "" {
		return c.Definition.BaseDir
	}
	return c.Definition.resolve(dir)
}

func (c *Compiled) adapt(n NodeDefinition, obj ports.ForeignNode, cfg compileConfig) (domain.Node, error) {
	opts := []foreign.Option{foreign.WithLogger(cfg.logger)}
	if len(n.Inputs) > 0 {
		opts = append(opts, foreign.WithDeclaredInputs(n.Inputs...))
	}
	if c.Definition.GracePeriod > 0 {
		opts = append(opts, foreign.WithGracePeriod(c.Definition.GracePeriod))
	}
	a, err := registry.Foreign(n.Name, obj, opts...)
	if err != nil {
		return nil, err
	}
	c.adapters = append(c.adapters, a)
	return a, nil
}

// RunnerOptions returns the runner settings declared by the pipeline.
func (c *Compiled) RunnerOptions() []runtime.Option {
	opts := []runtime.Option{runtime.WithPipelineName(c.Definition.Name)}
	if c.Definition.GracePeriod > 0 {
		opts = append(opts, runtime.WithGracePeriod(c.Definition.GracePeriod))
	}
	if c.Definition.MaxConcurrency > 0 {
		opts = append(opts, runtime.WithMaxConcurrency(c.Definition.MaxConcurrency))
	}
	return opts
}

// Close releases every foreign adapter, waiting for in-flight calls until
// ctx is done.
func (c *Compiled) Close(ctx context.Context) error {
	var errs []error
	for _, a := range c.adapters {
		if err := a.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", a.Name(), err))
		}
	}
	return errors.Join(errs...)
}
