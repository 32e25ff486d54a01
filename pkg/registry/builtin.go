package registry

import (
	"context"
	"fmt"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

type copyConfig struct {
	// Mapping renames inputs to outputs (input -> output).
	Mapping map[string]string `mapstructure:"mapping"`
}

// newCopy builds a node that republishes inputs under new names.
func newCopy(name string, inputs []string, config map[string]any) (domain.Node, error) {
	var cfg copyConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, fmt.Errorf("invalid copy config: %w", err)
	}
	if len(cfg.Mapping) == 0 {
		return nil, fmt.Errorf("copy node requires a mapping")
	}
	declared := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		declared[in] = struct{}{}
	}
	for from := range cfg.Mapping {
		if _, ok := declared[from]; !ok {
			return nil, fmt.Errorf("mapping source '%s' is not a declared input", from)
		}
	}

	return NativeMap(inputs, func(_ context.Context, in map[string]any) (map[string]any, error) {
		out := make(map[string]any, len(cfg.Mapping))
		for from, to := range cfg.Mapping {
			out[to] = in[from]
		}
		return out, nil
	}, Named(name)), nil
}

type constantConfig struct {
	Values map[string]any `mapstructure:"values"`
}

// newConstant builds a node that publishes fixed values.
func newConstant(name string, inputs []string, config map[string]any) (domain.Node, error) {
	var cfg constantConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, fmt.Errorf("invalid constant config: %w", err)
	}

	return NativeMap(inputs, func(context.Context, map[string]any) (map[string]any, error) {
		out := make(map[string]any, len(cfg.Values))
		for k, v := range cfg.Values {
			out[k] = v
		}
		return out, nil
	}, Named(name)), nil
}
