package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Node kinds.
const (
	KindLua     = "lua"
	KindProcess = "process"
	KindNative  = "native"
)

// Definition is a pipeline file.
type Definition struct {
	Name           string           `mapstructure:"name"`
	Description    string           `mapstructure:"description"`
	Inputs         []string         `mapstructure:"inputs"`
	GracePeriod    time.Duration    `mapstructure:"grace_period"`
	MaxConcurrency int              `mapstructure:"max_concurrency"`
	Nodes          []NodeDefinition `mapstructure:"nodes"`

	// BaseDir resolves relative script files and commands. Load sets it to
	// the directory holding the file.
	BaseDir string `mapstructure:"-"`
}

// NodeDefinition declares one node. Which fields apply depends on Kind.
type NodeDefinition struct {
	Name           string        `mapstructure:"name"`
	Kind           string        `mapstructure:"kind"`
	Inputs         []string      `mapstructure:"inputs"`
	Outputs        []string      `mapstructure:"outputs"`
	Timeout        time.Duration `mapstructure:"timeout"`
	AllowOverwrite bool          `mapstructure:"allow_overwrite"`

	// lua
	Script     string `mapstructure:"script"`
	ScriptFile string `mapstructure:"script_file"`

	// process: either an allow-listed command (Use) or an inline one.
	Use     string            `mapstructure:"use"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Dir     string            `mapstructure:"dir"`

	// native
	Type   string         `mapstructure:"type"`
	Config map[string]any `mapstructure:"config"`
}

// Load reads a pipeline file (YAML or JSON, chosen by extension).
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline: %w", err)
	}
	def, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	def.BaseDir = filepath.Dir(path)
	return def, nil
}

// Parse decodes and validates a pipeline document. ext selects the format;
// anything other than ".json" is read as YAML.
func Parse(data []byte, ext string) (*Definition, error) {
	var raw map[string]any
	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse pipeline json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse pipeline yaml: %w", err)
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("pipeline is empty")
	}

	var def Definition
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: false,
		Result:           &def,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the definition for errors that do not need the graph.
// Graph-level errors (cycles, unresolved inputs) are reported by Compile.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(d.Nodes) == 0 {
		return fmt.Errorf("pipeline '%s' has no nodes", d.Name)
	}
	if d.GracePeriod < 0 || d.MaxConcurrency < 0 {
		return fmt.Errorf("pipeline '%s': grace_period and max_concurrency cannot be negative", d.Name)
	}

	seen := make(map[string]struct{}, len(d.Nodes))
	for i, n := range d.Nodes {
		if n.Name == "" {
			return fmt.Errorf("node #%d has no name", i+1)
		}
		if _, dup := seen[n.Name]; dup {
			return fmt.Errorf("duplicate node name '%s'", n.Name)
		}
		seen[n.Name] = struct{}{}
		if err := n.validate(); err != nil {
			return fmt.Errorf("node '%s': %w", n.Name, err)
		}
	}
	return nil
}

func (n NodeDefinition) validate() error {
	if n.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	switch n.Kind {
	case KindLua:
		if (n.Script == "") == (n.ScriptFile == "") {
			return fmt.Errorf("lua node needs exactly one of script or script_file")
		}
	case KindProcess:
		if (n.Use == "") == (n.Command == "") {
			return fmt.Errorf("process node needs exactly one of use or command")
		}
	case KindNative:
		if n.Type == "" {
			return fmt.Errorf("native node needs a type")
		}
	case "":
		return fmt.Errorf("kind is required (%s, %s or %s)", KindLua, KindProcess, KindNative)
	default:
		return fmt.Errorf("unknown kind '%s'", n.Kind)
	}
	return nil
}

func (d *Definition) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || d.BaseDir == "" {
		return path
	}
	return filepath.Join(d.BaseDir, path)
}
