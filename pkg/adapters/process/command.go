package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"strings"
	"time"
	"unicode"
)

// DefaultGracePeriod is how long a command may run after being interrupted
// before it is killed.
const DefaultGracePeriod = 2 * time.Second

// EnvPrefix prefixes the environment variable carrying each input.
const EnvPrefix = "ESPALIER_INPUT_"

// Command is a foreign node backed by an external process.
//
// The declared inputs are written to stdin as a JSON object and exported as
// ESPALIER_INPUT_<NAME> variables. The process answers with a JSON object on
// stdout. Inputs are never passed as command line flags.
type Command struct {
	cfg     Config
	grace   time.Duration
	baseDir string
}

// Option configures a Command.
type Option func(*Command)

// WithGracePeriod sets how long an interrupted process may take to exit.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Command) {
		c.grace = d
	}
}

// WithBaseDir sets the working directory used when the config has none.
func WithBaseDir(dir string) Option {
	return func(c *Command) {
		c.baseDir = dir
	}
}

// New creates a command node.
func New(cfg Config, opts ...Option) (*Command, error) {
	if cfg.Command == "" {
		return nil, errors.New("process command is required")
	}
	cfg.Args = slices.Clone(cfg.Args)
	cfg.Inputs = slices.Clone(cfg.Inputs)
	c := &Command{cfg: cfg, grace: DefaultGracePeriod}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the configured name.
func (c *Command) Name() string {
	return c.cfg.Name
}

// GetInputNames returns the inputs declared in the config.
func (c *Command) GetInputNames() (any, error) {
	if c.cfg.Inputs == nil {
		return []string{}, nil
	}
	return slices.Clone(c.cfg.Inputs), nil
}

// Execute runs the process once.
//
// A non-JSON stdout is handed back as a plain string, which callers reject as
// a malformed result.
func (c *Command) Execute(ctx context.Context, view map[string]any) (any, error) {
	payload, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("failed to encode inputs: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.cfg.Command, c.cfg.Args...)
	cmd.Dir = c.cfg.Dir
	if cmd.Dir == "" {
		cmd.Dir = c.baseDir
	}
	if runtime.GOOS != "windows" {
		cmd.Cancel = func() error {
			return cmd.Process.Signal(os.Interrupt)
		}
	}
	cmd.WaitDelay = c.grace
	cmd.Env = append(cmd.Environ(), c.environment(view)...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("execution failed: %v. Stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	trimmed := bytes.TrimSpace(stdout.Bytes())
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	var result any
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return string(trimmed), nil
	}
	return result, nil
}

func (c *Command) environment(view map[string]any) []string {
	env := make([]string, 0, len(c.cfg.Environment)+len(view))
	for k, v := range c.cfg.Environment {
		env = append(env, k+"="+v)
	}
	for k, v := range view {
		env = append(env, EnvPrefix+envName(k)+"="+envValue(v))
	}
	return env
}

// envValue formats primitives as is and anything structured as JSON.
func envValue(v any) string {
	switch v.(type) {
	case string, int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	case nil:
		return ""
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}

func envName(name string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, name)
}
