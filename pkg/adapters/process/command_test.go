package process_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/aretw0/espalier/pkg/adapters/foreign"
	"github.com/aretw0/espalier/pkg/adapters/process"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shell(t *testing.T, name, script string, inputs ...string) *process.Command {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fixtures require sh")
	}
	cmd, err := process.New(process.Config{
		Name:    name,
		Command: "sh",
		Args:    []string{"-c", script},
		Inputs:  inputs,
	}, process.WithGracePeriod(200*time.Millisecond))
	require.NoError(t, err)
	return cmd
}

func TestCommand_InputsOnStdin(t *testing.T) {
	a, err := foreign.New("echo", shell(t, "echo", "cat", "text", "limit"))
	require.NoError(t, err)
	assert.Equal(t, []string{"text", "limit"}, a.InputNames())

	ectx := domain.NewContext("r", map[string]any{"text": "hello", "limit": 3, "secret": "x"})
	out, err := a.Execute(context.Background(), ectx)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"text": "hello", "limit": float64(3)}, out.Values())
}

func TestCommand_InputsInEnvironment(t *testing.T) {
	cmd := shell(t, "env", `printf '{"seen":"%s","tags":%s}' "$ESPALIER_INPUT_USER_NAME" "$ESPALIER_INPUT_TAGS"`, "user-name", "tags")

	result, err := cmd.Execute(context.Background(), map[string]any{
		"user-name": "ada",
		"tags":      []any{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"seen": "ada", "tags": []any{"a", "b"}}, result)
}

func TestCommand_ConfiguredEnvironment(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell fixtures require sh")
	}
	cmd, err := process.New(process.Config{
		Command:     "sh",
		Args:        []string{"-c", `printf '{"model":"%s"}' "$MODEL"`},
		Environment: map[string]string{"MODEL": "small"},
	})
	require.NoError(t, err)

	result, err := cmd.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"model": "small"}, result)
}

func TestCommand_NoInputsDeclared(t *testing.T) {
	names, err := shell(t, "bare", "true").GetInputNames()
	require.NoError(t, err)
	assert.Equal(t, []string{}, names)
}

func TestCommand_EmptyStdoutMeansNoOutputs(t *testing.T) {
	a, err := foreign.New("quiet", shell(t, "quiet", "true"))
	require.NoError(t, err)

	out, err := a.Execute(context.Background(), domain.NewContext("r", nil))
	require.NoError(t, err)
	assert.Empty(t, out.Values())
}

func TestCommand_NonZeroExit(t *testing.T) {
	cmd := shell(t, "crashy", "echo 'Something went terribly wrong' >&2; exit 123")

	_, err := cmd.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 123")
	assert.Contains(t, err.Error(), "Something went terribly wrong")

	a, err := foreign.New("crashy", cmd)
	require.NoError(t, err)
	_, err = a.Execute(context.Background(), domain.NewContext("r", nil))

	var nodeErr *domain.NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "crashy", nodeErr.Node)
	assert.ErrorIs(t, err, domain.ErrForeignFailure)
}

func TestCommand_NonJSONOutputIsMalformed(t *testing.T) {
	a, err := foreign.New("chatty", shell(t, "chatty", "echo hello"))
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), domain.NewContext("r", nil))

	var violation *domain.ForeignContractViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "execute", violation.Op)
}

func TestCommand_GoodCitizen(t *testing.T) {
	cmd := shell(t, "good", `trap 'exit 0' INT; sleep 5 >/dev/null 2>&1 </dev/null & wait`)
	a, err := foreign.New("good", cmd, foreign.WithGracePeriod(3*time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	begin := time.Now()
	_, err = a.Execute(ctx, domain.NewContext("r", nil))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var timeoutErr *domain.CancellationTimeoutError
	assert.False(t, errors.As(err, &timeoutErr))
	assert.Less(t, time.Since(begin), 2*time.Second)
}

func TestCommand_BadCitizenIsKilled(t *testing.T) {
	cmd := shell(t, "stubborn", `trap '' INT; sleep 5 >/dev/null 2>&1 </dev/null & wait`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	begin := time.Now()
	_, err := cmd.Execute(ctx, map[string]any{})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), 2*time.Second, "killed once the grace period expires")
}

func TestLoadCommands(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "commands.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
commands:
  - name: summarize
    command: python
    args: ["summarize.py"]
    inputs: [log]
    env:
      MODEL: small
  - command: ignored
`), 0o644))

		commands, err := process.LoadCommands(path)
		require.NoError(t, err)
		require.Len(t, commands, 1)
		assert.Equal(t, "python", commands["summarize"].Command)
		assert.Equal(t, []string{"log"}, commands["summarize"].Inputs)
		assert.Equal(t, "small", commands["summarize"].Environment["MODEL"])
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "commands.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"commands":[{"name":"score","command":"./score"}]}`), 0o644))

		commands, err := process.LoadCommands(path)
		require.NoError(t, err)
		assert.Equal(t, "./score", commands["score"].Command)
	})

	t.Run("missing file", func(t *testing.T) {
		commands, err := process.LoadCommands(filepath.Join(dir, "nope.yaml"))
		require.NoError(t, err)
		assert.Empty(t, commands)
	})

	t.Run("no executable", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("commands:\n  - name: x\n"), 0o644))

		_, err := process.LoadCommands(path)
		assert.ErrorContains(t, err, "no executable")
	})
}

func TestRegistry(t *testing.T) {
	reg := process.NewRegistry(process.WithCommands(map[string]process.Config{
		"score": {Command: "./score", Inputs: []string{"summary"}},
	}))
	assert.Equal(t, []string{"score"}, reg.Names())

	cmd, err := reg.Lookup("score")
	require.NoError(t, err)
	assert.Equal(t, "score", cmd.Name())

	_, err = reg.Lookup("hacker_script")
	assert.ErrorContains(t, err, "not registered")

	_, err = reg.Inline(process.Config{Name: "adhoc", Command: "sh"})
	assert.ErrorContains(t, err, "inline execution is disabled")

	inline := process.NewRegistry(process.WithInlineExecution(true))
	_, err = inline.Inline(process.Config{Name: "adhoc", Command: "sh"})
	assert.NoError(t, err)
}
