package lua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aretw0/espalier/internal/logging"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Script is a foreign node implemented in Lua.
//
// The source is compiled once. Every call runs the compiled chunk in a fresh
// interpreter bound to the call context, so concurrent calls share nothing
// and a canceled context stops the script.
//
// A script declares its inputs with a global `inputs` array or an
// `input_names()` function, and implements `execute(ctx)` returning a table
// of outputs. The `espalier` module exposes `espalier.log(msg)`.
type Script struct {
	name        string
	proto       *lua.FunctionProto
	logger      *slog.Logger
	declTimeout time.Duration
}

// DefaultDeclarationTimeout bounds the top-level run that reads a script's
// input declaration.
const DefaultDeclarationTimeout = 5 * time.Second

// Option configures a Script.
type Option func(*Script)

// WithLogger sets the logger behind espalier.log.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Script) {
		s.logger = logger
	}
}

// WithDeclarationTimeout bounds how long GetInputNames may run the script.
func WithDeclarationTimeout(d time.Duration) Option {
	return func(s *Script) {
		s.declTimeout = d
	}
}

// Compile parses and compiles a script.
func Compile(name, source string, opts ...Option) (*Script, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("failed to parse lua script %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile lua script %s: %w", name, err)
	}

	s := &Script{name: name, proto: proto, logger: logging.NewNop(), declTimeout: DefaultDeclarationTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CompileFile reads and compiles a script file.
func CompileFile(name, path string, opts ...Option) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lua script: %w", err)
	}
	return Compile(name, string(data), opts...)
}

// Name returns the script name.
func (s *Script) Name() string {
	return s.name
}

// GetInputNames loads the script and reads its input declaration.
func (s *Script) GetInputNames() (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.declTimeout)
	defer cancel()

	L, err := s.load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("script %s did not declare its inputs within %s: %w", s.name, s.declTimeout, ctx.Err())
		}
		return nil, err
	}
	defer L.Close()

	if fn, ok := L.GetGlobal("input_names").(*lua.LFunction); ok {
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("script %s did not declare its inputs within %s: %w", s.name, s.declTimeout, ctx.Err())
			}
			return nil, err
		}
		ret := L.Get(-1)
		L.Pop(1)
		return toGo(ret), nil
	}

	decl := L.GetGlobal("inputs")
	if decl == lua.LNil {
		return nil, errors.New("script declares neither `inputs` nor `input_names()`")
	}
	return toGo(decl), nil
}

// Execute runs execute(ctx) with the view as a Lua table.
func (s *Script) Execute(ctx context.Context, view map[string]any) (any, error) {
	L, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	defer L.Close()

	fn, ok := L.GetGlobal("execute").(*lua.LFunction)
	if !ok {
		return nil, errors.New("script does not define execute(ctx)")
	}
	arg, err := toLua(L, view)
	if err != nil {
		return nil, fmt.Errorf("failed to translate inputs: %w", err)
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, arg); err != nil {
		return nil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	if tbl, ok := ret.(*lua.LTable); ok && isEmptyTable(tbl) {
		// {} is an empty set of outputs, not an empty sequence.
		return map[string]any{}, nil
	}
	return toGo(ret), nil
}

// load creates an interpreter and runs the script's top level.
func (s *Script) load(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState()
	L.SetContext(ctx)
	L.SetGlobal("espalier", L.SetFuncs(L.NewTable(), s.funcs()))
	L.PreloadModule("espalier", func(L *lua.LState) int {
		L.Push(L.GetGlobal("espalier"))
		return 1
	})

	L.Push(L.NewFunctionFromProto(s.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.Close()
		return nil, err
	}
	return L, nil
}

func (s *Script) funcs() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"log": func(L *lua.LState) int {
			s.logger.Info(L.CheckString(1), "node", s.name)
			return 0
		},
	}
}
