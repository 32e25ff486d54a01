package cli

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/pkg/adapters/file"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/adapters/process"
	"github.com/aretw0/espalier/pkg/adapters/redis"
	"github.com/aretw0/espalier/pkg/observability"
	"github.com/aretw0/espalier/pkg/persistence/middleware"
	"github.com/aretw0/espalier/pkg/pipeline"
	"github.com/aretw0/espalier/pkg/ports"
)

// DefaultCommandsFile is looked up next to the pipeline when no allow-list
// is given.
const DefaultCommandsFile = "commands.yaml"

// createEngine loads the pipeline and wires logging, storage and the
// process allow-list following the CLI conventions.
func createEngine(opts Options, logger *slog.Logger, extra ...espalier.Option) (*espalier.Engine, func() error, error) {
	if opts.PipelinePath == "" {
		return nil, nil, errors.New("a pipeline file is required")
	}

	commands, err := commandRegistry(opts)
	if err != nil {
		return nil, nil, err
	}
	compileOpts := []pipeline.CompileOption{
		pipeline.WithCommands(commands),
		pipeline.WithLogger(logger),
	}

	engineOpts := []espalier.Option{
		espalier.WithLogger(logger),
		espalier.WithLifecycleHooks(observability.LoggingHooks(logger)),
	}
	if opts.GracePeriod > 0 {
		engineOpts = append(engineOpts, espalier.WithGracePeriod(opts.GracePeriod))
	}
	if opts.MaxConcurrency > 0 {
		engineOpts = append(engineOpts, espalier.WithMaxConcurrency(opts.MaxConcurrency))
	}

	store, locker, closeStore, err := createStore(opts, logger)
	if err != nil {
		return nil, nil, err
	}
	engineOpts = append(engineOpts, espalier.WithStore(store))
	if locker != nil {
		engineOpts = append(engineOpts, espalier.WithLocker(locker))
	}
	engineOpts = append(engineOpts, extra...)

	engine, err := espalier.Load(opts.PipelinePath, compileOpts, engineOpts...)
	if err != nil {
		_ = closeStore()
		return nil, nil, fmt.Errorf("error initializing engine: %w", err)
	}
	return engine, closeStore, nil
}

// commandRegistry builds the process allow-list. Without a commands file,
// pipelines may run inline commands.
func commandRegistry(opts Options) (*process.Registry, error) {
	path := opts.CommandsPath
	if path == "" {
		candidate := filepath.Join(filepath.Dir(opts.PipelinePath), DefaultCommandsFile)
		if _, err := os.Stat(candidate); err != nil {
			return process.NewRegistry(process.WithInlineExecution(true)), nil
		}
		path = candidate
	}

	commands, err := process.LoadCommands(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load commands from %s: %w", path, err)
	}
	return process.NewRegistry(
		process.WithCommands(commands),
		process.WithCommandOptions(process.WithBaseDir(filepath.Dir(opts.PipelinePath))),
	), nil
}

// createStore picks the outcome store (Redis, files or memory) and wraps it
// with the configured redaction and encryption.
func createStore(opts Options, logger *slog.Logger) (ports.OutcomeStore, ports.DistributedLocker, func() error, error) {
	var (
		store      ports.OutcomeStore
		locker     ports.DistributedLocker
		closeStore = func() error { return nil }
	)
	switch {
	case opts.RedisAddr != "":
		rs := redis.New(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
		store, locker, closeStore = rs, redis.NewLocker(rs.Client(), redis.DefaultPrefix), rs.Close
		logger.Debug("Using Redis outcome store", "address", opts.RedisAddr)
	case opts.StoreDir != "":
		store = file.New(opts.StoreDir)
		logger.Debug("Using file outcome store", "dir", opts.StoreDir)
	default:
		store = memory.NewStore()
	}

	var mws []middleware.Middleware
	if len(opts.Redact) > 0 {
		mw, err := middleware.NewPIIMiddleware(opts.Redact)
		if err != nil {
			_ = closeStore()
			return nil, nil, nil, err
		}
		mws = append(mws, mw)
	}
	if opts.EncryptionKey != "" {
		key, err := decodeKey(opts.EncryptionKey)
		if err != nil {
			_ = closeStore()
			return nil, nil, nil, err
		}
		mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})
		if err != nil {
			_ = closeStore()
			return nil, nil, nil, err
		}
		mws = append(mws, mw)
	}
	return middleware.Chain(store, mws...), locker, closeStore, nil
}

// decodeKey accepts a 32 byte key written as hex or base64.
func decodeKey(s string) ([]byte, error) {
	if key, err := hex.DecodeString(s); err == nil {
		return key, nil
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New("encryption key must be hex or base64")
	}
	return key, nil
}
