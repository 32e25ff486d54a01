package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/espalier"
	httpAdapter "github.com/aretw0/espalier/pkg/adapters/http"
	"github.com/aretw0/espalier/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds how long in-flight requests may take once the
// server is asked to stop.
const ShutdownTimeout = 5 * time.Second

// Serve exposes the pipeline over HTTP until ctx is done.
func Serve(ctx context.Context, opts ServeOptions) error {
	logger, err := createLogger(opts.LogLevel)
	if err != nil {
		return err
	}

	streams := httpAdapter.NewStreamManager(logger)
	engineOpts := []espalier.Option{espalier.WithLifecycleHooks(streams.Hooks())}
	handlerOpts := []httpAdapter.Option{
		httpAdapter.WithStreams(streams),
		httpAdapter.WithLogger(logger),
	}
	if opts.Metrics {
		reg := prometheus.NewRegistry()
		metrics, err := observability.NewMetrics(reg)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, espalier.WithLifecycleHooks(metrics.Hooks()))
		handlerOpts = append(handlerOpts, httpAdapter.WithMetrics(reg))
	}

	engine, closeStore, err := createEngine(opts.Options, logger, engineOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	defer func() { _ = engine.Close(context.WithoutCancel(ctx)) }()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           httpAdapter.NewHandler(engine, handlerOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting espalier server", "address", srv.Addr, "pipeline", engine.Name())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown did not complete", "timeout", ShutdownTimeout, "err", err)
			return srv.Close()
		}
		logger.Info("Server stopped gracefully")
		return nil
	})
	return g.Wait()
}
