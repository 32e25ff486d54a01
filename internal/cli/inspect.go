package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/presentation/graph"
	"github.com/aretw0/espalier/pkg/pipeline"
)

// Validate loads and compiles the pipeline without running it.
func Validate(opts Options, out io.Writer) error {
	logger, err := createLogger(opts.LogLevel)
	if err != nil {
		return err
	}
	commands, err := commandRegistry(opts)
	if err != nil {
		return err
	}

	def, err := pipeline.Load(opts.PipelinePath)
	if err != nil {
		return err
	}
	engine, err := espalier.FromDefinition(def, []pipeline.CompileOption{
		pipeline.WithCommands(commands),
		pipeline.WithLogger(logger),
	})
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close(context.Background()) }()

	printSystemMessage(out, "Pipeline '%s' is valid: %d nodes, inputs %v", def.Name, len(engine.Inspect()), engine.Inputs())
	return nil
}

// Graph prints the Mermaid diagram of the pipeline. With a run ID, the nodes
// of that recorded run are highlighted.
func Graph(ctx context.Context, opts Options, runID string, out io.Writer) error {
	logger, err := createLogger(opts.LogLevel)
	if err != nil {
		return err
	}
	engine, closeStore, err := createEngine(opts, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	defer func() { _ = engine.Close(ctx) }()

	var overlay *graph.GraphOverlay
	if runID != "" {
		outcome, err := engine.Load(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", runID, err)
		}
		overlay = graph.OverlayFromOutcome(outcome)
	}
	_, err = fmt.Fprint(out, graph.GenerateMermaid(engine.Inspect(), overlay))
	return err
}
