package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/presentation/tui"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/google/uuid"
)

// ErrRunFailed is returned when the run finished without succeeding. The
// outcome has already been printed.
var ErrRunFailed = errors.New("run failed")

// Run executes the pipeline once and prints the outcome to out.
func Run(ctx context.Context, opts RunOptions, out io.Writer) error {
	logger, err := createLogger(opts.LogLevel)
	if err != nil {
		return err
	}
	inputs, err := parseInputs(opts.InputsJSON, opts.Inputs)
	if err != nil {
		return err
	}

	engine, closeStore, err := createEngine(opts.Options, logger, espalier.WithPartialOutputs(opts.Partial))
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	defer func() {
		if err := engine.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to close pipeline", "err", err)
		}
	}()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	outcome, runErr := engine.RunWithID(ctx, opts.RunID, inputs)
	if outcome == nil {
		return runErr
	}
	if err := printOutcome(out, outcome, opts.JSON); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("%w: %s", ErrRunFailed, outcome.Status)
	}
	return nil
}

func printOutcome(out io.Writer, outcome *domain.Outcome, jsonMode bool) error {
	if jsonMode {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}

	report := tui.Report(outcome)
	if isTerminal(out) {
		rendered, err := tui.NewRenderer()(report)
		if err == nil {
			report = rendered
		}
	}
	_, err := fmt.Fprint(out, report)
	return err
}
