package ports

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
)

// OutcomeStore defines the interface for persisting run outcomes.
// It backs the run ledger, so a run ID is recorded at most once per store.
type OutcomeStore interface {
	// Save persists the outcome under its RunID, replacing any previous record.
	Save(ctx context.Context, outcome *domain.Outcome) error

	// Load retrieves the outcome of a run.
	// Returns domain.ErrRunNotFound if the run does not exist.
	Load(ctx context.Context, runID string) (*domain.Outcome, error)

	// Delete removes the outcome of a run. Deleting an unknown run is not an error.
	Delete(ctx context.Context, runID string) error

	// List returns the IDs of all recorded runs, most recent first.
	List(ctx context.Context) ([]string, error)
}
