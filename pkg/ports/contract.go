package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunOutcomeStoreContract runs a suite of tests to verify that an OutcomeStore implementation
// adheres to the defined interface contract.
func RunOutcomeStoreContract(t *testing.T, store OutcomeStore) {
	ctx := context.Background()
	runID := "contract-test-run-" + time.Now().Format("20060102150405")

	newOutcome := func(id string) *domain.Outcome {
		return &domain.Outcome{
			RunID:      id,
			Pipeline:   "contract",
			Status:     domain.StatusSucceeded,
			Outputs:    map[string]any{"answer": "forty-two"},
			StartedAt:  time.Now().UTC(),
			FinishedAt: time.Now().UTC(),
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		outcome := newOutcome(runID)
		outcome.Outputs["count"] = 42

		err := store.Save(ctx, outcome)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, runID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, runID, loaded.RunID)
		assert.Equal(t, domain.StatusSucceeded, loaded.Status)
		assert.Equal(t, "forty-two", loaded.Outputs["answer"])
		// JSON backends turn ints into float64; only existence is part of the contract.
		assert.NotNil(t, loaded.Outputs["count"])
	})

	t.Run("Save Failed Outcome", func(t *testing.T) {
		id := runID + "-failed"
		outcome := newOutcome(id)
		outcome.Outputs = nil
		outcome.Fail(&domain.GraphExecutionError{
			Node:  "score",
			Cause: &domain.NodeExecutionError{Node: "score", Description: "boom", Cause: domain.ErrForeignFailure},
		})
		require.NoError(t, store.Save(ctx, outcome))
		defer func() { _ = store.Delete(ctx, id) }()

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, loaded.Status)
		assert.Equal(t, "score", loaded.FailedNode)
		assert.Equal(t, outcome.Causes, loaded.Causes)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, newOutcome(runID))
		require.NoError(t, err)

		err = store.Delete(ctx, runID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound, "Load after Delete should return ErrRunNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := runID + "-1"
		id2 := runID + "-2"
		_ = store.Save(ctx, newOutcome(id1))
		_ = store.Save(ctx, newOutcome(id2))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		runs, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, runs, id1)
		assert.Contains(t, runs, id2)
	})
}
