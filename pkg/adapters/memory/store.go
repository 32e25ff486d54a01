package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/espalier/pkg/domain"
)

type record struct {
	data []byte
	seq  uint64
}

// Store implements ports.OutcomeStore in memory.
// Outcomes are kept serialized, so a loaded outcome never aliases a saved one.
// Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[string]record
	seq  uint64
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]record),
	}
}

// Save persists the outcome in memory.
func (s *Store) Save(ctx context.Context, outcome *domain.Outcome) error {
	if outcome == nil || outcome.RunID == "" {
		return fmt.Errorf("outcome run ID cannot be empty")
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.data[outcome.RunID] = record{data: data, seq: s.seq}
	return nil
}

// Load retrieves the outcome from memory.
func (s *Store) Load(ctx context.Context, runID string) (*domain.Outcome, error) {
	s.mu.RLock()
	rec, ok := s.data[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrRunNotFound
	}

	var outcome domain.Outcome
	if err := json.Unmarshal(rec.data, &outcome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
	}
	return &outcome, nil
}

// Delete removes the outcome.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, runID)
	return nil
}

// List returns recorded runs, most recently saved first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]string, 0, len(s.data))
	for id := range s.data {
		runs = append(runs, id)
	}
	sort.Slice(runs, func(i, j int) bool {
		return s.data[runs[i]].seq > s.data[runs[j]].seq
	})
	return runs, nil
}
