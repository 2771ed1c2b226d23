package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/cognicore/uberts/pkg/uberts/internalerr"
	"github.com/cognicore/uberts/pkg/uberts/runstore"
)

// Store is an in-memory implementation of runstore.Store.
type Store struct {
	mu   sync.RWMutex
	runs map[string]runstore.Run
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{runs: make(map[string]runstore.Run)}
}

// Close implements runstore.Store.
func (s *Store) Close() error { return nil }

// SaveRun stores a copy of r, keyed by ID.
func (s *Store) SaveRun(ctx context.Context, r runstore.Run) error {
	if r.ID == "" {
		return fmt.Errorf("run without id: %w", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = runstore.Clone(r)
	return nil
}

// GetRun returns a copy of the run with the given ID.
func (s *Store) GetRun(ctx context.Context, id string) (runstore.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return runstore.Run{}, false, nil
	}
	return runstore.Clone(r), true, nil
}

// ListRuns returns copies of the matching runs.
func (s *Store) ListRuns(ctx context.Context, f runstore.Filter) ([]runstore.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]runstore.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, runstore.Clone(r))
	}
	return f.Apply(out), nil
}
