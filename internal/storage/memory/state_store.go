// Package memory provides an in-process StateStore, useful for tests and
// single-shot runs that do not need to survive a restart.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

// StateStore keeps run checkpoints in a map.
type StateStore struct {
	mu     sync.Mutex
	states map[string]crawl.RunState
}

// NewStateStore creates an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{states: make(map[string]crawl.RunState)}
}

// Save implements crawl.StateStore.
func (s *StateStore) Save(_ context.Context, state crawl.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Deep-copy the items so later queue mutations cannot leak into the
	// stored snapshot.
	copied := state
	copied.Items = append([]crawl.WorkItem(nil), state.Items...)
	s.states[state.RunID] = copied
	return nil
}

// Load implements crawl.StateStore.
func (s *StateStore) Load(_ context.Context, runID string) (crawl.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[runID]
	if !ok {
		return crawl.RunState{}, crawl.ErrNotFound
	}
	state.Items = append([]crawl.WorkItem(nil), state.Items...)
	return state, nil
}

// Close implements crawl.StateStore.
func (s *StateStore) Close() error { return nil }
