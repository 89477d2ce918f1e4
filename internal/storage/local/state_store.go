// Package local persists run checkpoints as JSON files on disk.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

// StateStore writes one <runID>.json file per run under a base directory.
type StateStore struct {
	dir string
}

// NewStateStore creates the base directory if needed.
func NewStateStore(dir string) (*StateStore, error) {
	if dir == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &StateStore{dir: dir}, nil
}

// Save implements crawl.StateStore. The file is written to a temp path and
// renamed so a crash mid-write never corrupts the previous checkpoint.
func (s *StateStore) Save(_ context.Context, state crawl.RunState) error {
	if state.RunID == "" {
		return errors.New("run id is required")
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	final := s.path(state.RunID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write run state: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("replace run state: %w", err)
	}
	return nil
}

// Load implements crawl.StateStore.
func (s *StateStore) Load(_ context.Context, runID string) (crawl.RunState, error) {
	data, err := os.ReadFile(s.path(runID))
	if errors.Is(err, os.ErrNotExist) {
		return crawl.RunState{}, crawl.ErrNotFound
	}
	if err != nil {
		return crawl.RunState{}, fmt.Errorf("read run state: %w", err)
	}
	var state crawl.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return crawl.RunState{}, fmt.Errorf("unmarshal run state: %w", err)
	}
	return state, nil
}

// Close implements crawl.StateStore.
func (s *StateStore) Close() error { return nil }

func (s *StateStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}
