// Package gcs persists run checkpoints as JSON objects in a Google Cloud
// Storage bucket.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

// Config captures the parameters required to address checkpoint objects.
type Config struct {
	Bucket string
	Prefix string
}

// StateStore implements crawl.StateStore on top of a GCS bucket.
type StateStore struct {
	client *storage.Client
	cfg    Config
}

// NewStateStore wraps an existing GCS client.
func NewStateStore(client *storage.Client, cfg Config) (*StateStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &StateStore{client: client, cfg: cfg}, nil
}

// Save implements crawl.StateStore.
func (s *StateStore) Save(ctx context.Context, state crawl.RunState) error {
	if state.RunID == "" {
		return errors.New("run id is required")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	writer := s.object(state.RunID).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write run state: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write run state: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Load implements crawl.StateStore.
func (s *StateStore) Load(ctx context.Context, runID string) (crawl.RunState, error) {
	reader, err := s.object(runID).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return crawl.RunState{}, crawl.ErrNotFound
	}
	if err != nil {
		return crawl.RunState{}, fmt.Errorf("open run state: %w", err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return crawl.RunState{}, fmt.Errorf("read run state: %w", err)
	}
	var state crawl.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return crawl.RunState{}, fmt.Errorf("unmarshal run state: %w", err)
	}
	return state, nil
}

// Close releases the underlying client.
func (s *StateStore) Close() error {
	return s.client.Close()
}

func (s *StateStore) object(runID string) *storage.ObjectHandle {
	return s.client.Bucket(s.cfg.Bucket).Object(path.Join(s.cfg.Prefix, runID+".json"))
}
