package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

// StateStore implements crawl.StateStore on the crawl_run_state table.
type StateStore struct {
	db   DB
	pool *pgxpool.Pool
}

// NewStateStore wraps an existing connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{db: pool, pool: pool}
}

// NewStateStoreWithDB builds a StateStore over any DB, for tests.
func NewStateStoreWithDB(db DB) *StateStore {
	return &StateStore{db: db}
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
	query := `
		INSERT INTO crawl_run_state (run_id, state, saved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO UPDATE
		SET state = EXCLUDED.state, saved_at = EXCLUDED.saved_at;
	`
	if _, err := s.db.Exec(ctx, query, state.RunID, data, state.SavedAt); err != nil {
		return fmt.Errorf("save run state: %w", err)
	}
	return nil
}

// Load implements crawl.StateStore.
func (s *StateStore) Load(ctx context.Context, runID string) (crawl.RunState, error) {
	var data []byte
	query := `SELECT state FROM crawl_run_state WHERE run_id = $1;`
	err := s.db.QueryRow(ctx, query, runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawl.RunState{}, crawl.ErrNotFound
	}
	if err != nil {
		return crawl.RunState{}, fmt.Errorf("load run state: %w", err)
	}
	var state crawl.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return crawl.RunState{}, fmt.Errorf("unmarshal run state: %w", err)
	}
	return state, nil
}

// Close implements crawl.StateStore. It closes the pool only when this store
// owns one.
func (s *StateStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
