package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawlpool/internal/store"
)

// ProgressStore implements store.ProgressRepository on the crawl_runs table.
type ProgressStore struct {
	db DB
}

// NewProgressStore wraps an existing connection pool.
func NewProgressStore(pool *pgxpool.Pool) *ProgressStore {
	return &ProgressStore{db: pool}
}

// NewProgressStoreWithDB builds a ProgressStore over any DB, for tests.
func NewProgressStoreWithDB(db DB) *ProgressStore {
	return &ProgressStore{db: db}
}

// UpsertRunStart records a run start, idempotently.
func (s *ProgressStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, at time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, started_at, status, last_update)
		VALUES ($1, $2, $3, $2)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE crawl_runs.status <> EXCLUDED.status;
	`
	if _, err := s.db.Exec(ctx, query, runID, at, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with a status and an optional note.
func (s *ProgressStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	at time.Time,
	status store.RunStatus,
	note *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, note = $3, last_update = $1
		WHERE id = $4;
	`
	if _, err := s.db.Exec(ctx, query, at, status, note, runID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// AddRunCounters applies one counter delta. The insert arm covers events
// that arrive before the run-start row (sinks flush out of order).
func (s *ProgressStore) AddRunCounters(
	ctx context.Context,
	runID uuid.UUID,
	succeeded, failed, retried int64,
	at time.Time,
) error {
	query := `
		INSERT INTO crawl_runs (id, started_at, status, succeeded, failed, retried, last_update)
		VALUES ($1, $5, $6, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET succeeded = crawl_runs.succeeded + EXCLUDED.succeeded,
		    failed = crawl_runs.failed + EXCLUDED.failed,
		    retried = crawl_runs.retried + EXCLUDED.retried,
		    last_update = GREATEST(crawl_runs.last_update, EXCLUDED.last_update);
	`
	_, err := s.db.Exec(ctx, query, runID, succeeded, failed, retried, at, store.RunRunning)
	if err != nil {
		return fmt.Errorf("add run counters: %w", err)
	}
	return nil
}

// GetRun returns one run row.
func (s *ProgressStore) GetRun(ctx context.Context, runID uuid.UUID) (store.RunRecord, error) {
	query := `
		SELECT id, started_at, finished_at, status, note, succeeded, failed, retried
		FROM crawl_runs WHERE id = $1;
	`
	var rec store.RunRecord
	err := s.db.QueryRow(ctx, query, runID).Scan(
		&rec.ID,
		&rec.StartedAt,
		&rec.FinishedAt,
		&rec.Status,
		&rec.Note,
		&rec.Succeeded,
		&rec.Failed,
		&rec.Retried,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.RunRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}
