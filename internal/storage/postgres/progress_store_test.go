package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlpool/internal/store"
)

func TestProgressStoreUpsertRunStart(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewProgressStoreWithDB(mock)
	runID := uuid.New()
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(runID, at, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertRunStart(context.Background(), runID, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreCompleteRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewProgressStoreWithDB(mock)
	runID := uuid.New()
	at := time.Unix(1700000300, 0).UTC()
	note := "operator abort"

	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(at, store.RunAborted, &note, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.CompleteRun(context.Background(), runID, at, store.RunAborted, &note))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreAddRunCounters(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewProgressStoreWithDB(mock)
	runID := uuid.New()
	at := time.Unix(1700000200, 0).UTC()

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(runID, int64(5), int64(1), int64(2), at, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.AddRunCounters(context.Background(), runID, 5, 1, 2, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreGetRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewProgressStoreWithDB(mock)
	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := time.Unix(1700000500, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "started_at", "finished_at", "status", "note", "succeeded", "failed", "retried",
	}).AddRow(runID, started, &finished, store.RunSuccess, (*string)(nil), int64(10), int64(1), int64(3))

	mock.ExpectQuery("SELECT id, started_at, finished_at").
		WithArgs(runID).
		WillReturnRows(rows)

	rec, err := repo.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, runID, rec.ID)
	require.Equal(t, started, rec.StartedAt)
	require.NotNil(t, rec.FinishedAt)
	require.Equal(t, store.RunSuccess, rec.Status)
	require.Nil(t, rec.Note)
	require.Equal(t, int64(10), rec.Succeeded)

	mock.ExpectQuery("SELECT id, started_at, finished_at").
		WithArgs(runID).
		WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetRun(context.Background(), runID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
