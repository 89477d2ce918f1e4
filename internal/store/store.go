// Package store defines the persistence contracts for run progress.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the persisted lifecycle state of a run.
type RunStatus string

// Run status values.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunAborted RunStatus = "aborted"
)

// ErrNotFound is returned when a run row does not exist.
var ErrNotFound = errors.New("run not found")

// RunRecord is one persisted run row with its aggregate counters.
type RunRecord struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Note       *string
	Succeeded  int64
	Failed     int64
	Retried    int64
}

// ProgressRepository persists run lifecycle rows and counter deltas.
type ProgressRepository interface {
	UpsertRunStart(ctx context.Context, runID uuid.UUID, at time.Time) error
	CompleteRun(ctx context.Context, runID uuid.UUID, at time.Time, status RunStatus, note *string) error
	AddRunCounters(ctx context.Context, runID uuid.UUID, succeeded, failed, retried int64, at time.Time) error
	GetRun(ctx context.Context, runID uuid.UUID) (RunRecord, error)
}
