package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlpool/internal/progress"
	"github.com/JakeFAU/crawlpool/internal/store"
)

// StoreSink persists progress deltas via a store.ProgressRepository. Item
// outcomes are collapsed into per-run counter deltas to reduce write
// amplification.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses item deltas and forwards them to the repository. It
// respects ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*counterDelta)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunAborted:
			if err := s.handleRunEvent(ctx, runID, evt); err != nil {
				return err
			}
		case progress.StageItemDone:
			delta(deltas, runID, evt.TS).succeeded++
		case progress.StageItemFailed:
			delta(deltas, runID, evt.TS).failed++
		case progress.StageItemRetry, progress.StageLeaseReclaim:
			delta(deltas, runID, evt.TS).retried++
		}
	}

	for runID, d := range deltas {
		if err := s.repo.AddRunCounters(ctx, runID, d.succeeded, d.failed, d.retried, d.at); err != nil {
			return fmt.Errorf("add run counters: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunAborted:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunAborted, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func delta(deltas map[uuid.UUID]*counterDelta, runID uuid.UUID, ts time.Time) *counterDelta {
	d := deltas[runID]
	if d == nil {
		d = &counterDelta{}
		deltas[runID] = d
	}
	if ts.After(d.at) {
		d.at = ts
	}
	return d
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type counterDelta struct {
	succeeded int64
	failed    int64
	retried   int64
	at        time.Time
}
