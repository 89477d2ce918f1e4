package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

func TestStateStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewStateStore(t.TempDir())
	require.NoError(t, err)

	state := crawl.RunState{
		RunID:        "7f3c5a1e-0000-4000-8000-000000000001",
		SourceCursor: 42,
		Items: []crawl.WorkItem{
			{ID: 1, Key: "https://a.test", State: crawl.ItemDone},
			{ID: 2, Key: "https://b.test", State: crawl.ItemPending, RetryCount: 1},
		},
		Counters: crawl.RunCounters{Succeeded: 1, Retried: 1},
		SavedAt:  time.Unix(1700000000, 0).UTC(),
	}
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, state.RunID)
	require.NoError(t, err)
	require.Equal(t, state, loaded)

	// A second save replaces the checkpoint in place.
	state.SourceCursor = 50
	require.NoError(t, store.Save(ctx, state))
	loaded, err = store.Load(ctx, state.RunID)
	require.NoError(t, err)
	require.Equal(t, int64(50), loaded.SourceCursor)
}

func TestStateStoreLoadMissing(t *testing.T) {
	t.Parallel()

	store, err := NewStateStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "nope")
	require.ErrorIs(t, err, crawl.ErrNotFound)
}

func TestStateStoreRejectsEmptyRunID(t *testing.T) {
	t.Parallel()

	store, err := NewStateStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, store.Save(context.Background(), crawl.RunState{}))
}
