package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newItem(url string) *crawl.WorkItem {
	return &crawl.WorkItem{Payload: crawl.Payload{URL: url}}
}

func TestQueueEnqueueDedup(t *testing.T) {
	t.Parallel()

	q := New(&fakeClock{now: time.Unix(100, 0)}, 3)

	added, err := q.Enqueue(newItem("https://example.com/a"))
	require.NoError(t, err)
	require.True(t, added)

	added, err = q.Enqueue(newItem("https://example.com/a"))
	require.NoError(t, err)
	require.False(t, added)

	// Key normalization collapses host case and fragments.
	added, err = q.Enqueue(newItem("https://EXAMPLE.com/a#section"))
	require.NoError(t, err)
	require.False(t, added)

	require.Equal(t, 1, q.ReadyLen())
}

func TestQueueTerminalKeysStayDeduped(t *testing.T) {
	t.Parallel()

	q := New(&fakeClock{now: time.Unix(100, 0)}, 3)

	_, err := q.Enqueue(newItem("https://example.com/a"))
	require.NoError(t, err)
	leased := q.Lease(1)
	require.Len(t, leased, 1)
	require.NoError(t, q.Complete(leased[0].Key, leased[0].RetryCount))

	added, err := q.Enqueue(newItem("https://example.com/a"))
	require.NoError(t, err)
	require.False(t, added)

	added, err = q.ForceEnqueue(newItem("https://example.com/a"))
	require.NoError(t, err)
	require.True(t, added)
	require.Equal(t, 1, q.ReadyLen())
}

func TestQueueForceEnqueueRejectsActiveKeys(t *testing.T) {
	t.Parallel()

	q := New(&fakeClock{now: time.Unix(100, 0)}, 3)

	_, err := q.Enqueue(newItem("https://example.com/a"))
	require.NoError(t, err)

	// Pending keys cannot be forced.
	added, err := q.ForceEnqueue(newItem("https://example.com/a"))
	require.ErrorIs(t, err, crawl.ErrDuplicateKey)
	require.False(t, added)

	// Leased keys cannot either.
	require.Len(t, q.Lease(1), 1)
	added, err = q.ForceEnqueue(newItem("https://example.com/a"))
	require.ErrorIs(t, err, crawl.ErrDuplicateKey)
	require.False(t, added)
}

func TestQueueLeaseOrderFIFOWithPriority(t *testing.T) {
	t.Parallel()

	q := New(&fakeClock{now: time.Unix(100, 0)}, 3)

	_, err := q.Enqueue(newItem("https://example.com/1"))
	require.NoError(t, err)
	_, err = q.Enqueue(newItem("https://example.com/2"))
	require.NoError(t, err)
	urgent := newItem("https://example.com/3")
	urgent.Priority = 10
	_, err = q.Enqueue(urgent)
	require.NoError(t, err)

	leased := q.Lease(3)
	require.Len(t, leased, 3)
	require.Equal(t, "https://example.com/3", leased[0].Payload.URL)
	require.Equal(t, "https://example.com/1", leased[1].Payload.URL)
	require.Equal(t, "https://example.com/2", leased[2].Payload.URL)
}

func TestQueueLeaseRespectsBatchSize(t *testing.T) {
	t.Parallel()

	q := New(&fakeClock{now: time.Unix(100, 0)}, 3)
	for _, u := range []string{"https://a.test", "https://b.test", "https://c.test"} {
		_, err := q.Enqueue(newItem(u))
		require.NoError(t, err)
	}

	leased := q.Lease(2)
	require.Len(t, leased, 2)
	require.Equal(t, 1, q.ReadyLen())
	require.Equal(t, 2, q.LeasedLen())

	// A key under lease cannot be leased again.
	for _, li := range q.Lease(3) {
		require.NotEqual(t, leased[0].Key, li.Key)
		require.NotEqual(t, leased[1].Key, li.Key)
	}
}

func TestQueueCompleteRequiresLease(t *testing.T) {
	t.Parallel()

	q := New(&fakeClock{now: time.Unix(100, 0)}, 3)
	_, err := q.Enqueue(newItem("https://example.com/a"))
	require.NoError(t, err)

	err = q.Complete("https://example.com/a", 0)
	require.ErrorIs(t, err, crawl.ErrNotLeased)

	err = q.Complete("https://example.com/never-seen", 0)
	require.ErrorIs(t, err, crawl.ErrUnknownKey)
}

func TestQueueRetryGoesToBackOfReadyOrder(t *testing.T) {
	t.Parallel()

	q := New(&fakeClock{now: time.Unix(100, 0)}, 5)
	_, err := q.Enqueue(newItem("https://example.com/flaky"))
	require.NoError(t, err)
	_, err = q.Enqueue(newItem("https://example.com/steady"))
	require.NoError(t, err)

	leased := q.Lease(1)
	require.Equal(t, "https://example.com/flaky", leased[0].Payload.URL)

	failed, err := q.Retry(leased[0].Key, leased[0].RetryCount, "connection reset", false)
	require.NoError(t, err)
	require.False(t, failed)

	// The retried item must not starve the steady one.
	leased = q.Lease(2)
	require.Len(t, leased, 2)
	require.Equal(t, "https://example.com/steady", leased[0].Payload.URL)
	require.Equal(t, "https://example.com/flaky", leased[1].Payload.URL)
	require.Equal(t, 1, leased[1].RetryCount)
	require.Equal(t, []string{"connection reset"}, leased[1].ErrorHistory)
}

func TestQueueRetryBudgetExhaustion(t *testing.T) {
	t.Parallel()

	q := New(&fakeClock{now: time.Unix(100, 0)}, 2)
	_, err := q.Enqueue(newItem("https://example.com/doomed"))
	require.NoError(t, err)

	var failed bool
	for attempt := 0; attempt < 3; attempt++ {
		leased := q.Lease(1)
		require.Len(t, leased, 1, "attempt %d should still lease", attempt)
		failed, err = q.Retry(leased[0].Key, leased[0].RetryCount, "boom", false)
		require.NoError(t, err)
	}
	require.True(t, failed)

	item, ok := q.Get("https://example.com/doomed")
	require.True(t, ok)
	require.Equal(t, crawl.ItemFailed, item.State)
	require.Equal(t, 3, item.RetryCount)
	require.NotNil(t, item.HandledAt)

	// Failed items are never leased again.
	require.Empty(t, q.Lease(1))
	require.True(t, q.IsEmpty())
}

func TestQueueNoRetryFailsImmediately(t *testing.T) {
	t.Parallel()

	q := New(&fakeClock{now: time.Unix(100, 0)}, 5)
	item := newItem("https://example.com/once")
	item.NoRetry = true
	_, err := q.Enqueue(item)
	require.NoError(t, err)

	leased := q.Lease(1)
	failed, err := q.Retry(leased[0].Key, leased[0].RetryCount, "bad gateway", false)
	require.NoError(t, err)
	require.True(t, failed)

	got, _ := q.Get(item.Key)
	require.Equal(t, crawl.ItemFailed, got.State)
	require.Equal(t, 1, got.RetryCount)
}

func TestQueuePerItemMaxRetriesOverride(t *testing.T) {
	t.Parallel()

	q := New(&fakeClock{now: time.Unix(100, 0)}, 10)
	item := newItem("https://example.com/limited")
	item.MaxRetries = 1
	_, err := q.Enqueue(item)
	require.NoError(t, err)

	leased := q.Lease(1)
	failed, err := q.Retry(leased[0].Key, leased[0].RetryCount, "first", false)
	require.NoError(t, err)
	require.False(t, failed)

	leased = q.Lease(1)
	failed, err = q.Retry(leased[0].Key, leased[0].RetryCount, "second", false)
	require.NoError(t, err)
	require.True(t, failed)
}

func TestQueueReclaimStale(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(100, 0)}
	q := New(clock, 3)
	_, err := q.Enqueue(newItem("https://example.com/slow"))
	require.NoError(t, err)
	_, err = q.Enqueue(newItem("https://example.com/fast"))
	require.NoError(t, err)

	leased := q.Lease(2)
	require.Len(t, leased, 2)
	require.NoError(t, q.Complete("https://example.com/fast", 0))

	clock.advance(30 * time.Second)
	require.Equal(t, 1, q.StaleCount(10*time.Second))

	reclaimed, exhausted := q.ReclaimStale(10 * time.Second)
	require.Len(t, reclaimed, 1)
	require.Empty(t, exhausted)
	require.Equal(t, "https://example.com/slow", reclaimed[0].Payload.URL)
	require.Equal(t, 1, reclaimed[0].RetryCount)
	require.Equal(t, "lease expired", reclaimed[0].LastError())
	require.Equal(t, 1, q.ReadyLen())
	require.Zero(t, q.LeasedLen())

	// A second scan with nothing leased reclaims nothing.
	reclaimed, exhausted = q.ReclaimStale(10 * time.Second)
	require.Empty(t, reclaimed)
	require.Empty(t, exhausted)
}

func TestQueueReclaimStaleExhaustsBudget(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(100, 0)}
	q := New(clock, 0)
	item := newItem("https://example.com/hung")
	_, err := q.Enqueue(item)
	require.NoError(t, err)
	q.Lease(1)

	clock.advance(time.Minute)
	reclaimed, exhausted := q.ReclaimStale(10 * time.Second)
	require.Empty(t, reclaimed)
	require.Len(t, exhausted, 1)
	require.Equal(t, crawl.ItemFailed, exhausted[0].State)
}

func TestQueueStaleOutcomeRejectedAfterReclaim(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(100, 0)}
	q := New(clock, 3)
	_, err := q.Enqueue(newItem("https://example.com/slow"))
	require.NoError(t, err)
	stale := q.Lease(1)
	require.Len(t, stale, 1)

	clock.advance(time.Minute)
	reclaimed, _ := q.ReclaimStale(10 * time.Second)
	require.Len(t, reclaimed, 1)
	live := q.Lease(1)
	require.Len(t, live, 1)
	require.Equal(t, 1, live[0].RetryCount)

	// Outcomes from the reclaimed attempt no longer match the live lease.
	require.ErrorIs(t, q.Complete(stale[0].Key, stale[0].RetryCount), crawl.ErrNotLeased)
	_, err = q.Retry(stale[0].Key, stale[0].RetryCount, "late", true)
	require.ErrorIs(t, err, crawl.ErrNotLeased)

	// The live attempt is unaffected.
	require.NoError(t, q.Complete(live[0].Key, live[0].RetryCount))
	got, ok := q.Get(live[0].Key)
	require.True(t, ok)
	require.Equal(t, crawl.ItemDone, got.State)
	require.False(t, got.NoRetry)
}

func TestQueueRetryNoRetrySignal(t *testing.T) {
	t.Parallel()

	q := New(&fakeClock{now: time.Unix(100, 0)}, 5)
	_, err := q.Enqueue(newItem("https://example.com/gone"))
	require.NoError(t, err)

	leased := q.Lease(1)
	failed, err := q.Retry(leased[0].Key, leased[0].RetryCount, "404 not found", true)
	require.NoError(t, err)
	require.True(t, failed)

	got, ok := q.Get(leased[0].Key)
	require.True(t, ok)
	require.Equal(t, crawl.ItemFailed, got.State)
	require.Equal(t, 1, got.RetryCount)
}

func TestQueueCheckpointRoundTrip(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(100, 0)}
	q := New(clock, 3)
	for _, u := range []string{"https://a.test", "https://b.test", "https://c.test"} {
		_, err := q.Enqueue(newItem(u))
		require.NoError(t, err)
	}
	leased := q.Lease(1)
	require.NoError(t, q.Complete(leased[0].Key, leased[0].RetryCount))
	q.Lease(1) // leave one item under lease

	items := q.Items()
	require.Len(t, items, 3)

	restored := New(clock, 3)
	restored.Restore(items)

	// The done item stays terminal, the leased one comes back pending.
	require.Equal(t, 2, restored.ReadyLen())
	require.Zero(t, restored.LeasedLen())
	done, ok := restored.Get("https://a.test")
	require.True(t, ok)
	require.Equal(t, crawl.ItemDone, done.State)

	added, err := restored.Enqueue(newItem("https://a.test"))
	require.NoError(t, err)
	require.False(t, added, "restored terminal keys must stay deduped")
}
