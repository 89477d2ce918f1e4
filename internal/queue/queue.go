// Package queue implements the deduplicating, lease-based work queue that
// feeds the pool. It is the single source of truth for what remains to be
// done and what is currently in flight.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

// Queue owns the key -> item mapping plus a ready list (pending, in dispatch
// order) and a leased index (in flight, with lease timestamps). Terminal
// items stay in the map so their keys are never re-enqueued. All methods are
// safe for concurrent use; internal records never escape as pointers, so the
// queue stays the sole writer of item state.
type Queue struct {
	mu         sync.Mutex
	clock      crawl.Clock
	maxRetries int
	nextID     uint64

	items  map[string]*crawl.WorkItem
	ready  []string
	leased map[string]time.Time
}

// New constructs an empty queue. maxRetries is the pool-wide retry ceiling
// applied to items that carry no per-item override.
func New(clock crawl.Clock, maxRetries int) *Queue {
	if clock == nil {
		clock = crawl.SystemClock
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Queue{
		clock:      clock,
		maxRetries: maxRetries,
		items:      make(map[string]*crawl.WorkItem),
		leased:     make(map[string]time.Time),
	}
}

// Enqueue admits an item. The bool reports whether it was newly added: a key
// already present, terminal or not, is silently ignored per "already seen"
// semantics.
func (q *Queue) Enqueue(item *crawl.WorkItem) (bool, error) {
	return q.enqueue(item, false)
}

// ForceEnqueue re-admits an item even if its key previously reached a
// terminal state. A key that is still pending or leased cannot be forced and
// reports ErrDuplicateKey.
func (q *Queue) ForceEnqueue(item *crawl.WorkItem) (bool, error) {
	return q.enqueue(item, true)
}

func (q *Queue) enqueue(item *crawl.WorkItem, force bool) (bool, error) {
	if item == nil {
		return false, crawl.ErrUnknownKey
	}
	if item.Key == "" {
		item.Key = crawl.KeyForURL(item.Payload.URL)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.items[item.Key]; ok {
		if !existing.State.Terminal() {
			if force {
				return false, crawl.ErrDuplicateKey
			}
			return false, nil
		}
		if !force {
			return false, nil
		}
	}

	q.nextID++
	item.ID = q.nextID
	item.State = crawl.ItemPending
	item.EnqueuedAt = q.clock.Now()
	item.HandledAt = nil
	q.items[item.Key] = item
	q.insertReady(item.Key)
	return true, nil
}

// insertReady places key behind every ready item of equal or higher
// priority, so order is priority-descending and FIFO within a band. Retried
// items re-enter through the same rule and land at the back of their band.
func (q *Queue) insertReady(key string) {
	pri := q.items[key].Priority
	idx := sort.Search(len(q.ready), func(i int) bool {
		return q.items[q.ready[i]].Priority < pri
	})
	q.ready = append(q.ready, "")
	copy(q.ready[idx+1:], q.ready[idx:])
	q.ready[idx] = key
}

// Lease atomically selects up to batchSize pending items, marks them leased,
// and stamps the lease time. Selection follows the ready order; ID breaks
// ties by construction since IDs are assigned in admission order. The
// returned items are copies, so a later reclaim cannot race whoever holds
// them; Complete and Retry match outcomes against the lease-time RetryCount.
func (q *Queue) Lease(batchSize int) []crawl.WorkItem {
	if batchSize <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	n := batchSize
	if n > len(q.ready) {
		n = len(q.ready)
	}
	out := make([]crawl.WorkItem, 0, n)
	now := q.clock.Now()
	for _, key := range q.ready[:n] {
		item := q.items[key]
		item.State = crawl.ItemLeased
		q.leased[key] = now
		out = append(out, *item)
	}
	q.ready = append(q.ready[:0], q.ready[n:]...)
	return out
}

// Complete transitions a leased item to done. attempt is the RetryCount
// observed at lease time; a mismatch means the lease was reclaimed and
// re-issued since, and the stale outcome is rejected with ErrNotLeased.
func (q *Queue) Complete(key string, attempt int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[key]
	if !ok {
		return crawl.ErrUnknownKey
	}
	if _, leased := q.leased[key]; !leased || item.RetryCount != attempt {
		return crawl.ErrNotLeased
	}
	delete(q.leased, key)
	item.State = crawl.ItemDone
	now := q.clock.Now()
	item.HandledAt = &now
	return nil
}

// Retry records a failure against a leased item. attempt carries the same
// lease-time RetryCount check as Complete. The item returns to the back of
// its ready band with an incremented retry count, unless its budget is
// exhausted (or noRetry marks the failure terminal), in which case it
// transitions to the terminal failed state and failed reports true.
func (q *Queue) Retry(key string, attempt int, errDesc string, noRetry bool) (failed bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[key]
	if !ok {
		return false, crawl.ErrUnknownKey
	}
	if _, leased := q.leased[key]; !leased || item.RetryCount != attempt {
		return false, crawl.ErrNotLeased
	}
	delete(q.leased, key)
	if noRetry {
		item.NoRetry = true
	}
	return q.recordFailure(item, errDesc), nil
}

// recordFailure applies one failed attempt to item and either fails it
// terminally or returns it to the ready list. Caller holds q.mu and has
// already removed the lease.
func (q *Queue) recordFailure(item *crawl.WorkItem, errDesc string) (failed bool) {
	item.RecordError(errDesc)
	item.RetryCount++
	if item.NoRetry || item.RetryCount > q.budgetFor(item) {
		item.State = crawl.ItemFailed
		now := q.clock.Now()
		item.HandledAt = &now
		return true
	}
	item.State = crawl.ItemPending
	q.insertReady(item.Key)
	return false
}

func (q *Queue) budgetFor(item *crawl.WorkItem) int {
	if item.MaxRetries > 0 {
		return item.MaxRetries
	}
	return q.maxRetries
}

// ReclaimStale returns items whose lease is older than timeout to the
// pending list, counting the expiry as one failed attempt. It reports copies
// of the reclaimed items and of the subset that exhausted its budget and
// went terminal instead. This is the safety net against crashed or hung
// handlers; a handler still running against a reclaimed lease holds its own
// copy and its eventual outcome fails the attempt check.
func (q *Queue) ReclaimStale(timeout time.Duration) (reclaimed, exhausted []crawl.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	for key, leasedAt := range q.leased {
		if now.Sub(leasedAt) < timeout {
			continue
		}
		item := q.items[key]
		delete(q.leased, key)
		if q.recordFailure(item, "lease expired") {
			exhausted = append(exhausted, *item)
		} else {
			reclaimed = append(reclaimed, *item)
		}
	}
	return reclaimed, exhausted
}

// StaleCount reports how many leases are older than timeout without
// reclaiming them; the autoscaler reads this as an overload signal.
func (q *Queue) StaleCount(timeout time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	n := 0
	for _, leasedAt := range q.leased {
		if now.Sub(leasedAt) >= timeout {
			n++
		}
	}
	return n
}

// IsEmpty reports whether both the ready list and the leased index are
// empty: the run's natural termination signal.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) == 0 && len(q.leased) == 0
}

// ReadyLen reports the number of pending items.
func (q *Queue) ReadyLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// LeasedLen reports the number of in-flight items.
func (q *Queue) LeasedLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.leased)
}

// Get returns a copy of the item stored under key.
func (q *Queue) Get(key string) (crawl.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[key]
	if !ok {
		return crawl.WorkItem{}, false
	}
	return *item, true
}

// Items returns copies of every known item, terminal included, ordered by
// ID. Used for checkpointing.
func (q *Queue) Items() []crawl.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]crawl.WorkItem, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore loads checkpointed items into the queue. Leased items come back as
// pending so work interrupted by a crash is not lost.
func (q *Queue) Restore(items []crawl.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range items {
		copied := items[i]
		if copied.State == crawl.ItemLeased {
			copied.State = crawl.ItemPending
		}
		q.items[copied.Key] = &copied
		if copied.ID > q.nextID {
			q.nextID = copied.ID
		}
		if copied.State == crawl.ItemPending {
			q.insertReady(copied.Key)
		}
	}
}
