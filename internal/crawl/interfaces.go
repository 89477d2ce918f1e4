package crawl

import (
	"context"
	"time"
)

// Handler processes one leased work item. Returning nil marks the item done;
// any error consumes one unit of retry budget unless wrapped with NoRetry.
// The context carries run cancellation and the per-item timeout, and the
// Enqueuer lets handlers add newly discovered work mid-run.
type Handler interface {
	Handle(ctx context.Context, item *WorkItem, enq Enqueuer) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, item *WorkItem, enq Enqueuer) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, item *WorkItem, enq Enqueuer) error {
	return f(ctx, item, enq)
}

// Enqueuer admits new work into the run. The bool reports whether the item
// was newly added; an item whose key was already seen is silently dropped.
type Enqueuer interface {
	Enqueue(item *WorkItem) (bool, error)
}

// Source supplies the initial stream of work items. Next returns
// ErrSourceDrained once exhausted. Cursor/Seek make a finite source
// resumable across restarts.
type Source interface {
	Next(ctx context.Context) (*WorkItem, error)
	Cursor() int64
	Seek(cursor int64)
}

// Sampler measures current system load. Implementations must be safe for
// use from the scheduler's sampling tick and must not mutate pool state.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// StateStore checkpoints run state keyed by run ID. Load returns ErrNotFound
// when no checkpoint exists for the ID.
type StateStore interface {
	Save(ctx context.Context, state RunState) error
	Load(ctx context.Context, runID string) (RunState, error)
	Close() error
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall-clock Clock used outside tests.
var SystemClock Clock = ClockFunc(time.Now)

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
