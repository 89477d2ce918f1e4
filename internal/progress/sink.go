package progress

import "context"

// Sink consumes batches of progress events. Implementations must tolerate
// concurrent Consume calls and treat the batch slice as read-only.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}
