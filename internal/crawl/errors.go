package crawl

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pool.
var (
	// ErrDuplicateKey reports a forced enqueue for a key that is still
	// pending or leased; only terminal keys can be re-admitted. Plain
	// enqueues signal duplicates through their bool result instead.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrUnknownKey reports an operation on a key the queue has never seen.
	ErrUnknownKey = errors.New("unknown key")
	// ErrNotLeased reports complete/retry on an item that is not currently
	// leased; it indicates a scheduling bug.
	ErrNotLeased = errors.New("item not leased")
	// ErrSourceDrained signals that a finite source has no more items.
	ErrSourceDrained = errors.New("source drained")
	// ErrAborted is returned by Run when abort preempted natural completion.
	ErrAborted = errors.New("run aborted")
	// ErrNotFound reports a state-store load for an unknown run ID.
	ErrNotFound = errors.New("not found")
)

// NoRetryError wraps a handler failure that must not consume retry budget;
// the item fails terminally on its first occurrence.
type NoRetryError struct {
	Err error
}

// NoRetry wraps err so the pool fails the item without retrying.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &NoRetryError{Err: err}
}

// Error implements the error interface.
func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

// Unwrap exposes the wrapped error to errors.Is/As.
func (e *NoRetryError) Unwrap() error { return e.Err }

// IsNoRetry reports whether err (or anything it wraps) forbids retrying.
func IsNoRetry(err error) bool {
	var nre *NoRetryError
	return errors.As(err, &nre)
}
