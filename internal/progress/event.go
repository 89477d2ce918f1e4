// Package progress defines the event structures emitted by the pool.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunHB        Stage = "RUN_HEARTBEAT"
	StageRunDone      Stage = "RUN_DONE"
	StageRunAborted   Stage = "RUN_ABORTED"
	StageItemDone     Stage = "ITEM_DONE"
	StageItemRetry    Stage = "ITEM_RETRY"
	StageItemFailed   Stage = "ITEM_FAILED"
	StageScaleUp      Stage = "SCALE_UP"
	StageScaleDown    Stage = "SCALE_DOWN"
	StageLeaseReclaim Stage = "LEASE_RECLAIMED"
)

// Event captures a single component of pool progress.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle, item, or scaling milestone occurred.
	Stage Stage
	// Key scopes item events to one work item.
	Key string
	// RetryCount carries the item's retry counter at emission time.
	RetryCount int
	// Desired is the concurrency target after a scale event or at a
	// heartbeat.
	Desired int
	// Active is the number of in-flight invocations at emission time.
	Active int
	// Dur captures handler latency for item events and wall time for run
	// completion.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunHB, StageRunDone, StageRunAborted:
	case StageItemDone, StageItemRetry, StageItemFailed, StageLeaseReclaim:
		if e.Key == "" {
			return fmt.Errorf("%s requires an item key", e.Stage)
		}
	case StageScaleUp, StageScaleDown:
		if e.Desired <= 0 {
			return fmt.Errorf("%s requires the new target", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
