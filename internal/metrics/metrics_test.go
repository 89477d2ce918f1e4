package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	require.NotPanics(t, Init)
}

func TestObserversDoNotPanicAfterInit(t *testing.T) {
	Init()

	require.NotPanics(t, func() {
		SetDesiredConcurrency(4)
		SetActiveLeases(2)
		SetQueueDepth(17)
		ObserveItem("succeeded")
		ObserveItem("failed")
		ObserveItem("retried")
		ObserveScaleEvent("up")
		ObserveScaleEvent("down")
		ObserveLeaseReclaimed()
		ObserveHandlerDuration(125 * time.Millisecond)
		ObserveSnapshot(0.4, 0.6)
	})
}
