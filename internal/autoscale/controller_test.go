package autoscale

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

func healthySnap() crawl.Snapshot {
	return crawl.Snapshot{TakenAt: time.Unix(100, 0), CPURatio: 0.2, MemRatio: 0.3}
}

func TestControllerStartsAtMinimum(t *testing.T) {
	t.Parallel()

	c := New(Config{MinConcurrency: 2, MaxConcurrency: 10}, nil)
	require.Equal(t, 2, c.Desired())
	require.True(t, c.Admit(0))
	require.True(t, c.Admit(1))
	require.False(t, c.Admit(2))
}

func TestControllerScaleUpNeedsConsecutiveHealthyTicks(t *testing.T) {
	t.Parallel()

	c := New(Config{
		MinConcurrency: 2,
		MaxConcurrency: 10,
		HealthyTicks:   3,
		DesiredRatio:   0.5,
	}, nil)

	// Two healthy ticks: no change yet.
	for i := 0; i < 2; i++ {
		d := c.Observe(healthySnap(), 2)
		require.Zero(t, d.Delta)
	}
	// Third healthy tick with the budget in use: scale up.
	d := c.Observe(healthySnap(), 2)
	require.Equal(t, 1, d.Delta)
	require.Equal(t, 3, d.Desired)
}

func TestControllerIdlePoolDoesNotScaleUp(t *testing.T) {
	t.Parallel()

	c := New(Config{
		MinConcurrency: 4,
		MaxConcurrency: 10,
		HealthyTicks:   1,
		DesiredRatio:   0.9,
	}, nil)

	// Healthy but nothing in flight: the budget is unused, hold.
	for i := 0; i < 5; i++ {
		d := c.Observe(healthySnap(), 0)
		require.Zero(t, d.Delta)
	}
	require.Equal(t, 4, c.Desired())
}

func TestControllerOverloadScalesDownMonotonically(t *testing.T) {
	t.Parallel()

	c := New(Config{MinConcurrency: 1, MaxConcurrency: 5, HealthyTicks: 1}, nil)
	// Drive the target to the max first.
	for c.Desired() < 5 {
		c.Observe(healthySnap(), c.Desired())
	}
	require.Equal(t, 5, c.Desired())

	// Five consecutive overloaded snapshots (CPU 0.95): monotonic decrease
	// toward the floor, never an increase.
	prev := c.Desired()
	for i := 0; i < 5; i++ {
		d := c.Observe(crawl.Snapshot{TakenAt: time.Unix(100, 0), CPURatio: 0.95}, prev)
		require.True(t, d.Overloaded)
		require.LessOrEqual(t, d.Desired, prev)
		prev = d.Desired
	}
	require.Equal(t, 1, c.Desired())
}

func TestControllerOverloadVetoesAcrossDimensions(t *testing.T) {
	t.Parallel()

	c := New(Config{MinConcurrency: 1, MaxConcurrency: 5, HealthyTicks: 1}, nil)
	for c.Desired() < 3 {
		c.Observe(healthySnap(), c.Desired())
	}

	// Low CPU but high memory: the overloaded dimension wins.
	d := c.Observe(crawl.Snapshot{TakenAt: time.Unix(100, 0), CPURatio: 0.1, MemRatio: 0.95}, 3)
	require.True(t, d.Overloaded)
	require.Negative(t, d.Delta)

	// Stale leases alone also veto.
	d = c.Observe(crawl.Snapshot{TakenAt: time.Unix(100, 0), CPURatio: 0.1, StaleLeases: 1}, 2)
	require.True(t, d.Overloaded)

	// Error spike alone also vetoes.
	d = c.Observe(crawl.Snapshot{TakenAt: time.Unix(100, 0), CPURatio: 0.1, ErrorRatio: 0.9}, 1)
	require.True(t, d.Overloaded)
}

func TestControllerMiddleGroundHoldsSteady(t *testing.T) {
	t.Parallel()

	c := New(Config{
		MinConcurrency: 2,
		MaxConcurrency: 10,
		HealthyTicks:   1,
		CPULowWater:    0.5,
		CPUHighWater:   0.9,
	}, nil)

	// CPU between the water marks: neither up nor down.
	d := c.Observe(crawl.Snapshot{TakenAt: time.Unix(100, 0), CPURatio: 0.7}, 2)
	require.Zero(t, d.Delta)
	require.False(t, d.Overloaded)
}

func TestControllerBoundsRespected(t *testing.T) {
	t.Parallel()

	c := New(Config{MinConcurrency: 1, MaxConcurrency: 3, HealthyTicks: 1}, nil)
	for i := 0; i < 20; i++ {
		c.Observe(healthySnap(), c.Desired())
	}
	require.Equal(t, 3, c.Desired())

	for i := 0; i < 20; i++ {
		c.Observe(crawl.Snapshot{TakenAt: time.Unix(100, 0), CPURatio: 0.99}, 1)
	}
	require.Equal(t, 1, c.Desired())
}

func TestControllerPauseResume(t *testing.T) {
	t.Parallel()

	c := New(Config{MinConcurrency: 2, MaxConcurrency: 8, HealthyTicks: 1}, nil)
	for c.Desired() < 4 {
		c.Observe(healthySnap(), c.Desired())
	}

	c.Pause()
	require.True(t, c.Paused())
	require.Zero(t, c.Desired())
	require.False(t, c.Admit(0))

	// Snapshots observed while paused change nothing.
	d := c.Observe(healthySnap(), 0)
	require.Zero(t, d.Delta)

	c.Resume()
	require.False(t, c.Paused())
	require.Equal(t, 4, c.Desired())
	require.True(t, c.Admit(3))
}

func TestControllerAbortIsTerminal(t *testing.T) {
	t.Parallel()

	c := New(Config{MinConcurrency: 1, MaxConcurrency: 5}, nil)
	c.Abort()
	require.True(t, c.Aborted())
	require.Zero(t, c.Desired())
	require.False(t, c.Admit(0))

	c.Resume()
	require.Zero(t, c.Desired())
}

func TestControllerWindowBounded(t *testing.T) {
	t.Parallel()

	c := New(Config{MinConcurrency: 1, MaxConcurrency: 2, WindowSize: 5}, nil)
	for i := 0; i < 12; i++ {
		c.Observe(healthySnap(), 0)
	}
	require.Len(t, c.Window(), 5)
}
