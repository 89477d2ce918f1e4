// Package autoscale implements the concurrency controller that drives the
// pool's target concurrency up and down in response to system load.
package autoscale

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

// Config holds the controller tunables.
type Config struct {
	MinConcurrency int
	MaxConcurrency int
	// DesiredRatio is the fraction of the current target that must be in
	// use before a scale-up is considered; an idle pool has no reason to
	// grow.
	DesiredRatio float64
	// ScaleUpStepRatio / ScaleDownStepRatio size each adjustment relative
	// to the current target, with a floor of one slot.
	ScaleUpStepRatio   float64
	ScaleDownStepRatio float64
	// High/low water marks on the sampled ratios. Any dimension above its
	// high water mark vetoes a scale-up and forces a scale-down.
	CPUHighWater   float64
	CPULowWater    float64
	MemHighWater   float64
	MemLowWater    float64
	ErrorHighWater float64
	// HealthyTicks is the number of consecutive healthy snapshots required
	// before a scale-up, damping oscillation from transient spikes.
	HealthyTicks int
	// WindowSize bounds the retained snapshot history.
	WindowSize int
}

func (c Config) withDefaults() Config {
	if c.MinConcurrency <= 0 {
		c.MinConcurrency = 1
	}
	if c.MaxConcurrency < c.MinConcurrency {
		c.MaxConcurrency = c.MinConcurrency
	}
	if c.DesiredRatio <= 0 || c.DesiredRatio > 1 {
		c.DesiredRatio = 0.9
	}
	if c.ScaleUpStepRatio <= 0 {
		c.ScaleUpStepRatio = 0.1
	}
	if c.ScaleDownStepRatio <= 0 {
		c.ScaleDownStepRatio = 0.2
	}
	if c.CPUHighWater <= 0 {
		c.CPUHighWater = 0.85
	}
	if c.CPULowWater <= 0 {
		c.CPULowWater = 0.6
	}
	if c.MemHighWater <= 0 {
		c.MemHighWater = 0.8
	}
	if c.MemLowWater <= 0 {
		c.MemLowWater = 0.6
	}
	if c.ErrorHighWater <= 0 {
		c.ErrorHighWater = 0.5
	}
	if c.HealthyTicks <= 0 {
		c.HealthyTicks = 3
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 60
	}
	return c
}

// Decision is the outcome of observing one snapshot.
type Decision struct {
	Desired    int
	Delta      int
	Overloaded bool
}

// Controller tracks desired concurrency for one run. It is owned by the run
// instance that created it; there is no process-wide state.
type Controller struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger

	desired      int
	paused       bool
	pausedTarget int
	aborted      bool
	healthyTicks int
	window       []crawl.Snapshot
}

// New constructs a Controller starting at the minimum concurrency.
func New(cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:     cfg,
		logger:  logger,
		desired: cfg.MinConcurrency,
	}
}

// Observe consumes one snapshot and adjusts the target. Scale-downs apply
// immediately; scale-ups wait for cfg.HealthyTicks consecutive healthy
// snapshots and for the pool to be using at least DesiredRatio of its
// current budget. current is the number of active leases at sampling time.
func (c *Controller) Observe(snap crawl.Snapshot, current int) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.window = append(c.window, snap)
	if len(c.window) > c.cfg.WindowSize {
		c.window = c.window[len(c.window)-c.cfg.WindowSize:]
	}

	if c.aborted || c.paused {
		return Decision{Desired: c.desiredLocked()}
	}

	overloaded := c.overloaded(snap)
	before := c.desired
	switch {
	case overloaded:
		c.healthyTicks = 0
		c.desired = c.clamp(c.desired - c.step(c.cfg.ScaleDownStepRatio))
	case c.healthy(snap):
		c.healthyTicks++
		if c.healthyTicks >= c.cfg.HealthyTicks && c.busyEnough(current) {
			c.desired = c.clamp(c.desired + c.step(c.cfg.ScaleUpStepRatio))
			c.healthyTicks = 0
		}
	default:
		// Between the water marks: hold steady, keep the streak.
	}

	delta := c.desired - before
	if delta != 0 {
		c.logger.Debug("concurrency target adjusted",
			zap.Int("desired", c.desired),
			zap.Int("delta", delta),
			zap.Float64("cpu_ratio", snap.CPURatio),
			zap.Float64("mem_ratio", snap.MemRatio),
			zap.Int("stale_leases", snap.StaleLeases),
			zap.Float64("error_ratio", snap.ErrorRatio),
		)
	}
	return Decision{Desired: c.desired, Delta: delta, Overloaded: overloaded}
}

// overloaded applies the veto rule: any single dimension over its high water
// mark marks the system overloaded, regardless of the others.
func (c *Controller) overloaded(snap crawl.Snapshot) bool {
	return snap.CPURatio >= c.cfg.CPUHighWater ||
		snap.MemRatio >= c.cfg.MemHighWater ||
		snap.StaleLeases > 0 ||
		snap.ErrorRatio >= c.cfg.ErrorHighWater
}

func (c *Controller) healthy(snap crawl.Snapshot) bool {
	return snap.CPURatio < c.cfg.CPULowWater &&
		snap.MemRatio < c.cfg.MemLowWater &&
		snap.StaleLeases == 0 &&
		snap.ErrorRatio < c.cfg.ErrorHighWater
}

func (c *Controller) busyEnough(current int) bool {
	return float64(current) >= c.cfg.DesiredRatio*float64(c.desired)
}

func (c *Controller) step(ratio float64) int {
	step := int(math.Round(ratio * float64(c.desired)))
	if step < 1 {
		step = 1
	}
	return step
}

func (c *Controller) clamp(v int) int {
	if v < c.cfg.MinConcurrency {
		return c.cfg.MinConcurrency
	}
	if v > c.cfg.MaxConcurrency {
		return c.cfg.MaxConcurrency
	}
	return v
}

// Desired returns the current admission target: zero while paused or after
// abort.
func (c *Controller) Desired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desiredLocked()
}

func (c *Controller) desiredLocked() int {
	if c.paused || c.aborted {
		return 0
	}
	return c.desired
}

// Admit reports whether a new dispatch is allowed given current active
// leases.
func (c *Controller) Admit(current int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return current < c.desiredLocked()
}

// Pause drops the admission target to zero without cancelling in-flight
// work. The prior target is restored by Resume.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || c.aborted {
		return
	}
	c.paused = true
	c.pausedTarget = c.desired
	c.logger.Info("pool paused", zap.Int("saved_target", c.pausedTarget))
}

// Resume restores the pre-pause target.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused || c.aborted {
		return
	}
	c.paused = false
	c.desired = c.pausedTarget
	c.healthyTicks = 0
	c.logger.Info("pool resumed", zap.Int("desired", c.desired))
}

// Abort terminally stops admission. There is no way back.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted {
		return
	}
	c.aborted = true
	c.logger.Info("pool aborted")
}

// Paused reports whether the controller is paused.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Aborted reports whether the controller was aborted.
func (c *Controller) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// Window returns a copy of the retained snapshot history.
func (c *Controller) Window() []crawl.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]crawl.Snapshot, len(c.window))
	copy(out, c.window)
	return out
}
