// Package scheduler wires the queue, the concurrency controller, and the
// resource sampler into the single coordinator loop that drives a run. All
// queue and counter mutations funnel through that loop; handlers run on their
// own goroutines and report back over a channel.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlpool/internal/autoscale"
	"github.com/JakeFAU/crawlpool/internal/crawl"
	"github.com/JakeFAU/crawlpool/internal/metrics"
	"github.com/JakeFAU/crawlpool/internal/progress"
	"github.com/JakeFAU/crawlpool/internal/queue"
	"github.com/JakeFAU/crawlpool/internal/sampler"
)

// Config holds the pool tunables. Zero values fall back to defaults suitable
// for a polite crawl.
type Config struct {
	Autoscale autoscale.Config

	// MaxRetries is the pool-wide retry ceiling for items without an
	// override.
	MaxRetries int
	// MaxItems bounds how many distinct items the run will admit in total,
	// source and handler discoveries combined. Zero means unlimited.
	MaxItems int

	// HandlerTimeout bounds one handler invocation. Keep it below
	// LeaseTimeout or healthy handlers will have their leases reclaimed from
	// under them.
	HandlerTimeout time.Duration
	// LeaseTimeout is the age past which a lease counts as stale.
	LeaseTimeout time.Duration

	SampleInterval     time.Duration
	ReclaimInterval    time.Duration
	CheckpointInterval time.Duration
	HeartbeatInterval  time.Duration

	// RetryBaseDelay and RetryMaxDelay shape the jittered exponential
	// backoff applied before re-running a previously failed item.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// OutcomeWindow is how many recent outcomes feed the error ratio.
	OutcomeWindow int
	// LeaseBatchSize caps how many items one dispatch pass leases at once.
	LeaseBatchSize int
	// CheckpointBatch forces a checkpoint after this many outcomes, on top
	// of the periodic timer.
	CheckpointBatch int

	// ResumeRunID resumes a checkpointed run instead of starting fresh.
	ResumeRunID string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 60 * time.Second
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 90 * time.Second
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = time.Second
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = 5 * time.Second
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.OutcomeWindow <= 0 {
		c.OutcomeWindow = 50
	}
	if c.LeaseBatchSize <= 0 {
		c.LeaseBatchSize = 16
	}
	if c.CheckpointBatch <= 0 {
		c.CheckpointBatch = 64
	}
	return c
}

// outcome is one handler result reported back to the coordinator. retryCount
// is the lease-time attempt token the queue matches outcomes against.
type outcome struct {
	key        string
	retryCount int
	noRetry    bool
	dur        time.Duration
	err        error
}

// Pool runs one crawl: it leases items from the queue, fans them out to
// handler goroutines up to the controller's target, and folds results back
// into the queue and the run counters. A Pool is single-use.
type Pool struct {
	cfg     Config
	handler crawl.Handler
	logger  *zap.Logger
	clock   crawl.Clock
	idgen   crawl.IDGenerator
	sampler crawl.Sampler
	source  crawl.Source
	state   crawl.StateStore
	hub     *progress.Hub

	queue *queue.Queue
	ctrl  *autoscale.Controller

	outcomes chan outcome
	wake     chan struct{}
	admitted atomic.Int64

	// Coordinator-owned, unguarded: only the Run goroutine touches these.
	sourceDrained bool
	window        []bool
	windowPos     int
	dirty         int

	mu        sync.Mutex
	started   bool
	cancelRun context.CancelFunc
	runID     string
	runUUID   [16]byte
	counters  crawl.RunCounters
	inflight  int
}

// Option customizes a Pool at construction time.
type Option func(*Pool)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock substitutes the wall clock, for tests.
func WithClock(clock crawl.Clock) Option {
	return func(p *Pool) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithIDGenerator substitutes the run ID generator.
func WithIDGenerator(gen crawl.IDGenerator) Option {
	return func(p *Pool) {
		if gen != nil {
			p.idgen = gen
		}
	}
}

// WithSampler sets the resource sampler. Defaults to the system sampler.
func WithSampler(s crawl.Sampler) Option {
	return func(p *Pool) {
		if s != nil {
			p.sampler = s
		}
	}
}

// WithSource sets the initial item source. Without one the run works off
// whatever was enqueued before Run.
func WithSource(src crawl.Source) Option {
	return func(p *Pool) { p.source = src }
}

// WithStateStore enables periodic checkpointing and resume.
func WithStateStore(store crawl.StateStore) Option {
	return func(p *Pool) { p.state = store }
}

// WithHub attaches a progress hub for milestone events.
func WithHub(hub *progress.Hub) Option {
	return func(p *Pool) { p.hub = hub }
}

// NewPool constructs a Pool around the given handler.
func NewPool(cfg Config, handler crawl.Handler, opts ...Option) (*Pool, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:     cfg,
		handler: handler,
		logger:  zap.NewNop(),
		clock:   crawl.SystemClock,
		idgen:   crawl.UUIDGenerator{},
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sampler == nil {
		p.sampler = sampler.NewSystem(p.clock, p.logger)
	}
	p.queue = queue.New(p.clock, cfg.MaxRetries)
	p.ctrl = autoscale.New(cfg.Autoscale, p.logger)

	// Buffered so handler goroutines never block reporting, even if the
	// coordinator abandons them on abort.
	capacity := 2 * p.ctrl.Desired()
	if m := cfg.Autoscale.MaxConcurrency; 2*m > capacity {
		capacity = 2 * m
	}
	if capacity < 64 {
		capacity = 64
	}
	p.outcomes = make(chan outcome, capacity)

	// Restore happens at construction so callers can seed additional items
	// against the recovered dedup map before Run.
	if cfg.ResumeRunID != "" && p.state != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.restore(ctx); err != nil {
			return nil, fmt.Errorf("restore checkpoint: %w", err)
		}
	}
	return p, nil
}

// Enqueue admits an item into the run, subject to the MaxItems budget. It is
// safe to call before Run (to seed the queue) and from handlers mid-run.
func (p *Pool) Enqueue(item *crawl.WorkItem) (bool, error) {
	if p.cfg.MaxItems > 0 {
		for {
			cur := p.admitted.Load()
			if cur >= int64(p.cfg.MaxItems) {
				return false, nil
			}
			if p.admitted.CompareAndSwap(cur, cur+1) {
				break
			}
		}
	}
	added, err := p.queue.Enqueue(item)
	if p.cfg.MaxItems > 0 && (!added || err != nil) {
		p.admitted.Add(-1)
	}
	if added {
		p.poke()
	}
	return added, err
}

// Run executes the crawl until the source is drained and the queue is empty,
// or until abort. It returns the final report; the error is crawl.ErrAborted
// when Abort preempted completion, or the context error when the caller's
// context did.
func (p *Pool) Run(ctx context.Context) (crawl.RunReport, error) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return crawl.RunReport{}, errors.New("pool already ran")
	}
	p.started = true
	p.mu.Unlock()

	metrics.Init()

	runID, runUUID, err := p.initRunID()
	if err != nil {
		return crawl.RunReport{}, err
	}
	report := crawl.RunReport{RunID: runID, Started: p.clock.Now()}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.runID = runID
	p.runUUID = runUUID
	p.cancelRun = cancel
	p.mu.Unlock()

	p.logger.Info("run started",
		zap.String("run_id", runID),
		zap.Int("min_concurrency", p.cfg.Autoscale.MinConcurrency),
		zap.Int("max_concurrency", p.cfg.Autoscale.MaxConcurrency),
	)
	p.emit(progress.Event{Stage: progress.StageRunStart, Desired: p.ctrl.Desired()})

	sampleT := time.NewTicker(p.cfg.SampleInterval)
	defer sampleT.Stop()
	reclaimT := time.NewTicker(p.cfg.ReclaimInterval)
	defer reclaimT.Stop()
	checkpointT := time.NewTicker(p.cfg.CheckpointInterval)
	defer checkpointT.Stop()
	heartbeatT := time.NewTicker(p.cfg.HeartbeatInterval)
	defer heartbeatT.Stop()

	var runErr error
loop:
	for {
		p.refill(runCtx)
		p.dispatch(runCtx)
		if p.finished() {
			break
		}
		select {
		case out := <-p.outcomes:
			p.handleOutcome(out)
			p.drainOutcomes()
			if p.state != nil && p.dirty >= p.cfg.CheckpointBatch {
				p.checkpoint()
			}
		case <-sampleT.C:
			p.sampleTick(runCtx)
		case <-reclaimT.C:
			p.reclaimTick()
		case <-checkpointT.C:
			p.checkpoint()
		case <-heartbeatT.C:
			p.heartbeat()
		case <-p.wake:
		case <-runCtx.Done():
			p.drainInflight()
			if p.ctrl.Aborted() {
				runErr = crawl.ErrAborted
			} else {
				runErr = ctx.Err()
			}
			break loop
		}
	}
	if runErr == nil && p.ctrl.Aborted() {
		runErr = crawl.ErrAborted
	}

	p.checkpoint()
	report.Finished = p.clock.Now()
	report.Counters = p.countersCopy()
	// Aborted means Abort was invoked; a caller-context cancellation ends the
	// run with the context error but is not an abort.
	report.Aborted = p.ctrl.Aborted()

	dur := report.Finished.Sub(report.Started)
	if runErr != nil {
		p.emit(progress.Event{Stage: progress.StageRunAborted, Dur: dur, Note: runErr.Error()})
	} else {
		p.emit(progress.Event{Stage: progress.StageRunDone, Dur: dur})
	}
	p.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.Bool("aborted", report.Aborted),
		zap.Int("succeeded", report.Counters.Succeeded),
		zap.Int("failed", report.Counters.Failed),
		zap.Int("retried", report.Counters.Retried),
		zap.Duration("runtime", dur),
	)
	return report, runErr
}

// Pause stops new dispatches without cancelling in-flight handlers.
func (p *Pool) Pause() {
	p.ctrl.Pause()
	p.poke()
}

// Resume restores the pre-pause concurrency target.
func (p *Pool) Resume() {
	p.ctrl.Resume()
	p.poke()
}

// Abort terminally stops the run: admission drops to zero and the run
// context is cancelled so in-flight handlers wind down.
func (p *Pool) Abort() {
	p.ctrl.Abort()
	p.mu.Lock()
	cancel := p.cancelRun
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.poke()
}

// RunStatus is a point-in-time view of the pool for operators.
type RunStatus struct {
	RunID    string            `json:"run_id"`
	Desired  int               `json:"desired"`
	Active   int               `json:"active"`
	Ready    int               `json:"ready"`
	Leased   int               `json:"leased"`
	Counters crawl.RunCounters `json:"counters"`
	Paused   bool              `json:"paused"`
	Aborted  bool              `json:"aborted"`
}

// Status reports the current pool state. Safe to call from any goroutine.
func (p *Pool) Status() RunStatus {
	p.mu.Lock()
	st := RunStatus{
		RunID:    p.runID,
		Active:   p.inflight,
		Counters: p.counters,
	}
	p.mu.Unlock()
	st.Desired = p.ctrl.Desired()
	st.Ready = p.queue.ReadyLen()
	st.Leased = p.queue.LeasedLen()
	st.Paused = p.ctrl.Paused()
	st.Aborted = p.ctrl.Aborted()
	return st
}

func (p *Pool) initRunID() (string, [16]byte, error) {
	raw := p.cfg.ResumeRunID
	if raw == "" {
		id, err := p.idgen.NewID()
		if err != nil {
			return "", [16]byte{}, err
		}
		raw = id
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", [16]byte{}, fmt.Errorf("parse run id %q: %w", raw, err)
	}
	return raw, progress.UUIDToBytes(parsed), nil
}

func (p *Pool) restore(ctx context.Context) error {
	if p.state == nil || p.cfg.ResumeRunID == "" {
		return nil
	}
	st, err := p.state.Load(ctx, p.cfg.ResumeRunID)
	if errors.Is(err, crawl.ErrNotFound) {
		p.logger.Info("no checkpoint found, starting fresh",
			zap.String("run_id", p.cfg.ResumeRunID))
		return nil
	}
	if err != nil {
		return err
	}
	p.queue.Restore(st.Items)
	p.admitted.Store(int64(len(st.Items)))
	p.mu.Lock()
	p.counters = st.Counters
	p.mu.Unlock()
	if p.source != nil {
		p.source.Seek(st.SourceCursor)
	}
	p.logger.Info("resumed from checkpoint",
		zap.String("run_id", st.RunID),
		zap.Int("items", len(st.Items)),
		zap.Int64("cursor", st.SourceCursor),
		zap.Time("saved_at", st.SavedAt),
	)
	return nil
}

// refill pulls from the source until the pending backlog covers twice the
// current concurrency target. Pulling lazily keeps huge sources out of
// memory.
func (p *Pool) refill(ctx context.Context) {
	if p.source == nil || p.sourceDrained || p.budgetExhausted() || ctx.Err() != nil {
		return
	}
	want := 2 * p.ctrl.Desired()
	if want <= 0 {
		return
	}
	for p.queue.ReadyLen() < want {
		item, err := p.source.Next(ctx)
		if errors.Is(err, crawl.ErrSourceDrained) {
			p.sourceDrained = true
			p.logger.Info("source drained")
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("source error", zap.Error(err))
			}
			return
		}
		if _, err := p.Enqueue(item); err != nil {
			p.logger.Warn("enqueue from source failed", zap.Error(err))
		}
		if p.budgetExhausted() {
			return
		}
	}
}

// dispatch leases pending items and starts handler goroutines until the
// controller's target is met.
func (p *Pool) dispatch(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	for {
		p.mu.Lock()
		inflight := p.inflight
		p.mu.Unlock()

		slots := p.ctrl.Desired() - inflight
		if slots <= 0 {
			return
		}
		if slots > p.cfg.LeaseBatchSize {
			slots = p.cfg.LeaseBatchSize
		}
		batch := p.queue.Lease(slots)
		if len(batch) == 0 {
			return
		}
		p.mu.Lock()
		p.inflight += len(batch)
		inflight = p.inflight
		p.mu.Unlock()
		metrics.SetActiveLeases(inflight)

		for _, item := range batch {
			go p.invoke(ctx, item)
		}
	}
}

// invoke runs one leased item on its own goroutine. It owns a private copy
// of the item, so a stale-lease reclaim can never race it; results from a
// reclaimed attempt fail the queue's attempt check and are dropped.
func (p *Pool) invoke(ctx context.Context, item crawl.WorkItem) {
	start := time.Now()
	err := p.process(ctx, &item)
	p.outcomes <- outcome{
		key:        item.Key,
		retryCount: item.RetryCount,
		noRetry:    crawl.IsNoRetry(err),
		dur:        time.Since(start),
		err:        err,
	}
}

// process runs the handler for one item, applying the retry backoff and the
// per-item timeout. A panicking handler is converted into a plain failure so
// one bad page cannot take down the run.
func (p *Pool) process(ctx context.Context, item *crawl.WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			p.logger.Error("handler panicked",
				zap.String("key", item.Key),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if item.RetryCount > 0 {
		timer := time.NewTimer(p.retryDelay(item.RetryCount))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	hctx := ctx
	if p.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, p.cfg.HandlerTimeout)
		defer cancel()
	}
	return p.handler.Handle(hctx, item, p)
}

// retryDelay computes the jittered exponential backoff for the given attempt
// number (1-based).
func (p *Pool) retryDelay(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	d := p.cfg.RetryBaseDelay << (attempt - 1)
	if d <= 0 || d > p.cfg.RetryMaxDelay {
		d = p.cfg.RetryMaxDelay
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}

func (p *Pool) handleOutcome(out outcome) {
	p.mu.Lock()
	p.inflight--
	inflight := p.inflight
	p.mu.Unlock()
	metrics.SetActiveLeases(inflight)
	metrics.ObserveHandlerDuration(out.dur)
	p.recordOutcome(out.err == nil)

	if out.err == nil {
		if err := p.queue.Complete(out.key, out.retryCount); err != nil {
			// The lease was reclaimed while the handler was finishing; the
			// reclaim already counted this attempt and the item will run
			// again. At-least-once, not exactly-once.
			p.logger.Debug("late completion ignored",
				zap.String("key", out.key), zap.Error(err))
			return
		}
		p.bumpCounters(func(c *crawl.RunCounters) { c.Succeeded++ })
		p.dirty++
		metrics.ObserveItem("done")
		p.emit(progress.Event{
			Stage:      progress.StageItemDone,
			Key:        out.key,
			RetryCount: out.retryCount,
			Dur:        out.dur,
		})
		return
	}

	failed, err := p.queue.Retry(out.key, out.retryCount, out.err.Error(), out.noRetry)
	if err != nil {
		p.logger.Debug("late failure ignored",
			zap.String("key", out.key), zap.Error(err))
		return
	}
	p.dirty++
	if failed {
		p.bumpCounters(func(c *crawl.RunCounters) { c.Failed++ })
		metrics.ObserveItem("failed")
		p.emit(progress.Event{
			Stage:      progress.StageItemFailed,
			Key:        out.key,
			RetryCount: out.retryCount + 1,
			Dur:        out.dur,
			Note:       out.err.Error(),
		})
		p.logger.Warn("item failed",
			zap.String("key", out.key),
			zap.Int("attempts", out.retryCount+1),
			zap.Error(out.err),
		)
		return
	}
	p.bumpCounters(func(c *crawl.RunCounters) { c.Retried++ })
	metrics.ObserveItem("retried")
	p.emit(progress.Event{
		Stage:      progress.StageItemRetry,
		Key:        out.key,
		RetryCount: out.retryCount + 1,
		Dur:        out.dur,
		Note:       out.err.Error(),
	})
}

func (p *Pool) drainOutcomes() {
	for {
		select {
		case out := <-p.outcomes:
			p.handleOutcome(out)
		default:
			return
		}
	}
}

// drainInflight waits out the remaining handlers after the run context was
// cancelled, so their outcomes still land in the counters. Handlers that
// ignore cancellation are abandoned after a grace period.
func (p *Pool) drainInflight() {
	grace := time.NewTimer(p.cfg.HandlerTimeout + 5*time.Second)
	defer grace.Stop()
	for {
		p.mu.Lock()
		inflight := p.inflight
		p.mu.Unlock()
		if inflight == 0 {
			return
		}
		select {
		case out := <-p.outcomes:
			p.handleOutcome(out)
		case <-grace.C:
			p.logger.Warn("abandoning in-flight handlers", zap.Int("inflight", inflight))
			return
		}
	}
}

func (p *Pool) sampleTick(ctx context.Context) {
	snap, err := p.sampler.Sample(ctx)
	if err != nil {
		p.logger.Warn("resource sample failed", zap.Error(err))
		return
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = p.clock.Now()
	}
	snap.StaleLeases = p.queue.StaleCount(p.cfg.LeaseTimeout)
	snap.ErrorRatio = p.errorRatio()

	p.mu.Lock()
	inflight := p.inflight
	p.mu.Unlock()
	decision := p.ctrl.Observe(snap, inflight)

	metrics.ObserveSnapshot(snap.CPURatio, snap.MemRatio)
	metrics.SetDesiredConcurrency(decision.Desired)
	metrics.SetQueueDepth(p.queue.ReadyLen())
	switch {
	case decision.Delta > 0:
		metrics.ObserveScaleEvent("up")
		p.emit(progress.Event{Stage: progress.StageScaleUp, Desired: decision.Desired, Active: inflight})
	case decision.Delta < 0:
		metrics.ObserveScaleEvent("down")
		p.emit(progress.Event{Stage: progress.StageScaleDown, Desired: decision.Desired, Active: inflight})
	}
}

func (p *Pool) reclaimTick() {
	reclaimed, exhausted := p.queue.ReclaimStale(p.cfg.LeaseTimeout)
	for _, item := range reclaimed {
		p.dirty++
		p.bumpCounters(func(c *crawl.RunCounters) { c.Retried++ })
		metrics.ObserveLeaseReclaimed()
		metrics.ObserveItem("retried")
		p.emit(progress.Event{
			Stage:      progress.StageLeaseReclaim,
			Key:        item.Key,
			RetryCount: item.RetryCount,
		})
		p.logger.Warn("lease reclaimed",
			zap.String("key", item.Key),
			zap.Int("attempts", item.RetryCount),
		)
	}
	for _, item := range exhausted {
		p.dirty++
		p.bumpCounters(func(c *crawl.RunCounters) { c.Failed++ })
		metrics.ObserveLeaseReclaimed()
		metrics.ObserveItem("failed")
		p.emit(progress.Event{
			Stage:      progress.StageItemFailed,
			Key:        item.Key,
			RetryCount: item.RetryCount,
			Note:       "lease expired",
		})
		p.logger.Warn("item failed after expired lease",
			zap.String("key", item.Key),
			zap.Int("attempts", item.RetryCount),
		)
	}
}

func (p *Pool) checkpoint() {
	if p.state == nil {
		return
	}
	p.dirty = 0
	st := crawl.RunState{
		RunID:    p.currentRunID(),
		Items:    p.queue.Items(),
		Counters: p.countersCopy(),
		SavedAt:  p.clock.Now(),
	}
	if p.source != nil {
		st.SourceCursor = p.source.Cursor()
	}
	// Fresh context: checkpoints must still work while the run context is
	// being torn down.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.state.Save(ctx, st); err != nil {
		p.logger.Error("checkpoint save failed", zap.Error(err))
	}
}

func (p *Pool) heartbeat() {
	p.mu.Lock()
	inflight := p.inflight
	p.mu.Unlock()
	metrics.SetQueueDepth(p.queue.ReadyLen())
	p.emit(progress.Event{
		Stage:   progress.StageRunHB,
		Desired: p.ctrl.Desired(),
		Active:  inflight,
	})
}

// finished reports whether the run has reached its natural end: nothing in
// flight, nothing pending, no source left to pull from, and the run is not
// paused. An aborted run ends as soon as the in-flight work has drained; a
// paused run waits for Resume even when everything else has drained, so
// items can still be enqueued into it.
func (p *Pool) finished() bool {
	p.mu.Lock()
	inflight := p.inflight
	p.mu.Unlock()
	if inflight != 0 {
		return false
	}
	if p.ctrl.Aborted() {
		return true
	}
	if p.ctrl.Paused() {
		return false
	}
	feedDone := p.source == nil || p.sourceDrained || p.budgetExhausted()
	return feedDone && p.queue.IsEmpty()
}

func (p *Pool) budgetExhausted() bool {
	return p.cfg.MaxItems > 0 && p.admitted.Load() >= int64(p.cfg.MaxItems)
}

// recordOutcome feeds the sliding error window. Coordinator-only.
func (p *Pool) recordOutcome(ok bool) {
	if len(p.window) < p.cfg.OutcomeWindow {
		p.window = append(p.window, ok)
		return
	}
	p.window[p.windowPos] = ok
	p.windowPos = (p.windowPos + 1) % len(p.window)
}

func (p *Pool) errorRatio() float64 {
	if len(p.window) == 0 {
		return 0
	}
	failures := 0
	for _, ok := range p.window {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(p.window))
}

func (p *Pool) bumpCounters(fn func(*crawl.RunCounters)) {
	p.mu.Lock()
	fn(&p.counters)
	p.mu.Unlock()
}

func (p *Pool) countersCopy() crawl.RunCounters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters
}

func (p *Pool) currentRunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runID != "" {
		return p.runID
	}
	return p.cfg.ResumeRunID
}

func (p *Pool) emit(evt progress.Event) {
	if p.hub == nil {
		return
	}
	p.mu.Lock()
	evt.RunID = p.runUUID
	p.mu.Unlock()
	evt.TS = p.clock.Now()
	p.hub.Emit(evt)
}

func (p *Pool) poke() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}
