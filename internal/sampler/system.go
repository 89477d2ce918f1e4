// Package sampler produces ResourceSnapshots of system load. The System
// sampler reads /proc the way node_exporter does; the Static sampler replays
// scripted snapshots for deterministic tests.
package sampler

import (
	"context"
	"runtime"
	"sync"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

// System measures CPU and memory utilization ratios. CPU is derived from the
// busy/total delta between consecutive /proc/stat readings, so the first
// sample reports zero. On hosts without /proc it degrades to a
// runtime.MemStats heap ratio with no CPU signal.
type System struct {
	mu     sync.Mutex
	clock  crawl.Clock
	logger *zap.Logger

	fs       procfs.FS
	procOK   bool
	warned   bool
	prevBusy float64
	prevTot  float64
}

// NewSystem constructs a System sampler.
func NewSystem(clock crawl.Clock, logger *zap.Logger) *System {
	if clock == nil {
		clock = crawl.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &System{clock: clock, logger: logger}
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		logger.Warn("proc filesystem unavailable, using runtime fallback", zap.Error(err))
	} else {
		s.fs = fs
		s.procOK = true
	}
	return s
}

// Sample implements crawl.Sampler. Stale-lease and error-ratio fields are
// left zero; the scheduler fills them from queue state before the snapshot
// reaches the controller.
func (s *System) Sample(_ context.Context) (crawl.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := crawl.Snapshot{TakenAt: s.clock.Now()}
	if !s.procOK {
		snap.MemRatio = heapRatio()
		return snap, nil
	}

	stat, err := s.fs.Stat()
	if err != nil {
		s.warnOnce("read /proc/stat failed", err)
		snap.MemRatio = heapRatio()
		return snap, nil
	}
	cpu := stat.CPUTotal
	busy := cpu.User + cpu.Nice + cpu.System + cpu.IRQ + cpu.SoftIRQ + cpu.Steal
	total := busy + cpu.Idle + cpu.Iowait
	if s.prevTot > 0 && total > s.prevTot {
		snap.CPURatio = (busy - s.prevBusy) / (total - s.prevTot)
	}
	s.prevBusy = busy
	s.prevTot = total

	mem, err := s.fs.Meminfo()
	if err != nil {
		s.warnOnce("read /proc/meminfo failed", err)
		snap.MemRatio = heapRatio()
		return snap, nil
	}
	if mem.MemTotal != nil && mem.MemAvailable != nil && *mem.MemTotal > 0 {
		snap.MemRatio = 1 - float64(*mem.MemAvailable)/float64(*mem.MemTotal)
	}
	if snap.CPURatio < 0 {
		snap.CPURatio = 0
	}
	return snap, nil
}

func (s *System) warnOnce(msg string, err error) {
	if s.warned {
		return
	}
	s.warned = true
	s.logger.Warn(msg, zap.Error(err))
}

func heapRatio() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys == 0 {
		return 0
	}
	return float64(ms.HeapInuse) / float64(ms.HeapSys)
}
