package sampler

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

// Static replays a scripted sequence of snapshots, repeating the last one
// once the script runs out. It makes the controller's overload scenarios
// reproducible in tests.
type Static struct {
	mu    sync.Mutex
	snaps []crawl.Snapshot
	idx   int
}

// NewStatic constructs a Static sampler over the given snapshots.
func NewStatic(snaps ...crawl.Snapshot) *Static {
	return &Static{snaps: snaps}
}

// Sample implements crawl.Sampler.
func (s *Static) Sample(_ context.Context) (crawl.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps) == 0 {
		return crawl.Snapshot{}, nil
	}
	snap := s.snaps[s.idx]
	if s.idx < len(s.snaps)-1 {
		s.idx++
	}
	return snap, nil
}

// Push appends a snapshot to the script.
func (s *Static) Push(snap crawl.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}
