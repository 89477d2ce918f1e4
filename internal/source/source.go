// Package source provides work item sources for seeding a run.
package source

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

// Slice serves a fixed list of items in order. The cursor is the index of
// the next item, which makes the source trivially resumable.
type Slice struct {
	mu     sync.Mutex
	items  []crawl.WorkItem
	cursor int64
}

// FromItems builds a Slice over the given items.
func FromItems(items ...crawl.WorkItem) *Slice {
	return &Slice{items: items}
}

// FromURLs builds a Slice with one item per URL.
func FromURLs(urls ...string) *Slice {
	items := make([]crawl.WorkItem, len(urls))
	for i, u := range urls {
		items[i] = crawl.WorkItem{Payload: crawl.Payload{URL: u}}
	}
	return &Slice{items: items}
}

// Next implements crawl.Source.
func (s *Slice) Next(_ context.Context) (*crawl.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor >= int64(len(s.items)) {
		return nil, crawl.ErrSourceDrained
	}
	item := s.items[s.cursor]
	s.cursor++
	return &item, nil
}

// Cursor implements crawl.Source.
func (s *Slice) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Seek implements crawl.Source.
func (s *Slice) Seek(cursor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	if cursor > int64(len(s.items)) {
		cursor = int64(len(s.items))
	}
	s.cursor = cursor
}
