// Package crawl defines core types shared across subsystems.
package crawl

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ItemState represents the lifecycle state of a work item.
type ItemState string

// Item state values. Done and Failed are terminal.
const (
	ItemPending ItemState = "pending"
	ItemLeased  ItemState = "leased"
	ItemDone    ItemState = "done"
	ItemFailed  ItemState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s ItemState) Terminal() bool {
	return s == ItemDone || s == ItemFailed
}

// Payload carries the data a handler needs to process one item. The pool
// never interprets it beyond deriving a dedup key from the URL when the
// caller did not set one.
type Payload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers http.Header       `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
	Depth   int               `json:"depth,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// WorkItem is one schedulable unit of crawling work.
type WorkItem struct {
	// ID is a process-local sequence number assigned on enqueue.
	ID uint64 `json:"id"`
	// Key is the dedup identity; two items with equal keys are the same
	// logical task. Empty keys are computed from the payload URL.
	Key     string  `json:"key"`
	Payload Payload `json:"payload"`
	// Priority orders dispatch; higher values lease first, FIFO within a
	// priority band.
	Priority int `json:"priority,omitempty"`
	// RetryCount increments on every failed attempt, including expired
	// leases.
	RetryCount int `json:"retry_count"`
	// MaxRetries overrides the pool-wide retry ceiling when > 0.
	MaxRetries int `json:"max_retries,omitempty"`
	// NoRetry marks the item terminal after its first failure.
	NoRetry      bool       `json:"no_retry,omitempty"`
	ErrorHistory []string   `json:"error_history,omitempty"`
	State        ItemState  `json:"state"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	HandledAt    *time.Time `json:"handled_at,omitempty"`
}

// RecordError appends a failure description to the item's history.
func (w *WorkItem) RecordError(desc string) {
	w.ErrorHistory = append(w.ErrorHistory, desc)
}

// LastError returns the most recent failure description, if any.
func (w *WorkItem) LastError() string {
	if len(w.ErrorHistory) == 0 {
		return ""
	}
	return w.ErrorHistory[len(w.ErrorHistory)-1]
}

// KeyForURL derives a dedup key from a raw URL: scheme and host are
// lowercased, the fragment is dropped, and a lone trailing slash on the path
// is trimmed. Unparseable input is returned as-is so it still dedups on
// exact match.
func KeyForURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}

// Snapshot is one sampled measurement of system load used to drive scaling
// decisions. CPURatio and MemRatio are in [0, 1].
type Snapshot struct {
	TakenAt     time.Time `json:"taken_at"`
	CPURatio    float64   `json:"cpu_ratio"`
	MemRatio    float64   `json:"mem_ratio"`
	StaleLeases int       `json:"stale_leases"`
	ErrorRatio  float64   `json:"error_ratio"`
}

// RunCounters aggregates per-run outcome totals.
type RunCounters struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
}

// RunState is the checkpointable state of a run: every known item plus the
// source cursor, keyed by run ID in the state store.
type RunState struct {
	RunID        string      `json:"run_id"`
	SourceCursor int64       `json:"source_cursor"`
	Items        []WorkItem  `json:"items"`
	Counters     RunCounters `json:"counters"`
	SavedAt      time.Time   `json:"saved_at"`
}

// RunReport summarizes a finished run.
type RunReport struct {
	RunID    string      `json:"run_id"`
	Counters RunCounters `json:"counters"`
	Aborted  bool        `json:"aborted"`
	Started  time.Time   `json:"started_at"`
	Finished time.Time   `json:"finished_at"`
}
