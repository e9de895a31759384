// Package stats accumulates router request statistics for the lifetime of a
// router.
package stats

import (
	"sync"

	"github.com/amerfu/codepilot/internal/services/llm/providers"
)

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	TotalTokens        int64   `json:"total_tokens"`
	TotalCost          float64 `json:"total_cost"`
	AverageLatencyMs   float64 `json:"average_latency_ms"`
}

// SuccessRate returns successful/total, or 0 before the first request
func (s Snapshot) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessfulRequests) / float64(s.TotalRequests)
}

// Tracker is safe for concurrent use
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordSuccess counts a completed request. The latency mean is taken over
// successful requests only.
func (t *Tracker) RecordSuccess(resp *providers.Response) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.TotalRequests++
	t.snap.SuccessfulRequests++
	if resp == nil {
		return
	}

	t.snap.TotalTokens += int64(resp.Usage.TotalTokens)
	t.snap.TotalCost += resp.Usage.Cost

	n := float64(t.snap.SuccessfulRequests)
	t.snap.AverageLatencyMs += (resp.LatencyMs() - t.snap.AverageLatencyMs) / n
}

// RecordFailure counts a request that surfaced an error to the caller
func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.TotalRequests++
	t.snap.FailedRequests++
}

// Reset zeroes every counter
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap = Snapshot{}
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snap
}
