package gateway

import (
	"math"
	"sort"
	"sync"
	"time"

	"taengine/internal/ringbuf"
)

// LatencyTracker keeps the most recent evaluation latencies and reports
// percentiles over them. Safe for concurrent use.
type LatencyTracker struct {
	mu      sync.Mutex
	samples *ringbuf.Ring[float64] // ms
	limit   int
	total   int
}

// NewLatencyTracker holds the last limit samples.
func NewLatencyTracker(limit int) *LatencyTracker {
	if limit <= 0 {
		limit = 10000
	}
	return &LatencyTracker{samples: ringbuf.New[float64](limit), limit: limit}
}

// Observe records one evaluation latency.
func (lt *LatencyTracker) Observe(d time.Duration) {
	lt.Record(float64(d.Microseconds()) / 1000.0)
}

// Record adds a sample in milliseconds, evicting the oldest once full.
func (lt *LatencyTracker) Record(ms float64) {
	lt.mu.Lock()
	if lt.samples.Len() >= lt.limit {
		lt.samples.PopFront()
	}
	lt.samples.PushBack(ms)
	lt.total++
	lt.mu.Unlock()
}

// Percentiles returns p50, p95 and p99 in milliseconds, or zeros without
// samples.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	lt.mu.Lock()
	sorted := make([]float64, lt.samples.Len())
	for i := range sorted {
		sorted[i] = lt.samples.At(i)
	}
	lt.mu.Unlock()
	if len(sorted) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(sorted)
	return percentile(sorted, 0.50), percentile(sorted, 0.95), percentile(sorted, 0.99)
}

// Count returns the number of retained samples.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.samples.Len()
}

// Total returns the number of samples ever recorded.
func (lt *LatencyTracker) Total() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.total
}

// percentile interpolates linearly between closest ranks of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	if lower+1 >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}
