// Package telemetry records index lifecycle events locally: commits and
// writer recycles go to a SQLite journal, query latencies are aggregated in
// memory and flushed as daily histograms. Nothing is reported externally.
package telemetry

import (
	"sync"
	"time"
)

// LatencyBucket is a query latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer; capacity <= 0 means 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the contents oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
		return result
	}
	n := copy(result, b.items[b.head:])
	copy(result[n:], b.items[:b.head])
	return result
}

// Size returns the number of items held.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// queryStats aggregates query events between flushes.
type queryStats struct {
	mu         sync.Mutex
	total      int64
	cached     int64
	failed     int64
	zero       int64
	latency    map[string]map[LatencyBucket]int64 // day -> bucket -> count
	zeroResult *CircularBuffer[string]
}

func newQueryStats(recent int) *queryStats {
	return &queryStats{
		latency:    make(map[string]map[LatencyBucket]int64),
		zeroResult: NewCircularBuffer[string](recent),
	}
}

func (s *queryStats) record(at time.Time, query string, results int, cached bool, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	switch {
	case err != nil:
		s.failed++
	case cached:
		s.cached++
	}
	if err == nil && results == 0 {
		s.zero++
		s.zeroResult.Add(query)
	}

	day := at.UTC().Format(time.DateOnly)
	buckets, ok := s.latency[day]
	if !ok {
		buckets = make(map[LatencyBucket]int64)
		s.latency[day] = buckets
	}
	buckets[LatencyToBucket(d)]++
}

// drainLatency hands over the pending histogram and starts a new one.
func (s *queryStats) drainLatency() map[string]map[LatencyBucket]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.latency
	s.latency = make(map[string]map[LatencyBucket]int64)
	return out
}

// restoreLatency merges counts back after a failed flush.
func (s *queryStats) restoreLatency(pending map[string]map[LatencyBucket]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for day, buckets := range pending {
		dst, ok := s.latency[day]
		if !ok {
			dst = make(map[LatencyBucket]int64)
			s.latency[day] = dst
		}
		for b, n := range buckets {
			dst[b] += n
		}
	}
}
