package bufferpool

import (
	"sync/atomic"
	"time"
)

// PoolStats tracks buffer pool activity. All counters are updated with
// atomics so hot paths never take a lock to record a hit.
type PoolStats struct {
	// Hit rate
	PageRequests int64
	PageHits     int64
	PageMisses   int64

	// I/O
	PageReads     int64
	PageWrites    int64
	PageEvictions int64

	// Eviction pressure
	FailedEvictions int64

	// Prefetch
	PrefetchRequests  int64
	PrefetchIssued    int64
	PrefetchThrottled int64
	PrefetchHits      int64

	// Flush
	FlushRequests  int64
	FlushSuccesses int64
	FlushFailures  int64
	FlushBatches   int64

	// Latch behavior
	OptimisticReads  int64
	LatchEscalations int64

	LastResetTime time.Time
}

// NewPoolStats creates a zeroed stats object.
func NewPoolStats() *PoolStats {
	return &PoolStats{
		LastResetTime: time.Now(),
	}
}

// RecordRequest records a page lookup and whether it hit.
func (s *PoolStats) RecordRequest(hit bool) {
	atomic.AddInt64(&s.PageRequests, 1)
	if hit {
		atomic.AddInt64(&s.PageHits, 1)
	} else {
		atomic.AddInt64(&s.PageMisses, 1)
	}
}

// RecordRead records one page read from disk.
func (s *PoolStats) RecordRead() {
	atomic.AddInt64(&s.PageReads, 1)
}

// RecordWrite records one page written to disk.
func (s *PoolStats) RecordWrite() {
	atomic.AddInt64(&s.PageWrites, 1)
}

// RecordEviction records a completed or failed victim search.
func (s *PoolStats) RecordEviction(success bool) {
	if success {
		atomic.AddInt64(&s.PageEvictions, 1)
	} else {
		atomic.AddInt64(&s.FailedEvictions, 1)
	}
}

// RecordPrefetch records a prefetch decision.
func (s *PoolStats) RecordPrefetch(issued, throttled bool) {
	atomic.AddInt64(&s.PrefetchRequests, 1)
	if issued {
		atomic.AddInt64(&s.PrefetchIssued, 1)
	}
	if throttled {
		atomic.AddInt64(&s.PrefetchThrottled, 1)
	}
}

// RecordPrefetchHit records a request served by a previously prefetched frame.
func (s *PoolStats) RecordPrefetchHit() {
	atomic.AddInt64(&s.PrefetchHits, 1)
}

// RecordFlush records a flush attempt.
func (s *PoolStats) RecordFlush(success bool) {
	atomic.AddInt64(&s.FlushRequests, 1)
	if success {
		atomic.AddInt64(&s.FlushSuccesses, 1)
	} else {
		atomic.AddInt64(&s.FlushFailures, 1)
	}
}

// RecordFlushBatch records one coalesced batch written by the flusher.
func (s *PoolStats) RecordFlushBatch() {
	atomic.AddInt64(&s.FlushBatches, 1)
}

// RecordOptimisticRead records a latch read that validated cleanly.
func (s *PoolStats) RecordOptimisticRead() {
	atomic.AddInt64(&s.OptimisticReads, 1)
}

// RecordLatchEscalation records a fall back to the pessimistic latch path.
func (s *PoolStats) RecordLatchEscalation() {
	atomic.AddInt64(&s.LatchEscalations, 1)
}

// HitRatio returns hits / requests, or 0 before any request.
func (s *PoolStats) HitRatio() float64 {
	requests := atomic.LoadInt64(&s.PageRequests)
	if requests == 0 {
		return 0
	}
	hits := atomic.LoadInt64(&s.PageHits)
	return float64(hits) / float64(requests)
}

// Snapshot returns a plain copy of the counters.
func (s *PoolStats) Snapshot() PoolStats {
	return PoolStats{
		PageRequests:      atomic.LoadInt64(&s.PageRequests),
		PageHits:          atomic.LoadInt64(&s.PageHits),
		PageMisses:        atomic.LoadInt64(&s.PageMisses),
		PageReads:         atomic.LoadInt64(&s.PageReads),
		PageWrites:        atomic.LoadInt64(&s.PageWrites),
		PageEvictions:     atomic.LoadInt64(&s.PageEvictions),
		FailedEvictions:   atomic.LoadInt64(&s.FailedEvictions),
		PrefetchRequests:  atomic.LoadInt64(&s.PrefetchRequests),
		PrefetchIssued:    atomic.LoadInt64(&s.PrefetchIssued),
		PrefetchThrottled: atomic.LoadInt64(&s.PrefetchThrottled),
		PrefetchHits:      atomic.LoadInt64(&s.PrefetchHits),
		FlushRequests:     atomic.LoadInt64(&s.FlushRequests),
		FlushSuccesses:    atomic.LoadInt64(&s.FlushSuccesses),
		FlushFailures:     atomic.LoadInt64(&s.FlushFailures),
		FlushBatches:      atomic.LoadInt64(&s.FlushBatches),
		OptimisticReads:   atomic.LoadInt64(&s.OptimisticReads),
		LatchEscalations:  atomic.LoadInt64(&s.LatchEscalations),
		LastResetTime:     s.LastResetTime,
	}
}

// Reset zeroes all counters.
func (s *PoolStats) Reset() {
	atomic.StoreInt64(&s.PageRequests, 0)
	atomic.StoreInt64(&s.PageHits, 0)
	atomic.StoreInt64(&s.PageMisses, 0)
	atomic.StoreInt64(&s.PageReads, 0)
	atomic.StoreInt64(&s.PageWrites, 0)
	atomic.StoreInt64(&s.PageEvictions, 0)
	atomic.StoreInt64(&s.FailedEvictions, 0)
	atomic.StoreInt64(&s.PrefetchRequests, 0)
	atomic.StoreInt64(&s.PrefetchIssued, 0)
	atomic.StoreInt64(&s.PrefetchThrottled, 0)
	atomic.StoreInt64(&s.PrefetchHits, 0)
	atomic.StoreInt64(&s.FlushRequests, 0)
	atomic.StoreInt64(&s.FlushSuccesses, 0)
	atomic.StoreInt64(&s.FlushFailures, 0)
	atomic.StoreInt64(&s.FlushBatches, 0)
	atomic.StoreInt64(&s.OptimisticReads, 0)
	atomic.StoreInt64(&s.LatchEscalations, 0)
	s.LastResetTime = time.Now()
}
