package bufferpool

import (
	"container/list"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granitedb/granitebp/storage/disk"
)

func TestPrefetchWindowGrowsOnHits(t *testing.T) {
	w := NewPrefetchWindow(4, 2, 16)

	sizes := []int{w.Size()}
	for round := 0; round < 10; round++ {
		for i := 0; i < 10; i++ {
			w.Record(true)
		}
		sizes = append(sizes, w.Size())
	}

	// Monotonic growth up to the cap, then stable.
	for i := 1; i < len(sizes); i++ {
		assert.GreaterOrEqual(t, sizes[i], sizes[i-1])
		assert.LessOrEqual(t, sizes[i], 16)
	}
	assert.Equal(t, 16, w.Size())

	for i := 0; i < 10; i++ {
		w.Record(true)
	}
	assert.Equal(t, 16, w.Size(), "window never exceeds its max")
}

func TestPrefetchWindowShrinksOnMisses(t *testing.T) {
	w := NewPrefetchWindow(8, 2, 16)

	for round := 0; round < 10; round++ {
		for i := 0; i < 10; i++ {
			w.Record(false)
		}
	}
	assert.Equal(t, 2, w.Size(), "sustained misses shrink to the floor")
}

func TestPrefetchWindowStableInMiddleBand(t *testing.T) {
	w := NewPrefetchWindow(8, 2, 16)

	// 60-70% useful: neither grow nor shrink.
	for i := 0; i < 10; i++ {
		w.Record(i < 6)
	}
	assert.Equal(t, 8, w.Size())
}

// newBareEngine builds an engine with no workers, so queue contents can be
// inspected deterministically.
func newBareEngine(t *testing.T, pool *BufferPool, maxQueue int) *PrefetchEngine {
	t.Helper()
	return &PrefetchEngine{
		pool:      pool,
		window:    NewPrefetchWindow(4, 2, 16),
		detectors: make(map[string]*PatternDetector),
		queue:     list.New(),
		queued:    make(map[uint64]struct{}),
		maxQueue:  maxQueue,
		stopChan:  make(chan struct{}),
	}
}

func newTestPool(t *testing.T, cfg Config) (*BufferPool, *disk.MemManager) {
	t.Helper()
	mem := disk.NewMemManager(cfg.PageSize)
	if mem == nil {
		t.Fatal("nil mem manager")
	}
	pool, err := NewBufferPool(cfg, mem)
	require.NoError(t, err)
	return pool, mem
}

func TestPrefetchEnqueueDedupesAndOrders(t *testing.T) {
	pool, _ := newTestPool(t, Config{PoolSize: 8, PageSize: 512})
	pf := newBareEngine(t, pool, 16)

	pf.enqueue(10, 1)
	pf.enqueue(11, 3)
	pf.enqueue(10, 5) // duplicate page, dropped
	pf.enqueue(12, 2)

	require.Equal(t, 3, pf.QueueLen())
	assert.Equal(t, uint64(11), pf.nextRequest().pageNo, "highest priority first")
	assert.Equal(t, uint64(12), pf.nextRequest().pageNo)
	assert.Equal(t, uint64(10), pf.nextRequest().pageNo)
}

func TestPrefetchEnqueueSkipsResident(t *testing.T) {
	pool, _ := newTestPool(t, Config{PoolSize: 8, PageSize: 512})
	pf := newBareEngine(t, pool, 16)

	guard, err := pool.FetchPage(5)
	require.NoError(t, err)
	defer guard.Release(false)

	pf.enqueue(5, 1)
	assert.Zero(t, pf.QueueLen(), "resident pages are never queued")
}

func TestPrefetchQueueFullDropsLowestPriority(t *testing.T) {
	pool, _ := newTestPool(t, Config{PoolSize: 8, PageSize: 512})
	pf := newBareEngine(t, pool, 2)

	pf.enqueue(1, 1)
	pf.enqueue(2, 5)
	pf.enqueue(3, 0) // lower than everything queued: dropped
	require.Equal(t, 2, pf.QueueLen())

	pf.enqueue(4, 9) // outranks page 1
	require.Equal(t, 2, pf.QueueLen())
	assert.Equal(t, uint64(4), pf.nextRequest().pageNo)
	assert.Equal(t, uint64(2), pf.nextRequest().pageNo)
}

func TestPrefetchEndToEndSequentialScan(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping prefetch integration test in short mode")
	}

	pool, mem := newTestPool(t, Config{
		PoolSize:       64,
		PageSize:       512,
		EnablePrefetch: true,
	})
	defer pool.Close()

	// Seed some pages on disk.
	for pageNo := uint64(0); pageNo < 64; pageNo++ {
		page := make([]byte, 512)
		page[0] = byte(pageNo)
		require.NoError(t, mem.WritePage(pageNo, page))
	}

	for pageNo := uint64(0); pageNo < 12; pageNo++ {
		guard, err := pool.FetchPageStream("scan", pageNo)
		require.NoError(t, err)
		guard.Release(false)
		time.Sleep(5 * time.Millisecond) // give the workers room
	}

	// The scan was detected, so pages ahead of the cursor should already be
	// resident and unpinned.
	assert.Eventually(t, func() bool {
		frameID, ok := pool.pageTable.Lookup(13)
		if !ok {
			return false
		}
		return !pool.arena.Frame(frameID).IsPinned()
	}, 2*time.Second, 10*time.Millisecond, "page ahead of a detected scan should be prefetched unpinned")

	assert.Greater(t, pool.Stats().Snapshot().PrefetchIssued, int64(0))
}

func TestPrefetchThrottledAtHighOccupancy(t *testing.T) {
	pool, _ := newTestPool(t, Config{
		PoolSize:         8,
		PageSize:         512,
		EnablePrefetch:   true,
		PrefetchThrottle: 0.5,
	})
	defer pool.Close()

	// Fill past the throttle threshold.
	for pageNo := uint64(0); pageNo < 6; pageNo++ {
		guard, err := pool.FetchPage(pageNo)
		require.NoError(t, err)
		guard.Release(false)
	}

	// A recognizable scan that would normally trigger prefetch.
	for pageNo := uint64(100); pageNo < 106; pageNo++ {
		guard, err := pool.FetchPageStream("hot-scan", pageNo)
		require.NoError(t, err)
		guard.Release(false)
	}

	stats := pool.Stats().Snapshot()
	assert.Greater(t, stats.PrefetchThrottled, int64(0),
		"prefetch must back off when the pool is nearly full")
}
