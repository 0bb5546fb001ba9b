package bufferpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlusherWritesWhenDirtyRatioExceeded(t *testing.T) {
	pool, mem := newTestPool(t, Config{
		PoolSize:       8,
		PageSize:       512,
		EnableFlusher:  true,
		FlushInterval:  10 * time.Millisecond,
		DirtyThreshold: 0.25,
	})
	defer pool.Close()

	for pageNo := uint64(0); pageNo < 4; pageNo++ {
		guard, err := pool.FetchPage(pageNo)
		require.NoError(t, err)
		guard.Lock()
		guard.Data()[0] = byte(pageNo + 1)
		guard.Unlock()
		guard.Release(true)
	}

	assert.Eventually(t, func() bool {
		return pool.DirtyRatio() < 0.25
	}, 2*time.Second, 20*time.Millisecond, "flusher should bring the dirty ratio back down")

	for pageNo := uint64(0); pageNo < 4; pageNo++ {
		data := mem.PageData(pageNo)
		require.NotNil(t, data, "page %d never reached disk", pageNo)
		assert.Equal(t, byte(pageNo+1), data[0])
	}
}

func TestFlusherIdlesBelowThreshold(t *testing.T) {
	pool, mem := newTestPool(t, Config{
		PoolSize:       16,
		PageSize:       512,
		EnableFlusher:  true,
		FlushInterval:  10 * time.Millisecond,
		DirtyThreshold: 0.5,
	})
	defer pool.Close()

	// One dirty page out of sixteen stays well below the threshold.
	guard, err := pool.FetchPage(0)
	require.NoError(t, err)
	guard.Lock()
	guard.Data()[0] = 1
	guard.Unlock()
	guard.Release(true)

	time.Sleep(100 * time.Millisecond)
	assert.Nil(t, mem.PageData(0), "the flusher has no reason to act yet")
}

func TestFlusherSkipsPinnedFrames(t *testing.T) {
	pool, _ := newTestPool(t, Config{PoolSize: 4, PageSize: 512})
	defer pool.Close()

	guard, err := pool.FetchPage(0)
	require.NoError(t, err)
	guard.Lock()
	guard.Data()[0] = 1
	guard.Unlock()
	// Still pinned and dirty.
	guard.frame.MarkDirty()

	flushed, err := pool.flushDirtyBatch(0, false)
	require.NoError(t, err)
	assert.Zero(t, flushed, "background flushing leaves pinned frames alone")
	guard.Release(true)
}

func TestFlushRetriesRedirtiedFrame(t *testing.T) {
	pool, mem := newTestPool(t, Config{PoolSize: 4, PageSize: 512})
	defer pool.Close()

	guard, err := pool.FetchPage(0)
	require.NoError(t, err)
	guard.Lock()
	guard.Data()[0] = 1
	guard.Unlock()
	guard.Release(true)

	// Snapshot the frame, then dirty it again before the write lands. The
	// second modification must stay scheduled.
	candidates := pool.collectDirty(0, true)
	require.Len(t, candidates, 1)

	frame := candidates[0].frame
	frame.Latch().Lock()
	frame.Data()[0] = 2
	frame.Latch().Unlock()
	frame.MarkDirty()

	_, err = pool.writeBatch(candidates)
	require.NoError(t, err)

	frameID, _ := pool.pageTable.Lookup(0)
	assert.True(t, pool.arena.Frame(frameID).IsDirty(),
		"a write that raced a modification must not clear the dirty flag")
	assert.Equal(t, byte(1), mem.PageData(0)[0], "the snapshot is what reached disk")
}
