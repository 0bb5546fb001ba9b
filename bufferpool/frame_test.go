package bufferpool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaLayout(t *testing.T) {
	arena := NewArena(8, 512, false)

	assert.Equal(t, 8, arena.Len())
	assert.Equal(t, 512, arena.PageSize())

	for i := 0; i < 8; i++ {
		f := arena.Frame(uint32(i))
		assert.Equal(t, uint32(i), f.ID())
		assert.Equal(t, InvalidPageNo, f.PageNo())
		assert.Len(t, f.Data(), 512)
	}

	// Frames carve disjoint windows of the slab.
	arena.Frame(0).Data()[511] = 0xAA
	arena.Frame(1).Data()[0] = 0xBB
	assert.Equal(t, byte(0xAA), arena.Frame(0).Data()[511])
	assert.Equal(t, byte(0xBB), arena.Frame(1).Data()[0])
}

func TestFramePinUnpin(t *testing.T) {
	arena := NewArena(1, 512, false)
	f := arena.Frame(0)

	assert.False(t, f.IsPinned())
	assert.Equal(t, int32(1), f.Pin())
	assert.Equal(t, int32(2), f.Pin())
	assert.Equal(t, int32(1), f.Unpin())
	assert.Equal(t, int32(0), f.Unpin())
	assert.False(t, f.IsPinned())
}

func TestFramePinUnderflowPanics(t *testing.T) {
	arena := NewArena(1, 512, false)
	f := arena.Frame(0)

	assert.Panics(t, func() { f.Unpin() })
}

func TestFramePinSetsRefBit(t *testing.T) {
	arena := NewArena(1, 512, false)
	f := arena.Frame(0)

	require.False(t, f.RefBit())
	f.Pin()
	assert.True(t, f.RefBit())
	f.ClearRefBit()
	assert.False(t, f.RefBit())
}

func TestFrameDirtyFlag(t *testing.T) {
	arena := NewArena(1, 512, false)
	f := arena.Frame(0)

	assert.False(t, f.IsDirty())
	f.MarkDirty()
	assert.True(t, f.IsDirty())
	f.ClearDirty()
	assert.False(t, f.IsDirty())
}

func TestFrameTryEvictLock(t *testing.T) {
	arena := NewArena(1, 512, false)
	f := arena.Frame(0)

	t.Run("pinned frame refuses", func(t *testing.T) {
		f.Pin()
		assert.False(t, f.TryEvictLock())
		f.Unpin()
	})

	t.Run("idle frame claims", func(t *testing.T) {
		require.True(t, f.TryEvictLock())
		assert.True(t, f.IOInProgress())
		// Second claim fails while the first holds the flag.
		assert.False(t, f.TryEvictLock())
		f.EndIO()
	})
}

func TestFrameEvictClaimExcludesPins(t *testing.T) {
	arena := NewArena(1, 512, false)
	f := arena.Frame(0)
	f.setPageNo(7)

	require.True(t, f.TryEvictLock())
	assert.False(t, f.TryPin(), "no pin may land while the eviction claim is held")

	f.Reset()
	assert.True(t, f.TryPin(), "a reset frame accepts pins again")
	assert.Equal(t, InvalidPageNo, f.PageNo())
	f.Unpin()
}

func TestFrameEvictClaimPinRace(t *testing.T) {
	arena := NewArena(1, 512, false)
	f := arena.Frame(0)
	f.setPageNo(7)

	var violations int32
	done := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if f.TryPin() {
					if f.IOInProgress() {
						atomic.AddInt32(&violations, 1)
					}
					f.Unpin()
				}
			}
		}()
	}

	for i := 0; i < 10000; i++ {
		if f.TryEvictLock() {
			if f.PinCount() != 0 {
				atomic.AddInt32(&violations, 1)
			}
			f.EndIO()
		}
	}
	close(done)
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&violations),
		"a pin and an eviction claim must never overlap")
}

func TestFrameReset(t *testing.T) {
	arena := NewArena(1, 512, false)
	f := arena.Frame(0)

	f.setPageNo(42)
	f.MarkDirty()
	f.SetLSN(7)
	f.Data()[0] = 0xFF

	f.Reset()
	assert.Equal(t, InvalidPageNo, f.PageNo())
	assert.False(t, f.IsDirty())
	assert.Equal(t, uint64(0), f.LSN())
	assert.Equal(t, byte(0), f.Data()[0])
}

func TestFramePinConcurrency(t *testing.T) {
	arena := NewArena(1, 512, false)
	f := arena.Frame(0)

	const goroutines = 16
	const rounds = 1000

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				f.Pin()
				f.Unpin()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), f.PinCount(), "pins and unpins must balance")
}

func TestHugePageArenaConstruction(t *testing.T) {
	// Large enough to cross the huge page advice threshold; the advice is
	// best effort, construction must succeed either way.
	arena := NewArena(1024, 4096, true)
	assert.Equal(t, 1024, arena.Len())
}
