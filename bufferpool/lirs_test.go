package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLIRSWarmupFillsLIRSet(t *testing.T) {
	p := newLIRSPolicy(20) // lirCap 19
	arena := NewArena(20, 512, false)
	frames := arena.Frames()

	for i := 0; i < 19; i++ {
		frames[i].setPageNo(uint64(i))
		p.RecordAccess(uint32(i), uint64(i))
	}
	assert.Equal(t, 19, p.lirCount)

	// The next cold page must become HIR, not LIR.
	frames[19].setPageNo(100)
	p.RecordAccess(19, 100)
	assert.Equal(t, 19, p.lirCount)
	assert.Equal(t, 1, p.queue.Len())
}

func TestLIRSVictimComesFromHIRQueue(t *testing.T) {
	p := newLIRSPolicy(4) // lirCap 3
	arena := NewArena(4, 512, false)
	frames := arena.Frames()

	for i := 0; i < 4; i++ {
		frames[i].setPageNo(uint64(i))
		p.RecordAccess(uint32(i), uint64(i))
	}

	victim, ok := p.FindVictim(frames)
	require.True(t, ok)
	assert.Equal(t, uint32(3), victim, "the resident HIR page goes first, never a LIR page")
}

func TestLIRSShortIRRPromotes(t *testing.T) {
	p := newLIRSPolicy(4) // lirCap 3
	arena := NewArena(4, 512, false)
	frames := arena.Frames()

	for i := 0; i < 4; i++ {
		frames[i].setPageNo(uint64(i))
		p.RecordAccess(uint32(i), uint64(i))
	}
	require.Equal(t, 3, p.lirCount)

	// Page 3 is resident HIR and still on the stack: a re-access proves a
	// short inter-reference recency and swaps it with the stalest LIR page.
	p.RecordAccess(3, 3)

	entry := p.dir[3]
	assert.Equal(t, lirsLIR, entry.status)
	assert.Equal(t, 3, p.lirCount)
	assert.Equal(t, 1, p.queue.Len(), "a demoted LIR page takes the queue slot")
}

func TestLIRSGhostHitRegainsLIR(t *testing.T) {
	p := newLIRSPolicy(4)
	arena := NewArena(4, 512, false)
	frames := arena.Frames()

	for i := 0; i < 4; i++ {
		frames[i].setPageNo(uint64(i))
		p.RecordAccess(uint32(i), uint64(i))
	}

	// Evict the HIR page; its stack entry stays as a ghost.
	p.RecordEviction(3, 3)
	frames[3].Reset()
	require.False(t, p.dir[3].resident)

	// The page returns before falling off the stack: straight to LIR.
	frames[3].setPageNo(3)
	p.RecordAccess(3, 3)
	assert.Equal(t, lirsLIR, p.dir[3].status)
	assert.True(t, p.dir[3].resident)
}

func TestLIRSHotSetSurvivesLongScan(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping LIRS retention test in short mode")
	}

	const capacity = 100
	hot := make([]uint64, 10)
	for i := range hot {
		hot[i] = uint64(i + 1)
	}

	// Warm the hot set, then interleave it (every 5th request) with a long
	// scan of never-repeated pages.
	var trace []uint64
	trace = append(trace, hot...)
	trace = append(trace, hot...)

	scan := uint64(1000)
	for i := 0; i < 20000; i++ {
		if i%5 == 0 {
			trace = append(trace, hot[(i/5)%len(hot)])
		} else {
			trace = append(trace, scan)
			scan++
		}
	}

	p := newLIRSPolicy(capacity)
	arena := NewArena(capacity, 512, false)
	frames := arena.Frames()
	resident := make(map[uint64]uint32)
	var free []uint32
	for i := capacity - 1; i >= 0; i-- {
		free = append(free, uint32(i))
	}

	hotMisses := 0
	warmup := 2 * len(hot)
	for n, pageNo := range trace {
		if frameID, ok := resident[pageNo]; ok {
			frames[frameID].SetRefBit()
			p.RecordAccess(frameID, pageNo)
			continue
		}
		if n >= warmup+5*capacity && pageNo >= 1 && pageNo <= 10 {
			hotMisses++
		}

		var frameID uint32
		if len(free) > 0 {
			frameID = free[len(free)-1]
			free = free[:len(free)-1]
		} else {
			victim, ok := p.FindVictim(frames)
			require.True(t, ok)
			victimPage := frames[victim].PageNo()
			p.RecordEviction(victim, victimPage)
			delete(resident, victimPage)
			frames[victim].Reset()
			frameID = victim
		}
		frames[frameID].setPageNo(pageNo)
		resident[pageNo] = frameID
		p.RecordAccess(frameID, pageNo)
	}

	assert.Zero(t, hotMisses, "hot pages must stay resident once the pool has warmed up")
	for _, h := range hot {
		_, ok := resident[h]
		assert.True(t, ok, "hot page %d evicted by the scan", h)
	}
}
