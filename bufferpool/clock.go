package bufferpool

import "sync/atomic"

// clockPolicy is the classic second-chance sweep. The reference bit lives on
// the frame itself, so the policy only needs the hand position and can run
// without any lock.
type clockPolicy struct {
	hand  uint64
	stats EvictionStats
}

func newClockPolicy() *clockPolicy {
	return &clockPolicy{}
}

func (p *clockPolicy) Name() string { return "clock" }

func (p *clockPolicy) RecordAccess(frameID uint32, pageNo uint64) {
	// Pin already set the reference bit; nothing else to track.
}

func (p *clockPolicy) RecordPin(frameID uint32) {}

func (p *clockPolicy) RecordUnpin(frameID uint32) {}

func (p *clockPolicy) RecordEviction(frameID uint32, pageNo uint64) {}

func (p *clockPolicy) FindVictim(frames []*Frame) (uint32, bool) {
	n := uint64(len(frames))
	if n == 0 {
		return 0, false
	}

	// Two full sweeps: the first clears reference bits, the second then
	// finds any frame that was not touched in between. If both fail, every
	// frame is pinned or under I/O.
	var steps uint64
	for sweep := uint64(0); sweep < 2*n; sweep++ {
		idx := atomic.AddUint64(&p.hand, 1) % n
		f := frames[idx]
		steps++

		if !evictable(f) {
			continue
		}
		if f.RefBit() {
			f.ClearRefBit()
			continue
		}

		p.stats.recordSearch(steps, true)
		return f.ID(), true
	}

	p.stats.recordSearch(steps, false)
	return 0, false
}

func (p *clockPolicy) Reset() {
	atomic.StoreUint64(&p.hand, 0)
}
