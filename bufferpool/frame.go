package bufferpool

import (
	"fmt"
	"sync/atomic"

	"github.com/granitedb/granitebp/logger"
)

// InvalidPageNo marks a frame that holds no page.
const InvalidPageNo = ^uint64(0)

// Frame flag bits, packed with the pin count into one atomic state word.
// Pinning and the eviction claim transition the same word, so one CAS
// decides which of the two wins.
const (
	flagDirty uint64 = 1 << (32 + iota)
	flagRefBit
	flagIOInProgress
	flagPrefetched
)

// pinMask covers the pin count in the low half of the state word.
const pinMask = uint64(1)<<32 - 1

// Frame is one page-sized slot in the arena plus its metadata. The pin
// count and flags live in one atomic word; the contents are protected by
// the latch.
type Frame struct {
	id     uint32
	pageNo uint64 // atomic; InvalidPageNo when empty
	state  uint64 // atomic; flag bits | pin count
	lsn    uint64 // atomic

	latch HybridLatch
	data  []byte
}

// ID returns the frame's slot index.
func (f *Frame) ID() uint32 {
	return f.id
}

// PageNo returns the page currently held, or InvalidPageNo.
func (f *Frame) PageNo() uint64 {
	return atomic.LoadUint64(&f.pageNo)
}

func (f *Frame) setPageNo(pageNo uint64) {
	atomic.StoreUint64(&f.pageNo, pageNo)
}

// Data returns the frame's page buffer. Callers must hold a pin, and the
// latch for anything beyond a racy peek.
func (f *Frame) Data() []byte {
	return f.data
}

// Latch returns the frame's hybrid latch.
func (f *Frame) Latch() *HybridLatch {
	return &f.latch
}

// Pin increments the pin count unconditionally and returns the new value.
// Reserved for callers that already hold the frame's I/O claim; everyone
// else goes through TryPin.
func (f *Frame) Pin() int32 {
	for {
		old := atomic.LoadUint64(&f.state)
		next := (old | flagRefBit) + 1
		if atomic.CompareAndSwapUint64(&f.state, old, next) {
			return int32(next & pinMask)
		}
	}
}

// TryPin pins the frame unless a disk operation holds it. The CAS covers
// the pin count and the I/O flag together, so a pin can never slip in
// between an eviction claim and the frame's reset.
func (f *Frame) TryPin() bool {
	for {
		old := atomic.LoadUint64(&f.state)
		if old&flagIOInProgress != 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(&f.state, old, (old|flagRefBit)+1) {
			return true
		}
	}
}

// Unpin decrements the pin count. Dropping below zero is a caller bug and
// panics rather than silently corrupting eviction decisions.
func (f *Frame) Unpin() int32 {
	for {
		old := atomic.LoadUint64(&f.state)
		if old&pinMask == 0 {
			panic(fmt.Sprintf("%v: frame %d page %d", ErrPinUnderflow, f.id, f.PageNo()))
		}
		if atomic.CompareAndSwapUint64(&f.state, old, old-1) {
			return int32((old - 1) & pinMask)
		}
	}
}

// PinCount returns the current pin count.
func (f *Frame) PinCount() int32 {
	return int32(atomic.LoadUint64(&f.state) & pinMask)
}

// IsPinned reports whether any caller holds the frame.
func (f *Frame) IsPinned() bool {
	return f.PinCount() > 0
}

func (f *Frame) setFlag(flag uint64) {
	for {
		old := atomic.LoadUint64(&f.state)
		if old&flag != 0 {
			return
		}
		if atomic.CompareAndSwapUint64(&f.state, old, old|flag) {
			return
		}
	}
}

func (f *Frame) clearFlag(flag uint64) {
	for {
		old := atomic.LoadUint64(&f.state)
		if old&flag == 0 {
			return
		}
		if atomic.CompareAndSwapUint64(&f.state, old, old&^flag) {
			return
		}
	}
}

func (f *Frame) hasFlag(flag uint64) bool {
	return atomic.LoadUint64(&f.state)&flag != 0
}

// MarkDirty flags the frame as modified since its last write-out.
func (f *Frame) MarkDirty() { f.setFlag(flagDirty) }

// ClearDirty resets the dirty flag after a successful flush.
func (f *Frame) ClearDirty() { f.clearFlag(flagDirty) }

// IsDirty reports whether the frame holds unflushed changes.
func (f *Frame) IsDirty() bool { return f.hasFlag(flagDirty) }

// SetRefBit gives the frame a second chance under CLOCK.
func (f *Frame) SetRefBit() { f.setFlag(flagRefBit) }

// ClearRefBit consumes the second chance.
func (f *Frame) ClearRefBit() { f.clearFlag(flagRefBit) }

// RefBit reports the CLOCK reference bit.
func (f *Frame) RefBit() bool { return f.hasFlag(flagRefBit) }

// MarkPrefetched tags a frame loaded speculatively; the tag is cleared on
// the first real access so prefetch hit rate can be measured.
func (f *Frame) MarkPrefetched() { f.setFlag(flagPrefetched) }

// ClearPrefetched clears the speculative-load tag, reporting whether it was set.
func (f *Frame) ClearPrefetched() bool {
	for {
		old := atomic.LoadUint64(&f.state)
		if old&flagPrefetched == 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(&f.state, old, old&^flagPrefetched) {
			return true
		}
	}
}

// BeginIO claims the frame for a disk read or write. Only one I/O runs per
// frame at a time.
func (f *Frame) BeginIO() bool {
	for {
		old := atomic.LoadUint64(&f.state)
		if old&flagIOInProgress != 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(&f.state, old, old|flagIOInProgress) {
			return true
		}
	}
}

// EndIO releases the I/O claim.
func (f *Frame) EndIO() { f.clearFlag(flagIOInProgress) }

// IOInProgress reports whether a disk operation holds the frame.
func (f *Frame) IOInProgress() bool { return f.hasFlag(flagIOInProgress) }

// TryEvictLock claims an unpinned, idle frame for eviction, setting the I/O
// flag in the same CAS that verifies the pin count is zero. While the claim
// holds, TryPin fails, so no pin can appear underneath the eviction.
func (f *Frame) TryEvictLock() bool {
	for {
		old := atomic.LoadUint64(&f.state)
		if old&pinMask != 0 || old&flagIOInProgress != 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(&f.state, old, old|flagIOInProgress) {
			return true
		}
	}
}

// LSN returns the page LSN recorded at the last content change.
func (f *Frame) LSN() uint64 {
	return atomic.LoadUint64(&f.lsn)
}

// SetLSN records the page LSN.
func (f *Frame) SetLSN(lsn uint64) {
	atomic.StoreUint64(&f.lsn, lsn)
}

// Reset returns the frame to the empty state. The caller must hold the
// eviction claim, which guarantees the pin count is zero.
func (f *Frame) Reset() {
	f.setPageNo(InvalidPageNo)
	atomic.StoreUint64(&f.state, 0)
	atomic.StoreUint64(&f.lsn, 0)
	for i := range f.data {
		f.data[i] = 0
	}
}

// Arena owns the page memory: one contiguous slab carved into fixed frames.
// The slab never grows or shrinks after construction.
type Arena struct {
	frames   []Frame
	refs     []*Frame
	slab     []byte
	pageSize int
}

// NewArena allocates numFrames frames of pageSize bytes each. With hugePages
// set, the slab is advised to the kernel as a transparent huge page region;
// failure to do so is logged and ignored.
func NewArena(numFrames, pageSize int, hugePages bool) *Arena {
	slab := make([]byte, numFrames*pageSize)
	if hugePages {
		if err := adviseHugePages(slab); err != nil {
			logger.Warnf("huge page advice rejected for %d byte slab: %v", len(slab), err)
		} else {
			logger.Infof("frame slab of %d bytes advised as huge pages", len(slab))
		}
	}

	a := &Arena{
		frames:   make([]Frame, numFrames),
		refs:     make([]*Frame, numFrames),
		slab:     slab,
		pageSize: pageSize,
	}
	for i := range a.frames {
		f := &a.frames[i]
		f.id = uint32(i)
		f.pageNo = InvalidPageNo
		f.data = slab[i*pageSize : (i+1)*pageSize : (i+1)*pageSize]
		a.refs[i] = f
	}
	return a
}

// Frame returns the frame at slot id.
func (a *Arena) Frame(id uint32) *Frame {
	return &a.frames[id]
}

// Frames returns all frames, for victim scans.
func (a *Arena) Frames() []*Frame {
	return a.refs
}

// Len returns the number of frames.
func (a *Arena) Len() int {
	return len(a.frames)
}

// PageSize returns the frame size in bytes.
func (a *Arena) PageSize() int {
	return a.pageSize
}
