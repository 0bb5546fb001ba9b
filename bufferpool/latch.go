package bufferpool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// HybridLatch is an optimistic reader/writer latch. Readers first try lock-free
// validation against a version counter; writers bump the version so racing
// readers notice and retry. A reader that keeps losing escalates to the
// blocking RWMutex path, which writers also hold, so escalated readers
// cannot starve.
//
// The version word is even when unlocked. A writer makes it odd for the
// duration of the write and even again on release.
type HybridLatch struct {
	version uint64
	mu      sync.RWMutex
}

// Lock acquires the latch for writing.
func (l *HybridLatch) Lock() {
	l.mu.Lock()
	atomic.AddUint64(&l.version, 1)
}

// Unlock releases the write latch.
func (l *HybridLatch) Unlock() {
	atomic.AddUint64(&l.version, 1)
	l.mu.Unlock()
}

// RLock acquires the latch for reading on the pessimistic path.
func (l *HybridLatch) RLock() {
	l.mu.RLock()
}

// RUnlock releases a pessimistic read.
func (l *HybridLatch) RUnlock() {
	l.mu.RUnlock()
}

// ReadVersion samples the version for an optimistic read attempt. ok is
// false while a writer is active.
func (l *HybridLatch) ReadVersion() (version uint64, ok bool) {
	v := atomic.LoadUint64(&l.version)
	return v, v&1 == 0
}

// Validate reports whether no writer intervened since ReadVersion.
func (l *HybridLatch) Validate(version uint64) bool {
	return atomic.LoadUint64(&l.version) == version
}

// Read runs read under the latch. It tries up to spinRetries optimistic
// passes and escalates to a shared lock after that. read may observe torn
// data during an optimistic pass that fails validation, so it must only
// copy bytes out, never act on them. Returns true when the optimistic path
// won.
func (l *HybridLatch) Read(spinRetries int, read func()) bool {
	for attempt := 0; attempt < spinRetries; attempt++ {
		v, ok := l.ReadVersion()
		if ok {
			read()
			if l.Validate(v) {
				return true
			}
		}
		runtime.Gosched()
	}

	l.RLock()
	read()
	l.RUnlock()
	return false
}
