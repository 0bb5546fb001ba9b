package bufferpool

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/granitedb/granitebp/logger"
	"github.com/granitedb/granitebp/storage/disk"
)

// maxVictimRounds bounds how often a fetch retries the victim search with
// backoff before reporting the pool exhausted.
const maxVictimRounds = 8

// BufferPool caches disk pages in a fixed frame arena. Lookups go through a
// sharded page table, replacement through a pluggable eviction policy, and
// writes back through a background flusher. All methods are safe for
// concurrent use.
type BufferPool struct {
	config    Config
	arena     *Arena
	pageTable *PageTable
	disk      disk.Manager
	stats     *PoolStats

	// policy is swapped atomically so the access hot path never takes a
	// pool-wide lock; each algorithm guards its own bookkeeping.
	policy atomic.Pointer[Policy]
	swapMu sync.Mutex // serializes SwapPolicy

	freeMu   sync.Mutex
	freeList []uint32

	prefetch *PrefetchEngine
	flusher  *flushEngine

	lsn    uint64 // atomic
	closed int32  // atomic
}

// NewBufferPool builds a pool over the given disk manager. Zero-valued
// config fields fall back to defaults.
func NewBufferPool(cfg Config, dm disk.Manager) (*BufferPool, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dm == nil {
		return nil, NewError("new pool", fmt.Errorf("%w: nil disk manager", ErrInvalidConfig))
	}

	bp := &BufferPool{
		config:    cfg,
		arena:     NewArena(cfg.PoolSize, cfg.PageSize, cfg.HugePages),
		pageTable: NewPageTable(cfg.Partitions),
		disk:      dm,
		stats:     NewPoolStats(),
		freeList:  make([]uint32, 0, cfg.PoolSize),
	}
	policy := newPolicy(cfg.Policy, cfg.PoolSize, cfg.LRUKHistory, cfg.LRUKCorrelation)
	bp.policy.Store(&policy)
	for i := cfg.PoolSize - 1; i >= 0; i-- {
		bp.freeList = append(bp.freeList, uint32(i))
	}

	if cfg.EnablePrefetch {
		bp.prefetch = newPrefetchEngine(bp, cfg)
	}
	if cfg.EnableFlusher {
		bp.flusher = newFlushEngine(bp, cfg)
	}

	logger.Infof("buffer pool ready: %d frames x %d bytes, %d partitions, policy=%s, prefetch=%v, flusher=%v",
		cfg.PoolSize, cfg.PageSize, cfg.Partitions, policy.Name(), cfg.EnablePrefetch, cfg.EnableFlusher)
	return bp, nil
}

// PageGuard is a pinned reference to a resident page. The page cannot be
// evicted until every guard on it is released.
type PageGuard struct {
	pool     *BufferPool
	frame    *Frame
	pageNo   uint64
	released int32 // atomic
}

// PageNo returns the guarded page number.
func (g *PageGuard) PageNo() uint64 {
	return g.pageNo
}

// Data returns the page buffer. Synchronize through Lock/Read for anything
// shared with concurrent writers.
func (g *PageGuard) Data() []byte {
	return g.frame.Data()
}

// Lock takes the frame's write latch.
func (g *PageGuard) Lock() {
	g.frame.Latch().Lock()
}

// Unlock releases the write latch.
func (g *PageGuard) Unlock() {
	g.frame.Latch().Unlock()
}

// Read runs read under the hybrid latch, optimistically first.
func (g *PageGuard) Read(read func(data []byte)) {
	optimistic := g.frame.Latch().Read(g.pool.config.LatchSpinRetries, func() {
		read(g.frame.Data())
	})
	if optimistic {
		g.pool.stats.RecordOptimisticRead()
	} else {
		g.pool.stats.RecordLatchEscalation()
	}
}

// Release unpins the page, marking it dirty if modified. Releasing twice is
// a no-op.
func (g *PageGuard) Release(dirty bool) {
	if !atomic.CompareAndSwapInt32(&g.released, 0, 1) {
		return
	}
	g.pool.unpinFrame(g.frame, dirty)
}

// FetchPage pins the page, reading it from disk on a miss. When every frame
// is pinned, it retries the victim search with backoff before giving up
// with ErrPoolExhausted.
func (bp *BufferPool) FetchPage(pageNo uint64) (*PageGuard, error) {
	return bp.fetch("", pageNo, true)
}

// FetchPageNoWait is FetchPage without the retry rounds: a fully pinned
// pool fails immediately.
func (bp *BufferPool) FetchPageNoWait(pageNo uint64) (*PageGuard, error) {
	return bp.fetch("", pageNo, false)
}

// FetchPageStream is FetchPage tagged with a stream name, so concurrent
// scans feed separate pattern detectors instead of shredding each other's
// stride.
func (bp *BufferPool) FetchPageStream(stream string, pageNo uint64) (*PageGuard, error) {
	return bp.fetch(stream, pageNo, true)
}

func (bp *BufferPool) fetch(stream string, pageNo uint64, wait bool) (*PageGuard, error) {
	if bp.isClosed() {
		return nil, NewError("fetch", ErrPoolClosed)
	}
	if pageNo == InvalidPageNo {
		return nil, NewError("fetch", fmt.Errorf("%w: invalid page number", ErrPageNotFound))
	}

	if bp.prefetch != nil {
		bp.prefetch.Observe(stream, pageNo)
	}

	for {
		if frameID, ok := bp.pageTable.Lookup(pageNo); ok {
			guard, ok := bp.pinResident(frameID, pageNo)
			if !ok {
				// Lost a race with eviction; the table no longer agrees.
				continue
			}
			bp.stats.RecordRequest(true)
			return guard, nil
		}

		bp.stats.RecordRequest(false)
		if bp.prefetch != nil {
			bp.prefetch.noteMiss()
		}
		guard, err := bp.fetchSlowPath(pageNo, wait)
		if err == errLostLoadRace {
			continue
		}
		return guard, err
	}
}

// pinResident pins frameID expecting it to hold pageNo. TryPin fails while
// any disk operation holds the frame, so the loop waits out in-flight loads
// and flushes, and an eviction claim can never be overtaken by a new pin.
func (bp *BufferPool) pinResident(frameID uint32, pageNo uint64) (*PageGuard, bool) {
	f := bp.arena.Frame(frameID)

	for !f.TryPin() {
		if f.PageNo() != pageNo {
			return nil, false
		}
		runtime.Gosched()
	}
	if f.PageNo() != pageNo {
		f.Unpin()
		return nil, false
	}

	if f.ClearPrefetched() && bp.prefetch != nil {
		bp.prefetch.noteHit()
	}

	bp.recordAccess(frameID, pageNo)
	bp.recordPin(frameID)
	return &PageGuard{pool: bp, frame: f, pageNo: pageNo}, true
}

// errLostLoadRace is internal: another goroutine bound the page while we
// were allocating a frame for it.
var errLostLoadRace = fmt.Errorf("lost page load race")

func (bp *BufferPool) fetchSlowPath(pageNo uint64, wait bool) (*PageGuard, error) {
	f, err := bp.allocateFrame(wait, false)
	if err != nil {
		return nil, err
	}

	// The frame still carries the eviction/allocation I/O claim. Bind the
	// page before the read so concurrent fetchers of the same page wait on
	// this frame instead of loading twice.
	f.setPageNo(pageNo)
	if !bp.pageTable.Insert(pageNo, f.ID()) {
		f.Reset()
		bp.releaseFrame(f)
		return nil, errLostLoadRace
	}

	f.Pin()
	if err := bp.disk.ReadPage(pageNo, f.Data()); err != nil {
		f.Unpin()
		bp.pageTable.Remove(pageNo)
		f.Reset()
		bp.releaseFrame(f)
		return nil, NewError("fetch", fmt.Errorf("%w: reading page %d: %v", ErrIOFailure, pageNo, err))
	}
	bp.stats.RecordRead()
	f.EndIO()

	bp.recordAccess(f.ID(), pageNo)
	bp.recordPin(f.ID())
	return &PageGuard{pool: bp, frame: f, pageNo: pageNo}, nil
}

// NewPage allocates a fresh page on disk and pins its zeroed frame. The
// frame starts dirty so the page reaches the disk even if never written to.
func (bp *BufferPool) NewPage() (*PageGuard, error) {
	if bp.isClosed() {
		return nil, NewError("new page", ErrPoolClosed)
	}

	// Claim the frame before allocating the page number, so a full pool
	// cannot burn page numbers that were never bound.
	f, err := bp.allocateFrame(true, false)
	if err != nil {
		return nil, err
	}

	pageNo, err := bp.disk.Allocate()
	if err != nil {
		bp.releaseFrame(f)
		return nil, NewError("new page", fmt.Errorf("%w: allocating page: %v", ErrIOFailure, err))
	}

	f.setPageNo(pageNo)
	if !bp.pageTable.Insert(pageNo, f.ID()) {
		// A freshly allocated page number cannot be resident already.
		f.Reset()
		bp.releaseFrame(f)
		panic(fmt.Sprintf("page %d already resident after allocation", pageNo))
	}

	f.Pin()
	f.MarkDirty()
	f.EndIO()

	bp.recordAccess(f.ID(), pageNo)
	bp.recordPin(f.ID())
	return &PageGuard{pool: bp, frame: f, pageNo: pageNo}, nil
}

// UnpinPage releases one pin on pageNo.
func (bp *BufferPool) UnpinPage(pageNo uint64, dirty bool) error {
	frameID, ok := bp.pageTable.Lookup(pageNo)
	if !ok {
		return NewError("unpin", fmt.Errorf("%w: page %d", ErrPageNotFound, pageNo))
	}
	f := bp.arena.Frame(frameID)
	if f.PageNo() != pageNo {
		return NewError("unpin", fmt.Errorf("%w: page %d", ErrPageNotFound, pageNo))
	}
	bp.unpinFrame(f, dirty)
	return nil
}

func (bp *BufferPool) unpinFrame(f *Frame, dirty bool) {
	if dirty {
		f.MarkDirty()
		f.SetLSN(atomic.AddUint64(&bp.lsn, 1))
	}
	bp.recordUnpin(f.ID())
	f.Unpin()
}

// allocateFrame returns a claimed empty frame, from the free list if
// possible, otherwise by evicting. cleanOnly restricts eviction to frames
// that need no write-out, for speculative loads. The returned frame holds
// the I/O claim.
func (bp *BufferPool) allocateFrame(wait, cleanOnly bool) (*Frame, error) {
	rounds := 1
	if wait {
		rounds = maxVictimRounds
	}

	for round := 0; round < rounds; round++ {
		if round > 0 {
			time.Sleep(time.Duration(round) * time.Millisecond)
		}

		if f := bp.popFree(); f != nil {
			return f, nil
		}
		f, err := bp.evictOne(cleanOnly)
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
		bp.stats.RecordEviction(false)
	}

	return nil, NewError("allocate frame", ErrPoolExhausted)
}

func (bp *BufferPool) popFree() *Frame {
	bp.freeMu.Lock()
	defer bp.freeMu.Unlock()

	if len(bp.freeList) == 0 {
		return nil
	}
	id := bp.freeList[len(bp.freeList)-1]
	bp.freeList = bp.freeList[:len(bp.freeList)-1]

	f := bp.arena.Frame(id)
	if !f.BeginIO() {
		// Should not happen for a free frame; put it back.
		bp.freeList = append(bp.freeList, id)
		return nil
	}
	return f
}

func (bp *BufferPool) releaseFrame(f *Frame) {
	f.EndIO()
	bp.freeMu.Lock()
	bp.freeList = append(bp.freeList, f.ID())
	bp.freeMu.Unlock()
}

// evictOne picks a victim, writes it back if dirty, and returns the claimed
// empty frame. A nil, nil return means no victim was available this round.
func (bp *BufferPool) evictOne(cleanOnly bool) (*Frame, error) {
	frameID, found := bp.loadPolicy().FindVictim(bp.arena.Frames())
	if !found {
		return nil, nil
	}

	f := bp.arena.Frame(frameID)
	if !f.TryEvictLock() {
		return nil, nil
	}

	victimPage := f.PageNo()
	if victimPage == InvalidPageNo {
		// Raced with a reset; treat the frame as free.
		return f, nil
	}

	if f.IsDirty() {
		if cleanOnly {
			f.EndIO()
			return nil, nil
		}
		if err := bp.flushVictim(f, victimPage); err != nil {
			f.EndIO()
			return nil, err
		}
	}

	bp.pageTable.Remove(victimPage)
	bp.recordEviction(frameID, victimPage)
	bp.stats.RecordEviction(true)
	f.Reset()
	logger.Debugf("evicted page %d from frame %d", victimPage, frameID)
	return f, nil
}

// flushVictim writes a dirty victim out, running the write-ahead hook
// first. The latch covers only the in-memory copy, never the hook or the
// disk write. Any failure leaves the page resident and dirty.
func (bp *BufferPool) flushVictim(f *Frame, pageNo uint64) error {
	f.Latch().RLock()
	data := make([]byte, len(f.Data()))
	copy(data, f.Data())
	f.Latch().RUnlock()

	if bp.config.OnBeforeEvict != nil {
		if err := bp.config.OnBeforeEvict(pageNo, data); err != nil {
			return NewError("evict", fmt.Errorf("write-ahead hook rejected page %d: %w", pageNo, err))
		}
	}

	if err := bp.disk.WritePage(pageNo, data); err != nil {
		bp.stats.RecordFlush(false)
		return NewError("evict", fmt.Errorf("%w: writing page %d: %v", ErrIOFailure, pageNo, err))
	}
	bp.stats.RecordWrite()
	bp.stats.RecordFlush(true)
	f.ClearDirty()
	return nil
}

// loadPrefetched loads pageNo into an unpinned frame, evicting only clean
// frames to make room.
func (bp *BufferPool) loadPrefetched(pageNo uint64) error {
	if bp.isClosed() {
		return NewError("prefetch", ErrPoolClosed)
	}

	f, err := bp.allocateFrame(false, true)
	if err != nil {
		return err
	}

	f.setPageNo(pageNo)
	if !bp.pageTable.Insert(pageNo, f.ID()) {
		f.Reset()
		bp.releaseFrame(f)
		return nil
	}

	if err := bp.disk.ReadPage(pageNo, f.Data()); err != nil {
		bp.pageTable.Remove(pageNo)
		f.Reset()
		bp.releaseFrame(f)
		return NewError("prefetch", fmt.Errorf("%w: reading page %d: %v", ErrIOFailure, pageNo, err))
	}
	bp.stats.RecordRead()

	f.MarkPrefetched()
	f.EndIO()
	bp.recordAccess(f.ID(), pageNo)
	return nil
}

// FlushPage writes pageNo back if resident and dirty.
func (bp *BufferPool) FlushPage(pageNo uint64) error {
	frameID, ok := bp.pageTable.Lookup(pageNo)
	if !ok {
		return NewError("flush", fmt.Errorf("%w: page %d", ErrPageNotFound, pageNo))
	}
	f := bp.arena.Frame(frameID)
	if !f.IsDirty() {
		return nil
	}

	for !f.BeginIO() {
		runtime.Gosched()
	}
	if !f.IsDirty() || f.PageNo() != pageNo {
		f.EndIO()
		return nil
	}

	f.Latch().RLock()
	version, _ := f.Latch().ReadVersion()
	data := make([]byte, len(f.Data()))
	copy(data, f.Data())
	f.Latch().RUnlock()

	_, err := bp.writeBatch([]*dirtyFrame{{frame: f, pageNo: pageNo, version: version, data: data}})
	return err
}

// FlushAll writes every dirty frame, pinned ones included, and syncs the
// disk. Frames stay resident.
func (bp *BufferPool) FlushAll() error {
	for {
		flushed, err := bp.flushDirtyBatch(0, true)
		if err != nil {
			return err
		}
		if flushed == 0 {
			break
		}
	}
	if err := bp.disk.Sync(); err != nil {
		return NewError("flush all", fmt.Errorf("%w: sync: %v", ErrIOFailure, err))
	}
	return nil
}

// SwapPolicy replaces the eviction policy on a quiesced pool. Resident
// pages are replayed into the new policy in arbitrary order.
func (bp *BufferPool) SwapPolicy(kind PolicyKind) error {
	bp.swapMu.Lock()
	defer bp.swapMu.Unlock()

	for _, f := range bp.arena.Frames() {
		if f.IsPinned() {
			return NewError("swap policy", ErrPinnedResident)
		}
	}

	next := newPolicy(kind, bp.config.PoolSize, bp.config.LRUKHistory, bp.config.LRUKCorrelation)
	for _, f := range bp.arena.Frames() {
		if pageNo := f.PageNo(); pageNo != InvalidPageNo {
			next.RecordAccess(f.ID(), pageNo)
		}
	}
	old := bp.loadPolicy()
	bp.policy.Store(&next)
	old.Reset()
	logger.Infof("eviction policy swapped to %s", next.Name())
	return nil
}

// Close stops the background workers, flushes everything and syncs. The
// pool rejects further operations afterwards.
func (bp *BufferPool) Close() error {
	if !atomic.CompareAndSwapInt32(&bp.closed, 0, 1) {
		return nil
	}

	if bp.prefetch != nil {
		bp.prefetch.close()
	}
	if bp.flusher != nil {
		bp.flusher.close()
	}

	if err := bp.FlushAll(); err != nil {
		return err
	}
	return bp.disk.Close()
}

func (bp *BufferPool) isClosed() bool {
	return atomic.LoadInt32(&bp.closed) == 1
}

// Occupancy returns the fraction of frames holding pages.
func (bp *BufferPool) Occupancy() float64 {
	return float64(bp.pageTable.Len()) / float64(bp.arena.Len())
}

// DirtyRatio returns the fraction of frames that are dirty.
func (bp *BufferPool) DirtyRatio() float64 {
	dirty := 0
	for _, f := range bp.arena.Frames() {
		if f.IsDirty() {
			dirty++
		}
	}
	return float64(dirty) / float64(bp.arena.Len())
}

// ResidentPages returns the number of pages currently cached.
func (bp *BufferPool) ResidentPages() int {
	return bp.pageTable.Len()
}

// Stats returns the pool's counters.
func (bp *BufferPool) Stats() *PoolStats {
	return bp.stats
}

// PolicyName returns the active eviction policy's name.
func (bp *BufferPool) PolicyName() string {
	return bp.loadPolicy().Name()
}

// Prefetcher returns the prefetch engine, or nil when disabled.
func (bp *BufferPool) Prefetcher() *PrefetchEngine {
	return bp.prefetch
}

// loadPolicy returns the active eviction policy.
func (bp *BufferPool) loadPolicy() Policy {
	return *bp.policy.Load()
}

func (bp *BufferPool) recordAccess(frameID uint32, pageNo uint64) {
	bp.loadPolicy().RecordAccess(frameID, pageNo)
}

func (bp *BufferPool) recordPin(frameID uint32) {
	bp.loadPolicy().RecordPin(frameID)
}

func (bp *BufferPool) recordUnpin(frameID uint32) {
	bp.loadPolicy().RecordUnpin(frameID)
}

func (bp *BufferPool) recordEviction(frameID uint32, pageNo uint64) {
	bp.loadPolicy().RecordEviction(frameID, pageNo)
}
