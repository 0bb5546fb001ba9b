package bufferpool

import (
	"container/list"
	"sync"
)

type lirsStatus int

const (
	lirsLIR lirsStatus = iota
	lirsResidentHIR
	lirsNonResidentHIR
)

type lirsEntry struct {
	pageNo    uint64
	frameID   uint32
	resident  bool
	status    lirsStatus
	stackElem *list.Element // position in the recency stack, nil if pruned out
	queueElem *list.Element // position in the resident-HIR queue
}

// lirsPolicy ranks pages by inter-reference recency. Low-IRR (LIR) pages own
// most of the pool and are never eviction candidates; high-IRR (HIR) pages
// cycle through a small queue. A HIR page re-accessed while still on the
// recency stack has proven a short IRR and swaps roles with the stalest LIR
// page, so a long scan cannot displace the hot set.
type lirsPolicy struct {
	mu sync.Mutex

	capacity int
	lirCap   int
	lirCount int

	stack *list.List // *lirsEntry, front = most recent
	queue *list.List // *lirsEntry resident HIR, front = oldest
	dir   map[uint64]*lirsEntry

	stats EvictionStats
}

func newLIRSPolicy(capacity int) *lirsPolicy {
	if capacity < 1 {
		capacity = 1
	}
	// ~95% LIR / 5% HIR split, keeping at least one HIR slot.
	lirCap := capacity * 95 / 100
	if lirCap >= capacity {
		lirCap = capacity - 1
	}
	if lirCap < 1 {
		lirCap = 1
	}
	return &lirsPolicy{
		capacity: capacity,
		lirCap:   lirCap,
		stack:    list.New(),
		queue:    list.New(),
		dir:      make(map[uint64]*lirsEntry),
	}
}

func (p *lirsPolicy) Name() string { return "lirs" }

func (p *lirsPolicy) RecordAccess(frameID uint32, pageNo uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.dir[pageNo]
	if !ok {
		p.insertCold(frameID, pageNo)
		return
	}

	entry.frameID = frameID

	switch {
	case entry.resident && entry.status == lirsLIR:
		p.moveToStackTop(entry)
		p.pruneStack()

	case entry.resident && entry.status == lirsResidentHIR:
		if entry.stackElem != nil {
			// Re-access while still on the stack: short IRR, promote.
			p.promoteToLIR(entry)
		} else {
			entry.stackElem = p.stack.PushFront(entry)
			if entry.queueElem != nil {
				p.queue.MoveToBack(entry.queueElem)
			}
		}

	default:
		// Ghost hit: the page came back after eviction while its stack
		// entry survived, so it earns LIR status immediately.
		entry.resident = true
		if entry.stackElem != nil {
			p.promoteToLIR(entry)
		} else {
			entry.status = lirsResidentHIR
			entry.stackElem = p.stack.PushFront(entry)
			entry.queueElem = p.queue.PushBack(entry)
		}
	}
}

func (p *lirsPolicy) insertCold(frameID uint32, pageNo uint64) {
	entry := &lirsEntry{
		pageNo:   pageNo,
		frameID:  frameID,
		resident: true,
	}
	p.dir[pageNo] = entry

	if p.lirCount < p.lirCap {
		// Warmup: the LIR set is not full yet.
		entry.status = lirsLIR
		p.lirCount++
		entry.stackElem = p.stack.PushFront(entry)
		return
	}

	entry.status = lirsResidentHIR
	entry.stackElem = p.stack.PushFront(entry)
	entry.queueElem = p.queue.PushBack(entry)
}

func (p *lirsPolicy) moveToStackTop(entry *lirsEntry) {
	if entry.stackElem != nil {
		p.stack.MoveToFront(entry.stackElem)
	} else {
		entry.stackElem = p.stack.PushFront(entry)
	}
}

// promoteToLIR converts a HIR entry on the stack to LIR, demoting the
// bottom LIR entry to keep the LIR set bounded.
func (p *lirsPolicy) promoteToLIR(entry *lirsEntry) {
	entry.status = lirsLIR
	p.lirCount++
	if entry.queueElem != nil {
		p.queue.Remove(entry.queueElem)
		entry.queueElem = nil
	}
	p.moveToStackTop(entry)

	for p.lirCount > p.lirCap {
		p.demoteBottomLIR()
	}
	p.pruneStack()
}

// demoteBottomLIR turns the stalest LIR entry into a resident HIR at the
// back of the queue.
func (p *lirsPolicy) demoteBottomLIR() {
	for e := p.stack.Back(); e != nil; e = e.Prev() {
		entry := e.Value.(*lirsEntry)
		if entry.status != lirsLIR {
			continue
		}
		entry.status = lirsResidentHIR
		p.lirCount--
		p.stack.Remove(e)
		entry.stackElem = nil
		if entry.resident {
			entry.queueElem = p.queue.PushBack(entry)
		} else {
			delete(p.dir, entry.pageNo)
		}
		return
	}
}

// pruneStack pops HIR entries off the stack bottom until a LIR entry
// surfaces. Non-resident entries popped here leave the directory for good.
func (p *lirsPolicy) pruneStack() {
	for {
		bottom := p.stack.Back()
		if bottom == nil {
			return
		}
		entry := bottom.Value.(*lirsEntry)
		if entry.status == lirsLIR {
			return
		}
		p.stack.Remove(bottom)
		entry.stackElem = nil
		if entry.status == lirsNonResidentHIR || !entry.resident {
			delete(p.dir, entry.pageNo)
		}
	}
}

func (p *lirsPolicy) RecordPin(frameID uint32) {}

func (p *lirsPolicy) RecordUnpin(frameID uint32) {}

func (p *lirsPolicy) RecordEviction(frameID uint32, pageNo uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.dir[pageNo]
	if !ok {
		return
	}

	entry.resident = false
	if entry.queueElem != nil {
		p.queue.Remove(entry.queueElem)
		entry.queueElem = nil
	}

	switch {
	case entry.status == lirsLIR:
		// LIR pages only get evicted through the fallback scan. Their
		// history no longer helps, drop them entirely.
		p.lirCount--
		if entry.stackElem != nil {
			p.stack.Remove(entry.stackElem)
		}
		delete(p.dir, pageNo)
		p.pruneStack()

	case entry.stackElem != nil:
		// Keep a ghost so a quick return proves a short IRR.
		entry.status = lirsNonResidentHIR

	default:
		delete(p.dir, pageNo)
	}
}

func (p *lirsPolicy) FindVictim(frames []*Frame) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var steps uint64

	// Resident HIR queue first, oldest out.
	for e := p.queue.Front(); e != nil; e = e.Next() {
		steps++
		entry := e.Value.(*lirsEntry)
		if evictable(frames[entry.frameID]) {
			p.stats.recordSearch(steps, true)
			return entry.frameID, true
		}
	}

	// Every HIR page is pinned: fall back to the stalest LIR page rather
	// than failing the allocation.
	for e := p.stack.Back(); e != nil; e = e.Prev() {
		steps++
		entry := e.Value.(*lirsEntry)
		if entry.resident && entry.status == lirsLIR && evictable(frames[entry.frameID]) {
			p.stats.recordSearch(steps, true)
			return entry.frameID, true
		}
	}

	p.stats.recordSearch(steps, false)
	return 0, false
}

func (p *lirsPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lirCount = 0
	p.stack.Init()
	p.queue.Init()
	p.dir = make(map[uint64]*lirsEntry)
}
