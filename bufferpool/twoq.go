package bufferpool

import (
	"container/list"
	"sync"
)

// 2Q queue membership.
const (
	twoQA1In = iota
	twoQAm
)

type twoQEntry struct {
	elem  *list.Element
	queue int
}

// twoQPolicy keeps first-touch frames in a FIFO (A1in) so a single scan
// cannot flood the hot LRU (Am). Pages evicted from A1in leave a ghost in
// A1out; a re-reference within the ghost window proves reuse and admits the
// page straight into Am.
type twoQPolicy struct {
	mu sync.Mutex

	a1in   *list.List // frame ids, front = oldest
	am     *list.List // frame ids, front = most recent
	frames map[uint32]*twoQEntry

	a1out    *list.List // ghost page numbers, front = oldest
	ghosts   map[uint64]*list.Element
	ghostCap int

	stats EvictionStats
}

func newTwoQPolicy(capacity int) *twoQPolicy {
	ghostCap := capacity / 2
	if ghostCap < 1 {
		ghostCap = 1
	}
	return &twoQPolicy{
		a1in:     list.New(),
		am:       list.New(),
		frames:   make(map[uint32]*twoQEntry),
		a1out:    list.New(),
		ghosts:   make(map[uint64]*list.Element),
		ghostCap: ghostCap,
	}
}

func (p *twoQPolicy) Name() string { return "2q" }

func (p *twoQPolicy) RecordAccess(frameID uint32, pageNo uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.frames[frameID]; ok {
		switch entry.queue {
		case twoQAm:
			p.am.MoveToFront(entry.elem)
		case twoQA1In:
			// Second touch while still in the FIFO: promote.
			p.a1in.Remove(entry.elem)
			entry.elem = p.am.PushFront(frameID)
			entry.queue = twoQAm
		}
		return
	}

	if ghost, ok := p.ghosts[pageNo]; ok {
		// Re-reference inside the ghost window goes straight to Am.
		p.a1out.Remove(ghost)
		delete(p.ghosts, pageNo)
		p.frames[frameID] = &twoQEntry{elem: p.am.PushFront(frameID), queue: twoQAm}
		return
	}

	p.frames[frameID] = &twoQEntry{elem: p.a1in.PushBack(frameID), queue: twoQA1In}
}

func (p *twoQPolicy) RecordPin(frameID uint32) {}

func (p *twoQPolicy) RecordUnpin(frameID uint32) {}

func (p *twoQPolicy) RecordEviction(frameID uint32, pageNo uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.frames[frameID]
	if !ok {
		return
	}

	if entry.queue == twoQA1In {
		p.a1in.Remove(entry.elem)
		// Only A1in evictions leave a ghost; Am evictions had their chance.
		p.ghosts[pageNo] = p.a1out.PushBack(pageNo)
		for p.a1out.Len() > p.ghostCap {
			oldest := p.a1out.Front()
			delete(p.ghosts, oldest.Value.(uint64))
			p.a1out.Remove(oldest)
		}
	} else {
		p.am.Remove(entry.elem)
	}
	delete(p.frames, frameID)
}

func (p *twoQPolicy) FindVictim(frames []*Frame) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var steps uint64

	// Drain the FIFO first so scans evict their own pages.
	for e := p.a1in.Front(); e != nil; e = e.Next() {
		steps++
		frameID := e.Value.(uint32)
		if evictable(frames[frameID]) {
			p.stats.recordSearch(steps, true)
			return frameID, true
		}
	}

	for e := p.am.Back(); e != nil; e = e.Prev() {
		steps++
		frameID := e.Value.(uint32)
		if evictable(frames[frameID]) {
			p.stats.recordSearch(steps, true)
			return frameID, true
		}
	}

	p.stats.recordSearch(steps, false)
	return 0, false
}

func (p *twoQPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.a1in.Init()
	p.am.Init()
	p.a1out.Init()
	p.frames = make(map[uint32]*twoQEntry)
	p.ghosts = make(map[uint64]*list.Element)
}
