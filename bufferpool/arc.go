package bufferpool

import (
	"container/list"
	"sync"
)

const (
	arcT1 = iota
	arcT2
	arcB1
	arcB2
)

type arcEntry struct {
	elem *list.Element
	list int
}

// arcPolicy balances recency (T1) against frequency (T2) using ghost lists
// B1 and B2 of recently evicted page numbers. A hit in B1 means T1 was too
// small, so the target grows; a hit in B2 shrinks it. The policy adapts on
// its own, with no tuning knob.
type arcPolicy struct {
	mu sync.Mutex

	capacity int
	targetT1 int // adaptive target size for T1

	t1, t2 *list.List // frame ids, front = MRU
	b1, b2 *list.List // ghost page numbers, front = MRU

	frames map[uint32]*arcEntry
	ghosts map[uint64]*arcEntry

	stats EvictionStats
}

func newARCPolicy(capacity int) *arcPolicy {
	if capacity < 1 {
		capacity = 1
	}
	return &arcPolicy{
		capacity: capacity,
		targetT1: capacity / 2,
		t1:       list.New(),
		t2:       list.New(),
		b1:       list.New(),
		b2:       list.New(),
		frames:   make(map[uint32]*arcEntry),
		ghosts:   make(map[uint64]*arcEntry),
	}
}

func (p *arcPolicy) Name() string { return "arc" }

func (p *arcPolicy) RecordAccess(frameID uint32, pageNo uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.frames[frameID]; ok {
		// Second hit proves reuse: both T1 and T2 residents go to T2 MRU.
		switch entry.list {
		case arcT1:
			p.t1.Remove(entry.elem)
			entry.elem = p.t2.PushFront(frameID)
			entry.list = arcT2
		case arcT2:
			p.t2.MoveToFront(entry.elem)
		}
		return
	}

	if ghost, ok := p.ghosts[pageNo]; ok {
		switch ghost.list {
		case arcB1:
			p.adaptOnB1Hit()
			p.b1.Remove(ghost.elem)
		case arcB2:
			p.adaptOnB2Hit()
			p.b2.Remove(ghost.elem)
		}
		delete(p.ghosts, pageNo)
		p.frames[frameID] = &arcEntry{elem: p.t2.PushFront(frameID), list: arcT2}
		return
	}

	p.frames[frameID] = &arcEntry{elem: p.t1.PushFront(frameID), list: arcT1}
}

// adaptOnB1Hit grows the recency target: the evicted-from-T1 page came back.
func (p *arcPolicy) adaptOnB1Hit() {
	delta := 1
	if p.b1.Len() > 0 && p.b2.Len() > p.b1.Len() {
		delta = p.b2.Len() / p.b1.Len()
	}
	p.targetT1 += delta
	if p.targetT1 > p.capacity {
		p.targetT1 = p.capacity
	}
}

// adaptOnB2Hit shrinks the recency target in favor of frequency.
func (p *arcPolicy) adaptOnB2Hit() {
	delta := 1
	if p.b2.Len() > 0 && p.b1.Len() > p.b2.Len() {
		delta = p.b1.Len() / p.b2.Len()
	}
	p.targetT1 -= delta
	if p.targetT1 < 0 {
		p.targetT1 = 0
	}
}

func (p *arcPolicy) RecordPin(frameID uint32) {}

func (p *arcPolicy) RecordUnpin(frameID uint32) {}

func (p *arcPolicy) RecordEviction(frameID uint32, pageNo uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.frames[frameID]
	if !ok {
		return
	}

	switch entry.list {
	case arcT1:
		p.t1.Remove(entry.elem)
		p.ghosts[pageNo] = &arcEntry{elem: p.b1.PushFront(pageNo), list: arcB1}
	case arcT2:
		p.t2.Remove(entry.elem)
		p.ghosts[pageNo] = &arcEntry{elem: p.b2.PushFront(pageNo), list: arcB2}
	}
	delete(p.frames, frameID)
	p.trimGhosts()
}

// trimGhosts bounds B1 so L1 = T1 + B1 stays within capacity, and B2 so the
// whole directory stays within twice the capacity.
func (p *arcPolicy) trimGhosts() {
	for p.t1.Len()+p.b1.Len() > p.capacity && p.b1.Len() > 0 {
		oldest := p.b1.Back()
		delete(p.ghosts, oldest.Value.(uint64))
		p.b1.Remove(oldest)
	}
	total := p.t1.Len() + p.t2.Len() + p.b1.Len() + p.b2.Len()
	for total > 2*p.capacity && p.b2.Len() > 0 {
		oldest := p.b2.Back()
		delete(p.ghosts, oldest.Value.(uint64))
		p.b2.Remove(oldest)
		total--
	}
}

func (p *arcPolicy) FindVictim(frames []*Frame) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var steps uint64

	// Evict from T1 while it exceeds its target, otherwise from T2. Either
	// way, fall through to the other list before giving up.
	first, second := p.t2, p.t1
	if p.t1.Len() > p.targetT1 || p.t2.Len() == 0 {
		first, second = p.t1, p.t2
	}

	for _, l := range []*list.List{first, second} {
		for e := l.Back(); e != nil; e = e.Prev() {
			steps++
			frameID := e.Value.(uint32)
			if evictable(frames[frameID]) {
				p.stats.recordSearch(steps, true)
				return frameID, true
			}
		}
	}

	p.stats.recordSearch(steps, false)
	return 0, false
}

func (p *arcPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targetT1 = p.capacity / 2
	p.t1.Init()
	p.t2.Init()
	p.b1.Init()
	p.b2.Init()
	p.frames = make(map[uint32]*arcEntry)
	p.ghosts = make(map[uint64]*arcEntry)
}
