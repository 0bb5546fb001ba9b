package bufferpool

import (
	"container/list"
	"sync"
)

// lruPolicy evicts the least recently used frame. Recency order lives in a
// doubly linked list with front = most recent.
type lruPolicy struct {
	mu       sync.Mutex
	order    *list.List
	elements map[uint32]*list.Element
	stats    EvictionStats
}

func newLRUPolicy() *lruPolicy {
	return &lruPolicy{
		order:    list.New(),
		elements: make(map[uint32]*list.Element),
	}
}

func (p *lruPolicy) Name() string { return "lru" }

func (p *lruPolicy) RecordAccess(frameID uint32, pageNo uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.elements[frameID]; ok {
		p.order.MoveToFront(e)
		return
	}
	p.elements[frameID] = p.order.PushFront(frameID)
}

func (p *lruPolicy) RecordPin(frameID uint32) {}

func (p *lruPolicy) RecordUnpin(frameID uint32) {}

func (p *lruPolicy) RecordEviction(frameID uint32, pageNo uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.elements[frameID]; ok {
		p.order.Remove(e)
		delete(p.elements, frameID)
	}
}

func (p *lruPolicy) FindVictim(frames []*Frame) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var steps uint64
	for e := p.order.Back(); e != nil; e = e.Prev() {
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

func (p *lruPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order.Init()
	p.elements = make(map[uint32]*list.Element)
}
