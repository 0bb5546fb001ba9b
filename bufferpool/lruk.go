package bufferpool

import "sync"

// lrukPolicy evicts by backward K-distance: the victim is the frame whose
// K-th most recent access is oldest. Frames with fewer than K recorded
// accesses have infinite distance and go first, which keeps one-shot scans
// from displacing pages with established reuse. Re-references landing
// within the correlation window collapse into the previous one, so a burst
// of rapid touches counts as a single reference.
type lrukPolicy struct {
	mu      sync.Mutex
	k       int
	corr    uint64
	clock   uint64
	history map[uint32][]uint64
	stats   EvictionStats
}

func newLRUKPolicy(k, correlation int) *lrukPolicy {
	if k < 1 {
		k = 1
	}
	if correlation < 0 {
		correlation = 0
	}
	return &lrukPolicy{
		k:       k,
		corr:    uint64(correlation),
		history: make(map[uint32][]uint64),
	}
}

func (p *lrukPolicy) Name() string { return "lru-k" }

func (p *lrukPolicy) RecordAccess(frameID uint32, pageNo uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clock++
	h := p.history[frameID]
	if p.corr > 0 && len(h) > 0 && p.clock-h[len(h)-1] <= p.corr {
		// Correlated re-reference: refresh the last entry instead of
		// counting a new one.
		h[len(h)-1] = p.clock
		return
	}
	h = append(h, p.clock)
	if len(h) > p.k {
		h = h[len(h)-p.k:]
	}
	p.history[frameID] = h
}

func (p *lrukPolicy) RecordPin(frameID uint32) {}

func (p *lrukPolicy) RecordUnpin(frameID uint32) {}

func (p *lrukPolicy) RecordEviction(frameID uint32, pageNo uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.history, frameID)
}

func (p *lrukPolicy) FindVictim(frames []*Frame) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var steps uint64
	var victim uint32
	found := false
	victimShort := false // fewer than K accesses
	var victimKey uint64 // K-th most recent access of the current victim

	for _, f := range frames {
		if !evictable(f) {
			continue
		}
		steps++

		h := p.history[f.ID()]
		short := len(h) < p.k
		var key uint64
		if len(h) > 0 {
			key = h[0]
		}

		better := false
		switch {
		case !found:
			better = true
		case short && !victimShort:
			better = true
		case short == victimShort && key < victimKey:
			better = true
		}
		if better {
			victim = f.ID()
			victimShort = short
			victimKey = key
			found = true
		}
	}

	p.stats.recordSearch(steps, found)
	return victim, found
}

func (p *lrukPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = 0
	p.history = make(map[uint32][]uint64)
}
