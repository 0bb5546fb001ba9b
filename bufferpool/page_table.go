package bufferpool

import (
	"sync"

	"github.com/granitedb/granitebp/util"
)

// PageTable maps page numbers to frame slots. It is sharded so lookups on
// different pages rarely contend on the same lock.
type PageTable struct {
	partitions []*tablePartition
}

type tablePartition struct {
	mu     sync.RWMutex
	frames map[uint64]uint32
}

// NewPageTable creates a table with numPartitions shards.
func NewPageTable(numPartitions int) *PageTable {
	t := &PageTable{
		partitions: make([]*tablePartition, numPartitions),
	}
	for i := range t.partitions {
		t.partitions[i] = &tablePartition{
			frames: make(map[uint64]uint32),
		}
	}
	return t
}

func (t *PageTable) partitionFor(pageNo uint64) *tablePartition {
	return t.partitions[util.HashUint64(pageNo)%uint64(len(t.partitions))]
}

// Lookup returns the frame holding pageNo.
func (t *PageTable) Lookup(pageNo uint64) (uint32, bool) {
	p := t.partitionFor(pageNo)
	p.mu.RLock()
	frameID, ok := p.frames[pageNo]
	p.mu.RUnlock()
	return frameID, ok
}

// Insert binds pageNo to frameID. Returns false if the page is already
// bound, keeping the single-residency invariant: at most one frame per page.
func (t *PageTable) Insert(pageNo uint64, frameID uint32) bool {
	p := t.partitionFor(pageNo)
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.frames[pageNo]; exists {
		return false
	}
	p.frames[pageNo] = frameID
	return true
}

// Remove unbinds pageNo. Returns the frame it was bound to, if any.
func (t *PageTable) Remove(pageNo uint64) (uint32, bool) {
	p := t.partitionFor(pageNo)
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, ok := p.frames[pageNo]
	if ok {
		delete(p.frames, pageNo)
	}
	return frameID, ok
}

// Len returns the number of resident pages.
func (t *PageTable) Len() int {
	total := 0
	for _, p := range t.partitions {
		p.mu.RLock()
		total += len(p.frames)
		p.mu.RUnlock()
	}
	return total
}

// Partitions returns the shard count.
func (t *PageTable) Partitions() int {
	return len(t.partitions)
}
