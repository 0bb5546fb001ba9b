package bufferpool

import (
	"fmt"
	"sort"
	"time"

	"github.com/granitedb/granitebp/logger"
)

// flushEngine writes dirty pages back in the background so evictions rarely
// stall on a synchronous write.
type flushEngine struct {
	pool      *BufferPool
	interval  time.Duration
	threshold float64
	maxBatch  int

	stopChan chan struct{}
	done     chan struct{}
}

func newFlushEngine(pool *BufferPool, cfg Config) *flushEngine {
	fe := &flushEngine{
		pool:      pool,
		interval:  cfg.FlushInterval,
		threshold: cfg.DirtyThreshold,
		maxBatch:  cfg.MaxFlushBatch,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	go fe.run()
	return fe
}

func (fe *flushEngine) run() {
	defer close(fe.done)

	ticker := time.NewTicker(fe.interval)
	defer ticker.Stop()

	for {
		select {
		case <-fe.stopChan:
			return
		case <-ticker.C:
			if fe.pool.DirtyRatio() < fe.threshold {
				continue
			}
			flushed, err := fe.pool.flushDirtyBatch(fe.maxBatch, false)
			if err != nil {
				logger.Errorf("background flush failed: %v", err)
				continue
			}
			if flushed > 0 {
				logger.Debugf("background flush wrote %d pages", flushed)
			}
		}
	}
}

func (fe *flushEngine) close() {
	close(fe.stopChan)
	<-fe.done
}

// dirtyFrame is a flush candidate with a stable copy of its contents.
type dirtyFrame struct {
	frame   *Frame
	pageNo  uint64
	version uint64
	data    []byte
}

// flushDirtyBatch writes up to limit dirty frames (0 means no limit).
// Pinned frames are skipped unless includePinned is set; FlushAll includes
// them since a pinned page may still be dirty. Returns how many pages hit
// the disk.
func (bp *BufferPool) flushDirtyBatch(limit int, includePinned bool) (int, error) {
	candidates := bp.collectDirty(limit, includePinned)
	if len(candidates) == 0 {
		return 0, nil
	}
	return bp.writeBatch(candidates)
}

// collectDirty claims dirty frames for flushing via their I/O flag and
// snapshots their contents under the frame latch.
func (bp *BufferPool) collectDirty(limit int, includePinned bool) []*dirtyFrame {
	var out []*dirtyFrame
	for _, f := range bp.arena.Frames() {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !f.IsDirty() || f.PageNo() == InvalidPageNo {
			continue
		}
		if !includePinned && f.IsPinned() {
			continue
		}
		if !f.BeginIO() {
			continue
		}
		if !f.IsDirty() {
			f.EndIO()
			continue
		}

		f.Latch().RLock()
		version, _ := f.Latch().ReadVersion()
		data := make([]byte, len(f.Data()))
		copy(data, f.Data())
		pageNo := f.PageNo()
		f.Latch().RUnlock()

		out = append(out, &dirtyFrame{frame: f, pageNo: pageNo, version: version, data: data})
	}
	return out
}

// writeBatch sorts candidates by page number and coalesces contiguous runs
// into single disk calls. The dirty flag is only cleared when no writer
// touched the frame between snapshot and write, so a racing modification
// stays scheduled for the next cycle.
func (bp *BufferPool) writeBatch(candidates []*dirtyFrame) (int, error) {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].pageNo < candidates[j].pageNo
	})

	release := func(from int) {
		for _, c := range candidates[from:] {
			c.frame.EndIO()
		}
	}

	flushed := 0
	for i := 0; i < len(candidates); {
		j := i + 1
		for j < len(candidates) && candidates[j].pageNo == candidates[j-1].pageNo+1 {
			j++
		}

		run := candidates[i:j]
		pages := make([][]byte, len(run))
		for k, c := range run {
			pages[k] = c.data
		}

		bp.stats.RecordFlushBatch()
		if err := bp.disk.WritePages(run[0].pageNo, pages); err != nil {
			for range run {
				bp.stats.RecordFlush(false)
			}
			release(i)
			return flushed, NewError("flush batch", fmt.Errorf("%w: writing %d pages at %d: %v",
				ErrIOFailure, len(run), run[0].pageNo, err))
		}

		for _, c := range run {
			if c.frame.Latch().Validate(c.version) {
				c.frame.ClearDirty()
			}
			c.frame.EndIO()
			bp.stats.RecordWrite()
			bp.stats.RecordFlush(true)
			flushed++
		}
		i = j
	}
	return flushed, nil
}
