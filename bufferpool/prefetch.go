package bufferpool

import (
	"container/list"
	"sync"
	"time"

	"github.com/granitedb/granitebp/logger"
)

// PrefetchWindow sizes the read-ahead burst. It widens while speculative
// loads keep getting used and narrows when they go to waste.
type PrefetchWindow struct {
	mu      sync.Mutex
	size    int
	min     int
	max     int
	hits    int
	samples int
}

// NewPrefetchWindow creates a window starting at initial pages.
func NewPrefetchWindow(initial, min, max int) *PrefetchWindow {
	return &PrefetchWindow{size: initial, min: min, max: max}
}

// Size returns the current window in pages.
func (w *PrefetchWindow) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Record feeds one outcome into the adapter. Adaptation happens every ten
// samples: above 80% useful the window grows by two, below 50% it shrinks
// by two, always staying within [min, max].
func (w *PrefetchWindow) Record(hit bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples++
	if hit {
		w.hits++
	}
	if w.samples < 10 {
		return
	}

	rate := float64(w.hits) / float64(w.samples)
	switch {
	case rate > 0.8 && w.size < w.max:
		w.size += 2
		if w.size > w.max {
			w.size = w.max
		}
	case rate < 0.5 && w.size > w.min:
		w.size -= 2
		if w.size < w.min {
			w.size = w.min
		}
	}
	w.hits = 0
	w.samples = 0
}

type prefetchRequest struct {
	pageNo   uint64
	priority int
}

// PrefetchEngine turns detected access patterns into background page loads.
// Requests go through a priority queue drained by worker goroutines; loads
// never steal pinned or dirty frames and arrive unpinned, so a wrong guess
// costs one clean frame at most.
type PrefetchEngine struct {
	pool   *BufferPool
	window *PrefetchWindow

	detectorsMu sync.Mutex
	detectors   map[string]*PatternDetector

	mu       sync.Mutex
	queue    *list.List // *prefetchRequest, front = highest priority
	queued   map[uint64]struct{}
	maxQueue int

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func newPrefetchEngine(pool *BufferPool, cfg Config) *PrefetchEngine {
	pf := &PrefetchEngine{
		pool:      pool,
		window:    NewPrefetchWindow(cfg.PrefetchWindow, cfg.PrefetchWindowMin, cfg.PrefetchWindowMax),
		detectors: make(map[string]*PatternDetector),
		queue:     list.New(),
		queued:    make(map[uint64]struct{}),
		maxQueue:  cfg.PrefetchQueueSize,
		stopChan:  make(chan struct{}),
	}

	for i := 0; i < cfg.PrefetchWorkers; i++ {
		pf.wg.Add(1)
		go pf.worker()
	}
	return pf
}

// Observe records a request on the named stream and, when the stream looks
// predictable, queues the next window of pages.
func (pf *PrefetchEngine) Observe(stream string, pageNo uint64) AccessPattern {
	pattern := pf.detector(stream).Observe(pageNo)

	if !pattern.ShouldPrefetch() {
		return pattern
	}

	throttled := pf.pool.Occupancy() > pf.pool.config.PrefetchThrottle
	pf.pool.stats.RecordPrefetch(!throttled, throttled)
	if throttled {
		return pattern
	}

	stride := pattern.Stride
	switch pattern.Kind {
	case PatternSequentialForward:
		stride = 1
	case PatternSequentialBackward:
		stride = -1
	}

	window := pf.window.Size()
	for i := 1; i <= window; i++ {
		next := int64(pageNo) + stride*int64(i)
		if next < 0 {
			break
		}
		// Nearest pages first.
		pf.enqueue(uint64(next), window-i)
	}
	return pattern
}

func (pf *PrefetchEngine) detector(stream string) *PatternDetector {
	pf.detectorsMu.Lock()
	defer pf.detectorsMu.Unlock()

	d, ok := pf.detectors[stream]
	if !ok {
		d = NewPatternDetector(pf.pool.config.PatternHistory)
		pf.detectors[stream] = d
	}
	return d
}

func (pf *PrefetchEngine) enqueue(pageNo uint64, priority int) {
	if _, resident := pf.pool.pageTable.Lookup(pageNo); resident {
		return
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if _, dup := pf.queued[pageNo]; dup {
		return
	}

	if pf.queue.Len() >= pf.maxQueue {
		// Full queue: drop the lowest-priority request if the new one
		// outranks it, otherwise drop the new one.
		lowest := pf.queue.Back()
		if lowest == nil || lowest.Value.(*prefetchRequest).priority >= priority {
			return
		}
		delete(pf.queued, lowest.Value.(*prefetchRequest).pageNo)
		pf.queue.Remove(lowest)
	}

	req := &prefetchRequest{pageNo: pageNo, priority: priority}
	inserted := false
	for e := pf.queue.Front(); e != nil; e = e.Next() {
		if priority > e.Value.(*prefetchRequest).priority {
			pf.queue.InsertBefore(req, e)
			inserted = true
			break
		}
	}
	if !inserted {
		pf.queue.PushBack(req)
	}
	pf.queued[pageNo] = struct{}{}
}

func (pf *PrefetchEngine) nextRequest() *prefetchRequest {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	front := pf.queue.Front()
	if front == nil {
		return nil
	}
	req := front.Value.(*prefetchRequest)
	pf.queue.Remove(front)
	delete(pf.queued, req.pageNo)
	return req
}

func (pf *PrefetchEngine) worker() {
	defer pf.wg.Done()

	for {
		select {
		case <-pf.stopChan:
			return
		default:
		}

		req := pf.nextRequest()
		if req == nil {
			select {
			case <-pf.stopChan:
				return
			case <-time.After(20 * time.Millisecond):
			}
			continue
		}

		if _, resident := pf.pool.pageTable.Lookup(req.pageNo); resident {
			continue
		}

		if err := pf.pool.loadPrefetched(req.pageNo); err != nil {
			if IsPoolExhausted(err) {
				// No clean frame right now; retry later at the back of
				// the queue rather than evicting dirty or pinned pages.
				pf.enqueue(req.pageNo, 0)
				select {
				case <-pf.stopChan:
					return
				case <-time.After(10 * time.Millisecond):
				}
				continue
			}
			logger.Warnf("prefetch of page %d failed: %v", req.pageNo, err)
		}
	}
}

// noteHit feeds a served-from-prefetch outcome into the window.
func (pf *PrefetchEngine) noteHit() {
	pf.window.Record(true)
	pf.pool.stats.RecordPrefetchHit()
}

// noteMiss feeds a had-to-read outcome into the window.
func (pf *PrefetchEngine) noteMiss() {
	pf.window.Record(false)
}

// QueueLen returns the number of pending requests.
func (pf *PrefetchEngine) QueueLen() int {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.queue.Len()
}

// WindowSize returns the current adaptive window.
func (pf *PrefetchEngine) WindowSize() int {
	return pf.window.Size()
}

func (pf *PrefetchEngine) close() {
	close(pf.stopChan)
	pf.wg.Wait()
}
