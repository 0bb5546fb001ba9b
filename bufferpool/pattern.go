package bufferpool

import (
	"fmt"
	"sync"
)

// PatternKind classifies a request stream.
type PatternKind int

const (
	PatternUnknown PatternKind = iota
	PatternSequentialForward
	PatternSequentialBackward
	PatternStrided
	PatternRandom
)

func (k PatternKind) String() string {
	switch k {
	case PatternSequentialForward:
		return "sequential-forward"
	case PatternSequentialBackward:
		return "sequential-backward"
	case PatternStrided:
		return "strided"
	case PatternRandom:
		return "random"
	default:
		return "unknown"
	}
}

// AccessPattern is a detected pattern plus its confidence.
type AccessPattern struct {
	Kind       PatternKind
	Stride     int64 // meaningful for PatternStrided only
	Confidence float64
}

func (p AccessPattern) String() string {
	if p.Kind == PatternStrided {
		return fmt.Sprintf("%s(%+d) conf=%.2f", p.Kind, p.Stride, p.Confidence)
	}
	return fmt.Sprintf("%s conf=%.2f", p.Kind, p.Confidence)
}

// ShouldPrefetch reports whether the pattern is predictable enough to act on.
func (p AccessPattern) ShouldPrefetch() bool {
	if p.Confidence <= 0.5 {
		return false
	}
	switch p.Kind {
	case PatternSequentialForward, PatternSequentialBackward, PatternStrided:
		return true
	default:
		return false
	}
}

// minPatternDeltas is how many matching consecutive deltas a stream must
// show before it counts as a pattern at all.
const minPatternDeltas = 3

// PatternDetector watches one request stream and classifies it. Observe is
// cheap and never blocks on I/O; the caller holds no pool locks while
// calling it.
type PatternDetector struct {
	mu      sync.Mutex
	history []uint64
	maxLen  int
}

// NewPatternDetector creates a detector remembering up to historyLen requests.
func NewPatternDetector(historyLen int) *PatternDetector {
	if historyLen < minPatternDeltas+1 {
		historyLen = minPatternDeltas + 1
	}
	return &PatternDetector{
		history: make([]uint64, 0, historyLen),
		maxLen:  historyLen,
	}
}

// Observe records a page request and returns the current classification.
func (d *PatternDetector) Observe(pageNo uint64) AccessPattern {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.history) == d.maxLen {
		copy(d.history, d.history[1:])
		d.history = d.history[:d.maxLen-1]
	}
	d.history = append(d.history, pageNo)

	return d.classifyLocked()
}

// Current returns the classification without recording a request.
func (d *PatternDetector) Current() AccessPattern {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifyLocked()
}

// LastPage returns the most recent request, if any.
func (d *PatternDetector) LastPage() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.history) == 0 {
		return 0, false
	}
	return d.history[len(d.history)-1], true
}

func (d *PatternDetector) classifyLocked() AccessPattern {
	if len(d.history) < minPatternDeltas+1 {
		return AccessPattern{Kind: PatternUnknown}
	}

	deltas := make([]int64, len(d.history)-1)
	for i := 1; i < len(d.history); i++ {
		deltas[i-1] = int64(d.history[i]) - int64(d.history[i-1])
	}

	// Dominant delta across the window. A short burst of one stride inside
	// noise is not a pattern; 70% of the deltas have to agree.
	counts := make(map[int64]int)
	var best int64
	bestCount := 0
	for _, delta := range deltas {
		counts[delta]++
		if counts[delta] > bestCount {
			best = delta
			bestCount = counts[delta]
		}
	}

	if bestCount < minPatternDeltas || float64(bestCount) < 0.7*float64(len(deltas)) || best == 0 {
		return AccessPattern{Kind: PatternRandom, Confidence: 0.3}
	}

	switch {
	case best == 1:
		return AccessPattern{
			Kind:       PatternSequentialForward,
			Confidence: capConfidence(float64(bestCount)/5.0, 1.0),
		}
	case best == -1:
		return AccessPattern{
			Kind:       PatternSequentialBackward,
			Confidence: capConfidence(float64(bestCount)/5.0, 1.0),
		}
	default:
		return AccessPattern{
			Kind:       PatternStrided,
			Stride:     best,
			Confidence: capConfidence(float64(bestCount)/8.0, 0.9),
		}
	}
}

func capConfidence(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}
