package bufferpool

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// PolicyKind selects one of the built-in eviction algorithms. The set is
// closed: the pool constructs policies itself and callers pick by kind, so
// every algorithm's bookkeeping stays internal to this package.
type PolicyKind int

const (
	PolicyClock PolicyKind = iota
	PolicyLRU
	Policy2Q
	PolicyLRUK
	PolicyARC
	PolicyLIRS
)

func (k PolicyKind) String() string {
	switch k {
	case PolicyClock:
		return "clock"
	case PolicyLRU:
		return "lru"
	case Policy2Q:
		return "2q"
	case PolicyLRUK:
		return "lru-k"
	case PolicyARC:
		return "arc"
	case PolicyLIRS:
		return "lirs"
	default:
		return fmt.Sprintf("policy(%d)", int(k))
	}
}

// ParsePolicy maps a config string to a PolicyKind.
func ParsePolicy(name string) (PolicyKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "clock", "":
		return PolicyClock, nil
	case "lru":
		return PolicyLRU, nil
	case "2q", "twoq":
		return Policy2Q, nil
	case "lru-k", "lruk":
		return PolicyLRUK, nil
	case "arc":
		return PolicyARC, nil
	case "lirs":
		return PolicyLIRS, nil
	default:
		return PolicyClock, NewError("parse policy", fmt.Errorf("%w: unknown eviction policy %q", ErrInvalidConfig, name))
	}
}

// Policy is the contract every eviction algorithm implements. Calls may
// arrive concurrently from any number of goroutines, so implementations
// guard their own state; the pool takes no lock of its own around them.
type Policy interface {
	// Name returns the algorithm name for logs and stats.
	Name() string

	// RecordAccess notes that pageNo was touched while resident in frameID.
	RecordAccess(frameID uint32, pageNo uint64)

	// RecordPin notes a pin, so list-based policies can skip hot frames.
	RecordPin(frameID uint32)

	// RecordUnpin notes a pin release.
	RecordUnpin(frameID uint32)

	// RecordEviction notes that pageNo left frameID. Ghost-keeping policies
	// remember the page number afterwards.
	RecordEviction(frameID uint32, pageNo uint64)

	// FindVictim picks an evictable frame, skipping pinned and in-I/O
	// frames. Returns false when no frame can be evicted right now.
	FindVictim(frames []*Frame) (uint32, bool)

	// Reset drops all bookkeeping, for policy swaps on a quiesced pool.
	Reset()
}

// EvictionStats counts victim-search activity, shared by all policies.
type EvictionStats struct {
	VictimSearches  uint64
	Evictions       uint64
	FailedSearches  uint64
	SearchSteps     uint64
}

func (s *EvictionStats) recordSearch(steps uint64, found bool) {
	atomic.AddUint64(&s.VictimSearches, 1)
	atomic.AddUint64(&s.SearchSteps, steps)
	if found {
		atomic.AddUint64(&s.Evictions, 1)
	} else {
		atomic.AddUint64(&s.FailedSearches, 1)
	}
}

// AvgSearchLength returns the mean number of frames inspected per search.
func (s *EvictionStats) AvgSearchLength() float64 {
	searches := atomic.LoadUint64(&s.VictimSearches)
	if searches == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&s.SearchSteps)) / float64(searches)
}

// evictable reports whether a frame can be reclaimed right now.
func evictable(f *Frame) bool {
	return f.PageNo() != InvalidPageNo && !f.IsPinned() && !f.IOInProgress()
}

// newPolicy builds the algorithm for kind. capacity is the frame count;
// lrukHistory and lrukCorrelation are only meaningful for LRU-K.
func newPolicy(kind PolicyKind, capacity, lrukHistory, lrukCorrelation int) Policy {
	switch kind {
	case PolicyLRU:
		return newLRUPolicy()
	case Policy2Q:
		return newTwoQPolicy(capacity)
	case PolicyLRUK:
		return newLRUKPolicy(lrukHistory, lrukCorrelation)
	case PolicyARC:
		return newARCPolicy(capacity)
	case PolicyLIRS:
		return newLIRSPolicy(capacity)
	default:
		return newClockPolicy()
	}
}
