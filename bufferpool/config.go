package bufferpool

import (
	"fmt"
	"time"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultPoolSize   = 1024
	DefaultPageSize   = 4096
	DefaultPartitions = 16

	DefaultLatchSpinRetries = 64

	DefaultPrefetchWorkers   = 2
	DefaultPrefetchWindow    = 4
	DefaultPrefetchWindowMin = 2
	DefaultPrefetchWindowMax = 16
	DefaultPrefetchQueueSize = 256
	DefaultPatternHistory    = 20
	DefaultPrefetchThrottle  = 0.9

	DefaultFlushInterval  = 1 * time.Second
	DefaultDirtyThreshold = 0.7
	DefaultMaxFlushBatch  = 32

	DefaultLRUKHistory = 2
)

// WALHook is invoked with the page number and its dirty contents before the
// page is written out during eviction. A non-nil return aborts the eviction
// so no unlogged data ever reaches disk.
type WALHook func(pageNo uint64, data []byte) error

// Config controls pool sizing, eviction, prefetch and flushing. All values
// are fixed at construction; the pool never reconfigures itself mid-flight.
type Config struct {
	// PoolSize is the number of frames in the arena.
	PoolSize int

	// PageSize is the size of each frame in bytes.
	PageSize int

	// Partitions is the number of page table shards.
	Partitions int

	// Policy selects the eviction algorithm.
	Policy PolicyKind

	// LRUKHistory is the K in LRU-K. Ignored by other policies.
	LRUKHistory int

	// LRUKCorrelation collapses LRU-K re-references closer than this many
	// accesses into one, so rapid re-touches do not inflate the K-history.
	// Zero disables the window. Ignored by other policies.
	LRUKCorrelation int

	// LatchSpinRetries is how many optimistic read attempts a frame latch
	// allows before escalating to the blocking path.
	LatchSpinRetries int

	// EnablePrefetch turns the pattern detector and prefetch workers on.
	EnablePrefetch bool

	PrefetchWorkers   int
	PrefetchWindow    int
	PrefetchWindowMin int
	PrefetchWindowMax int
	PrefetchQueueSize int
	PatternHistory    int

	// PrefetchThrottle suspends prefetching while pool occupancy is above
	// this fraction.
	PrefetchThrottle float64

	// EnableFlusher turns the background flush goroutine on.
	EnableFlusher bool

	// FlushInterval is how often the flusher wakes up.
	FlushInterval time.Duration

	// DirtyThreshold is the dirty-frame fraction above which the flusher
	// writes a batch.
	DirtyThreshold float64

	// MaxFlushBatch caps the number of pages per flush cycle.
	MaxFlushBatch int

	// HugePages requests transparent huge pages for the frame slab.
	// Best effort; a refusal from the kernel is logged and ignored.
	HugePages bool

	// OnBeforeEvict, when set, runs before any dirty page is evicted.
	OnBeforeEvict WALHook
}

// DefaultConfig returns a config with every field at its default.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Partitions == 0 {
		c.Partitions = DefaultPartitions
	}
	if c.LRUKHistory == 0 {
		c.LRUKHistory = DefaultLRUKHistory
	}
	if c.LatchSpinRetries == 0 {
		c.LatchSpinRetries = DefaultLatchSpinRetries
	}
	if c.PrefetchWorkers == 0 {
		c.PrefetchWorkers = DefaultPrefetchWorkers
	}
	if c.PrefetchWindow == 0 {
		c.PrefetchWindow = DefaultPrefetchWindow
	}
	if c.PrefetchWindowMin == 0 {
		c.PrefetchWindowMin = DefaultPrefetchWindowMin
	}
	if c.PrefetchWindowMax == 0 {
		c.PrefetchWindowMax = DefaultPrefetchWindowMax
	}
	if c.PrefetchQueueSize == 0 {
		c.PrefetchQueueSize = DefaultPrefetchQueueSize
	}
	if c.PatternHistory == 0 {
		c.PatternHistory = DefaultPatternHistory
	}
	if c.PrefetchThrottle == 0 {
		c.PrefetchThrottle = DefaultPrefetchThrottle
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.DirtyThreshold == 0 {
		c.DirtyThreshold = DefaultDirtyThreshold
	}
	if c.MaxFlushBatch == 0 {
		c.MaxFlushBatch = DefaultMaxFlushBatch
	}
	return c
}

// Validate checks the filled-in config.
func (c Config) Validate() error {
	if c.PoolSize <= 0 {
		return NewError("config", fmt.Errorf("%w: pool size %d", ErrInvalidConfig, c.PoolSize))
	}
	if c.PageSize <= 0 || c.PageSize%512 != 0 {
		return NewError("config", fmt.Errorf("%w: page size %d", ErrInvalidConfig, c.PageSize))
	}
	if c.Partitions <= 0 {
		return NewError("config", fmt.Errorf("%w: partitions %d", ErrInvalidConfig, c.Partitions))
	}
	if c.LRUKHistory <= 0 {
		return NewError("config", fmt.Errorf("%w: lru-k history %d", ErrInvalidConfig, c.LRUKHistory))
	}
	if c.LRUKCorrelation < 0 {
		return NewError("config", fmt.Errorf("%w: lru-k correlation %d", ErrInvalidConfig, c.LRUKCorrelation))
	}
	if c.PrefetchWindowMin > c.PrefetchWindowMax {
		return NewError("config", fmt.Errorf("%w: prefetch window min %d > max %d",
			ErrInvalidConfig, c.PrefetchWindowMin, c.PrefetchWindowMax))
	}
	if c.PrefetchThrottle <= 0 || c.PrefetchThrottle > 1 {
		return NewError("config", fmt.Errorf("%w: prefetch throttle %v", ErrInvalidConfig, c.PrefetchThrottle))
	}
	if c.DirtyThreshold < 0 || c.DirtyThreshold > 1 {
		return NewError("config", fmt.Errorf("%w: dirty threshold %v", ErrInvalidConfig, c.DirtyThreshold))
	}
	if c.MaxFlushBatch <= 0 {
		return NewError("config", fmt.Errorf("%w: flush batch %d", ErrInvalidConfig, c.MaxFlushBatch))
	}
	return nil
}
