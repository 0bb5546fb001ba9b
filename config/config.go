package config

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/granitedb/granitebp/bufferpool"
)

// Cfg is the full process configuration read from an ini file.
type Cfg struct {
	// DataFile is the path of the page data file.
	DataFile string

	// LogLevel, LogPath and ErrorLogPath feed the logger.
	LogLevel     string
	LogPath      string
	ErrorLogPath string

	// Pool is everything the buffer pool needs.
	Pool bufferpool.Config
}

// Default returns the configuration used when no file is given.
func Default() Cfg {
	return Cfg{
		DataFile: "granite.db",
		LogLevel: "info",
		Pool:     bufferpool.DefaultConfig(),
	}
}

// Load reads path and overlays it on the defaults. A missing file is an
// error; a missing key keeps its default.
func Load(path string) (Cfg, error) {
	cfg := Default()

	file, err := ini.Load(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "loading config file %s", path)
	}

	general := file.Section("general")
	cfg.DataFile = general.Key("data_file").MustString(cfg.DataFile)
	cfg.LogLevel = general.Key("log_level").MustString(cfg.LogLevel)
	cfg.LogPath = general.Key("log_path").MustString(cfg.LogPath)
	cfg.ErrorLogPath = general.Key("error_log_path").MustString(cfg.ErrorLogPath)

	pool := file.Section("buffer_pool")
	cfg.Pool.PoolSize = pool.Key("pool_size").MustInt(cfg.Pool.PoolSize)
	cfg.Pool.PageSize = pool.Key("page_size").MustInt(cfg.Pool.PageSize)
	cfg.Pool.Partitions = pool.Key("partitions").MustInt(cfg.Pool.Partitions)
	cfg.Pool.LatchSpinRetries = pool.Key("latch_spin_retries").MustInt(cfg.Pool.LatchSpinRetries)
	cfg.Pool.HugePages = pool.Key("huge_pages").MustBool(cfg.Pool.HugePages)

	if name := pool.Key("eviction_policy").String(); name != "" {
		kind, err := bufferpool.ParsePolicy(name)
		if err != nil {
			return cfg, errors.Wrap(err, "parsing eviction_policy")
		}
		cfg.Pool.Policy = kind
	}
	cfg.Pool.LRUKHistory = pool.Key("lruk_history").MustInt(cfg.Pool.LRUKHistory)
	cfg.Pool.LRUKCorrelation = pool.Key("lruk_correlation").MustInt(cfg.Pool.LRUKCorrelation)

	prefetch := file.Section("prefetch")
	cfg.Pool.EnablePrefetch = prefetch.Key("enabled").MustBool(cfg.Pool.EnablePrefetch)
	cfg.Pool.PrefetchWorkers = prefetch.Key("workers").MustInt(cfg.Pool.PrefetchWorkers)
	cfg.Pool.PrefetchWindow = prefetch.Key("window").MustInt(cfg.Pool.PrefetchWindow)
	cfg.Pool.PrefetchWindowMin = prefetch.Key("window_min").MustInt(cfg.Pool.PrefetchWindowMin)
	cfg.Pool.PrefetchWindowMax = prefetch.Key("window_max").MustInt(cfg.Pool.PrefetchWindowMax)
	cfg.Pool.PrefetchQueueSize = prefetch.Key("queue_size").MustInt(cfg.Pool.PrefetchQueueSize)
	cfg.Pool.PatternHistory = prefetch.Key("pattern_history").MustInt(cfg.Pool.PatternHistory)
	cfg.Pool.PrefetchThrottle = prefetch.Key("throttle").MustFloat64(cfg.Pool.PrefetchThrottle)

	flush := file.Section("flush")
	cfg.Pool.EnableFlusher = flush.Key("enabled").MustBool(cfg.Pool.EnableFlusher)
	if v := flush.Key("interval").String(); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return cfg, errors.Wrapf(err, "parsing flush interval %q", v)
		}
		cfg.Pool.FlushInterval = interval
	}
	cfg.Pool.DirtyThreshold = flush.Key("dirty_threshold").MustFloat64(cfg.Pool.DirtyThreshold)
	cfg.Pool.MaxFlushBatch = flush.Key("max_batch").MustInt(cfg.Pool.MaxFlushBatch)

	if err := cfg.Pool.Validate(); err != nil {
		return cfg, errors.Wrap(err, "validating buffer pool config")
	}
	return cfg, nil
}
