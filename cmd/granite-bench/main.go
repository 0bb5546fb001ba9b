package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/granitedb/granitebp/bufferpool"
	"github.com/granitedb/granitebp/config"
	"github.com/granitedb/granitebp/logger"
	"github.com/granitedb/granitebp/storage/disk"
)

func main() {
	configPath := flag.String("config", "", "path to ini config file")
	pages := flag.Int("pages", 4096, "number of pages in the workload")
	ops := flag.Int("ops", 100000, "operations to run")
	writeRatio := flag.Float64("write-ratio", 0.2, "fraction of operations that write")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if err := logger.InitLogger(logger.LogConfig{
		LogLevel:     cfg.LogLevel,
		LogPath:      cfg.LogPath,
		ErrorLogPath: cfg.ErrorLogPath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	dm, err := disk.NewFileManager(cfg.DataFile, cfg.Pool.PageSize)
	if err != nil {
		logger.Fatalf("opening data file: %v", err)
	}

	pool, err := bufferpool.NewBufferPool(cfg.Pool, dm)
	if err != nil {
		logger.Fatalf("building buffer pool: %v", err)
	}

	logger.Infof("running %d ops over %d pages (policy=%s, write ratio %.0f%%)",
		*ops, *pages, pool.PolicyName(), *writeRatio*100)

	start := time.Now()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < *ops; i++ {
		pageNo := uint64(rng.Intn(*pages))
		guard, err := pool.FetchPage(pageNo)
		if err != nil {
			logger.Errorf("fetch page %d: %v", pageNo, err)
			continue
		}

		if rng.Float64() < *writeRatio {
			guard.Lock()
			guard.Data()[0] = byte(i)
			guard.Unlock()
			guard.Release(true)
		} else {
			guard.Read(func(data []byte) { _ = data[0] })
			guard.Release(false)
		}
	}
	elapsed := time.Since(start)

	if err := pool.Close(); err != nil {
		logger.Fatalf("closing pool: %v", err)
	}

	stats := pool.Stats().Snapshot()
	logger.Infof("done in %v (%.0f ops/s)", elapsed, float64(*ops)/elapsed.Seconds())
	logger.Infof("hit ratio %.2f%% (%d hits / %d requests)",
		pool.Stats().HitRatio()*100, stats.PageHits, stats.PageRequests)
	logger.Infof("reads=%d writes=%d evictions=%d failed-evictions=%d",
		stats.PageReads, stats.PageWrites, stats.PageEvictions, stats.FailedEvictions)
	logger.Infof("optimistic-reads=%d latch-escalations=%d", stats.OptimisticReads, stats.LatchEscalations)
}
