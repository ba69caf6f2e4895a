// Command metacored boots the thread pool and the metablock manager that
// anchors a log-structured storage file's recovery point.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ringhead/metacore/internal/config"
	"github.com/ringhead/metacore/internal/extent"
	"github.com/ringhead/metacore/internal/metablock"
	"github.com/ringhead/metacore/internal/runtime"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("metacored", pflag.ContinueOnError)
	dbFile := flags.String("db-file", "metacore.db", "path to the database file backing the metablock ring")
	configPath := flags.String("config", "", "path to a YAML config file (defaults to built-in settings)")
	workers := flags.Int("workers", 0, "override the number of data workers (0 keeps the config value)")
	affinity := flags.Bool("affinity", true, "pin each worker to a CPU core")

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck
	log := logger.Sugar()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Errorw("failed to load config", "error", err)
		return 1
	}
	if *workers > 0 {
		cfg.Runtime.NumWorkers = *workers
	}
	cfg.Runtime.Affinity = *affinity

	if err := config.Validate(cfg); err != nil {
		log.Errorw("invalid config", "error", err)
		return 1
	}

	file, err := os.OpenFile(*dbFile, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		log.Errorw("failed to open database file", "path", *dbFile, "error", err)
		return 1
	}
	defer file.Close()

	layout := metablock.Layout{
		PayloadSize: cfg.Metablock.PayloadSize,
		DebugMagic:  cfg.Metablock.DebugMagic,
	}
	geometry, err := metablock.NewGeometry(layout, cfg.Metablock.StaticHeaderSize, cfg.Metablock.ExtentSize)
	if err != nil {
		log.Errorw("invalid metablock geometry", "error", err)
		return 1
	}

	pool := runtime.NewThreadPool(cfg.Runtime, log)

	log.Infow("starting metacored",
		"db_file", *dbFile,
		"workers", cfg.Runtime.NumWorkers,
		"affinity", cfg.Runtime.Affinity,
		"total_ring_slots", geometry.TotalSlots(),
	)

	go startMetablockRecovery(pool, geometry, file, log)

	if err := pool.Run(); err != nil {
		log.Errorw("thread pool exited with error", "error", err)
		return 1
	}

	log.Infow("metacored shut down cleanly")
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// startMetablockRecovery waits for the utility worker to exist, then
// starts the recovery scan on it. Run in its own goroutine because
// ThreadPool.Run blocks its caller until shutdown, and the utility
// worker only appears in pool.Worker once its own goroutine inside Run
// has constructed it.
func startMetablockRecovery(pool *runtime.ThreadPool, geometry metablock.Geometry, file *os.File, log *zap.SugaredLogger) {
	worker := awaitUtilityWorker(pool)
	if worker == nil {
		return
	}

	blockingPool := pool.BlockingPool()
	directFile := metablock.NewPooledFile(file, blockingPool)

	mgr := metablock.NewManager(geometry, directFile, extent.NoopManager{}, worker, log)

	if err := mgr.Start(func(found bool, current metablock.CRCMetablock, err error) {
		if err != nil {
			log.Errorw("metablock recovery failed", "error", err)
			return
		}
		if !found {
			log.Infow("metablock ring empty, starting fresh")
			return
		}
		log.Infow("metablock ring recovered", "version", current.Version)
	}); err != nil {
		log.Errorw("failed to start metablock manager", "error", err)
	}
}

// awaitUtilityWorker blocks (briefly) until the thread pool has passed
// the utility worker is constructed. Returns nil if that has not
// happened after about a second (1000 polls, 1ms apart).
func awaitUtilityWorker(pool *runtime.ThreadPool) *runtime.Worker {
	for i := 0; i < 1000; i++ {
		if w, ok := pool.Worker(pool.UtilityWorkerID()); ok {
			return w
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}
