package cli

import (
	"context"
	"fmt"
	"os"

	"mediaref/internal/database"
	"mediaref/internal/duplicates"
	"mediaref/internal/filesystem"
	"mediaref/internal/indexer"
	"mediaref/internal/jobs"
	"mediaref/internal/memory"
	"mediaref/internal/rename"
	"mediaref/internal/scanner"
	"mediaref/internal/startup"
)

// env is the set of components a command works with. Unlike the server it
// starts no background syncs or schedulers; commands drive the work.
type env struct {
	config *startup.Config
	db     *database.Database
	idx    *indexer.Indexer
	det    *duplicates.Detector
	eng    *rename.Engine
	sched  *jobs.Scheduler
	mem    *memory.Monitor
}

func loadConfig(opts *Options) (*startup.Config, error) {
	v, err := startup.NewViper(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	s, err := startup.ReadSettings(v)
	if err != nil {
		return nil, err
	}
	config, err := startup.Resolve(s)
	if err != nil {
		return nil, err
	}
	config.ConfigFile = v.ConfigFileUsed()
	return config, nil
}

func openEnv(ctx context.Context, opts *Options) (*env, error) {
	config, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(config.DatabaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := database.New(ctx, config.DatabasePath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", config.DatabasePath, err)
	}

	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(map[string]string{
		"media":    config.MediaDir,
		"database": config.DatabaseDir,
	}))
	memory.Configure(config.MemoryLimit, config.MemoryRatio)
	mem := memory.NewMonitor(memory.DefaultConfig())
	mem.Start()

	sc := scanner.New(scanner.Config{Prefix: config.UploadPrefix, BaseURLs: config.BaseURLs})
	idx := indexer.New(db, sc, config.MediaDir, indexer.Options{
		Fingerprint: config.Fingerprint,
		Walker:      indexer.DefaultParallelWalkerConfig(),
	})
	det := duplicates.New(db, config.MediaDir, duplicates.Options{
		QuickSample: config.QuickSample,
		DeepChunk:   config.DeepChunk,
		Threshold:   config.DuplicateThreshold,
		Gate:        mem,
	})
	eng := rename.New(db, sc, config.MediaDir, rename.Options{Freshness: config.Freshness})

	sched := jobs.New(db, jobs.Config{
		LeaseTTL:     config.LeaseTTL,
		TickInterval: config.TickInterval,
	})
	sched.Register(jobs.FamilyIndex, indexer.NewRunner(idx, config.ChunkSize))
	sched.Register(jobs.FamilyRename, rename.NewRunner(eng))
	sched.Register(jobs.FamilyDeepScan, duplicates.NewRunner(det))

	return &env{config: config, db: db, idx: idx, det: det, eng: eng, sched: sched, mem: mem}, nil
}

func (e *env) Close() error {
	e.idx.Stop()
	e.mem.Stop()
	return e.db.Close()
}
