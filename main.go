package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"image-filter/internal/config"
	"image-filter/internal/debugserver"
	"image-filter/internal/decode"
	"image-filter/internal/grid"
	"image-filter/internal/index"
	"image-filter/internal/logging"
	"image-filter/internal/memory"
	"image-filter/internal/thumbcache"
	"image-filter/internal/viewport"
	"image-filter/internal/workers"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <source_folder> <destination_folder>\n", os.Args[0])
		os.Exit(2)
	}
	os.Exit(run(os.Args[1], os.Args[2]))
}

func run(source, dest string) int {
	startTime := time.Now()

	cfg, err := config.Load(source, dest)
	if err != nil {
		logging.Error("Configuration error: %v", err)
		return 1
	}

	memory.ConfigureFromEnv()

	decode.InitVips()
	defer decode.ShutdownVips()

	ix, err := index.Build(cfg.SourceDir)
	if err != nil {
		if errors.Is(err, index.ErrFolderNotFound) {
			logging.Error("Source folder invalid: %v", err)
		} else {
			logging.Error("Failed to index %s: %v", cfg.SourceDir, err)
		}
		return 1
	}
	if ix.Len() == 0 {
		logging.Info("No supported images in %s", cfg.SourceDir)
		return 0
	}

	if err := os.MkdirAll(cfg.DestDir, 0o755); err != nil {
		logging.Error("Destination folder invalid: %v", err)
		return 1
	}

	cache := thumbcache.New(decode.Decode, thumbcache.Options{
		MaxEntries:   cfg.MemoryCacheEntries,
		MaxBytes:     cfg.MemoryCacheBytes,
		DiskMaxBytes: cfg.DiskCacheBytes,
	})
	if err := cache.LoadPersisted(cfg.CacheDir); err != nil {
		logging.Warn("Disk cache unavailable, running memory-only: %v", err)
	}
	defer cache.Close()

	if cfg.MetricsAddr != "" {
		dbg := debugserver.Start(cfg.MetricsAddr, cache, ix)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := dbg.Stop(ctx); err != nil {
				logging.Warn("Debug listener shutdown error: %v", err)
			}
		}()
	}

	// Warm the thumbnail cache for the whole folder so the interactive
	// grid is instant on first scroll. The scheduler covers every row;
	// priority ordering matters little here but the plumbing is the same
	// one the live viewport uses.
	layout := grid.Layout{
		Columns: cfg.Columns,
		CellW:   cfg.CellWidth,
		CellH:   cfg.CellHeight,
		Total:   ix.Len(),
	}
	target := decode.Size{Width: cfg.ThumbSize, Height: cfg.ThumbSize}

	sched := viewport.NewScheduler(ix, cache, layout, target, workers.ForCPU(0))
	defer sched.Stop()
	sched.SetViewport(viewport.State{
		FirstRow:    0,
		VisibleRows: layout.Rows(),
		MarginRows:  cfg.MarginRows,
	})

	checkpoint := time.NewTicker(cfg.CheckpointInterval)
	defer checkpoint.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	warmed, failed := 0, 0
	for warmed+failed < ix.Len() {
		select {
		case r := <-sched.Results():
			if r.Err != nil {
				failed++
				logging.Warn("Thumbnail failed for identity %d: %v", r.ID, r.Err)
			} else {
				warmed++
			}
		case <-checkpoint.C:
			if err := cache.Persist(); err != nil {
				logging.Warn("Checkpoint persist failed: %v", err)
			}
		case sig := <-sigChan:
			logging.Info("Received %s, flushing cache", sig)
			if err := cache.Persist(); err != nil {
				logging.Warn("Final persist failed: %v", err)
			}
			return 0
		}
	}

	if err := cache.Persist(); err != nil {
		logging.Warn("Final persist failed: %v", err)
	}
	logging.Info("Warmed %d thumbnails (%d failed) in %v", warmed, failed, time.Since(startTime).Round(time.Millisecond))
	return 0
}
