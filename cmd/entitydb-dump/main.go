// Package main provides a tool that exports an entity store as BSON.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"go.uber.org/zap"

	"github.com/devrev/entitydb/internal/app"
	"github.com/devrev/entitydb/internal/config"
	"github.com/devrev/entitydb/internal/dump"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	outDir := flag.String("out", "dump", "output directory")
	pageSize := flag.Int("page-size", 500, "entities read per query page")
	concurrency := flag.Int("concurrency", 4, "entity types exported in parallel")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	// Exports bypass the query cache.
	cfg.Cache.Driver = config.CacheNone

	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := app.Open(ctx, cfg, nil, logger)
	if err != nil {
		logger.Fatal("failed to open entity store", zap.Error(err))
	}

	exporter := dump.NewExporter(store, dump.Config{PageSize: *pageSize, Concurrency: *concurrency}, logger)
	stats, err := exporter.ExportAll(ctx, *outDir)
	if cerr := store.Close(); cerr != nil {
		logger.Error("failed to close store", zap.Error(cerr))
	}
	if err != nil {
		logger.Fatal("export failed", zap.Error(err))
	}

	names := make([]string, 0, len(stats.Entities))
	for name := range stats.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		logger.Info("exported", zap.String("entity", name), zap.Int("count", stats.Entities[name]))
	}
}
