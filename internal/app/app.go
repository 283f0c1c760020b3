// Package app wires configuration into a running entity store. Both the
// server and the dump tool start from here.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devrev/entitydb/internal/cache"
	"github.com/devrev/entitydb/internal/config"
	"github.com/devrev/entitydb/internal/kv"
	"github.com/devrev/entitydb/internal/kv/memstore"
	"github.com/devrev/entitydb/internal/kv/pgstore"
	"github.com/devrev/entitydb/internal/metrics"
	"github.com/devrev/entitydb/internal/schemafile"
	"github.com/devrev/entitydb/internal/service"
)

// NewLogger builds a zap logger from the logging section.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	output := cfg.Output
	if output == "" {
		output = "stdout"
	}
	zc.OutputPaths = []string{output}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}

// OpenKV opens the configured key/value store.
func OpenKV(ctx context.Context, cfg *config.Config, logger *zap.Logger) (kv.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		mc := memstore.Config{LockTimeout: cfg.Store.LockTimeout}
		if cfg.Store.DataDir != "" {
			mc.CommitLog = &memstore.CommitLogConfig{
				Dir:              filepath.Join(cfg.Store.DataDir, "commitlog"),
				SegmentSize:      cfg.Store.CommitLog.SegmentSize,
				SyncWrites:       cfg.Store.CommitLog.SyncWrites,
				RotationInterval: cfg.Store.CommitLog.RotationInterval,
			}
		}
		st, err := memstore.New(mc, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StorePostgres:
		st, err := pgstore.New(ctx, pgstore.Config{
			Host:        cfg.Postgres.Host,
			Port:        cfg.Postgres.Port,
			Database:    cfg.Postgres.Database,
			User:        cfg.Postgres.User,
			Password:    cfg.Postgres.Password,
			MaxConns:    cfg.Postgres.MaxConns,
			MinConns:    cfg.Postgres.MinConns,
			LockTimeout: cfg.Store.LockTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// OpenCache returns the configured query cache, or nil when caching is off.
func OpenCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, error) {
	switch cfg.Cache.Driver {
	case config.CacheNone, "":
		return nil, nil
	case config.CacheMemory:
		return cache.NewInMemoryCache(cfg.Cache.MaxEntries, cfg.Cache.CleanupInterval, logger), nil
	case config.CacheRedis:
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxRetries:   cfg.Redis.MaxRetries,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			KeyPrefix:    cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		return rc, nil
	}
	return nil, fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
}

// Open builds the entity store described by cfg and applies the schema file
// when one is configured. m may be nil.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*service.EntityStore, error) {
	store, err := OpenKV(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	c, err := OpenCache(cfg, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	es, err := service.NewEntityStore(ctx, store, service.Options{
		Cache:    c,
		CacheTTL: cfg.Cache.TTL,
		Metrics:  m,
	}, logger)
	if err != nil {
		if c != nil {
			c.Close()
		}
		store.Close()
		return nil, err
	}

	if cfg.SchemaFile != "" {
		f, err := schemafile.Load(cfg.SchemaFile)
		if err != nil {
			es.Close()
			return nil, err
		}
		if _, err := schemafile.Apply(ctx, es, f, logger); err != nil {
			es.Close()
			return nil, err
		}
	}
	return es, nil
}
