// Package service implements the EntityStore: the schema registry, entity
// CRUD with index maintenance and the query entry points. Every operation
// runs in one store transaction; no iterator outlives it.
package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/entitydb/internal/cache"
	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/executor"
	"github.com/devrev/entitydb/internal/index"
	"github.com/devrev/entitydb/internal/kv"
	"github.com/devrev/entitydb/internal/metrics"
	"github.com/devrev/entitydb/internal/model"
	"github.com/devrev/entitydb/internal/validation"
)

const (
	catalogBucket  = "sys.catalog"
	sequenceBucket = "sys.sequence"
)

// Options configures optional collaborators of the EntityStore.
type Options struct {
	// Cache holds query results. nil disables caching.
	Cache    cache.Cache
	CacheTTL time.Duration
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// EntityStore is the entry point for schema, data and query operations.
type EntityStore struct {
	store     kv.Store
	cache     cache.Cache
	cacheTTL  time.Duration
	metrics   *metrics.Metrics
	validator *validation.Validator
	logger    *zap.Logger

	// schemaMu serializes schema changes, which span bucket creation and
	// a catalog transaction. Data operations hold it shared for their whole
	// transaction so the index set they write and read cannot change
	// underneath them.
	schemaMu sync.RWMutex

	mu      sync.RWMutex
	defs    map[string]*model.EntityDefinition
	indexes map[string]map[string]*registeredIndex
}

// registeredIndex pairs a declaration with its compiled key schema.
type registeredIndex struct {
	index  *model.EntityIndex
	schema *index.KeySchema
}

var _ executor.Catalog = (*EntityStore)(nil)

// NewEntityStore opens an EntityStore over store and reloads the catalog.
func NewEntityStore(ctx context.Context, store kv.Store, opts Options, logger *zap.Logger) (*EntityStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	s := &EntityStore{
		store:     store,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		metrics:   opts.Metrics,
		validator: validation.NewValidator(),
		logger:    logger,
		defs:      make(map[string]*model.EntityDefinition),
		indexes:   make(map[string]map[string]*registeredIndex),
	}

	if err := store.EnsureBucket(ctx, catalogBucket, false); err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx, sequenceBucket, false); err != nil {
		return nil, err
	}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}

	logger.Info("Entity store opened",
		zap.Int("entity_types", len(s.defs)),
		zap.Int("indexes", s.indexCount()))
	return s, nil
}

// EntityDefinition returns the registered definition of name. The
// returned value is shared and must not be modified.
func (s *EntityStore) EntityDefinition(name string) (*model.EntityDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.defs[name]
	if !ok {
		return nil, errors.UnknownEntity(name)
	}
	return def, nil
}

// EntityDefinitions returns every registered definition ordered by name.
func (s *EntityStore) EntityDefinitions() []*model.EntityDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.EntityDefinition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EntityIndex resolves an index by name. PRIMARY resolves to the implicit
// id index.
func (s *EntityStore) EntityIndex(entity, name string) (*model.EntityIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.defs[entity]; !ok {
		return nil, errors.UnknownEntity(entity)
	}
	if name == model.PrimaryIndex {
		return model.PrimaryIndexFor(entity), nil
	}
	ri, ok := s.indexes[entity][name]
	if !ok {
		return nil, errors.UnknownIndex(entity, name)
	}
	return ri.index, nil
}

// EntityIndexes returns the secondary indexes of entity ordered by name.
func (s *EntityStore) EntityIndexes(entity string) ([]*model.EntityIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.defs[entity]; !ok {
		return nil, errors.UnknownEntity(entity)
	}
	out := make([]*model.EntityIndex, 0, len(s.indexes[entity]))
	for _, ri := range s.indexes[entity] {
		out = append(out, ri.index)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close closes the cache and the underlying store.
func (s *EntityStore) Close() error {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close cache", zap.Error(err))
		}
	}
	return s.store.Close()
}

// snapshot returns the definition and index set of entity under one lock.
func (s *EntityStore) snapshot(entity string) (*model.EntityDefinition, []*registeredIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.defs[entity]
	if !ok {
		return nil, nil, errors.UnknownEntity(entity)
	}
	names := make([]string, 0, len(s.indexes[entity]))
	for name := range s.indexes[entity] {
		names = append(names, name)
	}
	sort.Strings(names)
	ris := make([]*registeredIndex, len(names))
	for i, name := range names {
		ris[i] = s.indexes[entity][name]
	}
	return def, ris, nil
}

func (s *EntityStore) indexCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.indexes {
		n += len(m)
	}
	return n
}

func (s *EntityStore) updateSchemaStats() {
	if s.metrics == nil {
		return
	}
	s.mu.RLock()
	types := len(s.defs)
	s.mu.RUnlock()
	s.metrics.UpdateSchemaStats(types, s.indexCount())
}

// invalidate bumps the cache generation of each type. Failures are
// logged; a stale generation only costs a TTL of stale reads.
func (s *EntityStore) invalidate(ctx context.Context, types ...string) {
	if s.cache == nil {
		return
	}
	for _, t := range types {
		if _, err := s.cache.Bump(ctx, t); err != nil {
			s.logger.Warn("Failed to bump cache generation", zap.String("entity", t), zap.Error(err))
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordCacheInvalidation(t)
		}
	}
}

func (s *EntityStore) recordError(operation string, err error) {
	if s.metrics != nil && err != nil {
		s.metrics.RecordError(operation, int(errors.GetCode(err)))
	}
}
