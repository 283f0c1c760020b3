package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/entitydb/internal/cache"
	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/executor"
	"github.com/devrev/entitydb/internal/index"
	"github.com/devrev/entitydb/internal/kv"
	"github.com/devrev/entitydb/internal/model"
	"github.com/devrev/entitydb/internal/query"
)

// cachedPage is the cached form of a result: ids in result order and the
// continuation token.
type cachedPage struct {
	IDs  []int64 `json:"ids"`
	Next string  `json:"next,omitempty"`
}

// ExecuteQuery compiles and runs q. Results of cacheable queries are
// served from the cache while the entity type's generation is unchanged.
func (s *EntityStore) ExecuteQuery(ctx context.Context, q *query.Query) (*query.Result, error) {
	if q == nil {
		return nil, errors.InvalidArgument("query is required", nil)
	}
	start := time.Now()

	res, err := s.executeQuery(ctx, q)
	if s.metrics != nil {
		s.metrics.RecordQuery(q.Entity(), "query", err, time.Since(start), res.Size())
	}
	if err != nil {
		s.recordError("query", err)
		s.logger.Debug("Query failed", zap.String("query", q.String()), zap.Error(err))
		return nil, err
	}

	s.logger.Debug("Query executed",
		zap.String("query", q.String()),
		zap.Int("results", res.Size()),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

func (s *EntityStore) executeQuery(ctx context.Context, q *query.Query) (*query.Result, error) {
	s.schemaMu.RLock()
	defer s.schemaMu.RUnlock()

	plan, err := executor.Compile(s, q)
	if err != nil {
		return nil, err
	}
	var targets []*model.FieldDefinition
	if fields := q.FillFields(); len(fields) > 0 {
		if targets, err = fillTargets(plan.Def, fields); err != nil {
			return nil, err
		}
	}

	key := s.cacheKey(ctx, q)
	if key != "" {
		if res, ok := s.cachedResult(ctx, plan.Def, key, targets); ok {
			return res, nil
		}
	}

	var res *query.Result
	err = kv.View(ctx, s.store, func(txn kv.Txn) error {
		r, err := plan.Execute(ctx, txn)
		if err != nil {
			return err
		}
		for _, e := range r.Entities {
			if err := s.fill(ctx, txn, e, targets); err != nil {
				return err
			}
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if key != "" {
		s.storeResult(ctx, key, res)
	}
	return res, nil
}

// cacheKey returns "" when the query bypasses the cache.
func (s *EntityStore) cacheKey(ctx context.Context, q *query.Query) string {
	if s.cache == nil || !q.Cached() {
		return ""
	}
	gen, err := s.cache.Generation(ctx, q.Entity())
	if err != nil {
		s.logger.Warn("Failed to read cache generation", zap.String("entity", q.Entity()), zap.Error(err))
		return ""
	}
	return cache.QueryKey(q.Entity(), gen, q.String())
}

// cachedResult resolves a cached page. Any inconsistency counts as a miss.
func (s *EntityStore) cachedResult(ctx context.Context, def *model.EntityDefinition, key string, targets []*model.FieldDefinition) (*query.Result, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !stderrors.Is(err, cache.ErrNotFound) {
			s.logger.Warn("Failed to read query cache", zap.Error(err))
		}
		s.recordCache(false)
		return nil, false
	}

	var page cachedPage
	if err := json.Unmarshal(data, &page); err != nil {
		s.logger.Warn("Discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		s.recordCache(false)
		return nil, false
	}
	next, err := index.ParseToken(page.Next)
	if err != nil {
		s.recordCache(false)
		return nil, false
	}

	res := &query.Result{Entities: make([]*model.Entity, 0, len(page.IDs)), Next: next}
	err = kv.View(ctx, s.store, func(txn kv.Txn) error {
		for _, id := range page.IDs {
			e, found, err := s.load(ctx, txn, def, id)
			if err != nil {
				return err
			}
			if !found {
				return errors.EntityNotFound(def.Name, id)
			}
			if err := s.fill(ctx, txn, e, targets); err != nil {
				return err
			}
			res.Entities = append(res.Entities, e)
		}
		return nil
	})
	if err != nil {
		s.logger.Debug("Cached result is stale", zap.String("key", key), zap.Error(err))
		s.recordCache(false)
		return nil, false
	}

	s.recordCache(true)
	return res, true
}

func (s *EntityStore) storeResult(ctx context.Context, key string, res *query.Result) {
	page := cachedPage{IDs: make([]int64, len(res.Entities)), Next: res.Next.String()}
	for i, e := range res.Entities {
		page.IDs[i] = e.ID
	}
	data, err := json.Marshal(page)
	if err != nil {
		s.logger.Warn("Failed to encode query result", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache query result", zap.String("key", key), zap.Error(err))
	}
}

func (s *EntityStore) recordCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.RecordCacheHit()
	} else {
		s.metrics.RecordCacheMiss()
	}
}

// Count returns the number of entities matching q, ignoring offset and
// page size. Counts are never cached.
func (s *EntityStore) Count(ctx context.Context, q *query.Query) (int, error) {
	if q == nil {
		return 0, errors.InvalidArgument("query is required", nil)
	}
	start := time.Now()

	n, err := s.count(ctx, q)
	if s.metrics != nil {
		s.metrics.RecordQuery(q.Entity(), "count", err, time.Since(start), n)
	}
	if err != nil {
		s.recordError("count", err)
		return 0, err
	}
	return n, nil
}

func (s *EntityStore) count(ctx context.Context, q *query.Query) (int, error) {
	s.schemaMu.RLock()
	defer s.schemaMu.RUnlock()

	plan, err := executor.Compile(s, q)
	if err != nil {
		return 0, err
	}
	var n int
	err = kv.View(ctx, s.store, func(txn kv.Txn) error {
		var err error
		n, err = plan.Count(ctx, txn)
		return err
	})
	return n, err
}

// Explain compiles q and describes the resulting plan.
func (s *EntityStore) Explain(q *query.Query) (string, error) {
	plan, err := executor.Compile(s, q)
	if err != nil {
		return "", err
	}
	return plan.String(), nil
}
