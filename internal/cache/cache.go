// Package cache holds query results keyed by the canonical query string
// and the generation of the queried entity type. Writes bump the
// generation, which orphans every result cached under the old one.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get for missing or expired keys.
var ErrNotFound = errors.New("not found")

// Cache stores opaque values with a TTL plus one generation counter per
// entity type.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Generation returns the current generation of entity, 0 if never bumped.
	Generation(ctx context.Context, entity string) (int64, error)
	// Bump advances the generation of entity and returns the new value.
	Bump(ctx context.Context, entity string) (int64, error)
	Close() error
}

// QueryKey builds the cache key of a query result.
func QueryKey(entity string, generation int64, query string) string {
	return fmt.Sprintf("q:%s:%d:%s", entity, generation, query)
}
