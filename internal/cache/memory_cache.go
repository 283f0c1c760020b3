package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InMemoryCache implements Cache using an in-memory map
type InMemoryCache struct {
	data        map[string]*cacheItem
	generations map[string]int64
	mu          sync.RWMutex
	maxSize     int
	logger      *zap.Logger
	stopChan    chan struct{}
	stopOnce    sync.Once
}

type cacheItem struct {
	value     []byte
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache. Expired entries are
// swept every cleanupInterval until Close.
func NewInMemoryCache(maxSize int, cleanupInterval time.Duration, logger *zap.Logger) *InMemoryCache {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	c := &InMemoryCache{
		data:        make(map[string]*cacheItem),
		generations: make(map[string]int64),
		maxSize:     maxSize,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}

	go c.cleanup(cleanupInterval)

	return c
}

// Get retrieves a value from cache
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.data[key]
	if !exists || time.Now().After(item.expiresAt) {
		return nil, ErrNotFound
	}
	return item.value, nil
}

// Set stores a value in cache with TTL
func (c *InMemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && c.maxSize > 0 && len(c.data) >= c.maxSize {
		c.evictLocked()
	}

	c.data[key] = &cacheItem{
		value:     append([]byte(nil), value...),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// evictLocked drops an expired entry if there is one, any entry otherwise.
func (c *InMemoryCache) evictLocked() {
	now := time.Now()
	for k, v := range c.data {
		if now.After(v.expiresAt) {
			delete(c.data, k)
			return
		}
	}
	for k := range c.data {
		delete(c.data, k)
		return
	}
}

// Delete removes a value from cache
func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

func (c *InMemoryCache) Generation(ctx context.Context, entity string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[entity], nil
}

func (c *InMemoryCache) Bump(ctx context.Context, entity string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[entity]++
	return c.generations[entity], nil
}

// cleanup periodically removes expired entries
func (c *InMemoryCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			removed := 0
			for key, item := range c.data {
				if now.After(item.expiresAt) {
					delete(c.data, key)
					removed++
				}
			}
			c.mu.Unlock()
			if removed > 0 {
				c.logger.Debug("Removed expired cache entries", zap.Int("count", removed))
			}
		case <-c.stopChan:
			return
		}
	}
}

// Size returns the number of items in cache
func (c *InMemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Close stops the cleanup goroutine.
func (c *InMemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	return nil
}
