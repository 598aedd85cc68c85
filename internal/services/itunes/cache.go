package itunes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Cache defines the interface for caching search responses
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
	Clear()
}

// MemoryCache implements an in-memory cache with TTL support
type MemoryCache struct {
	mu       sync.RWMutex
	items    map[string]*cacheItem
	stopChan chan struct{}
	stopOnce sync.Once
}

type cacheItem struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache() *MemoryCache {
	cache := &MemoryCache{
		items:    make(map[string]*cacheItem),
		stopChan: make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// Get retrieves a value from the cache
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists || time.Now().After(item.expiresAt) {
		return nil, false
	}

	return item.data, true
}

// Set stores a value in the cache with a TTL
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = &cacheItem{
		data:      value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Clear removes all items from the cache
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheItem)
}

// Stop stops the cleanup goroutine
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopChan:
			return
		}
	}
}

func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
		}
	}
}

// CachedClient wraps a Client so repeated terms within a run hit memory.
// Retry passes reuse many of the same title variants.
type CachedClient struct {
	*Client
	cache    Cache
	cacheTTL time.Duration
}

// NewCachedClient creates a new iTunes client with caching
func NewCachedClient(cfg Config, cache Cache, cacheTTL time.Duration) *CachedClient {
	if cache == nil {
		cache = NewMemoryCache()
	}

	if cacheTTL == 0 {
		cacheTTL = 10 * time.Minute
	}

	return &CachedClient{
		Client:   NewClient(cfg),
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// SearchEpisodes searches with caching. Errors are never cached.
func (c *CachedClient) SearchEpisodes(ctx context.Context, term string, opts *SearchOptions) ([]Episode, error) {
	cacheKey := "search:" + strings.ToLower(strings.TrimSpace(term))
	if opts != nil {
		cacheKey += fmt.Sprintf(":%s:%s:%d", opts.Entity, opts.Country, opts.Limit)
	}

	if data, found := c.cache.Get(cacheKey); found {
		var episodes []Episode
		if err := json.Unmarshal(data, &episodes); err == nil {
			c.metrics.cacheHits.Add(1)
			return episodes, nil
		}
	}

	c.metrics.cacheMisses.Add(1)

	episodes, err := c.Client.SearchEpisodes(ctx, term, opts)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(episodes); err == nil {
		c.cache.Set(cacheKey, data, c.cacheTTL)
	}

	return episodes, nil
}

// ClearCache clears all cached items
func (c *CachedClient) ClearCache() {
	c.cache.Clear()
}
