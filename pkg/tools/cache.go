package tools

import (
	"context"
	"sync"
	"time"
)

// CacheKey identifies a cached dispatcher. Keying by conversation as well
// as shop keeps one conversation's cart continuity and token cache from
// leaking into another's.
type CacheKey struct {
	ShopDomain     string
	ConversationID string
}

type cacheEntry struct {
	dispatcher *Dispatcher
	lastUsed   time.Time
}

// DispatcherCache holds connected dispatchers so the tool catalogues are
// not re-fetched on every message. Capacity-bounded; the least recently
// used entry is evicted when full.
type DispatcherCache struct {
	mu         sync.Mutex
	entries    map[CacheKey]*cacheEntry
	maxEntries int
}

// DefaultDispatcherCacheSize bounds in-flight conversations per process.
const DefaultDispatcherCacheSize = 512

// NewDispatcherCache creates a cache. maxEntries <= 0 uses the default.
func NewDispatcherCache(maxEntries int) *DispatcherCache {
	if maxEntries <= 0 {
		maxEntries = DefaultDispatcherCacheSize
	}
	return &DispatcherCache{
		entries:    make(map[CacheKey]*cacheEntry),
		maxEntries: maxEntries,
	}
}

// GetOrCreate returns the cached dispatcher for the key, building and
// connecting a new one when absent. The build happens outside the lock;
// when two requests race the first stored dispatcher wins and the loser's
// build is discarded, which is safe because connecting is idempotent and
// side-effect free.
func (c *DispatcherCache) GetOrCreate(ctx context.Context, key CacheKey, build func(context.Context) (*Dispatcher, error)) (*Dispatcher, error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		entry.lastUsed = time.Now()
		c.mu.Unlock()
		return entry.dispatcher, nil
	}
	c.mu.Unlock()

	dispatcher, err := build(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		entry.lastUsed = time.Now()
		return entry.dispatcher, nil
	}
	c.evictIfFull()
	c.entries[key] = &cacheEntry{dispatcher: dispatcher, lastUsed: time.Now()}
	return dispatcher, nil
}

// Invalidate drops a cached dispatcher, forcing a catalogue refresh on the
// next message.
func (c *DispatcherCache) Invalidate(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of cached dispatchers.
func (c *DispatcherCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictIfFull removes the least recently used entry. Caller holds the lock.
func (c *DispatcherCache) evictIfFull() {
	if len(c.entries) < c.maxEntries {
		return
	}
	var oldestKey CacheKey
	var oldest time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.lastUsed.Before(oldest) {
			oldestKey, oldest = key, entry.lastUsed
			first = false
		}
	}
	delete(c.entries, oldestKey)
}
