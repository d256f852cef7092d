package vault

import (
	"sync"
	"time"

	"github.com/sitevault/sitevault/internal/metrics"
)

// Cache is a bounded in-memory cache of full file contents, keyed by
// resolved absolute path. Entries expire after a fixed TTL from
// insertion; inserts that would exceed the aggregate size bound evict
// the least-recently-used entries first.
//
// The cache is intentionally not coherent with writes: a file modified
// after caching may be served stale until its TTL elapses. That is a
// documented trade-off of the read path, not a bug.
type Cache struct {
	maxBytes int64
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry
	size    int64

	now func() time.Time // overridable in tests
}

type cacheEntry struct {
	data       []byte
	insertedAt time.Time
	lastAccess time.Time
}

// NewCache creates a cache bounded to maxBytes with the given entry TTL.
func NewCache(maxBytes int64, ttl time.Duration) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		ttl:      ttl,
		entries:  make(map[string]*cacheEntry),
		now:      time.Now,
	}
}

// Get returns the cached bytes for key if present and unexpired.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		metrics.RecordCacheLookup("miss")
		return nil, false
	}
	if c.now().Sub(entry.insertedAt) > c.ttl {
		c.size -= int64(len(entry.data))
		delete(c.entries, key)
		metrics.SetCacheBytes(c.size)
		metrics.RecordCacheLookup("expired")
		return nil, false
	}

	entry.lastAccess = c.now()
	metrics.RecordCacheLookup("hit")
	return entry.data, true
}

// Put stores data under key, evicting least-recently-used entries until
// it fits. Values larger than the whole cache are not stored.
func (c *Cache) Put(key string, data []byte) {
	if int64(len(data)) > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.size -= int64(len(old.data))
		delete(c.entries, key)
	}

	for c.size+int64(len(data)) > c.maxBytes {
		if !c.evictOldest() {
			break // nothing left to evict
		}
	}

	now := c.now()
	c.entries[key] = &cacheEntry{data: data, insertedAt: now, lastAccess: now}
	c.size += int64(len(data))
	metrics.SetCacheBytes(c.size)
}

// Invalidate drops the entry for key if present. Used after in-process
// writes so a fresh upload is not shadowed by its own stale bytes;
// external modifications remain subject to the TTL.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		c.size -= int64(len(entry.data))
		delete(c.entries, key)
		metrics.SetCacheBytes(c.size)
	}
}

// evictOldest removes the least-recently-accessed entry.
// Must be called with lock held.
func (c *Cache) evictOldest() bool {
	var oldestKey string
	var oldest *cacheEntry

	for key, entry := range c.entries {
		if oldest == nil || entry.lastAccess.Before(oldest.lastAccess) {
			oldest = entry
			oldestKey = key
		}
	}
	if oldest == nil {
		return false
	}

	c.size -= int64(len(oldest.data))
	delete(c.entries, oldestKey)
	return true
}

// Stats returns the current aggregate size and entry count.
func (c *Cache) Stats() (size int64, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size, len(c.entries)
}
