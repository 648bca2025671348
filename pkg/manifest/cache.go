package manifest

import "sync"

// Cache is the shared fast-path cache for loaded manifests, keyed by the
// dataset identity and checkout context id.
//
// The cache is an optimization over the snapshot files: a miss is never an
// error, and evicting an entry only forces the next load to fall back to the
// durable snapshot. The BadgerDB implementation lives in
// pkg/manifest/badger; tests use the in-memory implementation below.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Cache interface {
	// Get returns the cached entries for (dataset, contextID).
	// The second return value is false on a cache miss.
	Get(dataset, contextID string) (map[string]Entry, bool, error)

	// Put stores the entries for (dataset, contextID), replacing any
	// previous value.
	Put(dataset, contextID string, entries map[string]Entry) error

	// Evict removes the cache entry for (dataset, contextID).
	// Evicting a missing entry is not an error.
	Evict(dataset, contextID string) error
}

// MemoryCache is a process-local Cache for tests and single-process tools.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]map[string]Entry
}

// NewMemoryCache creates an empty in-memory manifest cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]map[string]Entry)}
}

func memoryCacheKey(dataset, contextID string) string {
	return dataset + "\x00" + contextID
}

// Get implements Cache.
func (c *MemoryCache) Get(dataset, contextID string) (map[string]Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.entries[memoryCacheKey(dataset, contextID)]
	if !ok {
		return nil, false, nil
	}

	out := make(map[string]Entry, len(cached))
	for k, v := range cached {
		out[k] = v
	}
	return out, true, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(dataset, contextID string, entries map[string]Entry) error {
	cached := make(map[string]Entry, len(entries))
	for k, v := range entries {
		cached[k] = v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[memoryCacheKey(dataset, contextID)] = cached
	return nil
}

// Evict implements Cache.
func (c *MemoryCache) Evict(dataset, contextID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, memoryCacheKey(dataset, contextID))
	return nil
}
