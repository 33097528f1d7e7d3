package logparser

import "sync"

// Cache is a bounded in-memory cache of measurement batches keyed by
// test label, sitting in front of the on-disk msgpack companion cache.
// Rejudgement runs can hold thousands of tests in one process; this
// avoids re-reading the same measurement file from disk repeatedly.
type Cache struct {
	mu       sync.Mutex
	maxSize  int
	entries  map[string]*StoredMeasurements
	lastUsed map[string]uint64
	clock    uint64
}

// NewCache builds a Cache holding up to maxSize entries. Entries beyond
// that are evicted least-recently-used first.
func NewCache(maxSize int) *Cache {
	return &Cache{
		maxSize:  maxSize,
		entries:  make(map[string]*StoredMeasurements),
		lastUsed: make(map[string]uint64),
	}
}

// Get returns the cached measurements for testLabel, if present.
func (c *Cache) Get(testLabel string) (*StoredMeasurements, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.entries[testLabel]
	if !ok {
		return nil, false
	}
	c.clock++
	c.lastUsed[testLabel] = c.clock
	return data, true
}

// Put inserts or refreshes the cached measurements for testLabel,
// evicting the least-recently-used entry if the cache is full.
func (c *Cache) Put(testLabel string, data *StoredMeasurements) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[testLabel]; !exists && len(c.entries) >= c.maxSize && c.maxSize > 0 {
		c.evictOldest()
	}

	c.entries[testLabel] = data
	c.clock++
	c.lastUsed[testLabel] = c.clock
}

func (c *Cache) evictOldest() {
	var oldestLabel string
	var oldestTime uint64
	first := true
	for label, t := range c.lastUsed {
		if first || t < oldestTime {
			oldestLabel = label
			oldestTime = t
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestLabel)
		delete(c.lastUsed, oldestLabel)
	}
}

// LoadMeasurementsCached behaves like LoadMeasurements but consults cache
// first and populates it on a miss.
func LoadMeasurementsCached(testLabel, outputDir string, cache *Cache) (*StoredMeasurements, error) {
	if cache != nil {
		if data, ok := cache.Get(testLabel); ok {
			return data, nil
		}
	}

	data, err := LoadMeasurements(testLabel, outputDir)
	if err != nil || data == nil {
		return data, err
	}
	if cache != nil {
		cache.Put(testLabel, data)
	}
	return data, nil
}
