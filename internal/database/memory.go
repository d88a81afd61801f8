package database

import (
	"sync"

	"shx-go/internal/model"
)

// MemoryCache is a process-local digest cache.
type MemoryCache struct {
	mu      sync.RWMutex
	records map[string]model.DigestRecord
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{records: make(map[string]model.DigestRecord)}
}

func (c *MemoryCache) Lookup(key string) (model.DigestRecord, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[key]
	return rec, ok, nil
}

func (c *MemoryCache) Store(rec model.DigestRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.Key] = rec
	return nil
}

// Len returns the number of cached records.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (c *MemoryCache) Close() error { return nil }

// NopCache remembers nothing.
type NopCache struct{}

func (NopCache) Lookup(string) (model.DigestRecord, bool, error) { return model.DigestRecord{}, false, nil }
func (NopCache) Store(model.DigestRecord) error                  { return nil }
func (NopCache) Close() error                                    { return nil }
