package store

import (
	"context"
	"sync"

	"github.com/dawnstore-io/dawnstore/internal/observability"
)

// ForeignKeyCache is the process-wide, never-evicted mapping from
// (api_version, kind) to the declared foreign-key constraints owned by
// that type. Same fill-and-re-read discipline and immutability guarantee
// as SchemaCache.
type ForeignKeyCache struct {
	mu      sync.RWMutex
	entries map[typeKey][]ForeignKeyConstraint
	metrics *observability.Metrics
}

// NewForeignKeyCache creates an empty foreign-key constraint cache.
func NewForeignKeyCache(metrics *observability.Metrics) *ForeignKeyCache {
	return &ForeignKeyCache{
		entries: make(map[typeKey][]ForeignKeyConstraint),
		metrics: metrics,
	}
}

// Get returns the constraint list for (apiVersion, kind), filling it from
// the persistence layer on a miss. An empty result (no constraints
// declared) is a valid, cacheable value.
func (c *ForeignKeyCache) Get(ctx context.Context, db DBTX, apiVersion, kind string) ([]ForeignKeyConstraint, error) {
	key := typeKey{apiVersion: apiVersion, kind: kind}

	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.recordHit()
		return v, nil
	}

	fks, err := GetForeignKeyConstraints(ctx, db, c.metrics, apiVersion, kind)
	if err != nil {
		return nil, err
	}

	c.recordFill()
	c.mu.Lock()
	if existing, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.entries[key] = fks
	c.mu.Unlock()

	return fks, nil
}

func (c *ForeignKeyCache) recordFill() {
	if c.metrics != nil {
		c.metrics.RecordCacheFill("foreign_key")
	}
}

func (c *ForeignKeyCache) recordHit() {
	if c.metrics != nil {
		c.metrics.RecordCacheHit("foreign_key")
	}
}
