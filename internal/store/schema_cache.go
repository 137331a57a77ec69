package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dawnstore-io/dawnstore/internal/observability"
)

// typeKey is the (api_version, kind) composite key shared by both caches.
type typeKey struct {
	apiVersion string
	kind       string
}

// SchemaCache is the process-wide, never-evicted mapping from
// (api_version, kind) to a compiled, read-only-shared JSON-Schema
// validator. Entries are immutable once inserted: resource definitions are
// never updated by the core, so losing a race to fill the same key is
// harmless.
type SchemaCache struct {
	mu      sync.RWMutex
	entries map[typeKey]*jsonschema.Schema
	metrics *observability.Metrics
}

// NewSchemaCache creates an empty schema cache.
func NewSchemaCache(metrics *observability.Metrics) *SchemaCache {
	return &SchemaCache{
		entries: make(map[typeKey]*jsonschema.Schema),
		metrics: metrics,
	}
}

// Get returns the compiled validator for (apiVersion, kind), filling it
// from the persistence layer on a miss. Returns a nil schema and a
// *NoSchemaForObjectError when no resource definition is registered.
func (c *SchemaCache) Get(ctx context.Context, db DBTX, apiVersion, kind string) (*jsonschema.Schema, error) {
	key := typeKey{apiVersion: apiVersion, kind: kind}

	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.recordHit()
		return v, nil
	}

	rd, err := GetResourceDefinition(ctx, db, c.metrics, apiVersion, kind)
	if err != nil {
		return nil, err
	}
	if rd == nil {
		return nil, &NoSchemaForObjectError{APIVersion: apiVersion, Kind: kind}
	}

	compiled, err := compileSchema(rd.JSONSchema)
	if err != nil {
		return nil, fmt.Errorf("compiling schema for api_version=%q kind=%q: %w", apiVersion, kind, err)
	}

	c.recordFill()
	c.mu.Lock()
	// Re-check: a concurrent filler may have won the race already. Their
	// value is equivalent to ours (same immutable schema row), so either
	// can be kept.
	if existing, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.entries[key] = compiled
	c.mu.Unlock()

	return compiled, nil
}

func (c *SchemaCache) recordFill() {
	if c.metrics != nil {
		c.metrics.RecordCacheFill("schema")
	}
}

func (c *SchemaCache) recordHit() {
	if c.metrics != nil {
		c.metrics.RecordCacheHit("schema")
	}
}

func compileSchema(raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	const resourceName = "schema.json"
	if err := compiler.AddResource(resourceName, strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceName)
}
