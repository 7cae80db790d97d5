package mcp

import (
	"sync"
	"time"

	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
)

// DefaultResourceCacheTTL bounds how long a read result is served without
// consulting the handler again.
const DefaultResourceCacheTTL = 5 * time.Minute

// ReadOptions carry the cache directives of a resources/read request.
type ReadOptions struct {
	NoCache     bool
	Cacheable   bool
	CacheMaxAge time.Duration
}

// DefaultReadOptions allow caching with the default TTL.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{Cacheable: true}
}

type cacheEntry struct {
	// mu serializes loads per URI: a cached read never races with the
	// authoritative handler.
	mu       sync.Mutex
	meta     schema.Meta
	contents []schema.ResourceContent
	cachedAt time.Time
	maxAge   time.Duration
	valid    bool
}

// ResourceCache maps resource URIs to their last read result.
type ResourceCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	defaultTTL time.Duration
}

func NewResourceCache(defaultTTL time.Duration) *ResourceCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultResourceCacheTTL
	}
	return &ResourceCache{
		entries:    make(map[string]*cacheEntry),
		defaultTTL: defaultTTL,
	}
}

func (c *ResourceCache) entry(uri string) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[uri]
	if !ok {
		e = &cacheEntry{}
		c.entries[uri] = e
	}
	return e
}

// GetOrLoad returns the cached read result for the URI or invokes load
// under the per-URI lock. Meta travels with the contents so a cache hit
// reproduces the handler's full answer. The result is stored unless the
// options forbid it.
func (c *ResourceCache) GetOrLoad(uri string, opts ReadOptions, load func() (schema.Meta, []schema.ResourceContent, error)) (schema.Meta, []schema.ResourceContent, error) {
	e := c.entry(uri)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !opts.NoCache && e.valid && time.Since(e.cachedAt) < e.maxAge {
		return copyMeta(e.meta), append([]schema.ResourceContent(nil), e.contents...), nil
	}

	meta, contents, err := load()
	if err != nil {
		return nil, nil, err
	}

	if opts.Cacheable {
		maxAge := opts.CacheMaxAge
		if maxAge <= 0 {
			maxAge = c.defaultTTL
		}
		e.meta = copyMeta(meta)
		e.contents = append([]schema.ResourceContent(nil), contents...)
		e.cachedAt = time.Now()
		e.maxAge = maxAge
		e.valid = true
	} else {
		e.valid = false
		e.meta = nil
		e.contents = nil
	}
	return meta, contents, nil
}

func copyMeta(meta schema.Meta) schema.Meta {
	if meta == nil {
		return nil
	}
	out := make(schema.Meta, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// Invalidate drops the cached contents for a URI, keeping the entry so
// in-flight loads stay serialized.
func (c *ResourceCache) Invalidate(uri string) {
	c.mu.Lock()
	e, ok := c.entries[uri]
	c.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.valid = false
	e.meta = nil
	e.contents = nil
	e.mu.Unlock()
}

// Remove deletes the entry entirely, used when the resource itself goes away.
func (c *ResourceCache) Remove(uri string) {
	c.mu.Lock()
	delete(c.entries, uri)
	c.mu.Unlock()
}
