package wrappers

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kotadb/kotadb/pkg/document"
	"github.com/kotadb/kotadb/pkg/validated"
)

// CacheConfig bounds the read-through LRU's capacity.
type CacheConfig struct {
	Capacity int
}

// DefaultCacheConfig returns a modest capacity suitable for interactive
// query workloads.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Capacity: 4096}
}

// CachedStorage is an LRU read-through cache for Get, keyed by document id.
// Insert/Update store the written document in the cache and Delete evicts
// it (write-through, not write-back):
// the inner store is always the durable source of truth, the cache only
// shortcuts repeat reads (spec.md §4.10).
type CachedStorage struct {
	inner Storage
	cache *lru.Cache[string, document.Document]
}

// NewCachedStorage wraps inner with an LRU of the given capacity. A
// non-positive capacity is treated as 1.
func NewCachedStorage(inner Storage, cfg CacheConfig) *CachedStorage {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	cache, _ := lru.New[string, document.Document](capacity)
	return &CachedStorage{inner: inner, cache: cache}
}

func (c *CachedStorage) Insert(ctx context.Context, doc document.Document) error {
	if err := c.inner.Insert(ctx, doc); err != nil {
		return err
	}
	c.cache.Add(doc.ID.String(), doc)
	return nil
}

func (c *CachedStorage) Get(ctx context.Context, id validated.DocumentID) (document.Document, bool, error) {
	key := id.String()
	if doc, ok := c.cache.Get(key); ok {
		return doc, true, nil
	}

	doc, ok, err := c.inner.Get(ctx, id)
	if err != nil {
		return document.Document{}, false, err
	}
	if ok {
		c.cache.Add(key, doc)
	}
	return doc, ok, nil
}

func (c *CachedStorage) Update(ctx context.Context, doc document.Document) error {
	if err := c.inner.Update(ctx, doc); err != nil {
		return err
	}
	c.cache.Add(doc.ID.String(), doc)
	return nil
}

func (c *CachedStorage) Delete(ctx context.Context, id validated.DocumentID) (bool, error) {
	deleted, err := c.inner.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	c.cache.Remove(id.String())
	return deleted, nil
}

func (c *CachedStorage) ListAll(ctx context.Context) ([]document.Document, error) {
	return c.inner.ListAll(ctx)
}

func (c *CachedStorage) Sync(ctx context.Context) error {
	return c.inner.Sync(ctx)
}

func (c *CachedStorage) Flush(ctx context.Context) error {
	return c.inner.Flush(ctx)
}

func (c *CachedStorage) Close() error {
	return c.inner.Close()
}
