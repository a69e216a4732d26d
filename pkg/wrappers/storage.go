// Package wrappers implements the cross-cutting decorators spec.md §4.10
// describes for storage and index components: Traced, Validated,
// Retryable, Cached, Metered, and Buffered. Each wraps an inner component
// satisfying the same contract, so composition is ordinary decoration —
// no wrapper changes the signature or semantics its inner component
// promises, only adds an orthogonal concern around it.
package wrappers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kotadb/kotadb/pkg/document"
	"github.com/kotadb/kotadb/pkg/validated"
)

// Storage is the facade's document-store contract: insert/get/update/
// delete/list_all/sync/flush/close (spec.md §6). [*storage.FileStorage]
// satisfies it structurally.
type Storage interface {
	Insert(ctx context.Context, doc document.Document) error
	Get(ctx context.Context, id validated.DocumentID) (document.Document, bool, error)
	Update(ctx context.Context, doc document.Document) error
	Delete(ctx context.Context, id validated.DocumentID) (bool, error)
	ListAll(ctx context.Context) ([]document.Document, error)
	Sync(ctx context.Context) error
	Flush(ctx context.Context) error
	Close() error
}

// StorageConfig bundles the per-wrapper configuration needed to assemble
// the stock composition.
type StorageConfig struct {
	Cache    CacheConfig
	Retry    RetryConfig
	Buffered BufferedConfig
}

// DefaultStorageConfig returns sensible defaults for every wrapper.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Cache:    DefaultCacheConfig(),
		Retry:    DefaultRetryConfig(),
		Buffered: DefaultBufferedConfig(),
	}
}

// NewDefaultStorage composes the stock wrapped storage in the fixed order
// spec.md §4.10 names: Traced -> Validated -> Retryable -> Cached ->
// Buffered -> raw. Each layer's inner value is the next one in, so calls
// flow outer-to-inner and results/errors flow back the same path.
func NewDefaultStorage(inner Storage, cfg StorageConfig, logger zerolog.Logger) Storage {
	var s Storage = inner
	s = NewBufferedStorage(s, cfg.Buffered)
	s = NewCachedStorage(s, cfg.Cache)
	s = NewRetryableStorage(s, cfg.Retry)
	s = NewValidatedStorage(s)
	s = NewTracedStorage(s, logger)
	return s
}
