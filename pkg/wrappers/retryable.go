package wrappers

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kotadb/kotadb/pkg/document"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/validated"
)

// RetryConfig bounds the capped exponential backoff Retryable applies to
// transient Io errors.
type RetryConfig struct {
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
}

// DefaultRetryConfig matches the original extractor's conservative bound:
// a handful of attempts over a few seconds, never retrying indefinitely.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxElapsedTime:  5 * time.Second,
		InitialInterval: 50 * time.Millisecond,
	}
}

// RetryableStorage retries transient Io errors with capped exponential
// backoff; Conflict, InvalidArgument, Corruption, NotFound, Timeout, and
// Unavailable are never retried (spec.md §7's propagation policy, enforced
// here via [kotaerr.Retryable]).
type RetryableStorage struct {
	inner Storage
	cfg   RetryConfig
}

// NewRetryableStorage wraps inner with retry-on-Io behavior.
func NewRetryableStorage(inner Storage, cfg RetryConfig) *RetryableStorage {
	return &RetryableStorage{inner: inner, cfg: cfg}
}

// retry runs fn, retrying only while it returns a Retryable (Io) error,
// and turns a non-retryable error into backoff.Permanent so the retrier
// stops on the first attempt.
func retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxElapsedTime = cfg.MaxElapsedTime

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !kotaerr.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

func unwrapPermanent(err error) error {
	if perm, ok := err.(*backoff.PermanentError); ok {
		return perm.Err
	}
	return err
}

func (r *RetryableStorage) Insert(ctx context.Context, doc document.Document) error {
	err := retry(ctx, r.cfg, func() error { return r.inner.Insert(ctx, doc) })
	return unwrapPermanent(err)
}

func (r *RetryableStorage) Get(ctx context.Context, id validated.DocumentID) (document.Document, bool, error) {
	var doc document.Document
	var ok bool
	err := retry(ctx, r.cfg, func() error {
		var innerErr error
		doc, ok, innerErr = r.inner.Get(ctx, id)
		return innerErr
	})
	return doc, ok, unwrapPermanent(err)
}

func (r *RetryableStorage) Update(ctx context.Context, doc document.Document) error {
	err := retry(ctx, r.cfg, func() error { return r.inner.Update(ctx, doc) })
	return unwrapPermanent(err)
}

func (r *RetryableStorage) Delete(ctx context.Context, id validated.DocumentID) (bool, error) {
	var deleted bool
	err := retry(ctx, r.cfg, func() error {
		var innerErr error
		deleted, innerErr = r.inner.Delete(ctx, id)
		return innerErr
	})
	return deleted, unwrapPermanent(err)
}

func (r *RetryableStorage) ListAll(ctx context.Context) ([]document.Document, error) {
	var docs []document.Document
	err := retry(ctx, r.cfg, func() error {
		var innerErr error
		docs, innerErr = r.inner.ListAll(ctx)
		return innerErr
	})
	return docs, unwrapPermanent(err)
}

func (r *RetryableStorage) Sync(ctx context.Context) error {
	err := retry(ctx, r.cfg, func() error { return r.inner.Sync(ctx) })
	return unwrapPermanent(err)
}

func (r *RetryableStorage) Flush(ctx context.Context) error {
	err := retry(ctx, r.cfg, func() error { return r.inner.Flush(ctx) })
	return unwrapPermanent(err)
}

func (r *RetryableStorage) Close() error {
	return r.inner.Close()
}
