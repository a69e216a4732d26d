package wrappers_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kotadb/kotadb/pkg/document"
	"github.com/kotadb/kotadb/pkg/fs"
	"github.com/kotadb/kotadb/pkg/index/primary"
	"github.com/kotadb/kotadb/pkg/index/trigram"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/storage"
	"github.com/kotadb/kotadb/pkg/validated"
	"github.com/kotadb/kotadb/pkg/wrappers"
)

func newTestDoc(t *testing.T, title, content string) document.Document {
	t.Helper()

	id := validated.NewDocumentIDGenerate()
	path, err := validated.NewPath("/notes/" + title + ".md")
	require.NoError(t, err)
	titleV, err := validated.NewTitle(title)
	require.NoError(t, err)
	now := time.Now().UTC()
	ts, err := validated.NewTimestampPair(now, now)
	require.NoError(t, err)

	doc, err := document.New(id, path, titleV, []byte(content), nil, ts)
	require.NoError(t, err)
	return doc
}

func newWrappedStorage(t *testing.T) wrappers.Storage {
	t.Helper()

	dir := t.TempDir()
	fsys := fs.NewReal()
	raw, err := storage.Open(fsys, dir, storage.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	cfg := wrappers.DefaultStorageConfig()
	cfg.Buffered.FlushInterval = 10 * time.Millisecond
	return wrappers.NewDefaultStorage(raw, cfg, zerolog.Nop())
}

func TestDefaultStorage_CRUDRoundTrip(t *testing.T) {
	t.Parallel()

	s := newWrappedStorage(t)
	ctx := context.Background()
	doc := newTestDoc(t, "hello", "world")

	require.NoError(t, s.Insert(ctx, doc))

	got, ok, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "world", string(got.Content))

	updated := doc.WithContent([]byte("world!"))
	require.NoError(t, s.Update(ctx, updated))

	got, ok, err = s.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 6, got.Size)

	deleted, err := s.Delete(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	_, ok, err = s.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDefaultStorage_GetServesBufferedWriteBeforeFlush(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()
	raw, err := storage.Open(fsys, dir, storage.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	cfg := wrappers.DefaultStorageConfig()
	cfg.Buffered.FlushInterval = time.Hour // never fires during the test
	s := wrappers.NewDefaultStorage(raw, cfg, zerolog.Nop())

	ctx := context.Background()
	doc := newTestDoc(t, "buffered", "pending")
	require.NoError(t, s.Insert(ctx, doc))

	got, ok, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "pending", string(got.Content))
}

func TestValidatedStorage_RejectsZeroID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()
	raw, err := storage.Open(fsys, dir, storage.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer raw.Close()

	v := wrappers.NewValidatedStorage(raw)

	_, _, err = v.Get(context.Background(), validated.DocumentID{})
	require.Error(t, err)
	require.Equal(t, kotaerr.InvalidArgument, kotaerr.Of(err))
}

// flakyStorage fails its first N Sync calls with an Io error, then
// succeeds, to exercise RetryableStorage's backoff path. Other methods
// pass through to the embedded storage.
type flakyStorage struct {
	wrappers.Storage
	failuresLeft int32
}

func (f *flakyStorage) Sync(ctx context.Context) error {
	if atomic.AddInt32(&f.failuresLeft, -1) >= 0 {
		return kotaerr.New("flaky.Sync", kotaerr.Io, "", nil)
	}
	return f.Storage.Sync(ctx)
}

func TestRetryableStorage_RetriesIoErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()
	raw, err := storage.Open(fsys, dir, storage.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer raw.Close()

	flaky := &flakyStorage{Storage: raw, failuresLeft: 2}
	r := wrappers.NewRetryableStorage(flaky, wrappers.RetryConfig{
		MaxElapsedTime:  time.Second,
		InitialInterval: time.Millisecond,
	})

	require.NoError(t, r.Sync(context.Background()))
}

func TestRetryableStorage_DoesNotRetryConflict(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()
	raw, err := storage.Open(fsys, dir, storage.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer raw.Close()

	r := wrappers.NewRetryableStorage(raw, wrappers.DefaultRetryConfig())
	ctx := context.Background()
	doc := newTestDoc(t, "dup", "x")

	require.NoError(t, r.Insert(ctx, doc))
	err = r.Insert(ctx, doc)
	require.Error(t, err)
	require.Equal(t, kotaerr.Conflict, kotaerr.Of(err))
}

func TestCachedStorage_ServesFromCacheWithoutHittingInner(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()
	raw, err := storage.Open(fsys, dir, storage.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer raw.Close()

	c := wrappers.NewCachedStorage(raw, wrappers.DefaultCacheConfig())
	ctx := context.Background()
	doc := newTestDoc(t, "cached", "v1")
	require.NoError(t, c.Insert(ctx, doc))

	deleted, err := raw.Delete(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	got, ok, err := c.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(got.Content))
}

func TestCachedStorage_DeleteInvalidatesEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()
	raw, err := storage.Open(fsys, dir, storage.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer raw.Close()

	c := wrappers.NewCachedStorage(raw, wrappers.DefaultCacheConfig())
	ctx := context.Background()
	doc := newTestDoc(t, "cached2", "v1")
	require.NoError(t, c.Insert(ctx, doc))

	deleted, err := c.Delete(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	_, ok, err := c.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func newMeteredIndices(t *testing.T) (*wrappers.MeteredPrimaryIndex, *wrappers.MeteredTrigramIndex) {
	t.Helper()

	dir := t.TempDir()
	fsys := fs.NewReal()
	p, err := primary.Open(fsys, dir)
	require.NoError(t, err)
	tg, err := trigram.Open(fsys, dir)
	require.NoError(t, err)

	metrics := wrappers.NewIndexMetrics(nil, "test")
	return wrappers.NewMeteredPrimaryIndex(p, metrics), wrappers.NewMeteredTrigramIndex(tg, metrics)
}

func TestMeteredIndices_ForwardOperations(t *testing.T) {
	t.Parallel()

	p, tg := newMeteredIndices(t)
	ctx := context.Background()

	id := validated.NewDocumentIDGenerate()
	path, err := validated.NewPath("/a.md")
	require.NoError(t, err)

	require.NoError(t, p.Insert(ctx, id, path))
	limit, err := validated.NewLimit(10)
	require.NoError(t, err)
	results, err := p.Search(ctx, "", limit)
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.NoError(t, tg.InsertWithContent(ctx, id, path, []byte("needle here")))
	q, err := validated.NewSearchQuery("needle")
	require.NoError(t, err)
	hits, err := tg.Search(ctx, q, limit)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}
