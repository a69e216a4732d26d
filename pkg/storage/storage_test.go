package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/kotadb/kotadb/pkg/document"
	"github.com/kotadb/kotadb/pkg/fs"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/storage"
	"github.com/kotadb/kotadb/pkg/validated"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
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

func TestInsertGetListAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()
	s, err := storage.Open(fsys, dir, storage.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	doc := newTestDoc(t, "hello", "world")

	require.NoError(t, s.Insert(ctx, doc))

	got, ok, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, doc.Content, got.Content)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestInsert_DuplicateIsConflict(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()
	s, err := storage.Open(fsys, dir, storage.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	doc := newTestDoc(t, "dup", "a")
	require.NoError(t, s.Insert(ctx, doc))

	err = s.Insert(ctx, doc)
	require.Error(t, err)
	require.Equal(t, kotaerr.Conflict, kotaerr.Of(err))
}

func TestUpdate_BumpsTimestampAndRejectsMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()
	s, err := storage.Open(fsys, dir, storage.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	doc := newTestDoc(t, "upd", "v1")
	require.NoError(t, s.Insert(ctx, doc))

	updated := doc.WithContent([]byte("v2"))
	require.NoError(t, s.Update(ctx, updated))

	got, ok, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), got.Content)
	require.True(t, got.Timestamps.UpdatedAt.After(doc.Timestamps.UpdatedAt))

	missing := newTestDoc(t, "missing", "x")
	err = s.Update(ctx, missing)
	require.Error(t, err)
	require.Equal(t, kotaerr.NotFound, kotaerr.Of(err))
}

func TestDelete(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()
	s, err := storage.Open(fsys, dir, storage.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	doc := newTestDoc(t, "del", "x")
	require.NoError(t, s.Insert(ctx, doc))

	deleted, err := s.Delete(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	_, ok, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.False(t, ok)

	deleted, err = s.Delete(ctx, doc.ID)
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestReopen_ReplaysWALAndCheckpoint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()

	s, err := storage.Open(fsys, dir, storage.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	doc := newTestDoc(t, "persist", "before-close")
	require.NoError(t, s.Insert(ctx, doc))
	require.NoError(t, s.Sync(ctx))
	require.NoError(t, s.Close())

	reopened, err := storage.Open(fsys, dir, storage.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, doc.Content, got.Content)
}

func TestReopen_AfterRotationStillHasDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()

	cfg := storage.Config{RotateAtBytes: 1} // rotate after every write
	s, err := storage.Open(fsys, dir, cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	doc := newTestDoc(t, "rotate", "payload")
	require.NoError(t, s.Insert(ctx, doc))
	require.NoError(t, s.Close())

	reopened, err := storage.Open(fsys, dir, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, doc.Content, got.Content)
}
