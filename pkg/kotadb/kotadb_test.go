package kotadb_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kotadb/kotadb/pkg/document"
	"github.com/kotadb/kotadb/pkg/engine"
	"github.com/kotadb/kotadb/pkg/kotadb"
	"github.com/kotadb/kotadb/pkg/parser"
	"github.com/kotadb/kotadb/pkg/validated"
)

func newTestDoc(t *testing.T, path, content string) document.Document {
	t.Helper()

	id := validated.NewDocumentIDGenerate()
	p, err := validated.NewPath(path)
	require.NoError(t, err)
	title, err := validated.NewTitle(filepath.Base(path))
	require.NoError(t, err)
	now := time.Now().UTC()
	ts, err := validated.NewTimestampPair(now, now)
	require.NoError(t, err)

	doc, err := document.New(id, p, title, []byte(content), nil, ts)
	require.NoError(t, err)
	return doc
}

func openTestDatabase(t *testing.T) *kotadb.Database {
	t.Helper()

	cfg := kotadb.DefaultConfig()
	cfg.EnableLegacy = true
	cfg.Wrappers.Buffered.FlushInterval = 5 * time.Millisecond

	db, err := kotadb.Open(t.TempDir(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestIngest_CRUDRoundTrip covers S1: get(id) after insert returns the same
// content, path, and size; delete then get returns not-found.
func TestIngest_CRUDRoundTrip(t *testing.T) {
	t.Parallel()

	db := openTestDatabase(t)
	ctx := context.Background()
	doc := newTestDoc(t, "/repo/a.go", "package a\n\nfunc Foo() {}\n")

	require.NoError(t, db.Ingest(ctx, doc))

	got, ok, err := db.Documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, doc.Content, got.Content)
	require.Equal(t, doc.Path.String(), got.Path.String())
	require.Equal(t, len(doc.Content), got.Size)

	existed, err := db.Evict(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, existed)

	_, ok, err = db.Documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestIngest_SearchablePathAndContent covers both Index surfaces: the
// primary index enumerates live ids, and the trigram index finds content by
// substring.
func TestIngest_SearchablePathAndContent(t *testing.T) {
	t.Parallel()

	db := openTestDatabase(t)
	ctx := context.Background()

	doc := newTestDoc(t, "/repo/widget.go", "package repo\n\nfunc RenderWidget() string { return \"ok\" }\n")
	require.NoError(t, db.Ingest(ctx, doc))
	require.NoError(t, db.Sync(ctx))

	limit, err := validated.NewLimit(10)
	require.NoError(t, err)

	pathResults, err := db.Paths.Search(ctx, "", limit)
	require.NoError(t, err)
	found := false
	for _, r := range pathResults {
		if r.ID == doc.ID.String() {
			found = true
		}
	}
	require.True(t, found)

	query, err := validated.NewSearchQuery("renderwidget")
	require.NoError(t, err)
	contentResults, err := db.Content.Search(ctx, query, limit)
	require.NoError(t, err)
	require.Len(t, contentResults, 1)
	require.Equal(t, doc.ID.String(), contentResults[0].ID)
}

// TestRelationships_FindCallers covers S5/S6: ingesting a codebase with a
// caller/callee pair makes FindCallers resolve the caller via on-demand
// dependency extraction.
func TestRelationships_FindCallers(t *testing.T) {
	t.Parallel()

	db := openTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.Ingest(ctx, newTestDoc(t, "a.go", "package a\n\nfunc Foo() {}\n")))
	require.NoError(t, db.Ingest(ctx, newTestDoc(t, "b.go", "package a\n\nfunc Bar() {\n\tFoo()\n}\n")))
	require.NoError(t, db.Sync(ctx))

	result, err := db.Relationships.ExecuteQuery(ctx, engine.Query{Kind: engine.QueryFindCallers, Target: "Foo"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Matches)

	names := make([]string, len(result.Matches))
	for i, m := range result.Matches {
		names[i] = m.SymbolName
	}
	require.Contains(t, names, "Bar")
}

// TestLegacyStore_ExtractAndSearch covers the optional legacy symbol store
// surfaced alongside the modern facade.
func TestLegacyStore_ExtractAndSearch(t *testing.T) {
	t.Parallel()

	db := openTestDatabase(t)
	require.NotNil(t, db.Legacy)

	ctx := context.Background()
	doc := newTestDoc(t, "/repo/handler.go", "package repo\n\nfunc Handler() {}\n")
	require.NoError(t, db.Ingest(ctx, doc))

	analysis, err := parser.Extract(ctx, doc.Path.String(), "go", doc.Content)
	require.NoError(t, err)

	ids, err := db.Legacy.ExtractSymbols(ctx, doc.Path.String(), analysis, "myrepo")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	results := db.Legacy.Search("Handler", 10)
	require.Len(t, results, 1)
	require.Equal(t, "Handler", results[0].Name)
}

// TestStats_FoldsEngineAndLegacy covers the facade's combined Stats view.
func TestStats_FoldsEngineAndLegacy(t *testing.T) {
	t.Parallel()

	db := openTestDatabase(t)
	stats := db.Stats()
	require.NotNil(t, stats.Legacy)
	require.Equal(t, 0, stats.Legacy.TotalSymbols)
}
