package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kotadb/kotadb/pkg/document"
	"github.com/kotadb/kotadb/pkg/engine"
	"github.com/kotadb/kotadb/pkg/fs"
	"github.com/kotadb/kotadb/pkg/storage"
	"github.com/kotadb/kotadb/pkg/symbol"
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

// seedSources stores the given path->content source files into dbPath's
// storage so the engine's on-demand extractor can find them.
func seedSources(t *testing.T, dbPath string, files map[string]string) {
	t.Helper()

	fsys := fs.NewReal()
	st, err := storage.Open(fsys, dbPath, storage.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	for path, content := range files {
		require.NoError(t, st.Insert(ctx, newTestDoc(t, path, content)))
	}
}

// seedSymbols writes a minimal binary symbol file containing one record per
// name, standing in for the offline symbol extraction pass.
func seedSymbols(t *testing.T, dbPath string, names ...string) {
	t.Helper()

	fsys := fs.NewReal()
	syms := make([]symbol.Symbol, 0, len(names))
	for i, name := range names {
		syms = append(syms, symbol.Symbol{
			ID:        validated.NewDocumentIDGenerate(),
			Kind:      symbol.KindFunction,
			Name:      name,
			Path:      "seed.go",
			StartLine: uint32(10 + i),
			EndLine:   uint32(12 + i),
		})
	}
	require.NoError(t, symbol.Write(fsys, filepath.Join(dbPath, "symbols.kota"), syms))
}

// TestFindCallers_TwoFiles covers a Bar-calls-Foo dependency extracted
// on demand from two seeded Go source files.
func TestFindCallers_TwoFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	seedSources(t, dir, map[string]string{
		"a.go": "package a\n\nfunc Foo() {}\n",
		"b.go": "package a\n\nfunc Bar() {\n\tFoo()\n}\n",
	})
	seedSymbols(t, dir, "Foo")

	fsys := fs.NewReal()
	e, err := engine.New(fsys, dir, engine.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer e.Close()

	result, err := e.FindCallers(context.Background(), "Foo")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(result.Matches), 1)

	found := false
	for _, m := range result.Matches {
		if m.SymbolName == "Bar" {
			found = true
			require.Contains(t, m.Context, "Foo")
		}
	}
	require.True(t, found, "expected Bar to be found as a caller of Foo, got %+v", result.Matches)
}

// TestImpactAnalysis_TransitiveThreeFiles covers baz -> bar -> foo, where
// ImpactAnalysis("foo") must surface both bar (direct) and baz (transitive).
func TestImpactAnalysis_TransitiveThreeFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	seedSources(t, dir, map[string]string{
		"foo.go": "package a\n\nfunc foo() {}\n",
		"bar.go": "package a\n\nfunc bar() {\n\tfoo()\n}\n",
		"baz.go": "package a\n\nfunc baz() {\n\tbar()\n}\n",
	})
	seedSymbols(t, dir, "foo")

	fsys := fs.NewReal()
	e, err := engine.New(fsys, dir, engine.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer e.Close()

	result, err := e.ImpactAnalysis(context.Background(), "foo")
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.Stats.DirectCount, 2)
	require.Zero(t, result.Stats.IndirectCount)

	names := map[string]bool{}
	for _, m := range result.Matches {
		names[m.SymbolName] = true
	}
	require.True(t, names["bar"])
	require.True(t, names["baz"])
}

// TestFindCallers_UnknownSymbolIsNotFound covers the case where the target
// name isn't present in the binary symbol database at all.
func TestFindCallers_UnknownSymbolIsNotFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	seedSources(t, dir, map[string]string{"a.go": "package a\n\nfunc Foo() {}\n"})
	seedSymbols(t, dir, "Foo")

	fsys := fs.NewReal()
	e, err := engine.New(fsys, dir, engine.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer e.Close()

	_, err = e.FindCallers(context.Background(), "DoesNotExist")
	require.Error(t, err)
}

// TestFindCallers_WithoutSymbolsIsUnavailable covers a database that has
// never had symbols.kota written: queries should fail cleanly, not panic.
func TestFindCallers_WithoutSymbolsIsUnavailable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	seedSources(t, dir, map[string]string{"a.go": "package a\n\nfunc Foo() {}\n"})

	fsys := fs.NewReal()
	e, err := engine.New(fsys, dir, engine.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer e.Close()

	_, err = e.FindCallers(context.Background(), "Foo")
	require.Error(t, err)
}

// TestNew_TreatsCorruptSymbolsFileAsAbsent covers a truncated/corrupt
// symbols.kota: New must not fail, and queries degrade to "unavailable"
// rather than crashing.
func TestNew_TreatsCorruptSymbolsFileAsAbsent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "symbols.kota"), []byte("not a real symbol file"), 0o644))

	fsys := fs.NewReal()
	e, err := engine.New(fsys, dir, engine.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer e.Close()

	stats := e.GetStats()
	require.False(t, stats.SymbolsLoaded)

	_, err = e.FindCallers(context.Background(), "anything")
	require.Error(t, err)
}

// TestNew_TreatsCorruptGraphFileAsAbsent covers a malformed
// dependency_graph.bin: New must not fail, and the engine should fall back
// to on-demand extraction instead.
func TestNew_TreatsCorruptGraphFileAsAbsent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dependency_graph.bin"), []byte("{not json"), 0o644))

	fsys := fs.NewReal()
	e, err := engine.New(fsys, dir, engine.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer e.Close()

	stats := e.GetStats()
	require.False(t, stats.GraphLoaded)
}

func TestGetStats_ReportsUnloadedArtifactsWhenAbsent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()
	e, err := engine.New(fsys, dir, engine.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer e.Close()

	stats := e.GetStats()
	require.False(t, stats.SymbolsLoaded)
	require.False(t, stats.GraphLoaded)
}

func TestResult_LimitResults(t *testing.T) {
	t.Parallel()

	r := engine.Result{
		Matches: []engine.RelationshipMatch{{SymbolName: "a"}, {SymbolName: "b"}, {SymbolName: "c"}},
		Stats:   engine.Stats{DirectCount: 3},
	}

	trimmed := r.LimitResults(2)
	require.Len(t, trimmed.Matches, 2)
	require.True(t, trimmed.Stats.Truncated)
	require.Equal(t, 2, trimmed.Stats.DirectCount)

	untouched := r.LimitResults(10)
	require.Len(t, untouched.Matches, 3)
	require.False(t, untouched.Stats.Truncated)
}

func TestExecuteQuery_DispatchesByKind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	seedSources(t, dir, map[string]string{
		"a.go": "package a\n\nfunc Foo() {}\n",
		"b.go": "package a\n\nfunc Bar() {\n\tFoo()\n}\n",
	})
	seedSymbols(t, dir, "Foo")

	fsys := fs.NewReal()
	e, err := engine.New(fsys, dir, engine.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer e.Close()

	result, err := e.ExecuteQuery(context.Background(), engine.Query{Kind: engine.QueryFindCallers, Target: "Foo"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(result.Matches), 1)

	result, err = e.ExecuteQuery(context.Background(), engine.Query{Kind: engine.QueryKind(99), Target: "Foo"})
	require.NoError(t, err)
	require.Empty(t, result.Matches)
}
