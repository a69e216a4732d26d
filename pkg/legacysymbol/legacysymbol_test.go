package legacysymbol_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kotadb/kotadb/pkg/legacysymbol"
	"github.com/kotadb/kotadb/pkg/parser"
	"github.com/kotadb/kotadb/pkg/symbol"
)

func openTestStore(t *testing.T, cfg legacysymbol.Config) *legacysymbol.Store {
	t.Helper()

	dir := t.TempDir()
	s, err := legacysymbol.Open(dir, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleAnalysis() *parser.DependencyAnalysis {
	return &parser.DependencyAnalysis{
		FilePath: "/repo/widget.go",
		Language: "go",
		Symbols: []parser.ExtractedSymbol{
			{Name: "Widget", Kind: symbol.KindStruct, StartLine: 1, EndLine: 20, StartColumn: 0},
			{Name: "Render", Kind: symbol.KindMethod, StartLine: 5, EndLine: 10, StartColumn: 2, ParentName: "Widget"},
			{Name: "Validate", Kind: symbol.KindMethod, StartLine: 11, EndLine: 19, StartColumn: 2, ParentName: "Widget"},
		},
		References: []parser.Reference{
			{Kind: parser.FunctionCall, Name: "fmt.Sprintf", Line: 6, Column: 4},
			{Kind: parser.TypeUsage, Name: "Widget", Line: 12, Column: 4},
			{Kind: parser.FunctionCall, Name: "errors.New", Line: 13, Column: 4},
		},
	}
}

func TestExtractSymbols_NestingAndDependencies(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, legacysymbol.DefaultConfig())
	ctx := context.Background()

	ids, err := s.ExtractSymbols(ctx, "/repo/widget.go", sampleAnalysis(), "myrepo")
	require.NoError(t, err)
	require.Len(t, ids, 3)

	widget, ok := s.Get(ids[0])
	require.True(t, ok)
	require.Equal(t, "Widget", widget.Name)
	require.Nil(t, widget.ParentID)
	require.Len(t, widget.Children, 2)

	render, ok := s.Get(ids[1])
	require.True(t, ok)
	require.Equal(t, "Render", render.Name)
	require.NotNil(t, render.ParentID)
	require.Equal(t, widget.ID, *render.ParentID)
	require.Equal(t, []string{"fmt.Sprintf"}, render.Dependencies)

	validate, ok := s.Get(ids[2])
	require.True(t, ok)
	require.ElementsMatch(t, []string{"Widget", "errors.New"}, validate.Dependencies)

	files := s.FindByFile("/repo/widget.go")
	require.Len(t, files, 3)
}

func TestExtractSymbols_DeterministicAcrossRuns(t *testing.T) {
	t.Parallel()

	s1 := openTestStore(t, legacysymbol.DefaultConfig())
	s2 := openTestStore(t, legacysymbol.DefaultConfig())
	ctx := context.Background()

	ids1, err := s1.ExtractSymbols(ctx, "/repo/widget.go", sampleAnalysis(), "myrepo")
	require.NoError(t, err)
	ids2, err := s2.ExtractSymbols(ctx, "/repo/widget.go", sampleAnalysis(), "myrepo")
	require.NoError(t, err)

	require.Equal(t, ids1, ids2)
}

func TestUpdateFileSymbols_ReplacesExistingSet(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, legacysymbol.DefaultConfig())
	ctx := context.Background()

	_, err := s.ExtractSymbols(ctx, "/repo/widget.go", sampleAnalysis(), "myrepo")
	require.NoError(t, err)
	require.Len(t, s.FindByFile("/repo/widget.go"), 3)

	smaller := &parser.DependencyAnalysis{
		FilePath: "/repo/widget.go",
		Symbols: []parser.ExtractedSymbol{
			{Name: "Widget", Kind: symbol.KindStruct, StartLine: 1, EndLine: 5, StartColumn: 0},
		},
	}

	err = s.UpdateFileSymbols(ctx, "/repo/widget.go", smaller, "myrepo")
	require.NoError(t, err)

	entries := s.FindByFile("/repo/widget.go")
	require.Len(t, entries, 1)
	require.Equal(t, "Widget", entries[0].Name)

	byName := s.FindByName("/repo/widget.go::Widget")
	require.Len(t, byName, 1)
}

// The cancelled context makes UpdateFileSymbols fail before it changes
// anything, so this checks that a failed update leaves the file's entries
// as they were; it does not reach the branch that rolls back after a failed
// extraction.
func TestUpdateFileSymbols_RollbackRestoresPriorState(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, legacysymbol.DefaultConfig())
	ctx := context.Background()

	_, err := s.ExtractSymbols(ctx, "/repo/widget.go", sampleAnalysis(), "myrepo")
	require.NoError(t, err)
	before := s.FindByFile("/repo/widget.go")
	require.Len(t, before, 3)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	err = s.UpdateFileSymbols(cancelled, "/repo/widget.go", sampleAnalysis(), "myrepo")
	require.Error(t, err)

	after := s.FindByFile("/repo/widget.go")
	require.Equal(t, before, after)
}

func TestSearch_ScoresExactPrefixContainsAndFuzzy(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, legacysymbol.DefaultConfig())
	ctx := context.Background()

	analysis := &parser.DependencyAnalysis{
		FilePath: "/repo/names.go",
		Symbols: []parser.ExtractedSymbol{
			{Name: "Handler", Kind: symbol.KindFunction, StartLine: 1, EndLine: 2},
			{Name: "HandlerFunc", Kind: symbol.KindFunction, StartLine: 3, EndLine: 4},
			{Name: "RequestHandling", Kind: symbol.KindFunction, StartLine: 5, EndLine: 6},
			{Name: "Compute", Kind: symbol.KindFunction, StartLine: 7, EndLine: 8},
		},
	}
	_, err := s.ExtractSymbols(ctx, "/repo/names.go", analysis, "myrepo")
	require.NoError(t, err)

	results := s.Search("Handler", 10)
	require.NotEmpty(t, results)
	require.Equal(t, "Handler", results[0].Name)

	names := make([]string, len(results))
	for i, e := range results {
		names[i] = e.Name
	}
	require.Contains(t, names, "HandlerFunc")
	require.Contains(t, names, "RequestHandling")
	require.NotContains(t, names, "Compute")
}

func TestSearch_RespectsLimit(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, legacysymbol.DefaultConfig())
	ctx := context.Background()

	analysis := &parser.DependencyAnalysis{
		FilePath: "/repo/many.go",
		Symbols: []parser.ExtractedSymbol{
			{Name: "Alpha", Kind: symbol.KindFunction, StartLine: 1, EndLine: 2},
			{Name: "Alphabet", Kind: symbol.KindFunction, StartLine: 3, EndLine: 4},
			{Name: "AlphaBeta", Kind: symbol.KindFunction, StartLine: 5, EndLine: 6},
		},
	}
	_, err := s.ExtractSymbols(ctx, "/repo/many.go", analysis, "myrepo")
	require.NoError(t, err)

	require.Len(t, s.Search("Alpha", 2), 2)
}

func TestIndexEntry_EvictsOnMaxSymbols(t *testing.T) {
	t.Parallel()

	cfg := legacysymbol.DefaultConfig()
	cfg.MaxSymbols = 2
	s := openTestStore(t, cfg)
	ctx := context.Background()

	analysis := &parser.DependencyAnalysis{
		FilePath: "/repo/evict.go",
		Symbols: []parser.ExtractedSymbol{
			{Name: "First", Kind: symbol.KindFunction, StartLine: 1, EndLine: 2},
			{Name: "Second", Kind: symbol.KindFunction, StartLine: 3, EndLine: 4},
			{Name: "Third", Kind: symbol.KindFunction, StartLine: 5, EndLine: 6},
		},
	}
	ids, err := s.ExtractSymbols(ctx, "/repo/evict.go", analysis, "myrepo")
	require.NoError(t, err)

	_, firstStillPresent := s.Get(ids[0])
	require.False(t, firstStillPresent)

	_, thirdPresent := s.Get(ids[2])
	require.True(t, thirdPresent)
}

func TestIndexEntry_EvictsOnMaxMemoryBytes(t *testing.T) {
	t.Parallel()

	cfg := legacysymbol.DefaultConfig()
	cfg.MaxSymbols = 1000
	cfg.MaxMemoryBytes = 1 // smaller than a single entry forces the drain-all path
	s := openTestStore(t, cfg)
	ctx := context.Background()

	_, err := s.ExtractSymbols(ctx, "/repo/tiny.go", sampleAnalysis(), "myrepo")
	require.NoError(t, err)

	used, limit, _ := s.MemoryUsage()
	require.Equal(t, 0, used)
	require.Equal(t, 1, limit)
}

func TestRelationships_BuildAndQuery(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, legacysymbol.DefaultConfig())
	ctx := context.Background()

	_, err := s.ExtractSymbols(ctx, "/repo/widget.go", sampleAnalysis(), "myrepo")
	require.NoError(t, err)

	s.BuildRelationships()

	widgets := s.FindByName("/repo/widget.go::Widget")
	require.Len(t, widgets, 1)
	widgetID := widgets[0].ID

	dependents := s.FindDependents(widgetID)
	require.NotEmpty(t, dependents)

	names := make([]string, len(dependents))
	for i, e := range dependents {
		names[i] = e.Name
	}
	require.Contains(t, names, "Validate")
}

func TestReopen_ReconstructsIndicesAndRelationships(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := legacysymbol.DefaultConfig()
	ctx := context.Background()

	s1, err := legacysymbol.Open(dir, cfg, zerolog.Nop())
	require.NoError(t, err)
	_, err = s1.ExtractSymbols(ctx, "/repo/widget.go", sampleAnalysis(), "myrepo")
	require.NoError(t, err)
	s1.BuildRelationships()
	require.NoError(t, s1.Close())

	s2, err := legacysymbol.Open(dir, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	entries := s2.FindByFile("/repo/widget.go")
	require.Len(t, entries, 3)

	stats := s2.Stats()
	require.Equal(t, 3, stats.TotalSymbols)
	require.Equal(t, 1, stats.RepositoryCount)
	require.Equal(t, 1, stats.FileCount)
}

func TestStats_CountsCircularDependencies(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, legacysymbol.DefaultConfig())
	ctx := context.Background()

	cyclic := &parser.DependencyAnalysis{
		FilePath: "/repo/cycle.go",
		Symbols: []parser.ExtractedSymbol{
			{Name: "A", Kind: symbol.KindFunction, StartLine: 1, EndLine: 3},
			{Name: "B", Kind: symbol.KindFunction, StartLine: 4, EndLine: 6},
		},
		References: []parser.Reference{
			{Kind: parser.FunctionCall, Name: "B", Line: 2, Column: 1},
			{Kind: parser.FunctionCall, Name: "A", Line: 5, Column: 1},
		},
	}

	_, err := s.ExtractSymbols(ctx, "/repo/cycle.go", cyclic, "myrepo")
	require.NoError(t, err)
	s.BuildRelationships()

	stats := s.Stats()
	require.Equal(t, 2, stats.CircularDependencies)
}

func TestSanitizePath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input string
		want  string
	}{
		{"../../../etc/passwd", "etc/passwd"},
		{`..\..\windows\system32`, "windows/system32"},
		{"safe/normal/path", "safe/normal/path"},
		{"./safe/path", "safe/path"},
		{"./../parent", "parent"},
		{"nested/../folder", "folder"},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, legacysymbol.SanitizePath(tc.input), "input=%q", tc.input)
	}
}
