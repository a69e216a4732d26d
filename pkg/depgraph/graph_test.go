package depgraph_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kotadb/kotadb/pkg/depgraph"
	"github.com/kotadb/kotadb/pkg/fs"
	"github.com/kotadb/kotadb/pkg/parser"
	"github.com/kotadb/kotadb/pkg/symbol"
)

func analysisFor(filePath string, syms []parser.ExtractedSymbol, refs []parser.Reference, imports []parser.Import) parser.DependencyAnalysis {
	return parser.DependencyAnalysis{
		FilePath:   filePath,
		Language:   "go",
		Imports:    imports,
		References: refs,
		Symbols:    syms,
	}
}

func TestBuild_ResolvesDirectCallWithinSameFile(t *testing.T) {
	t.Parallel()

	analyses := []parser.DependencyAnalysis{
		analysisFor("a.go",
			[]parser.ExtractedSymbol{
				{Name: "Caller", Kind: symbol.KindFunction, StartLine: 1, EndLine: 5},
				{Name: "Callee", Kind: symbol.KindFunction, StartLine: 10, EndLine: 15},
			},
			[]parser.Reference{
				{Kind: parser.FunctionCall, Name: "Callee", Line: 3, Column: 2},
			},
			nil,
		),
	}

	g := depgraph.Build(analyses)
	require.Equal(t, 2, g.Stats().NodeCount)
	require.Equal(t, 1, g.Stats().EdgeCount)

	caller, ok := g.LookupByName("Caller")
	require.True(t, ok)

	deps := g.FindDependencies(caller.SymbolID)
	require.Len(t, deps, 1)
	require.Equal(t, depgraph.RelationCalls, deps[0].Relation)

	callee, ok := g.LookupByName("Callee")
	require.True(t, ok)
	dependents := g.FindDependents(callee.SymbolID)
	require.Len(t, dependents, 1)
	require.Equal(t, caller.SymbolID.String(), dependents[0].ID.String())
}

func TestBuild_SelfLoopIsSuppressed(t *testing.T) {
	t.Parallel()

	analyses := []parser.DependencyAnalysis{
		analysisFor("a.go",
			[]parser.ExtractedSymbol{
				{Name: "Recurse", Kind: symbol.KindFunction, StartLine: 1, EndLine: 10},
			},
			[]parser.Reference{
				{Kind: parser.FunctionCall, Name: "Recurse", Line: 5, Column: 2},
			},
			nil,
		),
	}

	g := depgraph.Build(analyses)
	require.Equal(t, 0, g.Stats().EdgeCount)
}

func TestBuild_ResolvesViaImportScopedMatch(t *testing.T) {
	t.Parallel()

	analyses := []parser.DependencyAnalysis{
		analysisFor("a.go",
			[]parser.ExtractedSymbol{
				{Name: "Caller", Kind: symbol.KindFunction, StartLine: 1, EndLine: 5},
			},
			[]parser.Reference{
				{Kind: parser.FunctionCall, Name: "Helper", Line: 3, Column: 2},
			},
			[]parser.Import{{Path: "pkg/util.go", Items: []string{"Helper"}}},
		),
		analysisFor("pkg/util.go",
			[]parser.ExtractedSymbol{
				{Name: "Helper", Kind: symbol.KindFunction, StartLine: 1, EndLine: 3},
			},
			nil, nil,
		),
	}

	g := depgraph.Build(analyses)
	require.Equal(t, 1, g.Stats().EdgeCount)

	caller, ok := g.LookupByName("Caller")
	require.True(t, ok)
	deps := g.FindDependencies(caller.SymbolID)
	require.Len(t, deps, 1)
}

func TestBuild_UnresolvedReferenceIsSkipped(t *testing.T) {
	t.Parallel()

	analyses := []parser.DependencyAnalysis{
		analysisFor("a.go",
			[]parser.ExtractedSymbol{
				{Name: "Caller", Kind: symbol.KindFunction, StartLine: 1, EndLine: 5},
			},
			[]parser.Reference{
				{Kind: parser.FunctionCall, Name: "NoSuchSymbol", Line: 3, Column: 2},
			},
			nil,
		),
	}

	g := depgraph.Build(analyses)
	require.Equal(t, 0, g.Stats().EdgeCount)
}

func TestBuild_CircularDependencyDetected(t *testing.T) {
	t.Parallel()

	analyses := []parser.DependencyAnalysis{
		analysisFor("a.go",
			[]parser.ExtractedSymbol{
				{Name: "A", Kind: symbol.KindFunction, StartLine: 1, EndLine: 5},
			},
			[]parser.Reference{{Kind: parser.FunctionCall, Name: "B", Line: 3, Column: 2}},
			nil,
		),
		analysisFor("b.go",
			[]parser.ExtractedSymbol{
				{Name: "B", Kind: symbol.KindFunction, StartLine: 1, EndLine: 5},
			},
			[]parser.Reference{{Kind: parser.FunctionCall, Name: "A", Line: 3, Column: 2}},
			nil,
		),
	}

	g := depgraph.Build(analyses)
	sccs := g.FindCircularDependencies()
	require.Len(t, sccs, 1)
	require.Len(t, sccs[0], 2)
	require.Equal(t, 1, g.Stats().SCCCount)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	analyses := []parser.DependencyAnalysis{
		analysisFor("a.go",
			[]parser.ExtractedSymbol{
				{Name: "Caller", Kind: symbol.KindFunction, StartLine: 1, EndLine: 5},
				{Name: "Callee", Kind: symbol.KindFunction, StartLine: 10, EndLine: 15},
			},
			[]parser.Reference{{Kind: parser.FunctionCall, Name: "Callee", Line: 3, Column: 2}},
			nil,
		),
	}

	g := depgraph.Build(analyses)

	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "dependency_graph.bin")
	require.NoError(t, depgraph.Save(fsys, path, g))

	loaded, err := depgraph.Load(fsys, path)
	require.NoError(t, err)

	require.Equal(t, g.Stats().NodeCount, loaded.Stats().NodeCount)
	require.Equal(t, g.Stats().EdgeCount, loaded.Stats().EdgeCount)

	caller, ok := loaded.LookupByName("Caller")
	require.True(t, ok)
	deps := loaded.FindDependencies(caller.SymbolID)
	require.Len(t, deps, 1)
}

func TestLoad_OversizedRecordIsCorruption(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "dependency_graph.bin")

	// Declare an absurd record length without providing matching bytes.
	bad := make([]byte, 12)
	bad[0] = 0xff
	bad[1] = 0xff
	bad[2] = 0xff
	bad[3] = 0xff
	bad[4] = 0xff
	require.NoError(t, fsys.WriteFile(path, bad, 0o644))

	_, err := depgraph.Load(fsys, path)
	require.Error(t, err)
}
