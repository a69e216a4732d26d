package symbol_test

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/kotadb/kotadb/pkg/fs"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/symbol"
	"github.com/kotadb/kotadb/pkg/validated"
	"github.com/stretchr/testify/require"
)

func mustID(t *testing.T) validated.DocumentID {
	t.Helper()
	id, err := validated.NewDocumentID(uuid.New())
	require.NoError(t, err)
	return id
}

func TestWriteRead_RoundTrip(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "symbols.kota")

	parent := mustID(t)
	child := mustID(t)

	symbols := []symbol.Symbol{
		{ID: parent, Kind: symbol.KindClass, Name: "Widget", Path: "/src/widget.go", StartLine: 10, EndLine: 40},
		{ID: child, Kind: symbol.KindMethod, Name: "Render", Path: "/src/widget.go", StartLine: 12, EndLine: 20, ParentID: &parent},
	}

	require.NoError(t, symbol.Write(fsys, path, symbols))

	r, err := symbol.Open(fsys, path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 2, r.SymbolCount())

	all, err := r.IterSymbols()
	require.NoError(t, err)
	require.Len(t, all, 2)

	for i := range 2 {
		got, err := r.GetSymbol(i)
		require.NoError(t, err)
		require.Equal(t, symbols[i].Name, got.Name)
		require.Equal(t, symbols[i].Path, got.Path)
		require.Equal(t, symbols[i].Kind, got.Kind)
	}

	found, ok, err := r.FindSymbol(parent)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Widget", found.Name)

	foundChild, ok, err := r.FindSymbol(child)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, foundChild.ParentID)
	require.Equal(t, parent.String(), foundChild.ParentID.String())

	byName, ok, err := r.FindSymbolByName("Render")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, child.String(), byName.ID.String())

	_, ok, err = r.FindSymbol(mustID(t))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOpen_TruncatedFileIsCorruption(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "symbols.kota")

	symbols := []symbol.Symbol{
		{ID: mustID(t), Kind: symbol.KindFunction, Name: "f", Path: "/a.go", StartLine: 1, EndLine: 2},
	}
	require.NoError(t, symbol.Write(fsys, path, symbols))

	require.NoError(t, fsys.WriteFile(path, []byte("short"), 0o644))

	_, err := symbol.Open(fsys, path)
	require.Error(t, err)
	require.Equal(t, kotaerr.Corruption, kotaerr.Of(err))
}

func TestWriteRead_EmptySymbolSet(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "symbols.kota")

	require.NoError(t, symbol.Write(fsys, path, nil))

	r, err := symbol.Open(fsys, path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 0, r.SymbolCount())
	all, err := r.IterSymbols()
	require.NoError(t, err)
	require.Empty(t, all)
}
