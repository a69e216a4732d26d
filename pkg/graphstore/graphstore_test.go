package graphstore_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kotadb/kotadb/pkg/depgraph"
	"github.com/kotadb/kotadb/pkg/fs"
	"github.com/kotadb/kotadb/pkg/graphstore"
	"github.com/kotadb/kotadb/pkg/symbol"
	"github.com/kotadb/kotadb/pkg/validated"
)

func node(name string) graphstore.NodeRecord {
	return graphstore.NodeRecord{
		ID:            validated.NewDocumentIDGenerate(),
		QualifiedName: name,
		SymbolType:    symbol.KindFunction,
		FilePath:      name + ".go",
	}
}

func openStore(t *testing.T) *graphstore.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := graphstore.Open(fs.NewReal(), dir, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndFetchNode(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	n := node("Caller")
	require.NoError(t, s.InsertNode(context.Background(), n))

	got, ok := s.Node(n.ID)
	require.True(t, ok)
	require.Equal(t, n.QualifiedName, got.QualifiedName)
}

func TestInsertNode_DuplicateIsConflict(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	n := node("Caller")
	require.NoError(t, s.InsertNode(context.Background(), n))
	err := s.InsertNode(context.Background(), n)
	require.Error(t, err)
}

func TestDeleteNode_RemovesIncidentEdgesBothDirections(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	a, b, c := node("A"), node("B"), node("C")
	require.NoError(t, s.InsertNode(ctx, a))
	require.NoError(t, s.InsertNode(ctx, b))
	require.NoError(t, s.InsertNode(ctx, c))

	require.NoError(t, s.InsertEdge(ctx, graphstore.EdgeRecord{FromID: a.ID, ToID: b.ID, Relation: depgraph.RelationCalls}))
	require.NoError(t, s.InsertEdge(ctx, graphstore.EdgeRecord{FromID: c.ID, ToID: b.ID, Relation: depgraph.RelationCalls}))

	require.NoError(t, s.DeleteNode(ctx, b.ID))

	paths, err := s.FindPaths(ctx, a.ID, c.ID, 5, 10)
	require.NoError(t, err)
	require.Empty(t, paths)
}

func TestUpdateEdgeMetadata_MutatesContext(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	a, b := node("A"), node("B")
	require.NoError(t, s.InsertNode(ctx, a))
	require.NoError(t, s.InsertNode(ctx, b))
	require.NoError(t, s.InsertEdge(ctx, graphstore.EdgeRecord{FromID: a.ID, ToID: b.ID, Relation: depgraph.RelationCalls}))

	require.NoError(t, s.UpdateEdgeMetadata(ctx, a.ID, b.ID, "updated context"))

	result, err := s.Subgraph(ctx, []validated.DocumentID{a.ID}, 1)
	require.NoError(t, err)
	require.Len(t, result.Edges, 1)
	require.Equal(t, "updated context", result.Edges[0].Context)
}

func TestUpdateEdgeMetadata_MissingEdgeIsNotFound(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	a, b := node("A"), node("B")
	require.NoError(t, s.InsertNode(ctx, a))
	require.NoError(t, s.InsertNode(ctx, b))

	err := s.UpdateEdgeMetadata(ctx, a.ID, b.ID, "nope")
	require.Error(t, err)
}

func TestSubgraph_BFSRespectsMaxDepth(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	a, b, c, d := node("A"), node("B"), node("C"), node("D")
	for _, n := range []graphstore.NodeRecord{a, b, c, d} {
		require.NoError(t, s.InsertNode(ctx, n))
	}
	require.NoError(t, s.InsertEdge(ctx, graphstore.EdgeRecord{FromID: a.ID, ToID: b.ID, Relation: depgraph.RelationCalls}))
	require.NoError(t, s.InsertEdge(ctx, graphstore.EdgeRecord{FromID: b.ID, ToID: c.ID, Relation: depgraph.RelationCalls}))
	require.NoError(t, s.InsertEdge(ctx, graphstore.EdgeRecord{FromID: c.ID, ToID: d.ID, Relation: depgraph.RelationCalls}))

	result, err := s.Subgraph(ctx, []validated.DocumentID{a.ID}, 1)
	require.NoError(t, err)
	require.Len(t, result.Nodes, 2) // a, b
	require.True(t, result.Truncated)

	full, err := s.Subgraph(ctx, []validated.DocumentID{a.ID}, 10)
	require.NoError(t, err)
	require.Len(t, full.Nodes, 4)
	require.False(t, full.Truncated)
}

func TestFindPaths_FindsDirectAndTransitivePaths(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	a, b, c := node("A"), node("B"), node("C")
	for _, n := range []graphstore.NodeRecord{a, b, c} {
		require.NoError(t, s.InsertNode(ctx, n))
	}
	require.NoError(t, s.InsertEdge(ctx, graphstore.EdgeRecord{FromID: a.ID, ToID: b.ID, Relation: depgraph.RelationCalls}))
	require.NoError(t, s.InsertEdge(ctx, graphstore.EdgeRecord{FromID: b.ID, ToID: c.ID, Relation: depgraph.RelationCalls}))
	require.NoError(t, s.InsertEdge(ctx, graphstore.EdgeRecord{FromID: a.ID, ToID: c.ID, Relation: depgraph.RelationCalls}))

	paths, err := s.FindPaths(ctx, a.ID, c.ID, 5, 10)
	require.NoError(t, err)
	require.Len(t, paths, 2)
}

func TestCheckpointAndReopen_RoundTripsPages(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()

	s, err := graphstore.Open(fsys, dir, zerolog.Nop())
	require.NoError(t, err)

	a, b := node("A"), node("B")
	require.NoError(t, s.InsertNode(context.Background(), a))
	require.NoError(t, s.InsertNode(context.Background(), b))
	require.NoError(t, s.InsertEdge(context.Background(), graphstore.EdgeRecord{FromID: a.ID, ToID: b.ID, Relation: depgraph.RelationCalls}))
	require.NoError(t, s.Close())

	reopened, err := graphstore.Open(fsys, dir, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, ok := reopened.Node(a.ID)
	require.True(t, ok)
	require.Equal(t, "A", got.QualifiedName)

	paths, err := reopened.FindPaths(context.Background(), a.ID, b.ID, 5, 10)
	require.NoError(t, err)
	require.Len(t, paths, 1)
}

func TestWALReplay_SurvivesWithoutCheckpoint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewReal()

	s, err := graphstore.Open(fsys, dir, zerolog.Nop())
	require.NoError(t, err)

	a := node("A")
	require.NoError(t, s.InsertNode(context.Background(), a))
	// No Checkpoint/Close: the page files stay empty, recovery must come
	// entirely from the WAL.

	reopened, err := graphstore.Open(fsys, dir, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, ok := reopened.Node(a.ID)
	require.True(t, ok)
	require.Equal(t, "A", got.QualifiedName)
}
