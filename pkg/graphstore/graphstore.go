// Package graphstore is the optional, stand-alone persistent graph
// described in spec.md §4.8: the same logical API as pkg/depgraph, backed
// by append-only page files instead of living entirely in memory.
package graphstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kotadb/kotadb/pkg/depgraph"
	"github.com/kotadb/kotadb/pkg/fs"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/symbol"
	"github.com/kotadb/kotadb/pkg/validated"
)

// NodeRecord is one persisted graph node.
type NodeRecord struct {
	ID            validated.DocumentID
	QualifiedName string
	SymbolType    symbol.Kind
	FilePath      string
}

// EdgeRecord is one persisted graph edge.
type EdgeRecord struct {
	FromID   validated.DocumentID
	ToID     validated.DocumentID
	Relation depgraph.Relation
	Line     uint32
	Column   uint32
	Context  string
}

// Store is a page-backed, WAL-durable dependency graph.
type Store struct {
	mu sync.RWMutex

	fsys     fs.FS
	writer   *fs.AtomicWriter
	logger   zerolog.Logger
	nodesDir string
	edgesDir string
	wal      *walLog

	nodes map[string]NodeRecord      // id string -> node
	edges []EdgeRecord               // append-only edge log; deletes drop the edge's out/in indices and leave the record
	out   map[string][]int           // from id string -> edge indices
	in    map[string][]int           // to id string -> edge indices

	nextPage int
}

// Open opens or creates a graph store rooted at dbPath/graph. logger is used
// only to warn about skipped page data — pages that are truncated or fail
// the magic/CRC check (spec.md §6: "mismatched pages are skipped with a
// warning"), trailing partial records, and records that fail to decode —
// pass zerolog.Nop() to silence it.
func Open(fsys fs.FS, dbPath string, logger zerolog.Logger) (*Store, error) {
	const op = "graphstore.Open"

	root := filepath.Join(dbPath, "graph")
	nodesDir := filepath.Join(root, "nodes")
	edgesDir := filepath.Join(root, "edges")
	walDir := filepath.Join(root, "wal")

	for _, d := range []string{nodesDir, edgesDir, walDir} {
		if err := fsys.MkdirAll(d, 0o755); err != nil {
			return nil, kotaerr.New(op, kotaerr.Io, d, err)
		}
	}

	s := &Store{
		fsys:     fsys,
		writer:   fs.NewAtomicWriter(fsys),
		logger:   logger,
		nodesDir: nodesDir,
		edgesDir: edgesDir,
		nodes:    make(map[string]NodeRecord),
		out:      make(map[string][]int),
		in:       make(map[string][]int),
	}

	if err := s.loadPages(); err != nil {
		return nil, kotaerr.New(op, kotaerr.Corruption, root, err)
	}

	w, ops, err := openWAL(fsys, filepath.Join(walDir, "graph.wal"))
	if err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, walDir, err)
	}
	s.wal = w

	for _, rec := range ops {
		s.applyReplayed(rec)
	}

	return s, nil
}

func (s *Store) applyReplayed(rec walEntry) {
	switch rec.Kind {
	case opNodeInsert, opNodeUpdate:
		n, err := fromWireNode(rec.Node)
		if err != nil {
			return
		}
		s.nodes[n.ID.String()] = n
	case opNodeDelete:
		s.removeNodeLocked(rec.NodeID)
	case opEdgeInsert:
		e, err := fromWireEdge(rec.Edge)
		if err != nil {
			return
		}
		s.appendEdgeLocked(e)
	case opEdgeDelete:
		s.removeEdgeLocked(rec.FromID, rec.ToID)
	case opCheckpoint:
		// no-op on replay: the checkpoint's page writes already happened
		// before this entry was appended.
	}
}

// InsertNode adds a node, failing with Conflict if the id already exists.
func (s *Store) InsertNode(ctx context.Context, rec NodeRecord) error {
	const op = "graphstore.InsertNode"
	if err := ctx.Err(); err != nil {
		return kotaerr.New(op, kotaerr.Timeout, rec.ID.String(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idStr := rec.ID.String()
	if _, exists := s.nodes[idStr]; exists {
		return kotaerr.New(op, kotaerr.Conflict, idStr, fmt.Errorf("node already exists"))
	}

	if err := s.wal.append(walEntry{Kind: opNodeInsert, Node: toWireNode(rec)}); err != nil {
		return kotaerr.New(op, kotaerr.Io, idStr, err)
	}
	s.nodes[idStr] = rec
	return nil
}

// UpdateNode replaces a node's stored fields in place.
func (s *Store) UpdateNode(ctx context.Context, rec NodeRecord) error {
	const op = "graphstore.UpdateNode"
	if err := ctx.Err(); err != nil {
		return kotaerr.New(op, kotaerr.Timeout, rec.ID.String(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idStr := rec.ID.String()
	if _, exists := s.nodes[idStr]; !exists {
		return kotaerr.New(op, kotaerr.NotFound, idStr, fmt.Errorf("node not found"))
	}

	if err := s.wal.append(walEntry{Kind: opNodeUpdate, Node: toWireNode(rec)}); err != nil {
		return kotaerr.New(op, kotaerr.Io, idStr, err)
	}
	s.nodes[idStr] = rec
	return nil
}

// DeleteNode removes a node and every edge incident to it in either
// direction, per spec.md §4.8.
func (s *Store) DeleteNode(ctx context.Context, id validated.DocumentID) error {
	const op = "graphstore.DeleteNode"
	if err := ctx.Err(); err != nil {
		return kotaerr.New(op, kotaerr.Timeout, id.String(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idStr := id.String()
	if _, exists := s.nodes[idStr]; !exists {
		return kotaerr.New(op, kotaerr.NotFound, idStr, fmt.Errorf("node not found"))
	}

	if err := s.wal.append(walEntry{Kind: opNodeDelete, NodeID: idStr}); err != nil {
		return kotaerr.New(op, kotaerr.Io, idStr, err)
	}
	s.removeNodeLocked(idStr)
	return nil
}

func (s *Store) removeNodeLocked(idStr string) {
	delete(s.nodes, idStr)
	for _, idx := range append([]int(nil), s.out[idStr]...) {
		e := s.edges[idx]
		s.removeEdgeLocked(e.FromID.String(), e.ToID.String())
	}
	for _, idx := range append([]int(nil), s.in[idStr]...) {
		e := s.edges[idx]
		s.removeEdgeLocked(e.FromID.String(), e.ToID.String())
	}
	delete(s.out, idStr)
	delete(s.in, idStr)
}

// InsertEdge adds an edge between two existing nodes.
func (s *Store) InsertEdge(ctx context.Context, rec EdgeRecord) error {
	const op = "graphstore.InsertEdge"
	if err := ctx.Err(); err != nil {
		return kotaerr.New(op, kotaerr.Timeout, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[rec.FromID.String()]; !ok {
		return kotaerr.New(op, kotaerr.NotFound, rec.FromID.String(), fmt.Errorf("source node not found"))
	}
	if _, ok := s.nodes[rec.ToID.String()]; !ok {
		return kotaerr.New(op, kotaerr.NotFound, rec.ToID.String(), fmt.Errorf("target node not found"))
	}

	if err := s.wal.append(walEntry{Kind: opEdgeInsert, Edge: toWireEdge(rec)}); err != nil {
		return kotaerr.New(op, kotaerr.Io, "", err)
	}
	s.appendEdgeLocked(rec)
	return nil
}

func (s *Store) appendEdgeLocked(rec EdgeRecord) {
	idx := len(s.edges)
	s.edges = append(s.edges, rec)
	fromStr, toStr := rec.FromID.String(), rec.ToID.String()
	s.out[fromStr] = append(s.out[fromStr], idx)
	s.in[toStr] = append(s.in[toStr], idx)
}

// UpdateEdgeMetadata mutates the context string of every edge from->to,
// per spec.md §4.8's "edge metadata is mutable via an update op".
func (s *Store) UpdateEdgeMetadata(ctx context.Context, from, to validated.DocumentID, contextText string) error {
	const op = "graphstore.UpdateEdgeMetadata"
	if err := ctx.Err(); err != nil {
		return kotaerr.New(op, kotaerr.Timeout, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fromStr, toStr := from.String(), to.String()
	var matched *EdgeRecord
	for _, idx := range s.out[fromStr] {
		if s.edges[idx].ToID.String() == toStr {
			s.edges[idx].Context = contextText
			matched = &s.edges[idx]
		}
	}
	if matched == nil {
		return kotaerr.New(op, kotaerr.NotFound, fromStr+"->"+toStr, fmt.Errorf("edge not found"))
	}

	if err := s.wal.append(walEntry{Kind: opEdgeInsert, Edge: toWireEdge(*matched)}); err != nil {
		return kotaerr.New(op, kotaerr.Io, "", err)
	}
	return nil
}

// DeleteEdge removes every edge from->to.
func (s *Store) DeleteEdge(ctx context.Context, from, to validated.DocumentID) error {
	const op = "graphstore.DeleteEdge"
	if err := ctx.Err(); err != nil {
		return kotaerr.New(op, kotaerr.Timeout, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fromStr, toStr := from.String(), to.String()
	if err := s.wal.append(walEntry{Kind: opEdgeDelete, FromID: fromStr, ToID: toStr}); err != nil {
		return kotaerr.New(op, kotaerr.Io, "", err)
	}
	s.removeEdgeLocked(fromStr, toStr)
	return nil
}

func (s *Store) removeEdgeLocked(fromStr, toStr string) {
	keep := make([]int, 0, len(s.out[fromStr]))
	for _, idx := range s.out[fromStr] {
		if s.edges[idx].ToID.String() != toStr {
			keep = append(keep, idx)
		}
	}
	s.out[fromStr] = keep

	keepIn := make([]int, 0, len(s.in[toStr]))
	for _, idx := range s.in[toStr] {
		if s.edges[idx].FromID.String() != fromStr {
			keepIn = append(keepIn, idx)
		}
	}
	s.in[toStr] = keepIn
}

// Node returns the stored node for id.
func (s *Store) Node(id validated.DocumentID) (NodeRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id.String()]
	return n, ok
}

// Checkpoint writes every live node/edge to a fresh page file and
// truncates the WAL, per spec.md §5's WAL-rotation posture.
func (s *Store) Checkpoint(ctx context.Context) error {
	const op = "graphstore.Checkpoint"
	if err := ctx.Err(); err != nil {
		return kotaerr.New(op, kotaerr.Timeout, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPage++
	nodesPath := filepath.Join(s.nodesDir, fmt.Sprintf("page-%06d.page", s.nextPage))
	edgesPath := filepath.Join(s.edgesDir, fmt.Sprintf("page-%06d.page", s.nextPage))

	nodeList := make([]NodeRecord, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodeList = append(nodeList, n)
	}
	sort.Slice(nodeList, func(i, j int) bool { return nodeList[i].ID.String() < nodeList[j].ID.String() })

	liveEdges := make([]EdgeRecord, 0, len(s.edges))
	for _, idxs := range s.out {
		for _, idx := range idxs {
			liveEdges = append(liveEdges, s.edges[idx])
		}
	}

	if err := writeNodePage(s.writer, nodesPath, nodeList); err != nil {
		return kotaerr.New(op, kotaerr.Io, nodesPath, err)
	}
	if err := writeEdgePage(s.writer, edgesPath, liveEdges); err != nil {
		return kotaerr.New(op, kotaerr.Io, edgesPath, err)
	}

	if err := s.wal.append(walEntry{Kind: opCheckpoint}); err != nil {
		return kotaerr.New(op, kotaerr.Io, "", err)
	}
	if err := s.wal.truncate(); err != nil {
		return kotaerr.New(op, kotaerr.Io, "", err)
	}
	return nil
}

// Close checkpoints and releases resources.
func (s *Store) Close() error {
	if err := s.Checkpoint(context.Background()); err != nil {
		return err
	}
	return s.wal.close()
}

func (s *Store) loadPages() error {
	nodeFiles, err := pageFiles(s.fsys, s.nodesDir)
	if err != nil {
		return err
	}
	for _, f := range nodeFiles {
		recs, err := readNodePage(s.fsys, f, s.logger)
		if err != nil {
			return fmt.Errorf("loading node page %s: %w", f, err)
		}
		for _, r := range recs {
			s.nodes[r.ID.String()] = r
		}
	}

	edgeFiles, err := pageFiles(s.fsys, s.edgesDir)
	if err != nil {
		return err
	}
	for _, f := range edgeFiles {
		recs, err := readEdgePage(s.fsys, f, s.logger)
		if err != nil {
			return fmt.Errorf("loading edge page %s: %w", f, err)
		}
		for _, r := range recs {
			s.appendEdgeLocked(r)
		}
	}

	s.nextPage = len(nodeFiles)
	return nil
}

func pageFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".page" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
