package depgraph

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"path/filepath"

	"github.com/kotadb/kotadb/pkg/fs"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/parser"
	"github.com/kotadb/kotadb/pkg/symbol"
	"github.com/kotadb/kotadb/pkg/validated"
)

// maxRecordBytes bounds any single decoded record, per spec.md §4.7's "hard
// per-record size cap (default 10 MiB) to bound deserialization".
const maxRecordBytes = 10 << 20

var graphCRCTable = crc32.MakeTable(crc32.Castagnoli)

// wireNode/wireEdge are the JSON-serializable projections of Node/Edge —
// validated.DocumentID doesn't implement json.Marshaler, so ids round-trip
// as their canonical string form and are re-validated on load.
type wireNode struct {
	SymbolID      string `json:"symbol_id"`
	QualifiedName string `json:"qualified_name"`
	SymbolType    uint8  `json:"symbol_type"`
	FilePath      string `json:"file_path"`
	InDegree      int    `json:"in_degree"`
	OutDegree     int    `json:"out_degree"`
}

type wireEdge struct {
	FromID   string `json:"from_id"`
	ToID     string `json:"to_id"`
	Relation string `json:"relation_type"`
	Line     uint32 `json:"line"`
	Column   uint32 `json:"column"`
	Context  string `json:"context"`
}

type wireImport struct {
	Path  string   `json:"path"`
	Items []string `json:"items"`
}

// wireGraph is the self-describing payload: every field needed to
// reconstruct a Graph without re-running extraction.
type wireGraph struct {
	Nodes        []wireNode              `json:"nodes"`
	Edges        []wireEdge              `json:"edges"`
	NameToSymbol map[string]string       `json:"name_to_symbol"`
	FileImports  map[string][]wireImport `json:"file_imports"`
	Stats        Stats                   `json:"stats"`
}

// Save writes the graph to path as a single size-prefixed, CRC-checked
// binary record: [u64 LE recordLen][recordLen bytes JSON][u32 LE crc32C].
// Parent directories are created first; the write goes through
// pkg/fs.AtomicWriter so a crash mid-write never leaves a torn file, and
// the writer fsyncs both the file and its parent directory.
func Save(fsys fs.FS, path string, g *Graph) error {
	const op = "depgraph.Save"

	g.mu.RLock()
	wg := toWire(g)
	g.mu.RUnlock()

	payload, err := json.Marshal(wg)
	if err != nil {
		return kotaerr.New(op, kotaerr.Unknown, path, err)
	}
	if len(payload) > maxRecordBytes {
		return kotaerr.New(op, kotaerr.InvalidArgument, path, fmt.Errorf("graph record %d bytes exceeds cap %d", len(payload), maxRecordBytes))
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return kotaerr.New(op, kotaerr.Io, path, err)
		}
	}

	var buf bytes.Buffer
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], uint64(len(payload)))
	buf.Write(u64[:])
	buf.Write(payload)

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], crc32.Checksum(payload, graphCRCTable))
	buf.Write(u32[:])

	writer := fs.NewAtomicWriter(fsys)
	if err := writer.WriteWithDefaults(path, bytes.NewReader(buf.Bytes())); err != nil {
		return kotaerr.New(op, kotaerr.Io, path, err)
	}
	return nil
}

// Load reads a graph previously written by Save, rejecting oversized or
// corrupt records and re-materializing symbol_to_node-equivalent indices
// (handles, nodesByType, adjacency) as it reconstructs the graph.
func Load(fsys fs.FS, path string) (*Graph, error) {
	const op = "depgraph.Load"

	f, err := fsys.Open(path)
	if err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, path, err)
	}

	if len(data) < 12 {
		return nil, kotaerr.New(op, kotaerr.Corruption, path, fmt.Errorf("file too small to hold a record header"))
	}

	recordLen := binary.LittleEndian.Uint64(data[:8])
	if recordLen > maxRecordBytes {
		return nil, kotaerr.New(op, kotaerr.Corruption, path, fmt.Errorf("record length %d exceeds cap %d", recordLen, maxRecordBytes))
	}
	if uint64(len(data)) < 8+recordLen+4 {
		return nil, kotaerr.New(op, kotaerr.Corruption, path, fmt.Errorf("file shorter than declared record length"))
	}

	payload := data[8 : 8+recordLen]
	wantCRC := binary.LittleEndian.Uint32(data[8+recordLen : 8+recordLen+4])
	if crc32.Checksum(payload, graphCRCTable) != wantCRC {
		return nil, kotaerr.New(op, kotaerr.Corruption, path, fmt.Errorf("crc32 mismatch"))
	}

	var wg wireGraph
	if err := json.Unmarshal(payload, &wg); err != nil {
		return nil, kotaerr.New(op, kotaerr.Corruption, path, err)
	}

	g, err := fromWire(wg)
	if err != nil {
		return nil, kotaerr.New(op, kotaerr.Corruption, path, err)
	}
	return g, nil
}

func toWire(g *Graph) wireGraph {
	wg := wireGraph{
		Nodes:        make([]wireNode, 0, len(g.nodes)),
		Edges:        make([]wireEdge, 0, len(g.edges)),
		NameToSymbol: g.nameToSymbol,
		FileImports:  make(map[string][]wireImport, len(g.fileImports)),
		Stats:        g.stats,
	}

	for _, idStr := range g.handleOf {
		n := g.nodes[idStr]
		wg.Nodes = append(wg.Nodes, wireNode{
			SymbolID:      n.SymbolID.String(),
			QualifiedName: n.QualifiedName,
			SymbolType:    uint8(n.SymbolType),
			FilePath:      n.FilePath,
			InDegree:      n.InDegree,
			OutDegree:     n.OutDegree,
		})
	}

	for _, e := range g.edges {
		wg.Edges = append(wg.Edges, wireEdge{
			FromID:   e.FromID.String(),
			ToID:     e.ToID.String(),
			Relation: string(e.Relation),
			Line:     e.Line,
			Column:   e.Column,
			Context:  e.Context,
		})
	}

	for path, imps := range g.fileImports {
		wi := make([]wireImport, 0, len(imps))
		for _, imp := range imps {
			wi = append(wi, wireImport{Path: imp.Path, Items: imp.Items})
		}
		wg.FileImports[path] = wi
	}

	return wg
}

func fromWire(wg wireGraph) (*Graph, error) {
	g := empty()

	for _, n := range wg.Nodes {
		id, err := validated.NewDocumentIDFromString(n.SymbolID)
		if err != nil {
			return nil, fmt.Errorf("node symbol_id %q: %w", n.SymbolID, err)
		}

		decl := symbolDecl{
			ID:            id,
			QualifiedName: n.QualifiedName,
			Kind:          symbol.Kind(n.SymbolType),
			FilePath:      n.FilePath,
		}
		g.addNode(decl)
	}

	for k, v := range wg.NameToSymbol {
		g.nameToSymbol[k] = v
	}

	for path, imps := range wg.FileImports {
		converted := make([]parser.Import, 0, len(imps))
		for _, imp := range imps {
			converted = append(converted, parser.Import{Path: imp.Path, Items: imp.Items})
		}
		g.fileImports[path] = converted
	}

	for _, e := range wg.Edges {
		fromID, err := validated.NewDocumentIDFromString(e.FromID)
		if err != nil {
			return nil, fmt.Errorf("edge from_id %q: %w", e.FromID, err)
		}
		toID, err := validated.NewDocumentIDFromString(e.ToID)
		if err != nil {
			return nil, fmt.Errorf("edge to_id %q: %w", e.ToID, err)
		}

		g.addEdge(Edge{
			FromID:   fromID,
			ToID:     toID,
			Relation: Relation(e.Relation),
			Line:     e.Line,
			Column:   e.Column,
			Context:  e.Context,
		}, fromID.String(), toID.String())
	}

	g.recomputeDegrees()
	g.stats = wg.Stats
	return g, nil
}
