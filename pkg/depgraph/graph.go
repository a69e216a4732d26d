// Package depgraph builds and persists the in-memory dependency graph
// described in spec.md §4.6/§4.7: nodes are symbols, edges are resolved
// references between them.
package depgraph

import (
	"sort"
	"strings"
	"sync"

	roaring "github.com/RoaringBitmap/roaring/v2"

	"github.com/kotadb/kotadb/pkg/parser"
	"github.com/kotadb/kotadb/pkg/symbol"
	"github.com/kotadb/kotadb/pkg/validated"
)

// Relation classifies a dependency edge.
type Relation string

const (
	RelationCalls      Relation = "Calls"
	RelationUsesType   Relation = "UsesType"
	RelationImplements Relation = "Implements"
)

// CustomRelation builds an arbitrary relation label, mirroring the
// original extractor's Custom("references") fallback.
func CustomRelation(label string) Relation { return Relation(label) }

// Node is one symbol participating in the graph.
type Node struct {
	SymbolID      validated.DocumentID
	QualifiedName string
	SymbolType    symbol.Kind
	FilePath      string
	InDegree      int
	OutDegree     int
}

// Edge is one resolved reference between two symbols.
type Edge struct {
	FromID   validated.DocumentID
	ToID     validated.DocumentID
	Relation Relation
	Line     uint32
	Column   uint32
	Context  string
}

// Stats summarizes the graph's shape.
type Stats struct {
	NodeCount      int
	EdgeCount      int
	FileCount      int
	ImportCount    int
	SCCCount       int
	MaxDepth       int
	AvgDependencies float64
}

// Graph is the in-memory dependency graph for a batch of analyzed files.
// It is read-mostly after Build/Load: queries take the read lock, and the
// engine swaps in a freshly built graph wholesale rather than mutating one
// in place (spec.md §5's "dependency graph replacement is atomic").
type Graph struct {
	mu sync.RWMutex

	nodes        map[string]*Node // symbol id string -> node
	nameToSymbol map[string]string // qualified or simple name -> id string
	fileImports  map[string][]parser.Import

	outEdges map[string][]int // id string -> indices into edges, outgoing
	inEdges  map[string][]int // id string -> indices into edges, incoming
	edges    []Edge

	// nodesByType indexes node id handles (dense integers assigned at
	// build time) by symbol kind via roaring bitmaps, so FindCallers-style
	// filtering by kind doesn't need to scan every node.
	handles     map[string]uint32
	handleOf    []string
	nodesByType map[symbol.Kind]*roaring.Bitmap

	stats Stats
}

// empty returns a Graph with no nodes, ready for Build.
func empty() *Graph {
	return &Graph{
		nodes:        make(map[string]*Node),
		nameToSymbol: make(map[string]string),
		fileImports:  make(map[string][]parser.Import),
		outEdges:     make(map[string][]int),
		inEdges:      make(map[string][]int),
		handles:      make(map[string]uint32),
		nodesByType:  make(map[symbol.Kind]*roaring.Bitmap),
	}
}

// symbolDecl is one extracted, not-yet-graphed declaration with its
// already-assigned deterministic id, used as Build's node-creation input.
type symbolDecl struct {
	ID            validated.DocumentID
	QualifiedName string
	Kind          symbol.Kind
	FilePath      string
	StartLine     uint32
	EndLine       uint32
}

// fileSymbol is one declaration already assigned its deterministic id,
// scoped to the file it was extracted from — Build's intermediate form
// before edges are resolved.
type fileSymbol struct {
	decl symbolDecl
}

// Build constructs a graph from a batch of per-file analyses, following
// spec.md §4.6's six-step resolution policy.
func Build(analyses []parser.DependencyAnalysis) *Graph {
	g := empty()

	// Step 1/2: assign deterministic ids to every declaration and index
	// them by qualified name ("file::name") and by simple name (fallback).
	perFile := make(map[string][]fileSymbol, len(analyses))

	for _, a := range analyses {
		g.fileImports[a.FilePath] = a.Imports
		syms := make([]fileSymbol, 0, len(a.Symbols))

		for _, s := range a.Symbols {
			parentID := ""
			if s.ParentName != "" {
				parentID = s.ParentName
			}
			id := parser.SymbolID(a.FilePath, parentID, s.Name, s.Kind, s.StartLine, s.StartColumn)
			qualified := a.FilePath + "::" + s.Name
			if s.ParentName != "" {
				qualified = a.FilePath + "::" + s.ParentName + "::" + s.Name
			}

			decl := symbolDecl{
				ID:            id,
				QualifiedName: qualified,
				Kind:          s.Kind,
				FilePath:      a.FilePath,
				StartLine:     s.StartLine,
				EndLine:       s.EndLine,
			}
			syms = append(syms, fileSymbol{decl: decl})

			g.addNode(decl)
			g.nameToSymbol[qualified] = id.String()
			// Simple name indexed as fallback; last writer wins, matching
			// the original extractor's behavior of overwriting on
			// collision rather than erroring.
			g.nameToSymbol[s.Name] = id.String()
		}

		perFile[a.FilePath] = syms
	}

	// Step 3-6: resolve each reference and add an edge.
	for _, a := range analyses {
		fileSyms := perFile[a.FilePath]

		for _, ref := range a.References {
			targetIDStr, ok := resolveReference(ref.Name, a.Imports, g.nameToSymbol)
			if !ok {
				continue
			}

			source, ok := findContainingSymbol(ref.Line, fileSyms)
			if !ok {
				continue
			}
			sourceIDStr := source.decl.ID.String()

			if sourceIDStr == targetIDStr {
				continue // self-loop suppression
			}

			relation := relationFor(ref.Kind)
			edge := Edge{
				FromID:   source.decl.ID,
				Relation: relation,
				Line:     ref.Line,
				Column:   ref.Column,
				Context:  ref.Name,
			}
			// ToID is filled once we know the target node exists below.
			targetNode, ok := g.nodes[targetIDStr]
			if !ok {
				continue
			}
			edge.ToID = targetNode.SymbolID

			g.addEdge(edge, sourceIDStr, targetIDStr)
		}
	}

	g.recomputeDegrees()
	g.stats = computeStats(g, len(analyses))
	return g
}

func (g *Graph) addNode(decl symbolDecl) {
	idStr := decl.ID.String()
	g.nodes[idStr] = &Node{
		SymbolID:      decl.ID,
		QualifiedName: decl.QualifiedName,
		SymbolType:    decl.Kind,
		FilePath:      decl.FilePath,
	}

	handle := uint32(len(g.handleOf))
	g.handles[idStr] = handle
	g.handleOf = append(g.handleOf, idStr)

	bm, ok := g.nodesByType[decl.Kind]
	if !ok {
		bm = roaring.New()
		g.nodesByType[decl.Kind] = bm
	}
	bm.Add(handle)
}

func (g *Graph) addEdge(e Edge, sourceIDStr, targetIDStr string) {
	idx := len(g.edges)
	g.edges = append(g.edges, e)
	g.outEdges[sourceIDStr] = append(g.outEdges[sourceIDStr], idx)
	g.inEdges[targetIDStr] = append(g.inEdges[targetIDStr], idx)
}

func (g *Graph) recomputeDegrees() {
	for idStr, node := range g.nodes {
		node.InDegree = len(g.inEdges[idStr])
		node.OutDegree = len(g.outEdges[idStr])
	}
}

// relationFor maps a reference kind to the relation it produces, per
// spec.md §4.6 step 5: Call/MethodCall -> Calls, TypeUsage -> UsesType,
// anything else -> Custom("references").
func relationFor(kind parser.ReferenceKind) Relation {
	switch kind {
	case parser.FunctionCall, parser.MethodCall:
		return RelationCalls
	case parser.TypeUsage:
		return RelationUsesType
	default:
		return CustomRelation("references")
	}
}

// resolveReference implements spec.md §4.6 step 3: exact qualified match,
// then import-scoped match, then ::-prefix import match, else unresolved.
// Pure over its inputs so it is directly testable without a parse tree.
func resolveReference(name string, imports []parser.Import, nameToSymbol map[string]string) (string, bool) {
	if id, ok := nameToSymbol[name]; ok {
		return id, true
	}

	for _, imp := range imports {
		if containsItem(imp.Items, name) {
			qualified := imp.Path + "::" + name
			if id, ok := nameToSymbol[qualified]; ok {
				return id, true
			}
		}

		if idx := strings.Index(name, "::"); idx >= 0 {
			head := name[:idx]
			if containsItem(imp.Items, head) {
				qualified := imp.Path + "::" + name
				if id, ok := nameToSymbol[qualified]; ok {
					return id, true
				}
			}
		}
	}

	return "", false
}

func containsItem(items []string, name string) bool {
	for _, i := range items {
		if i == name {
			return true
		}
	}
	return false
}

// findContainingSymbol implements spec.md §4.6 step 4: the smallest
// enclosing symbol span for a reference line.
func findContainingSymbol(line uint32, symbols []fileSymbol) (fileSymbol, bool) {
	var best fileSymbol
	bestSpan := uint32(0)
	found := false

	for _, s := range symbols {
		if s.decl.StartLine <= line && s.decl.EndLine >= line {
			span := s.decl.EndLine - s.decl.StartLine
			if !found || span < bestSpan {
				best = s
				bestSpan = span
				found = true
			}
		}
	}

	return best, found
}

// FindDependencies returns every (target id, relation) for edges starting
// at symbolID.
func (g *Graph) FindDependencies(symbolID validated.DocumentID) []Dependency {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idStr := symbolID.String()
	out := make([]Dependency, 0, len(g.outEdges[idStr]))
	for _, idx := range g.outEdges[idStr] {
		e := g.edges[idx]
		out = append(out, Dependency{ID: e.ToID, Relation: e.Relation, Line: e.Line, Column: e.Column, Context: e.Context})
	}
	return out
}

// FindDependents returns every (source id, relation) for edges ending at
// symbolID — i.e. who depends on it.
func (g *Graph) FindDependents(symbolID validated.DocumentID) []Dependency {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idStr := symbolID.String()
	out := make([]Dependency, 0, len(g.inEdges[idStr]))
	for _, idx := range g.inEdges[idStr] {
		e := g.edges[idx]
		out = append(out, Dependency{ID: e.FromID, Relation: e.Relation, Line: e.Line, Column: e.Column, Context: e.Context})
	}
	return out
}

// Dependency pairs a related symbol id with the relation connecting it and
// the call-site location of the reference, enough for the engine to build a
// RelationshipMatch without re-scanning edges.
type Dependency struct {
	ID       validated.DocumentID
	Relation Relation
	Line     uint32
	Column   uint32
	Context  string
}

// LookupByName resolves a qualified or simple name to a node, mirroring
// name_to_symbol's fallback lookup.
func (g *Graph) LookupByName(name string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idStr, ok := g.nameToSymbol[name]
	if !ok {
		return nil, false
	}
	node, ok := g.nodes[idStr]
	return node, ok
}

// Node returns the node for a symbol id.
func (g *Graph) Node(id validated.DocumentID) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id.String()]
	return node, ok
}

// NodesOfKind returns every node of the given symbol kind, via the roaring
// bitmap index rather than a full scan of the node map.
func (g *Graph) NodesOfKind(kind symbol.Kind) []validated.DocumentID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	bm, ok := g.nodesByType[kind]
	if !ok {
		return nil
	}

	out := make([]validated.DocumentID, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		handle := it.Next()
		idStr := g.handleOf[handle]
		out = append(out, g.nodes[idStr].SymbolID)
	}
	return out
}

// Stats returns the graph's summary statistics.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stats
}

// FindCircularDependencies returns every strongly connected component of
// size >= 2, i.e. the circular-dependency groups spec.md §4.6 step 6 calls
// for.
func (g *Graph) FindCircularDependencies() [][]validated.DocumentID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	comps := tarjanSCC(g)
	out := make([][]validated.DocumentID, 0, len(comps))
	for _, comp := range comps {
		if len(comp) < 2 {
			continue
		}
		ids := make([]validated.DocumentID, 0, len(comp))
		for _, idStr := range comp {
			ids = append(ids, g.nodes[idStr].SymbolID)
		}
		out = append(out, ids)
	}
	return out
}

func computeStats(g *Graph, fileCount int) Stats {
	nodeCount := len(g.nodes)
	edgeCount := len(g.edges)
	importCount := 0
	for _, imps := range g.fileImports {
		importCount += len(imps)
	}

	sccCount := 0
	for _, comp := range tarjanSCC(g) {
		if len(comp) > 1 {
			sccCount++
		}
	}

	avg := 0.0
	if nodeCount > 0 {
		avg = float64(edgeCount) / float64(nodeCount)
	}

	return Stats{
		NodeCount:       nodeCount,
		EdgeCount:       edgeCount,
		FileCount:       fileCount,
		ImportCount:     importCount,
		SCCCount:        sccCount,
		MaxDepth:        maxDepth(g),
		AvgDependencies: avg,
	}
}

// maxDepth BFS-walks from every node with zero in-degree, matching the
// original extractor's root-node-based depth calculation.
func maxDepth(g *Graph) int {
	roots := make([]string, 0)
	for idStr := range g.nodes {
		if len(g.inEdges[idStr]) == 0 {
			roots = append(roots, idStr)
		}
	}
	sort.Strings(roots) // deterministic iteration order

	best := 0
	for _, root := range roots {
		visited := make(map[string]bool)
		type item struct {
			id    string
			depth int
		}
		queue := []item{{root, 0}}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if visited[cur.id] {
				continue
			}
			visited[cur.id] = true
			if cur.depth > best {
				best = cur.depth
			}
			for _, idx := range g.outEdges[cur.id] {
				queue = append(queue, item{g.edges[idx].ToID.String(), cur.depth + 1})
			}
		}
	}
	return best
}
