package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kotadb/kotadb/pkg/depgraph"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/validated"
)

// QueryKind discriminates the relationship queries the engine answers.
type QueryKind int

const (
	QueryFindCallers QueryKind = iota
	QueryImpactAnalysis
)

// Query is the facade's QueryType: FindCallers{target}, ImpactAnalysis{target},
// plus reserved passthrough kinds the engine accepts but answers with an
// empty result (spec.md's "reserved passthroughs").
type Query struct {
	Kind   QueryKind
	Target string
}

// ExecuteQuery dispatches q to the matching query method.
func (e *Engine) ExecuteQuery(ctx context.Context, q Query) (Result, error) {
	switch q.Kind {
	case QueryFindCallers:
		return e.FindCallers(ctx, q.Target)
	case QueryImpactAnalysis:
		return e.ImpactAnalysis(ctx, q.Target)
	default:
		return Result{}, nil
	}
}

// FindCallers resolves target by simple name and returns every symbol that
// directly references it, per spec.md §4.9.
func (e *Engine) FindCallers(ctx context.Context, target string) (Result, error) {
	const op = "engine.FindCallers"
	start := time.Now()

	if e.reader == nil {
		return Result{}, kotaerr.New(op, kotaerr.Unavailable, target, fmt.Errorf("binary symbol database not loaded"))
	}

	sym, ok, err := e.reader.FindSymbolByName(target)
	if err != nil {
		return Result{}, kotaerr.New(op, kotaerr.Unavailable, target, err)
	}
	if !ok {
		return Result{}, kotaerr.New(op, kotaerr.NotFound, target, fmt.Errorf("symbol not found"))
	}

	g, err := e.ensureDependencyGraph(ctx)
	if err != nil {
		return Result{
			Stats: Stats{SymbolsAnalyzed: e.reader.SymbolCount(), ExecutionTimeMs: msSince(start)},
		}, nil
	}

	node, ok := g.LookupByName(sym.Name)
	if !ok {
		return Result{Stats: Stats{SymbolsAnalyzed: g.Stats().NodeCount, ExecutionTimeMs: msSince(start)}}, nil
	}

	deps := g.FindDependents(node.SymbolID)
	matches := make([]RelationshipMatch, 0, len(deps))
	for _, d := range deps {
		m, ok := e.matchFor(g, d, fmt.Sprintf("Calls %s at line %d", target, sym.StartLine))
		if !ok {
			continue
		}
		matches = append(matches, m)
	}

	elapsed := time.Since(start)
	warnIfSlow(e.logger, op, elapsed)

	return Result{
		Matches: matches,
		Stats: Stats{
			DirectCount:     len(matches),
			SymbolsAnalyzed: g.Stats().NodeCount,
			ExecutionTimeMs: elapsed.Seconds() * 1000,
		},
	}, nil
}

// ImpactAnalysis transitively collects every symbol that would be impacted
// by a change to target, breadth-first up to cfg.MaxDepth, excluding the
// target itself (spec.md §4.9).
func (e *Engine) ImpactAnalysis(ctx context.Context, target string) (Result, error) {
	const op = "engine.ImpactAnalysis"
	start := time.Now()

	if e.reader == nil {
		return Result{}, kotaerr.New(op, kotaerr.Unavailable, target, fmt.Errorf("binary symbol database not loaded"))
	}

	if _, ok, err := e.reader.FindSymbolByName(target); err != nil {
		return Result{}, kotaerr.New(op, kotaerr.Unavailable, target, err)
	} else if !ok {
		return Result{}, kotaerr.New(op, kotaerr.NotFound, target, fmt.Errorf("symbol not found"))
	}

	g, err := e.ensureDependencyGraph(ctx)
	if err != nil {
		return Result{
			Stats: Stats{SymbolsAnalyzed: e.reader.SymbolCount(), ExecutionTimeMs: msSince(start)},
		}, nil
	}

	node, ok := g.LookupByName(target)
	if !ok {
		return Result{Stats: Stats{SymbolsAnalyzed: g.Stats().NodeCount, ExecutionTimeMs: msSince(start)}}, nil
	}

	impacted := findTransitiveDependents(g, node.SymbolID, e.cfg.MaxDepth)

	matches := make([]RelationshipMatch, 0, len(impacted))
	for _, d := range impacted {
		m, ok := e.matchFor(g, d, fmt.Sprintf("Would be impacted by changes to %s", target))
		if !ok {
			continue
		}
		matches = append(matches, m)
	}

	elapsed := time.Since(start)
	warnIfSlow(e.logger, op, elapsed)

	return Result{
		Matches: matches,
		Stats: Stats{
			DirectCount:     len(matches),
			SymbolsAnalyzed: g.Stats().NodeCount,
			ExecutionTimeMs: elapsed.Seconds() * 1000,
		},
	}, nil
}

// findTransitiveDependents is a breadth-first search over graph dependents
// starting at target, capped at maxDepth hops and de-duplicated by visited
// set. target itself is never included, matching the original extractor's
// find_transitive_dependents.
func findTransitiveDependents(g *depgraph.Graph, target validated.DocumentID, maxDepth int) []depgraph.Dependency {
	type queued struct {
		id    validated.DocumentID
		depth int
	}

	var result []depgraph.Dependency
	visited := map[validated.DocumentID]bool{target: true}
	queue := []queued{{id: target, depth: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}

		for _, dep := range g.FindDependents(cur.id) {
			if visited[dep.ID] {
				continue
			}
			visited[dep.ID] = true
			result = append(result, dep)
			queue = append(queue, queued{id: dep.ID, depth: cur.depth + 1})
		}
	}

	return result
}

// matchFor builds a RelationshipMatch for dep's source symbol, looking up
// its declaration shape from the graph node.
func (e *Engine) matchFor(g *depgraph.Graph, dep depgraph.Dependency, context string) (RelationshipMatch, bool) {
	node, ok := g.Node(dep.ID)
	if !ok {
		return RelationshipMatch{}, false
	}

	return RelationshipMatch{
		SymbolName:    qualifiedSimpleName(node.QualifiedName),
		QualifiedName: node.QualifiedName,
		SymbolType:    node.SymbolType,
		FilePath:      node.FilePath,
		Line:          dep.Line,
		Relation:      dep.Relation,
		Context:       context,
	}, true
}

func msSince(start time.Time) float64 {
	return time.Since(start).Seconds() * 1000
}

// EngineStats summarizes the engine's loaded artifacts.
type EngineStats struct {
	SymbolsLoaded bool
	SymbolCount   int
	GraphLoaded   bool
	NodeCount     int
	EdgeCount     int
}

// GetStats reports what the engine currently has loaded, for the facade's
// get_stats() operation.
func (e *Engine) GetStats() EngineStats {
	stats := EngineStats{}
	if e.reader != nil {
		stats.SymbolsLoaded = true
		stats.SymbolCount = e.reader.SymbolCount()
	}

	e.graphMu.RLock()
	g := e.graph
	e.graphMu.RUnlock()
	if g != nil {
		stats.GraphLoaded = true
		stats.NodeCount = g.Stats().NodeCount
		stats.EdgeCount = g.Stats().EdgeCount
	}
	return stats
}
