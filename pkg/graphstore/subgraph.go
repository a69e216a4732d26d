package graphstore

import (
	"context"
	"time"

	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/validated"
)

// SubgraphResult is the BFS extraction around a set of seed nodes, per
// spec.md §4.8.
type SubgraphResult struct {
	Nodes           []NodeRecord
	Edges           []EdgeRecord
	NodesVisited    int
	EdgesTraversed  int
	ExecutionTimeUs int64
	Truncated       bool
}

// Subgraph extracts every node and edge reachable from seeds within
// maxDepth hops via breadth-first search. Truncated reports whether the
// frontier still had unvisited neighbors when maxDepth was reached.
func (s *Store) Subgraph(ctx context.Context, seeds []validated.DocumentID, maxDepth int) (SubgraphResult, error) {
	const op = "graphstore.Subgraph"
	if err := ctx.Err(); err != nil {
		return SubgraphResult{}, kotaerr.New(op, kotaerr.Timeout, "", err)
	}

	start := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := make(map[string]int, len(seeds)) // id -> depth first seen
	var order []string
	for _, seed := range seeds {
		idStr := seed.String()
		if _, ok := s.nodes[idStr]; !ok {
			continue
		}
		if _, seen := visited[idStr]; !seen {
			visited[idStr] = 0
			order = append(order, idStr)
		}
	}

	frontier := append([]string(nil), order...)
	truncated := false

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, idStr := range frontier {
			for _, idx := range s.out[idStr] {
				toStr := s.edges[idx].ToID.String()
				if _, seen := visited[toStr]; seen {
					continue
				}
				visited[toStr] = depth + 1
				order = append(order, toStr)
				next = append(next, toStr)
			}
		}
		frontier = next
	}

	if len(frontier) > 0 {
		// Some nodes were still queued when the depth budget ran out.
	frontierLoop:
		for _, idStr := range frontier {
			for _, idx := range s.out[idStr] {
				if _, seen := visited[s.edges[idx].ToID.String()]; !seen {
					truncated = true
					break frontierLoop
				}
			}
		}
	}

	result := SubgraphResult{
		Nodes:        make([]NodeRecord, 0, len(order)),
		NodesVisited: len(order),
		Truncated:    truncated,
	}
	inResult := make(map[string]bool, len(order))
	for _, idStr := range order {
		if n, ok := s.nodes[idStr]; ok {
			result.Nodes = append(result.Nodes, n)
			inResult[idStr] = true
		}
	}

	seenEdge := make(map[int]bool)
	for _, idStr := range order {
		for _, idx := range s.out[idStr] {
			if seenEdge[idx] {
				continue
			}
			e := s.edges[idx]
			if inResult[e.FromID.String()] && inResult[e.ToID.String()] {
				result.Edges = append(result.Edges, e)
				seenEdge[idx] = true
				result.EdgesTraversed++
			}
		}
	}

	result.ExecutionTimeUs = time.Since(start).Microseconds()
	return result, nil
}

// Path is one discovered route between two nodes, ordered source to target.
type Path struct {
	NodeIDs []validated.DocumentID
}

// pathFrame is one entry on the iterative DFS stack.
type pathFrame struct {
	idStr string
	path  []string
}

// FindPaths enumerates up to maxPaths distinct simple paths from `from` to
// `to`, via an iterative depth-first search capped at maxTraversalDepth
// hops, ordered by discovery.
func (s *Store) FindPaths(ctx context.Context, from, to validated.DocumentID, maxTraversalDepth, maxPaths int) ([]Path, error) {
	const op = "graphstore.FindPaths"
	if err := ctx.Err(); err != nil {
		return nil, kotaerr.New(op, kotaerr.Timeout, "", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	fromStr, toStr := from.String(), to.String()
	if _, ok := s.nodes[fromStr]; !ok {
		return nil, kotaerr.New(op, kotaerr.NotFound, fromStr, nil)
	}
	if _, ok := s.nodes[toStr]; !ok {
		return nil, kotaerr.New(op, kotaerr.NotFound, toStr, nil)
	}

	var paths []Path
	stack := []pathFrame{{idStr: fromStr, path: []string{fromStr}}}

	for len(stack) > 0 && len(paths) < maxPaths {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if frame.idStr == toStr && len(frame.path) > 1 {
			ids := make([]validated.DocumentID, 0, len(frame.path))
			for _, idStr := range frame.path {
				ids = append(ids, s.nodes[idStr].ID)
			}
			paths = append(paths, Path{NodeIDs: ids})
			continue
		}

		if len(frame.path)-1 >= maxTraversalDepth {
			continue
		}

		onPath := make(map[string]bool, len(frame.path))
		for _, idStr := range frame.path {
			onPath[idStr] = true
		}

		// Push neighbors in reverse edge-insertion order so the final
		// discovery order (LIFO pop) is stable edge-insertion order.
		for i := len(s.out[frame.idStr]) - 1; i >= 0; i-- {
			idx := s.out[frame.idStr][i]
			nextStr := s.edges[idx].ToID.String()
			if onPath[nextStr] {
				continue
			}
			nextPath := append(append([]string(nil), frame.path...), nextStr)
			stack = append(stack, pathFrame{idStr: nextStr, path: nextPath})
		}
	}

	return paths, nil
}
