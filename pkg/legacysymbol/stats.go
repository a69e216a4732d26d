package legacysymbol

import (
	"time"

	"github.com/kotadb/kotadb/pkg/validated"
)

// Stats summarizes the store's in-memory index and relation list. It folds
// together what the original exposed as two separate types
// (SymbolIndexStats and DependencyGraphStats), since both are derived from
// the same maps here.
type Stats struct {
	TotalSymbols           int
	SymbolsByKind          map[string]int
	RepositoryCount        int
	FileCount              int
	RelationshipCount      int
	LastUpdated            time.Time
	CircularDependencies   int
	MostConnectedID        validated.DocumentID
	MostConnectedRelations int
	AvgFanIn               float64
	AvgFanOut              float64
}

// Stats computes a fresh snapshot over the current in-memory state.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKind := make(map[string]int)
	fanIn := make(map[validated.DocumentID]int)
	fanOut := make(map[validated.DocumentID]int)

	for _, id := range s.cache.Keys() {
		entry, ok := s.cache.Peek(id)
		if !ok {
			continue
		}
		byKind[entry.Kind.String()]++
	}

	for _, rel := range s.relationships {
		fanOut[rel.FromID]++
		fanIn[rel.ToID]++
	}

	var mostConnectedID validated.DocumentID
	mostConnectedCount := 0
	connections := make(map[validated.DocumentID]int)
	for id, n := range fanIn {
		connections[id] += n
	}
	for id, n := range fanOut {
		connections[id] += n
	}
	for id, n := range connections {
		if n > mostConnectedCount {
			mostConnectedCount = n
			mostConnectedID = id
		}
	}

	totalSymbols := s.cache.Len()
	avgFanIn, avgFanOut := 0.0, 0.0
	if totalSymbols > 0 {
		avgFanIn = float64(len(s.relationships)) / float64(totalSymbols)
		avgFanOut = avgFanIn
	}

	return Stats{
		TotalSymbols:           totalSymbols,
		SymbolsByKind:          byKind,
		RepositoryCount:        len(s.repos),
		FileCount:              len(s.byFile),
		RelationshipCount:      len(s.relationships),
		LastUpdated:            time.Now().UTC(),
		CircularDependencies:   s.countCircularDependencies(),
		MostConnectedID:        mostConnectedID,
		MostConnectedRelations: mostConnectedCount,
		AvgFanIn:               avgFanIn,
		AvgFanOut:              avgFanOut,
	}
}

// countCircularDependencies counts symbols that participate in a cycle of
// relationship edges, via a straightforward DFS with a recursion-stack
// check. The legacy store's relation list is small enough (it only ever
// covers one repository's worth of best-effort name matches) that this
// doesn't need pkg/depgraph's Tarjan-based SCC machinery.
func (s *Store) countCircularDependencies() int {
	adjacency := make(map[validated.DocumentID][]validated.DocumentID)
	for _, rel := range s.relationships {
		adjacency[rel.FromID] = append(adjacency[rel.FromID], rel.ToID)
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[validated.DocumentID]int)
	cyclic := make(map[validated.DocumentID]struct{})

	var visit func(id validated.DocumentID)
	visit = func(id validated.DocumentID) {
		state[id] = visiting
		for _, next := range adjacency[id] {
			switch state[next] {
			case unvisited:
				visit(next)
			case visiting:
				cyclic[next] = struct{}{}
				cyclic[id] = struct{}{}
			}
		}
		state[id] = done
	}

	for _, id := range s.cache.Keys() {
		if state[id] == unvisited {
			visit(id)
		}
	}

	return len(cyclic)
}
