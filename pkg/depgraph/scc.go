package depgraph

import "sort"

// tarjanSCC computes strongly connected components over the graph's
// outgoing-edge adjacency, used both for stats.SCCCount and
// FindCircularDependencies. Iteration order over nodes is sorted so
// results are deterministic across runs for the same graph content.
func tarjanSCC(g *Graph) [][]string {
	ids := make([]string, 0, len(g.nodes))
	for idStr := range g.nodes {
		ids = append(ids, idStr)
	}
	sort.Strings(ids)

	t := &tarjan{
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(map[string]bool),
		g:       g,
	}

	for _, id := range ids {
		if _, seen := t.index[id]; !seen {
			t.strongConnect(id)
		}
	}

	return t.components
}

type tarjan struct {
	g          *Graph
	counter    int
	index      map[string]int
	lowlink    map[string]int
	onStack    map[string]bool
	stack      []string
	components [][]string
}

func (t *tarjan) strongConnect(v string) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, idx := range t.g.outEdges[v] {
		w := t.g.edges[idx].ToID.String()
		if _, seen := t.index[w]; !seen {
			t.strongConnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.lowlink[v] {
				t.lowlink[v] = t.index[w]
			}
		}
	}

	if t.lowlink[v] == t.index[v] {
		var comp []string
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		t.components = append(t.components, comp)
	}
}
