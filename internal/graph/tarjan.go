package graph

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/topo"
)

// ErrCycle is returned by Order when prerequisites form a cycle.
var ErrCycle = errors.New("prerequisite cycle")

// SCC is a strongly connected component (a cycle if len > 1).
type SCC struct {
	Rules []int // sorted for determinism
	Edges []Edge
}

// FindCycles returns all non-trivial SCCs in the graph.
// Uses Tarjan's algorithm via gonum - O(V+E) complexity.
func (g *Graph) FindCycles() []SCC {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var cycles []SCC
	for _, scc := range topo.TarjanSCC(g.g) {
		if len(scc) <= 1 {
			continue
		}

		members := make(map[int]bool, len(scc))
		rules := make([]int, 0, len(scc))
		for _, n := range scc {
			rules = append(rules, int(n.ID()))
			members[int(n.ID())] = true
		}
		sort.Ints(rules)

		var edges []Edge
		for _, e := range g.edges {
			if members[e.From] && members[e.To] {
				edges = append(edges, e)
			}
		}
		sortEdges(edges)

		cycles = append(cycles, SCC{Rules: rules, Edges: edges})
	}

	sort.Slice(cycles, func(i, j int) bool { return cycles[i].Rules[0] < cycles[j].Rules[0] })
	return cycles
}

// HasCycles returns true if the graph contains any cycles.
func (g *Graph) HasCycles() bool {
	return len(g.FindCycles()) > 0
}

// Description renders the cycle as "1 -> 2 -> 1".
func (s SCC) Description() string {
	if len(s.Rules) == 0 {
		return "empty cycle"
	}
	desc := strconv.Itoa(s.Rules[0])
	for _, r := range s.Rules[1:] {
		desc += " -> " + strconv.Itoa(r)
	}
	return desc + " -> " + strconv.Itoa(s.Rules[0])
}

// Order returns rule numbers so that every prerequisite precedes the rules
// that need it. Rules free to run at the same point run by ascending number.
func (g *Graph) Order() ([]int, error) {
	if cycles := g.FindCycles(); len(cycles) > 0 {
		return nil, errors.Wrap(ErrCycle, cycles[0].Description())
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	sorted, err := topo.SortStabilized(g.g, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	})
	if err != nil {
		return nil, errors.Wrap(ErrCycle, err.Error())
	}

	out := make([]int, len(sorted))
	for i, n := range sorted {
		out[i] = int(n.ID())
	}
	return out, nil
}
