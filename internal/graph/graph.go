// Package graph models prerequisite relationships between rules.
package graph

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/graph/simple"
)

// Node is a rule in the graph. Its gonum ID is the rule number.
type Node struct {
	Number int
	Name   string
}

// Edge points from a prerequisite to the rule that needs it.
type Edge struct {
	From int
	To   int
}

// Graph is a directed prerequisite graph.
type Graph struct {
	mu    sync.RWMutex
	g     *simple.DirectedGraph
	nodes map[int64]Node
	edges []Edge
	// dangling records prerequisites that name rules not in the graph
	dangling map[int][]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		g:        simple.NewDirectedGraph(),
		nodes:    make(map[int64]Node),
		dangling: make(map[int][]int),
	}
}

// AddRule adds a node. Adding the same number twice keeps the first name.
func (g *Graph) AddRule(number int, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := int64(number)
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = Node{Number: number, Name: name}
	g.g.AddNode(simple.Node(id))
}

// AddPrerequisite records that rule must run after prereq. Both must have
// been added; an unknown prereq is remembered as dangling and ignored for
// ordering. Self edges are ignored.
func (g *Graph) AddPrerequisite(rule, prereq int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rule == prereq {
		return
	}
	if _, ok := g.nodes[int64(rule)]; !ok {
		return
	}
	if _, ok := g.nodes[int64(prereq)]; !ok {
		g.dangling[rule] = append(g.dangling[rule], prereq)
		return
	}
	if g.g.HasEdgeFromTo(int64(prereq), int64(rule)) {
		return
	}
	g.g.SetEdge(g.g.NewEdge(simple.Node(int64(prereq)), simple.Node(int64(rule))))
	g.edges = append(g.edges, Edge{From: prereq, To: rule})
}

// Rules returns all nodes sorted by number.
func (g *Graph) Rules() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Edges returns all prerequisite edges sorted by (From, To).
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	sortEdges(out)
	return out
}

// Prerequisites returns the direct prerequisites of rule, sorted.
func (g *Graph) Prerequisites(rule int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []int
	to := g.g.To(int64(rule))
	for to.Next() {
		out = append(out, int(to.Node().ID()))
	}
	sort.Ints(out)
	return out
}

// Dangling returns prerequisites that referred to rules outside the graph,
// keyed by the rule that declared them.
func (g *Graph) Dangling() map[int][]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[int][]int, len(g.dangling))
	for k, v := range g.dangling {
		out[k] = append([]int(nil), v...)
	}
	return out
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
}
