package graph

import (
	"fmt"
	"strings"
)

// DOTOptions configures DOT output generation.
type DOTOptions struct {
	Title          string // Graph title
	HighlightRules []int  // Rules to highlight
	HighlightCycle bool   // Highlight rules in cycles
	ShowDangling   bool   // Show prerequisites that are not in the graph
}

// DefaultDOTOptions returns sensible defaults for DOT output.
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{
		Title:          "Rule Prerequisites",
		HighlightCycle: true,
		ShowDangling:   true,
	}
}

// ToDOT exports the graph in Graphviz DOT format.
func (g *Graph) ToDOT(opts DOTOptions) string {
	cycleRules := make(map[int]bool)
	if opts.HighlightCycle {
		for _, c := range g.FindCycles() {
			for _, r := range c.Rules {
				cycleRules[r] = true
			}
		}
	}
	highlight := make(map[int]bool)
	for _, r := range opts.HighlightRules {
		highlight[r] = true
	}

	var sb strings.Builder
	sb.WriteString("digraph rules {\n")
	fmt.Fprintf(&sb, "  label=%q;\n", opts.Title)
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=filled, fillcolor=white];\n\n")

	sb.WriteString("  // Rules\n")
	for _, n := range g.Rules() {
		fmt.Fprintf(&sb, "  %q [%s];\n", nodeID(n.Number), nodeAttributes(n, cycleRules[n.Number], highlight[n.Number]))
	}

	sb.WriteString("\n  // Prerequisites\n")
	for _, e := range g.Edges() {
		fmt.Fprintf(&sb, "  %q -> %q;\n", nodeID(e.From), nodeID(e.To))
	}

	if opts.ShowDangling {
		dangling := g.Dangling()
		for _, n := range g.Rules() {
			for _, p := range dangling[n.Number] {
				fmt.Fprintf(&sb, "  %q [fillcolor=\"#ffcccc\", style=\"filled,dashed\"];\n", nodeID(p))
				fmt.Fprintf(&sb, "  %q -> %q [style=dashed, color=red];\n", nodeID(p), nodeID(n.Number))
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func nodeID(number int) string {
	return fmt.Sprintf("rule%d", number)
}

func nodeAttributes(n Node, inCycle, highlighted bool) string {
	attrs := []string{fmt.Sprintf("label=%q", fmt.Sprintf("%d %s", n.Number, n.Name))}
	switch {
	case inCycle:
		attrs = append(attrs, "fillcolor=\"#ffeeaa\"", "color=red", "penwidth=2")
	case highlighted:
		attrs = append(attrs, "fillcolor=\"#aaffaa\"", "penwidth=2")
	}
	return strings.Join(attrs, ", ")
}
