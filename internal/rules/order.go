package rules

import (
	"github.com/supabase/hostaudit/internal/graph"
)

// PrerequisiteGraph builds the prerequisite graph for a rule set.
// Prerequisites outside the set are ignored.
func PrerequisiteGraph(rs []Rule) *graph.Graph {
	g := graph.New()
	for _, r := range rs {
		g.AddRule(r.Number(), r.Name())
	}
	for _, r := range rs {
		for _, p := range r.Prerequisites() {
			g.AddPrerequisite(r.Number(), p)
		}
	}
	return g
}

// Order sorts rules by number, moving a rule after its prerequisites when
// needed. A prerequisite cycle is an error.
func Order(rs []Rule) ([]Rule, error) {
	numbers, err := PrerequisiteGraph(rs).Order()
	if err != nil {
		return nil, err
	}
	byNumber := make(map[int]Rule, len(rs))
	for _, r := range rs {
		byNumber[r.Number()] = r
	}
	out := make([]Rule, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, byNumber[n])
	}
	return out, nil
}
