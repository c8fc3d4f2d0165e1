package workflow

import (
	"fmt"

	"github.com/strandhq/loom"
)

// Graph is the resolved dependency structure of a step list. When the
// workflow is a loop construct, back edges are detected and excluded
// from dispatch ordering; otherwise a back edge is a validation error.
type Graph struct {
	order      []string            // step IDs in definition order
	deps       map[string][]string // effective (forward) dependencies
	dependents map[string][]string // reverse edges
}

// NewGraph validates the step list and builds its dependency graph.
// Validation failures return *loom.ValidationError.
func NewGraph(steps []Step, looped bool) (*Graph, error) {
	if len(steps) == 0 {
		return nil, &loom.ValidationError{Field: "steps", Reason: "workflow has no steps"}
	}

	index := make(map[string]int, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			return nil, &loom.ValidationError{Field: fmt.Sprintf("steps[%d].id", i), Reason: "empty step id"}
		}
		if _, dup := index[s.ID]; dup {
			return nil, &loom.ValidationError{Field: "steps." + s.ID, Reason: "duplicate step id"}
		}
		index[s.ID] = i
	}

	g := &Graph{
		order:      make([]string, 0, len(steps)),
		deps:       make(map[string][]string, len(steps)),
		dependents: make(map[string][]string, len(steps)),
	}
	for _, s := range steps {
		g.order = append(g.order, s.ID)
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return nil, &loom.ValidationError{Field: "steps." + s.ID, Reason: "step depends on itself"}
			}
			if _, ok := index[dep]; !ok {
				return nil, &loom.ValidationError{
					Field:  "steps." + s.ID,
					Reason: fmt.Sprintf("depends on unknown step %q", dep),
				}
			}
			g.deps[s.ID] = append(g.deps[s.ID], dep)
		}
	}

	back, err := g.findBackEdges()
	if err != nil {
		return nil, err
	}
	if len(back) > 0 {
		if !looped {
			return nil, &loom.ValidationError{
				Field:  "steps." + back[0].from,
				Reason: fmt.Sprintf("cycle through dependency on %q (mark the workflow as looped to allow back edges)", back[0].to),
			}
		}
		g.removeBackEdges(back)
	}

	for step, deps := range g.deps {
		for _, dep := range deps {
			g.dependents[dep] = append(g.dependents[dep], step)
		}
	}
	return g, nil
}

type edge struct{ from, to string }

// findBackEdges runs a coloring DFS over the dependency edges and
// returns the edges that close a cycle.
func (g *Graph) findBackEdges() ([]edge, error) {
	const (
		white = 0 // unvisited
		gray  = 1 // on stack
		black = 2 // done
	)
	color := make(map[string]int, len(g.order))

	var back []edge
	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		for _, dep := range g.deps[id] {
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				back = append(back, edge{from: id, to: dep})
			}
		}
		color[id] = black
	}

	for _, id := range g.order {
		if color[id] == white {
			visit(id)
		}
	}
	return back, nil
}

func (g *Graph) removeBackEdges(back []edge) {
	drop := make(map[edge]bool, len(back))
	for _, e := range back {
		drop[e] = true
	}
	for id, deps := range g.deps {
		kept := deps[:0]
		for _, dep := range deps {
			if !drop[edge{from: id, to: dep}] {
				kept = append(kept, dep)
			}
		}
		g.deps[id] = kept
	}
}

// Len returns the number of steps in the graph.
func (g *Graph) Len() int { return len(g.order) }

// Order returns step IDs in definition order.
func (g *Graph) Order() []string { return g.order }

// Deps returns the effective dependencies of a step.
func (g *Graph) Deps(stepID string) []string { return g.deps[stepID] }

// Dependents returns the steps that directly depend on stepID.
func (g *Graph) Dependents(stepID string) []string { return g.dependents[stepID] }

// Indegree returns a fresh step → unresolved-dependency-count map.
func (g *Graph) Indegree() map[string]int {
	in := make(map[string]int, len(g.order))
	for _, id := range g.order {
		in[id] = len(g.deps[id])
	}
	return in
}

// Roots returns the steps with no dependencies, in definition order.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.deps[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// TransitiveDependents returns every step downstream of stepID.
func (g *Graph) TransitiveDependents(stepID string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(id string)
	walk = func(id string) {
		for _, dep := range g.dependents[id] {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
				walk(dep)
			}
		}
	}
	walk(stepID)
	return out
}

// Validate checks a workflow definition's structure: a name, at least
// one step, unique step IDs, resolvable dependencies, and an acyclic
// graph unless the workflow is a loop construct. Reference checks
// against the agent and capability registries happen at activation.
func Validate(wf *Workflow) error {
	if wf.Name == "" {
		return &loom.ValidationError{Field: "name", Reason: "workflow name is required"}
	}
	_, err := NewGraph(wf.Steps, wf.Looped)
	return err
}
