// Package workflow implements the dependency-gated onboarding engine: the step
// graph, the per-step state machine and the aggregate status projection.
package workflow

import (
	"slices"
	"strings"

	"github.com/fieldserv/onboarding/pkg/models"
)

// Graph is the immutable dependency structure of a process. Edges point from a
// step to the steps it depends on; dependents holds the reverse edges.
type Graph struct {
	order      []string
	deps       map[string][]string
	dependents map[string][]string
}

// NewGraph validates the step definitions and builds their dependency graph.
// It fails on empty or duplicate ids, on dependencies naming unknown steps and
// on any cycle.
func NewGraph(defs []models.StepDefinition) (*Graph, error) {
	g := &Graph{
		order:      make([]string, 0, len(defs)),
		deps:       make(map[string][]string, len(defs)),
		dependents: make(map[string][]string, len(defs)),
	}

	for _, def := range defs {
		id := def.ID
		if strings.TrimSpace(id) == "" {
			return nil, ErrInvalidDefinition
		}

		if _, exists := g.deps[id]; exists {
			return nil, &DuplicateStepError{StepID: id}
		}

		g.order = append(g.order, id)
		g.deps[id] = uniqueIDs(def.DependsOn)
	}

	for _, id := range g.order {
		for _, dep := range g.deps[id] {
			if _, exists := g.deps[dep]; !exists {
				return nil, &UnknownStepReferenceError{StepID: id, Reference: dep}
			}

			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}

	return g, nil
}

// findCycle runs a depth-first traversal over dependency edges keeping the
// current path on a stack. An edge to a node still on the stack closes a cycle,
// which is returned as a path starting and ending at the same step.
func (g *Graph) findCycle() []string {
	const (
		unvisited = iota
		onStack
		done
	)

	marks := make(map[string]int, len(g.order))
	stack := make([]string, 0, len(g.order))

	var visit func(id string) []string

	visit = func(id string) []string {
		marks[id] = onStack
		stack = append(stack, id)

		for _, dep := range g.deps[id] {
			switch marks[dep] {
			case onStack:
				start := slices.Index(stack, dep)
				cycle := append([]string{}, stack[start:]...)

				return append(cycle, dep)
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		marks[id] = done

		return nil
	}

	for _, id := range g.order {
		if marks[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

// Has reports whether the graph contains the step.
func (g *Graph) Has(id string) bool {
	_, ok := g.deps[id]

	return ok
}

// Order returns the step ids in definition order.
func (g *Graph) Order() []string {
	return slices.Clone(g.order)
}

// Dependencies returns the ids the step depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	deps, ok := g.deps[id]
	if !ok {
		return nil, &StepNotFoundError{StepID: id}
	}

	return slices.Clone(deps), nil
}

// Dependents returns the ids of the steps that directly depend on id.
func (g *Graph) Dependents(id string) ([]string, error) {
	if !g.Has(id) {
		return nil, &StepNotFoundError{StepID: id}
	}

	return slices.Clone(g.dependents[id]), nil
}

// downstream returns every step reachable from id through dependent edges,
// breadth first, excluding id itself.
func (g *Graph) downstream(id string) []string {
	seen := map[string]bool{id: true}
	queue := slices.Clone(g.dependents[id])
	out := make([]string, 0, len(queue))

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		if seen[next] {
			continue
		}

		seen[next] = true
		out = append(out, next)
		queue = append(queue, g.dependents[next]...)
	}

	return out
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}

	return out
}
