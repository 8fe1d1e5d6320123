// Package depgraph builds and validates the task dependency DAG and
// computes dependency depth and calculated priority.
package depgraph

import (
	"fmt"

	"github.com/abathur/swarm/internal/swarmerr"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// Graph is a directed acyclic graph over tasks; edges point from a task to
// the tasks it depends on ("blocked by").
type Graph struct {
	nodes     map[swarmmodel.ID]*swarmmodel.Task
	edges     map[swarmmodel.ID][]swarmmodel.ID
	completed map[swarmmodel.ID]bool
}

// New creates an empty dependency graph.
func New() *Graph {
	return &Graph{
		nodes:     make(map[swarmmodel.ID]*swarmmodel.Task),
		edges:     make(map[swarmmodel.ID][]swarmmodel.ID),
		completed: make(map[swarmmodel.ID]bool),
	}
}

// Build constructs the graph from tasks, validating that every dependency
// references a known task and that no cycle exists. On a
// cycle it returns a *swarmerr.Error naming the cycle path.
func (g *Graph) Build(tasks []*swarmmodel.Task) error {
	for _, t := range tasks {
		g.nodes[t.ID] = t
		if _, ok := g.edges[t.ID]; !ok {
			g.edges[t.ID] = nil
		}
		if t.Status == swarmmodel.TaskComplete {
			g.completed[t.ID] = true
		}
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, exists := g.nodes[dep]; !exists {
				return swarmerr.Validation("depgraph.missing_dependency",
					fmt.Sprintf("task %s depends on unknown task %s", t.ID, dep))
			}
			g.edges[t.ID] = append(g.edges[t.ID], dep)
		}
	}
	if cycle := g.findCycle(); cycle != nil {
		return swarmerr.Validation("depgraph.cycle_detected", formatCycle(cycle))
	}
	return nil
}

func formatCycle(cycle []swarmmodel.ID) string {
	msg := "circular dependency detected:"
	for _, id := range cycle {
		msg += " " + id.String() + " ->"
	}
	return msg[:len(msg)-3]
}

// findCycle runs DFS with three-coloring; returns the cycle path (ids in
// traversal order) or nil if the graph is acyclic.
func (g *Graph) findCycle() []swarmmodel.ID {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	colors := make(map[swarmmodel.ID]int, len(g.nodes))
	for id := range g.nodes {
		colors[id] = white
	}

	var path []swarmmodel.ID
	var cycle []swarmmodel.ID

	var visit func(id swarmmodel.ID) bool
	visit = func(id swarmmodel.ID) bool {
		colors[id] = gray
		path = append(path, id)

		for _, dep := range g.edges[id] {
			switch colors[dep] {
			case gray:
				cycle = append(append([]swarmmodel.ID{}, path...), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}

		colors[id] = black
		path = path[:len(path)-1]
		return false
	}

	for id := range g.nodes {
		if colors[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// HasCycle reports whether the graph (as currently built) contains a cycle.
func (g *Graph) HasCycle() bool { return g.findCycle() != nil }

// MarkComplete records that a task has reached Complete status, which
// affects subsequent depth/readiness computations.
func (g *Graph) MarkComplete(id swarmmodel.ID) { g.completed[id] = true }

// IsReady reports whether every dependency of id is Complete.
func (g *Graph) IsReady(id swarmmodel.ID) bool {
	for _, dep := range g.edges[id] {
		if !g.completed[dep] {
			return false
		}
	}
	return true
}

// Depth computes the longest Complete-excluded chain from id to a root,
// i.e. the number of non-complete dependency hops before reaching a task
// with no incomplete dependencies. Depth is capped at maxDepth.
func (g *Graph) Depth(id swarmmodel.ID, maxDepth int) int {
	visited := make(map[swarmmodel.ID]bool)
	var walk func(id swarmmodel.ID) int
	walk = func(id swarmmodel.ID) int {
		if visited[id] {
			return 0
		}
		visited[id] = true
		best := 0
		for _, dep := range g.edges[id] {
			if g.completed[dep] {
				continue
			}
			d := 1 + walk(dep)
			if d > best {
				best = d
			}
		}
		if best > maxDepth {
			return maxDepth
		}
		return best
	}
	return walk(id)
}

// Dependents returns the ids of every task that directly depends on id.
func (g *Graph) Dependents(id swarmmodel.ID) []swarmmodel.ID {
	var out []swarmmodel.ID
	for taskID, deps := range g.edges {
		for _, d := range deps {
			if d == id {
				out = append(out, taskID)
				break
			}
		}
	}
	return out
}

// TransitiveDependents returns every task reachable by following Dependents
// edges from id, i.e. the full cascade-cancel closure.
func (g *Graph) TransitiveDependents(id swarmmodel.ID) []swarmmodel.ID {
	seen := map[swarmmodel.ID]bool{id: true}
	var out []swarmmodel.ID
	queue := []swarmmodel.ID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.Dependents(cur) {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
				queue = append(queue, dep)
			}
		}
	}
	return out
}
