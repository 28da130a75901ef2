package engine

import (
	"fmt"
	"sort"
)

// Graph is the adjacency-list form of a workflow, built once per run and
// shared by the validator and the scheduler. It is read-only after Build.
type Graph struct {
	nodes    map[string]*Node
	ids      []string
	preds    map[string][]string
	succs    map[string][]string
	edges    []Edge
	warnings []string
}

// Build indexes nodes and edges. Predecessors keep the order in which their
// edges appear; repeated edges between the same pair are kept once. When the
// graph is malformed the error also names any cycle among the valid edges.
func Build(nodes []Node, edges []Edge) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]*Node, len(nodes)),
		preds: make(map[string][]string, len(nodes)),
		succs: make(map[string][]string, len(nodes)),
	}

	var problems []string
	for i := range nodes {
		n := &nodes[i]
		if _, dup := g.nodes[n.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		g.nodes[n.ID] = n
		g.ids = append(g.ids, n.ID)
	}
	sort.Strings(g.ids)

	seen := make(map[[2]string]bool, len(edges))
	for i, e := range edges {
		label := e.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}

		ok := true
		if _, exists := g.nodes[e.Source]; !exists {
			problems = append(problems, fmt.Sprintf("edge %s references unknown source node %q", label, e.Source))
			ok = false
		}
		if _, exists := g.nodes[e.Target]; !exists {
			problems = append(problems, fmt.Sprintf("edge %s references unknown target node %q", label, e.Target))
			ok = false
		}
		if !ok {
			continue
		}

		key := [2]string{e.Source, e.Target}
		if seen[key] {
			g.warnings = append(g.warnings, fmt.Sprintf("edge %s duplicates %s -> %s and was ignored", label, e.Source, e.Target))
			continue
		}
		seen[key] = true

		g.edges = append(g.edges, e)
		g.preds[e.Target] = append(g.preds[e.Target], e.Source)
		g.succs[e.Source] = append(g.succs[e.Source], e.Target)
	}

	if len(problems) > 0 {
		// g holds every edge whose endpoints exist, so cycles among them
		// are still reported next to the dangling references.
		if g.HasCycle() {
			problems = append(problems, g.describeCycle())
		}
		return nil, &GraphError{Kind: ErrMalformedGraph, Problems: problems}
	}
	return g, nil
}

func (g *Graph) Node(id string) *Node { return g.nodes[id] }

// IDs returns every node id in ascending order.
func (g *Graph) IDs() []string { return g.ids }

func (g *Graph) Len() int { return len(g.ids) }

func (g *Graph) Predecessors(id string) []string { return g.preds[id] }

func (g *Graph) Successors(id string) []string { return g.succs[id] }

func (g *Graph) Edges() []Edge { return g.edges }

// Warnings are non-fatal observations made while building.
func (g *Graph) Warnings() []string { return g.warnings }

// NodesOfType returns the ids of every node of type t, ascending.
func (g *Graph) NodesOfType(t NodeType) []string {
	var out []string
	for _, id := range g.ids {
		if g.nodes[id].Type == t {
			out = append(out, id)
		}
	}
	return out
}

// Sinks returns nodes with no outgoing edges, ascending.
func (g *Graph) Sinks() []string {
	var out []string
	for _, id := range g.ids {
		if len(g.succs[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Reachable returns the set of nodes reachable from roots, roots included.
func (g *Graph) Reachable(roots []string) map[string]bool {
	visited := make(map[string]bool, len(g.ids))
	stack := append([]string(nil), roots...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		stack = append(stack, g.succs[id]...)
	}
	return visited
}
