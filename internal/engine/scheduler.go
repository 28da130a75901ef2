package engine

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"
)

// idHeap is a min-heap of node ids, used to break ties between nodes that
// become ready at the same time.
type idHeap []string

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Order returns a topological order of the graph using Kahn's algorithm.
// Among nodes that are ready together the smallest id goes first, so the
// same graph always yields the same order.
func (g *Graph) Order() ([]string, error) {
	indegree := make(map[string]int, len(g.ids))
	for _, id := range g.ids {
		indegree[id] = len(g.preds[id])
	}

	ready := &idHeap{}
	for _, id := range g.ids {
		if indegree[id] == 0 {
			*ready = append(*ready, id)
		}
	}
	heap.Init(ready)

	order := make([]string, 0, len(g.ids))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for _, next := range g.succs[id] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	if len(order) != len(g.ids) {
		return nil, &GraphError{Kind: ErrCyclicGraph, Problems: []string{g.describeCycle()}}
	}
	return order, nil
}

// HasCycle reports whether no full topological order exists.
func (g *Graph) HasCycle() bool {
	_, err := g.Order()
	return err != nil
}

// describeCycle finds one cycle with a depth-first search over ascending ids.
func (g *Graph) describeCycle() string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.ids))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		path = append(path, id)
		for _, next := range g.succs[id] {
			switch color[next] {
			case grey:
				for i, p := range path {
					if p == next {
						cycle = append(append([]string(nil), path[i:]...), next)
						break
					}
				}
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, id := range g.ids {
		if color[id] == white && visit(id) {
			return fmt.Sprintf("cycle detected: %s", strings.Join(cycle, " -> "))
		}
	}
	return "cycle detected"
}

// ReadySet returns the pending nodes whose predecessors are all done, in
// ascending id order. These can run concurrently.
func ReadySet(g *Graph, ec *ExecutionContext) []string {
	var ready []string
	for _, id := range g.ids {
		if ec.Status(id) != StatusPending {
			continue
		}
		ok := true
		for _, p := range g.preds[id] {
			if ec.Status(p) != StatusDone {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}
