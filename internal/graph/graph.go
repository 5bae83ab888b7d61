// Package graph orders interdependent resources by a validated, acyclic edge list.
package graph

import (
	"container/heap"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrInvalidNode          = errors.New("invalid node")
	ErrUnresolvedDependency = errors.New("unresolved dependency")
	ErrInvalidEdge          = errors.New("invalid edge")
	ErrCycle                = errors.New("dependency cycle")
)

// Edge declares that From must be realized after To.
type Edge struct {
	From string
	To   string
}

func (e Edge) String() string { return e.From + " -> " + e.To }

// Graph is an immutable, validated dependency graph over a small fixed set of
// nodes. Node indices follow declaration order, which is also the tie-break
// for ordering.
type Graph struct {
	ids   []string
	index map[string]int
	edges []Edge

	// deps[i] holds the indices node i must follow, dependents[i] the
	// indices that must follow node i. Both sorted ascending.
	deps       [][]int
	dependents [][]int

	order []int
}

// New builds and validates a Graph. It rejects empty or duplicate node ids,
// edges naming undeclared nodes, self-loops, duplicate edges and cycles.
func New(nodes []string, edges []Edge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: no nodes declared", ErrInvalidNode)
	}

	g := &Graph{
		ids:        slices.Clone(nodes),
		index:      make(map[string]int, len(nodes)),
		deps:       make([][]int, len(nodes)),
		dependents: make([][]int, len(nodes)),
	}
	for i, id := range nodes {
		if id == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidNode)
		}
		if _, ok := g.index[id]; ok {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidNode, id)
		}
		g.index[id] = i
	}

	seen := make(map[Edge]struct{}, len(edges))
	for _, e := range edges {
		from, ok := g.index[e.From]
		if !ok {
			return nil, fmt.Errorf("%w: %s: %q is not declared", ErrUnresolvedDependency, e, e.From)
		}
		to, ok := g.index[e.To]
		if !ok {
			return nil, fmt.Errorf("%w: %s: %q is not declared", ErrUnresolvedDependency, e, e.To)
		}
		if from == to {
			return nil, fmt.Errorf("%w: self-loop on %q", ErrInvalidEdge, e.From)
		}
		if _, ok := seen[e]; ok {
			return nil, fmt.Errorf("%w: duplicate edge %s", ErrInvalidEdge, e)
		}
		seen[e] = struct{}{}

		g.edges = append(g.edges, e)
		g.deps[from] = append(g.deps[from], to)
		g.dependents[to] = append(g.dependents[to], from)
	}
	for i := range g.ids {
		slices.Sort(g.deps[i])
		slices.Sort(g.dependents[i])
	}

	g.order = g.topoOrder()
	if len(g.order) != len(g.ids) {
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(g.findCycle(), " -> "))
	}
	return g, nil
}

// Nodes returns the node ids in declaration order.
func (g *Graph) Nodes() []string { return slices.Clone(g.ids) }

// Edges returns the declared edges in declaration order.
func (g *Graph) Edges() []Edge { return slices.Clone(g.edges) }

// Has reports whether id is declared.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// DependenciesOf returns the ids id must follow.
func (g *Graph) DependenciesOf(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.deps[i])
}

// Dependents returns the ids that must follow id.
func (g *Graph) Dependents(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.dependents[i])
}

// DependsOn reports whether from directly depends on to.
func (g *Graph) DependsOn(from, to string) bool {
	return slices.Contains(g.DependenciesOf(from), to)
}

// Sources returns the nodes with no dependencies.
func (g *Graph) Sources() []string {
	var out []string
	for i, id := range g.ids {
		if len(g.deps[i]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Terminals returns the nodes nothing depends on.
func (g *Graph) Terminals() []string {
	var out []string
	for i, id := range g.ids {
		if len(g.dependents[i]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Order returns the realization order: every node appears after all of its
// dependencies. The order is deterministic for a given declaration.
func (g *Graph) Order() []string { return g.names(g.order) }

// ReverseOrder returns Order reversed, the order resources are torn down in.
func (g *Graph) ReverseOrder() []string {
	out := g.Order()
	slices.Reverse(out)
	return out
}

func (g *Graph) names(indices []int) []string {
	out := make([]string, 0, len(indices))
	for _, i := range indices {
		out = append(out, g.ids[i])
	}
	return out
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder is Kahn's algorithm with the ready set ordered by declaration
// index. It returns fewer indices than nodes when a cycle exists.
func (g *Graph) topoOrder() []int {
	pending := make([]int, len(g.ids))
	ready := &intMinHeap{}
	for i := range g.ids {
		pending[i] = len(g.deps[i])
		if pending[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(g.ids))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.dependents[n] {
			pending[m]--
			if pending[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle returns one cycle as a path of ids that starts and ends on the
// same node, following dependency edges.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.ids))
	var stack []int
	var cycle []int

	var visit func(u int) bool
	visit = func(u int) bool {
		color[u] = gray
		stack = append(stack, u)
		for _, v := range g.deps[u] {
			switch color[v] {
			case white:
				if visit(v) {
					return true
				}
			case gray:
				start := slices.Index(stack, v)
				cycle = append(slices.Clone(stack[start:]), v)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for i := range g.ids {
		if color[i] == white && visit(i) {
			break
		}
	}
	return g.names(cycle)
}
