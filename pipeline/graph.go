package pipeline

import (
	"sort"

	"github.com/pkg/errors"
)

// depGraph is the dependency graph over pipeline tools. Nodes are stable
// integer indices into an arena; edges point from a tool to the tools that
// consume its parameters.
type depGraph struct {
	out []map[int]struct{}
	in  []map[int]struct{}
}

func newDepGraph() *depGraph {
	return &depGraph{}
}

func (g *depGraph) addNode() int {
	g.out = append(g.out, map[int]struct{}{})
	g.in = append(g.in, map[int]struct{}{})
	return len(g.out) - 1
}

// addEdge records from→to and reports whether the edge was newly added.
func (g *depGraph) addEdge(from, to int) bool {
	if _, ok := g.out[from][to]; ok {
		return false
	}
	g.out[from][to] = struct{}{}
	g.in[to][from] = struct{}{}
	return true
}

func (g *depGraph) removeEdge(from, to int) {
	delete(g.out[from], to)
	delete(g.in[to], from)
}

func (g *depGraph) outEdges(n int) []int { return sortedSet(g.out[n]) }
func (g *depGraph) inEdges(n int) []int  { return sortedSet(g.in[n]) }

func sortedSet(s map[int]struct{}) []int {
	out := make([]int, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// findCycle runs a depth-first traversal rooted at the just-mutated node
// and returns the node indices of a cycle through its connected component,
// or nil. The traversal tracks a spanning-tree parent map; revisiting a
// node whose recorded parent differs from the current predecessor signals a
// cycle, and the offending path is reconstructed from the spanning tree.
func (g *depGraph) findCycle(root int) []int {
	visited := map[int]bool{}
	parent := map[int]int{root: -1}
	var cycle []int

	var dfs func(n int)
	dfs = func(n int) {
		visited[n] = true
		for _, child := range g.outEdges(n) {
			if cycle != nil {
				return
			}
			if !visited[child] {
				parent[child] = n
				dfs(child)
			} else if parent[child] != n {
				// a back edge to a spanning-tree ancestor closes a cycle;
				// cross edges (no ancestor path) do not
				if path := spanningPath(parent, n, child); path != nil {
					cycle = path
				}
			}
		}
	}
	dfs(root)
	return cycle
}

// spanningPath walks the spanning tree from source up to target and returns
// the path target..source, or nil if target is not an ancestor of source.
func spanningPath(parent map[int]int, source, target int) []int {
	var path []int
	for source != target {
		p, ok := parent[source]
		if !ok || p == -1 {
			return nil
		}
		path = append(path, source)
		source = p
	}
	path = append(path, target)
	// reverse into target-first order
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// waves computes the topological order of the graph using Kahn's algorithm
// and returns it wave by wave: each wave is the zero-in-degree frontier at
// that step, so tools within one wave have no ordering among themselves.
// Self-loops are discarded. Failing to emit every node means a cycle
// escaped edge-time detection, which is an internal invariant violation.
func (g *depGraph) waves() ([][]int, error) {
	n := len(g.out)
	indeg := make([]int, n)
	for from, outs := range g.out {
		for to := range outs {
			if to != from {
				indeg[to]++
			}
		}
	}

	emitted := make([]bool, n)
	remaining := n
	var waves [][]int
	for remaining > 0 {
		var wave []int
		for i := 0; i < n; i++ {
			if !emitted[i] && indeg[i] == 0 {
				wave = append(wave, i)
			}
		}
		if len(wave) == 0 {
			return nil, errors.New("dependency graph contains an undetected cycle")
		}
		for _, node := range wave {
			emitted[node] = true
			remaining--
			for to := range g.out[node] {
				if to != node && !emitted[to] {
					indeg[to]--
				}
			}
		}
		waves = append(waves, wave)
	}
	return waves, nil
}
