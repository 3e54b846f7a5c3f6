package analysis

import (
	"slices"

	"github.com/blendsdk/blend65-sub013/pkg/callgraph"
)

// successors returns the sorted callee list of every node. Sorting keeps the
// SCC discovery order, and so the diagnostic order, stable across runs.
func successors(g *callgraph.Graph) map[string][]string {
	succ := make(map[string][]string, len(g.Nodes))
	for _, name := range g.Order {
		succ[name] = g.Nodes[name].Callees.Sorted()
	}
	return succ
}

// hasSelfLoop checks if a function calls itself directly
func hasSelfLoop(node string, succ map[string][]string) bool {
	_, found := slices.BinarySearch(succ[node], node)
	return found
}

// tarjanSCC finds strongly connected components of the call graph.
// Single-node components without a self loop are not cycles.
func tarjanSCC(order []string, succ map[string][]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range succ[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cyclePath walks call edges inside the component from its first member back
// to it, e.g. [a b c a]. Self loops give [f f].
func cyclePath(scc []string, succ map[string][]string) []string {
	if len(scc) == 1 {
		return []string{scc[0], scc[0]}
	}
	member := make(map[string]bool, len(scc))
	for _, n := range scc {
		member[n] = true
	}

	start := scc[0]
	// BFS inside the component for the shortest way back to start
	prev := map[string]string{}
	queue := []string{start}
	seen := map[string]bool{start: true}
	var last string
	for len(queue) > 0 && last == "" {
		cur := queue[0]
		queue = queue[1:]
		for _, w := range succ[cur] {
			if !member[w] {
				continue
			}
			if w == start {
				last = cur
				break
			}
			if !seen[w] {
				seen[w] = true
				prev[w] = cur
				queue = append(queue, w)
			}
		}
	}
	if last == "" {
		return append(slices.Clone(scc), start)
	}

	var rev []string
	for n := last; n != start; n = prev[n] {
		rev = append(rev, n)
	}
	path := []string{start}
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return append(path, start)
}
