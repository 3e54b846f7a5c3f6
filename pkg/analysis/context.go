package analysis

import (
	"fmt"
	"strings"

	"github.com/blendsdk/blend65-sub013/pkg/callgraph"
	"github.com/blendsdk/blend65-sub013/pkg/diag"
	"github.com/blendsdk/blend65-sub013/pkg/platform"
)

// reach returns every function reachable from start, start included
func reach(g *callgraph.Graph, start string) callgraph.NameSet {
	seen := callgraph.NewNameSet(start)
	queue := []string{start}
	for len(queue) > 0 {
		n := g.Nodes[queue[0]]
		queue = queue[1:]
		for _, c := range n.Callees.Sorted() {
			if seen.Add(c) {
				queue = append(queue, c)
			}
		}
	}
	return seen
}

// computeContexts classifies every node by the entry points that reach it.
// A node reached from several handlers stays InterruptOnly; Handlers records
// which ones so coalescing can keep handlers that nest apart.
func computeContexts(g *callgraph.Graph, r *Result, diags *diag.List) {
	normal := reach(g, g.Entry)
	for _, name := range g.Order {
		g.Nodes[name].Handlers = callgraph.NewNameSet()
	}
	for _, h := range g.Handlers {
		for name := range reach(g, h) {
			g.Nodes[name].Handlers.Add(h)
		}
	}

	for _, name := range g.Order {
		n := g.Nodes[name]
		fromNormal := normal.Contains(name)
		fromIRQ := len(n.Handlers) > 0
		n.Reachable = fromNormal || fromIRQ

		switch {
		case fromNormal && fromIRQ:
			n.Context = callgraph.Both
			d := diags.Warnf(diag.CodeContextBoth,
				"function %s runs in the main program and under interrupt handler %s; its frame is never shared",
				name, strings.Join(n.Handlers.Sorted(), ", "))
			d.Function = name
			d.Members = n.Handlers.Sorted()
			d.Suggestion = fmt.Sprintf("disable interrupts around calls to %s, or give the handler its own copy", name)
		case fromIRQ:
			n.Context = callgraph.InterruptOnly
		default:
			n.Context = callgraph.NormalOnly
		}

		if !n.Reachable {
			r.Unreachable = append(r.Unreachable, name)
			d := diags.Infof(diag.CodeUnreachable, "function %s is never called", name)
			d.Function = name
		}
	}
}

// computeDepth sets Depth to the shortest call distance from the nearest
// entry point and StackDepth to the longest call chain from any entry, taken
// over the SCC condensation so a cycle counts once. Each call pushes a return
// address on the hardware stack, so the limit is checked against StackDepth
// and reported once per chain, at the first function beyond it.
func computeDepth(g *callgraph.Graph, cfg platform.Config, r *Result, diags *diag.List) {
	for _, name := range g.Order {
		g.Nodes[name].Depth = -1
	}
	var queue []string
	for _, e := range g.Entries() {
		g.Nodes[e].Depth = 0
		queue = append(queue, e)
	}
	for len(queue) > 0 {
		n := g.Nodes[queue[0]]
		queue = queue[1:]
		for _, c := range n.Callees.Sorted() {
			if cn := g.Nodes[c]; cn.Depth < 0 {
				cn.Depth = n.Depth + 1
				queue = append(queue, c)
			}
		}
	}

	parent := longestChains(g)
	for _, name := range g.Order {
		r.MaxDepth = max(r.MaxDepth, g.Nodes[name].StackDepth)
	}

	if cfg.DeepCallDepth <= 0 {
		return
	}
	for _, name := range g.Order {
		n := g.Nodes[name]
		if n.StackDepth != cfg.DeepCallDepth+1 {
			continue
		}
		chain := []string{name}
		for p, ok := parent[name]; ok; p, ok = parent[p] {
			chain = append([]string{p}, chain...)
		}
		d := diags.Warnf(diag.CodeCallDepthDeep,
			"call chain %s reaches depth %d, past the limit of %d", strings.Join(chain, " -> "), n.StackDepth, cfg.DeepCallDepth)
		d.Function = name
		d.Members = chain
		d.Bytes = 2 * n.StackDepth
		d.Details = map[string]string{
			"depth":    fmt.Sprint(n.StackDepth),
			"shortest": fmt.Sprint(n.Depth),
			"limit":    fmt.Sprint(cfg.DeepCallDepth),
		}
		d.Suggestion = "inline small helpers on this path"
	}
}

// longestChains fills StackDepth with a longest-path pass over the SCC
// condensation. Tarjan emits components sinks first, so walking its output
// backwards visits every component after all of its callers. The returned
// map names, for each function, the caller on its longest chain.
func longestChains(g *callgraph.Graph) map[string]string {
	succ := successors(g)
	sccs := tarjanSCC(g.Order, succ)
	comp := make(map[string]int, len(g.Order))
	for i, scc := range sccs {
		for _, name := range scc {
			comp[name] = i
		}
	}

	depth := make([]int, len(sccs))
	for i := range depth {
		depth[i] = -1
	}
	for _, e := range g.Entries() {
		depth[comp[e]] = 0
	}

	parent := make(map[string]string)
	via := make(map[int]string) // component -> caller on its longest chain
	for i := len(sccs) - 1; i >= 0; i-- {
		if depth[i] < 0 {
			continue
		}
		for _, v := range sccs[i] {
			for _, w := range succ[v] {
				j := comp[w]
				if j == i || depth[i]+1 <= depth[j] {
					continue
				}
				depth[j] = depth[i] + 1
				via[j] = v
			}
		}
	}

	for i, scc := range sccs {
		for _, name := range scc {
			g.Nodes[name].StackDepth = depth[i]
			if p, ok := via[i]; ok {
				parent[name] = p
			}
		}
	}
	return parent
}
