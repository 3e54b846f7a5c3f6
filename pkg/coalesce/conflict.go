package coalesce

import (
	"github.com/blendsdk/blend65-sub013/pkg/callgraph"
)

// Reason says why two functions may not share a frame
type Reason int

const (
	NoConflict Reason = iota
	// CallPath: one is a transitive caller of the other
	CallPath
	// ContextBoth: one may run in the main program and under an interrupt
	ContextBoth
	// ContextMismatch: one runs only in the main program, the other only under interrupts
	ContextMismatch
	// HandlerMismatch: interrupt code of different (possibly nesting) handlers
	HandlerMismatch
	// Recursive: push/pop frames are never shared
	Recursive
	// Conservative: an indirect call makes the caller set unprovable
	Conservative
)

func (r Reason) String() string {
	switch r {
	case CallPath:
		return "call path"
	case ContextBoth:
		return "context both"
	case ContextMismatch:
		return "context mismatch"
	case HandlerMismatch:
		return "different interrupt handlers"
	case Recursive:
		return "recursive"
	case Conservative:
		return "indirect call"
	}
	return "none"
}

// Conflict returns why a and b may be active at the same time, or NoConflict.
//
// Only the transitive-caller sets prove non-overlap: a missing direct edge
// says nothing, because a common descendant or any longer call path keeps
// both frames live.
func Conflict(a, b *callgraph.Node) Reason {
	switch {
	case a.Recursive || b.Recursive:
		return Recursive
	case a.Conservative || b.Conservative:
		return Conservative
	case a.TransitiveCallers.Contains(b.Name) || b.TransitiveCallers.Contains(a.Name):
		return CallPath
	case a.Context == callgraph.Both || b.Context == callgraph.Both:
		return ContextBoth
	case a.Context != b.Context:
		return ContextMismatch
	case a.Context == callgraph.InterruptOnly && !sameSingleHandler(a, b):
		return HandlerMismatch
	}
	return NoConflict
}

// CanShare is the overlap predicate: true iff a and b are never active together
func CanShare(a, b *callgraph.Node) bool {
	return a.Name != b.Name && Conflict(a, b) == NoConflict
}

// sameSingleHandler holds when both run under exactly one handler, the same.
// Handlers can nest, so code reached from two handlers can be interrupted by
// itself through the other.
func sameSingleHandler(a, b *callgraph.Node) bool {
	return len(a.Handlers) == 1 && a.Handlers.Equal(b.Handlers)
}

// ConflictGraph records every pair of functions that may not share.
// Same shape as a register interference graph, keyed by function name.
type ConflictGraph struct {
	Nodes   callgraph.NameSet
	Edges   map[string]callgraph.NameSet
	reasons map[[2]string]Reason
}

// NewConflictGraph creates an empty conflict graph
func NewConflictGraph() *ConflictGraph {
	return &ConflictGraph{
		Nodes:   callgraph.NewNameSet(),
		Edges:   make(map[string]callgraph.NameSet),
		reasons: make(map[[2]string]Reason),
	}
}

// AddNode adds a function to the graph
func (g *ConflictGraph) AddNode(name string) {
	g.Nodes.Add(name)
	if g.Edges[name] == nil {
		g.Edges[name] = callgraph.NewNameSet()
	}
}

// AddEdge records a conflict between two functions
func (g *ConflictGraph) AddEdge(a, b string, why Reason) {
	if a == b {
		return
	}
	g.AddNode(a)
	g.AddNode(b)
	g.Edges[a].Add(b)
	g.Edges[b].Add(a)
	g.reasons[pairKey(a, b)] = why
}

// HasEdge reports whether a and b conflict
func (g *ConflictGraph) HasEdge(a, b string) bool {
	if edges, ok := g.Edges[a]; ok {
		return edges.Contains(b)
	}
	return false
}

// Reason returns why a and b conflict
func (g *ConflictGraph) Reason(a, b string) Reason {
	return g.reasons[pairKey(a, b)]
}

// Degree returns the number of conflicting functions
func (g *ConflictGraph) Degree(name string) int {
	return len(g.Edges[name])
}

// Neighbors returns the functions name conflicts with
func (g *ConflictGraph) Neighbors(name string) callgraph.NameSet {
	if edges, ok := g.Edges[name]; ok {
		return edges.Copy()
	}
	return callgraph.NewNameSet()
}

func pairKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

// BuildConflictGraph evaluates the overlap predicate for every pair
func BuildConflictGraph(g *callgraph.Graph, names []string) *ConflictGraph {
	cg := NewConflictGraph()
	for _, n := range names {
		cg.AddNode(n)
	}
	for i, a := range names {
		for _, b := range names[i+1:] {
			if why := Conflict(g.Nodes[a], g.Nodes[b]); why != NoConflict {
				cg.AddEdge(a, b, why)
			}
		}
	}
	return cg
}
