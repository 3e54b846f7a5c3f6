// Package callgraph builds the whole-program call graph the frame allocator
// reasons over: one Node per declared function, keyed by qualified name, with
// direct caller/callee sets and the set of entry points (program start plus
// every interrupt handler).
//
// Nodes refer to each other by name only, so recursive programs are just
// repeated keys in the table. Context and recursion fields are left zero here
// and filled in by package analysis.
package callgraph

import (
	"errors"
	"fmt"
	"slices"

	"github.com/blendsdk/blend65-sub013/pkg/decl"
	"github.com/blendsdk/blend65-sub013/pkg/diag"
)

// ErrNoEntry is returned when the program-start function is not declared
var ErrNoEntry = errors.New("program entry not declared")

// Context classifies a function by the entry points that reach it
type Context int

const (
	// NormalOnly functions run only on the program-start flow
	NormalOnly Context = iota
	// InterruptOnly functions run only under interrupt handlers
	InterruptOnly
	// Both functions can be preempted by another activation of themselves
	Both
)

func (c Context) String() string {
	switch c {
	case InterruptOnly:
		return "interrupt"
	case Both:
		return "both"
	}
	return "normal"
}

// CallSite is one call found while walking a body
type CallSite struct {
	Callee    string // qualified; empty for an unresolved indirect call
	Pos       diag.Pos
	LoopDepth int
	Indirect  bool
}

// Node is the per-function record
type Node struct {
	Name      string
	Callees   NameSet
	Callers   NameSet
	CallSites []CallSite

	Interrupt      bool
	AllowRecursion bool
	Conservative   bool // contains a call whose target is unknown
	AddressTaken   bool // may be the target of an indirect call
	CallLoopDepth  int  // deepest loop around any direct call to this function

	// Filled by analysis
	TransitiveCallers NameSet
	Context           Context
	Handlers          NameSet // interrupt handlers that reach this node
	Recursive         bool
	Reachable         bool
	Depth             int // calls from the nearest entry point, -1 if unreachable
	StackDepth        int // calls on the longest chain from an entry point, -1 if unreachable
}

// Graph is the pipeline-owned table of nodes
type Graph struct {
	Nodes    map[string]*Node
	Order    []string // qualified names, sorted
	Entry    string
	Handlers []string // interrupt-handler entry points, sorted
}

// NewGraph creates an empty graph
func NewGraph(entry string) *Graph {
	return &Graph{
		Nodes: make(map[string]*Node),
		Entry: entry,
	}
}

// AddNode adds a function to the graph if absent and returns its node
func (g *Graph) AddNode(name string) *Node {
	if n, ok := g.Nodes[name]; ok {
		return n
	}
	n := &Node{
		Name:              name,
		Callees:           NewNameSet(),
		Callers:           NewNameSet(),
		TransitiveCallers: NewNameSet(),
		Handlers:          NewNameSet(),
		Depth:             -1,
		StackDepth:        -1,
	}
	g.Nodes[name] = n
	i, _ := slices.BinarySearch(g.Order, name)
	g.Order = slices.Insert(g.Order, i, name)
	return n
}

// AddEdge records that caller directly calls callee
func (g *Graph) AddEdge(caller, callee string) {
	g.AddNode(caller).Callees.Add(callee)
	g.AddNode(callee).Callers.Add(caller)
}

// HasEdge reports whether caller directly calls callee
func (g *Graph) HasEdge(caller, callee string) bool {
	if n, ok := g.Nodes[caller]; ok {
		return n.Callees.Contains(callee)
	}
	return false
}

// Node returns the node for name or nil
func (g *Graph) Node(name string) *Node {
	return g.Nodes[name]
}

// Entries returns the program entry followed by the interrupt handlers
func (g *Graph) Entries() []string {
	out := []string{g.Entry}
	for _, h := range g.Handlers {
		if h != g.Entry {
			out = append(out, h)
		}
	}
	return out
}

// SiteOf returns the first recorded call from caller to callee
func (g *Graph) SiteOf(caller, callee string) (CallSite, bool) {
	n := g.Nodes[caller]
	if n == nil {
		return CallSite{}, false
	}
	for _, s := range n.CallSites {
		if s.Callee == callee {
			return s, true
		}
	}
	return CallSite{}, false
}

// UndeclaredError reports a call to a function that does not exist
type UndeclaredError struct {
	Caller string
	Callee string
	Pos    diag.Pos
}

func (e *UndeclaredError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s calls undeclared function %s", e.Pos, e.Caller, e.Callee)
	}
	return fmt.Sprintf("%s calls undeclared function %s", e.Caller, e.Callee)
}

// Build walks every body and records direct call edges.
//
// Indirect calls mark the caller Conservative. Any function whose address is
// taken could be the target, so the caller also gets an edge to every
// address-taken function; transitive-caller sets stay a sound
// over-approximation of what may be active.
func Build(prog *decl.Program) (*Graph, error) {
	idx := prog.Index()
	g := NewGraph(prog.EntryName())
	if idx[g.Entry] == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoEntry, g.Entry)
	}

	for _, fn := range prog.Functions {
		n := g.AddNode(fn.QualifiedName())
		n.Interrupt = fn.Interrupt
		n.AllowRecursion = fn.AllowRecursion
		if fn.Interrupt {
			g.Handlers = append(g.Handlers, n.Name)
		}
	}
	slices.Sort(g.Handlers)

	addressTaken := NewNameSet()
	for _, fn := range prog.Functions {
		caller := fn.QualifiedName()
		var err error
		decl.Walk(fn.Body, func(node decl.Node, depth int) bool {
			if err != nil {
				return false
			}
			switch e := node.(type) {
			case decl.Ecall:
				callee, ok := decl.ResolveCallee(idx, fn, e.Func)
				if !ok {
					err = &UndeclaredError{Caller: caller, Callee: e.Func, Pos: e.Pos}
					return false
				}
				g.AddEdge(caller, callee)
				n := g.Nodes[caller]
				n.CallSites = append(n.CallSites, CallSite{Callee: callee, Pos: e.Pos, LoopDepth: depth})
				cn := g.Nodes[callee]
				cn.CallLoopDepth = max(cn.CallLoopDepth, depth)
			case decl.Ecallind:
				n := g.Nodes[caller]
				n.Conservative = true
				n.CallSites = append(n.CallSites, CallSite{Pos: e.Pos, LoopDepth: depth, Indirect: true})
			case decl.Eaddrof:
				target, ok := decl.ResolveCallee(idx, fn, e.Func)
				if !ok {
					err = &UndeclaredError{Caller: caller, Callee: e.Func, Pos: e.Pos}
					return false
				}
				addressTaken.Add(target)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}

	for _, t := range addressTaken.Sorted() {
		g.Nodes[t].AddressTaken = true
	}
	for _, name := range g.Order {
		n := g.Nodes[name]
		if !n.Conservative {
			continue
		}
		for _, t := range addressTaken.Sorted() {
			g.AddEdge(name, t)
		}
	}
	return g, nil
}
