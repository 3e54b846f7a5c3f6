// Package analysis fills in the program-wide facts of the call graph:
// transitive callers, recursion cycles, execution contexts and call depth.
//
// Transitive-caller sets are the only proof of non-overlap the coalescing
// stage accepts, so they are computed to a full fixed point over every edge
// the builder recorded, including the conservative edges added for indirect
// calls.
package analysis

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/blendsdk/blend65-sub013/pkg/callgraph"
	"github.com/blendsdk/blend65-sub013/pkg/diag"
	"github.com/blendsdk/blend65-sub013/pkg/platform"
)

// Cycle is one recursion cycle: a self loop or a non-trivial SCC
type Cycle struct {
	Members  []string // sorted
	Path     []string // e.g. [a b a]
	Self     bool
	Allowed  bool     // every member carries AllowRecursion
	Untagged []string // members without AllowRecursion
	Site     callgraph.CallSite
	Caller   string // function containing Site
}

// Result summarizes what Analyze found
type Result struct {
	Cycles      []Cycle
	Unreachable []string
	MaxDepth    int
	Passes      int // fixed-point passes for transitive callers
}

// HasFatalRecursion reports whether a cycle was rejected
func (r *Result) HasFatalRecursion() bool {
	return lo.SomeBy(r.Cycles, func(c Cycle) bool { return !c.Allowed })
}

// Analyze runs stage 2 over g, writing node fields and diagnostics
func Analyze(g *callgraph.Graph, cfg platform.Config, diags *diag.List) *Result {
	r := &Result{}
	r.Passes = TransitiveCallers(g)
	for _, name := range g.Order {
		n := g.Nodes[name]
		n.Recursive = n.TransitiveCallers.Contains(name)
	}
	r.Cycles = FindCycles(g)
	reportCycles(r.Cycles, diags)

	computeContexts(g, r, diags)
	computeDepth(g, cfg, r, diags)
	reportIndirect(g, diags)
	return r
}

// TransitiveCallers computes callers(F) for every node: the direct callers,
// repeatedly unioned with callers(G) for each direct caller G until a full
// pass adds nothing. It returns the number of passes.
func TransitiveCallers(g *callgraph.Graph) int {
	for _, name := range g.Order {
		n := g.Nodes[name]
		n.TransitiveCallers = n.Callers.Copy()
	}
	passes := 0
	for changed := true; changed; {
		changed = false
		passes++
		for _, name := range g.Order {
			n := g.Nodes[name]
			for _, c := range n.Callers.Sorted() {
				if n.TransitiveCallers.Union(g.Nodes[c].TransitiveCallers) {
					changed = true
				}
			}
		}
	}
	return passes
}

// FindCycles returns every recursion cycle, ordered by first member
func FindCycles(g *callgraph.Graph) []Cycle {
	succ := successors(g)
	var cycles []Cycle
	for _, scc := range tarjanSCC(g.Order, succ) {
		self := len(scc) == 1 && hasSelfLoop(scc[0], succ)
		if len(scc) == 1 && !self {
			continue
		}
		path := cyclePath(scc, succ)
		site, _ := g.SiteOf(path[0], path[1])
		untagged := lo.Filter(scc, func(m string, _ int) bool { return !g.Nodes[m].AllowRecursion })
		cycles = append(cycles, Cycle{
			Members:  scc,
			Path:     path,
			Self:     self,
			Allowed:  len(untagged) == 0,
			Untagged: untagged,
			Site:     site,
			Caller:   path[0],
		})
	}
	slices.SortFunc(cycles, func(a, b Cycle) int { return strings.Compare(a.Members[0], b.Members[0]) })
	return cycles
}

func reportCycles(cycles []Cycle, diags *diag.List) {
	for _, c := range cycles {
		path := strings.Join(c.Path, " -> ")
		d := &diag.Diagnostic{
			Function: c.Caller,
			Pos:      c.Site.Pos,
			Members:  c.Members,
			Details:  map[string]string{"path": path},
		}
		switch {
		case c.Allowed:
			d.Severity = diag.Info
			d.Code = diag.CodeRecursionAllowed
			d.Message = fmt.Sprintf("recursion %s is allowed; %s use push/pop frames", path, plural(c.Members, "function", "functions"))
		case c.Self:
			d.Severity = diag.Error
			d.Code = diag.CodeRecursionSelf
			d.Message = fmt.Sprintf("function %s calls itself", c.Caller)
			d.Suggestion = fmt.Sprintf("rewrite %s as a loop, or tag it allow_recursion to give it a push/pop frame", c.Caller)
		default:
			untagged := c.Untagged
			d.Severity = diag.Error
			d.Code = diag.CodeRecursionMutual
			d.Message = fmt.Sprintf("mutual recursion %s", path)
			if len(untagged) < len(c.Members) {
				d.Message += fmt.Sprintf("; allow_recursion is missing on %s", strings.Join(untagged, ", "))
			}
			d.Details["untagged"] = strings.Join(untagged, ",")
			d.Suggestion = "break the cycle, or tag every member allow_recursion"
		}
		diags.Add(d)
	}
}

func plural(items []string, one, many string) string {
	if len(items) == 1 {
		return one + " " + items[0]
	}
	return many + " " + strings.Join(items, ", ")
}

func reportIndirect(g *callgraph.Graph, diags *diag.List) {
	for _, name := range g.Order {
		n := g.Nodes[name]
		if !n.Conservative {
			continue
		}
		var pos diag.Pos
		for _, s := range n.CallSites {
			if s.Indirect {
				pos = s.Pos
				break
			}
		}
		targets := lo.Filter(n.Callees.Sorted(), func(c string, _ int) bool { return g.Nodes[c].AddressTaken })
		d := diags.Warnf(diag.CodeIndirectCall,
			"function %s makes an indirect call; its frame is not shared and fast-memory requests are not guaranteed", name)
		d.Function = name
		d.Pos = pos
		d.Members = targets
	}
}
