// Package report renders allocation results: a text listing for people, a
// JSON document for tools, and a fingerprint of the final layout.
package report

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/blendsdk/blend65-sub013/pkg/callgraph"
	"github.com/blendsdk/blend65-sub013/pkg/coalesce"
	"github.com/blendsdk/blend65-sub013/pkg/diag"
	"github.com/blendsdk/blend65-sub013/pkg/fastmem"
	"github.com/blendsdk/blend65-sub013/pkg/frame"
	"github.com/blendsdk/blend65-sub013/pkg/layout"
	"github.com/blendsdk/blend65-sub013/pkg/pipeline"
)

// Printer writes stage results in a readable, fixed-column format
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new result printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintGraph prints one line per function: context, depth, flags and callees
// Format: name [context] depth N {flags} -> callee, callee
func (p *Printer) PrintGraph(g *callgraph.Graph) {
	for _, name := range g.Order {
		n := g.Nodes[name]
		fmt.Fprintf(p.w, "%s [%s] depth %d", name, n.Context, n.Depth)
		if flags := nodeFlags(n); len(flags) > 0 {
			fmt.Fprintf(p.w, " {%s}", strings.Join(flags, ","))
		}
		if len(n.Callees) > 0 {
			fmt.Fprintf(p.w, " -> %s", strings.Join(n.Callees.Sorted(), ", "))
		}
		fmt.Fprintln(p.w)
	}
}

func nodeFlags(n *callgraph.Node) []string {
	var flags []string
	if n.Interrupt {
		flags = append(flags, "interrupt")
	}
	if n.Recursive {
		flags = append(flags, "recursive")
	}
	if n.AllowRecursion {
		flags = append(flags, "allow_recursion")
	}
	if n.Conservative {
		flags = append(flags, "indirect")
	}
	if n.AddressTaken {
		flags = append(flags, "address_taken")
	}
	if !n.Reachable {
		flags = append(flags, "unreachable")
	}
	return flags
}

// PrintFrames prints every frame with its slots in offset order
func (p *Printer) PrintFrames(set *frame.Set) {
	for _, f := range set.All() {
		fmt.Fprintf(p.w, "frame %s: %d bytes", f.Function, f.Size)
		if f.Padding > 0 {
			fmt.Fprintf(p.w, " (%d pad)", f.Padding)
		}
		fmt.Fprintln(p.w)
		for _, s := range f.Slots {
			fmt.Fprintf(p.w, "  +%-3d %-8s %-8s %-6s %s", s.Offset, s.Name, s.Type, s.Role, s.Directive)
			if s.Address != nil {
				fmt.Fprintf(p.w, " @$%04X", *s.Address)
			}
			if s.Register != frame.NoReg {
				fmt.Fprintf(p.w, " reg %s", s.Register)
			}
			fmt.Fprintln(p.w)
		}
	}
}

// PrintGroups prints the coalescing groups in layout order
func (p *Printer) PrintGroups(r *coalesce.Result) {
	for _, g := range r.Groups {
		fmt.Fprintf(p.w, "group %d $%04X size %d %s: %s", g.ID, g.Base, g.Size, g.Context, strings.Join(g.Members, " "))
		if g.Reentrant {
			fmt.Fprint(p.w, " (reentrant)")
		}
		fmt.Fprintln(p.w)
	}
}

// PrintFast prints fast-memory placements by address, then fallbacks
func (p *Printer) PrintFast(r *fastmem.Result) {
	fmt.Fprintf(p.w, "fast memory: %d of %d bytes\n", r.Used, r.Available)
	placed := slices.Clone(r.Placements)
	slices.SortFunc(placed, func(a, b *fastmem.Placement) int { return int(a.Address) - int(b.Address) })
	for _, pl := range placed {
		fmt.Fprintf(p.w, "  $%04X %-16s %d bytes score %d", pl.Address, pl.Slot.Key(), pl.Slot.Size, pl.Score)
		if pl.Fixed {
			fmt.Fprint(p.w, " (fixed)")
		}
		fmt.Fprintln(p.w)
	}
	for _, s := range r.Fallbacks {
		fmt.Fprintf(p.w, "  fallback %s\n", s.Key())
	}
	for _, s := range r.Unplaced {
		fmt.Fprintf(p.w, "  unplaced %s\n", s.Key())
	}
}

// PrintRecords prints the final layout grouped by function
func (p *Printer) PrintRecords(recs layout.Records) {
	current := ""
	for _, r := range recs {
		if r.Function != current {
			current = r.Function
			fmt.Fprintln(p.w, current)
		}
		fmt.Fprintf(p.w, "  %-8s %-6s %-8s %-8s $%04X", r.Slot, r.Role, r.Type, r.Location, r.Address)
		switch r.Location {
		case layout.InFrame:
			fmt.Fprintf(p.w, " (group %d +%d)", r.Group, r.Offset)
		case layout.InRegister:
			fmt.Fprintf(p.w, " (%s)", r.Register)
		}
		if r.Reentrant {
			fmt.Fprint(p.w, " reentrant")
		}
		fmt.Fprintln(p.w)
	}
}

// PrintDiagnostics prints one diagnostic per line with its hint below
func (p *Printer) PrintDiagnostics(ds []*diag.Diagnostic) {
	for _, d := range ds {
		fmt.Fprintln(p.w, d.String())
		if d.Suggestion != "" {
			fmt.Fprintf(p.w, "  hint: %s\n", d.Suggestion)
		}
	}
}

// PrintSummary prints the target and the run statistics
func (p *Printer) PrintSummary(res *pipeline.Result) {
	cfg := res.Platform
	s := res.Stats
	fmt.Fprintf(p.w, "target %s: fast %s, frames %s\n", cfg.Name, cfg.FastRegion, cfg.FrameRegion)
	if res.Graph == nil {
		return
	}
	fmt.Fprintf(p.w, "functions %d, groups %d, max call depth %d\n", s.FunctionCount, s.GroupCount, s.MaxCallDepth)
	fmt.Fprintf(p.w, "frame memory: %d bytes raw, %d coalesced, %d saved (%.1f%%), %d used of %d\n",
		s.RawFrameBytes, s.CoalescedFrameBytes, s.SavedBytes, s.SavedPercent, s.FrameBytesUsed, cfg.FrameCapacity())
	fmt.Fprintf(p.w, "fast memory: %d of %d bytes, %d fallbacks\n", s.FastBytesUsed, s.FastBytesAvailable, s.FallbackCount)
}

// Text writes the full report: summary, groups, layout and diagnostics
func Text(w io.Writer, res *pipeline.Result) {
	p := NewPrinter(w)
	p.PrintSummary(res)
	if res.Groups != nil {
		fmt.Fprintln(w, "\ngroups:")
		p.PrintGroups(res.Groups)
	}
	if len(res.Records) > 0 {
		fmt.Fprintln(w, "\nlayout:")
		p.PrintRecords(res.Records)
	}
	if res.Diagnostics.Len() > 0 {
		fmt.Fprintln(w, "\ndiagnostics:")
		p.PrintDiagnostics(res.Diagnostics.Sorted())
	}
}
