// Package coalesce groups functions whose frames can share memory and gives
// every group a base address in the frame region.
//
// Two functions share a group only when Conflict proves they are never
// active at the same time. A group is as large as its largest member, since
// at most one member is live at any instant.
package coalesce

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/blendsdk/blend65-sub013/pkg/callgraph"
	"github.com/blendsdk/blend65-sub013/pkg/diag"
	"github.com/blendsdk/blend65-sub013/pkg/frame"
	"github.com/blendsdk/blend65-sub013/pkg/platform"
)

// Group is a set of functions sharing one base address
type Group struct {
	ID        int
	Members   []string // join order: largest frame first
	Size      int
	Context   callgraph.Context
	Base      int
	Reentrant bool // recursion-tagged singleton using a push/pop frame
}

// End returns the first address after the group
func (g *Group) End() int {
	return g.Base + g.Size
}

func (g *Group) String() string {
	return fmt.Sprintf("group %d [%s] size %d @$%04X", g.ID, strings.Join(g.Members, " "), g.Size, g.Base)
}

// Result is the outcome of coalescing
type Result struct {
	Groups     []*Group
	ByFunction map[string]*Group
	Conflicts  *ConflictGraph

	RawBytes       int
	CoalescedBytes int
	SavedBytes     int
	SavedPercent   float64
	// UsedBytes spans FrameRegion.Start to the end of the last group,
	// alignment gaps included
	UsedBytes int
	Overflow  bool
}

// GroupOf returns the group of a function
func (r *Result) GroupOf(function string) *Group {
	return r.ByFunction[function]
}

// Coalesce groups the frames, lays the groups out and sets each Frame.Group
func Coalesce(g *callgraph.Graph, frames *frame.Set, cfg platform.Config, diags *diag.List) *Result {
	r := &Result{ByFunction: make(map[string]*Group)}
	r.Conflicts = BuildConflictGraph(g, frames.Order)

	for _, f := range bySizeDesc(frames) {
		n := g.Nodes[f.Function]
		grp := r.place(n, f)
		grp.Members = append(grp.Members, f.Function)
		grp.Size = max(grp.Size, f.Size)
		f.Group = grp.ID
		r.ByFunction[f.Function] = grp
	}

	r.RawBytes = frames.RawBytes()
	r.CoalescedBytes = lo.SumBy(r.Groups, func(grp *Group) int { return grp.Size })
	r.SavedBytes = r.RawBytes - r.CoalescedBytes
	if r.RawBytes > 0 {
		r.SavedPercent = float64(r.SavedBytes) * 100 / float64(r.RawBytes)
	}

	r.assignAddresses(cfg, diags)
	return r
}

// place returns the first group n may join, creating a new one if none fits.
// Recursive and conservative functions always get a singleton.
func (r *Result) place(n *callgraph.Node, f *frame.Frame) *Group {
	if !n.Recursive && !n.Conservative {
		for _, grp := range r.Groups {
			if grp.Reentrant {
				continue
			}
			if lo.NoneBy(grp.Members, func(m string) bool { return r.Conflicts.HasEdge(m, n.Name) }) {
				return grp
			}
		}
	}
	grp := &Group{
		ID:        len(r.Groups),
		Context:   n.Context,
		Reentrant: n.Recursive,
	}
	r.Groups = append(r.Groups, grp)
	return grp
}

// bySizeDesc orders frames largest first, ties by name
func bySizeDesc(frames *frame.Set) []*frame.Frame {
	all := frames.All()
	slices.SortStableFunc(all, func(a, b *frame.Frame) int {
		if c := cmp.Compare(b.Size, a.Size); c != 0 {
			return c
		}
		return strings.Compare(a.Function, b.Function)
	})
	return all
}

// assignAddresses lays groups out consecutively from the frame region start.
// The first group that does not fit raises FRAME_REGION_OVERFLOW with the
// total shortfall.
func (r *Result) assignAddresses(cfg platform.Config, diags *diag.List) {
	start := int(cfg.FrameRegion.Start)
	end := int(cfg.FrameRegion.End)
	addr := start
	var first *Group
	for _, grp := range r.Groups {
		grp.Base = frame.AlignUp(addr, cfg.Alignment)
		addr = grp.End()
		if addr > end && first == nil {
			first = grp
		}
	}
	r.UsedBytes = addr - start
	if first == nil {
		return
	}

	r.Overflow = true
	shortfall := r.UsedBytes - cfg.FrameCapacity()
	d := diags.Errorf(diag.CodeFrameRegionOverflow,
		"frames need %d bytes but the frame region %s holds %d; group %d (%s) is the first that does not fit, %d bytes short",
		r.UsedBytes, cfg.FrameRegion, cfg.FrameCapacity(), first.ID, strings.Join(first.Members, ", "), shortfall)
	d.Function = first.Members[0]
	d.Members = first.Members
	d.Bytes = r.UsedBytes
	d.Shortfall = shortfall
	d.Details = map[string]string{"group": fmt.Sprint(first.ID)}
	d.Suggestion = "shrink the largest frames or enlarge the frame region in the platform file"
}
