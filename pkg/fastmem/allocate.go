// Package fastmem places the highest-value slots in the fast-memory pool
// (zero page on 6502 targets).
//
// Every eligible slot is scored; mandatory requests outrank everything and
// must be honored, preferred slots warn when they fall back, automatic slots
// fall back silently. Coalesced group members that share a relative offset
// compete for one submission, since only one of them is ever active.
package fastmem

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/blendsdk/blend65-sub013/pkg/callgraph"
	"github.com/blendsdk/blend65-sub013/pkg/coalesce"
	"github.com/blendsdk/blend65-sub013/pkg/decl"
	"github.com/blendsdk/blend65-sub013/pkg/diag"
	"github.com/blendsdk/blend65-sub013/pkg/frame"
	"github.com/blendsdk/blend65-sub013/pkg/platform"
)

// Request is one slot submitted to the pool
type Request struct {
	Slot      *frame.Slot
	Directive decl.Directive // effective, after downgrades
	Score     int
	Group     int
}

// Mandatory reports whether the build fails if the request is not placed
func (r *Request) Mandatory() bool {
	return r.Directive == decl.MustBeFast
}

// Placement is a slot that received fast memory
type Placement struct {
	Slot    *frame.Slot
	Address uint16
	Score   int
	Fixed   bool
}

// End returns the first address after the placement
func (p *Placement) End() int {
	return int(p.Address) + p.Slot.Size
}

// Result is the outcome of fast-memory allocation
type Result struct {
	Placements []*Placement // allocation order
	bySlot     map[string]*Placement

	// Fallbacks are preferred slots left in frame memory
	Fallbacks []*frame.Slot
	// Unplaced are mandatory slots that did not fit
	Unplaced  []*frame.Slot
	Shortfall int

	Used      int
	Available int
}

// Lookup returns the placement of a slot
func (r *Result) Lookup(s *frame.Slot) (*Placement, bool) {
	p, ok := r.bySlot[s.Key()]
	return p, ok
}

// Allocator holds the state of one allocation run
type Allocator struct {
	graph  *callgraph.Graph
	frames *frame.Set
	groups *coalesce.Result
	cfg    platform.Config
	diags  *diag.List
	pool   *pool

	fixed    []*Request // fixed-address mandatory requests
	requests []*Request // pool requests: mandatory plus competition winners
	result   *Result
}

// Allocate runs stage 5
func Allocate(g *callgraph.Graph, frames *frame.Set, groups *coalesce.Result, cfg platform.Config, diags *diag.List) *Result {
	a := &Allocator{
		graph:  g,
		frames: frames,
		groups: groups,
		cfg:    cfg,
		diags:  diags,
		pool:   newPool(cfg),
		result: &Result{bySlot: make(map[string]*Placement)},
	}
	a.result.Available = a.pool.available()

	a.collect()
	a.placeFixed()
	a.placeGreedy()

	a.result.Used = lo.SumBy(a.result.Placements, func(p *Placement) int { return p.Slot.Size })
	return a.result
}

// collect scores eligible slots and runs the per-offset competition
func (a *Allocator) collect() {
	best := make(map[[2]int]*Request)
	var contenders [][2]int
	var losers []*Request

	for _, f := range a.frames.All() {
		n := a.graph.Nodes[f.Function]
		for _, s := range f.Slots {
			req := a.candidate(n, f, s)
			if req == nil {
				continue
			}
			if req.Mandatory() {
				if s.Address != nil {
					a.fixed = append(a.fixed, req)
				} else {
					a.requests = append(a.requests, req)
				}
				continue
			}

			key := [2]int{req.Group, s.Offset}
			cur, ok := best[key]
			switch {
			case !ok:
				best[key] = req
				contenders = append(contenders, key)
			case req.Score > cur.Score:
				best[key] = req
				losers = append(losers, cur)
			default:
				losers = append(losers, req)
			}
		}
	}

	for _, key := range contenders {
		a.requests = append(a.requests, best[key])
	}
	for _, l := range losers {
		if l.Directive == decl.PreferFast {
			winner := best[[2]int{l.Group, l.Slot.Offset}]
			a.fallback(l, fmt.Sprintf("it shares frame offset %d with %s, which scores higher", l.Slot.Offset, winner.Slot.Key()))
		}
	}
}

// candidate returns the request for s, or nil if s never enters fast memory
func (a *Allocator) candidate(n *callgraph.Node, f *frame.Frame, s *frame.Slot) *Request {
	dir := s.Directive
	switch {
	case dir == decl.MustBeSlow:
		return nil
	case s.Register != frame.NoReg:
		return nil
	case s.Size == 0:
		return nil
	}

	if dir == decl.MustBeFast && s.Address == nil && n.Conservative {
		dir = decl.PreferFast
		d := a.diags.Warnf(diag.CodeFastNotGuaranteed,
			"%s in %s asks for fast memory, but %s makes an indirect call; the request is treated as preferred",
			s.Name, f.Function, f.Function)
		d.Function = f.Function
		d.Slot = s.Name
		d.Pos = s.Pos
	}
	if dir == decl.Automatic {
		if n.Recursive || s.Size > a.cfg.MaxAutoSlotBytes {
			return nil
		}
	}

	// without a loop depth of its own, a slot is as hot as the deepest loop
	// its function is called from
	loop := s.Stats.LoopDepth
	if loop == 0 && n != nil {
		loop = n.CallLoopDepth
	}

	grp := f.Group
	if a.groups != nil {
		if g := a.groups.GroupOf(f.Function); g != nil {
			grp = g.ID
		}
	}
	return &Request{
		Slot:      s,
		Directive: dir,
		Score:     score(s, dir, loop, a.cfg),
		Group:     grp,
	}
}

// placeFixed honors fixed-address requests before anything else takes the pool
func (a *Allocator) placeFixed() {
	slices.SortStableFunc(a.fixed, func(x, y *Request) int {
		return cmp.Compare(*x.Slot.Address, *y.Slot.Address)
	})
	for _, req := range a.fixed {
		s := req.Slot
		want := platform.Range{Start: *s.Address, End: *s.Address + uint16(s.Size)}
		if !a.insideRegion(want) || a.touchesReserved(want) {
			d := a.diags.Errorf(diag.CodeFastReservedAddress,
				"%s in %s is pinned to %s, which is reserved or outside fast memory %s",
				s.Name, s.Function, want, a.cfg.FastRegion)
			d.Function = s.Function
			d.Slot = s.Name
			d.Pos = s.Pos
			d.Bytes = s.Size
			d.Details = map[string]string{"address": fmt.Sprintf("$%04X", *s.Address)}
			d.Suggestion = "pick an address inside the fast region that the platform does not reserve"
			continue
		}
		if !a.pool.takeAt(*s.Address, s.Size) {
			other := a.overlapping(want)
			d := a.diags.Errorf(diag.CodeFastAddressConflict,
				"%s in %s is pinned to %s, which overlaps %s", s.Name, s.Function, want, other)
			d.Function = s.Function
			d.Slot = s.Name
			d.Pos = s.Pos
			d.Members = []string{other, s.Key()}
			d.Details = map[string]string{"address": fmt.Sprintf("$%04X", *s.Address)}
			continue
		}
		a.place(req, *s.Address, true)
	}
}

func (a *Allocator) insideRegion(r platform.Range) bool {
	return r.End > r.Start &&
		r.Start >= a.cfg.FastRegion.Start && r.End <= a.cfg.FastRegion.End
}

func (a *Allocator) touchesReserved(r platform.Range) bool {
	return lo.SomeBy(a.cfg.FastReserved, r.Overlaps)
}

// overlapping names the already placed slot that occupies part of r
func (a *Allocator) overlapping(r platform.Range) string {
	for _, p := range a.result.Placements {
		if int(r.Start) < p.End() && int(p.Address) < int(r.End) {
			return p.Slot.Key()
		}
	}
	return r.String()
}

// placeGreedy serves mandatory requests first, largest first so a small
// request cannot split the run a larger one needs; the rest go by score.
// Ties keep function and slot order.
func (a *Allocator) placeGreedy() {
	slices.SortStableFunc(a.requests, func(x, y *Request) int {
		if x.Mandatory() != y.Mandatory() {
			if x.Mandatory() {
				return -1
			}
			return 1
		}
		if x.Mandatory() {
			if c := cmp.Compare(y.Slot.Size, x.Slot.Size); c != 0 {
				return c
			}
		} else if c := cmp.Compare(y.Score, x.Score); c != 0 {
			return c
		}
		if c := strings.Compare(x.Slot.Function, y.Slot.Function); c != 0 {
			return c
		}
		return cmp.Compare(x.Slot.Index, y.Slot.Index)
	})

	for _, req := range a.requests {
		if addr, ok := a.pool.take(req.Slot.Size); ok {
			a.place(req, addr, false)
			continue
		}
		switch req.Directive {
		case decl.MustBeFast:
			a.result.Unplaced = append(a.result.Unplaced, req.Slot)
		case decl.PreferFast:
			a.fallback(req, "fast memory is full")
		}
	}

	if len(a.result.Unplaced) > 0 {
		a.reportUnplaced()
	}
}

func (a *Allocator) place(req *Request, addr uint16, fixed bool) {
	p := &Placement{Slot: req.Slot, Address: addr, Score: req.Score, Fixed: fixed}
	a.result.Placements = append(a.result.Placements, p)
	a.result.bySlot[req.Slot.Key()] = p
}

func (a *Allocator) fallback(req *Request, why string) {
	s := req.Slot
	a.result.Fallbacks = append(a.result.Fallbacks, s)
	d := a.diags.Warnf(diag.CodeFastFallback,
		"%s in %s (%d bytes, score %d) stays in frame memory: %s", s.Name, s.Function, s.Size, req.Score, why)
	d.Function = s.Function
	d.Slot = s.Name
	d.Pos = s.Pos
	d.Bytes = s.Size
	d.Details = map[string]string{"score": fmt.Sprint(req.Score)}
}

// reportUnplaced raises one fatal diagnostic for the mandatory requests left
// over: a capacity overflow when they need more bytes than the pool has after
// fixed placements, otherwise a fragmentation error.
func (a *Allocator) reportUnplaced() {
	need := lo.SumBy(a.requests, func(r *Request) int {
		if r.Mandatory() {
			return r.Slot.Size
		}
		return 0
	})
	avail := a.result.Available - a.fixedBytes()
	keys := lo.Map(a.result.Unplaced, func(s *frame.Slot, _ int) string { return s.Key() })
	first := a.result.Unplaced[0]

	var d *diag.Diagnostic
	if need > avail {
		a.result.Shortfall = need - avail
		d = a.diags.Errorf(diag.CodeFastOverflow,
			"mandatory fast-memory requests need %d bytes but only %d are available; %d bytes short (%d slots not placed)",
			need, avail, a.result.Shortfall, len(keys))
		d.Suggestion = "drop the fast directive from the least used variables"
	} else {
		d = a.diags.Errorf(diag.CodeFastFragmented,
			"mandatory fast-memory requests need %d of %d available bytes, but no free run holds %s (%d bytes); the largest run left is %d bytes",
			need, avail, first.Key(), first.Size, a.pool.largestRun())
		d.Suggestion = "split the variable, or pin it with an address where the pool is contiguous"
	}
	d.Function = first.Function
	d.Slot = first.Name
	d.Pos = first.Pos
	d.Members = keys
	d.Bytes = need
	d.Shortfall = a.result.Shortfall
}

func (a *Allocator) fixedBytes() int {
	return lo.SumBy(a.result.Placements, func(p *Placement) int {
		if p.Fixed {
			return p.Slot.Size
		}
		return 0
	})
}
