// Package frame computes the static frame of every function: one slot per
// parameter, the return value and each local, laid out back to back.
//
// Frame layout (offsets from the frame base):
//
//	+---------------------------+  offset 0
//	| parameters (decl order)   |
//	| return value (if any)     |
//	| locals (decl order)       |
//	| pad byte (odd totals)     |
//	+---------------------------+  Size
//
// The base is not known here; coalescing assigns one per group.
package frame

import (
	"fmt"

	"github.com/blendsdk/blend65-sub013/pkg/decl"
	"github.com/blendsdk/blend65-sub013/pkg/diag"
	"github.com/blendsdk/blend65-sub013/pkg/platform"
	"github.com/blendsdk/blend65-sub013/pkg/types"
)

// frameAlignment pads odd frames so word slots of the next group start even
const frameAlignment = 2

// ReturnSlot is the name of the return-value slot
const ReturnSlot = "@return"

// Role says what a slot holds
type Role int

const (
	Param Role = iota
	Return
	Local
)

func (r Role) String() string {
	switch r {
	case Return:
		return "return"
	case Local:
		return "local"
	}
	return "param"
}

// Slot is one parameter, return value or local in a frame
type Slot struct {
	Function  string
	Name      string
	Index     int // position within the frame
	Role      Role
	Type      types.Type
	Size      int
	Offset    int
	Directive decl.Directive
	Address   *uint16 // fixed fast-memory address
	Stats     decl.Stats
	Register  Register // calling-convention register, NoReg if none
	Pos       diag.Pos
}

// Accesses returns reads plus writes
func (s *Slot) Accesses() int {
	return s.Stats.Reads + s.Stats.Writes
}

// Key identifies a slot program-wide
func (s *Slot) Key() string {
	return s.Function + ":" + s.Name
}

func (s *Slot) String() string {
	return fmt.Sprintf("%s %s: %s @%d+%d", s.Role, s.Key(), s.Type, s.Offset, s.Size)
}

// Frame is the ordered slot list of one function
type Frame struct {
	Function string
	Slots    []*Slot
	Size     int
	Padding  int
	Group    int // coalescing group id, -1 until stage 4
}

// RawSize returns the sum of slot sizes, without padding
func (f *Frame) RawSize() int {
	return f.Size - f.Padding
}

// Slot finds a slot by name
func (f *Frame) Slot(name string) *Slot {
	for _, s := range f.Slots {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Set holds one frame per function in qualified-name order
type Set struct {
	Frames map[string]*Frame
	Order  []string
}

// Get returns the frame of a function
func (s *Set) Get(function string) *Frame {
	return s.Frames[function]
}

// All returns the frames in order
func (s *Set) All() []*Frame {
	out := make([]*Frame, 0, len(s.Order))
	for _, name := range s.Order {
		out = append(out, s.Frames[name])
	}
	return out
}

// RawBytes returns the total size before coalescing
func (s *Set) RawBytes() int {
	total := 0
	for _, f := range s.Frames {
		total += f.Size
	}
	return total
}

// Compute builds the frame of every function in order. Register candidates
// are marked when the platform passes parameters in registers.
func Compute(prog *decl.Program, order []string, cfg platform.Config, diags *diag.List) *Set {
	idx := prog.Index()
	set := &Set{Frames: make(map[string]*Frame, len(order))}
	for _, name := range order {
		fn := idx[name]
		if fn == nil {
			continue
		}
		f := Build(fn)
		if cfg.RegisterParams {
			AssignRegisters(f)
		}
		checkSize(f, cfg, diags)
		set.Frames[name] = f
		set.Order = append(set.Order, name)
	}
	return set
}

// Build lays out one function's frame
func Build(fn *decl.Function) *Frame {
	f := &Frame{Function: fn.QualifiedName(), Group: -1}
	add := func(s *Slot) {
		s.Function = f.Function
		s.Index = len(f.Slots)
		s.Offset = f.Size
		s.Size = types.Sizeof(s.Type)
		f.Slots = append(f.Slots, s)
		f.Size += s.Size
	}

	for _, p := range fn.Params {
		add(fromVar(p, Param))
	}
	if !types.IsVoid(fn.Return) {
		add(&Slot{
			Name:      ReturnSlot,
			Role:      Return,
			Type:      fn.Return,
			Directive: fn.ReturnDir,
			Stats:     fn.ReturnStats,
			Pos:       fn.Pos,
		})
	}
	for _, l := range fn.Locals {
		add(fromVar(l, Local))
	}

	padded := AlignUp(f.Size, frameAlignment)
	f.Padding = padded - f.Size
	f.Size = padded
	return f
}

func fromVar(v decl.Var, role Role) *Slot {
	return &Slot{
		Name:      v.Name,
		Role:      role,
		Type:      v.Type,
		Directive: v.Directive,
		Address:   v.Address,
		Stats:     v.Stats,
		Pos:       v.Pos,
	}
}

// checkSize emits the advisory size warnings. Thresholds are absolute bytes
// and a percentage of the frame region; the stricter result wins.
func checkSize(f *Frame, cfg platform.Config, diags *diag.List) {
	pct := 0
	if capacity := cfg.FrameCapacity(); capacity > 0 {
		pct = f.Size * 100 / capacity
	}
	over := func(bytes, percent int) bool {
		return (bytes > 0 && f.Size > bytes) || (percent > 0 && pct > percent)
	}

	var code diag.Code
	switch {
	case over(cfg.VeryLargeFrameBytes, cfg.VeryLargeFramePercent):
		code = diag.CodeFrameVeryLarge
	case over(cfg.LargeFrameBytes, cfg.LargeFramePercent):
		code = diag.CodeFrameLarge
	default:
		return
	}
	d := diags.Warnf(code, "frame of %s is %d bytes (%d%% of the frame region)", f.Function, f.Size, pct)
	d.Function = f.Function
	d.Bytes = f.Size
	d.Details = map[string]string{"percent": fmt.Sprint(pct)}
	d.Suggestion = "move large buffers to module-level storage or split the function"
	if len(f.Slots) > 0 {
		d.Pos = f.Slots[0].Pos
	}
}

// AlignUp rounds n up to the nearest multiple of align
func AlignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
