package frame

import (
	"github.com/blendsdk/blend65-sub013/pkg/decl"
	"github.com/blendsdk/blend65-sub013/pkg/types"
)

// Register is a processor register a parameter may be passed in
type Register int

const (
	NoReg Register = iota
	RegA
	RegX
	RegAX // A holds the low byte, X the high byte
)

func (r Register) String() string {
	switch r {
	case RegA:
		return "A"
	case RegX:
		return "X"
	case RegAX:
		return "AX"
	}
	return ""
}

// maxRegisterBytes is what A and X hold together
const maxRegisterBytes = 2

// AssignRegisters applies the register calling convention to the leading
// parameters of f:
//
//   - parameters are taken in declaration order, stopping at the first one
//     that does not qualify
//   - a 1-byte scalar takes A, the next one X
//   - a 2-byte non-pointer scalar as the first parameter takes the AX pair
//   - pointers and arrays are never promoted; the fast-memory allocator gives
//     pointers the zero-page home indirect addressing needs
//   - parameters with a fast/slow directive keep their memory placement
//
// Promoted parameters keep their frame offset as a home address; the callee
// stores the register there if it needs the value past its next call.
func AssignRegisters(f *Frame) {
	for _, s := range f.Slots {
		s.Register = NoReg
	}

	used := 0
	for _, s := range f.Slots {
		if s.Role != Param || !promotable(s) {
			return
		}
		switch {
		case s.Size == 2 && used == 0:
			s.Register = RegAX
			return
		case s.Size == 1 && used == 0:
			s.Register = RegA
		case s.Size == 1 && used == 1:
			s.Register = RegX
		default:
			return
		}
		used += s.Size
		if used >= maxRegisterBytes {
			return
		}
	}
}

func promotable(s *Slot) bool {
	if s.Directive == decl.MustBeFast || s.Directive == decl.MustBeSlow {
		return false
	}
	return types.IsScalar(s.Type) && !types.IsAddress(s.Type)
}

// RegisterSlots returns the promoted parameters of f
func RegisterSlots(f *Frame) []*Slot {
	var out []*Slot
	for _, s := range f.Slots {
		if s.Register != NoReg {
			out = append(out, s)
		}
	}
	return out
}
