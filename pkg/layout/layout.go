// Package layout resolves every slot to its final location. The records it
// produces are the only allocation output code generation reads.
package layout

import (
	"fmt"

	"github.com/blendsdk/blend65-sub013/pkg/coalesce"
	"github.com/blendsdk/blend65-sub013/pkg/fastmem"
	"github.com/blendsdk/blend65-sub013/pkg/frame"
)

// Location is where a slot lives at run time
type Location int

const (
	InFrame Location = iota
	InFast
	InRegister
)

func (l Location) String() string {
	switch l {
	case InFast:
		return "fast"
	case InRegister:
		return "register"
	}
	return "frame"
}

// MarshalText writes the location by name
func (l Location) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText reads a location name
func (l *Location) UnmarshalText(b []byte) error {
	switch string(b) {
	case "frame":
		*l = InFrame
	case "fast":
		*l = InFast
	case "register":
		*l = InRegister
	default:
		return fmt.Errorf("unknown location %q", b)
	}
	return nil
}

// Record is the final placement of one slot.
//
// Address is the fast-memory address for InFast slots and group base plus
// Offset for InFrame slots. Register parameters keep their frame home in
// Address so the callee can store them there.
type Record struct {
	Function  string   `json:"function"`
	Slot      string   `json:"slot"`
	Role      string   `json:"role"`
	Type      string   `json:"type"`
	Size      int      `json:"size"`
	Location  Location `json:"location"`
	Address   uint16   `json:"address"`
	Offset    int      `json:"offset"`
	Register  string   `json:"register,omitempty"`
	Group     int      `json:"group"`
	Reentrant bool     `json:"reentrant,omitempty"`
}

func (r Record) String() string {
	where := fmt.Sprintf("$%04X", r.Address)
	switch r.Location {
	case InFrame:
		where = fmt.Sprintf("$%04X (group %d +%d)", r.Address, r.Group, r.Offset)
	case InRegister:
		where = fmt.Sprintf("%s (home $%04X)", r.Register, r.Address)
	}
	return fmt.Sprintf("%s.%s %s %s", r.Function, r.Slot, r.Location, where)
}

// Records is the sorted, read-only record set
type Records []Record

// Find returns the record of one slot
func (rs Records) Find(function, slot string) (Record, bool) {
	for _, r := range rs {
		if r.Function == function && r.Slot == slot {
			return r, true
		}
	}
	return Record{}, false
}

// Function returns the records of one function in slot order
func (rs Records) Function(function string) Records {
	var out Records
	for _, r := range rs {
		if r.Function == function {
			out = append(out, r)
		}
	}
	return out
}

// Count returns the number of records at loc
func (rs Records) Count(loc Location) int {
	n := 0
	for _, r := range rs {
		if r.Location == loc {
			n++
		}
	}
	return n
}

// Resolve combines group bases, frame offsets, fast placements and register
// promotions into one record per slot, ordered by function then slot.
// fast may be nil when no fast-memory pass ran.
func Resolve(frames *frame.Set, groups *coalesce.Result, fast *fastmem.Result) Records {
	var out Records
	for _, f := range frames.All() {
		base, id, reentrant := 0, f.Group, false
		if grp := groupOf(groups, f.Function); grp != nil {
			base, id, reentrant = grp.Base, grp.ID, grp.Reentrant
		}
		for _, s := range f.Slots {
			r := Record{
				Function:  f.Function,
				Slot:      s.Name,
				Role:      s.Role.String(),
				Type:      s.Type.String(),
				Size:      s.Size,
				Location:  InFrame,
				Address:   uint16(base + s.Offset),
				Offset:    s.Offset,
				Group:     id,
				Reentrant: reentrant,
			}
			if p, ok := lookupFast(fast, s); ok {
				r.Location = InFast
				r.Address = p.Address
			} else if s.Register != frame.NoReg {
				r.Location = InRegister
				r.Register = s.Register.String()
			}
			out = append(out, r)
		}
	}
	return out
}

func groupOf(groups *coalesce.Result, function string) *coalesce.Group {
	if groups == nil {
		return nil
	}
	return groups.GroupOf(function)
}

func lookupFast(fast *fastmem.Result, s *frame.Slot) (*fastmem.Placement, bool) {
	if fast == nil {
		return nil, false
	}
	return fast.Lookup(s)
}
