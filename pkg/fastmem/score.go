package fastmem

import (
	"github.com/blendsdk/blend65-sub013/pkg/decl"
	"github.com/blendsdk/blend65-sub013/pkg/frame"
	"github.com/blendsdk/blend65-sub013/pkg/platform"
	"github.com/blendsdk/blend65-sub013/pkg/types"
)

// Type weights. Pointers come first: (zp),Y addressing only works through
// fast memory.
const (
	weightAddress = 48
	weightByte    = 32
	weightWord    = 16
	weightArray   = 4
)

const (
	// MandatoryScore outranks any computed score
	MandatoryScore = 1_000_000
	// PreferBonus lifts preferred slots above automatic ones of similar use
	PreferBonus = 1_000
)

// TypeWeight returns the base weight of a slot type
func TypeWeight(t types.Type) int {
	switch tt := t.(type) {
	case types.Tpointer:
		return weightAddress
	case types.Tint:
		if tt.Size == types.I16 {
			return weightWord
		}
		return weightByte
	case types.Tarray:
		return weightArray
	}
	return 0
}

// Score returns the fast-memory priority of a slot under its own directive
func Score(s *frame.Slot, cfg platform.Config) int {
	return score(s, s.Directive, s.Stats.LoopDepth, cfg)
}

// score is (weight + capped accesses) doubled per enclosing loop, up to
// MaxLoopShift loops
func score(s *frame.Slot, dir decl.Directive, loop int, cfg platform.Config) int {
	switch dir {
	case decl.MustBeFast:
		return MandatoryScore
	case decl.MustBeSlow:
		return 0
	}
	uses := min(s.Accesses(), cfg.AccessCap)
	shift := min(max(loop, 0), cfg.MaxLoopShift)
	v := (TypeWeight(s.Type) + uses) << shift
	if dir == decl.PreferFast {
		v += PreferBonus
	}
	return v
}
