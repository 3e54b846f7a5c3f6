package fastmem

import (
	"github.com/blendsdk/blend65-sub013/pkg/platform"
)

// pool tracks which fast-memory addresses are still free
type pool struct {
	base uint16
	free []bool
}

func newPool(cfg platform.Config) *pool {
	p := &pool{base: cfg.FastRegion.Start, free: make([]bool, cfg.FastRegion.Len())}
	for i := range p.free {
		p.free[i] = !cfg.IsReserved(p.base + uint16(i))
	}
	return p
}

// available counts free bytes
func (p *pool) available() int {
	n := 0
	for _, f := range p.free {
		if f {
			n++
		}
	}
	return n
}

// take reserves the lowest run of size free bytes
func (p *pool) take(size int) (uint16, bool) {
	if size <= 0 {
		return 0, false
	}
	run := 0
	for i, f := range p.free {
		if !f {
			run = 0
			continue
		}
		run++
		if run == size {
			start := i - size + 1
			p.mark(start, size)
			return p.base + uint16(start), true
		}
	}
	return 0, false
}

// largestRun returns the size of the longest run of free bytes
func (p *pool) largestRun() int {
	best, run := 0, 0
	for _, f := range p.free {
		if !f {
			run = 0
			continue
		}
		run++
		best = max(best, run)
	}
	return best
}

// takeAt reserves [addr, addr+size) if every byte is free
func (p *pool) takeAt(addr uint16, size int) bool {
	start := int(addr) - int(p.base)
	if start < 0 || start+size > len(p.free) {
		return false
	}
	for i := start; i < start+size; i++ {
		if !p.free[i] {
			return false
		}
	}
	p.mark(start, size)
	return true
}

func (p *pool) mark(start, size int) {
	for i := start; i < start+size; i++ {
		p.free[i] = false
	}
}
