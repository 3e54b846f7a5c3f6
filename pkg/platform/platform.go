// Package platform describes a hardware target: where fast memory and the
// general frame region live, which addresses are reserved, and the soft limits
// used for advisory diagnostics. One Config is selected when the pipeline
// starts and is read, never written, by every stage.
package platform

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownTarget is returned by Lookup for names without a built-in config
var ErrUnknownTarget = errors.New("unknown target")

// Range is a half-open address range [Start, End)
type Range struct {
	Start uint16 `json:"start"`
	End   uint16 `json:"end"`
}

// Len returns the number of addresses in the range
func (r Range) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return int(r.End) - int(r.Start)
}

// Contains reports whether addr lies inside the range
func (r Range) Contains(addr uint16) bool {
	return addr >= r.Start && addr < r.End
}

// Overlaps reports whether the two ranges share an address
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

func (r Range) String() string {
	return fmt.Sprintf("$%04X-$%04X", r.Start, r.End)
}

// Config is the immutable per-target record
type Config struct {
	Name string

	// Fast memory (zero page) and the parts of it the system owns
	FastRegion   Range
	FastReserved []Range

	// General frame region where coalescing groups are laid out
	FrameRegion Range
	// Alignment of each group start (1 = none)
	Alignment int

	// Advisory frame-size thresholds: absolute bytes and percent of FrameRegion
	LargeFrameBytes       int
	VeryLargeFrameBytes   int
	LargeFramePercent     int
	VeryLargeFramePercent int

	// Soft call-depth threshold (hardware stack holds return addresses only)
	DeepCallDepth int

	// Promote small leading parameters to A/X
	RegisterParams bool

	// Scoring caps for the fast-memory allocator
	AccessCap        int
	MaxLoopShift     int
	MaxAutoSlotBytes int
}

// FastPoolSize returns the number of fast-memory bytes not reserved
func (c Config) FastPoolSize() int {
	n := 0
	for a := int(c.FastRegion.Start); a < int(c.FastRegion.End); a++ {
		if !c.IsReserved(uint16(a)) {
			n++
		}
	}
	return n
}

// IsReserved reports whether addr is one of the system's fast-memory addresses
func (c Config) IsReserved(addr uint16) bool {
	for _, r := range c.FastReserved {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// FrameCapacity returns the size of the frame region in bytes
func (c Config) FrameCapacity() int {
	return c.FrameRegion.Len()
}

// Validate checks internal consistency
func (c Config) Validate() error {
	var problems []string
	if c.FastRegion.Len() == 0 {
		problems = append(problems, "fast region is empty")
	}
	if c.FrameRegion.Len() == 0 {
		problems = append(problems, "frame region is empty")
	}
	if c.FastRegion.Len() > 0 && c.FrameRegion.Overlaps(c.FastRegion) {
		problems = append(problems, "frame region overlaps fast region")
	}
	for _, r := range c.FastReserved {
		if r.Len() == 0 {
			problems = append(problems, fmt.Sprintf("reserved range %s is empty", r))
		}
	}
	if c.Alignment < 1 {
		problems = append(problems, "alignment must be at least 1")
	}
	if c.VeryLargeFrameBytes < c.LargeFrameBytes {
		problems = append(problems, "very-large frame threshold below large threshold")
	}
	if c.VeryLargeFramePercent < c.LargeFramePercent {
		problems = append(problems, "very-large frame percent below large percent")
	}
	if c.AccessCap < 0 || c.MaxLoopShift < 0 || c.MaxAutoSlotBytes < 0 {
		problems = append(problems, "scoring caps must not be negative")
	}
	if len(problems) > 0 {
		return &ConfigError{Target: c.Name, Problems: problems}
	}
	return nil
}

// ConfigError lists every inconsistency found in a Config
type ConfigError struct {
	Target   string
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("platform %q: %s", e.Target, strings.Join(e.Problems, "; "))
}

// defaults fills the thresholds shared by the built-in targets
func defaults(c Config) Config {
	if c.Alignment == 0 {
		c.Alignment = 1
	}
	if c.LargeFrameBytes == 0 {
		c.LargeFrameBytes = 64
	}
	if c.VeryLargeFrameBytes == 0 {
		c.VeryLargeFrameBytes = 128
	}
	if c.LargeFramePercent == 0 {
		c.LargeFramePercent = 10
	}
	if c.VeryLargeFramePercent == 0 {
		c.VeryLargeFramePercent = 25
	}
	if c.DeepCallDepth == 0 {
		c.DeepCallDepth = 16
	}
	if c.AccessCap == 0 {
		c.AccessCap = 64
	}
	if c.MaxLoopShift == 0 {
		c.MaxLoopShift = 4
	}
	if c.MaxAutoSlotBytes == 0 {
		c.MaxAutoSlotBytes = 4
	}
	return c
}

var builtins = map[string]Config{
	// C64: $02-$8F is free for programs once BASIC is banked out; $90-$FF
	// belongs to the KERNAL. $00/$01 are the CPU port.
	"c64": defaults(Config{
		Name:           "c64",
		FastRegion:     Range{Start: 0x02, End: 0x90},
		FastReserved:   []Range{{Start: 0x02, End: 0x04}, {Start: 0x6C, End: 0x70}},
		FrameRegion:    Range{Start: 0xC000, End: 0xD000},
		Alignment:      1,
		RegisterParams: true,
	}),
	"vic20": defaults(Config{
		Name:           "vic20",
		FastRegion:     Range{Start: 0x00, End: 0x90},
		FastReserved:   []Range{{Start: 0x00, End: 0x0A}, {Start: 0x2B, End: 0x3A}},
		FrameRegion:    Range{Start: 0x1C00, End: 0x1E00},
		Alignment:      1,
		RegisterParams: true,
	}),
	// Commander X16: $00/$01 bank registers, $02-$21 ABI registers r0-r15
	"x16": defaults(Config{
		Name:           "x16",
		FastRegion:     Range{Start: 0x00, End: 0x80},
		FastReserved:   []Range{{Start: 0x00, End: 0x22}},
		FrameRegion:    Range{Start: 0x0400, End: 0x0800},
		Alignment:      2,
		RegisterParams: true,
	}),
	// test: a 106-byte pool with one reserved hole, no register promotion
	"test": defaults(Config{
		Name:         "test",
		FastRegion:   Range{Start: 0x10, End: 0x7C},
		FastReserved: []Range{{Start: 0x10, End: 0x12}},
		FrameRegion:  Range{Start: 0x0200, End: 0x0400},
		Alignment:    1,
	}),
}

// DefaultTarget is the built-in used when no target is named
const DefaultTarget = "c64"

// Lookup returns a built-in target by name
func Lookup(name string) (Config, error) {
	if name == "" {
		name = DefaultTarget
	}
	c, ok := builtins[strings.ToLower(name)]
	if !ok {
		return Config{}, fmt.Errorf("%w %q (known: %s)", ErrUnknownTarget, name, strings.Join(Targets(), ", "))
	}
	c.FastReserved = append([]Range(nil), c.FastReserved...)
	return c, nil
}

// Targets lists the built-in target names
func Targets() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
