package decl

import (
	"fmt"

	"github.com/blendsdk/blend65-sub013/pkg/diag"
	"github.com/blendsdk/blend65-sub013/pkg/types"
)

// DefaultEntry is the program-start function when Program.Entry is empty
const DefaultEntry = "main"

// Directive is a placement request attached to a slot by the front end
type Directive int

const (
	// Automatic slots are scored and placed in fast memory if it pays off
	Automatic Directive = iota
	// MustBeFast slots are placed in fast memory or the build fails
	MustBeFast
	// MustBeSlow slots never enter fast memory
	MustBeSlow
	// PreferFast slots are scored above automatic ones and warn when they fall back
	PreferFast
)

func (d Directive) String() string {
	switch d {
	case MustBeFast:
		return "fast"
	case MustBeSlow:
		return "slow"
	case PreferFast:
		return "prefer"
	}
	return "auto"
}

// ParseDirective reads the textual form used in declaration files
func ParseDirective(s string) (Directive, error) {
	switch s {
	case "", "auto", "automatic":
		return Automatic, nil
	case "fast", "zp", "must_be_fast":
		return MustBeFast, nil
	case "slow", "ram", "must_be_slow":
		return MustBeSlow, nil
	case "prefer", "prefer_fast", "zp?":
		return PreferFast, nil
	}
	return Automatic, fmt.Errorf("unknown placement directive %q", s)
}

// Stats are the access statistics computed by upstream analyses.
// Zero values mean "unknown".
type Stats struct {
	Reads     int
	Writes    int
	LoopDepth int
}

// Var is a parameter or local variable
type Var struct {
	Name      string
	Type      types.Type
	Directive Directive
	Address   *uint16 // fixed fast-memory address, MustBeFast only
	Stats     Stats
	Pos       diag.Pos
}

// Function is one typed function declaration
type Function struct {
	Module         string // empty for the root module
	Name           string
	Params         []Var
	Return         types.Type
	ReturnStats    Stats
	ReturnDir      Directive
	Locals         []Var
	Body           Stmt
	Interrupt      bool // interrupt-handler entry point
	AllowRecursion bool
	Pos            diag.Pos
}

// QualifiedName returns "module.name", or just the name in the root module
func (f *Function) QualifiedName() string {
	return Qualify(f.Module, f.Name)
}

// Qualify joins a module and a function name
func Qualify(module, name string) string {
	if module == "" {
		return name
	}
	return module + "." + name
}

// Program is the whole compilation unit seen by the allocator
type Program struct {
	Entry     string // qualified name of the program-start function
	Functions []*Function
}

// EntryName returns the configured entry or DefaultEntry
func (p *Program) EntryName() string {
	if p.Entry == "" {
		return DefaultEntry
	}
	return p.Entry
}

// Lookup finds a function by qualified name
func (p *Program) Lookup(qualified string) *Function {
	for _, f := range p.Functions {
		if f.QualifiedName() == qualified {
			return f
		}
	}
	return nil
}

// Index builds the qualified-name lookup table shared by the pipeline stages
func (p *Program) Index() map[string]*Function {
	idx := make(map[string]*Function, len(p.Functions))
	for _, f := range p.Functions {
		idx[f.QualifiedName()] = f
	}
	return idx
}

// ResolveCallee maps a call-site name to a qualified name: names without a
// module prefix are looked up in the caller's module first, then the root.
func ResolveCallee(idx map[string]*Function, caller *Function, callee string) (string, bool) {
	if caller.Module != "" {
		if q := Qualify(caller.Module, callee); idx[q] != nil {
			return q, true
		}
	}
	if idx[callee] != nil {
		return callee, true
	}
	return callee, false
}
