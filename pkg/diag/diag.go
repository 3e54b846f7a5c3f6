// Package diag holds the structured diagnostics produced by the frame
// allocation pipeline. A diagnostic carries enough data (function and slot
// names, byte counts, cycle members) to render a precise message without
// re-running any analysis.
package diag

import (
	"fmt"
	"sort"
	"strings"
)

// Severity orders diagnostics from fatal to informational.
type Severity int

const (
	// Error is fatal: the pipeline stops after the stage that raised it.
	Error Severity = iota
	// Warning is recoverable: allocation succeeds with degraded output.
	Warning
	// Info records a decision the user may want to know about.
	Info
)

func (s Severity) String() string {
	switch s {
	case Error:
		return "error"
	case Warning:
		return "warning"
	}
	return "info"
}

// Code identifies the diagnostic category.
type Code string

const (
	// Structural input errors
	CodeDuplicateFunction  Code = "DUPLICATE_FUNCTION"
	CodeUndeclaredFunction Code = "UNDECLARED_FUNCTION"
	CodeMissingEntry       Code = "MISSING_ENTRY"
	CodeInvalidSlot        Code = "INVALID_SLOT"

	// Call graph and context analysis
	CodeRecursionSelf    Code = "RECURSION_SELF"
	CodeRecursionMutual  Code = "RECURSION_MUTUAL"
	CodeRecursionAllowed Code = "RECURSION_ALLOWED"
	CodeContextBoth      Code = "CONTEXT_BOTH"
	CodeUnreachable      Code = "FUNC_UNREACHABLE"
	CodeIndirectCall     Code = "INDIRECT_CALL"
	CodeCallDepthDeep    Code = "CALL_DEPTH_DEEP"

	// Frame sizing and coalescing
	CodeFrameLarge          Code = "FRAME_LARGE"
	CodeFrameVeryLarge      Code = "FRAME_VERY_LARGE"
	CodeFrameRegionOverflow Code = "FRAME_REGION_OVERFLOW"

	// Fast memory
	CodeFastOverflow        Code = "FASTMEM_OVERFLOW"
	CodeFastFragmented      Code = "FASTMEM_FRAGMENTED"
	CodeFastReservedAddress Code = "FASTMEM_RESERVED_ADDRESS"
	CodeFastAddressConflict Code = "FASTMEM_ADDRESS_CONFLICT"
	CodeFastFallback        Code = "FASTMEM_FALLBACK"
	CodeFastNotGuaranteed   Code = "FASTMEM_NOT_GUARANTEED"
)

// Pos is a source position attached by the front end.
type Pos struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
	Col  int    `json:"col,omitempty"`
}

// IsValid reports whether the position carries a line number.
func (p Pos) IsValid() bool {
	return p.Line > 0
}

func (p Pos) String() string {
	if !p.IsValid() {
		return ""
	}
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Col)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
}

// Diagnostic is one structured message.
type Diagnostic struct {
	Severity   Severity          `json:"-"`
	Code       Code              `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Function   string            `json:"function,omitempty"`
	Slot       string            `json:"slot,omitempty"`
	Pos        Pos               `json:"pos,omitempty"`
	Members    []string          `json:"members,omitempty"`
	Bytes      int               `json:"bytes,omitempty"`
	Shortfall  int               `json:"shortfall,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface so a fatal diagnostic can travel as an error.
func (d *Diagnostic) Error() string {
	return d.String()
}

func (d *Diagnostic) String() string {
	var b strings.Builder
	if d.Pos.IsValid() {
		b.WriteString(d.Pos.String())
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%s: %s: %s", d.Severity, d.Code, d.Message)
	return b.String()
}

// List accumulates diagnostics in emission order.
type List struct {
	items []*Diagnostic
}

// Add appends a diagnostic and returns it for further decoration.
func (l *List) Add(d *Diagnostic) *Diagnostic {
	l.items = append(l.items, d)
	return d
}

// Errorf appends an error-level diagnostic.
func (l *List) Errorf(code Code, format string, args ...any) *Diagnostic {
	return l.Add(&Diagnostic{Severity: Error, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Warnf appends a warning-level diagnostic.
func (l *List) Warnf(code Code, format string, args ...any) *Diagnostic {
	return l.Add(&Diagnostic{Severity: Warning, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Infof appends an info-level diagnostic.
func (l *List) Infof(code Code, format string, args ...any) *Diagnostic {
	return l.Add(&Diagnostic{Severity: Info, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Merge appends every diagnostic of other.
func (l *List) Merge(other *List) {
	if other == nil {
		return
	}
	l.items = append(l.items, other.items...)
}

// All returns the diagnostics in emission order.
func (l *List) All() []*Diagnostic {
	return l.items
}

// Len returns the number of diagnostics.
func (l *List) Len() int {
	return len(l.items)
}

// HasErrors reports whether any error-level diagnostic was recorded.
func (l *List) HasErrors() bool {
	for _, d := range l.items {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// Filter returns the diagnostics with the given severity.
func (l *List) Filter(sev Severity) []*Diagnostic {
	var out []*Diagnostic
	for _, d := range l.items {
		if d.Severity == sev {
			out = append(out, d)
		}
	}
	return out
}

// Errors returns the error-level diagnostics.
func (l *List) Errors() []*Diagnostic { return l.Filter(Error) }

// Warnings returns the warning-level diagnostics.
func (l *List) Warnings() []*Diagnostic { return l.Filter(Warning) }

// WithCode returns the diagnostics carrying code.
func (l *List) WithCode(code Code) []*Diagnostic {
	var out []*Diagnostic
	for _, d := range l.items {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}

// Sorted returns a copy ordered by severity, then code, function and slot.
// Emission order breaks remaining ties so output stays deterministic.
func (l *List) Sorted() []*Diagnostic {
	out := make([]*Diagnostic, len(l.items))
	copy(out, l.items)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity != b.Severity {
			return a.Severity < b.Severity
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		if a.Function != b.Function {
			return a.Function < b.Function
		}
		return a.Slot < b.Slot
	})
	return out
}
