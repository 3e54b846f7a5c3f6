package decl

import (
	"github.com/blendsdk/blend65-sub013/pkg/diag"
	"github.com/blendsdk/blend65-sub013/pkg/types"
)

// Validate checks the structural rules the allocator relies on and reports
// violations as error diagnostics. It returns false if any were found.
func Validate(prog *Program, diags *diag.List) bool {
	ok := true
	fail := func(d *diag.Diagnostic) {
		ok = false
		d.Severity = diag.Error
		diags.Add(d)
	}

	idx := make(map[string]*Function, len(prog.Functions))
	for _, fn := range prog.Functions {
		q := fn.QualifiedName()
		if prev := idx[q]; prev != nil {
			fail(&diag.Diagnostic{
				Code:     diag.CodeDuplicateFunction,
				Message:  "function " + q + " is declared more than once",
				Function: q,
				Pos:      fn.Pos,
			})
			continue
		}
		idx[q] = fn
	}

	entry := prog.EntryName()
	if idx[entry] == nil {
		fail(&diag.Diagnostic{
			Code:       diag.CodeMissingEntry,
			Message:    "program entry " + entry + " is not declared",
			Function:   entry,
			Suggestion: "declare " + entry + " or set the program entry",
		})
	} else if idx[entry].Interrupt {
		fail(&diag.Diagnostic{
			Code:     diag.CodeInvalidSlot,
			Message:  "program entry " + entry + " cannot be an interrupt handler",
			Function: entry,
		})
	}

	for _, fn := range prog.Functions {
		q := fn.QualifiedName()
		if fn.Interrupt && (len(fn.Params) > 0 || !types.IsVoid(fn.Return)) {
			fail(&diag.Diagnostic{
				Code:     diag.CodeInvalidSlot,
				Message:  "interrupt handler " + q + " cannot take parameters or return a value",
				Function: q,
				Pos:      fn.Pos,
			})
		}

		seen := make(map[string]bool)
		check := func(v Var) {
			switch {
			case seen[v.Name]:
				fail(&diag.Diagnostic{Code: diag.CodeInvalidSlot, Function: q, Slot: v.Name, Pos: v.Pos,
					Message: "slot " + v.Name + " declared twice in " + q})
			case types.Sizeof(v.Type) == 0:
				fail(&diag.Diagnostic{Code: diag.CodeInvalidSlot, Function: q, Slot: v.Name, Pos: v.Pos,
					Message: "slot " + v.Name + " in " + q + " has no storage size"})
			case types.Sizeof(v.Type) > types.MaxObjectSize:
				fail(&diag.Diagnostic{Code: diag.CodeInvalidSlot, Function: q, Slot: v.Name, Pos: v.Pos,
					Message: "slot " + v.Name + " in " + q + " does not fit in the 16-bit address space"})
			case v.Address != nil && v.Directive != MustBeFast:
				fail(&diag.Diagnostic{Code: diag.CodeInvalidSlot, Function: q, Slot: v.Name, Pos: v.Pos,
					Message:    "slot " + v.Name + " in " + q + " names a fixed address without a fast directive",
					Suggestion: "mark the slot fast or drop the address"})
			}
			seen[v.Name] = true
		}
		for _, p := range fn.Params {
			check(p)
		}
		for _, l := range fn.Locals {
			check(l)
		}

		Walk(fn.Body, func(n Node, _ int) bool {
			var name string
			var pos diag.Pos
			switch e := n.(type) {
			case Ecall:
				name, pos = e.Func, e.Pos
			case Eaddrof:
				name, pos = e.Func, e.Pos
			default:
				return true
			}
			if _, found := ResolveCallee(idx, fn, name); !found {
				fail(&diag.Diagnostic{
					Code:     diag.CodeUndeclaredFunction,
					Message:  q + " refers to undeclared function " + name,
					Function: q,
					Pos:      pos,
					Members:  []string{name},
				})
			}
			return true
		})
	}
	return ok
}
