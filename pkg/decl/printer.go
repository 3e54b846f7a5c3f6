package decl

import (
	"fmt"
	"io"
	"strings"

	"github.com/blendsdk/blend65-sub013/pkg/types"
)

// Printer outputs declarations in a readable, source-like format
type Printer struct {
	w      io.Writer
	indent int
}

// NewPrinter creates a new declaration printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, indent: 0}
}

// PrintProgram prints every function of the program in declaration order
func (p *Printer) PrintProgram(prog *Program) {
	fmt.Fprintf(p.w, "entry %s;\n\n", prog.EntryName())
	for _, fn := range prog.Functions {
		p.PrintFunction(fn)
		fmt.Fprintln(p.w)
	}
}

// PrintFunction prints one declaration
// Format: [@interrupt] [@recursive] function name(params): ret { var x: t; ... body }
func (p *Printer) PrintFunction(fn *Function) {
	if fn.Interrupt {
		fmt.Fprint(p.w, "@interrupt ")
	}
	if fn.AllowRecursion {
		fmt.Fprint(p.w, "@recursive ")
	}
	fmt.Fprintf(p.w, "function %s(", fn.QualifiedName())
	for i, param := range fn.Params {
		if i > 0 {
			fmt.Fprint(p.w, ", ")
		}
		p.printVar(param)
	}
	ret := "void"
	if !types.IsVoid(fn.Return) {
		ret = fn.Return.String()
	}
	fmt.Fprintf(p.w, "): %s\n", ret)
	fmt.Fprintln(p.w, "{")
	p.indent++

	for _, v := range fn.Locals {
		p.writeIndent()
		fmt.Fprint(p.w, "var ")
		p.printVar(v)
		fmt.Fprintln(p.w, ";")
	}
	if len(fn.Locals) > 0 {
		fmt.Fprintln(p.w)
	}

	p.printStmt(fn.Body)

	p.indent--
	fmt.Fprintln(p.w, "}")
}

func (p *Printer) printVar(v Var) {
	fmt.Fprintf(p.w, "%s: %s", v.Name, v.Type)
	switch {
	case v.Address != nil:
		fmt.Fprintf(p.w, " @%s($%02X)", v.Directive, *v.Address)
	case v.Directive != Automatic:
		fmt.Fprintf(p.w, " @%s", v.Directive)
	}
}

func (p *Printer) writeIndent() {
	fmt.Fprint(p.w, strings.Repeat("  ", p.indent))
}

// printStmt prints a statement
func (p *Printer) printStmt(stmt Stmt) {
	switch s := stmt.(type) {
	case nil, Sskip:
		// Skip produces no output

	case Sexpr:
		p.writeIndent()
		p.printExpr(s.X)
		fmt.Fprintln(p.w, ";")

	case Sseq:
		p.printStmt(s.First)
		p.printStmt(s.Second)

	case Sblock:
		for _, b := range s.Body {
			p.printStmt(b)
		}

	case Swhile:
		p.writeIndent()
		fmt.Fprint(p.w, "while (")
		if s.Cond == nil {
			fmt.Fprint(p.w, "true")
		} else {
			p.printExpr(s.Cond)
		}
		fmt.Fprintln(p.w, ") {")
		p.indent++
		p.printStmt(s.Body)
		p.indent--
		p.writeIndent()
		fmt.Fprintln(p.w, "}")

	default:
		p.writeIndent()
		fmt.Fprintf(p.w, "/* unknown stmt %T */\n", stmt)
	}
}

// printExpr prints an expression
func (p *Printer) printExpr(expr Expr) {
	switch e := expr.(type) {
	case Evar:
		fmt.Fprint(p.w, e.Name)

	case Ecall:
		fmt.Fprintf(p.w, "%s(", e.Func)
		p.printArgs(e.Args)
		fmt.Fprint(p.w, ")")

	case Ecallind:
		fmt.Fprint(p.w, "(*")
		p.printExpr(e.Target)
		fmt.Fprint(p.w, ")(")
		p.printArgs(e.Args)
		fmt.Fprint(p.w, ")")

	case Eaddrof:
		fmt.Fprintf(p.w, "&%s", e.Func)

	default:
		fmt.Fprintf(p.w, "/* unknown expr %T */", expr)
	}
}

func (p *Printer) printArgs(args []Expr) {
	for i, arg := range args {
		if i > 0 {
			fmt.Fprint(p.w, ", ")
		}
		p.printExpr(arg)
	}
}
