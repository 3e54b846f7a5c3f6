// Package decl defines the typed function declarations handed to the frame
// allocator by the front end: signatures, locals with placement directives and
// access statistics, and a small statement/expression tree for each body.
// Only the parts of a body that matter for layout are kept: calls, loops and
// function addresses.
package decl

import "github.com/blendsdk/blend65-sub013/pkg/diag"

// Node is the base interface for all body nodes
type Node interface {
	implDeclNode()
}

// Expr is the interface for body expressions
type Expr interface {
	Node
	implDeclExpr()
}

// Stmt is the interface for body statements
type Stmt interface {
	Node
	implDeclStmt()
}

// --- Expressions ---

// Evar represents a reference to a parameter, local or global
type Evar struct {
	Name string
}

// Ecall represents a direct call to a named function
type Ecall struct {
	Func string
	Args []Expr
	Pos  diag.Pos
}

// Ecallind represents a call through a computed target (function pointer,
// jump table). The callee cannot be resolved statically.
type Ecallind struct {
	Target Expr
	Args   []Expr
	Pos    diag.Pos
}

// Eaddrof represents taking the address of a named function
type Eaddrof struct {
	Func string
	Pos  diag.Pos
}

// --- Statements ---

// Sskip represents an empty statement
type Sskip struct{}

// Sexpr evaluates an expression for its effect
type Sexpr struct {
	X Expr
}

// Sseq represents a sequence of two statements
type Sseq struct {
	First  Stmt
	Second Stmt
}

// Sblock represents a braced statement list
type Sblock struct {
	Body []Stmt
}

// Swhile represents any loop; its body runs at one more loop depth
type Swhile struct {
	Cond Expr
	Body Stmt
}

// --- Interface implementations ---

// Marker methods for Node interface
func (Evar) implDeclNode()     {}
func (Ecall) implDeclNode()    {}
func (Ecallind) implDeclNode() {}
func (Eaddrof) implDeclNode()  {}

func (Sskip) implDeclNode()  {}
func (Sexpr) implDeclNode()  {}
func (Sseq) implDeclNode()   {}
func (Sblock) implDeclNode() {}
func (Swhile) implDeclNode() {}

// Marker methods for Expr interface
func (Evar) implDeclExpr()     {}
func (Ecall) implDeclExpr()    {}
func (Ecallind) implDeclExpr() {}
func (Eaddrof) implDeclExpr()  {}

// Marker methods for Stmt interface
func (Sskip) implDeclStmt()  {}
func (Sexpr) implDeclStmt()  {}
func (Sseq) implDeclStmt()   {}
func (Sblock) implDeclStmt() {}
func (Swhile) implDeclStmt() {}

// Seq creates a sequence of statements, flattening Sskip
func Seq(stmts ...Stmt) Stmt {
	var result Stmt = Sskip{}
	for _, s := range stmts {
		if s == nil {
			continue
		}
		if _, ok := result.(Sskip); ok {
			result = s
		} else if _, ok := s.(Sskip); !ok {
			result = Sseq{First: result, Second: s}
		}
	}
	return result
}

// Call is shorthand for a call statement
func Call(fn string, args ...Expr) Stmt {
	return Sexpr{X: Ecall{Func: fn, Args: args}}
}

// Visitor is called for each node; the loop depth is the number of enclosing
// Swhile statements. Returning false skips the node's children.
type Visitor func(n Node, loopDepth int) bool

// Walk traverses a statement tree in source order.
func Walk(s Stmt, v Visitor) {
	walkStmt(s, 0, v)
}

func walkStmt(s Stmt, depth int, v Visitor) {
	if s == nil || !v(s, depth) {
		return
	}
	switch st := s.(type) {
	case Sexpr:
		walkExpr(st.X, depth, v)
	case Sseq:
		walkStmt(st.First, depth, v)
		walkStmt(st.Second, depth, v)
	case Sblock:
		for _, b := range st.Body {
			walkStmt(b, depth, v)
		}
	case Swhile:
		walkExpr(st.Cond, depth+1, v)
		walkStmt(st.Body, depth+1, v)
	}
}

func walkExpr(e Expr, depth int, v Visitor) {
	if e == nil || !v(e, depth) {
		return
	}
	switch ex := e.(type) {
	case Ecall:
		for _, a := range ex.Args {
			walkExpr(a, depth, v)
		}
	case Ecallind:
		walkExpr(ex.Target, depth, v)
		for _, a := range ex.Args {
			walkExpr(a, depth, v)
		}
	}
}
