package decl

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/blendsdk/blend65-sub013/pkg/diag"
	"github.com/blendsdk/blend65-sub013/pkg/types"
)

// ErrLoad wraps every failure to read a declaration file
var ErrLoad = errors.New("cannot load declarations")

// programFile is the YAML shape of a declaration file
type programFile struct {
	Entry     string         `yaml:"entry"`
	Functions []functionFile `yaml:"functions"`
}

type functionFile struct {
	Module         string     `yaml:"module"`
	Name           string     `yaml:"name"`
	Interrupt      bool       `yaml:"interrupt"`
	AllowRecursion bool       `yaml:"allow_recursion"`
	Line           int        `yaml:"line"`
	Params         []varFile  `yaml:"params"`
	Return         string     `yaml:"return"`
	ReturnPlace    string     `yaml:"return_place"`
	ReturnReads    int        `yaml:"return_reads"`
	ReturnWrites   int        `yaml:"return_writes"`
	Locals         []varFile  `yaml:"locals"`
	Calls          []callFile `yaml:"calls"`
}

type varFile struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Place   string `yaml:"place"`
	Address *int   `yaml:"address"`
	Reads   int    `yaml:"reads"`
	Writes  int    `yaml:"writes"`
	Loop    int    `yaml:"loop"`
	Line    int    `yaml:"line"`
}

// callFile is either a bare callee name or a mapping
type callFile struct {
	Func     string `yaml:"func"`
	Indirect bool   `yaml:"indirect"`
	AddrOf   string `yaml:"addr_of"`
	Loop     int    `yaml:"loop"`
	Line     int    `yaml:"line"`
	Col      int    `yaml:"col"`
}

// UnmarshalYAML accepts "- draw" as shorthand for "- {func: draw}"
func (c *callFile) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Func = node.Value
		return nil
	}
	type plain callFile
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = callFile(p)
	return nil
}

// LoadFile reads a YAML declaration file
func LoadFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	defer f.Close()
	return Load(f, path)
}

// Load decodes a YAML declaration stream. filename is only used in positions.
func Load(r io.Reader, filename string) (*Program, error) {
	var pf programFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		if errors.Is(err, io.EOF) {
			return &Program{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, filename, err)
	}

	prog := &Program{Entry: normName(pf.Entry)}
	for i := range pf.Functions {
		fn, err := convertFunction(&pf.Functions[i], filename)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoad, filename, err)
		}
		prog.Functions = append(prog.Functions, fn)
	}
	return prog, nil
}

func convertFunction(ff *functionFile, filename string) (*Function, error) {
	fn := &Function{
		Module:         normName(ff.Module),
		Name:           normName(ff.Name),
		Interrupt:      ff.Interrupt,
		AllowRecursion: ff.AllowRecursion,
		Pos:            diag.Pos{File: filename, Line: ff.Line},
		ReturnStats:    Stats{Reads: ff.ReturnReads, Writes: ff.ReturnWrites},
	}
	if fn.Name == "" {
		return nil, errors.New("function without a name")
	}

	ret, err := types.Parse(ff.Return)
	if err != nil {
		return nil, fmt.Errorf("function %s: return: %w", fn.QualifiedName(), err)
	}
	fn.Return = ret
	if fn.ReturnDir, err = ParseDirective(ff.ReturnPlace); err != nil {
		return nil, fmt.Errorf("function %s: return: %w", fn.QualifiedName(), err)
	}

	for _, vf := range ff.Params {
		v, err := convertVar(vf, filename)
		if err != nil {
			return nil, fmt.Errorf("function %s: param: %w", fn.QualifiedName(), err)
		}
		fn.Params = append(fn.Params, v)
	}
	for _, vf := range ff.Locals {
		v, err := convertVar(vf, filename)
		if err != nil {
			return nil, fmt.Errorf("function %s: local: %w", fn.QualifiedName(), err)
		}
		fn.Locals = append(fn.Locals, v)
	}

	var body []Stmt
	for _, cf := range ff.Calls {
		pos := diag.Pos{File: filename, Line: cf.Line, Col: cf.Col}
		var x Expr
		switch {
		case cf.Indirect:
			x = Ecallind{Target: Evar{Name: "__target"}, Pos: pos}
		case cf.AddrOf != "":
			x = Eaddrof{Func: normName(cf.AddrOf), Pos: pos}
		case cf.Func != "":
			x = Ecall{Func: normName(cf.Func), Pos: pos}
		default:
			return nil, fmt.Errorf("function %s: call entry without func, indirect or addr_of", fn.QualifiedName())
		}
		var s Stmt = Sexpr{X: x}
		for d := 0; d < cf.Loop; d++ {
			s = Swhile{Body: s}
		}
		body = append(body, s)
	}
	fn.Body = Sblock{Body: body}
	return fn, nil
}

func convertVar(vf varFile, filename string) (Var, error) {
	v := Var{
		Name:  normName(vf.Name),
		Stats: Stats{Reads: vf.Reads, Writes: vf.Writes, LoopDepth: vf.Loop},
		Pos:   diag.Pos{File: filename, Line: vf.Line},
	}
	if v.Name == "" {
		return v, errors.New("variable without a name")
	}
	t, err := types.Parse(vf.Type)
	if err != nil {
		return v, fmt.Errorf("%s: %w", v.Name, err)
	}
	v.Type = t
	if v.Directive, err = ParseDirective(vf.Place); err != nil {
		return v, fmt.Errorf("%s: %w", v.Name, err)
	}
	if vf.Address != nil {
		if *vf.Address < 0 || *vf.Address > 0xFFFF {
			return v, fmt.Errorf("%s: address $%X out of range", v.Name, *vf.Address)
		}
		addr := uint16(*vf.Address)
		v.Address = &addr
	}
	return v, nil
}

// normName puts identifiers in NFC so visually equal names compare equal
func normName(s string) string {
	return norm.NFC.String(s)
}
