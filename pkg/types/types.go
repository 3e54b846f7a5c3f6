// Package types defines the value types of the 8-bit target: bytes, words,
// booleans, 16-bit pointers and fixed-size arrays.
package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PointerSize is the size of an address on the target
const PointerSize = 2

// MaxObjectSize is the largest object a 16-bit address space can hold
const MaxObjectSize = 0xFFFF

// ErrBadType is returned by Parse for malformed type strings
var ErrBadType = errors.New("malformed type")

// Type is the interface for all target types
type Type interface {
	implType()
	String() string
}

// Signedness represents signed/unsigned for integer types
type Signedness int

const (
	Unsigned Signedness = iota
	Signed
)

func (s Signedness) String() string {
	if s == Signed {
		return "signed"
	}
	return "unsigned"
}

// IntSize represents the size of integer types
type IntSize int

const (
	I8 IntSize = iota
	I16
	IBool
)

func (s IntSize) String() string {
	names := []string{"i8", "i16", "ibool"}
	if int(s) < len(names) {
		return names[s]
	}
	return "?"
}

// Tvoid represents the void type (no return value)
type Tvoid struct{}

// Tint represents byte, word and bool
type Tint struct {
	Size IntSize
	Sign Signedness
}

// Tpointer represents a 16-bit address
type Tpointer struct {
	Elem Type
}

// Tarray represents a fixed-size buffer
type Tarray struct {
	Elem Type
	Len  int
}

// Marker methods for Type interface
func (Tvoid) implType()    {}
func (Tint) implType()     {}
func (Tpointer) implType() {}
func (Tarray) implType()   {}

func (Tvoid) String() string { return "void" }

func (t Tint) String() string {
	switch t.Size {
	case I8:
		if t.Sign == Signed {
			return "sbyte"
		}
		return "byte"
	case I16:
		if t.Sign == Signed {
			return "sword"
		}
		return "word"
	}
	return "bool"
}

func (t Tpointer) String() string {
	if t.Elem == nil {
		return "*void"
	}
	return "*" + t.Elem.String()
}

func (t Tarray) String() string {
	if t.Elem == nil {
		return fmt.Sprintf("?[%d]", t.Len)
	}
	return fmt.Sprintf("%s[%d]", t.Elem.String(), t.Len)
}

// Common type constructors

// Void returns the void type
func Void() Type {
	return Tvoid{}
}

// Byte returns an unsigned 8-bit type
func Byte() Type {
	return Tint{Size: I8, Sign: Unsigned}
}

// SByte returns a signed 8-bit type
func SByte() Type {
	return Tint{Size: I8, Sign: Signed}
}

// Word returns an unsigned 16-bit type
func Word() Type {
	return Tint{Size: I16, Sign: Unsigned}
}

// SWord returns a signed 16-bit type
func SWord() Type {
	return Tint{Size: I16, Sign: Signed}
}

// Bool returns the boolean type
func Bool() Type {
	return Tint{Size: IBool}
}

// Pointer returns a pointer to the given type
func Pointer(elem Type) Type {
	return Tpointer{Elem: elem}
}

// Array returns an array type
func Array(elem Type, n int) Type {
	return Tarray{Elem: elem, Len: n}
}

// Sizeof returns the size of a type in bytes
func Sizeof(t Type) int {
	switch tt := t.(type) {
	case Tint:
		if tt.Size == I16 {
			return 2
		}
		return 1
	case Tpointer:
		return PointerSize
	case Tarray:
		// saturates one past MaxObjectSize so huge arrays never wrap
		elem := Sizeof(tt.Elem)
		if elem > 0 && tt.Len > MaxObjectSize/elem {
			return MaxObjectSize + 1
		}
		return elem * tt.Len
	}
	return 0
}

// IsVoid reports whether t is nil or void
func IsVoid(t Type) bool {
	if t == nil {
		return true
	}
	_, ok := t.(Tvoid)
	return ok
}

// IsAddress reports whether values of t are addresses
func IsAddress(t Type) bool {
	_, ok := t.(Tpointer)
	return ok
}

// IsScalar reports whether t fits in one or two bytes and is not an array
func IsScalar(t Type) bool {
	switch t.(type) {
	case Tint, Tpointer:
		return true
	}
	return false
}

// Equal checks if two types are equal
func Equal(a, b Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch ta := a.(type) {
	case Tvoid:
		_, ok := b.(Tvoid)
		return ok
	case Tint:
		tb, ok := b.(Tint)
		return ok && ta.Size == tb.Size && ta.Sign == tb.Sign
	case Tpointer:
		tb, ok := b.(Tpointer)
		return ok && Equal(ta.Elem, tb.Elem)
	case Tarray:
		tb, ok := b.(Tarray)
		return ok && ta.Len == tb.Len && Equal(ta.Elem, tb.Elem)
	}
	return false
}

// Parse reads the textual form of a type: "byte", "word", "*byte", "byte[16]".
// An empty string parses as void.
func Parse(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Void(), nil
	}
	if strings.HasSuffix(s, "]") {
		open := strings.LastIndex(s, "[")
		if open <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrBadType, s)
		}
		n, err := strconv.Atoi(s[open+1 : len(s)-1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: bad array length in %q", ErrBadType, s)
		}
		elem, err := Parse(s[:open])
		if err != nil {
			return nil, err
		}
		if IsVoid(elem) {
			return nil, fmt.Errorf("%w: array of void in %q", ErrBadType, s)
		}
		if n > MaxObjectSize/Sizeof(elem) {
			return nil, fmt.Errorf("%w: %q is larger than %d bytes", ErrBadType, s, MaxObjectSize)
		}
		return Array(elem, n), nil
	}
	if strings.HasPrefix(s, "*") {
		elem, err := Parse(s[1:])
		if err != nil {
			return nil, err
		}
		return Pointer(elem), nil
	}
	switch s {
	case "void":
		return Void(), nil
	case "byte", "u8", "char":
		return Byte(), nil
	case "sbyte", "i8":
		return SByte(), nil
	case "word", "u16":
		return Word(), nil
	case "sword", "i16":
		return SWord(), nil
	case "bool", "boolean":
		return Bool(), nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrBadType, s)
}
