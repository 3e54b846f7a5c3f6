package callgraph

import (
	"slices"

	"github.com/samber/lo"
)

// NameSet is a set of qualified function names
type NameSet map[string]struct{}

// NewNameSet creates a set holding names
func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts name and reports whether it was new
func (s NameSet) Add(name string) bool {
	if _, ok := s[name]; ok {
		return false
	}
	s[name] = struct{}{}
	return true
}

// Contains reports membership
func (s NameSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Copy returns an independent copy
func (s NameSet) Copy() NameSet {
	c := make(NameSet, len(s))
	for n := range s {
		c[n] = struct{}{}
	}
	return c
}

// Union adds every member of other and reports whether s grew
func (s NameSet) Union(other NameSet) bool {
	grew := false
	for n := range other {
		if s.Add(n) {
			grew = true
		}
	}
	return grew
}

// Equal reports whether both sets hold the same names
func (s NameSet) Equal(other NameSet) bool {
	if len(s) != len(other) {
		return false
	}
	for n := range s {
		if !other.Contains(n) {
			return false
		}
	}
	return true
}

// Sorted returns the members in lexical order
func (s NameSet) Sorted() []string {
	keys := lo.Keys(s)
	slices.Sort(keys)
	return keys
}
