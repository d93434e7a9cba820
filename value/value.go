// Package value holds the runtime values of shell variables.
package value

import (
	"slices"
	"strconv"

	"github.com/elliotchance/orderedmap/v3"
)

type Kind uint8

const (
	KindUndef Kind = iota
	KindStr
	KindArray
	KindAssoc
	KindInt
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindUndef:
		return "Undef"
	case KindStr:
		return "Str"
	case KindArray:
		return "BashArray"
	case KindAssoc:
		return "BashAssoc"
	case KindInt:
		return "Int"
	case KindBool:
		return "Bool"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is one of Undef, Str, *Array, *Assoc, Int or Bool.
type Value interface {
	Kind() Kind
}

type (
	Undef struct{}
	Str   string
	Int   int64
	Bool  bool
)

func (Undef) Kind() Kind { return KindUndef }
func (Str) Kind() Kind   { return KindStr }
func (Int) Kind() Kind   { return KindInt }
func (Bool) Kind() Kind  { return KindBool }

// IsUndef reports whether v is nil or Undef.
func IsUndef(v Value) bool {
	return v == nil || v.Kind() == KindUndef
}

// Array is a sparse indexed array.  Holes (unset indices) are nil and are
// distinct from empty strings.  Trailing holes are never stored.
type Array struct {
	elems []*string
}

func (*Array) Kind() Kind { return KindArray }

func NewArray(strs ...string) *Array {
	a := &Array{elems: make([]*string, len(strs))}
	for i := range strs {
		s := strs[i]
		a.elems[i] = &s
	}
	return a
}

// Len is the number of set elements, the value of ${#a[@]}.
func (a *Array) Len() int {
	n := 0
	for _, p := range a.elems {
		if p != nil {
			n++
		}
	}
	return n
}

// MaxIndex is one past the largest set index.
func (a *Array) MaxIndex() int {
	return len(a.elems)
}

// resolve maps a possibly negative index to a position in elems.
func (a *Array) resolve(i int) (int, bool) {
	if i < 0 {
		i += len(a.elems)
		if i < 0 {
			return 0, false
		}
	}
	return i, true
}

// Get returns the element at index i.  Negative indices count back from
// MaxIndex.
func (a *Array) Get(i int) (string, bool) {
	i, ok := a.resolve(i)
	if !ok || i >= len(a.elems) || a.elems[i] == nil {
		return "", false
	}
	return *a.elems[i], true
}

// Set stores s at index i, growing the array with holes as needed.  It fails
// only for a negative index before the start of the array.
func (a *Array) Set(i int, s string) bool {
	i, ok := a.resolve(i)
	if !ok {
		return false
	}
	for len(a.elems) <= i {
		a.elems = append(a.elems, nil)
	}
	a.elems[i] = &s
	return true
}

func (a *Array) Append(strs ...string) {
	for i := range strs {
		s := strs[i]
		a.elems = append(a.elems, &s)
	}
}

// Unset removes the element at index i.
func (a *Array) Unset(i int) bool {
	i, ok := a.resolve(i)
	if !ok || i >= len(a.elems) {
		return false
	}
	a.elems[i] = nil
	for n := len(a.elems); n > 0 && a.elems[n-1] == nil; n-- {
		a.elems = a.elems[:n-1]
	}
	return true
}

// Values returns the set elements in index order.
func (a *Array) Values() []string {
	out := make([]string, 0, len(a.elems))
	for _, p := range a.elems {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// Indices returns the set indices in order.
func (a *Array) Indices() []int {
	out := make([]int, 0, len(a.elems))
	for i, p := range a.elems {
		if p != nil {
			out = append(out, i)
		}
	}
	return out
}

func (a *Array) Copy() *Array {
	b := &Array{elems: make([]*string, len(a.elems))}
	for i, p := range a.elems {
		if p != nil {
			s := *p
			b.elems[i] = &s
		}
	}
	return b
}

// Assoc is a string-keyed associative array that remembers insertion order.
type Assoc struct {
	om *orderedmap.OrderedMap[string, string]
}

func (*Assoc) Kind() Kind { return KindAssoc }

func NewAssoc() *Assoc {
	return &Assoc{om: orderedmap.NewOrderedMap[string, string]()}
}

func (a *Assoc) Get(k string) (string, bool) {
	return a.om.Get(k)
}

func (a *Assoc) Set(k, v string) {
	a.om.Set(k, v)
}

func (a *Assoc) Unset(k string) bool {
	return a.om.Delete(k)
}

func (a *Assoc) Len() int {
	return a.om.Len()
}

func (a *Assoc) Keys() []string {
	return slices.Collect(a.om.Keys())
}

func (a *Assoc) Values() []string {
	return slices.Collect(a.om.Values())
}

func (a *Assoc) Copy() *Assoc {
	b := NewAssoc()
	for k, v := range a.om.AllFromFront() {
		b.om.Set(k, v)
	}
	return b
}

// Copy returns a value that shares no mutable state with v.
func Copy(v Value) Value {
	switch v := v.(type) {
	case *Array:
		return v.Copy()
	case *Assoc:
		return v.Copy()
	}
	return v
}

// AsString is the scalar view of v used outside of array contexts: arrays
// decay to their element 0, associative arrays to the key "0".
func AsString(v Value) (string, bool) {
	switch v := v.(type) {
	case Str:
		return string(v), true
	case Int:
		return strconv.FormatInt(int64(v), 10), true
	case Bool:
		if v {
			return "true", true
		}
		return "false", true
	case *Array:
		return v.Get(0)
	case *Assoc:
		return v.Get("0")
	}
	return "", false
}

// Cell is a variable slot in a scope.  The flags survive reassignment of the
// value.
type Cell struct {
	Val      Value
	Exported bool
	ReadOnly bool
	Nameref  bool
}

func (c *Cell) Copy() *Cell {
	d := *c
	d.Val = Copy(c.Val)
	return &d
}
