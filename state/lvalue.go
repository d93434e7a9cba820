package state

import "mvdan.cc/sh/v3/syntax"

// ScopeMode selects which scopes a variable operation looks at.
type ScopeMode uint8

const (
	LocalOnly ScopeMode = iota
	GlobalOnly
	LocalOrGlobal
	Dynamic // Walk the scope stack from the top
)

// SetFlags change the flags of a cell alongside (or instead of) its value.
type SetFlags uint8

const (
	SetExport SetFlags = 1 << iota
	SetReadOnly
	SetNameref
	ClearExport
	ClearReadOnly
	ClearNameref
)

// LValue is the target of an assignment or unset: a Named variable, an
// Indexed array element or a Keyed associative array entry.
type LValue interface {
	VarName() string
	Position() syntax.Pos
}

type Named struct {
	Name string
	Pos  syntax.Pos
}

type Indexed struct {
	Name  string
	Index int
	Pos   syntax.Pos
}

type Keyed struct {
	Name string
	Key  string
	Pos  syntax.Pos
}

func (lv Named) VarName() string   { return lv.Name }
func (lv Indexed) VarName() string { return lv.Name }
func (lv Keyed) VarName() string   { return lv.Name }

func (lv Named) Position() syntax.Pos   { return lv.Pos }
func (lv Indexed) Position() syntax.Pos { return lv.Pos }
func (lv Keyed) Position() syntax.Pos   { return lv.Pos }
