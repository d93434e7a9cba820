package builtin

import (
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"strings"

	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/value"
	"mvdan.cc/sh/v3/syntax"
)

// Pair is one operand of an assignment builtin.  A nil Val declares the
// variable or changes its flags without assigning.
type Pair struct {
	Name   string
	LV     state.LValue // Named{Name} when nil
	Val    value.Value
	Append bool
	Pos    syntax.Pos
}

// DeclFlags are the flags of declare and its relatives.  Flags given with
// ‘+’ instead of ‘-’ clear the attribute.
type DeclFlags struct {
	Array, Assoc        bool
	Export, ReadOnly    bool
	Nameref, Global     bool
	Print               bool
	Funcs, FuncNames    bool
	UnExport, UnNameref bool
}

// ParseDeclFlags splits the leading flags off the arguments of an
// assignment builtin.
func ParseDeclFlags(args []string) (DeclFlags, []string, error) {
	var f DeclFlags
	for len(args) > 0 {
		a := args[0]
		if a == "--" {
			return f, args[1:], nil
		}
		if len(a) < 2 || (a[0] != '-' && a[0] != '+') {
			break
		}
		on := a[0] == '-'
		for _, c := range a[1:] {
			switch c {
			case 'a':
				f.Array = true
			case 'A':
				f.Assoc = true
			case 'x':
				f.Export, f.UnExport = on, !on
			case 'r':
				if !on {
					return f, nil, fmt.Errorf("‘+r’: can't remove the readonly attribute")
				}
				f.ReadOnly = true
			case 'n':
				f.Nameref, f.UnNameref = on, !on
			case 'g':
				f.Global = true
			case 'p':
				f.Print = true
			case 'f':
				f.Funcs = true
			case 'F':
				f.Funcs, f.FuncNames = true, true
			case 'i', 'l', 'u', 't':
			default:
				return f, nil, fmt.Errorf("invalid option ‘%c’", c)
			}
		}
		args = args[1:]
	}
	return f, args, nil
}

func (f DeclFlags) setFlags(builtin string) state.SetFlags {
	var flags state.SetFlags
	if f.Export || builtin == "export" && !f.UnExport {
		flags |= state.SetExport
	}
	if f.ReadOnly || builtin == "readonly" {
		flags |= state.SetReadOnly
	}
	if f.Nameref {
		flags |= state.SetNameref
	}
	if f.UnExport {
		flags |= state.ClearExport
	}
	if f.UnNameref {
		flags |= state.ClearNameref
	}
	return flags
}

// declareArgs runs an assignment builtin whose operands were not parsed as
// assignments, as in ‘command export x=1’ or ‘eval "local $v"’.
func declareArgs(sh Shell, cmd *exec.Cmd) uint8 {
	f, args, err := ParseDeclFlags(cmd.Args[1:])
	if err != nil {
		return usage(cmd, "%s", err)
	}

	pairs := make([]Pair, 0, len(args))
	for _, a := range args {
		name, rhs, hasValue := strings.Cut(a, "=")
		p := Pair{Name: name}
		if hasValue {
			if n, ok := strings.CutSuffix(name, "+"); ok {
				p.Name, p.Append = n, true
			}
			p.Val = value.Str(rhs)
			if f.Array && !strings.Contains(p.Name, "[") {
				p.Val = value.NewArray(rhs)
			}
		}
		if strings.Contains(p.Name, "[") {
			lv, err := sh.Expander().ParseLValue(p.Name, syntax.Pos{})
			if err != nil {
				return failure(cmd, err)
			}
			p.LV, p.Name = lv, lv.VarName()
		} else if !syntax.ValidName(p.Name) {
			return usage(cmd, "‘%s’: not a valid identifier", a)
		}
		pairs = append(pairs, p)
	}
	return runAssign(sh, cmd, f, pairs)
}

// RunAssign runs the assignment builtin named by cmd.Args[0] on pairs that
// the evaluator has already expanded.  cmd.Args holds only the flags.
func RunAssign(sh Shell, cmd *exec.Cmd, pairs []Pair) uint8 {
	f, rest, err := ParseDeclFlags(cmd.Args[1:])
	if err != nil {
		return usage(cmd, "%s", err)
	}
	if len(rest) > 0 {
		return usage(cmd, "unexpected argument ‘%s’", rest[0])
	}
	return runAssign(sh, cmd, f, pairs)
}

func runAssign(sh Shell, cmd *exec.Cmd, f DeclFlags, pairs []Pair) uint8 {
	name := cmd.Args[0]
	mem := sh.Mem()

	if name == "export" && f.Nameref {
		f.Nameref, f.UnExport = false, true
	}
	if name == "local" && mem.CallDepth() == 0 {
		errorf(cmd, "can only be used in a function")
		return 1
	}
	if f.Funcs {
		return declareFuncs(sh, cmd, f, pairs)
	}
	if f.Print || len(pairs) == 0 {
		return printDecls(sh, cmd, name, f, pairs)
	}

	var mode state.ScopeMode
	switch {
	case name == "export" || name == "readonly":
		mode = mem.WriteScope()
	case f.Global:
		mode = state.GlobalOnly
	default:
		mode = state.LocalOnly
	}
	flags := f.setFlags(name)

	for _, p := range pairs {
		lv := p.LV
		if lv == nil {
			lv = state.Named{Name: p.Name, Pos: p.Pos}
		}

		var err error
		switch {
		case p.Append:
			if err = mem.Append(lv, p.Val, mode); err == nil && flags != 0 {
				err = mem.SetValue(state.Named{Name: p.Name, Pos: p.Pos}, nil, mode, flags)
			}
		default:
			err = mem.SetValue(lv, reconcile(cmd, mem, p, f, mode), mode, flags)
		}
		if err != nil {
			return sh.Abort(err)
		}
		if p.Name == "PATH" {
			sh.SearchPath().Reset()
		}
	}
	return 0
}

// reconcile applies ‘-a’ and ‘-A’ to the value being assigned.  Without a
// value, a variable of the right kind keeps its contents and anything else
// becomes empty.
func reconcile(cmd *exec.Cmd, mem *state.Mem, p Pair, f DeclFlags, mode state.ScopeMode) value.Value {
	if _, ok := p.LV.(state.Named); p.LV != nil && !ok {
		return p.Val
	}
	old := mem.GetValue(p.Name, mode)

	switch {
	case f.Assoc:
		empty := p.Val == nil
		switch v := p.Val.(type) {
		case nil:
			if _, ok := old.(*value.Assoc); ok {
				return nil
			}
		case *value.Array:
			empty = v.Len() == 0
		}
		if !empty {
			break
		}
		if a, ok := old.(*value.Array); ok && a.Len() > 0 {
			errorf(cmd, "%s: cannot convert indexed to associative array", p.Name)
		}
		return value.NewAssoc()
	case f.Array:
		switch v := p.Val.(type) {
		case nil:
			if _, ok := old.(*value.Array); ok {
				return nil
			}
			return value.NewArray()
		case value.Str:
			return value.NewArray(string(v))
		}
	}
	return p.Val
}

func printDecls(sh Shell, cmd *exec.Cmd, builtin string, f DeclFlags, pairs []Pair) uint8 {
	ev := sh.Expander()
	if len(pairs) > 0 {
		var status uint8
		for _, p := range pairs {
			line := ev.DeclareLine(p.Name)
			if line == "" {
				errorf(cmd, "‘%s’: not found", p.Name)
				status = 1
				continue
			}
			fmt.Fprintln(cmd.Stdout, line)
		}
		return status
	}

	mem := sh.Mem()
	cells := mem.GetAllCells(mem.ReadScope())
	for _, name := range slices.Sorted(maps.Keys(cells)) {
		c := cells[name]
		switch {
		case (f.Export || builtin == "export") && !c.Exported:
			continue
		case (f.ReadOnly || builtin == "readonly") && !c.ReadOnly:
			continue
		case f.Nameref && !c.Nameref:
			continue
		}
		if _, ok := c.Val.(*value.Array); f.Array && !ok {
			continue
		}
		if _, ok := c.Val.(*value.Assoc); f.Assoc && !ok {
			continue
		}
		fmt.Fprintln(cmd.Stdout, ev.DeclareLine(name))
	}
	return 0
}

func declareFuncs(sh Shell, cmd *exec.Cmd, f DeclFlags, pairs []Pair) uint8 {
	var status uint8
	for _, p := range pairs {
		if !sh.HasFunc(p.Name) {
			status = 1
			continue
		}
		if f.FuncNames {
			fmt.Fprintf(cmd.Stdout, "declare -f %s\n", p.Name)
		}
	}
	return status
}
