// Package state holds the mutable interpreter state that is not tied to
// processes: variables with their scopes and the shell options.
package state

import (
	"maps"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/pkg/stringsx"
	"git.sr.ht/~mango/osh/value"
	"mvdan.cc/sh/v3/syntax"
)

const maxNamerefDepth = 100

type scope map[string]*value.Cell

type argFrame struct {
	argv    []string
	shifted int
}

func (f *argFrame) args() []string {
	return f.argv[f.shifted:]
}

type callFrame struct {
	funcName string
	source   string
	argv     bool // Whether an argument frame was pushed
}

// Mem is the variable store.  Scope 0 holds the globals; function calls and
// temporary bindings push further scopes.
type Mem struct {
	opts *Options

	dollar0 string
	scopes  []scope
	args    []argFrame
	calls   []callFrame

	lastStatus       int
	pipeStatus       []int
	processSubStatus []int
	matches          []string

	LastBgPid int
	LastArg   string
	LineNo    int

	rootPid int
	pwd     string
	rng     *rand.Rand
}

// NewMem returns a store initialized with the shell defaults and the
// variables of environ, which are marked exported.
func NewMem(dollar0 string, argv []string, environ []string, opts *Options) *Mem {
	m := &Mem{
		opts:      opts,
		dollar0:   dollar0,
		scopes:    []scope{make(scope, 64)},
		args:      []argFrame{{argv: argv}},
		LastBgPid: -1,
		rootPid:   os.Getpid(),
	}
	seed := uint64(m.rootPid)
	m.rng = rand.New(rand.NewPCG(seed, seed<<32|seed))

	m.setGlobal("IFS", stringsx.DefaultIFS)
	m.setGlobal("UID", strconv.Itoa(os.Getuid()))
	m.setGlobal("EUID", strconv.Itoa(os.Geteuid()))
	m.setGlobal("PPID", strconv.Itoa(os.Getppid()))
	if host, err := os.Hostname(); err == nil {
		m.setGlobal("HOSTNAME", host)
	}
	m.setGlobal("OSTYPE", runtime.GOOS)
	m.setGlobal("OPTIND", "1")
	m.setGlobal("PS4", "+ ")

	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !syntax.ValidName(k) {
			continue
		}
		m.scopes[0][k] = &value.Cell{Val: value.Str(v), Exported: true}
	}

	pwd, _ := m.GetValue("PWD", GlobalOnly).(value.Str)
	if !filepath.IsAbs(string(pwd)) {
		if wd, err := os.Getwd(); err == nil {
			pwd = value.Str(wd)
		}
		m.setGlobal("PWD", string(pwd))
	}
	m.scopes[0]["PWD"].Exported = true
	m.pwd = string(pwd)

	if value.IsUndef(m.GetValue("PATH", GlobalOnly)) {
		m.setGlobal("PATH", "/bin:/usr/bin")
	}
	return m
}

func (m *Mem) setGlobal(name, s string) {
	if c, ok := m.scopes[0][name]; ok {
		c.Val = value.Str(s)
		return
	}
	m.scopes[0][name] = &value.Cell{Val: value.Str(s)}
}

// Options returns the option set the store consults for dynamic_scope,
// allexport and $-.
func (m *Mem) Options() *Options {
	return m.opts
}

// Pwd is the shell's logical working directory.
func (m *Mem) Pwd() string {
	return m.pwd
}

func (m *Mem) SetPwd(dir string) {
	m.pwd = dir
}

func (m *Mem) effective(mode ScopeMode) ScopeMode {
	if mode == Dynamic && !m.opts.Get(DynamicScope) {
		return LocalOrGlobal
	}
	return mode
}

// ReadScope and WriteScope are the modes used by ordinary variable references
// and ordinary assignments.
func (m *Mem) ReadScope() ScopeMode {
	return m.effective(Dynamic)
}

func (m *Mem) WriteScope() ScopeMode {
	if m.opts.Get(DynamicScope) {
		return Dynamic
	}
	return LocalOnly
}

// resolveName finds the cell for name without following namerefs.  It also
// returns the scope a new cell should go in when none was found.
func (m *Mem) resolveName(name string, mode ScopeMode) (*value.Cell, scope) {
	top := m.scopes[len(m.scopes)-1]
	global := m.scopes[0]

	switch m.effective(mode) {
	case Dynamic:
		for i := len(m.scopes) - 1; i >= 0; i-- {
			if c, ok := m.scopes[i][name]; ok {
				return c, m.scopes[i]
			}
		}
		return nil, global
	case LocalOnly:
		return top[name], top
	case GlobalOnly:
		return global[name], global
	default:
		if c, ok := top[name]; ok {
			return c, top
		}
		return global[name], global
	}
}

// resolveRef is like resolveName but follows namerefs.  The returned name is
// the name of the cell finally reached.
func (m *Mem) resolveRef(name string, mode ScopeMode, pos syntax.Pos) (*value.Cell, scope, string, error) {
	trail := []string{name}
	for {
		c, sc := m.resolveName(name, mode)
		if c == nil || !c.Nameref {
			return c, sc, name, nil
		}
		s, ok := c.Val.(value.Str)
		if !ok || !syntax.ValidName(string(s)) {
			return c, sc, name, nil
		}
		name = string(s)
		if slices.Contains(trail, name) || len(trail) > maxNamerefDepth {
			trail = append(trail, name)
			return nil, nil, "", errors.Die(pos, "Circular nameref %s",
				strings.Join(trail, " -> "))
		}
		trail = append(trail, name)
		mode = Dynamic
	}
}

// GetValue returns the value of name, or Undef.  A handful of names are
// computed on every read.
func (m *Mem) GetValue(name string, mode ScopeMode) value.Value {
	switch name {
	case "PIPESTATUS":
		return intArray(m.pipeStatus)
	case "BASH_REMATCH":
		return value.NewArray(m.matches...)
	case "FUNCNAME":
		return value.NewArray(m.FuncNames()...)
	case "LINENO":
		return value.Str(strconv.Itoa(m.LineNo))
	case "RANDOM":
		return value.Str(strconv.Itoa(m.rng.IntN(32768)))
	case "BASHPID":
		return value.Str(strconv.Itoa(os.Getpid()))
	case "_":
		return value.Str(m.LastArg)
	}

	c, _, _, err := m.resolveRef(name, mode, syntax.Pos{})
	if err != nil || c == nil || c.Val == nil {
		return value.Undef{}
	}
	return c.Val
}

func intArray(xs []int) *value.Array {
	strs := make([]string, len(xs))
	for i, x := range xs {
		strs[i] = strconv.Itoa(x)
	}
	return value.NewArray(strs...)
}

// GetCell returns the cell bound to name without following namerefs, or nil.
func (m *Mem) GetCell(name string, mode ScopeMode) *value.Cell {
	c, _ := m.resolveName(name, mode)
	return c
}

// GetAllCells returns the cells visible in the scopes mode selects.  With
// Dynamic, inner bindings hide outer ones.
func (m *Mem) GetAllCells(mode ScopeMode) map[string]*value.Cell {
	var scopes []scope
	switch m.effective(mode) {
	case Dynamic:
		scopes = m.scopes
	case LocalOnly:
		scopes = m.scopes[len(m.scopes)-1:]
	case GlobalOnly:
		scopes = m.scopes[:1]
	default:
		scopes = []scope{m.scopes[0]}
		if len(m.scopes) > 1 {
			scopes = append(scopes, m.scopes[len(m.scopes)-1])
		}
	}

	cells := make(map[string]*value.Cell)
	for _, sc := range scopes {
		maps.Copy(cells, sc)
	}
	return cells
}

// IsAssoc reports whether name holds an associative array, which decides
// whether a subscript is a string key or an arithmetic index.
func (m *Mem) IsAssoc(name string) bool {
	_, ok := m.GetValue(name, m.ReadScope()).(*value.Assoc)
	return ok
}

// SetValue assigns val to lval.  A nil val changes only the flags, as in
// ‘export x’ or ‘readonly x’.
func (m *Mem) SetValue(lv LValue, val value.Value, mode ScopeMode, flags SetFlags) error {
	switch lv := lv.(type) {
	case Named:
		return m.setNamed(lv, val, mode, flags)
	case Indexed:
		return m.setIndexed(lv, val, mode, flags)
	case Keyed:
		return m.setKeyed(lv, val, mode, flags)
	}
	panic("unreachable")
}

func (m *Mem) setNamed(lv Named, val value.Value, mode ScopeMode, flags SetFlags) error {
	var (
		c    *value.Cell
		sc   scope
		name = lv.Name
	)
	if flags&(SetNameref|ClearNameref) != 0 {
		c, sc = m.resolveName(name, mode)
	} else {
		var err error
		if c, sc, name, err = m.resolveRef(name, mode, lv.Pos); err != nil {
			return err
		}
	}

	if c != nil {
		if flags&ClearExport != 0 {
			c.Exported = false
		}
		if flags&ClearReadOnly != 0 {
			c.ReadOnly = false
		}
		if flags&ClearNameref != 0 {
			c.Nameref = false
		}
		if val != nil {
			if c.ReadOnly {
				return errors.Die(lv.Pos, "Can't assign to readonly value ‘%s’", name)
			}
			c.Val = val
		}
		c.Exported = c.Exported || flags&SetExport != 0
		c.ReadOnly = c.ReadOnly || flags&SetReadOnly != 0
		c.Nameref = c.Nameref || flags&SetNameref != 0
	} else {
		if val == nil {
			val = value.Undef{}
		}
		c = &value.Cell{
			Val:      val,
			Exported: flags&SetExport != 0,
			ReadOnly: flags&SetReadOnly != 0,
			Nameref:  flags&SetNameref != 0,
		}
		sc[name] = c
	}

	if _, ok := c.Val.(value.Str); ok && m.opts.Get(AllExport) {
		c.Exported = true
	}
	if c.Nameref {
		switch c.Val.(type) {
		case value.Undef, value.Str:
		default:
			return errors.Die(lv.Pos, "nameref must be a string")
		}
		if _, _, _, err := m.resolveRef(lv.Name, mode, lv.Pos); err != nil {
			return err
		}
	}
	if name == "RANDOM" {
		if s, ok := c.Val.(value.Str); ok {
			n, _ := strconv.ParseUint(string(s), 10, 64)
			m.rng = rand.New(rand.NewPCG(n, n))
		}
	}
	return nil
}

func asElement(lv LValue, val value.Value) (string, error) {
	s, ok := val.(value.Str)
	if !ok {
		return "", errors.Die(lv.Position(),
			"Can't assign a %s to an element of ‘%s’", val.Kind(), lv.VarName())
	}
	return string(s), nil
}

func (m *Mem) setIndexed(lv Indexed, val value.Value, mode ScopeMode, flags SetFlags) error {
	s, err := asElement(lv, val)
	if err != nil {
		return err
	}
	c, sc, name, err := m.resolveRef(lv.Name, mode, lv.Pos)
	if err != nil {
		return err
	}

	if c == nil || value.IsUndef(c.Val) {
		a := value.NewArray()
		if !a.Set(lv.Index, s) {
			return errors.Die(lv.Pos, "Index %d is out of bounds", lv.Index)
		}
		if c == nil {
			c = &value.Cell{}
			sc[name] = c
		}
		c.Val = a
		c.ReadOnly = c.ReadOnly || flags&SetReadOnly != 0
		return nil
	}
	if c.ReadOnly {
		return errors.Die(lv.Pos, "Can't assign to readonly array ‘%s’", name)
	}

	switch v := c.Val.(type) {
	case *value.Array:
		if !v.Set(lv.Index, s) {
			return errors.Die(lv.Pos, "Index %d is out of bounds for array of length %d",
				lv.Index, v.MaxIndex())
		}
	case *value.Assoc:
		v.Set(strconv.Itoa(lv.Index), s)
	case value.Str:
		return errors.Die(lv.Pos, "Can't assign to items in a string")
	default:
		return errors.Die(lv.Pos, "Value of type %s can't be indexed", v.Kind())
	}
	return nil
}

func (m *Mem) setKeyed(lv Keyed, val value.Value, mode ScopeMode, flags SetFlags) error {
	s, err := asElement(lv, val)
	if err != nil {
		return err
	}
	c, sc, name, err := m.resolveRef(lv.Name, mode, lv.Pos)
	if err != nil {
		return err
	}

	if c == nil || value.IsUndef(c.Val) {
		a := value.NewAssoc()
		a.Set(lv.Key, s)
		if c == nil {
			c = &value.Cell{}
			sc[name] = c
		}
		c.Val = a
		c.ReadOnly = c.ReadOnly || flags&SetReadOnly != 0
		return nil
	}
	if c.ReadOnly {
		return errors.Die(lv.Pos, "Can't assign to readonly associative array ‘%s’", name)
	}

	switch v := c.Val.(type) {
	case *value.Assoc:
		v.Set(lv.Key, s)
	case *value.Array:
		return errors.Die(lv.Pos, "Can't use string key ‘%s’ with indexed array ‘%s’",
			lv.Key, name)
	default:
		return errors.Die(lv.Pos, "Value of type %s can't be indexed", v.Kind())
	}
	return nil
}

// Append implements ‘+=’.  Strings concatenate and arrays gain elements;
// mixing a string with an array is an error.
func (m *Mem) Append(lv LValue, val value.Value, mode ScopeMode) error {
	old := m.GetValue(lv.VarName(), mode)

	switch lv := lv.(type) {
	case Indexed:
		var prev string
		switch v := old.(type) {
		case *value.Array:
			prev, _ = v.Get(lv.Index)
		case *value.Assoc:
			prev, _ = v.Get(strconv.Itoa(lv.Index))
		}
		s, err := asElement(lv, val)
		if err != nil {
			return err
		}
		return m.SetValue(lv, value.Str(prev+s), mode, 0)
	case Keyed:
		var prev string
		if a, ok := old.(*value.Assoc); ok {
			prev, _ = a.Get(lv.Key)
		}
		s, err := asElement(lv, val)
		if err != nil {
			return err
		}
		return m.SetValue(lv, value.Str(prev+s), mode, 0)
	}

	pos := lv.Position()
	switch o := old.(type) {
	case value.Undef:
		return m.SetValue(lv, val, mode, 0)
	case value.Str:
		s, ok := val.(value.Str)
		if !ok {
			return errors.Die(pos, "Can't append an array to string ‘%s’", lv.VarName())
		}
		return m.SetValue(lv, o+s, mode, 0)
	case *value.Array:
		rhs, ok := val.(*value.Array)
		if !ok {
			return errors.Die(pos, "Can't append a string to array ‘%s’", lv.VarName())
		}
		a := o.Copy()
		a.Append(rhs.Values()...)
		return m.SetValue(lv, a, mode, 0)
	case *value.Assoc:
		rhs, ok := val.(*value.Assoc)
		if !ok {
			return errors.Die(pos, "Can't append to associative array ‘%s’ without keys",
				lv.VarName())
		}
		a := o.Copy()
		for _, k := range rhs.Keys() {
			v, _ := rhs.Get(k)
			a.Set(k, v)
		}
		return m.SetValue(lv, a, mode, 0)
	}
	return errors.Die(pos, "Can't append to value of type %s", old.Kind())
}

// Unset removes lval.  It reports whether a binding was found so that the
// unset builtin can fall back to functions.
func (m *Mem) Unset(lv LValue, mode ScopeMode) (bool, error) {
	c, sc, name, err := m.resolveRef(lv.VarName(), mode, lv.Position())
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}
	if c.ReadOnly {
		return false, errors.Die(lv.Position(), "Can't unset readonly variable ‘%s’", name)
	}

	switch lv := lv.(type) {
	case Named:
		delete(sc, name)
	case Indexed:
		switch v := c.Val.(type) {
		case *value.Array:
			v.Unset(lv.Index)
		case *value.Assoc:
			v.Unset(strconv.Itoa(lv.Index))
		default:
			return false, errors.Die(lv.Pos, "‘%s’ isn't an array", name)
		}
	case Keyed:
		a, ok := c.Val.(*value.Assoc)
		if !ok {
			return false, errors.Die(lv.Pos, "‘%s’ isn't an associative array", name)
		}
		a.Unset(lv.Key)
	}
	return true, nil
}

// ClearFlag clears flags on an existing binding without creating one, for
// ‘export -n’.
func (m *Mem) ClearFlag(name string, flags SetFlags) bool {
	c, _ := m.resolveName(name, m.ReadScope())
	if c == nil {
		return false
	}
	if flags&ClearExport != 0 {
		c.Exported = false
	}
	if flags&ClearNameref != 0 {
		c.Nameref = false
	}
	return true
}

// Environ returns the exported string variables as NAME=value pairs.  Inner
// scopes override outer ones.
func (m *Mem) Environ() []string {
	env := make(map[string]string)
	for _, sc := range m.scopes {
		for name, c := range sc {
			if s, ok := c.Val.(value.Str); ok && c.Exported {
				env[name] = string(s)
			}
		}
	}
	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}

// VarNames returns the sorted names of every visible variable that starts
// with prefix.
func (m *Mem) VarNames(prefix string) []string {
	seen := make(map[string]struct{})
	for _, sc := range m.scopes {
		for name := range sc {
			if strings.HasPrefix(name, prefix) {
				seen[name] = struct{}{}
			}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// PushTemp opens a scope for ‘FOO=bar cmd’ bindings.
func (m *Mem) PushTemp() {
	m.scopes = append(m.scopes, make(scope))
}

func (m *Mem) PopTemp() {
	m.scopes = m.scopes[:len(m.scopes)-1]
}

// PushCall opens the scope and argument frame of a function call.
func (m *Mem) PushCall(funcName string, argv []string) {
	m.scopes = append(m.scopes, make(scope))
	m.args = append(m.args, argFrame{argv: argv})
	m.calls = append(m.calls, callFrame{funcName: funcName, argv: true})
}

func (m *Mem) PopCall() {
	f := m.calls[len(m.calls)-1]
	m.calls = m.calls[:len(m.calls)-1]
	m.scopes = m.scopes[:len(m.scopes)-1]
	if f.argv {
		m.args = m.args[:len(m.args)-1]
	}
}

// PushSource records a ‘source’ call.  The positional parameters are only
// replaced when argv is non-empty.
func (m *Mem) PushSource(name string, argv []string) {
	if len(argv) > 0 {
		m.args = append(m.args, argFrame{argv: argv})
	}
	m.calls = append(m.calls, callFrame{source: name, argv: len(argv) > 0})
}

func (m *Mem) PopSource() {
	f := m.calls[len(m.calls)-1]
	m.calls = m.calls[:len(m.calls)-1]
	if f.argv {
		m.args = m.args[:len(m.args)-1]
	}
}

// FuncNames is the value of FUNCNAME, innermost call first.
func (m *Mem) FuncNames() []string {
	var names []string
	for i := len(m.calls) - 1; i >= 0; i-- {
		if f := m.calls[i]; f.funcName != "" {
			names = append(names, f.funcName)
		} else {
			names = append(names, "source")
		}
	}
	return names
}

// CallDepth is the number of active function calls.
func (m *Mem) CallDepth() int {
	n := 0
	for _, f := range m.calls {
		if f.funcName != "" {
			n++
		}
	}
	return n
}

func (m *Mem) IsGlobalScope() bool {
	return len(m.scopes) == 1
}

func (m *Mem) Dollar0() string {
	return m.dollar0
}

func (m *Mem) SetDollar0(s string) {
	m.dollar0 = s
}

// Argv returns the positional parameters, $1 onward.
func (m *Mem) Argv() []string {
	return m.args[len(m.args)-1].args()
}

func (m *Mem) SetArgv(argv []string) {
	m.args[len(m.args)-1] = argFrame{argv: argv}
}

// Shift drops the first n positional parameters.  It fails without changing
// anything when fewer than n are set.
func (m *Mem) Shift(n int) bool {
	f := &m.args[len(m.args)-1]
	if n < 0 || f.shifted+n > len(f.argv) {
		return false
	}
	f.shifted += n
	return true
}

// ArgNum returns $n.
func (m *Mem) ArgNum(n int) value.Value {
	if n == 0 {
		return value.Str(m.dollar0)
	}
	argv := m.Argv()
	if n > len(argv) {
		return value.Undef{}
	}
	return value.Str(argv[n-1])
}

// Special returns the value of a special parameter such as $? or $#.
func (m *Mem) Special(name string) value.Value {
	switch name {
	case "?":
		return value.Str(strconv.Itoa(m.lastStatus))
	case "$":
		return value.Str(strconv.Itoa(m.rootPid))
	case "!":
		if m.LastBgPid == -1 {
			return value.Undef{}
		}
		return value.Str(strconv.Itoa(m.LastBgPid))
	case "#":
		return value.Str(strconv.Itoa(len(m.Argv())))
	case "-":
		return value.Str(m.opts.Flags())
	case "@", "*":
		return value.NewArray(m.Argv()...)
	}
	if n, err := strconv.Atoi(name); err == nil && n >= 0 {
		return m.ArgNum(n)
	}
	return value.Undef{}
}

func (m *Mem) LastStatus() int {
	return m.lastStatus
}

func (m *Mem) SetLastStatus(n int) {
	m.lastStatus = n
}

func (m *Mem) PipeStatus() []int {
	return m.pipeStatus
}

func (m *Mem) SetPipeStatus(xs []int) {
	m.pipeStatus = xs
}

// SetSimplePipeStatus sets PIPESTATUS after a command that is not a pipeline.
func (m *Mem) SetSimplePipeStatus(n int) {
	m.pipeStatus = []int{n}
}

func (m *Mem) ProcessSubStatus() []int {
	return m.processSubStatus
}

func (m *Mem) SetProcessSubStatus(xs []int) {
	m.processSubStatus = xs
}

// SetMatches records the groups of the last successful ‘=~’.
func (m *Mem) SetMatches(xs []string) {
	m.matches = xs
}

func (m *Mem) ClearMatches() {
	m.matches = nil
}

// Clone returns an independent copy for a subshell.
func (m *Mem) Clone(opts *Options) *Mem {
	c := *m
	c.opts = opts
	c.scopes = make([]scope, len(m.scopes))
	for i, sc := range m.scopes {
		c.scopes[i] = make(scope, len(sc))
		for k, v := range sc {
			c.scopes[i][k] = v.Copy()
		}
	}
	c.args = make([]argFrame, len(m.args))
	for i, f := range m.args {
		c.args[i] = argFrame{argv: slices.Clone(f.argv), shifted: f.shifted}
	}
	c.calls = slices.Clone(m.calls)
	c.pipeStatus = slices.Clone(m.pipeStatus)
	c.processSubStatus = slices.Clone(m.processSubStatus)
	c.matches = slices.Clone(m.matches)
	seed := m.rng.Uint64()
	c.rng = rand.New(rand.NewPCG(seed, seed))
	return &c
}
