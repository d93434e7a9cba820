package state

import (
	"fmt"
	"io"
	"strings"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/pkg/stack"
	"mvdan.cc/sh/v3/syntax"
)

type Option uint8

// Options settable with set -o come first, then the shopt options.
const (
	ErrExit Option = iota
	NoUnset
	PipeFail
	NoGlob
	NoClobber
	XTrace
	Verbose
	NoExec
	AllExport
	Monitor

	NullGlob
	FailGlob
	DotGlob
	NoCaseMatch
	NoCaseGlob
	ExtGlob
	LastPipe
	InheritErrExit
	DynamicScope
	SigpipeStatusOk
	StrictErrExit
	StrictArith
	StrictArray
	StrictControlFlow
	StrictArgv
	CommandSubErrExit
	ProcessSubFail

	numOptions
)

const firstShopt = NullGlob

var optionNames = [numOptions]string{
	ErrExit:           "errexit",
	NoUnset:           "nounset",
	PipeFail:          "pipefail",
	NoGlob:            "noglob",
	NoClobber:         "noclobber",
	XTrace:            "xtrace",
	Verbose:           "verbose",
	NoExec:            "noexec",
	AllExport:         "allexport",
	Monitor:           "monitor",
	NullGlob:          "nullglob",
	FailGlob:          "failglob",
	DotGlob:           "dotglob",
	NoCaseMatch:       "nocasematch",
	NoCaseGlob:        "nocaseglob",
	ExtGlob:           "extglob",
	LastPipe:          "lastpipe",
	InheritErrExit:    "inherit_errexit",
	DynamicScope:      "dynamic_scope",
	SigpipeStatusOk:   "sigpipe_status_ok",
	StrictErrExit:     "strict_errexit",
	StrictArith:       "strict_arith",
	StrictArray:       "strict_array",
	StrictControlFlow: "strict_control_flow",
	StrictArgv:        "strict_argv",
	CommandSubErrExit: "command_sub_errexit",
	ProcessSubFail:    "process_sub_fail",
}

// The letters of $- and of ‘set -e’ style flags
var shortFlags = []struct {
	c   byte
	opt Option
}{
	{'a', AllExport},
	{'e', ErrExit},
	{'f', NoGlob},
	{'m', Monitor},
	{'n', NoExec},
	{'u', NoUnset},
	{'v', Verbose},
	{'x', XTrace},
	{'C', NoClobber},
}

var strictAll = []Option{
	StrictErrExit,
	StrictArith,
	StrictArray,
	StrictControlFlow,
	StrictArgv,
}

func (o Option) String() string {
	if o < numOptions {
		return optionNames[o]
	}
	return fmt.Sprintf("Option(%d)", o)
}

// LookupSetOption returns the option for a name accepted by ‘set -o’.
func LookupSetOption(name string) (Option, bool) {
	for i := Option(0); i < firstShopt; i++ {
		if optionNames[i] == name {
			return i, true
		}
	}
	return 0, false
}

// LookupShopt returns the options named by a ‘shopt’ argument.  Groups such
// as ‘strict:all’ name several.
func LookupShopt(name string) ([]Option, bool) {
	if name == "strict:all" {
		return strictAll, true
	}
	for i := firstShopt; i < numOptions; i++ {
		if optionNames[i] == name {
			return []Option{i}, true
		}
	}
	return nil, false
}

// LookupShortFlag maps a ‘set’ flag letter to its option.
func LookupShortFlag(c byte) (Option, bool) {
	for _, f := range shortFlags {
		if f.c == c {
			return f.opt, true
		}
	}
	return 0, false
}

type Options struct {
	vals        [numOptions]bool
	Interactive bool

	// Positions of the constructs that currently suppress errexit, such as
	// an if condition or the left side of ‘&&’
	disabled    stack.Stack[syntax.Pos]
	RunningTrap bool
}

func NewOptions() *Options {
	o := &Options{disabled: stack.New[syntax.Pos](8)}
	o.vals[DynamicScope] = true
	return o
}

func (o *Options) Get(opt Option) bool {
	return o.vals[opt]
}

func (o *Options) Set(opt Option, b bool) {
	o.vals[opt] = b
}

// SetByName sets a ‘set -o’ option or a shopt option by name.
func (o *Options) SetByName(name string, b bool) error {
	if opt, ok := LookupSetOption(name); ok {
		o.Set(opt, b)
		return nil
	}
	if opts, ok := LookupShopt(name); ok {
		for _, opt := range opts {
			o.Set(opt, b)
		}
		return nil
	}
	return errors.Usage("invalid option name ‘%s’", name)
}

// Flags is the value of $-.
func (o *Options) Flags() string {
	var sb strings.Builder
	for _, f := range shortFlags {
		if o.vals[f.opt] {
			sb.WriteByte(f.c)
		}
	}
	if o.Interactive {
		sb.WriteByte('i')
	}
	return sb.String()
}

// ErrExit reports whether a failing command should abort the shell: errexit
// is set and no enclosing construct suppresses it.
func (o *Options) ErrExit() bool {
	return o.vals[ErrExit] && o.disabled.Len() == 0
}

func (o *Options) PushErrExitDisabled(pos syntax.Pos) {
	o.disabled.Push(pos)
}

func (o *Options) PopErrExitDisabled() {
	o.disabled.Pop()
}

// ErrExitDisabledPos returns the position of the innermost construct
// suppressing errexit.  Trap handlers run outside that nesting, so nothing is
// reported while one runs.
func (o *Options) ErrExitDisabledPos() (syntax.Pos, bool) {
	if o.RunningTrap {
		return syntax.Pos{}, false
	}
	if p := o.disabled.Peek(); p != nil {
		return *p, true
	}
	return syntax.Pos{}, false
}

// ShowSetOptions prints ‘set -o’ options in a form that can be re-read by the
// shell.  With no names, every option is shown.
func (o *Options) ShowSetOptions(w io.Writer, names []string) error {
	opts, err := o.resolve(names, false)
	if err != nil {
		return err
	}
	for _, opt := range opts {
		fmt.Fprintf(w, "set %so %s\n", sign(o.vals[opt], "-", "+"), opt)
	}
	return nil
}

// ShowShopts prints shopt options in a form that can be re-read by the shell.
func (o *Options) ShowShopts(w io.Writer, names []string) error {
	opts, err := o.resolve(names, true)
	if err != nil {
		return err
	}
	for _, opt := range opts {
		fmt.Fprintf(w, "shopt -%s %s\n", sign(o.vals[opt], "s", "u"), opt)
	}
	return nil
}

func (o *Options) resolve(names []string, shopt bool) ([]Option, error) {
	var opts []Option
	if len(names) == 0 {
		lo, hi := Option(0), firstShopt
		if shopt {
			lo, hi = firstShopt, numOptions
		}
		for i := lo; i < hi; i++ {
			opts = append(opts, i)
		}
		return opts, nil
	}
	for _, name := range names {
		if shopt {
			xs, ok := LookupShopt(name)
			if !ok {
				return nil, errors.Usage("invalid shell option name ‘%s’", name)
			}
			opts = append(opts, xs...)
		} else {
			x, ok := LookupSetOption(name)
			if !ok {
				return nil, errors.Usage("invalid option name ‘%s’", name)
			}
			opts = append(opts, x)
		}
	}
	return opts, nil
}

func sign(b bool, t, f string) string {
	if b {
		return t
	}
	return f
}

// Clone returns a copy for a subshell.
func (o *Options) Clone() *Options {
	c := *o
	c.disabled = o.disabled.Clone()
	return &c
}
