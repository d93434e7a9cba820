// Package builtin implements the commands the shell runs itself.  A builtin
// receives its arguments and standard streams through an exec.Cmd, like an
// external program would, and reaches the interpreter through Shell.
package builtin

import (
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strconv"
	"strings"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/expand"
	"git.sr.ht/~mango/osh/process"
	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~sircmpwn/getopt"
	"mvdan.cc/sh/v3/syntax"
)

// Shell is the part of the interpreter builtins may use.
type Shell interface {
	Mem() *state.Mem
	Opts() *state.Options
	Expander() *expand.Evaluator
	Traps() *state.Traps
	Signals() *process.SignalSafe
	Waiter() *process.Waiter
	Jobs() *process.JobList
	SearchPath() *process.SearchPath
	DirStack() *DirStack

	// Parse parses src, named name in diagnostics.
	Parse(src, name string) (*syntax.File, error)
	// Eval runs src in the current shell.
	Eval(src, name string) (int, error)
	// Source runs the file at path with argv as the positional parameters
	// when argv is not empty.
	Source(path string, argv []string) (int, error)

	HasFunc(name string) bool
	UnsetFunc(name string) bool

	// RunCommand runs argv as a builtin or an external program, never as a
	// function.
	RunCommand(cmd *exec.Cmd) (int, error)
	// Exec replaces the shell with argv.  With no arguments the redirects
	// of the current command are kept for the rest of the script.
	Exec(cmd *exec.Cmd) error

	// Abort makes the command that ran the builtin fail with err once it
	// returns, and returns err's status.  Fatal errors and control flow
	// from ‘eval’ and ‘source’ travel this way.
	Abort(err error) uint8
}

// Kind is the POSIX class of a builtin.
type Kind uint8

const (
	Normal  Kind = iota
	Special      // Assignments before it persist; errors may be fatal
	Assign       // Parsed as a declaration; see RunAssign
)

// Index identifies a builtin.
type Index int

const NoIndex Index = -1

type builtin func(sh Shell, cmd *exec.Cmd) uint8

type entry struct {
	name string
	kind Kind
	fn   builtin
}

var (
	table   []entry
	byName  map[string]Index
	assigns = []string{"declare", "typeset", "local", "export", "readonly"}
)

func init() {
	table = []entry{
		{":", Special, true_},
		{".", Special, source},
		{"eval", Special, eval},
		{"exec", Special, exec_},
		{"set", Special, set},
		{"shift", Special, shift},
		{"source", Special, source},
		{"trap", Special, trap},
		{"unset", Special, unset},

		{"[", Normal, test},
		{"bg", Normal, bg},
		{"cd", Normal, cd},
		{"command", Normal, command},
		{"dirs", Normal, dirs},
		{"echo", Normal, echo},
		{"false", Normal, false_},
		{"fg", Normal, fg},
		{"hash", Normal, hash},
		{"jobs", Normal, jobs},
		{"kill", Normal, kill},
		{"popd", Normal, popd},
		{"pushd", Normal, pushd},
		{"pwd", Normal, pwd},
		{"read", Normal, read},
		{"shopt", Normal, shopt},
		{"test", Normal, test},
		{"true", Normal, true_},
		{"type", Normal, type_},
		{"wait", Normal, wait},
	}
	for _, name := range assigns {
		table = append(table, entry{name, Assign, declareArgs})
	}

	byName = make(map[string]Index, len(table))
	for i, e := range table {
		byName[e.name] = Index(i)
	}
}

func lookup(name string, kind Kind) Index {
	if i, ok := byName[name]; ok && table[i].kind == kind {
		return i
	}
	return NoIndex
}

func LookupNormalBuiltin(name string) Index {
	return lookup(name, Normal)
}

func LookupSpecialBuiltin(name string) Index {
	return lookup(name, Special)
}

func LookupAssignBuiltin(name string) Index {
	return lookup(name, Assign)
}

// Lookup finds a builtin of any kind.
func Lookup(name string) (Index, Kind) {
	if i, ok := byName[name]; ok {
		return i, table[i].kind
	}
	return NoIndex, Normal
}

func (i Index) Name() string {
	return table[i].name
}

// Names returns the name of every builtin, sorted.
func Names() []string {
	names := make([]string, len(table))
	for i, e := range table {
		names[i] = e.name
	}
	slices.Sort(names)
	return names
}

// RunBuiltin runs builtin i with the arguments and streams of cmd.
func RunBuiltin(i Index, sh Shell, cmd *exec.Cmd) uint8 {
	if cmd.Stdin == nil {
		cmd.Stdin = strings.NewReader("")
	}
	if cmd.Stdout == nil {
		cmd.Stdout = io.Discard
	}
	if cmd.Stderr == nil {
		cmd.Stderr = io.Discard
	}
	return table[i].fn(sh, cmd)
}

func errorf(cmd *exec.Cmd, format string, args ...any) {
	format = fmt.Sprintf("%s: %s\n", cmd.Args[0], format)
	fmt.Fprintf(cmd.Stderr, format, args...)
}

// usage prints msg and returns the status of a usage error.
func usage(cmd *exec.Cmd, format string, args ...any) uint8 {
	errorf(cmd, format, args...)
	return uint8(errors.CodeUsage)
}

// failure prints err under the builtin's name and returns its status.
func failure(cmd *exec.Cmd, err error) uint8 {
	errorf(cmd, "%s", err)
	return uint8(errors.Code(err))
}

// getopts parses the flags of cmd, printing a usage error on failure.
func getopts(cmd *exec.Cmd, spec string) ([]getopt.Option, []string, bool) {
	opts, optind, err := getopt.Getopts(cmd.Args, spec)
	if err != nil {
		errorf(cmd, "%s", err)
		return nil, nil, false
	}
	return opts, cmd.Args[optind:], true
}

// quote renders s as a shell word that evaluates back to s.
func quote(s string) string {
	q, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		return strconv.Quote(s)
	}
	return q
}
