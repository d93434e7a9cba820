// Package vm is the command evaluator.  It walks the syntax tree of a
// script, keeping the state of the shell, and runs builtins, functions and
// programs through the process layer.
package vm

import (
	"io"
	"maps"
	"os"

	"git.sr.ht/~mango/osh/builtin"
	"git.sr.ht/~mango/osh/expand"
	"git.sr.ht/~mango/osh/log"
	"git.sr.ht/~mango/osh/pkg/stack"
	"git.sr.ht/~mango/osh/process"
	"git.sr.ht/~mango/osh/state"
	"github.com/spf13/afero"
	"mvdan.cc/sh/v3/syntax"
)

// Config describes a new top-level shell.
type Config struct {
	Name    string // $0
	Args    []string
	Environ []string

	Stdin, Stdout, Stderr *os.File

	Interactive bool
	JobControl  *process.JobControl
	Color       bool
	Fs          afero.Fs
}

type Vm struct {
	mem    *state.Mem
	opts   *state.Options
	ev     *expand.Evaluator
	fds    *process.FdState
	traps  *state.Traps
	sigs   *process.SignalSafe
	waiter *process.Waiter
	jobs   *process.JobList
	jc     *process.JobControl
	path   *process.SearchPath
	dirs   *builtin.DirStack
	funcs  map[string]*syntax.Stmt
	diag   *log.Formatter
	fs     afero.Fs

	source    string // Name of the code being run, for diagnostics
	loopDepth int
	procSubs  stack.Stack[*procSubFrame]
	hooks     map[string]bool // Hooks whose handler is running
	inTraps   bool
	trapErr   error // ‘exit’ from a signal handler, raised at the next command
	aborted   error
	cmdSubRan bool
	curStmt   *syntax.Stmt
	keepStmt  *syntax.Stmt // Statement whose redirects ‘exec’ made permanent
	subshell  bool
}

// New returns a shell with its own copies of the standard streams.
func New(cfg Config) (*Vm, error) {
	fds, err := process.NewFdState(cfg.Stdin, cfg.Stdout, cfg.Stderr)
	if err != nil {
		return nil, err
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}

	opts := state.NewOptions()
	opts.Interactive = cfg.Interactive
	v := &Vm{
		opts:     opts,
		fds:      fds,
		traps:    state.NewTraps(),
		sigs:     process.NewSignalSafe(),
		jobs:     process.NewJobList(),
		jc:       cfg.JobControl,
		path:     process.NewSearchPath(),
		dirs:     builtin.NewDirStack(),
		funcs:    make(map[string]*syntax.Stmt),
		fs:       cfg.Fs,
		procSubs: stack.New[*procSubFrame](8),
		hooks:    make(map[string]bool),
		source:   cfg.Name,
	}
	v.mem = state.NewMem(cfg.Name, cfg.Args, cfg.Environ, opts)
	v.ev = expand.New(v.mem, opts, v, cfg.Fs)
	v.diag = log.NewFormatter(v.stderr(), cfg.Color)
	v.wire()
	if cfg.Interactive {
		v.sigs.WatchInterrupt()
	}
	return v, nil
}

// wire connects the parts of v that refer back to it.
func (v *Vm) wire() {
	v.fds.Dir = v.mem.Pwd
	v.fds.Noclobber = func() bool { return v.opts.Get(state.NoClobber) }
	v.waiter = &process.Waiter{
		Signals:     v.sigs,
		Jobs:        v.jobs,
		JobControl:  v.jc,
		RunTraps:    v.runSignalTraps,
		Interactive: v.opts.Interactive,
		Stderr:      v.stderr(),
	}
}

// fork returns a copy of v for a subshell owning fds.  Nothing the copy
// does is visible to v.
func (v *Vm) fork(fds *process.FdState) *Vm {
	opts := v.opts.Clone()
	opts.Interactive = false
	c := &Vm{
		opts:      opts,
		fds:       fds,
		traps:     v.traps.ForSubshell(),
		sigs:      process.NewSubshellSignals(v.sigs.Ignored()),
		jobs:      process.NewJobList(),
		path:      v.path,
		dirs:      v.dirs.Clone(),
		funcs:     maps.Clone(v.funcs),
		fs:        v.fs,
		procSubs:  stack.New[*procSubFrame](8),
		hooks:     make(map[string]bool),
		source:    v.source,
		loopDepth: v.loopDepth,
		subshell:  true,
	}
	c.mem = v.mem.Clone(opts)
	c.ev = expand.New(c.mem, opts, c, v.fs)
	c.diag = v.diag.Fork(c.stderr())
	c.wire()
	return c
}

// Close releases the descriptors and signal handlers of the shell.
func (v *Vm) Close() {
	v.fds.CloseAll()
	v.sigs.Stop()
}

// fdWriter writes to whatever the shell has open on fd at the time of the
// write, so diagnostics follow redirects such as ‘exec 2>log’.
type fdWriter struct {
	fds *process.FdState
	fd  int
}

func (w fdWriter) Write(p []byte) (int, error) {
	f := w.fds.File(w.fd)
	if f == nil {
		return len(p), nil
	}
	return f.Write(p)
}

func (v *Vm) stderr() io.Writer {
	return fdWriter{v.fds, 2}
}

func (v *Vm) stdout() io.Writer {
	return fdWriter{v.fds, 1}
}

func (v *Vm) Diagnostics() *log.Formatter {
	return v.diag
}

// builtin.Shell implementation

func (v *Vm) Mem() *state.Mem                 { return v.mem }
func (v *Vm) Opts() *state.Options            { return v.opts }
func (v *Vm) Expander() *expand.Evaluator     { return v.ev }
func (v *Vm) Traps() *state.Traps             { return v.traps }
func (v *Vm) Signals() *process.SignalSafe    { return v.sigs }
func (v *Vm) Waiter() *process.Waiter         { return v.waiter }
func (v *Vm) Jobs() *process.JobList          { return v.jobs }
func (v *Vm) SearchPath() *process.SearchPath { return v.path }
func (v *Vm) DirStack() *builtin.DirStack     { return v.dirs }
func (v *Vm) File(fd int) *os.File            { return v.fds.File(fd) }
func (v *Vm) JobControl() *process.JobControl { return v.jc }
func (v *Vm) SetSource(name string)           { v.source = name }

func (v *Vm) HasFunc(name string) bool {
	_, ok := v.funcs[name]
	return ok
}

func (v *Vm) UnsetFunc(name string) bool {
	if _, ok := v.funcs[name]; !ok {
		return false
	}
	delete(v.funcs, name)
	return true
}

// Abort records err to be raised once the running builtin returns.
func (v *Vm) Abort(err error) uint8 {
	v.aborted = err
	return uint8(exitCode(err))
}

func (v *Vm) takeAbort() error {
	err := v.aborted
	v.aborted = nil
	return err
}
