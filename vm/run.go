package vm

import (
	"fmt"
	"io"
	"os/exec"
	"strings"

	"git.sr.ht/~mango/osh/builtin"
	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/state"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
	"mvdan.cc/sh/v3/syntax"
)

// ExecuteAndCatch runs a top-level statement.  It reports the status of the
// statement and whether the shell must stop.
func (v *Vm) ExecuteAndCatch(st *syntax.Stmt) (int, bool) {
	status, err := v.Execute(st)
	if err == nil {
		return status, false
	}
	return v.catch(err)
}

func (v *Vm) catch(err error) (int, bool) {
	var (
		status int
		stop   bool
		ee     *errors.ErrExitError
		fe     *errors.FatalError
	)
	switch e := err.(type) {
	case errExitCode, errReturn:
		status, stop = exitCode(e), true
	case errBreak, errContinue:
		status = 0
	default:
		status = exitCode(err)
		switch {
		case errors.As(err, &ee):
			v.diag.ErrExit(err, v.source)
			stop = true
		case v.subshell && errors.As(err, &fe) && !fe.Pos.IsValid() &&
			fe.Status > errors.CodeSignalBase:
			// Killed by a signal, like a real process would be
			stop = true
		default:
			v.diag.Fatal(err, v.source)
			stop = !v.opts.Interactive
		}
	}
	v.mem.SetLastStatus(status)
	return status, stop
}

// parseError turns an error of the parser into a fatal error with status 2.
func parseError(err error, name string) error {
	var (
		pe syntax.ParseError
		le syntax.LangError
	)
	switch {
	case errors.As(err, &pe):
		return &errors.FatalError{Msg: pe.Text, Pos: pe.Pos, Status: errors.CodeUsage, Source: name}
	case errors.As(err, &le):
		return &errors.FatalError{Msg: le.Error(), Pos: le.Pos, Status: errors.CodeUsage, Source: name}
	}
	return &errors.FatalError{Msg: err.Error(), Status: errors.CodeUsage, Source: name}
}

// RunScript runs src one statement at a time, so that a syntax error late in
// the script is only reported once the statements before it have run.
func (v *Vm) RunScript(src, name string) int {
	v.source = name
	v.diag.AddSource(name, src)

	status := 0
	p := syntax.NewParser()
	err := p.Stmts(strings.NewReader(src), func(st *syntax.Stmt) bool {
		if v.opts.Get(state.Verbose) {
			start, end := st.Pos().Offset(), st.End().Offset()
			if int(end) <= len(src) && start <= end {
				fmt.Fprintln(v.stderr(), src[start:end])
			}
		}
		if v.opts.Get(state.NoExec) {
			return true
		}
		var stop bool
		status, stop = v.ExecuteAndCatch(st)
		return !stop
	})
	if err != nil {
		v.diag.Fatal(parseError(err, name), name)
		return errors.CodeUsage
	}
	return status
}

// RunInteractive reads commands from r until the end of input or ‘exit’,
// prompting with PS1 and PS2 on prompt.
func (v *Vm) RunInteractive(r io.Reader, prompt io.Writer) int {
	v.source = ""
	status := 0
	for {
		fmt.Fprint(prompt, v.ev.EvalPrompt("PS1", "$ "))
		p := syntax.NewParser()
		stopped := false
		err := p.Interactive(r, func(stmts []*syntax.Stmt) bool {
			if p.Incomplete() {
				fmt.Fprint(prompt, v.ev.EvalPrompt("PS2", "> "))
				return true
			}
			for _, st := range stmts {
				var stop bool
				if status, stop = v.ExecuteAndCatch(st); stop {
					stopped = true
					return false
				}
			}
			v.jobs.Notify(v.stderr())
			fmt.Fprint(prompt, v.ev.EvalPrompt("PS1", "$ "))
			return true
		})
		if err == nil || stopped {
			return status
		}
		v.diag.Fatal(parseError(err, ""), "")
		status = errors.CodeUsage
		v.mem.SetLastStatus(status)
	}
}

// builtin.Shell implementation

func (v *Vm) Parse(src, name string) (*syntax.File, error) {
	v.diag.AddSource(name, src)
	f, err := syntax.NewParser().Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, parseError(err, name)
	}
	return f, nil
}

func (v *Vm) Eval(src, name string) (int, error) {
	f, err := v.Parse(src, name)
	if err != nil {
		v.diag.Fatal(err, name)
		return errors.CodeUsage, nil
	}

	prev := v.source
	v.source = name
	defer func() { v.source = prev }()
	return v.execStmts(f.Stmts)
}

func (v *Vm) Source(path string, argv []string) (int, error) {
	b, err := afero.ReadFile(v.fs, path)
	if err != nil {
		return 0, err
	}
	f, err := v.Parse(string(b), path)
	if err != nil {
		v.diag.Fatal(err, path)
		return errors.CodeUsage, nil
	}

	v.mem.PushSource(path, argv)
	prev := v.source
	v.source = path
	defer func() {
		v.source = prev
		v.mem.PopSource()
	}()

	status, err := v.execStmts(f.Stmts)
	if r, ok := err.(errReturn); ok {
		return int(r), nil
	}
	return status, err
}

// envPath returns the PATH given in env, if any.
func envPath(env []string) string {
	for _, kv := range env {
		if s, ok := strings.CutPrefix(kv, "PATH="); ok {
			return s
		}
	}
	return ""
}

func (v *Vm) RunCommand(cmd *exec.Cmd) (int, error) {
	name := cmd.Args[0]
	switch name {
	case "break", "continue", "return", "exit":
		return v.controlFlow(name, cmd.Args[1:], syntax.Pos{})
	}
	if i, _ := builtin.Lookup(name); i != builtin.NoIndex {
		return v.runBuiltin(i, cmd.Args, cmd)
	}
	return v.runProgram(cmd.Args, syntax.Pos{}, envPath(cmd.Env), nil)
}

func (v *Vm) Exec(cmd *exec.Cmd) error {
	if len(cmd.Args) == 0 {
		v.keepStmt = v.curStmt
		return nil
	}

	path, err := v.lookupCommand(cmd.Args[0], envPath(cmd.Env))
	if err != nil {
		return err
	}
	env := v.mem.Environ()
	if v.subshell {
		status, err := v.runExternal(path, cmd.Args, env)
		if err != nil {
			return err
		}
		return errExitCode(status)
	}

	// Move every descriptor out of the way before putting them in place, so
	// that no source is overwritten by an earlier target.
	files := v.fds.Files()
	srcs := make([]int, len(files))
	for i, f := range files {
		srcs[i] = -1
		if f == nil {
			continue
		}
		if srcs[i], err = unix.FcntlInt(f.Fd(), unix.F_DUPFD_CLOEXEC, len(files)+64); err != nil {
			return errors.DieStatus(errors.CodeNotExecutable, syntax.Pos{},
				"Can't execute ‘%s’: %s", path, err)
		}
	}
	for fd, src := range srcs {
		if src == -1 {
			// Other descriptors of the process are close-on-exec
			if fd <= 2 {
				unix.Close(fd)
			}
			continue
		}
		if err := unix.Dup2(src, fd); err != nil {
			return errors.DieStatus(errors.CodeNotExecutable, syntax.Pos{},
				"Can't execute ‘%s’: %s", path, err)
		}
	}

	err = unix.Exec(path, cmd.Args, env)
	return errors.DieStatus(errors.CodeNotExecutable, syntax.Pos{},
		"Can't execute ‘%s’: %s", path, err)
}
