package vm

import (
	"fmt"
	"io"
	"strings"

	"git.sr.ht/~mango/osh/builtin"
	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/process"
	"git.sr.ht/~mango/osh/state"
	"github.com/spf13/afero"
	"mvdan.cc/sh/v3/syntax"
)

// procSubFrame holds the process substitutions started while evaluating
// the words of one command.  They are waited for once it finishes.
type procSubFrame struct {
	procs []*process.Process
	fds   []int
}

func (v *Vm) PushProcessSub() {
	v.procSubs.Push(nil)
}

// PopProcessSub closes the shell's ends of the substitutions of the
// innermost frame and returns their statuses.
func (v *Vm) PopProcessSub() []int {
	p := v.procSubs.Pop()
	if p == nil || *p == nil {
		return nil
	}
	fr := *p
	for _, fd := range fr.fds {
		v.fds.Close(fd)
	}
	statuses := make([]int, 0, len(fr.procs))
	for _, proc := range fr.procs {
		status, err := proc.Wait()
		if err != nil {
			status = exitCode(err)
		}
		v.jobs.RemoveChild(proc.Pid())
		statuses = append(statuses, status)
	}
	return statuses
}

// PushRedirects applies redirs for the duration of a command.  On failure
// the error has already been printed.
func (v *Vm) PushRedirects(redirs []process.Redirect) error {
	return v.fds.Push(redirs, v.stderr())
}

// PopRedirects undoes the redirects of st, unless ‘exec’ made them
// permanent while it ran.
func (v *Vm) PopRedirects(st *syntax.Stmt) {
	if v.keepStmt == st {
		v.keepStmt = nil
		v.fds.MakePermanent()
		return
	}
	v.fds.Pop()
}

func isPipe(op syntax.BinCmdOperator) bool {
	return op == syntax.Pipe || op == syntax.PipeAll
}

// flattenPipe lists the stages of a pipeline.  errToo[i] is set when stage i
// is followed by ‘|&’.
func flattenPipe(c *syntax.BinaryCmd) (stages []*syntax.Stmt, errToo []bool) {
	var add func(st *syntax.Stmt)
	add = func(st *syntax.Stmt) {
		if bc, ok := st.Cmd.(*syntax.BinaryCmd); ok && isPipe(bc.Op) &&
			!st.Negated && !st.Background && len(st.Redirs) == 0 {
			add(bc.X)
			errToo[len(errToo)-1] = bc.Op == syntax.PipeAll
			add(bc.Y)
			return
		}
		stages = append(stages, st)
		errToo = append(errToo, false)
	}
	add(&syntax.Stmt{Cmd: c})
	return stages, errToo
}

// cmdText renders node on one line, for ‘jobs’.
func cmdText(node syntax.Node) string {
	var sb strings.Builder
	syntax.NewPrinter(syntax.SingleLine(true)).Print(&sb, node)
	return strings.TrimSpace(sb.String())
}

// RunPipeline runs every stage but the last as a child and the last in the
// shell itself.
func (v *Vm) RunPipeline(c *syntax.BinaryCmd) (int, error) {
	stages, errToo := flattenPipe(c)
	n := len(stages)

	pi := process.NewPipeline(v.opts.Get(state.SigpipeStatusOk), v.waiter)
	for i, st := range stages[:n-1] {
		p, err := v.stageProcess(st)
		if err != nil {
			return 0, err
		}
		pi.Add(p, errToo[i])
	}
	last := stages[n-1]
	pi.AddLast(cmdText(last))
	if err := pi.Start(); err != nil {
		return 0, internal("Failed to create pipe: %s", err)
	}

	var lastErr error
	statuses, err := pi.Run(v.fds, func() int {
		status, err := v.execute(last, false)
		if err != nil {
			lastErr = err
			status = exitCode(err)
		}
		return status
	})
	if err != nil {
		return 0, err
	}
	if lastErr != nil {
		return exitCode(lastErr), lastErr
	}

	if pi.State() == process.Stopped {
		v.jobs.AddJob(pi)
	}

	v.mem.SetPipeStatus(statuses)
	status := statuses[len(statuses)-1]
	if v.opts.Get(state.PipeFail) {
		status = 0
		for _, s := range statuses {
			if s != 0 {
				status = s
				break
			}
		}
	}
	return status, nil
}

// stageProcess returns the child running one stage of a pipeline.  A plain
// program call runs directly, anything else in a subshell.
func (v *Vm) stageProcess(st *syntax.Stmt) (*process.Process, error) {
	if path, argv, ok := v.directExternal(st); ok {
		fds, err := v.fds.Clone()
		if err != nil {
			return nil, internal("Failed to copy descriptors: %s", err)
		}
		p := process.NewProcess(process.ExternalThunk{
			Path: path,
			Argv: argv,
			Env:  v.mem.Environ(),
			Dir:  v.mem.Pwd(),
		}, fds, v.waiter)
		p.Desc = cmdText(st)
		return p, nil
	}
	return v.newSubshell(cmdText(st), func(c *Vm) (int, error) {
		return c.Execute(st)
	})
}

// directExternal resolves st to a program when running it needs nothing of
// the shell but its words.
func (v *Vm) directExternal(st *syntax.Stmt) (string, []string, bool) {
	c, ok := st.Cmd.(*syntax.CallExpr)
	if !ok || st.Negated || len(st.Redirs) > 0 || len(c.Assigns) > 0 || len(c.Args) == 0 {
		return "", nil, false
	}
	for _, w := range c.Args {
		if !pureWord(w.Parts) {
			return "", nil, false
		}
	}
	if v.opts.Get(state.XTrace) {
		return "", nil, false
	}

	argv, err := v.ev.EvalWordSequence(c.Args)
	if err != nil || len(argv) == 0 {
		return "", nil, false
	}
	name := argv[0]
	switch name {
	case "break", "continue", "return", "exit":
		return "", nil, false
	}
	if i, _ := builtin.Lookup(name); i != builtin.NoIndex || v.HasFunc(name) {
		return "", nil, false
	}
	path, err := v.lookupCommand(name, "")
	if err != nil {
		return "", nil, false
	}
	return path, argv, true
}

// pureWord reports whether evaluating parts has no side effects.
func pureWord(parts []syntax.WordPart) bool {
	for _, part := range parts {
		switch p := part.(type) {
		case *syntax.Lit, *syntax.SglQuoted:
		case *syntax.DblQuoted:
			if !pureWord(p.Parts) {
				return false
			}
		case *syntax.ParamExp:
			if p.Exp != nil || p.Repl != nil || p.Slice != nil || p.Index != nil ||
				p.Excl || p.Length || p.Width || p.Names != 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// newSubshell returns an unstarted child that runs body in a copy of the
// shell.
func (v *Vm) newSubshell(desc string, body func(c *Vm) (int, error)) (*process.Process, error) {
	fds, err := v.fds.Clone()
	if err != nil {
		return nil, internal("Failed to copy descriptors: %s", err)
	}
	c := v.fork(fds)
	p := process.NewProcess(process.SubProgramThunk{
		Run:  c.runSubshell(body),
		Kill: c.sigs.Inject,
	}, fds, v.waiter)
	p.Desc = desc
	return p, nil
}

func (c *Vm) runSubshell(body func(c *Vm) (int, error)) func(*process.FdState) int {
	return func(*process.FdState) int {
		defer c.sigs.Stop()
		status, err := body(c)
		if err != nil {
			status, _ = c.catch(err)
		}
		return c.RunExitTrap(status)
	}
}

// RunSubshell runs ‘( … )’.
func (v *Vm) RunSubshell(sub *syntax.Subshell) (int, error) {
	p, err := v.newSubshell(cmdText(sub), func(c *Vm) (int, error) {
		return c.execStmts(sub.Stmts)
	})
	if err != nil {
		return 0, err
	}
	return v.waitChild(p)
}

func (v *Vm) waitChild(p *process.Process) (int, error) {
	if err := p.Start(); err != nil {
		return 0, internal("Failed to start subshell: %s", err)
	}
	status, err := p.Wait()
	if err != nil {
		return 0, err
	}
	v.jobs.RemoveChild(p.Pid())
	return status, nil
}

// RunBackgroundJob starts st without waiting for it.
func (v *Vm) RunBackgroundJob(st *syntax.Stmt) (int, error) {
	fg := *st
	fg.Background = false
	desc := cmdText(&fg)

	var job process.Job
	var pid int
	if bc, ok := fg.Cmd.(*syntax.BinaryCmd); ok && isPipe(bc.Op) && len(fg.Redirs) == 0 && !fg.Negated {
		stages, errToo := flattenPipe(bc)
		pi := process.NewPipeline(v.opts.Get(state.SigpipeStatusOk), v.waiter)
		pi.SetBackground()
		for i, st := range stages {
			p, err := v.stageProcess(st)
			if err != nil {
				return 0, err
			}
			pi.Add(p, errToo[i])
		}
		if err := pi.Start(); err != nil {
			return 0, internal("Failed to create pipe: %s", err)
		}
		job, pid = pi, pi.LastPid()
	} else {
		p, err := v.stageProcess(&fg)
		if err != nil {
			return 0, err
		}
		if v.jc.Enabled() {
			p.Group = process.NewPgid
		}
		p.Desc = desc
		p.SetBackground()
		if err := p.Start(); err != nil {
			fmt.Fprintf(v.stderr(), "osh: Can't execute ‘%s’: %s\n", desc, err)
			return errors.CodeNotExecutable, nil
		}
		job, pid = p, p.Pid()
	}

	id := v.jobs.AddJob(job)
	v.mem.LastBgPid = pid
	if v.opts.Interactive {
		fmt.Fprintf(v.stderr(), "[%d] %d\n", id, pid)
	}
	return 0, nil
}

// RunCommandSub runs ‘$(…)’ and returns its output without trailing
// newlines.
func (v *Vm) RunCommandSub(cs *syntax.CmdSubst) (string, error) {
	if path, ok := catFile(cs); ok {
		name, err := v.ev.EvalRedirectWord(path)
		if err != nil {
			return "", err
		}
		if !strings.HasPrefix(name, "/") {
			name = v.mem.Pwd() + "/" + name
		}
		b, err := afero.ReadFile(v.fs, name)
		if err != nil {
			fmt.Fprintf(v.stderr(), "osh: Failed to open file ‘%s’: %s\n", name, err)
			v.cmdSubRan = true
			v.mem.SetLastStatus(errors.CodeFailure)
			return "", nil
		}
		v.cmdSubRan = true
		v.mem.SetLastStatus(0)
		return strings.TrimRight(string(b), "\n"), nil
	}

	pr, pw, err := process.Pipe()
	if err != nil {
		return "", internal("Failed to create pipe: %s", err)
	}
	p, err := v.newSubshell(cmdText(cs), func(c *Vm) (int, error) {
		c.fds.PushPipe(1, pw)
		return c.execStmts(cs.Stmts)
	})
	if err != nil {
		pr.Close()
		pw.Close()
		return "", err
	}
	if err := p.Start(); err != nil {
		pr.Close()
		pw.Close()
		return "", internal("Failed to start subshell: %s", err)
	}

	out, rerr := io.ReadAll(pr)
	pr.Close()
	status, err := p.Wait()
	if err != nil {
		return "", err
	}
	v.jobs.RemoveChild(p.Pid())
	if rerr != nil {
		return "", internal("Failed to read command output: %s", rerr)
	}

	if status != 0 && v.opts.Get(state.CommandSubErrExit) && v.opts.ErrExit() {
		return "", &errors.ErrExitError{
			Status: status,
			Msg:    fmt.Sprintf("Command Sub exited with status %d", status),
			Pos:    cs.Pos(),
		}
	}
	v.cmdSubRan = true
	v.mem.SetLastStatus(status)
	return strings.TrimRight(string(out), "\n"), nil
}

// catFile matches ‘$(< file)’, which reads the file without a subshell.
func catFile(cs *syntax.CmdSubst) (*syntax.Word, bool) {
	if len(cs.Stmts) != 1 {
		return nil, false
	}
	st := cs.Stmts[0]
	if st.Cmd != nil || st.Negated || st.Background || len(st.Redirs) != 1 {
		return nil, false
	}
	r := st.Redirs[0]
	if r.Op != syntax.RdrIn || r.N != nil {
		return nil, false
	}
	return r.Word, true
}

// RunProcessSub starts ‘<(…)’ or ‘>(…)’ and returns the path the command
// reads or writes.
func (v *Vm) RunProcessSub(ps *syntax.ProcSubst) (string, error) {
	top := v.procSubs.Peek()
	if top == nil {
		return "", errors.Die(ps.Pos(), "Process substitutions aren't allowed here")
	}

	pr, pw, err := process.Pipe()
	if err != nil {
		return "", internal("Failed to create pipe: %s", err)
	}
	fd, theirs, keep := 1, pw, pr
	if ps.Op == syntax.CmdOut {
		fd, theirs, keep = 0, pr, pw
	}

	p, err := v.newSubshell(cmdText(ps), func(c *Vm) (int, error) {
		c.fds.PushPipe(fd, theirs)
		return c.execStmts(ps.Stmts)
	})
	if err != nil {
		pr.Close()
		pw.Close()
		return "", err
	}
	if err := p.Start(); err != nil {
		pr.Close()
		pw.Close()
		return "", internal("Failed to start subshell: %s", err)
	}

	n := v.fds.Install(keep)
	if *top == nil {
		*top = &procSubFrame{}
	}
	(*top).procs = append((*top).procs, p)
	(*top).fds = append((*top).fds, n)
	return fmt.Sprintf("/dev/fd/%d", n), nil
}
