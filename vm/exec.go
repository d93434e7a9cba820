package vm

import (
	"fmt"
	"time"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/value"
	"golang.org/x/sys/unix"
	"mvdan.cc/sh/v3/syntax"
)

// Execute runs one statement and returns its exit status.  The error is a
// commandResult for break, continue, return and exit, or a fatal error.
func (v *Vm) Execute(st *syntax.Stmt) (int, error) {
	return v.execute(st, true)
}

// execute runs st.  Without check a failure never triggers errexit or the
// ERR trap, which is what the last part of a pipeline needs: the pipeline
// checks its own status.
func (v *Vm) execute(st *syntax.Stmt, check bool) (int, error) {
	if err := v.checkSignals(); err != nil {
		return 0, err
	}
	v.mem.LineNo = int(st.Pos().Line())
	if hidesErrExit(st) {
		if err := v.strictErrExitDisabled(cmdKind(st)); err != nil {
			return 0, err
		}
	}

	if st.Background {
		status, err := v.RunBackgroundJob(st)
		v.mem.SetLastStatus(status)
		return status, err
	}

	v.PushProcessSub()
	status, err := v.executeRedirected(st)
	subStatus := v.PopProcessSub()
	if err != nil {
		return status, err
	}

	if st.Negated {
		status = boolStatus(status != 0)
	}
	v.mem.SetProcessSubStatus(subStatus)
	if v.opts.Get(state.ProcessSubFail) && status == 0 {
		for _, n := range subStatus {
			if n != 0 {
				status = n
			}
		}
	}
	if isLeaf(st) {
		v.mem.SetSimplePipeStatus(status)
	}
	v.mem.SetLastStatus(status)

	if check && v.checksErrExit(st) {
		if err := v.checkStatus(st, status); err != nil {
			return status, err
		}
	}
	return status, nil
}

func (v *Vm) executeRedirected(st *syntax.Stmt) (int, error) {
	if len(st.Redirs) > 0 {
		redirs, err := v.evalRedirects(st.Redirs)
		var rerr *errors.RedirectError
		switch {
		case errors.As(err, &rerr):
			fmt.Fprintf(v.stderr(), "osh: %s\n", err)
			return errors.CodeFailure, nil
		case err != nil:
			return 0, err
		}
		if err := v.PushRedirects(redirs); err != nil {
			return errors.CodeFailure, nil
		}
		defer v.PopRedirects(st)
	}
	if st.Negated {
		v.opts.PushErrExitDisabled(st.Pos())
		defer v.opts.PopErrExitDisabled()
	}

	prev := v.curStmt
	v.curStmt = st
	defer func() { v.curStmt = prev }()
	return v.dispatch(st)
}

func (v *Vm) dispatch(st *syntax.Stmt) (int, error) {
	switch c := st.Cmd.(type) {
	case nil:
		return 0, nil
	case *syntax.CallExpr:
		return v.execCall(c)
	case *syntax.BinaryCmd:
		switch c.Op {
		case syntax.AndStmt, syntax.OrStmt:
			return v.execAndOr(c)
		}
		return v.RunPipeline(c)
	case *syntax.Subshell:
		return v.RunSubshell(c)
	case *syntax.Block:
		return v.execStmts(c.Stmts)
	case *syntax.IfClause:
		return v.execIf(c)
	case *syntax.WhileClause:
		return v.execWhile(c)
	case *syntax.ForClause:
		return v.execFor(c)
	case *syntax.CaseClause:
		return v.execCase(c)
	case *syntax.FuncDecl:
		v.funcs[c.Name.Value] = c.Body
		return 0, nil
	case *syntax.ArithmCmd:
		n, err := v.ev.EvalArith(c.X)
		if err != nil {
			return 0, err
		}
		return boolStatus(n != 0), nil
	case *syntax.TestClause:
		ok, err := v.ev.EvalCond(c.X)
		if err != nil {
			return errors.CodeUsage, err
		}
		return boolStatus(ok), nil
	case *syntax.DeclClause:
		return v.execDecl(c)
	case *syntax.LetClause:
		return v.execLet(c)
	case *syntax.TimeClause:
		return v.execTime(c)
	case *syntax.CoprocClause:
		return 0, errors.Die(c.Pos(), "Coprocesses aren't supported")
	case *syntax.TestDecl:
		return 0, errors.Die(c.Pos(), "Test declarations aren't supported")
	}
	return 0, errors.Die(st.Pos(), "Unhandled command %T", st.Cmd)
}

func boolStatus(ok bool) int {
	if ok {
		return 0
	}
	return 1
}

// isLeaf reports whether st is a single command as far as PIPESTATUS goes.
func isLeaf(st *syntax.Stmt) bool {
	switch c := st.Cmd.(type) {
	case *syntax.CallExpr, *syntax.DeclClause, *syntax.TestClause,
		*syntax.ArithmCmd, *syntax.LetClause, *syntax.Subshell:
		return true
	case *syntax.BinaryCmd:
		return c.Op == syntax.AndStmt || c.Op == syntax.OrStmt
	}
	return false
}

func (v *Vm) execStmts(stmts []*syntax.Stmt) (int, error) {
	status := 0
	for _, st := range stmts {
		var err error
		if status, err = v.Execute(st); err != nil {
			return status, err
		}
	}
	return status, nil
}

// execCond runs the condition of an if or a loop, during which errexit is
// disabled.
func (v *Vm) execCond(stmts []*syntax.Stmt) (int, error) {
	if len(stmts) == 0 {
		return 0, nil
	}
	if err := v.strictErrExitList(stmts); err != nil {
		return 0, err
	}
	v.opts.PushErrExitDisabled(stmts[0].Pos())
	defer v.opts.PopErrExitDisabled()
	return v.execStmts(stmts)
}

func (v *Vm) execAndOr(c *syntax.BinaryCmd) (int, error) {
	if err := v.strictErrExit(c.X); err != nil {
		return 0, err
	}
	v.opts.PushErrExitDisabled(c.OpPos)
	status, err := v.Execute(c.X)
	v.opts.PopErrExitDisabled()
	if err != nil {
		return status, err
	}

	if (c.Op == syntax.AndStmt) != (status == 0) {
		return status, nil
	}
	return v.Execute(c.Y)
}

func (v *Vm) execIf(c *syntax.IfClause) (int, error) {
	for clause := c; clause != nil; clause = clause.Else {
		if len(clause.Cond) == 0 {
			return v.execStmts(clause.Then)
		}
		status, err := v.execCond(clause.Cond)
		switch {
		case err != nil:
			return status, err
		case status == 0:
			return v.execStmts(clause.Then)
		}
	}
	return 0, nil
}

func (v *Vm) execWhile(c *syntax.WhileClause) (int, error) {
	v.loopDepth++
	defer func() { v.loopDepth-- }()

	status := 0
	for {
		cond, err := v.execCond(c.Cond)
		if err != nil {
			if stop, err := loopControl(err); stop {
				return 0, err
			}
			continue
		}
		if (cond == 0) == c.Until {
			return status, nil
		}

		if status, err = v.execStmts(c.Do); err != nil {
			stop, err := loopControl(err)
			status = 0
			if stop {
				return status, err
			}
		}
	}
}

func (v *Vm) execFor(c *syntax.ForClause) (int, error) {
	if c.Select {
		return 0, errors.Die(c.Pos(), "‘select’ isn't supported")
	}
	v.loopDepth++
	defer func() { v.loopDepth-- }()

	switch l := c.Loop.(type) {
	case *syntax.WordIter:
		return v.forEach(l, c.Do)
	case *syntax.CStyleLoop:
		return v.forArith(l, c.Do)
	}
	return 0, nil
}

func (v *Vm) forEach(l *syntax.WordIter, body []*syntax.Stmt) (int, error) {
	var items []string
	if l.InPos.IsValid() {
		var err error
		if items, err = v.ev.EvalWordSequence(l.Items); err != nil {
			return 0, err
		}
	} else {
		items = v.mem.Argv()
	}

	lv := state.Named{Name: l.Name.Value, Pos: l.Name.Pos()}
	status := 0
	for _, item := range items {
		if err := v.mem.SetValue(lv, value.Str(item), v.mem.WriteScope(), 0); err != nil {
			return 0, err
		}
		var err error
		if status, err = v.execStmts(body); err != nil {
			stop, err := loopControl(err)
			status = 0
			if stop {
				return status, err
			}
		}
	}
	return status, nil
}

func (v *Vm) forArith(l *syntax.CStyleLoop, body []*syntax.Stmt) (int, error) {
	if l.Init != nil {
		if _, err := v.ev.EvalArith(l.Init); err != nil {
			return 0, err
		}
	}

	status := 0
	for {
		if l.Cond != nil {
			n, err := v.ev.EvalArith(l.Cond)
			if err != nil {
				return 0, err
			}
			if n == 0 {
				return status, nil
			}
		}

		var err error
		if status, err = v.execStmts(body); err != nil {
			stop, err := loopControl(err)
			status = 0
			if stop {
				return status, err
			}
		}

		if l.Post != nil {
			if _, err := v.ev.EvalArith(l.Post); err != nil {
				return 0, err
			}
		}
	}
}

func (v *Vm) execCase(c *syntax.CaseClause) (int, error) {
	s, err := v.ev.EvalWordToString(c.Word)
	if err != nil {
		return 0, err
	}

	status := 0
	matched := false
	for _, item := range c.Items {
		if !matched {
			if matched, err = v.caseMatch(item, s); err != nil {
				return 0, err
			}
			if !matched {
				continue
			}
		}

		if status, err = v.execStmts(item.Stmts); err != nil {
			return status, err
		}
		switch item.Op {
		case syntax.Fallthrough:
			// The next arm runs without testing its patterns
		case syntax.Resume, syntax.ResumeKorn:
			matched = false
		default:
			return status, nil
		}
	}
	return status, nil
}

func (v *Vm) caseMatch(item *syntax.CaseItem, s string) (bool, error) {
	for _, w := range item.Patterns {
		p, err := v.ev.EvalCasePattern(w)
		if err != nil {
			return false, err
		}
		ok, err := p.Match(s)
		if err != nil {
			return false, errors.Die(w.Pos(), "%s", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (v *Vm) execLet(c *syntax.LetClause) (int, error) {
	var n int64
	for _, x := range c.Exprs {
		var err error
		if n, err = v.ev.EvalArith(x); err != nil {
			return 0, err
		}
	}
	return boolStatus(n != 0), nil
}

func (v *Vm) execTime(c *syntax.TimeClause) (int, error) {
	var before, after unix.Rusage
	unix.Getrusage(unix.RUSAGE_CHILDREN, &before)
	start := time.Now()

	status := 0
	var err error
	if c.Stmt != nil {
		status, err = v.Execute(c.Stmt)
	}

	real := time.Since(start)
	unix.Getrusage(unix.RUSAGE_CHILDREN, &after)
	user := time.Duration(after.Utime.Nano() - before.Utime.Nano())
	sys := time.Duration(after.Stime.Nano() - before.Stime.Nano())

	w := v.stderr()
	if c.PosixFormat {
		fmt.Fprintf(w, "real %.2f\nuser %.2f\nsys %.2f\n",
			real.Seconds(), user.Seconds(), sys.Seconds())
	} else {
		fmt.Fprintf(w, "\nreal\t%s\nuser\t%s\nsys\t%s\n",
			formatDuration(real), formatDuration(user), formatDuration(sys))
	}
	return status, err
}

func formatDuration(d time.Duration) string {
	m := int(d.Minutes())
	s := d.Seconds() - float64(m*60)
	return fmt.Sprintf("%dm%.3fs", m, s)
}
