package vm

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"git.sr.ht/~mango/osh/builtin"
	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/process"
	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/value"
	"github.com/sajari/fuzzy"
	"mvdan.cc/sh/v3/syntax"
)

const maxCallDepth = 1000

func (v *Vm) execCall(c *syntax.CallExpr) (int, error) {
	if len(c.Args) == 0 {
		return v.execAssigns(c.Assigns, v.mem.WriteScope())
	}

	argv, err := v.ev.EvalWordSequence(c.Args)
	if err != nil {
		return 0, err
	}
	if len(argv) == 0 {
		if v.opts.Get(state.StrictArgv) {
			return 0, errors.Die(c.Pos(), "Command evaluated to an empty argv array")
		}
		return v.execAssigns(c.Assigns, v.mem.WriteScope())
	}

	if err := v.runHook("DEBUG"); err != nil {
		return 0, err
	}

	name := argv[0]
	if len(c.Assigns) > 0 {
		if i, kind := builtin.Lookup(name); i != builtin.NoIndex && kind != builtin.Normal {
			if _, err := v.execAssigns(c.Assigns, v.mem.WriteScope()); err != nil {
				return 0, err
			}
		} else {
			v.mem.PushTemp()
			defer v.mem.PopTemp()
			for _, as := range c.Assigns {
				if err := v.assign(as, state.LocalOnly, state.SetExport); err != nil {
					return 0, err
				}
			}
		}
	}

	if v.opts.Get(state.XTrace) {
		v.trace(argv)
	}
	v.mem.LastArg = argv[len(argv)-1]

	switch name {
	case "break", "continue", "return", "exit":
		return v.controlFlow(name, argv[1:], c.Pos())
	}
	return v.RunSimpleCommand(argv, c.Pos(), true)
}

// execAssigns runs the assignments of a command without a name.  Its status
// is that of the last command substitution, or 0.
func (v *Vm) execAssigns(assigns []*syntax.Assign, mode state.ScopeMode) (int, error) {
	v.cmdSubRan = false
	for _, as := range assigns {
		if err := v.assign(as, mode, 0); err != nil {
			return 0, err
		}
	}
	if v.cmdSubRan {
		v.cmdSubRan = false
		return v.mem.LastStatus(), nil
	}
	return 0, nil
}

func (v *Vm) assign(as *syntax.Assign, mode state.ScopeMode, flags state.SetFlags) error {
	assoc := as.Name != nil && v.mem.IsAssoc(as.Name.Value)
	lv, err := v.ev.EvalAssignLValue(as, assoc)
	if err != nil {
		return err
	}
	val, err := v.ev.EvalAssignValue(as, assoc)
	if err != nil {
		return err
	}
	if v.opts.Get(state.XTrace) {
		fmt.Fprintf(v.stderr(), "%s%s=%s\n", v.ev.EvalPrompt("PS4", "+ "),
			lv.VarName(), traceValue(val))
	}
	if as.Append {
		return v.mem.Append(lv, val, mode)
	}
	if as.Name != nil && as.Name.Value == "PATH" {
		v.path.Reset()
	}
	return v.mem.SetValue(lv, val, mode, flags)
}

func traceValue(val value.Value) string {
	switch val := val.(type) {
	case value.Str:
		return quoteArg(string(val))
	case *value.Array:
		xs := val.Values()
		for i, s := range xs {
			xs[i] = quoteArg(s)
		}
		return "(" + strings.Join(xs, " ") + ")"
	}
	return ""
}

func (v *Vm) trace(argv []string) {
	xs := make([]string, len(argv))
	for i, s := range argv {
		xs[i] = quoteArg(s)
	}
	fmt.Fprintf(v.stderr(), "%s%s\n", v.ev.EvalPrompt("PS4", "+ "), strings.Join(xs, " "))
}

func quoteArg(s string) string {
	if q, err := syntax.Quote(s, syntax.LangBash); err == nil {
		return q
	}
	return strconv.Quote(s)
}

// execDecl runs ‘declare’, ‘local’ and friends whose operands the parser
// understood as assignments.
func (v *Vm) execDecl(c *syntax.DeclClause) (int, error) {
	name := c.Variant.Value
	args := []string{name}
	var pairs []builtin.Pair
	var flags builtin.DeclFlags
	flagsDone := false

	for _, as := range c.Args {
		if as.Name == nil {
			words, err := v.ev.EvalWordSequence([]*syntax.Word{as.Value})
			if err != nil {
				return 0, err
			}
			for _, w := range words {
				if !flagsDone && len(w) > 1 && (w[0] == '-' || w[0] == '+') {
					args = append(args, w)
					continue
				}
				p, err := v.declOperand(w, as.Pos())
				if err != nil {
					fmt.Fprintf(v.stderr(), "%s: %s\n", name, err)
					return errors.CodeUsage, nil
				}
				pairs = append(pairs, p)
			}
			continue
		}

		if !flagsDone {
			var err error
			if flags, _, err = builtin.ParseDeclFlags(args[1:]); err != nil {
				fmt.Fprintf(v.stderr(), "%s: %s\n", name, err)
				return errors.CodeUsage, nil
			}
			flagsDone = true
		}
		assoc := flags.Assoc || v.mem.IsAssoc(as.Name.Value)
		val, err := v.ev.EvalAssignValue(as, assoc)
		if err != nil {
			return 0, err
		}
		p := builtin.Pair{Name: as.Name.Value, Val: val, Append: as.Append, Pos: as.Pos()}
		if as.Index != nil {
			if p.LV, err = v.ev.EvalAssignLValue(as, assoc); err != nil {
				return 0, err
			}
		}
		if flags.Array && !flags.Assoc && as.Index == nil {
			if s, ok := val.(value.Str); ok {
				p.Val = value.NewArray(string(s))
			}
		}
		pairs = append(pairs, p)
	}

	if v.opts.Get(state.XTrace) {
		v.trace(args)
	}
	cmd := &exec.Cmd{Args: args}
	v.setStreams(cmd)
	status := builtin.RunAssign(v, cmd, pairs)
	return int(status), v.takeAbort()
}

// declOperand parses an operand such as ‘x’, ‘x=1’ or ‘a[2]=y’ that came
// from an expansion.
func (v *Vm) declOperand(w string, pos syntax.Pos) (builtin.Pair, error) {
	name, rhs, hasValue := strings.Cut(w, "=")
	p := builtin.Pair{Name: name, Pos: pos}
	if hasValue {
		if n, ok := strings.CutSuffix(name, "+"); ok {
			p.Name, p.Append = n, true
		}
		p.Val = value.Str(rhs)
	}
	if strings.Contains(p.Name, "[") {
		lv, err := v.ev.ParseLValue(p.Name, pos)
		if err != nil {
			return p, err
		}
		p.LV, p.Name = lv, lv.VarName()
		return p, nil
	}
	if !syntax.ValidName(p.Name) {
		return p, fmt.Errorf("‘%s’: not a valid identifier", w)
	}
	return p, nil
}

// controlFlow handles break, continue, return and exit, which unwind the
// interpreter rather than run as builtins.
func (v *Vm) controlFlow(name string, args []string, pos syntax.Pos) (int, error) {
	n := -1
	if len(args) > 0 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil {
			return 0, errors.DieStatus(errors.CodeUsage, pos,
				"‘%s’: expected a small integer", args[0])
		}
	}

	switch name {
	case "break", "continue":
		if n == -1 {
			n = 1
		}
		if n < 1 {
			return 0, errors.DieStatus(errors.CodeUsage, pos,
				"%s: expected a positive argument, got %d", name, n)
		}
		if v.loopDepth == 0 {
			if v.opts.Get(state.StrictControlFlow) {
				return 0, errors.Die(pos, "Invalid control flow at top level")
			}
			v.diag.Message(pos, v.source, "warning: Invalid control flow at top level")
			return 0, nil
		}
		if name == "break" {
			return 0, errBreak{n, pos}
		}
		return 0, errContinue{n, pos}
	case "return":
		if n == -1 {
			n = v.mem.LastStatus()
		}
		return 0, errReturn(n)
	}
	if n == -1 {
		n = v.mem.LastStatus()
	}
	return 0, errExitCode(n)
}

// RunSimpleCommand runs a command by name: special builtins, then
// functions, then other builtins, then programs found in PATH.
func (v *Vm) RunSimpleCommand(argv []string, pos syntax.Pos, useFuncs bool) (int, error) {
	name := argv[0]
	if i := builtin.LookupSpecialBuiltin(name); i != builtin.NoIndex {
		return v.runBuiltin(i, argv, nil)
	}
	if useFuncs {
		if body, ok := v.funcs[name]; ok {
			if err := v.strictErrExitDisabled("function ‘" + name + "’"); err != nil {
				return 0, err
			}
			return v.RunProc(name, body, argv)
		}
	}
	if i, _ := builtin.Lookup(name); i != builtin.NoIndex {
		return v.runBuiltin(i, argv, nil)
	}
	return v.runProgram(argv, pos, "", nil)
}

// setStreams gives cmd the shell's standard streams.  A closed descriptor
// leaves the stream unset.
func (v *Vm) setStreams(cmd *exec.Cmd) {
	if f := v.fds.File(0); f != nil {
		cmd.Stdin = f
	}
	if f := v.fds.File(1); f != nil {
		cmd.Stdout = f
	}
	if f := v.fds.File(2); f != nil {
		cmd.Stderr = f
	}
}

func (v *Vm) runBuiltin(i builtin.Index, argv []string, cmd *exec.Cmd) (int, error) {
	if cmd == nil {
		cmd = &exec.Cmd{Args: argv}
		v.setStreams(cmd)
	}
	status := builtin.RunBuiltin(i, v, cmd)
	return int(status), v.takeAbort()
}

func (v *Vm) pathVar() string {
	s, _ := value.AsString(v.mem.GetValue("PATH", v.mem.ReadScope()))
	return s
}

func (v *Vm) lookupCommand(name, path string) (string, error) {
	if path == "" {
		path = v.pathVar()
	}
	return v.path.Lookup(name, path, v.mem.Pwd())
}

// runProgram runs an external program.  A non-empty path replaces $PATH for
// the lookup, and env replaces the exported variables.
func (v *Vm) runProgram(argv []string, pos syntax.Pos, path string, env []string) (int, error) {
	full, err := v.lookupCommand(argv[0], path)
	var lerr *process.LookupError
	switch {
	case errors.As(err, &lerr):
		msg := err.Error()
		if lerr.Status == errors.CodeNotFound {
			if s := v.suggest(argv[0]); s != "" {
				msg = fmt.Sprintf("%s (did you mean ‘%s’?)", msg, s)
			}
		}
		v.diag.Message(pos, v.source, msg)
		return lerr.Status, nil
	case err != nil:
		return 0, err
	}
	if env == nil {
		env = v.mem.Environ()
	}
	return v.runExternal(full, argv, env)
}

// suggest returns a command name close to name, if there is one.
func (v *Vm) suggest(name string) string {
	words := builtin.Names()
	for fn := range v.funcs {
		words = append(words, fn)
	}
	for _, dir := range filepath.SplitList(v.pathVar()) {
		if dir == "" {
			continue
		}
		ents, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range ents {
			words = append(words, e.Name())
		}
	}

	model := fuzzy.NewModel()
	model.SetThreshold(1)
	model.SetDepth(2)
	model.Train(words)
	if s := model.SpellCheck(name); s != "" && s != name {
		return s
	}
	return ""
}

func (v *Vm) runExternal(path string, argv, env []string) (int, error) {
	fds, err := v.fds.Clone()
	if err != nil {
		return 0, internal("Failed to copy descriptors: %s", err)
	}
	p := process.NewProcess(process.ExternalThunk{
		Path: path,
		Argv: argv,
		Env:  env,
		Dir:  v.mem.Pwd(),
	}, fds, v.waiter)
	p.Desc = strings.Join(argv, " ")
	if v.jc.Enabled() {
		p.Group = process.NewPgid
		p.Foreground = true
	}

	if err := p.Start(); err != nil {
		fds.CloseAll()
		fmt.Fprintf(v.stderr(), "osh: Can't execute ‘%s’: %s\n", path, err)
		if os.IsNotExist(err) {
			return errors.CodeNotFound, nil
		}
		return errors.CodeNotExecutable, nil
	}

	status, err := p.Wait()
	v.jc.MaybeTakeTerminal()
	if err != nil {
		return 0, err
	}
	if p.State() == process.Stopped {
		v.jobs.AddJob(p)
	} else {
		v.jobs.RemoveChild(p.Pid())
	}
	return status, nil
}

// RunProc calls the function body with argv as its positional parameters.
func (v *Vm) RunProc(name string, body *syntax.Stmt, argv []string) (int, error) {
	if v.mem.CallDepth() >= maxCallDepth {
		return 0, errors.Die(body.Pos(), "Function call depth limit of %d exceeded", maxCallDepth)
	}

	v.mem.PushCall(name, argv[1:])
	loopDepth := v.loopDepth
	v.loopDepth = 0
	status, err := v.Execute(body)
	v.loopDepth = loopDepth
	v.mem.PopCall()

	switch e := err.(type) {
	case nil:
	case errReturn:
		status, err = int(e), nil
	case errBreak:
		return 0, errors.Die(e.pos, "Unexpected ‘break’ in function ‘%s’", name)
	case errContinue:
		return 0, errors.Die(e.pos, "Unexpected ‘continue’ in function ‘%s’", name)
	default:
		return status, err
	}

	v.mem.SetLastStatus(status)
	if err := v.runHook("RETURN"); err != nil {
		return status, err
	}
	return status, nil
}

// checkSignals runs the handlers of signals that arrived since the last
// command, and raises a pending ‘exit’ or a fatal signal.
func (v *Vm) checkSignals() error {
	if sig := v.sigs.FatalSignal(); sig != 0 {
		return process.Killed(sig)
	}
	v.runSignalTraps()
	if err := v.trapErr; err != nil {
		v.trapErr = nil
		return err
	}
	if v.subshell && v.sigs.PollUntrappedSigInt() {
		return process.Killed(syscall.SIGINT)
	}
	return nil
}

// hasManyStatuses reports whether st can fail in more than one place, in
// which case strict_errexit rejects it as a condition.
func hasManyStatuses(st *syntax.Stmt) bool {
	switch c := st.Cmd.(type) {
	case *syntax.CallExpr, *syntax.TestClause, *syntax.ArithmCmd, nil:
		return false
	case *syntax.BinaryCmd:
		return true
	case *syntax.Block:
		if len(c.Stmts) == 1 {
			return hasManyStatuses(c.Stmts[0])
		}
	}
	return true
}

func cmdKind(st *syntax.Stmt) string {
	switch c := st.Cmd.(type) {
	case *syntax.CallExpr:
		return "command"
	case *syntax.BinaryCmd:
		switch c.Op {
		case syntax.AndStmt, syntax.OrStmt:
			return "and-or list"
		}
		return "pipeline"
	case *syntax.Subshell:
		return "subshell"
	case *syntax.Block:
		return "brace group"
	case *syntax.IfClause:
		return "if statement"
	case *syntax.WhileClause:
		return "loop"
	case *syntax.ForClause:
		return "for loop"
	case *syntax.CaseClause:
		return "case statement"
	case *syntax.TestClause:
		return "[["
	case *syntax.ArithmCmd:
		return "(("
	case *syntax.DeclClause:
		return "declaration"
	}
	return "command"
}

// strictErrExit rejects a left operand of && or || that strict_errexit
// can't check.
func (v *Vm) strictErrExit(st *syntax.Stmt) error {
	if !v.opts.Get(state.StrictErrExit) || !v.opts.Get(state.ErrExit) {
		return nil
	}
	if hasManyStatuses(st) {
		return errors.Die(st.Pos(),
			"strict_errexit only allows simple commands in conditionals (got %s)", cmdKind(st))
	}
	return nil
}

func (v *Vm) strictErrExitList(stmts []*syntax.Stmt) error {
	if !v.opts.Get(state.StrictErrExit) || !v.opts.Get(state.ErrExit) {
		return nil
	}
	if len(stmts) > 1 {
		return errors.Die(stmts[0].Pos(),
			"strict_errexit only allows a single command.  Hint: use ‘try’.")
	}
	return v.strictErrExit(stmts[0])
}

// hidesErrExit reports whether st is a construct whose failures errexit
// would only see through the commands inside it.
func hidesErrExit(st *syntax.Stmt) bool {
	switch c := st.Cmd.(type) {
	case *syntax.Block, *syntax.Subshell, *syntax.IfClause, *syntax.WhileClause,
		*syntax.ForClause, *syntax.CaseClause, *syntax.TimeClause:
		return true
	case *syntax.BinaryCmd:
		return isPipe(c.Op)
	}
	return false
}

// strictErrExitDisabled fails when strict_errexit is on and an enclosing
// construct has disabled errexit, since what follows would silently ignore
// failures.
func (v *Vm) strictErrExitDisabled(what string) error {
	if !v.opts.Get(state.StrictErrExit) || !v.opts.Get(state.ErrExit) {
		return nil
	}
	if pos, ok := v.opts.ErrExitDisabledPos(); ok {
		return errors.Die(pos, "errexit was disabled for this construct, so a %s can't run here", what)
	}
	return nil
}

// checksErrExit reports whether a failure of st triggers errexit.  Compound
// commands are checked through the commands inside them.
func (v *Vm) checksErrExit(st *syntax.Stmt) bool {
	if st.Negated {
		return false
	}
	switch c := st.Cmd.(type) {
	case *syntax.CallExpr:
		if len(c.Args) == 0 {
			return v.cmdSubRan
		}
		return true
	case *syntax.BinaryCmd:
		return c.Op == syntax.Pipe || c.Op == syntax.PipeAll
	case *syntax.Subshell, *syntax.TestClause, *syntax.ArithmCmd,
		*syntax.DeclClause, *syntax.LetClause:
		return true
	}
	return len(st.Redirs) > 0
}

// checkStatus runs the ERR trap after a failure and, under errexit, stops
// the script.
func (v *Vm) checkStatus(st *syntax.Stmt, status int) error {
	if status == 0 {
		return nil
	}
	if _, disabled := v.opts.ErrExitDisabledPos(); !disabled && v.mem.CallDepth() == 0 {
		if err := v.runHook("ERR"); err != nil {
			return err
		}
	}
	if !v.opts.ErrExit() {
		return nil
	}
	return &errors.ErrExitError{
		Status: status,
		Msg:    fmt.Sprintf("%s failed with status %d", capitalize(cmdKind(st)), status),
		Pos:    st.Pos(),
	}
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
