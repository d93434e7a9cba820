package builtin

import (
	"bytes"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"testing"

	"git.sr.ht/~mango/osh/expand"
	"git.sr.ht/~mango/osh/process"
	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/syntax"
)

// fakeShell backs builtins with real state but runs no code.
type fakeShell struct {
	mem     *state.Mem
	opts    *state.Options
	ev      *expand.Evaluator
	traps   *state.Traps
	signals *process.SignalSafe
	jobs    *process.JobList
	path    *process.SearchPath
	dirs    *DirStack

	funcs   map[string]bool
	evals   []string
	ran     [][]string
	aborted error
}

func newShell(t *testing.T, environ ...string) *fakeShell {
	t.Helper()
	opts := state.NewOptions()
	mem := state.NewMem("osh", nil, append([]string{"PWD=" + t.TempDir(), "HOME=/nonexistent"}, environ...), opts)
	sig := process.NewSignalSafe()
	t.Cleanup(sig.Stop)
	return &fakeShell{
		mem:     mem,
		opts:    opts,
		ev:      expand.New(mem, opts, nil, nil),
		traps:   state.NewTraps(),
		signals: sig,
		jobs:    process.NewJobList(),
		path:    process.NewSearchPath(),
		dirs:    NewDirStack(),
		funcs:   make(map[string]bool),
	}
}

func (sh *fakeShell) Mem() *state.Mem                 { return sh.mem }
func (sh *fakeShell) Opts() *state.Options            { return sh.opts }
func (sh *fakeShell) Expander() *expand.Evaluator     { return sh.ev }
func (sh *fakeShell) Traps() *state.Traps             { return sh.traps }
func (sh *fakeShell) Signals() *process.SignalSafe    { return sh.signals }
func (sh *fakeShell) Waiter() *process.Waiter         { return &process.Waiter{Signals: sh.signals} }
func (sh *fakeShell) Jobs() *process.JobList          { return sh.jobs }
func (sh *fakeShell) SearchPath() *process.SearchPath { return sh.path }
func (sh *fakeShell) DirStack() *DirStack             { return sh.dirs }
func (sh *fakeShell) HasFunc(name string) bool        { return sh.funcs[name] }

func (sh *fakeShell) UnsetFunc(name string) bool {
	ok := sh.funcs[name]
	delete(sh.funcs, name)
	return ok
}

func (sh *fakeShell) Parse(src, name string) (*syntax.File, error) {
	return syntax.NewParser().Parse(strings.NewReader(src), name)
}

func (sh *fakeShell) Eval(src, name string) (int, error) {
	sh.evals = append(sh.evals, src)
	return 3, nil
}

func (sh *fakeShell) Source(path string, argv []string) (int, error) {
	return 0, nil
}

func (sh *fakeShell) RunCommand(cmd *exec.Cmd) (int, error) {
	sh.ran = append(sh.ran, cmd.Args)
	return 0, nil
}

func (sh *fakeShell) Exec(cmd *exec.Cmd) error { return nil }

func (sh *fakeShell) Abort(err error) uint8 {
	sh.aborted = err
	return 1
}

// run runs argv as a builtin and returns its status and output.
func run(t *testing.T, sh *fakeShell, stdin string, argv ...string) (uint8, string, string) {
	t.Helper()
	i, _ := Lookup(argv[0])
	require.NotEqual(t, NoIndex, i, argv[0])
	var stdout, stderr bytes.Buffer
	cmd := &exec.Cmd{
		Args:   argv,
		Stdin:  strings.NewReader(stdin),
		Stdout: &stdout,
		Stderr: &stderr,
	}
	status := RunBuiltin(i, sh, cmd)
	return status, stdout.String(), stderr.String()
}

func str(sh *fakeShell, name string) string {
	s, _ := value.AsString(sh.mem.GetValue(name, state.Dynamic))
	return s
}

func TestLookupKinds(t *testing.T) {
	assert.NotEqual(t, NoIndex, LookupSpecialBuiltin("eval"))
	assert.Equal(t, NoIndex, LookupNormalBuiltin("eval"))
	assert.NotEqual(t, NoIndex, LookupNormalBuiltin("echo"))
	assert.NotEqual(t, NoIndex, LookupAssignBuiltin("local"))
	assert.Equal(t, NoIndex, LookupAssignBuiltin("echo"))

	i, kind := Lookup(".")
	assert.Equal(t, Special, kind)
	assert.Equal(t, ".", i.Name())

	names := Names()
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, "typeset")
}

func TestEcho(t *testing.T) {
	sh := newShell(t)
	tests := []struct {
		argv []string
		want string
	}{
		{[]string{"echo", "a", "b"}, "a b\n"},
		{[]string{"echo", "-n", "a"}, "a"},
		{[]string{"echo", "-e", `a\tb`}, "a\tb\n"},
		{[]string{"echo", "-e", `a\cb`, "c"}, "a"},
		{[]string{"echo", `a\tb`}, `a\tb` + "\n"},
		{[]string{"echo", "-x", "a"}, "-x a\n"},
		{[]string{"echo", "-neE"}, ""},
	}
	for _, tt := range tests {
		status, out, _ := run(t, sh, "", tt.argv...)
		assert.Zero(t, status)
		assert.Equal(t, tt.want, out, "%q", tt.argv)
	}
}

func TestRead(t *testing.T) {
	sh := newShell(t)

	status, _, _ := run(t, sh, "one two  three four\nnext\n", "read", "a", "b")
	assert.Zero(t, status)
	assert.Equal(t, "one", str(sh, "a"))
	assert.Equal(t, "two  three four", str(sh, "b"))

	run(t, sh, "  x\\ y \\\nz\n", "read")
	assert.Equal(t, "  x y z", str(sh, "REPLY"))

	run(t, sh, `x\ y`+"\n", "read", "-r", "a", "b")
	assert.Equal(t, `x\`, str(sh, "a"))
	assert.Equal(t, "y", str(sh, "b"))

	run(t, sh, "a:b:c", "read", "-d", ":", "v")
	assert.Equal(t, "a", str(sh, "v"))

	run(t, sh, "abcdef", "read", "-n", "3", "v")
	assert.Equal(t, "abc", str(sh, "v"))

	status, _, _ = run(t, sh, "1 2 3\n", "read", "-a", "arr")
	assert.Zero(t, status)
	arr, ok := sh.mem.GetValue("arr", state.Dynamic).(*value.Array)
	require.True(t, ok)
	assert.Equal(t, []string{"1", "2", "3"}, arr.Values())

	status, _, _ = run(t, sh, "partial", "read", "v")
	assert.Equal(t, uint8(1), status)
	assert.Equal(t, "partial", str(sh, "v"))

	status, _, stderr := run(t, sh, "", "read", "1x")
	assert.Equal(t, uint8(2), status)
	assert.Contains(t, stderr, "not a valid identifier")
}

func TestReadIFS(t *testing.T) {
	sh := newShell(t)
	require.NoError(t, sh.mem.SetValue(state.Named{Name: "IFS"}, value.Str(":"), state.Dynamic, 0))
	run(t, sh, "a::b\n", "read", "x", "y", "z")
	assert.Equal(t, "a", str(sh, "x"))
	assert.Equal(t, "", str(sh, "y"))
	assert.Equal(t, "b", str(sh, "z"))
}

func TestSet(t *testing.T) {
	sh := newShell(t)

	status, _, _ := run(t, sh, "", "set", "-eu", "-o", "pipefail", "--", "a", "b")
	assert.Zero(t, status)
	assert.True(t, sh.opts.Get(state.ErrExit))
	assert.True(t, sh.opts.Get(state.NoUnset))
	assert.True(t, sh.opts.Get(state.PipeFail))
	assert.Equal(t, []string{"a", "b"}, sh.mem.Argv())

	run(t, sh, "", "set", "+e")
	assert.False(t, sh.opts.Get(state.ErrExit))
	assert.Equal(t, []string{"a", "b"}, sh.mem.Argv())

	run(t, sh, "", "set", "--")
	assert.Empty(t, sh.mem.Argv())

	status, _, stderr := run(t, sh, "", "set", "-o", "nope")
	assert.Equal(t, uint8(2), status)
	assert.Contains(t, stderr, "‘nope’")

	_, out, _ := run(t, sh, "", "set", "-o")
	assert.Contains(t, out, "set +o errexit\n")
}

func TestShift(t *testing.T) {
	sh := newShell(t)
	sh.mem.SetArgv([]string{"a", "b", "c"})

	status, _, _ := run(t, sh, "", "shift")
	assert.Zero(t, status)
	assert.Equal(t, []string{"b", "c"}, sh.mem.Argv())

	status, _, _ = run(t, sh, "", "shift", "5")
	assert.Equal(t, uint8(1), status)
	assert.Equal(t, []string{"b", "c"}, sh.mem.Argv())

	status, _, _ = run(t, sh, "", "shift", "x")
	assert.Equal(t, uint8(2), status)
}

func TestShopt(t *testing.T) {
	sh := newShell(t)

	status, _, _ := run(t, sh, "", "shopt", "-s", "nullglob", "strict:all")
	assert.Zero(t, status)
	assert.True(t, sh.opts.Get(state.NullGlob))
	assert.True(t, sh.opts.Get(state.StrictArith))

	status, _, _ = run(t, sh, "", "shopt", "-q", "nullglob")
	assert.Zero(t, status)
	status, _, _ = run(t, sh, "", "shopt", "-q", "dotglob")
	assert.Equal(t, uint8(1), status)

	_, out, _ := run(t, sh, "", "shopt", "-p", "nullglob", "dotglob")
	assert.Equal(t, "shopt -s nullglob\nshopt -u dotglob\n", out)

	run(t, sh, "", "shopt", "-o", "-s", "xtrace")
	assert.True(t, sh.opts.Get(state.XTrace))

	status, _, _ = run(t, sh, "", "shopt", "-s", "errexit")
	assert.Equal(t, uint8(2), status)
}

func TestTest(t *testing.T) {
	sh := newShell(t)
	tests := []struct {
		argv []string
		want uint8
	}{
		{[]string{"test"}, 1},
		{[]string{"test", ""}, 1},
		{[]string{"test", "x"}, 0},
		{[]string{"test", "-n"}, 0},
		{[]string{"test", "-z", ""}, 0},
		{[]string{"test", "a", "=", "a"}, 0},
		{[]string{"test", "a", "!=", "a"}, 1},
		{[]string{"test", "!", "a", "=", "a"}, 1},
		{[]string{"test", "2", "-lt", "10"}, 0},
		{[]string{"test", "b", "<", "a"}, 1},
		{[]string{"test", "(", "1", "-eq", "1", ")", "-a", "x"}, 0},
		{[]string{"test", "", "-o", "x"}, 0},
		{[]string{"test", "-n", "=", "-n"}, 0},
		{[]string{"test", "x", "-eq", "1"}, 2},
		{[]string{"test", "a", "b"}, 2},
		{[]string{"[", "a", "=", "a", "]"}, 0},
		{[]string{"[", "a", "=", "a"}, 2},
	}
	for _, tt := range tests {
		status, _, _ := run(t, sh, "", tt.argv...)
		assert.Equal(t, tt.want, status, "%q", tt.argv)
	}
}

func TestDeclare(t *testing.T) {
	sh := newShell(t)

	i := LookupAssignBuiltin("declare")
	cmd := &exec.Cmd{Args: []string{"declare", "-x"}, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	status := RunAssign(sh, cmd, []Pair{{Name: "a", Val: value.Str("1")}})
	require.NotEqual(t, NoIndex, i)
	assert.Zero(t, status)
	assert.Contains(t, sh.mem.Environ(), "a=1")

	cmd = &exec.Cmd{Args: []string{"declare", "-A"}, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	RunAssign(sh, cmd, []Pair{{Name: "m", Val: value.NewArray()}})
	_, ok := sh.mem.GetValue("m", state.Dynamic).(*value.Assoc)
	assert.True(t, ok, "declare -A m=() makes an associative array")

	run(t, sh, "", "declare", "-a", "arr")
	arr, ok := sh.mem.GetValue("arr", state.Dynamic).(*value.Array)
	require.True(t, ok)
	assert.Zero(t, arr.Len())

	status, _, _ = run(t, sh, "", "declare", "arr+=x")
	assert.Equal(t, uint8(1), status)
	assert.ErrorContains(t, sh.aborted, "Can't append a string to array")
}

func TestExportReadonly(t *testing.T) {
	sh := newShell(t)

	status, _, _ := run(t, sh, "", "export", "x=1", "y")
	assert.Zero(t, status)
	assert.Contains(t, sh.mem.Environ(), "x=1")
	assert.True(t, sh.mem.GetCell("y", state.Dynamic).Exported)

	run(t, sh, "", "export", "-n", "x")
	assert.NotContains(t, sh.mem.Environ(), "x=1")

	run(t, sh, "", "readonly", "r=2")
	status, _, _ = run(t, sh, "", "declare", "r=3")
	assert.Equal(t, uint8(1), status)
	assert.Error(t, sh.aborted)
	assert.Equal(t, "2", str(sh, "r"))

	_, out, _ := run(t, sh, "", "readonly")
	assert.Equal(t, "declare -r r=2\n", out)

	_, out, _ = run(t, sh, "", "declare", "-p", "x")
	assert.Equal(t, "declare -- x=1\n", out)

	status, _, stderr := run(t, sh, "", "local", "l=1")
	assert.Equal(t, uint8(1), status)
	assert.Contains(t, stderr, "function")
}

func TestUnset(t *testing.T) {
	sh := newShell(t)
	sh.funcs["f"] = true
	run(t, sh, "", "declare", "v=1")

	status, _, _ := run(t, sh, "", "unset", "v", "f")
	assert.Zero(t, status)
	assert.True(t, value.IsUndef(sh.mem.GetValue("v", state.Dynamic)))
	assert.False(t, sh.funcs["f"], "unset falls back to functions")

	sh.funcs["g"] = true
	run(t, sh, "", "unset", "-v", "g")
	assert.True(t, sh.funcs["g"])
	run(t, sh, "", "unset", "-f", "g")
	assert.False(t, sh.funcs["g"])

	require.NoError(t, sh.mem.SetValue(state.Named{Name: "a"}, value.NewArray("x", "y"), state.Dynamic, 0))
	run(t, sh, "", "unset", "a[0]")
	arr := sh.mem.GetValue("a", state.Dynamic).(*value.Array)
	assert.Equal(t, []string{"y"}, arr.Values())
}

func TestCdAndDirStack(t *testing.T) {
	sh := newShell(t)
	start := sh.mem.Pwd()
	sub := start + "/sub"
	require.NoError(t, os.Mkdir(sub, 0o755))

	status, _, _ := run(t, sh, "", "cd", "sub")
	assert.Zero(t, status)
	assert.Equal(t, sub, sh.mem.Pwd())
	assert.Equal(t, sub, str(sh, "PWD"))
	assert.Equal(t, start, str(sh, "OLDPWD"))

	_, out, _ := run(t, sh, "", "cd", "-")
	assert.Equal(t, start+"\n", out)
	assert.Equal(t, start, sh.mem.Pwd())

	status, _, stderr := run(t, sh, "", "cd", "nope")
	assert.Equal(t, uint8(1), status)
	assert.NotEmpty(t, stderr)
	assert.Equal(t, start, sh.mem.Pwd())

	_, out, _ = run(t, sh, "", "pushd", "sub")
	assert.Equal(t, sub+" "+start+"\n", out)
	_, out, _ = run(t, sh, "", "dirs", "-l", "-p")
	assert.Equal(t, sub+"\n"+start+"\n", out)

	_, out, _ = run(t, sh, "", "popd")
	assert.Equal(t, start+"\n", out)
	assert.Equal(t, start, sh.mem.Pwd())

	status, _, _ = run(t, sh, "", "popd")
	assert.Equal(t, uint8(1), status)

	_, out, _ = run(t, sh, "", "pwd")
	assert.Equal(t, start+"\n", out)
}

func TestTrap(t *testing.T) {
	sh := newShell(t)

	status, _, _ := run(t, sh, "", "trap", "echo bye", "EXIT", "int")
	assert.Zero(t, status)
	tr, ok := sh.traps.Get("EXIT")
	require.True(t, ok)
	assert.Equal(t, "echo bye", tr.Code)
	assert.NotNil(t, tr.Node)
	_, ok = sh.traps.Get("SIGINT")
	assert.True(t, ok)

	_, out, _ := run(t, sh, "", "trap", "-p")
	assert.Equal(t, "trap -- 'echo bye' EXIT\ntrap -- 'echo bye' SIGINT\n", out)

	run(t, sh, "", "trap", "-", "INT")
	_, ok = sh.traps.Get("SIGINT")
	assert.False(t, ok)

	run(t, sh, "", "trap", "", "0")
	tr, _ = sh.traps.Get("EXIT")
	assert.Empty(t, tr.Code)

	status, _, stderr := run(t, sh, "", "trap", "x", "NOPE")
	assert.Equal(t, uint8(1), status)
	assert.Contains(t, stderr, "invalid signal specification")

	status, _, _ = run(t, sh, "", "trap", "if", "EXIT")
	assert.Equal(t, uint8(1), status)
}

func TestKillList(t *testing.T) {
	sh := newShell(t)

	_, out, _ := run(t, sh, "", "kill", "-l", "2", "130", "TERM")
	assert.Equal(t, "INT\nINT\n15\n", out)

	_, out, _ = run(t, sh, "", "kill", "-l")
	assert.Contains(t, out, "HUP INT")

	status, _, stderr := run(t, sh, "", "kill", "%1")
	assert.Equal(t, uint8(1), status)
	assert.Contains(t, stderr, "no such job")

	status, _, _ = run(t, sh, "", "kill", "-NOPE", "1")
	assert.Equal(t, uint8(2), status)
}

func TestCommandAndType(t *testing.T) {
	sh := newShell(t, "PATH=/nonexistent")
	sh.funcs["f"] = true

	_, out, _ := run(t, sh, "", "command", "-v", "echo", "f", "if")
	assert.Equal(t, "echo\nf\nif\n", out)

	status, _, _ := run(t, sh, "", "command", "-v", "nope")
	assert.Equal(t, uint8(1), status)

	_, out, _ = run(t, sh, "", "type", "f", "cd", "while")
	assert.Equal(t, "f is a function\ncd is a shell builtin\nwhile is a shell keyword\n", out)

	_, out, _ = run(t, sh, "", "type", "-t", "f", "cd")
	assert.Equal(t, "function\nbuiltin\n", out)

	status, _, _ = run(t, sh, "", "command", "f", "x")
	assert.Zero(t, status)
	assert.Equal(t, [][]string{{"f", "x"}}, sh.ran)
}

func TestEval(t *testing.T) {
	sh := newShell(t)
	status, _, _ := run(t, sh, "", "eval", "echo", "hi")
	assert.Equal(t, uint8(3), status)
	assert.Equal(t, []string{"echo hi"}, sh.evals)

	status, _, _ = run(t, sh, "", "eval")
	assert.Zero(t, status)

	status, _, _ = run(t, sh, "", "source")
	assert.Equal(t, uint8(2), status)
}

func TestDeclareIndexedToAssoc(t *testing.T) {
	sh := newShell(t)
	require.NoError(t, sh.mem.SetValue(state.Named{Name: "a"}, value.NewArray("x", "y"), state.GlobalOnly, 0))

	status, _, errOut := run(t, sh, "", "declare", "-A", "a")
	assert.Zero(t, status)
	assert.Equal(t, "declare: a: cannot convert indexed to associative array\n", errOut)
	_, ok := sh.mem.GetValue("a", state.Dynamic).(*value.Assoc)
	assert.True(t, ok)

	status, _, errOut = run(t, sh, "", "declare", "-A", "a")
	assert.Zero(t, status)
	assert.Empty(t, errOut)
}

func TestKillSelfTrapped(t *testing.T) {
	sh := newShell(t)
	sh.signals.Register(syscall.SIGUSR1)
	t.Cleanup(func() { sh.signals.Unregister(syscall.SIGUSR1) })

	status, _, errOut := run(t, sh, "", "kill", "-USR1", strconv.Itoa(os.Getpid()))
	assert.Zero(t, status, errOut)
	assert.Equal(t, []syscall.Signal{syscall.SIGUSR1}, sh.signals.TakePendingSignals())
}
