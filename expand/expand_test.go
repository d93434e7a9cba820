package expand

import (
	"os"
	"strings"
	"testing"

	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/value"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/syntax"
)

type stubExec struct{}

func (stubExec) RunCommandSub(cs *syntax.CmdSubst) (string, error) {
	return "sub out", nil
}

func (stubExec) RunProcessSub(ps *syntax.ProcSubst) (string, error) {
	return "/dev/fd/63", nil
}

func (stubExec) File(fd int) *os.File {
	return nil
}

func newEvaluator(t *testing.T, argv ...string) *Evaluator {
	t.Helper()
	opts := state.NewOptions()
	mem := state.NewMem("osh", argv, []string{"HOME=/home/u", "PWD=/"}, opts)
	return New(mem, opts, stubExec{}, afero.NewMemMapFs())
}

func set(t *testing.T, ev *Evaluator, name string, v value.Value) {
	t.Helper()
	require.NoError(t, ev.Mem.SetValue(state.Named{Name: name}, v, state.Dynamic, 0))
}

func get(t *testing.T, ev *Evaluator, name string) string {
	t.Helper()
	s, _ := value.AsString(ev.Mem.GetValue(name, state.Dynamic))
	return s
}

// words parses src as the arguments of a simple command.
func words(t *testing.T, src string) []*syntax.Word {
	t.Helper()
	f, err := syntax.NewParser().Parse(strings.NewReader("echo "+src), "")
	require.NoError(t, err)
	require.Len(t, f.Stmts, 1)
	call, ok := f.Stmts[0].Cmd.(*syntax.CallExpr)
	require.True(t, ok)
	return call.Args[1:]
}

func argv(t *testing.T, ev *Evaluator, src string) []string {
	t.Helper()
	strs, err := ev.EvalWordSequence(words(t, src))
	require.NoError(t, err)
	return strs
}

func str(t *testing.T, ev *Evaluator, src string) string {
	t.Helper()
	ws := words(t, src)
	require.Len(t, ws, 1)
	s, err := ev.EvalWordToString(ws[0])
	require.NoError(t, err)
	return s
}

func TestFieldSplitting(t *testing.T) {
	ev := newEvaluator(t)
	set(t, ev, "x", value.Str("  a  b "))
	assert.Equal(t, []string{"a", "b"}, argv(t, ev, "$x"))
	assert.Equal(t, []string{"  a  b "}, argv(t, ev, `"$x"`))
	assert.Equal(t, []string{"-", "a", "b", "-"}, argv(t, ev, "-$x-"))

	set(t, ev, "IFS", value.Str(":"))
	set(t, ev, "y", value.Str("a::b"))
	assert.Equal(t, []string{"a", "", "b"}, argv(t, ev, "$y"))

	set(t, ev, "IFS", value.Str(""))
	assert.Equal(t, []string{"a::b"}, argv(t, ev, "$y"))
}

func TestEmptyWords(t *testing.T) {
	ev := newEvaluator(t)
	set(t, ev, "e", value.Str(""))
	assert.Empty(t, argv(t, ev, "$e"))
	assert.Equal(t, []string{""}, argv(t, ev, `"$e"`))
	assert.Equal(t, []string{""}, argv(t, ev, `''`))
	assert.Empty(t, argv(t, ev, "$unset"))
}

func TestPositionalArgs(t *testing.T) {
	ev := newEvaluator(t, "a b", "c")
	assert.Equal(t, []string{"a b", "c"}, argv(t, ev, `"$@"`))
	assert.Equal(t, []string{"a", "b", "c"}, argv(t, ev, `$@`))
	assert.Equal(t, []string{"a b c"}, argv(t, ev, `"$*"`))
	assert.Equal(t, []string{"xa b", "cy"}, argv(t, ev, `"x$@y"`))
	assert.Equal(t, []string{"2"}, argv(t, ev, `$#`))
	assert.Equal(t, []string{"osh", "a b"}, argv(t, ev, `"${@:0:2}"`))

	ev = newEvaluator(t)
	assert.Empty(t, argv(t, ev, `"$@"`))
	assert.Equal(t, []string{""}, argv(t, ev, `"$*"`))
}

func TestArrays(t *testing.T) {
	ev := newEvaluator(t)
	arr := value.NewArray("x y", "z")
	arr.Set(5, "five")
	set(t, ev, "a", arr)

	assert.Equal(t, []string{"x y", "z", "five"}, argv(t, ev, `"${a[@]}"`))
	assert.Equal(t, []string{"x y z five"}, argv(t, ev, `"${a[*]}"`))
	assert.Equal(t, []string{"0", "1", "5"}, argv(t, ev, `${!a[@]}`))
	assert.Equal(t, "3", str(t, ev, `${#a[@]}`))
	assert.Equal(t, "five", str(t, ev, `${a[5]}`))
	assert.Equal(t, "five", str(t, ev, `${a[-1]}`))
	assert.Equal(t, "x y", str(t, ev, `$a`))
	assert.Equal(t, []string{"z", "five"}, argv(t, ev, `"${a[@]:1}"`))

	as := value.NewAssoc()
	as.Set("k", "v")
	set(t, ev, "m", as)
	assert.Equal(t, "v", str(t, ev, `${m[k]}`))
	assert.Equal(t, []string{"k"}, argv(t, ev, `${!m[@]}`))
}

func TestParamOps(t *testing.T) {
	ev := newEvaluator(t)
	set(t, ev, "x", value.Str("foo.tar.gz"))
	set(t, ev, "e", value.Str(""))

	tests := map[string]string{
		`${x%.*}`:     "foo.tar",
		`${x%%.*}`:    "foo",
		`${x#*.}`:     "tar.gz",
		`${x##*.}`:    "gz",
		`${x/o/0}`:    "f0o.tar.gz",
		`${x//o/0}`:   "f00.tar.gz",
		`${x/#f/F}`:   "Foo.tar.gz",
		`${x/%gz/xz}`: "foo.tar.xz",
		`${#x}`:       "10",
		`${x:1:3}`:    "oo.",
		`${x: -2}`:    "gz",
		`${x^}`:       "Foo.tar.gz",
		`${x^^}`:      "FOO.TAR.GZ",
		`${u:-def}`:   "def",
		`${u-def}`:    "def",
		`${e:-def}`:   "def",
		`${e-def}`:    "",
		`${x:+alt}`:   "alt",
		`${u:+alt}`:   "",
		`${x%"*.gz"}`: "foo.tar.gz",
		`${x@Q}`:      "foo.tar.gz",
		`${e@Q}`:      "''",
	}
	for src, want := range tests {
		t.Run(src, func(t *testing.T) {
			assert.Equal(t, want, str(t, ev, src))
		})
	}
}

func TestAssignDefault(t *testing.T) {
	ev := newEvaluator(t)
	assert.Equal(t, "set", str(t, ev, `${u:=set}`))
	assert.Equal(t, "set", get(t, ev, "u"))

	_, err := ev.EvalWordToString(words(t, `${v:?custom message}`)[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom message")
}

func TestIndirect(t *testing.T) {
	ev := newEvaluator(t)
	set(t, ev, "ref", value.Str("target"))
	set(t, ev, "target", value.Str("hit"))
	assert.Equal(t, "hit", str(t, ev, `${!ref}`))

	set(t, ev, "prefix_a", value.Str("1"))
	set(t, ev, "prefix_b", value.Str("2"))
	assert.Equal(t, []string{"prefix_a", "prefix_b"}, argv(t, ev, `"${!prefix_@}"`))
}

func TestNounset(t *testing.T) {
	ev := newEvaluator(t)
	ev.Opts.Set(state.NoUnset, true)

	_, err := ev.EvalWordToString(words(t, `$nope`)[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	assert.Equal(t, "ok", str(t, ev, `${nope:-ok}`))
	assert.Empty(t, argv(t, ev, `"$@"`))
}

func TestBraces(t *testing.T) {
	ev := newEvaluator(t)
	assert.Equal(t, []string{"abd", "acd"}, argv(t, ev, "a{b,c}d"))
	assert.Equal(t, []string{"1", "2", "3"}, argv(t, ev, "{1..3}"))
	assert.Equal(t, []string{"{a,b}"}, argv(t, ev, `"{a,b}"`))
}

func TestTilde(t *testing.T) {
	ev := newEvaluator(t)
	assert.Equal(t, "/home/u/x", str(t, ev, "~/x"))
	assert.Equal(t, "~/x", str(t, ev, `"~/x"`))
	assert.Equal(t, "a~", str(t, ev, "a~"))
	assert.Equal(t, "/", str(t, ev, "~+"))
}

func TestQuoting(t *testing.T) {
	ev := newEvaluator(t)
	assert.Equal(t, `a b`, str(t, ev, `'a b'`))
	assert.Equal(t, "tab\there", str(t, ev, `$'tab\there'`))
	assert.Equal(t, `$x "q" \n`, str(t, ev, `"\$x \"q\" \n"`))
	assert.Equal(t, "ab", str(t, ev, `a\b`))
	assert.Equal(t, "sub out", str(t, ev, "$(cmd)"))
	assert.Equal(t, "/dev/fd/63", str(t, ev, "<(cmd)"))

	// Quoting a string and evaluating the result gives back the string
	for _, s := range []string{"plain", "with space", "it's", `"$HOME"`, "*?[", "new\nline", ""} {
		q, err := syntax.Quote(s, syntax.LangBash)
		require.NoError(t, err)
		assert.Equal(t, s, str(t, ev, q), "quoted as %s", q)
	}
}

func TestArrayLiteral(t *testing.T) {
	ev := newEvaluator(t)
	f, err := syntax.NewParser().Parse(strings.NewReader(`a=(x "y z" [5]=five six)`), "")
	require.NoError(t, err)
	call := f.Stmts[0].Cmd.(*syntax.CallExpr)

	v, err := ev.EvalArrayLiteral(call.Assigns[0].Array, false)
	require.NoError(t, err)
	arr := v.(*value.Array)
	assert.Equal(t, []int{0, 1, 5, 6}, arr.Indices())
	assert.Equal(t, []string{"x", "y z", "five", "six"}, arr.Values())

	f, err = syntax.NewParser().Parse(strings.NewReader(`m=([b]=2 [a]=1)`), "")
	require.NoError(t, err)
	call = f.Stmts[0].Cmd.(*syntax.CallExpr)
	v, err = ev.EvalArrayLiteral(call.Assigns[0].Array, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, v.(*value.Assoc).Keys())
}

func TestRedirectWord(t *testing.T) {
	ev := newEvaluator(t)
	set(t, ev, "two", value.Str("a b"))

	s, err := ev.EvalRedirectWord(words(t, `"$two"`)[0])
	require.NoError(t, err)
	assert.Equal(t, "a b", s)

	_, err = ev.EvalRedirectWord(words(t, `$two`)[0])
	assert.Error(t, err)
}
