package expand

import (
	"strings"
	"testing"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/value"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/syntax"
)

func TestParseInt(t *testing.T) {
	tests := map[string]int64{
		"0":      0,
		"42":     42,
		"0x1F":   31,
		"017":    15,
		"2#101":  5,
		"16#ff":  255,
		"36#z":   35,
		"64#_":   63,
		"64#@":   62,
		"62#Z":   61,
		"10#099": 99,
	}
	for s, want := range tests {
		n, err := ParseInt(s, syntax.Pos{})
		if assert.NoError(t, err, s) {
			assert.Equal(t, want, n, s)
		}
	}

	for _, s := range []string{"09", "0xZZ", "1#1", "65#1", "2#2", "16#", "abc", "12abc"} {
		_, err := ParseInt(s, syntax.Pos{})
		if assert.Error(t, err, s) {
			assert.True(t, errors.IsStrict(err), s)
		}
	}
}

// Every base#digits constant has the positional value of its digits.
func TestParseIntPositional(t *testing.T) {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ@_"
	for base := 2; base <= 64; base++ {
		for _, ds := range []string{"1", "10", "11", "101"} {
			var want int64
			for _, c := range ds {
				want = want*int64(base) + int64(c-'0')
			}
			n, err := ParseInt(itoa(base)+"#"+ds, syntax.Pos{})
			require.NoError(t, err)
			assert.Equal(t, want, n, "%d#%s", base, ds)
		}
		top := string(digits[base-1])
		n, err := ParseInt(itoa(base)+"#"+top, syntax.Pos{})
		require.NoError(t, err)
		assert.Equal(t, int64(base-1), n)
	}
}

func itoa(n int) string {
	return formatInt(int64(n))
}

func arith(t *testing.T, ev *Evaluator, src string) (int64, error) {
	t.Helper()
	w, err := syntax.NewParser().Document(strings.NewReader("$((" + src + "))"))
	require.NoError(t, err)
	require.Len(t, w.Parts, 1)
	return ev.EvalArith(w.Parts[0].(*syntax.ArithmExp).X)
}

func TestArith(t *testing.T) {
	ev := newEvaluator(t)
	tests := map[string]int64{
		"1 + 2 * 3":               7,
		"(1 + 2) * 3":             9,
		"2 ** 10":                 1024,
		"7 / 2":                   3,
		"-7 % 3":                  -1,
		"1 << 4":                  16,
		"~0":                      -1,
		"!5":                      0,
		"3 > 2 && 0":              0,
		"0 || 4":                  1,
		"1 ? 10 : 20":             10,
		"0 ? 10 : 20":             20,
		"5 == 5":                  1,
		"0x10 + 010":              24,
		"1, 2, 3":                 3,
		"9223372036854775807 + 1": -9223372036854775808,
	}
	for src, want := range tests {
		n, err := arith(t, ev, src)
		if assert.NoError(t, err, src) {
			assert.Equal(t, want, n, src)
		}
	}
}

func TestArithVariables(t *testing.T) {
	ev := newEvaluator(t)

	n, err := arith(t, ev, "x = 5, x + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, value.Str("5"), ev.Mem.GetValue("x", state.Dynamic))

	n, err = arith(t, ev, "x++")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	n, err = arith(t, ev, "++x")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	n, err = arith(t, ev, "x *= 2")
	require.NoError(t, err)
	assert.Equal(t, int64(14), n)
	assert.Equal(t, "14", get(t, ev, "x"))

	n, err = arith(t, ev, "a[2] = 9")
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	n, err = arith(t, ev, "a[1+1] + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	// Strings are evaluated as expressions
	set(t, ev, "s", value.Str("b + 1"))
	set(t, ev, "b", value.Str("2"))
	n, err = arith(t, ev, "s * 2")
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	n, err = arith(t, ev, "undefined + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestArithErrors(t *testing.T) {
	ev := newEvaluator(t)
	for _, src := range []string{"1 / 0", "1 % 0", "2 ** -1", "1 << -1"} {
		_, err := arith(t, ev, src)
		assert.Error(t, err, src)
	}

	set(t, ev, "bad", value.Str("1 +"))
	n, err := arith(t, ev, "bad")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	ev.Opts.Set(state.StrictArith, true)
	_, err = arith(t, ev, "bad")
	assert.Error(t, err)

	ev.Opts.Set(state.StrictArith, false)
	set(t, ev, "loop", value.Str("loop"))
	_, err = arith(t, ev, "loop")
	assert.Error(t, err)

	set(t, ev, "assoc", value.NewAssoc())
	_, err = arith(t, ev, "assoc")
	assert.Error(t, err)
}

func writeFile(ev *Evaluator, name, data string) error {
	return afero.WriteFile(ev.Fs, name, []byte(data), 0o644)
}

func cond(t *testing.T, ev *Evaluator, src string) (bool, error) {
	t.Helper()
	f, err := syntax.NewParser().Parse(strings.NewReader("[[ "+src+" ]]"), "")
	require.NoError(t, err)
	tc, ok := f.Stmts[0].Cmd.(*syntax.TestClause)
	require.True(t, ok)
	return ev.EvalCond(tc.X)
}

func TestCond(t *testing.T) {
	ev := newEvaluator(t)
	require.NoError(t, ev.Fs.MkdirAll("/d", 0o755))
	require.NoError(t, writeFile(ev, "/d/f", "data"))
	require.NoError(t, writeFile(ev, "/d/empty", ""))
	set(t, ev, "x", value.Str("foo"))

	tests := map[string]bool{
		`foo == f*`:          true,
		`foo == "f*"`:        false,
		`$x != bar`:          true,
		`foo = f?o`:          true,
		`-z ""`:              true,
		`-n $x`:              true,
		`10 -gt 9`:           true,
		`1+1 -eq 2`:          true,
		`a < b`:              true,
		`-f /d/f`:            true,
		`-d /d`:              true,
		`-f /d`:              false,
		`-e /nope`:           false,
		`-s /d/f`:            true,
		`-s /d/empty`:        false,
		`-v x`:               true,
		`-v nope`:            false,
		`-o errexit`:         false,
		`! -e /nope`:         true,
		`-n x && -z ""`:      true,
		`-z x || ( -n x )`:   true,
		`/d/f -ef /d/../d/f`: true,
		`$x`:                 true,
	}
	for src, want := range tests {
		got, err := cond(t, ev, src)
		if assert.NoError(t, err, src) {
			assert.Equal(t, want, got, src)
		}
	}
}

func TestCondRegex(t *testing.T) {
	ev := newEvaluator(t)
	ok, err := cond(t, ev, `abc =~ ^a(b)(x)?c$`)
	require.NoError(t, err)
	assert.True(t, ok)
	m, _ := ev.Mem.GetValue("BASH_REMATCH", state.Dynamic).(*value.Array)
	require.NotNil(t, m)
	assert.Equal(t, []string{"abc", "b", ""}, m.Values())

	ok, err = cond(t, ev, `a.c =~ "a.c"`)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = cond(t, ev, `abc =~ "a.c"`)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = cond(t, ev, `a =~ "("x`)
	assert.NoError(t, err)
	_, err = ev.TestBinary(syntax.TsReMatch, "a", "(", syntax.Pos{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeUsage, errors.Code(err))
}

func TestNoCaseMatch(t *testing.T) {
	ev := newEvaluator(t)
	ev.Opts.Set(state.NoCaseMatch, true)
	ok, err := cond(t, ev, `FOO == f*`)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTestBinary(t *testing.T) {
	ev := newEvaluator(t)
	ok, err := ev.TestBinary(syntax.TsEql, " 3", "3", syntax.Pos{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.TestBinary(syntax.TsMatchShort, "a*", "a*", syntax.Pos{})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = ev.TestBinary(syntax.TsLss, "1+1", "3", syntax.Pos{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeUsage, errors.Code(err))

	op, ok := LookupUnaryTest("-h")
	assert.True(t, ok)
	assert.Equal(t, syntax.TsSmbLink, op)
	bop, ok := LookupBinaryTest("-nt")
	assert.True(t, ok)
	assert.Equal(t, syntax.TsNewer, bop)
}

func TestParseLValue(t *testing.T) {
	ev := newEvaluator(t)
	set(t, ev, "i", value.Str("2"))

	lv, err := ev.ParseLValue("x", syntax.Pos{})
	require.NoError(t, err)
	assert.Equal(t, state.Named{Name: "x"}, lv)

	lv, err = ev.ParseLValue("a[i+1]", syntax.Pos{})
	require.NoError(t, err)
	assert.Equal(t, state.Indexed{Name: "a", Index: 3}, lv)

	set(t, ev, "h", value.NewAssoc())
	lv, err = ev.ParseLValue("h[k 1]", syntax.Pos{})
	require.NoError(t, err)
	assert.Equal(t, state.Keyed{Name: "h", Key: "k 1"}, lv)

	for _, s := range []string{"1x", "a[1", "-"} {
		_, err := ev.ParseLValue(s, syntax.Pos{})
		assert.Error(t, err, s)
	}
}
