package expand

import (
	"testing"

	"git.sr.ht/~mango/osh/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/syntax"
)

func globEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	ev := newEvaluator(t)
	require.NoError(t, ev.Fs.MkdirAll("/g/sub", 0o755))
	require.NoError(t, ev.Fs.MkdirAll("/g/dir.txt", 0o755))
	for _, name := range []string{"a.txt", "b.txt", ".hidden.txt", "c.md", "sub/x.txt", "Upper.TXT"} {
		require.NoError(t, writeFile(ev, "/g/"+name, ""))
	}
	ev.Mem.SetPwd("/g")
	return ev
}

func TestGlob(t *testing.T) {
	ev := globEvaluator(t)
	assert.Equal(t, []string{"a.txt", "b.txt", "dir.txt"}, argv(t, ev, "*.txt"))
	assert.Equal(t, []string{"*.txt"}, argv(t, ev, `"*.txt"`))
	assert.Equal(t, []string{"*.txt"}, argv(t, ev, `\*.txt`))
	assert.Equal(t, []string{"a.txt"}, argv(t, ev, "[a].txt"))
	assert.Equal(t, []string{"a.txt", "b.txt"}, argv(t, ev, "?.txt"))
	assert.Equal(t, []string{"sub/x.txt"}, argv(t, ev, "*/x.txt"))
	assert.Equal(t, []string{"/g/sub/x.txt"}, argv(t, ev, "/g/s*/*"))
	assert.Equal(t, []string{"dir.txt/", "sub/"}, argv(t, ev, "*/"))
	assert.Equal(t, []string{".hidden.txt"}, argv(t, ev, ".*.txt"))
	assert.Equal(t, []string{"*.none"}, argv(t, ev, "*.none"))
}

func TestGlobOptions(t *testing.T) {
	ev := globEvaluator(t)

	ev.Opts.Set(state.DotGlob, true)
	assert.Equal(t, []string{".hidden.txt", "a.txt", "b.txt", "dir.txt"}, argv(t, ev, "*.txt"))
	ev.Opts.Set(state.DotGlob, false)

	ev.Opts.Set(state.NoCaseGlob, true)
	assert.Equal(t, []string{"Upper.TXT"}, argv(t, ev, "u*.txt"))
	ev.Opts.Set(state.NoCaseGlob, false)

	ev.Opts.Set(state.NullGlob, true)
	assert.Empty(t, argv(t, ev, "*.none"))
	ev.Opts.Set(state.NullGlob, false)

	ev.Opts.Set(state.FailGlob, true)
	_, err := ev.EvalWordSequence(words(t, "*.none"))
	assert.Error(t, err)
	ev.Opts.Set(state.FailGlob, false)

	ev.Opts.Set(state.NoGlob, true)
	assert.Equal(t, []string{"*.txt"}, argv(t, ev, "*.txt"))
}

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		pat  Pattern
		s    string
		want bool
	}{
		{GlobPattern("*.go"), "main.go", true},
		{GlobPattern("*.go"), "main.c", false},
		{GlobPattern("[!a]*"), "bcd", true},
		{GlobPattern(`\*`), "*", true},
		{GlobPattern(`\*`), "x", false},
		{LiteralPattern("*"), "*", true},
		{LiteralPattern("*"), "x", false},
		{GlobPattern("[unterminated"), "[unterminated", true},
		{Pattern{segs: []segment{{s: "foo|bar", kind: segExt, op: syntax.GlobOne}}}, "bar", true},
	}
	for _, tt := range tests {
		got, err := tt.pat.Match(tt.s)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s ~ %s", tt.pat, tt.s)
	}
}

func TestRemoveAndReplace(t *testing.T) {
	s, err := removePattern("a/b/c", GlobPattern("*/"), false, false)
	require.NoError(t, err)
	assert.Equal(t, "b/c", s)
	s, err = removePattern("a/b/c", GlobPattern("*/"), false, true)
	require.NoError(t, err)
	assert.Equal(t, "c", s)
	s, err = removePattern("a/b/c", GlobPattern("/*"), true, false)
	require.NoError(t, err)
	assert.Equal(t, "a/b", s)
	s, err = removePattern("a/b/c", GlobPattern("/*"), true, true)
	require.NoError(t, err)
	assert.Equal(t, "a", s)

	s, err = replacePattern("aaa", GlobPattern("a"), "b", true, 0)
	require.NoError(t, err)
	assert.Equal(t, "bbb", s)
	s, err = replacePattern("aaa", GlobPattern(""), "b", true, 0)
	require.NoError(t, err)
	assert.Equal(t, "aaa", s)
}
