package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/syntax"

	"git.sr.ht/~mango/osh/errors"
)

func parsePos(t *testing.T, src string) syntax.Pos {
	t.Helper()
	f, err := syntax.NewParser().Parse(strings.NewReader(src), "t.sh")
	require.NoError(t, err)
	require.NotEmpty(t, f.Stmts)
	return f.Stmts[len(f.Stmts)-1].Pos()
}

func TestFatalWithLocation(t *testing.T) {
	t.Parallel()

	src := "echo ok\n\tfalse\n"
	pos := parsePos(t, src)

	var buf bytes.Buffer
	f := NewFormatter(&buf, false)
	f.AddSource("t.sh", src)
	f.Fatal(errors.Die(pos, "Divide by zero"), "t.sh")

	want := "  \tfalse\n" +
		"  \t^\n" +
		"t.sh:2: fatal: Divide by zero\n"
	assert.Equal(t, want, buf.String())
}

func TestFatalWithoutLocation(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := NewFormatter(&buf, false)
	f.Fatal(errors.New("something broke"), "t.sh")
	assert.Equal(t, "[??? no location ???] fatal: something broke\n", buf.String())
}

func TestFatalSourceOverride(t *testing.T) {
	t.Parallel()

	src := "x=1\n"
	pos := parsePos(t, src)

	var buf bytes.Buffer
	f := NewFormatter(&buf, false)
	f.AddSource("lib.sh", src)
	err := &errors.FatalError{Msg: "boom", Pos: pos, Source: "lib.sh"}
	f.Fatal(err, "main.sh")
	assert.Equal(t, "  x=1\n  ^\nlib.sh:1: fatal: boom\n", buf.String())
}

func TestErrAndWarn(t *testing.T) {
	var buf bytes.Buffer
	old := Stderr
	Stderr = &buf
	defer func() { Stderr = old }()

	Err("can't open %s", "x")
	Warn("Invalid control flow at top level")
	assert.Equal(t, "osh: can't open x\nosh: warning: Invalid control flow at top level\n", buf.String())
}
