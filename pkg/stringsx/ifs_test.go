package stringsx

import (
	"slices"
	"testing"
)

func assertFields(t *testing.T, got []string, want ...string) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Fatalf("Expected fields %q but got %q", want, got)
	}
}

func TestSplitDefault(t *testing.T) {
	f := NewIFS(DefaultIFS)
	assertFields(t, f.Split("a b  c"), "a", "b", "c")
	assertFields(t, f.Split("  leading and trailing \t\n"), "leading", "and", "trailing")
	assertFields(t, f.Split("   "))
	assertFields(t, f.Split(""))
}

func TestSplitOther(t *testing.T) {
	f := NewIFS(":")
	assertFields(t, f.Split("a::b"), "a", "", "b")
	assertFields(t, f.Split(":a"), "", "a")
	assertFields(t, f.Split("a:"), "a")
	assertFields(t, f.Split("a b:c"), "a b", "c")
}

func TestSplitMixed(t *testing.T) {
	f := NewIFS(" :")
	assertFields(t, f.Split("a : b"), "a", "b")
	assertFields(t, f.Split(" :a"), "", "a")
	assertFields(t, f.Split("a:  :b"), "a", "", "b")
}

func TestSplitEmptyIFS(t *testing.T) {
	f := NewIFS("")
	if !f.Empty() {
		t.Fatalf("Expected empty IFS")
	}
	assertFields(t, f.Split("a b c"), "a b c")
	if f.JoinChar() != "" {
		t.Fatalf("Expected empty join character but got ‘%s’", f.JoinChar())
	}
}

func TestSplitN(t *testing.T) {
	f := NewIFS(DefaultIFS)
	assertFields(t, f.SplitN("  x   y z  ", 2, false), "x", "y z")
	assertFields(t, f.SplitN("x", 3, false), "x")

	g := NewIFS(":")
	assertFields(t, g.SplitN("1:2:3", 2, false), "1", "2:3")
	assertFields(t, g.SplitN("1::3", 2, false), "1", ":3")
}

func TestSplitEscape(t *testing.T) {
	f := NewIFS(DefaultIFS)
	assertFields(t, f.SplitN(`a\ b c`, -1, true), "a b", "c")
	assertFields(t, f.SplitN(`a\ b c`, -1, false), `a\`, "b", "c")
}

func TestClassify(t *testing.T) {
	f := NewIFS(" \t:")
	if f.Classify(' ') != Space || f.Classify('\t') != Space {
		t.Fatalf("Expected blanks to be IFS whitespace")
	}
	if f.Classify('\n') != Regular {
		t.Fatalf("Expected newline to be a regular character")
	}
	if f.Classify(':') != Other {
		t.Fatalf("Expected ‘:’ to be an IFS separator")
	}
	if f.JoinChar() != " " {
		t.Fatalf("Expected join character ‘ ’ but got ‘%s’", f.JoinChar())
	}
}
