package stack

import "testing"

func assertPop[T comparable](t *testing.T, s *Stack[T], x *T) {
	y := s.Pop()
	if x == nil && y == nil || x != nil && y != nil && *x == *y {
		return
	}
	t.Fatalf("Expected top of stack to be ‘%+v’ but got ‘%+v’", x, y)
}

func TestPush(t *testing.T) {
	s := New[int](0)
	for _, x := range []int{1, 69, 420} {
		s.Push(x)
		if y := *s.Peek(); x != y {
			t.Fatalf("Expected top of stack to be ‘%d’ but got ‘%d’", x, y)
		}
	}
	if s.Len() != 3 {
		t.Fatalf("Expected len(s) == 3 but got %d", s.Len())
	}
}

func TestPop(t *testing.T) {
	x := 1
	y := 69
	z := 420
	s := New[int](0)
	s.Push(x)
	s.Push(y)
	s.Push(z)
	assertPop(t, &s, &z)
	assertPop(t, &s, &y)
	assertPop(t, &s, &x)
	assertPop(t, &s, nil)
	if s.Peek() != nil {
		t.Fatalf("Expected empty stack to have no top")
	}
}

func TestTopIs(t *testing.T) {
	x := 1
	y := 69
	z := 420
	s := New[int](0)
	s.Push(x)
	s.Push(y)
	s.Push(z)

	if !s.TopIs(z) {
		t.Fatalf("Expected top to be [%d]", z)
	}
	if !s.TopIs(z, y, x) {
		t.Fatalf("Expected top to be [%d, %d, %d]", z, y, x)
	}
	if s.TopIs(z, y, x, 1337) {
		t.Fatalf("Expected stack to have len(s) == 3")
	}
	s.Pop()
	if !s.TopIs(y, x) {
		t.Fatalf("Expected top to be [%d, %d]", y, x)
	}
}

func TestUnwind(t *testing.T) {
	s := New[string](0)
	s.Push("a")
	s.Push("b")
	s.Push("c")

	var got []string
	s.Unwind(1, func(x string) { got = append(got, x) })
	if len(got) != 2 || got[0] != "c" || got[1] != "b" {
		t.Fatalf("Expected unwind order [c b] but got %v", got)
	}
	if !s.TopIs("a") || s.Len() != 1 {
		t.Fatalf("Expected only ‘a’ to remain but got %v", s)
	}
}

func TestClone(t *testing.T) {
	s := New[int](0)
	s.Push(1)
	c := s.Clone()
	c.Push(2)
	if s.Len() != 1 || c.Len() != 2 {
		t.Fatalf("Expected clone to be independent, got %v and %v", s, c)
	}
}
