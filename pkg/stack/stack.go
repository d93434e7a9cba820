// Package stack provides the LIFO used for the interpreter's scoped resources:
// redirect frames, process substitution frames and errexit suppression.
package stack

type Stack[T comparable] []T

func New[T comparable](n int) Stack[T] {
	return make(Stack[T], 0, n)
}

func (s *Stack[T]) Push(x T) {
	*s = append(*s, x)
}

// Peek returns a pointer to the top of the stack, or nil if it is empty.
func (s Stack[T]) Peek() *T {
	if len(s) == 0 {
		return nil
	}
	return &s[len(s)-1]
}

func (s *Stack[T]) Pop() *T {
	if len(*s) == 0 {
		return nil
	}
	n := len(*s) - 1
	x := (*s)[n]
	var zero T
	(*s)[n] = zero
	*s = (*s)[:n]
	return &x
}

// TopIs reports whether the topmost elements of the stack are x, xs[0], xs[1],
// and so on, starting from the top.
func (s Stack[T]) TopIs(x T, xs ...T) bool {
	xs = append([]T{x}, xs...)
	if len(s) < len(xs) {
		return false
	}
	for i := range xs {
		if xs[i] != s[len(s)-i-1] {
			return false
		}
	}
	return true
}

func (s Stack[T]) Len() int {
	return len(s)
}

// Unwind pops every element down to depth n, calling f on each in LIFO order.
func (s *Stack[T]) Unwind(n int, f func(T)) {
	for len(*s) > n {
		f(*s.Pop())
	}
}

// Clone returns a shallow copy that can be mutated independently.
func (s Stack[T]) Clone() Stack[T] {
	c := make(Stack[T], len(s), cap(s))
	copy(c, s)
	return c
}
