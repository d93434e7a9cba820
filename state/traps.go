package state

import (
	"maps"
	"slices"

	"mvdan.cc/sh/v3/syntax"
)

// Trap is a handler installed with ‘trap’.  An empty Code means the signal
// is ignored.
type Trap struct {
	Code string
	Node *syntax.File
}

// Traps maps hook names (EXIT, ERR, DEBUG, RETURN) and signal names such as
// SIGINT to their handlers.
type Traps struct {
	m map[string]Trap
}

func NewTraps() *Traps {
	return &Traps{m: make(map[string]Trap)}
}

func (t *Traps) Get(name string) (Trap, bool) {
	tr, ok := t.m[name]
	return tr, ok
}

func (t *Traps) Set(name string, tr Trap) {
	t.m[name] = tr
}

func (t *Traps) Remove(name string) {
	delete(t.m, name)
}

// Names returns the names with a handler, sorted.
func (t *Traps) Names() []string {
	return slices.Sorted(maps.Keys(t.m))
}

// ForSubshell returns the traps a subshell inherits: ignored signals stay
// ignored and every other handler is reset.
func (t *Traps) ForSubshell() *Traps {
	c := NewTraps()
	for name, tr := range t.m {
		if tr.Code == "" {
			c.m[name] = tr
		}
	}
	return c
}
