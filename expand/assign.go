package expand

import (
	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/value"
	"mvdan.cc/sh/v3/syntax"
)

// EvalAssignLValue returns the target of ‘name=…’, ‘name[i]=…’ or, when assoc
// is set, ‘name[key]=…’.
func (ev *Evaluator) EvalAssignLValue(as *syntax.Assign, assoc bool) (state.LValue, error) {
	name, pos := as.Name.Value, as.Pos()
	switch {
	case as.Index == nil:
		return state.Named{Name: name, Pos: pos}, nil
	case assoc:
		k, err := ev.indexKey(as.Index)
		if err != nil {
			return nil, err
		}
		return state.Keyed{Name: name, Key: k, Pos: pos}, nil
	}
	i, err := ev.EvalArith(as.Index)
	if err != nil {
		return nil, err
	}
	return state.Indexed{Name: name, Index: int(i), Pos: pos}, nil
}

// EvalAssignValue evaluates the right-hand side of an assignment.  A naked
// ‘declare x’ has no value and yields nil.
func (ev *Evaluator) EvalAssignValue(as *syntax.Assign, assoc bool) (value.Value, error) {
	switch {
	case as.Array != nil:
		return ev.EvalArrayLiteral(as.Array, assoc)
	case as.Naked:
		return nil, nil
	case as.Value == nil:
		return value.Str(""), nil
	}
	return ev.EvalRhsWord(as.Value)
}
