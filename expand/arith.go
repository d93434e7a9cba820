package expand

import (
	"strings"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/value"
	"mvdan.cc/sh/v3/syntax"
)

const maxArithDepth = 100

// EvalArith evaluates an arithmetic expression with 64-bit wrapping
// integers.
func (ev *Evaluator) EvalArith(expr syntax.ArithmExpr) (int64, error) {
	switch x := expr.(type) {
	case nil:
		return 0, nil
	case *syntax.Word:
		return ev.arithWord(x)
	case *syntax.ParenArithm:
		return ev.EvalArith(x.X)
	case *syntax.UnaryArithm:
		return ev.arithUnary(x)
	case *syntax.BinaryArithm:
		return ev.arithBinary(x)
	}
	return 0, errors.Die(expr.Pos(), "Unexpected arithmetic expression %T", expr)
}

// strict substitutes 0 for a StrictError unless strict_arith is set.
func (ev *Evaluator) strict(n int64, err error) (int64, error) {
	if err == nil || !errors.IsStrict(err) {
		return n, err
	}
	if ev.Opts.Get(state.StrictArith) {
		var se *errors.StrictError
		errors.As(err, &se)
		return 0, errors.Die(se.Pos, "%s", se.Msg)
	}
	return 0, nil
}

func (ev *Evaluator) arithWord(w *syntax.Word) (int64, error) {
	if lit := w.Lit(); lit != "" {
		if syntax.ValidName(lit) {
			return ev.strict(ev.varToInt(state.Named{Name: lit, Pos: w.Pos()}))
		}
		n, err := ParseInt(lit, w.Pos())
		if err != nil {
			var se *errors.StrictError
			errors.As(err, &se)
			return 0, errors.Die(w.Pos(), "%s", se.Msg)
		}
		return n, nil
	}
	if lv, ok, err := ev.arithLValue(w); ok {
		if err != nil {
			return 0, err
		}
		return ev.strict(ev.varToInt(lv))
	}

	s, err := ev.EvalWordToString(w)
	if err != nil {
		return 0, err
	}
	return ev.strict(ev.strToInt(s, w.Pos()))
}

// strToInt coerces a string, evaluating it as an expression if it isn't a
// plain constant.
func (ev *Evaluator) strToInt(s string, pos syntax.Pos) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := ParseInt(s, pos)
	if err == nil {
		return n, nil
	}
	if constantShaped(s) {
		return 0, err
	}

	if ev.arithDepth >= maxArithDepth {
		return 0, errors.Die(pos, "Arithmetic expression recursed too deeply")
	}
	w, perr := syntax.NewParser().Document(strings.NewReader("$((" + s + "))"))
	if perr != nil || len(w.Parts) != 1 {
		return 0, errors.Strict(pos, "Parse error in recursive arithmetic: ‘%s’", s)
	}
	ae, ok := w.Parts[0].(*syntax.ArithmExp)
	if !ok {
		return 0, errors.Strict(pos, "Parse error in recursive arithmetic: ‘%s’", s)
	}

	ev.arithDepth++
	defer func() { ev.arithDepth-- }()
	return ev.EvalArith(ae.X)
}

// constantShaped reports whether s can only be a constant, so that failing to
// parse it shouldn't fall back to evaluating it as an expression.
func constantShaped(s string) bool {
	if s[0] < '0' || s[0] > '9' {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		_, ok := digitValue(byte(r))
		return r > 0x7f || !ok && r != '#'
	}) == -1
}

// varToInt reads a variable in arithmetic context.
func (ev *Evaluator) varToInt(lv state.LValue) (int64, error) {
	v, err := ev.lvalueGet(lv)
	if err != nil {
		return 0, err
	}
	switch v := v.(type) {
	case value.Undef:
		if ev.Opts.Get(state.NoUnset) {
			return 0, errors.Die(lv.Position(), "Undefined variable ‘%s’", lv.VarName())
		}
		return 0, errors.Strict(lv.Position(), "Undefined value in arithmetic context")
	case value.Str:
		return ev.strToInt(string(v), lv.Position())
	case value.Int:
		return int64(v), nil
	}
	return 0, errors.Die(lv.Position(),
		"Expected a value convertible to integer, got %s", v.Kind())
}

func (ev *Evaluator) lvalueGet(lv state.LValue) (value.Value, error) {
	v := ev.lookup(lv.VarName())
	switch lv := lv.(type) {
	case state.Indexed:
		arr, ok := v.(*value.Array)
		if !ok {
			if lv.Index == 0 && !value.IsUndef(v) {
				return v, nil
			}
			return value.Undef{}, nil
		}
		if s, ok := arr.Get(lv.Index); ok {
			return value.Str(s), nil
		}
		return value.Undef{}, nil
	case state.Keyed:
		a, ok := v.(*value.Assoc)
		if !ok {
			return value.Undef{}, nil
		}
		if s, ok := a.Get(lv.Key); ok {
			return value.Str(s), nil
		}
		return value.Undef{}, nil
	}
	return v, nil
}

// arithLValue recognises ‘name’ and ‘name[index]’ operands.  ok is false
// for anything else.
func (ev *Evaluator) arithLValue(w *syntax.Word) (state.LValue, bool, error) {
	if lit := w.Lit(); syntax.ValidName(lit) {
		return state.Named{Name: lit, Pos: w.Pos()}, true, nil
	}
	if len(w.Parts) != 1 {
		return nil, false, nil
	}
	pe, ok := w.Parts[0].(*syntax.ParamExp)
	if !ok || pe.Index == nil || pe.Excl || pe.Length || pe.Exp != nil ||
		pe.Slice != nil || pe.Repl != nil {
		return nil, false, nil
	}
	lv, err := ev.lvalueOf(pe, pe.Param.Value)
	return lv, true, err
}

func (ev *Evaluator) arithAssign(x syntax.ArithmExpr, n int64) error {
	w, ok := x.(*syntax.Word)
	if !ok {
		return errors.Die(x.Pos(), "Invalid arithmetic assignment target")
	}
	lv, ok, err := ev.arithLValue(w)
	switch {
	case err != nil:
		return err
	case !ok:
		return errors.Die(x.Pos(), "Invalid arithmetic assignment target")
	}
	return ev.Mem.SetValue(lv, value.Str(formatInt(n)), ev.Mem.WriteScope(), 0)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (ev *Evaluator) arithUnary(x *syntax.UnaryArithm) (int64, error) {
	switch x.Op {
	case syntax.Inc, syntax.Dec:
		old, err := ev.EvalArith(x.X)
		if err != nil {
			return 0, err
		}
		n := old + 1
		if x.Op == syntax.Dec {
			n = old - 1
		}
		if err := ev.arithAssign(x.X, n); err != nil {
			return 0, err
		}
		if x.Post {
			return old, nil
		}
		return n, nil
	}

	n, err := ev.EvalArith(x.X)
	if err != nil {
		return 0, err
	}
	switch x.Op {
	case syntax.Not:
		return boolInt(n == 0), nil
	case syntax.BitNegation:
		return ^n, nil
	case syntax.Minus:
		return -n, nil
	}
	return n, nil
}

func (ev *Evaluator) arithBinary(x *syntax.BinaryArithm) (int64, error) {
	switch x.Op {
	case syntax.AndArit, syntax.OrArit:
		l, err := ev.EvalArith(x.X)
		if err != nil {
			return 0, err
		}
		if (x.Op == syntax.AndArit) == (l == 0) {
			return boolInt(l != 0), nil
		}
		r, err := ev.EvalArith(x.Y)
		return boolInt(r != 0), err
	case syntax.Comma:
		if _, err := ev.EvalArith(x.X); err != nil {
			return 0, err
		}
		return ev.EvalArith(x.Y)
	case syntax.TernQuest:
		cond, err := ev.EvalArith(x.X)
		if err != nil {
			return 0, err
		}
		branches, ok := x.Y.(*syntax.BinaryArithm)
		if !ok || branches.Op != syntax.TernColon {
			return 0, errors.Die(x.Pos(), "Ternary operator without ‘:’")
		}
		if cond != 0 {
			return ev.EvalArith(branches.X)
		}
		return ev.EvalArith(branches.Y)
	case syntax.Assgn:
		n, err := ev.EvalArith(x.Y)
		if err != nil {
			return 0, err
		}
		return n, ev.arithAssign(x.X, n)
	case syntax.AddAssgn, syntax.SubAssgn, syntax.MulAssgn, syntax.QuoAssgn,
		syntax.RemAssgn, syntax.AndAssgn, syntax.OrAssgn, syntax.XorAssgn,
		syntax.ShlAssgn, syntax.ShrAssgn:
		l, err := ev.EvalArith(x.X)
		if err != nil {
			return 0, err
		}
		r, err := ev.EvalArith(x.Y)
		if err != nil {
			return 0, err
		}
		n, err := binArith(x, compoundOps[x.Op], l, r)
		if err != nil {
			return 0, err
		}
		return n, ev.arithAssign(x.X, n)
	}

	l, err := ev.EvalArith(x.X)
	if err != nil {
		return 0, err
	}
	r, err := ev.EvalArith(x.Y)
	if err != nil {
		return 0, err
	}
	return binArith(x, x.Op, l, r)
}

var compoundOps = map[syntax.BinAritOperator]syntax.BinAritOperator{
	syntax.AddAssgn: syntax.Add,
	syntax.SubAssgn: syntax.Sub,
	syntax.MulAssgn: syntax.Mul,
	syntax.QuoAssgn: syntax.Quo,
	syntax.RemAssgn: syntax.Rem,
	syntax.AndAssgn: syntax.And,
	syntax.OrAssgn:  syntax.Or,
	syntax.XorAssgn: syntax.Xor,
	syntax.ShlAssgn: syntax.Shl,
	syntax.ShrAssgn: syntax.Shr,
}

func binArith(x *syntax.BinaryArithm, op syntax.BinAritOperator, l, r int64) (int64, error) {
	switch op {
	case syntax.Add:
		return l + r, nil
	case syntax.Sub:
		return l - r, nil
	case syntax.Mul:
		return l * r, nil
	case syntax.Quo, syntax.Rem:
		if r == 0 {
			return 0, errors.Die(x.OpPos, "Divide by zero")
		}
		if op == syntax.Quo {
			return l / r, nil
		}
		return l % r, nil
	case syntax.Pow:
		if r < 0 {
			return 0, errors.Die(x.OpPos, "Exponent can't be less than zero")
		}
		n := int64(1)
		for ; r > 0; r-- {
			n *= l
		}
		return n, nil
	case syntax.Eql:
		return boolInt(l == r), nil
	case syntax.Neq:
		return boolInt(l != r), nil
	case syntax.Lss:
		return boolInt(l < r), nil
	case syntax.Leq:
		return boolInt(l <= r), nil
	case syntax.Gtr:
		return boolInt(l > r), nil
	case syntax.Geq:
		return boolInt(l >= r), nil
	case syntax.And:
		return l & r, nil
	case syntax.Or:
		return l | r, nil
	case syntax.Xor:
		return l ^ r, nil
	case syntax.Shl, syntax.Shr:
		if r < 0 {
			return 0, errors.Die(x.OpPos, "Can't shift by negative number")
		}
		if op == syntax.Shl {
			return l << uint64(r), nil
		}
		return l >> uint64(r), nil
	}
	return 0, errors.Die(x.OpPos, "Unexpected arithmetic operator ‘%s’", op)
}

// EvalArithString evaluates the text of an arithmetic expression, as ‘let’
// arguments and array subscripts given as strings are.
func (ev *Evaluator) EvalArithString(s string, pos syntax.Pos) (int64, error) {
	return ev.strict(ev.strToInt(s, pos))
}

// ParseLValue parses ‘name’ or ‘name[subscript]’ given as a string, for
// builtins such as ‘unset’ and ‘read’.
func (ev *Evaluator) ParseLValue(s string, pos syntax.Pos) (state.LValue, error) {
	name, sub, ok := strings.Cut(s, "[")
	if !syntax.ValidName(name) || ok && !strings.HasSuffix(sub, "]") {
		return nil, errors.Usage("‘%s’: not a valid identifier", s)
	}
	if !ok {
		return state.Named{Name: name, Pos: pos}, nil
	}
	sub = strings.TrimSuffix(sub, "]")
	if ev.Mem.IsAssoc(name) {
		return state.Keyed{Name: name, Key: sub, Pos: pos}, nil
	}
	i, err := ev.EvalArithString(sub, pos)
	if err != nil {
		return nil, err
	}
	return state.Indexed{Name: name, Index: int(i), Pos: pos}, nil
}
