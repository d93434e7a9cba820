package expand

import (
	"regexp"
	"strconv"
	"strings"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/value"
	"golang.org/x/term"
	"mvdan.cc/sh/v3/syntax"
)

var unaryTests = []syntax.UnTestOperator{
	syntax.TsExists, syntax.TsRegFile, syntax.TsDirect, syntax.TsCharSp,
	syntax.TsBlckSp, syntax.TsNmPipe, syntax.TsSocket, syntax.TsSmbLink,
	syntax.TsSticky, syntax.TsGIDSet, syntax.TsUIDSet, syntax.TsGrpOwn,
	syntax.TsUsrOwn, syntax.TsModif, syntax.TsRead, syntax.TsWrite,
	syntax.TsExec, syntax.TsNoEmpty, syntax.TsFdTerm, syntax.TsEmpStr,
	syntax.TsNempStr, syntax.TsOptSet, syntax.TsVarSet, syntax.TsRefVar,
}

var binaryTests = []syntax.BinTestOperator{
	syntax.TsNewer, syntax.TsOlder, syntax.TsDevIno, syntax.TsEql,
	syntax.TsNeq, syntax.TsLeq, syntax.TsGeq, syntax.TsLss, syntax.TsGtr,
	syntax.TsMatchShort, syntax.TsMatch, syntax.TsNoMatch, syntax.TsBefore,
	syntax.TsAfter,
}

// LookupUnaryTest maps a ‘test’ operand such as ‘-f’ to its operator.
func LookupUnaryTest(s string) (syntax.UnTestOperator, bool) {
	switch s {
	case "-a":
		return syntax.TsExists, true
	case "-h":
		return syntax.TsSmbLink, true
	}
	for _, op := range unaryTests {
		if op.String() == s {
			return op, true
		}
	}
	return 0, false
}

// LookupBinaryTest maps a ‘test’ operand such as ‘-nt’ to its operator.
func LookupBinaryTest(s string) (syntax.BinTestOperator, bool) {
	for _, op := range binaryTests {
		if op.String() == s {
			return op, true
		}
	}
	return 0, false
}

// EvalCond evaluates the expression inside ‘[[ ]]’.
func (ev *Evaluator) EvalCond(expr syntax.TestExpr) (bool, error) {
	switch x := expr.(type) {
	case *syntax.Word:
		s, err := ev.EvalWordToString(x)
		return s != "", err
	case *syntax.ParenTest:
		return ev.EvalCond(x.X)
	case *syntax.UnaryTest:
		if x.Op == syntax.TsNot {
			b, err := ev.EvalCond(x.X)
			return !b, err
		}
		w, ok := x.X.(*syntax.Word)
		if !ok {
			return false, errors.Die(x.Pos(), "Expected a word after ‘%s’", x.Op)
		}
		s, err := ev.EvalWordToString(w)
		if err != nil {
			return false, err
		}
		return ev.TestUnary(x.Op, s, x.OpPos)
	case *syntax.BinaryTest:
		return ev.condBinary(x)
	}
	return false, errors.Die(expr.Pos(), "Unexpected conditional expression %T", expr)
}

func (ev *Evaluator) condBinary(x *syntax.BinaryTest) (bool, error) {
	switch x.Op {
	case syntax.AndTest, syntax.OrTest:
		l, err := ev.EvalCond(x.X)
		if err != nil || l == (x.Op == syntax.OrTest) {
			return l, err
		}
		return ev.EvalCond(x.Y)
	}

	lw, lok := x.X.(*syntax.Word)
	rw, rok := x.Y.(*syntax.Word)
	if !lok || !rok {
		return false, errors.Die(x.OpPos, "Expected words around ‘%s’", x.Op)
	}
	lhs, err := ev.EvalWordToString(lw)
	if err != nil {
		return false, err
	}

	switch x.Op {
	case syntax.TsMatchShort, syntax.TsMatch, syntax.TsNoMatch:
		p, err := ev.EvalCasePattern(rw)
		if err != nil {
			return false, err
		}
		ok, err := p.Match(lhs)
		return ok == (x.Op != syntax.TsNoMatch), err
	case syntax.TsReMatch:
		expr, err := ev.EvalRegex(rw)
		if err != nil {
			return false, err
		}
		return ev.regexMatch(lhs, expr, x.OpPos)
	}

	rhs, err := ev.EvalWordToString(rw)
	if err != nil {
		return false, err
	}
	if isIntTest(x.Op) {
		l, err := ev.strict(ev.strToInt(lhs, lw.Pos()))
		if err != nil {
			return false, err
		}
		r, err := ev.strict(ev.strToInt(rhs, rw.Pos()))
		if err != nil {
			return false, err
		}
		return compareInts(x.Op, l, r), nil
	}
	return ev.TestBinary(x.Op, lhs, rhs, x.OpPos)
}

func isIntTest(op syntax.BinTestOperator) bool {
	switch op {
	case syntax.TsEql, syntax.TsNeq, syntax.TsLeq, syntax.TsGeq, syntax.TsLss, syntax.TsGtr:
		return true
	}
	return false
}

func compareInts(op syntax.BinTestOperator, l, r int64) bool {
	switch op {
	case syntax.TsEql:
		return l == r
	case syntax.TsNeq:
		return l != r
	case syntax.TsLeq:
		return l <= r
	case syntax.TsGeq:
		return l >= r
	case syntax.TsLss:
		return l < r
	}
	return l > r
}

// regexMatch matches s against an extended regular expression and records
// the submatches in BASH_REMATCH.
func (ev *Evaluator) regexMatch(s, expr string, pos syntax.Pos) (bool, error) {
	if ev.Opts.Get(state.NoCaseMatch) {
		expr = "(?i)" + expr
	}
	rx, err := regexp.Compile(expr)
	if err != nil {
		return false, errors.DieStatus(errors.CodeUsage, pos, "Invalid regex ‘%s’", expr)
	}
	rx.Longest()

	m := rx.FindStringSubmatch(s)
	if m == nil {
		ev.Mem.ClearMatches()
		return false, nil
	}
	ev.Mem.SetMatches(m)
	return true, nil
}

// TestUnary evaluates a unary operator on an already expanded operand.  It
// is shared by ‘[[’ and the ‘test’ builtin.
func (ev *Evaluator) TestUnary(op syntax.UnTestOperator, s string, pos syntax.Pos) (bool, error) {
	switch op {
	case syntax.TsEmpStr:
		return s == "", nil
	case syntax.TsNempStr:
		return s != "", nil
	case syntax.TsOptSet:
		if opt, ok := state.LookupSetOption(s); ok {
			return ev.Opts.Get(opt), nil
		}
		return false, nil
	case syntax.TsVarSet:
		return ev.varSet(s)
	case syntax.TsRefVar:
		c := ev.Mem.GetCell(s, ev.Mem.ReadScope())
		return c != nil && c.Nameref, nil
	case syntax.TsFdTerm:
		fd, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return false, errors.DieStatus(errors.CodeUsage, pos, "Invalid file descriptor ‘%s’", s)
		}
		if ev.Exec == nil {
			return term.IsTerminal(fd), nil
		}
		f := ev.Exec.File(fd)
		return f != nil && term.IsTerminal(int(f.Fd())), nil
	}
	return ev.fileTest(op, s), nil
}

// varSet implements ‘-v’, which accepts ‘name’ and ‘name[index]’.
func (ev *Evaluator) varSet(s string) (bool, error) {
	name, index, ok := strings.Cut(s, "[")
	if !ok {
		return !value.IsUndef(ev.lookup(name)), nil
	}
	index = strings.TrimSuffix(index, "]")
	switch v := ev.lookup(name).(type) {
	case *value.Assoc:
		_, ok := v.Get(index)
		return ok, nil
	case *value.Array:
		i, err := ev.strict(ev.strToInt(index, syntax.Pos{}))
		if err != nil {
			return false, err
		}
		_, ok := v.Get(int(i))
		return ok, nil
	}
	return false, nil
}

// TestBinary evaluates a binary operator on expanded operands.  Integers
// must be constants and ‘=’ compares literally.
func (ev *Evaluator) TestBinary(op syntax.BinTestOperator, a, b string, pos syntax.Pos) (bool, error) {
	switch op {
	case syntax.TsNewer, syntax.TsOlder, syntax.TsDevIno:
		return ev.compareFiles(op, a, b), nil
	case syntax.TsMatchShort, syntax.TsMatch:
		return a == b, nil
	case syntax.TsNoMatch:
		return a != b, nil
	case syntax.TsBefore:
		return a < b, nil
	case syntax.TsAfter:
		return a > b, nil
	case syntax.TsReMatch:
		return ev.regexMatch(a, b, pos)
	}

	l, err := testInt(a, pos)
	if err != nil {
		return false, err
	}
	r, err := testInt(b, pos)
	if err != nil {
		return false, err
	}
	return compareInts(op, l, r), nil
}

func testInt(s string, pos syntax.Pos) (int64, error) {
	t := strings.TrimSpace(s)
	neg := strings.HasPrefix(t, "-")
	if neg || strings.HasPrefix(t, "+") {
		t = t[1:]
	}
	if isDigits(t) {
		n, err := strconv.ParseInt(t, 10, 64)
		if err == nil {
			if neg {
				n = -n
			}
			return n, nil
		}
	}
	return 0, errors.DieStatus(errors.CodeUsage, pos, "Invalid integer ‘%s’", s)
}
