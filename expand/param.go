package expand

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/value"
	"mvdan.cc/sh/v3/syntax"
)

func isSpecial(name string) bool {
	if len(name) == 1 && strings.Contains("@*#?-$!", name) {
		return true
	}
	_, err := strconv.Atoi(name)
	return err == nil
}

// arrayIndex returns ‘@’ or ‘*’ if pe subscripts a whole array.
func arrayIndex(pe *syntax.ParamExp) string {
	w, ok := pe.Index.(*syntax.Word)
	if !ok || len(w.Parts) != 1 {
		return ""
	}
	if lit, ok := w.Parts[0].(*syntax.Lit); ok && (lit.Value == "@" || lit.Value == "*") {
		return lit.Value
	}
	return ""
}

// isWholeArray reports whether pe expands to any number of fields when
// double quoted.
func isWholeArray(pe *syntax.ParamExp) bool {
	if pe.Length {
		return false
	}
	if pe.Excl && pe.Names != 0 {
		return pe.Names == syntax.NamesPrefixWords
	}
	if pe.Param.Value == "@" {
		return true
	}
	return arrayIndex(pe) == "@"
}

// paramValue is the value of a parameter in the middle of being expanded.
// When multi is set, strs holds the fields of an array.
type paramValue struct {
	strs  []string
	multi bool
	star  bool // Joined with the first character of IFS
	undef bool
}

func (pv paramValue) scalar() string {
	if len(pv.strs) == 0 {
		return ""
	}
	return pv.strs[0]
}

func (pv paramValue) joined(ifs string) string {
	if !pv.multi {
		return pv.scalar()
	}
	return strings.Join(pv.strs, ifs)
}

// isNull reports whether the value counts as unset, or as null when colon
// is given.
func (pv paramValue) isNull(colon bool) bool {
	if pv.undef {
		return true
	}
	if !colon {
		return false
	}
	if pv.multi {
		return len(pv.strs) == 0 || len(pv.strs) == 1 && pv.strs[0] == ""
	}
	return pv.scalar() == ""
}

func (ev *Evaluator) lookup(name string) value.Value {
	if isSpecial(name) {
		return ev.Mem.Special(name)
	}
	return ev.Mem.GetValue(name, ev.Mem.ReadScope())
}

// subscript applies pe's index to v.
func (ev *Evaluator) subscript(pe *syntax.ParamExp, name string, v value.Value) (paramValue, error) {
	if pe.Index == nil {
		switch v := v.(type) {
		case value.Undef:
			return paramValue{undef: true}, nil
		case *value.Array:
			if name == "@" || name == "*" {
				return paramValue{strs: v.Values(), multi: true, star: name == "*"}, nil
			}
			if ev.Opts.Get(state.StrictArray) {
				return paramValue{}, errors.Die(pe.Pos(),
					"Can't use array ‘%s’ in a string context", name)
			}
		}
		s, ok := value.AsString(v)
		return paramValue{strs: []string{s}, undef: !ok}, nil
	}

	if at := arrayIndex(pe); at != "" {
		pv := paramValue{multi: true, star: at == "*"}
		switch v := v.(type) {
		case value.Undef:
			pv.undef = true
		case *value.Array:
			pv.strs = v.Values()
		case *value.Assoc:
			pv.strs = v.Values()
		default:
			s, _ := value.AsString(v)
			pv.strs = []string{s}
		}
		return pv, nil
	}

	switch v := v.(type) {
	case *value.Assoc:
		k, err := ev.indexKey(pe.Index)
		if err != nil {
			return paramValue{}, err
		}
		s, ok := v.Get(k)
		return paramValue{strs: []string{s}, undef: !ok}, nil
	case *value.Array:
		i, err := ev.EvalArith(pe.Index)
		if err != nil {
			return paramValue{}, err
		}
		s, ok := v.Get(int(i))
		return paramValue{strs: []string{s}, undef: !ok}, nil
	case value.Undef:
		return paramValue{undef: true}, nil
	}

	i, err := ev.EvalArith(pe.Index)
	if err != nil {
		return paramValue{}, err
	}
	if i != 0 {
		if ev.Opts.Get(state.StrictArray) {
			return paramValue{}, errors.Die(pe.Pos(), "Can't index string ‘%s’", name)
		}
		return paramValue{undef: true}, nil
	}
	s, _ := value.AsString(v)
	return paramValue{strs: []string{s}}, nil
}

// indirect resolves ‘${!ref}’, where ref may itself carry a subscript.
func (ev *Evaluator) indirect(pe *syntax.ParamExp, target string) (*syntax.ParamExp, error) {
	w, err := syntax.NewParser().Document(strings.NewReader("${" + target + "}"))
	if err == nil && len(w.Parts) == 1 {
		if ref, ok := w.Parts[0].(*syntax.ParamExp); ok && !ref.Excl && !ref.Length &&
			ref.Exp == nil && ref.Repl == nil && ref.Slice == nil {
			return ref, nil
		}
	}
	return nil, errors.Die(pe.Pos(), "Bad indirect expansion: ‘%s’", target)
}

func (ev *Evaluator) paramValue(pe *syntax.ParamExp) (string, paramValue, error) {
	name := pe.Param.Value
	if pe.Excl {
		switch {
		case pe.Names != 0:
			names := ev.Mem.VarNames(name)
			return name, paramValue{strs: names, multi: true, star: pe.Names == syntax.NamesPrefix}, nil
		case arrayIndex(pe) != "":
			pv := paramValue{multi: true, star: arrayIndex(pe) == "*"}
			switch v := ev.lookup(name).(type) {
			case *value.Array:
				for _, i := range v.Indices() {
					pv.strs = append(pv.strs, strconv.Itoa(i))
				}
			case *value.Assoc:
				pv.strs = v.Keys()
			case value.Undef:
			default:
				pv.strs = []string{"0"}
			}
			return name, pv, nil
		}

		pv, err := ev.subscript(pe, name, ev.lookup(name))
		if err != nil {
			return "", paramValue{}, err
		}
		if pv.undef {
			if ev.Opts.Get(state.NoUnset) {
				return "", paramValue{}, errors.Die(pe.Pos(), "Undefined variable ‘%s’", name)
			}
			return name, pv, nil
		}
		if pv.multi {
			return "", paramValue{}, errors.Die(pe.Pos(),
				"Can't use an array as an indirect reference")
		}
		ref, err := ev.indirect(pe, pv.scalar())
		if err != nil {
			return "", paramValue{}, err
		}
		pv, err = ev.subscript(ref, ref.Param.Value, ev.lookup(ref.Param.Value))
		return ref.Param.Value, pv, err
	}

	pv, err := ev.subscript(pe, name, ev.lookup(name))
	return name, pv, err
}

func isTestOp(op syntax.ParExpOperator) bool {
	switch op {
	case syntax.AlternateUnset, syntax.AlternateUnsetOrNull,
		syntax.DefaultUnset, syntax.DefaultUnsetOrNull,
		syntax.ErrorUnset, syntax.ErrorUnsetOrNull,
		syntax.AssignUnset, syntax.AssignUnsetOrNull:
		return true
	}
	return false
}

// paramExp evaluates a parameter expansion into out.
func (ev *Evaluator) paramExp(pe *syntax.ParamExp, quoted bool, out *[]piece) error {
	name, pv, err := ev.paramValue(pe)
	if err != nil {
		return err
	}

	testOp := pe.Exp != nil && isTestOp(pe.Exp.Op)
	if pv.undef && !testOp && ev.Opts.Get(state.NoUnset) &&
		name != "@" && name != "*" && arrayIndex(pe) == "" {
		if !pe.Excl || pe.Names == 0 {
			return errors.Die(pe.Pos(), "Undefined variable ‘%s’", name)
		}
	}

	if pe.Length {
		var n int
		switch {
		case pv.multi:
			n = len(pv.strs)
		case !pv.undef:
			n = len([]rune(pv.scalar()))
		}
		*out = append(*out, ev.quotedOr(strconv.Itoa(n), quoted))
		return nil
	}

	if testOp {
		done, err := ev.testOp(pe, name, pv, quoted, out)
		if done || err != nil {
			return err
		}
	}

	switch {
	case pe.Slice != nil:
		if pv, err = ev.slice(pe, name, pv); err != nil {
			return err
		}
	case pe.Repl != nil:
		if pv, err = ev.replace(pe, pv); err != nil {
			return err
		}
	case pe.Exp != nil && !testOp:
		if pv, err = ev.transform(pe, name, pv); err != nil {
			return err
		}
	}

	ev.emit(pv, quoted, out)
	return nil
}

func (ev *Evaluator) emit(pv paramValue, quoted bool, out *[]piece) {
	if !pv.multi {
		*out = append(*out, ev.quotedOr(pv.scalar(), quoted))
		return
	}
	if pv.star && quoted {
		*out = append(*out, piece{s: pv.joined(ev.ifs().JoinChar()), kind: pieceQuoted})
		return
	}
	for i, s := range pv.strs {
		p := ev.quotedOr(s, quoted)
		p.brk = i > 0
		*out = append(*out, p)
	}
}

// testOp implements the default, alternate, error and assign operators.  It
// reports whether the expansion is complete.
func (ev *Evaluator) testOp(pe *syntax.ParamExp, name string, pv paramValue, quoted bool, out *[]piece) (bool, error) {
	var colon bool
	switch pe.Exp.Op {
	case syntax.AlternateUnsetOrNull, syntax.DefaultUnsetOrNull,
		syntax.ErrorUnsetOrNull, syntax.AssignUnsetOrNull:
		colon = true
	}
	null := pv.isNull(colon)

	switch pe.Exp.Op {
	case syntax.DefaultUnset, syntax.DefaultUnsetOrNull:
		if !null {
			return false, nil
		}
		return true, ev.evalOperand(pe.Exp.Word, quoted, out)
	case syntax.AlternateUnset, syntax.AlternateUnsetOrNull:
		if null {
			if quoted {
				*out = append(*out, piece{kind: pieceQuoted})
			}
			return true, nil
		}
		return true, ev.evalOperand(pe.Exp.Word, quoted, out)
	case syntax.ErrorUnset, syntax.ErrorUnsetOrNull:
		if !null {
			return false, nil
		}
		msg, err := ev.EvalWordToString(pe.Exp.Word)
		if err != nil {
			return true, err
		}
		if msg == "" {
			msg = "parameter null or not set"
		}
		return true, errors.DieStatus(errors.CodeFailure, pe.Pos(), "%s: %s", name, msg)
	}

	// Assignment
	if !null {
		return false, nil
	}
	if isSpecial(name) {
		return true, errors.Die(pe.Pos(), "Can't assign to special variable ‘%s’", name)
	}
	s, err := ev.EvalWordToString(pe.Exp.Word)
	if err != nil {
		return true, err
	}
	lv, err := ev.lvalueOf(pe, name)
	if err != nil {
		return true, err
	}
	if err := ev.Mem.SetValue(lv, value.Str(s), ev.Mem.WriteScope(), 0); err != nil {
		return true, err
	}
	*out = append(*out, ev.quotedOr(s, quoted))
	return true, nil
}

func (ev *Evaluator) evalOperand(w *syntax.Word, quoted bool, out *[]piece) error {
	if w == nil {
		if quoted {
			*out = append(*out, piece{kind: pieceQuoted})
		}
		return nil
	}
	return ev.evalParts(w.Parts, quoted, out)
}

func (ev *Evaluator) lvalueOf(pe *syntax.ParamExp, name string) (state.LValue, error) {
	if pe.Index == nil {
		return state.Named{Name: name, Pos: pe.Pos()}, nil
	}
	if ev.Mem.IsAssoc(name) {
		k, err := ev.indexKey(pe.Index)
		return state.Keyed{Name: name, Key: k, Pos: pe.Pos()}, err
	}
	i, err := ev.EvalArith(pe.Index)
	return state.Indexed{Name: name, Index: int(i), Pos: pe.Pos()}, err
}

func (pv paramValue) mapStrs(f func(string) (string, error)) (paramValue, error) {
	if pv.undef {
		return pv, nil
	}
	strs := make([]string, len(pv.strs))
	for i, s := range pv.strs {
		var err error
		if strs[i], err = f(s); err != nil {
			return paramValue{}, err
		}
	}
	pv.strs = strs
	return pv, nil
}

// transform implements the prefix and suffix removal, case conversion and
// ‘@’ operators.
func (ev *Evaluator) transform(pe *syntax.ParamExp, name string, pv paramValue) (paramValue, error) {
	op := pe.Exp.Op
	if op == syntax.OtherParamOps {
		arg, err := ev.EvalWordToString(pe.Exp.Word)
		if err != nil {
			return paramValue{}, err
		}
		return ev.atOp(pe, name, arg, pv)
	}

	p, err := ev.EvalPattern(pe.Exp.Word)
	if err != nil {
		return paramValue{}, err
	}

	switch op {
	case syntax.RemSmallSuffix, syntax.RemLargeSuffix,
		syntax.RemSmallPrefix, syntax.RemLargePrefix:
		suffix := op == syntax.RemSmallSuffix || op == syntax.RemLargeSuffix
		longest := op == syntax.RemLargeSuffix || op == syntax.RemLargePrefix
		return pv.mapStrs(func(s string) (string, error) {
			return removePattern(s, p, suffix, longest)
		})
	}

	all := op == syntax.UpperAll || op == syntax.LowerAll
	upper := op == syntax.UpperFirst || op == syntax.UpperAll
	if pe.Exp.Word == nil {
		p = GlobPattern("?")
	}
	rx, err := p.Regexp()
	if err != nil {
		return paramValue{}, err
	}
	return pv.mapStrs(func(s string) (string, error) {
		rs := []rune(s)
		for i, r := range rs {
			if i > 0 && !all {
				break
			}
			if !rx.MatchString(string(r)) {
				continue
			}
			if upper {
				rs[i] = unicode.ToUpper(r)
			} else {
				rs[i] = unicode.ToLower(r)
			}
		}
		return string(rs), nil
	})
}

func (ev *Evaluator) atOp(pe *syntax.ParamExp, name, arg string, pv paramValue) (paramValue, error) {
	switch arg {
	case "Q":
		return pv.mapStrs(func(s string) (string, error) {
			return syntax.Quote(s, syntax.LangBash)
		})
	case "E":
		return pv.mapStrs(func(s string) (string, error) {
			return DecodeEscapes(s), nil
		})
	case "P":
		return pv.mapStrs(func(s string) (string, error) {
			return ev.DecodePrompt(s), nil
		})
	case "a":
		s := ev.attributes(name)
		return pv.mapStrs(func(string) (string, error) { return s, nil })
	case "A":
		if pv.undef {
			return pv, nil
		}
		return paramValue{strs: []string{ev.DeclareLine(name)}}, nil
	case "U", "u", "L":
		return pv.mapStrs(func(s string) (string, error) {
			switch arg {
			case "U":
				return strings.ToUpper(s), nil
			case "L":
				return strings.ToLower(s), nil
			}
			rs := []rune(s)
			if len(rs) > 0 {
				rs[0] = unicode.ToUpper(rs[0])
			}
			return string(rs), nil
		})
	}
	return paramValue{}, errors.Die(pe.Pos(), "Bad parameter transformation ‘@%s’", arg)
}

// attributes returns the flags of a variable as ‘declare’ would spell them.
func (ev *Evaluator) attributes(name string) string {
	c := ev.Mem.GetCell(name, ev.Mem.ReadScope())
	if c == nil {
		return ""
	}
	var sb strings.Builder
	switch c.Val.(type) {
	case *value.Array:
		sb.WriteByte('a')
	case *value.Assoc:
		sb.WriteByte('A')
	}
	if c.Nameref {
		sb.WriteByte('n')
	}
	if c.ReadOnly {
		sb.WriteByte('r')
	}
	if c.Exported {
		sb.WriteByte('x')
	}
	return sb.String()
}

// DeclareLine renders a variable as a ‘declare’ command that would recreate
// it.
func (ev *Evaluator) DeclareLine(name string) string {
	c := ev.Mem.GetCell(name, ev.Mem.ReadScope())
	if c == nil {
		return ""
	}
	flags := ev.attributes(name)
	if flags == "" {
		flags = "-"
	}

	quote := func(s string) string {
		q, err := syntax.Quote(s, syntax.LangBash)
		if err != nil {
			return strconv.Quote(s)
		}
		return q
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "declare -%s %s", flags, name)
	switch v := c.Val.(type) {
	case *value.Array:
		sb.WriteString("=(")
		for i, idx := range v.Indices() {
			if i > 0 {
				sb.WriteByte(' ')
			}
			s, _ := v.Get(idx)
			fmt.Fprintf(&sb, "[%d]=%s", idx, quote(s))
		}
		sb.WriteByte(')')
	case *value.Assoc:
		sb.WriteString("=(")
		for i, k := range v.Keys() {
			if i > 0 {
				sb.WriteByte(' ')
			}
			s, _ := v.Get(k)
			fmt.Fprintf(&sb, "[%s]=%s", quote(k), quote(s))
		}
		sb.WriteByte(')')
	case value.Undef, nil:
	default:
		s, _ := value.AsString(v)
		sb.WriteString("=" + quote(s))
	}
	return sb.String()
}

// slice implements ‘${x:offset:length}’.
func (ev *Evaluator) slice(pe *syntax.ParamExp, name string, pv paramValue) (paramValue, error) {
	if pv.undef {
		return pv, nil
	}
	off, err := ev.EvalArith(pe.Slice.Offset)
	if err != nil {
		return paramValue{}, err
	}
	length := int64(-1)
	hasLength := pe.Slice.Length != nil
	if hasLength {
		if length, err = ev.EvalArith(pe.Slice.Length); err != nil {
			return paramValue{}, err
		}
	}

	if pv.multi {
		strs := pv.strs
		if name == "@" || name == "*" {
			strs = append([]string{ev.Mem.Dollar0()}, strs...)
		} else if pe.Index != nil {
			return ev.sliceArray(pe, name, pv, int(off), int(length), hasLength)
		}
		n := int64(len(strs))
		if off < 0 {
			off += n
			if off < 0 {
				return paramValue{multi: true, star: pv.star}, nil
			}
		}
		if off > n {
			off = n
		}
		end := n
		if hasLength {
			if length < 0 {
				return paramValue{}, errors.Die(pe.Pos(), "Negative slice length %d", length)
			}
			end = min(off+length, n)
		}
		pv.strs = strs[off:end]
		return pv, nil
	}

	rs := []rune(pv.scalar())
	n := int64(len(rs))
	if off < 0 {
		off += n
		if off < 0 {
			return paramValue{strs: []string{""}}, nil
		}
	}
	off = min(off, n)
	end := n
	if hasLength {
		if length < 0 {
			end = n + length
			if end < off {
				return paramValue{}, errors.Die(pe.Pos(),
					"Slice length %d is before the offset", length)
			}
		} else {
			end = min(off+length, n)
		}
	}
	return paramValue{strs: []string{string(rs[off:end])}}, nil
}

// sliceArray slices by index rather than by position, so holes in sparse
// arrays are skipped.
func (ev *Evaluator) sliceArray(pe *syntax.ParamExp, name string, pv paramValue, off, length int, hasLength bool) (paramValue, error) {
	arr, ok := ev.lookup(name).(*value.Array)
	if !ok {
		if _, ok := ev.lookup(name).(*value.Assoc); ok {
			return paramValue{}, errors.Die(pe.Pos(), "Can't slice associative array ‘%s’", name)
		}
		pv.strs = pv.strs[min(max(off, 0), len(pv.strs)):]
		return pv, nil
	}
	if off < 0 {
		off += arr.MaxIndex() + 1
		if off < 0 {
			return paramValue{multi: true, star: pv.star}, nil
		}
	}
	if hasLength && length < 0 {
		return paramValue{}, errors.Die(pe.Pos(), "Negative slice length %d", length)
	}

	out := paramValue{multi: true, star: pv.star, strs: []string{}}
	for _, i := range arr.Indices() {
		if i < off {
			continue
		}
		if hasLength && len(out.strs) == length {
			break
		}
		s, _ := arr.Get(i)
		out.strs = append(out.strs, s)
	}
	return out, nil
}

// replace implements ‘${x/pat/with}’ and its variants.
func (ev *Evaluator) replace(pe *syntax.ParamExp, pv paramValue) (paramValue, error) {
	orig := pe.Repl.Orig
	var anchor byte
	if orig != nil && len(orig.Parts) > 0 {
		if lit, ok := orig.Parts[0].(*syntax.Lit); ok && lit.Value != "" &&
			(lit.Value[0] == '#' || lit.Value[0] == '%') && !pe.Repl.All {
			anchor = lit.Value[0]
			cp := *orig
			cp.Parts = slices.Clone(orig.Parts)
			l2 := *lit
			l2.Value = lit.Value[1:]
			cp.Parts[0] = &l2
			orig = &cp
		}
	}

	p, err := ev.EvalPattern(orig)
	if err != nil {
		return paramValue{}, err
	}
	with, err := ev.EvalWordToString(pe.Repl.With)
	if err != nil {
		return paramValue{}, err
	}
	return pv.mapStrs(func(s string) (string, error) {
		return replacePattern(s, p, with, pe.Repl.All, anchor)
	})
}
