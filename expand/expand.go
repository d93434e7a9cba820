// Package expand evaluates words, arithmetic and conditional expressions.
//
// A word is first turned into a list of pieces, each remembering whether it
// was quoted.  The pieces are then split into fields on IFS and each field is
// globbed, with quoted pieces escaped so that they match literally.
package expand

import (
	"os"
	"strings"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/pkg/stringsx"
	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/value"
	"github.com/spf13/afero"
	mvexpand "mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// Executor runs the code inside substitutions.
type Executor interface {
	// RunCommandSub returns the standard output of cs with trailing newlines
	// removed.
	RunCommandSub(cs *syntax.CmdSubst) (string, error)

	// RunProcessSub starts ps and returns the /dev/fd path connected to it.
	RunProcessSub(ps *syntax.ProcSubst) (string, error)

	// File returns the file open on the shell's descriptor fd, if any.
	File(fd int) *os.File
}

type Evaluator struct {
	Mem  *state.Mem
	Opts *state.Options
	Exec Executor
	Fs   afero.Fs

	arithDepth int
}

func New(mem *state.Mem, opts *state.Options, exec Executor, fs afero.Fs) *Evaluator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Evaluator{Mem: mem, Opts: opts, Exec: exec, Fs: fs}
}

type pieceKind uint8

const (
	pieceLit     pieceKind = iota // Unquoted literal text
	pieceQuoted                   // Matches itself, never split
	pieceSplit                    // Unquoted substitution result
	pieceExtGlob                  // An extglob group such as ‘@(a|b)’
)

type piece struct {
	s    string
	kind pieceKind
	brk  bool // Field boundary before this piece
}

func (ev *Evaluator) ifs() stringsx.IFS {
	v := ev.Mem.GetValue("IFS", ev.Mem.ReadScope())
	if s, ok := value.AsString(v); ok {
		return stringsx.NewIFS(s)
	}
	return stringsx.NewIFS(stringsx.DefaultIFS)
}

func joinPieces(ps []piece) string {
	var sb strings.Builder
	for _, p := range ps {
		if p.brk {
			sb.WriteByte(' ')
		}
		sb.WriteString(p.s)
	}
	return sb.String()
}

// EvalWordToString evaluates w without splitting or globbing.
func (ev *Evaluator) EvalWordToString(w *syntax.Word) (string, error) {
	if w == nil {
		return "", nil
	}
	ps, err := ev.wordPieces(w, false)
	if err != nil {
		return "", err
	}
	return joinPieces(ps), nil
}

// EvalRhsWord evaluates the right hand side of an assignment.
func (ev *Evaluator) EvalRhsWord(w *syntax.Word) (value.Value, error) {
	s, err := ev.EvalWordToString(w)
	if err != nil {
		return nil, err
	}
	return value.Str(s), nil
}

// EvalWordSequence evaluates the words of a command into its argv: brace
// expansion, then evaluation, then field splitting and globbing.
func (ev *Evaluator) EvalWordSequence(words []*syntax.Word) ([]string, error) {
	argv := make([]string, 0, len(words))
	for _, w := range words {
		for _, w2 := range braces(w) {
			fields, err := ev.evalFields(w2)
			if err != nil {
				return nil, err
			}
			argv = append(argv, fields...)
		}
	}
	return argv, nil
}

func (ev *Evaluator) evalFields(w *syntax.Word) ([]string, error) {
	ps, err := ev.wordPieces(w, true)
	if err != nil {
		return nil, err
	}

	var argv []string
	for _, field := range splitPieces(ps, ev.ifs()) {
		matches, err := ev.globField(field)
		if err != nil {
			return nil, err
		}
		argv = append(argv, matches...)
	}
	return argv, nil
}

// EvalRedirectWord evaluates a redirect target, which must produce exactly one
// field.
func (ev *Evaluator) EvalRedirectWord(w *syntax.Word) (string, error) {
	if len(braces(w)) > 1 {
		return "", errors.Redirect(w.Pos(), "Can't expand braces in a redirect")
	}
	fields, err := ev.evalFields(w)
	if err != nil {
		return "", err
	}
	switch len(fields) {
	case 0:
		return "", errors.Redirect(w.Pos(), "Redirect filename can't be empty")
	case 1:
		return fields[0], nil
	}
	return "", errors.Redirect(w.Pos(), "Ambiguous redirect: %d words", len(fields))
}

// EvalHereDoc returns the body of a here document.  Bodies with a quoted
// delimiter are taken literally.
func (ev *Evaluator) EvalHereDoc(w *syntax.Word, expand bool) (string, error) {
	if w == nil {
		return "", nil
	}
	if !expand {
		var sb strings.Builder
		for _, part := range w.Parts {
			if lit, ok := part.(*syntax.Lit); ok {
				sb.WriteString(lit.Value)
			}
		}
		return sb.String(), nil
	}
	var ps []piece
	if err := ev.evalParts(w.Parts, true, &ps); err != nil {
		return "", err
	}
	return joinPieces(ps), nil
}

// EvalArrayLiteral evaluates ‘(...)’.  Elements without an index are split and
// globbed; ‘[i]=v’ elements are not.
func (ev *Evaluator) EvalArrayLiteral(expr *syntax.ArrayExpr, assoc bool) (value.Value, error) {
	if assoc {
		return ev.evalAssocLiteral(expr)
	}

	arr := value.NewArray()
	next := 0
	for _, elem := range expr.Elems {
		if elem.Index != nil {
			i, err := ev.EvalArith(elem.Index)
			if err != nil {
				return nil, err
			}
			s, err := ev.EvalWordToString(elem.Value)
			if err != nil {
				return nil, err
			}
			if !arr.Set(int(i), s) {
				return nil, errors.Die(elem.Pos(), "Index %d is out of bounds", i)
			}
			next = int(i) + 1
			continue
		}
		if elem.Value == nil {
			continue
		}
		strs, err := ev.EvalWordSequence([]*syntax.Word{elem.Value})
		if err != nil {
			return nil, err
		}
		for _, s := range strs {
			arr.Set(next, s)
			next++
		}
	}
	return arr, nil
}

func (ev *Evaluator) evalAssocLiteral(expr *syntax.ArrayExpr) (value.Value, error) {
	a := value.NewAssoc()
	keyed := len(expr.Elems) > 0 && expr.Elems[0].Index != nil

	if !keyed {
		// ‘(k1 v1 k2 v2)’
		var words []*syntax.Word
		for _, elem := range expr.Elems {
			if elem.Index != nil {
				return nil, errors.Die(elem.Pos(),
					"Can't mix ‘[key]=value’ with bare words in an associative array")
			}
			words = append(words, elem.Value)
		}
		strs, err := ev.EvalWordSequence(words)
		if err != nil {
			return nil, err
		}
		if len(strs)%2 != 0 {
			return nil, errors.Die(expr.Pos(), "Associative array literal has a key without a value")
		}
		for i := 0; i < len(strs); i += 2 {
			a.Set(strs[i], strs[i+1])
		}
		return a, nil
	}

	for _, elem := range expr.Elems {
		if elem.Index == nil {
			return nil, errors.Die(elem.Pos(),
				"Associative array literal must use ‘[key]=value’")
		}
		k, err := ev.indexKey(elem.Index)
		if err != nil {
			return nil, err
		}
		v, err := ev.EvalWordToString(elem.Value)
		if err != nil {
			return nil, err
		}
		a.Set(k, v)
	}
	return a, nil
}

// indexKey evaluates a subscript as an associative array key.
func (ev *Evaluator) indexKey(idx syntax.ArithmExpr) (string, error) {
	if w, ok := idx.(*syntax.Word); ok {
		return ev.EvalWordToString(w)
	}
	var sb strings.Builder
	if err := syntax.NewPrinter().Print(&sb, idx); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// braces expands ‘{a,b}’ and ‘{1..3}’ in w.
func braces(w *syntax.Word) []*syntax.Word {
	cp := *w
	if !syntax.SplitBraces(&cp) {
		return []*syntax.Word{w}
	}
	return mvexpand.Braces(&cp)
}

func (ev *Evaluator) wordPieces(w *syntax.Word, splitting bool) ([]piece, error) {
	var ps []piece
	parts := w.Parts
	if len(parts) > 0 {
		if lit, ok := parts[0].(*syntax.Lit); ok {
			if home, rest, ok := ev.tilde(lit.Value); ok {
				ps = append(ps, piece{s: home, kind: pieceQuoted})
				ps = appendLit(ps, rest)
				parts = parts[1:]
			}
		}
	}
	if err := ev.evalParts(parts, false, &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// appendLit adds unquoted literal text.  A backslash quotes the next
// character.
func appendLit(ps []piece, s string) []piece {
	for {
		i := strings.IndexByte(s, '\\')
		if i == -1 || i == len(s)-1 {
			if s != "" {
				ps = append(ps, piece{s: s})
			}
			return ps
		}
		if i > 0 {
			ps = append(ps, piece{s: s[:i]})
		}
		ps = append(ps, piece{s: s[i+1 : i+2], kind: pieceQuoted})
		s = s[i+2:]
	}
}

// unescapeDouble removes the backslashes that are special inside double
// quotes.
func unescapeDouble(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', '\\', '$', '`':
				i++
			case '\n':
				i++
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func (ev *Evaluator) quotedOr(s string, quoted bool) piece {
	if quoted {
		return piece{s: s, kind: pieceQuoted}
	}
	return piece{s: s, kind: pieceSplit}
}

func (ev *Evaluator) evalParts(parts []syntax.WordPart, quoted bool, out *[]piece) error {
	for _, part := range parts {
		switch x := part.(type) {
		case *syntax.Lit:
			if quoted {
				*out = append(*out, piece{s: unescapeDouble(x.Value), kind: pieceQuoted})
			} else {
				*out = appendLit(*out, x.Value)
			}
		case *syntax.SglQuoted:
			s := x.Value
			if x.Dollar {
				s = DecodeEscapes(s)
			}
			*out = append(*out, piece{s: s, kind: pieceQuoted})
		case *syntax.DblQuoted:
			if len(x.Parts) == 1 {
				if pe, ok := x.Parts[0].(*syntax.ParamExp); ok && isWholeArray(pe) {
					if err := ev.paramExp(pe, true, out); err != nil {
						return err
					}
					continue
				}
			}
			*out = append(*out, piece{kind: pieceQuoted})
			if err := ev.evalParts(x.Parts, true, out); err != nil {
				return err
			}
		case *syntax.ParamExp:
			if err := ev.paramExp(x, quoted, out); err != nil {
				return err
			}
		case *syntax.CmdSubst:
			s, err := ev.Exec.RunCommandSub(x)
			if err != nil {
				return err
			}
			*out = append(*out, ev.quotedOr(s, quoted))
		case *syntax.ArithmExp:
			n, err := ev.EvalArith(x.X)
			if err != nil {
				return err
			}
			*out = append(*out, ev.quotedOr(formatInt(n), quoted))
		case *syntax.ProcSubst:
			path, err := ev.Exec.RunProcessSub(x)
			if err != nil {
				return err
			}
			*out = append(*out, piece{s: path, kind: pieceQuoted})
		case *syntax.ExtGlob:
			s := x.Op.String() + x.Pattern.Value + ")"
			if quoted {
				*out = append(*out, piece{s: s, kind: pieceQuoted})
			} else {
				*out = append(*out, piece{s: s, kind: pieceExtGlob})
			}
		case *syntax.BraceExp:
			// Only reachable in contexts that don't do brace expansion
			var sb strings.Builder
			syntax.NewPrinter().Print(&sb, &syntax.Word{Parts: []syntax.WordPart{x}})
			*out = append(*out, piece{s: sb.String(), kind: pieceQuoted})
		default:
			return errors.Die(part.Pos(), "Unsupported word part %T", part)
		}
	}
	return nil
}

// splitPieces divides pieces into fields.  Only pieceSplit pieces are split;
// whitespace separators collapse while any other IFS character always ends a
// field, even an empty one.
func splitPieces(ps []piece, ifs stringsx.IFS) [][]piece {
	var (
		fields  [][]piece
		cur     []piece
		started bool // cur is a field even if its text is empty
		pending bool // IFS whitespace was seen after the field started
		buf     strings.Builder
	)
	flushBuf := func() {
		if buf.Len() > 0 {
			cur = append(cur, piece{s: buf.String()})
			buf.Reset()
		}
	}
	emit := func() {
		flushBuf()
		fields = append(fields, cur)
		cur, started, pending = nil, false, false
	}

	for _, p := range ps {
		if p.brk && started {
			emit()
		}
		if p.kind != pieceSplit || ifs.Empty() {
			if pending {
				emit()
			}
			if p.s != "" || p.kind == pieceQuoted {
				flushBuf()
				if p.kind == pieceSplit {
					p.kind = pieceLit
				}
				cur = append(cur, p)
				started = true
			}
			continue
		}

		for _, r := range p.s {
			switch ifs.Classify(r) {
			case stringsx.Regular:
				if pending {
					emit()
				}
				buf.WriteRune(r)
				started = true
			case stringsx.Space:
				if started {
					pending = true
				}
			case stringsx.Other:
				pending = false
				emit()
			}
		}
	}
	if started {
		emit()
	}
	return fields
}
