package expand

import (
	"regexp"
	"strings"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/state"
	"mvdan.cc/sh/v3/pattern"
	"mvdan.cc/sh/v3/syntax"
)

type segKind uint8

const (
	segLit segKind = iota
	segGlob
	segExt
)

type segment struct {
	s    string
	kind segKind
	op   syntax.GlobOperator
}

// Pattern is a shell glob pattern built from a word.  Quoted parts of the word
// only ever match themselves.
type Pattern struct {
	segs   []segment
	Nocase bool
}

func patternOf(ps []piece) Pattern {
	var p Pattern
	for _, x := range ps {
		switch x.kind {
		case pieceQuoted:
			p.segs = append(p.segs, segment{s: x.s, kind: segLit})
		case pieceExtGlob:
			op, body := splitExtGlob(x.s)
			p.segs = append(p.segs, segment{s: body, kind: segExt, op: op})
		default:
			p.segs = append(p.segs, segment{s: x.s, kind: segGlob})
		}
	}
	return p
}

func splitExtGlob(s string) (syntax.GlobOperator, string) {
	body := s[2 : len(s)-1]
	switch s[0] {
	case '?':
		return syntax.GlobZeroOrOne, body
	case '*':
		return syntax.GlobZeroOrMore, body
	case '+':
		return syntax.GlobOneOrMore, body
	case '!':
		return syntax.GlobExcept, body
	}
	return syntax.GlobOne, body
}

// LiteralPattern returns a pattern matching exactly s.
func LiteralPattern(s string) Pattern {
	return Pattern{segs: []segment{{s: s, kind: segLit}}}
}

// GlobPattern returns a pattern in which every character of s may be special.
func GlobPattern(s string) Pattern {
	return Pattern{segs: []segment{{s: s, kind: segGlob}}}
}

// HasMeta reports whether the unquoted parts of p contain glob operators.
func (p Pattern) HasMeta() bool {
	for _, seg := range p.segs {
		switch seg.kind {
		case segExt:
			return true
		case segGlob:
			if pattern.HasMeta(seg.s, 0) {
				return true
			}
		}
	}
	return false
}

// String returns p with its quoted parts unquoted, as it would appear if it
// failed to match anything.
func (p Pattern) String() string {
	var sb strings.Builder
	for _, seg := range p.segs {
		switch seg.kind {
		case segExt:
			sb.WriteString(seg.op.String())
			sb.WriteString(seg.s)
			sb.WriteByte(')')
		case segGlob:
			sb.WriteString(unescapeGlob(seg.s))
		default:
			sb.WriteString(seg.s)
		}
	}
	return sb.String()
}

func unescapeGlob(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// Expr returns an unanchored regular expression equivalent to p.
func (p Pattern) Expr(mode pattern.Mode) (string, error) {
	var sb strings.Builder
	if p.Nocase {
		sb.WriteString("(?i)")
	}
	for _, seg := range p.segs {
		switch seg.kind {
		case segLit:
			sb.WriteString(regexp.QuoteMeta(seg.s))
		case segGlob:
			sb.WriteString(globExpr(seg.s, mode))
		case segExt:
			if seg.op == syntax.GlobExcept {
				return "", errors.Die(syntax.Pos{},
					"Extended glob ‘!(%s)’ isn't supported", seg.s)
			}
			alts := strings.Split(seg.s, "|")
			for i, alt := range alts {
				alts[i] = globExpr(alt, mode)
			}
			sb.WriteString("(?:" + strings.Join(alts, "|") + ")")
			switch seg.op {
			case syntax.GlobZeroOrOne:
				sb.WriteByte('?')
			case syntax.GlobZeroOrMore:
				sb.WriteByte('*')
			case syntax.GlobOneOrMore:
				sb.WriteByte('+')
			}
		}
	}
	return sb.String(), nil
}

// globExpr translates a glob fragment.  Malformed fragments such as an
// unterminated bracket match literally.
func globExpr(s string, mode pattern.Mode) string {
	expr, err := pattern.Regexp(s, mode)
	if err != nil {
		return regexp.QuoteMeta(unescapeGlob(s))
	}
	return "(?:" + expr + ")"
}

// Regexp compiles p so that it must match an entire string.
func (p Pattern) Regexp() (*regexp.Regexp, error) {
	expr, err := p.Expr(0)
	if err != nil {
		return nil, err
	}
	return regexp.Compile("^(?:" + expr + ")$")
}

// Match reports whether p matches all of s.
func (p Pattern) Match(s string) (bool, error) {
	if !p.HasMeta() && !p.Nocase {
		return p.String() == s, nil
	}
	rx, err := p.Regexp()
	if err != nil {
		return false, err
	}
	return rx.MatchString(s), nil
}

// EvalPattern evaluates w as a pattern for ‘case’, ‘[[ == ]]’ and the
// parameter expansion operators.
func (ev *Evaluator) EvalPattern(w *syntax.Word) (Pattern, error) {
	if w == nil {
		return Pattern{}, nil
	}
	ps, err := ev.wordPieces(w, false)
	if err != nil {
		return Pattern{}, err
	}
	return patternOf(ps), nil
}

// EvalCasePattern is EvalPattern with nocasematch applied.
func (ev *Evaluator) EvalCasePattern(w *syntax.Word) (Pattern, error) {
	p, err := ev.EvalPattern(w)
	p.Nocase = ev.Opts.Get(state.NoCaseMatch)
	return p, err
}

// EvalRegex evaluates the right hand side of ‘=~’.  Quoted parts match
// literally.
func (ev *Evaluator) EvalRegex(w *syntax.Word) (string, error) {
	ps, err := ev.wordPieces(w, false)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, p := range ps {
		if p.kind == pieceQuoted {
			sb.WriteString(regexp.QuoteMeta(p.s))
		} else {
			sb.WriteString(p.s)
		}
	}
	return sb.String(), nil
}

// removePattern strips the shortest or longest match of p from the start or
// end of s.
func removePattern(s string, p Pattern, suffix, longest bool) (string, error) {
	var mode pattern.Mode
	if !longest {
		mode = pattern.Shortest
	}
	expr, err := p.Expr(mode)
	if err != nil {
		return "", err
	}
	switch {
	case suffix && !longest:
		expr = ".*(" + expr + ")$"
	case suffix:
		expr = "(" + expr + ")$"
	default:
		expr = "^(" + expr + ")"
	}
	rx, err := regexp.Compile("(?s)" + expr)
	if err != nil {
		return s, nil
	}
	if loc := rx.FindStringSubmatchIndex(s); loc != nil {
		return s[:loc[2]] + s[loc[3]:], nil
	}
	return s, nil
}

// replacePattern implements ‘${x/pat/with}’.  An anchor of ‘#’ or ‘%’ ties
// the match to the start or end of s.
func replacePattern(s string, p Pattern, with string, all bool, anchor byte) (string, error) {
	if !p.HasMeta() && p.String() == "" {
		return s, nil
	}
	expr, err := p.Expr(0)
	if err != nil {
		return "", err
	}
	switch anchor {
	case '#':
		expr = "^(?:" + expr + ")"
	case '%':
		expr = "(?:" + expr + ")$"
	}
	rx, err := regexp.Compile("(?s)" + expr)
	if err != nil {
		return s, nil
	}
	n := 1
	if all {
		n = -1
	}

	var sb strings.Builder
	last := 0
	for _, loc := range rx.FindAllStringIndex(s, n) {
		sb.WriteString(s[last:loc[0]])
		sb.WriteString(with)
		last = loc[1]
	}
	sb.WriteString(s[last:])
	return sb.String(), nil
}
