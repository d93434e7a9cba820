// Package stringsx implements the string splitting rules of the shell's
// internal field separator.
package stringsx

import "strings"

// DefaultIFS is used when the variable is unset.
const DefaultIFS = " \t\n"

// Class is the role a character plays in field splitting.
type Class uint8

const (
	Regular Class = iota
	Space         // IFS whitespace: collapsed and trimmed
	Other         // any other IFS character: always a boundary
)

// IFS is a parsed field separator.
type IFS struct {
	spaces string
	others string
	sep    string
}

// NewIFS parses s.  Pass DefaultIFS for an unset variable.
func NewIFS(s string) IFS {
	var f IFS
	f.sep = s
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n':
			if !strings.ContainsRune(f.spaces, r) {
				f.spaces += string(r)
			}
		default:
			if !strings.ContainsRune(f.others, r) {
				f.others += string(r)
			}
		}
	}
	return f
}

func (f IFS) Classify(r rune) Class {
	switch {
	case strings.ContainsRune(f.spaces, r):
		return Space
	case strings.ContainsRune(f.others, r):
		return Other
	}
	return Regular
}

// Empty reports whether no splitting happens at all.
func (f IFS) Empty() bool {
	return f.sep == ""
}

// JoinChar is the separator used to join "$*": the first character of IFS, or
// nothing when IFS is empty.
func (f IFS) JoinChar() string {
	for _, r := range f.sep {
		return string(r)
	}
	return ""
}

// Split splits s into fields.  Runs of IFS whitespace are collapsed and
// trimmed; every other IFS character terminates a field, so adjacent ones
// produce empty fields.  A trailing non-whitespace separator does not start a
// final empty field.
func (f IFS) Split(s string) []string {
	return f.SplitN(s, -1, false)
}

// SplitN is Split with the semantics of the read builtin: at most n fields are
// produced and the last one holds the rest of the line, minus trailing IFS
// whitespace.  With allowEscape a backslash makes the next character a regular
// one and is removed.
func (f IFS) SplitN(s string, n int, allowEscape bool) []string {
	if f.Empty() {
		if allowEscape {
			s = unescape(s)
		}
		if s == "" {
			return nil
		}
		return []string{s}
	}

	var (
		out     []string
		sb      strings.Builder
		started bool // the current field has content
		pending bool // whitespace seen after content
	)
	emit := func() {
		out = append(out, sb.String())
		sb.Reset()
		started, pending = false, false
	}

	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if n > 0 && len(out) == n-1 {
			// Last field: keep the rest verbatim, minus leading and
			// trailing IFS whitespace.
			if !started && f.Classify(r) == Space {
				continue
			}
			rest := string(rs[i:])
			if allowEscape {
				rest = unescape(rest)
			}
			sb.WriteString(strings.TrimRight(rest, f.spaces))
			started = true
			break
		}

		escaped := false
		if allowEscape && r == '\\' && i+1 < len(rs) {
			i++
			r = rs[i]
			escaped = true
		}

		c := Regular
		if !escaped {
			c = f.Classify(r)
		}
		switch c {
		case Space:
			if started {
				pending = true
			}
		case Other:
			emit()
		default:
			if pending {
				emit()
			}
			sb.WriteRune(r)
			started = true
		}
	}
	if started {
		emit()
	}
	return out
}

func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
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
