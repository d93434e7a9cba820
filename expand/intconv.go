package expand

import (
	"strconv"
	"strings"

	"git.sr.ht/~mango/osh/errors"
	"mvdan.cc/sh/v3/syntax"
)

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// digitValue maps the digits of a ‘base#digits’ constant: 0-9, then a-z,
// then A-Z, then ‘@’ and ‘_’.
func digitValue(c byte) (int64, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int64(c - '0'), true
	case c >= 'a' && c <= 'z':
		return int64(c-'a') + 10, true
	case c >= 'A' && c <= 'Z':
		return int64(c-'A') + 36, true
	case c == '@':
		return 62, true
	case c == '_':
		return 63, true
	}
	return 0, false
}

// ParseInt parses an integer constant the way arithmetic does: decimal,
// ‘0x’ hexadecimal, leading-zero octal, or ‘base#digits’ with bases 2 to 64.
// Failures are StrictErrors.
func ParseInt(s string, pos syntax.Pos) (int64, error) {
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, errors.Strict(pos, "Invalid hex constant ‘%s’", s)
		}
		return int64(n), nil
	case len(s) > 1 && s[0] == '0' && isDigits(s):
		n, err := strconv.ParseUint(s[1:], 8, 64)
		if err != nil {
			return 0, errors.Strict(pos, "Invalid octal constant ‘%s’", s)
		}
		return int64(n), nil
	case isDigits(s):
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, errors.Strict(pos, "Integer constant ‘%s’ is too large", s)
		}
		return int64(n), nil
	}

	b, digits, ok := strings.Cut(s, "#")
	if !ok || !isDigits(b) {
		return 0, errors.Strict(pos, "Invalid integer constant ‘%s’", s)
	}
	base, err := strconv.Atoi(b)
	if err != nil || base < 2 || base > 64 {
		return 0, errors.Strict(pos, "Invalid base for numeric constant ‘%s’", b)
	}
	if digits == "" {
		return 0, errors.Strict(pos, "Invalid digits for numeric constant ‘%s’", s)
	}

	var n int64
	for i := 0; i < len(digits); i++ {
		d, ok := digitValue(digits[i])
		if !ok {
			return 0, errors.Strict(pos, "Invalid digits for numeric constant ‘%s’", digits)
		}
		if d >= int64(base) {
			return 0, errors.Strict(pos, "Digits ‘%s’ out of range for base %d", digits, base)
		}
		n = n*int64(base) + d
	}
	return n, nil
}
