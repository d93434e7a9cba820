package expand

import (
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"git.sr.ht/~mango/osh/value"
	"mvdan.cc/sh/v3/syntax"
)

// DecodeEscapes interprets the backslash escapes of a $'...' string.
func DecodeEscapes(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch c = s[i]; c {
		case 'a':
			sb.WriteByte('\a')
		case 'b':
			sb.WriteByte('\b')
		case 'e', 'E':
			sb.WriteByte('\x1b')
		case 'f':
			sb.WriteByte('\f')
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'v':
			sb.WriteByte('\v')
		case '\\', '\'', '"', '?':
			sb.WriteByte(c)
		case 'c':
			if i+1 < len(s) {
				i++
				sb.WriteByte(s[i] & 0x1f)
			}
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			n, _ := strconv.ParseUint(s[i:j], 8, 8)
			sb.WriteByte(byte(n))
			i = j - 1
		case 'x', 'u', 'U':
			width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[c]
			j := i + 1
			for j < len(s) && j <= i+width && isHex(s[j]) {
				j++
			}
			if j == i+1 {
				sb.WriteByte('\\')
				sb.WriteByte(c)
				continue
			}
			n, _ := strconv.ParseUint(s[i+1:j], 16, 32)
			if c == 'x' {
				sb.WriteByte(byte(n))
			} else {
				sb.WriteRune(rune(n))
			}
			i = j - 1
		default:
			sb.WriteByte('\\')
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

// DecodePrompt interprets the backslash escapes of PS1 and friends.  Escapes
// that aren't understood are kept.
func (ev *Evaluator) DecodePrompt(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch c = s[i]; c {
		case 'u':
			if u, err := user.Current(); err == nil {
				sb.WriteString(u.Username)
			}
		case 'h', 'H':
			host, _ := os.Hostname()
			if c == 'h' {
				host, _, _ = strings.Cut(host, ".")
			}
			sb.WriteString(host)
		case 'w', 'W':
			dir := ev.Mem.Pwd()
			if home := ev.home(); home != "" && home != "/" &&
				(dir == home || strings.HasPrefix(dir, home+"/")) {
				dir = "~" + dir[len(home):]
			}
			if c == 'W' && dir != "/" && dir != "~" {
				dir = dir[strings.LastIndexByte(dir, '/')+1:]
			}
			sb.WriteString(dir)
		case '$':
			if os.Geteuid() == 0 {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('$')
			}
		case 's':
			name := ev.Mem.Dollar0()
			sb.WriteString(name[strings.LastIndexByte(name, '/')+1:])
		case 'v', 'V':
			sb.WriteString(Version)
		case 'd':
			sb.WriteString(time.Now().Format("Mon Jan 02"))
		case 't':
			sb.WriteString(time.Now().Format("15:04:05"))
		case 'T':
			sb.WriteString(time.Now().Format("03:04:05"))
		case '@':
			sb.WriteString(time.Now().Format("03:04 PM"))
		case 'A':
			sb.WriteString(time.Now().Format("15:04"))
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 'a':
			sb.WriteByte('\a')
		case 'e':
			sb.WriteByte('\x1b')
		case '[', ']':
			// Non-printing delimiters only matter to line editors
		case '\\':
			sb.WriteByte('\\')
		case '0', '1', '2', '3':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			n, _ := strconv.ParseUint(s[i:j], 8, 8)
			sb.WriteByte(byte(n))
			i = j - 1
		default:
			sb.WriteByte('\\')
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// Version is reported by ‘\v’ in prompts and by ‘--version’.
var Version = "0.1.0"

// EvalPrompt decodes the prompt escapes of the variable name and then
// expands it like the body of a here document.
func (ev *Evaluator) EvalPrompt(name, def string) string {
	s, ok := value.AsString(ev.Mem.GetValue(name, ev.Mem.ReadScope()))
	if !ok {
		s = def
	}
	s = ev.DecodePrompt(s)

	w, err := syntax.NewParser().Document(strings.NewReader(s))
	if err != nil {
		return s
	}
	out, err := ev.EvalHereDoc(w, true)
	if err != nil || !utf8.ValidString(out) {
		return s
	}
	return out
}
