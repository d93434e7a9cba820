package expand

import (
	"os/user"
	"strings"

	"git.sr.ht/~mango/osh/value"
	"github.com/mitchellh/go-homedir"
)

// tilde expands a leading ‘~’, ‘~user’, ‘~+’ or ‘~-’ in the literal s.
// Unknown users are left unexpanded.
func (ev *Evaluator) tilde(s string) (string, string, bool) {
	if !strings.HasPrefix(s, "~") {
		return "", "", false
	}
	name, rest := s[1:], ""
	if i := strings.IndexByte(name, '/'); i != -1 {
		name, rest = name[:i], name[i:]
	}

	var dir string
	switch name {
	case "":
		dir = ev.home()
	case "+":
		dir = ev.Mem.Pwd()
	case "-":
		v, ok := value.AsString(ev.Mem.GetValue("OLDPWD", ev.Mem.ReadScope()))
		if !ok {
			return "", "", false
		}
		dir = v
	default:
		if strings.ContainsAny(name, `\'"$`) {
			return "", "", false
		}
		u, err := user.Lookup(name)
		if err != nil {
			return "", "", false
		}
		dir = u.HomeDir
	}
	return dir, rest, true
}

func (ev *Evaluator) home() string {
	if s, ok := value.AsString(ev.Mem.GetValue("HOME", ev.Mem.ReadScope())); ok {
		return s
	}
	dir, err := homedir.Dir()
	if err != nil {
		return "~"
	}
	return dir
}
