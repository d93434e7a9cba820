package builtin

import (
	"errors"
	"io"
	"os/exec"
	"strings"
	"syscall"

	"git.sr.ht/~mango/osh/expand"
)

// echo takes its flags by hand: anything that is not a cluster of n, e and E
// is printed, so ‘echo -x’ prints ‘-x’.
func echo(sh Shell, cmd *exec.Cmd) uint8 {
	args := cmd.Args[1:]
	newline, escapes := true, false
	for len(args) > 0 {
		a := args[0]
		if len(a) < 2 || a[0] != '-' || strings.Trim(a[1:], "neE") != "" {
			break
		}
		for _, c := range a[1:] {
			switch c {
			case 'n':
				newline = false
			case 'e':
				escapes = true
			case 'E':
				escapes = false
			}
		}
		args = args[1:]
	}

	var sb strings.Builder
	for i, a := range args {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if !escapes {
			sb.WriteString(a)
			continue
		}
		s, stop := cutStop(a)
		sb.WriteString(expand.DecodeEscapes(s))
		if stop {
			newline = false
			break
		}
	}
	if newline {
		sb.WriteByte('\n')
	}

	_, err := io.WriteString(cmd.Stdout, sb.String())
	if err != nil && !errors.Is(err, syscall.EPIPE) {
		errorf(cmd, "%s", err)
		return 1
	}
	return 0
}

// cutStop cuts s at ‘\c’, after which echo -e prints nothing more.
func cutStop(s string) (string, bool) {
	for i := 0; i+1 < len(s); i++ {
		if s[i] != '\\' {
			continue
		}
		if s[i+1] == 'c' {
			return s[:i], true
		}
		i++
	}
	return s, false
}
