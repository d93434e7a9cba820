package builtin

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"git.sr.ht/~mango/osh/pkg/stringsx"
	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/value"
	"mvdan.cc/sh/v3/syntax"
)

func read(sh Shell, cmd *exec.Cmd) uint8 {
	opts, names, ok := getopts(cmd, "rsd:n:p:a:")
	if !ok {
		return readUsage(cmd)
	}

	var (
		raw    bool
		delim  byte = '\n'
		cnt         = math.MaxInt
		prompt string
		array  string
	)
	for _, o := range opts {
		switch o.Option {
		case 'r':
			raw = true
		case 'd':
			delim = 0
			if o.Value != "" {
				delim = o.Value[0]
			}
		case 'n':
			n, err := strconv.Atoi(o.Value)
			if err != nil || n < 0 {
				errorf(cmd, "invalid count ‘%s’", o.Value)
				return readUsage(cmd)
			}
			cnt = n
		case 'p':
			prompt = o.Value
		case 'a':
			array = o.Value
		}
	}
	for _, name := range names {
		if !syntax.ValidName(name) {
			return usage(cmd, "‘%s’: not a valid identifier", name)
		}
	}
	if array != "" && !syntax.ValidName(array) {
		return usage(cmd, "‘%s’: not a valid identifier", array)
	}

	if prompt != "" {
		fmt.Fprint(cmd.Stderr, prompt)
	}
	line, eof, err := readLine(cmd.Stdin, delim, cnt, raw)
	if err != nil {
		errorf(cmd, "%s", err)
		return 1
	}

	mem := sh.Mem()
	ifs := stringsx.DefaultIFS
	if v, ok := mem.GetValue("IFS", mem.ReadScope()).(value.Str); ok {
		ifs = string(v)
	}
	split := stringsx.NewIFS(ifs)

	assign := func(name string, v value.Value) error {
		return mem.SetValue(state.Named{Name: name}, v, mem.WriteScope(), 0)
	}
	switch {
	case array != "":
		err = assign(array, value.NewArray(split.SplitN(line, -1, !raw)...))
	case len(names) == 0:
		var reply string
		if xs := stringsx.NewIFS("").SplitN(line, 1, !raw); len(xs) > 0 {
			reply = xs[0]
		}
		err = assign("REPLY", value.Str(reply))
	default:
		fields := split.SplitN(line, len(names), !raw)
		for i, name := range names {
			var s string
			if i < len(fields) {
				s = fields[i]
			}
			if err = assign(name, value.Str(s)); err != nil {
				break
			}
		}
	}
	if err != nil {
		return sh.Abort(err)
	}

	if eof {
		return 1
	}
	return 0
}

// readLine reads up to delim one byte at a time, so that no input meant for
// the next command is consumed.  Without raw, a backslash before a newline
// continues the line and other escapes are kept for field splitting.
func readLine(r io.Reader, delim byte, cnt int, raw bool) (string, bool, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	escaped := false
	for n := 0; n < cnt; {
		_, err := r.Read(buf)
		switch {
		case errors.Is(err, io.EOF):
			return sb.String(), true, nil
		case err != nil:
			return "", false, err
		}

		b := buf[0]
		switch {
		case escaped:
			escaped = false
			if b == '\n' {
				continue
			}
			sb.WriteByte('\\')
		case b == delim:
			return sb.String(), false, nil
		case b == '\\' && !raw:
			escaped = true
			continue
		}
		sb.WriteByte(b)
		n++
	}
	return sb.String(), false, nil
}

func readUsage(cmd *exec.Cmd) uint8 {
	fmt.Fprintln(cmd.Stderr, "Usage: read [-rs] [-a array] [-d delim] [-n num] [-p prompt] [name ...]")
	return 2
}
