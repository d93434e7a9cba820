package builtin

import (
	"fmt"
	"os/exec"

	"git.sr.ht/~mango/osh/state"
	"mvdan.cc/sh/v3/syntax"
)

func unset(sh Shell, cmd *exec.Cmd) uint8 {
	opts, names, ok := getopts(cmd, "fnv")
	if !ok {
		fmt.Fprintln(cmd.Stderr, "Usage: unset [-f | -v | -n] name ...")
		return 2
	}
	var funcs, vars, ref bool
	for _, o := range opts {
		switch o.Option {
		case 'f':
			funcs = true
		case 'v':
			vars = true
		case 'n':
			ref = true
		}
	}

	mem := sh.Mem()
	var status uint8
	for _, name := range names {
		if funcs {
			sh.UnsetFunc(name)
			continue
		}

		lv, err := sh.Expander().ParseLValue(name, syntax.Pos{})
		if err != nil {
			status = failure(cmd, err)
			continue
		}
		if ref {
			mem.ClearFlag(name, state.ClearNameref)
		}
		found, err := mem.Unset(lv, mem.ReadScope())
		if err != nil {
			return sh.Abort(err)
		}
		if !found && !vars && !ref {
			sh.UnsetFunc(name)
		}
	}
	return status
}
