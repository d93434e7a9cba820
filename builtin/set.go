package builtin

import (
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"strconv"

	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/value"
)

func set(sh Shell, cmd *exec.Cmd) uint8 {
	if len(cmd.Args) == 1 {
		printVars(sh, cmd)
		return 0
	}

	opts := sh.Opts()
	args := cmd.Args[1:]
	setArgv := false
flags:
	for len(args) > 0 {
		a := args[0]
		switch {
		case a == "--" || a == "-":
			args, setArgv = args[1:], true
			break flags
		case len(a) < 2 || (a[0] != '-' && a[0] != '+'):
			break flags
		}

		on := a[0] == '-'
		args = args[1:]
		for i := 1; i < len(a); i++ {
			c := a[i]
			if c != 'o' {
				opt, ok := state.LookupShortFlag(c)
				if !ok {
					return usage(cmd, "invalid option ‘%c’", c)
				}
				opts.Set(opt, on)
				continue
			}

			if len(args) == 0 {
				if err := opts.ShowSetOptions(cmd.Stdout, nil); err != nil {
					return failure(cmd, err)
				}
				continue
			}
			opt, ok := state.LookupSetOption(args[0])
			if !ok {
				return usage(cmd, "invalid option name ‘%s’", args[0])
			}
			opts.Set(opt, on)
			args = args[1:]
		}
	}

	if len(args) > 0 || setArgv {
		sh.Mem().SetArgv(slices.Clone(args))
	}
	return 0
}

// printVars lists the string variables in a form that can be read back.
func printVars(sh Shell, cmd *exec.Cmd) {
	mem := sh.Mem()
	cells := mem.GetAllCells(state.Dynamic)
	for _, name := range slices.Sorted(maps.Keys(cells)) {
		switch v := cells[name].Val.(type) {
		case value.Undef:
			continue
		case value.Str:
			fmt.Fprintf(cmd.Stdout, "%s=%s\n", name, quote(string(v)))
		default:
			fmt.Fprintln(cmd.Stdout, sh.Expander().DeclareLine(name))
		}
	}
}

func shift(sh Shell, cmd *exec.Cmd) uint8 {
	n := 1
	switch len(cmd.Args) {
	case 1:
	case 2:
		var err error
		if n, err = strconv.Atoi(cmd.Args[1]); err != nil {
			return usage(cmd, "invalid number ‘%s’", cmd.Args[1])
		}
	default:
		return usage(cmd, "too many arguments")
	}
	if !sh.Mem().Shift(n) {
		return 1
	}
	return 0
}

func shopt(sh Shell, cmd *exec.Cmd) uint8 {
	flags, names, ok := getopts(cmd, "opqsu")
	if !ok {
		fmt.Fprintln(cmd.Stderr, "Usage: shopt [-opqsu] [name ...]")
		return 2
	}

	var (
		setOpts bool
		quiet   bool
		mode    byte
	)
	for _, f := range flags {
		switch f.Option {
		case 'o':
			setOpts = true
		case 'q':
			quiet = true
		case 's', 'u':
			mode = byte(f.Option)
		}
	}

	opts := sh.Opts()
	lookup := func(name string) ([]state.Option, bool) {
		if setOpts {
			opt, ok := state.LookupSetOption(name)
			return []state.Option{opt}, ok
		}
		return state.LookupShopt(name)
	}

	switch {
	case mode != 0:
		for _, name := range names {
			xs, ok := lookup(name)
			if !ok {
				return usage(cmd, "invalid shell option name ‘%s’", name)
			}
			for _, opt := range xs {
				opts.Set(opt, mode == 's')
			}
		}
		return 0
	case quiet:
		for _, name := range names {
			xs, ok := lookup(name)
			if !ok {
				return 1
			}
			for _, opt := range xs {
				if !opts.Get(opt) {
					return 1
				}
			}
		}
		return 0
	}

	show := opts.ShowShopts
	if setOpts {
		show = opts.ShowSetOptions
	}
	if err := show(cmd.Stdout, names); err != nil {
		return failure(cmd, err)
	}
	return 0
}
