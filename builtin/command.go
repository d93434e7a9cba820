package builtin

import (
	"fmt"
	"os/exec"
	"slices"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/process"
	"github.com/Ladicle/tabwriter"
)

const defaultPath = "/bin:/usr/bin:/sbin:/usr/sbin"

var keywords = []string{
	"!", "[[", "]]", "case", "coproc", "do", "done", "elif", "else", "esac",
	"fi", "for", "function", "if", "in", "select", "then", "time", "until",
	"while", "{", "}",
}

func IsKeyword(name string) bool {
	_, ok := slices.BinarySearch(keywords, name)
	return ok
}

func lookupPath(sh Shell, name string) (string, error) {
	path, _ := getString(sh.Mem(), "PATH")
	return sh.SearchPath().Lookup(name, path, sh.Mem().Pwd())
}

type cmdKind uint8

const (
	kindNone cmdKind = iota
	kindKeyword
	kindFunction
	kindBuiltin
	kindFile
)

var kindNames = [...]string{
	kindKeyword:  "keyword",
	kindFunction: "function",
	kindBuiltin:  "builtin",
	kindFile:     "file",
}

// resolve lists what name would run as, in the order the shell tries them.
func resolve(sh Shell, name string, all bool) ([]cmdKind, string) {
	var kinds []cmdKind
	if IsKeyword(name) {
		kinds = append(kinds, kindKeyword)
	}
	if sh.HasFunc(name) {
		kinds = append(kinds, kindFunction)
	}
	if i, _ := Lookup(name); i != NoIndex {
		kinds = append(kinds, kindBuiltin)
	}
	if len(kinds) > 0 && !all {
		return kinds[:1], ""
	}
	path, err := lookupPath(sh, name)
	if err == nil {
		kinds = append(kinds, kindFile)
	}
	return kinds, path
}

func describe(cmd *exec.Cmd, name string, k cmdKind, path string) {
	switch k {
	case kindKeyword:
		fmt.Fprintf(cmd.Stdout, "%s is a shell keyword\n", name)
	case kindFunction:
		fmt.Fprintf(cmd.Stdout, "%s is a function\n", name)
	case kindBuiltin:
		fmt.Fprintf(cmd.Stdout, "%s is a shell builtin\n", name)
	case kindFile:
		fmt.Fprintf(cmd.Stdout, "%s is %s\n", name, path)
	}
}

// command runs a builtin or program while skipping functions of the same
// name, or describes commands with -v and -V.
func command(sh Shell, cmd *exec.Cmd) uint8 {
	opts, args, ok := getopts(cmd, "pvV")
	if !ok {
		fmt.Fprintln(cmd.Stderr, "Usage: command [-pvV] command [args ...]")
		return 2
	}

	var defPath, short, long bool
	for _, o := range opts {
		switch o.Option {
		case 'p':
			defPath = true
		case 'v':
			short = true
		case 'V':
			long = true
		}
	}
	if len(args) == 0 {
		return 0
	}

	if short || long {
		var status uint8
		for _, name := range args {
			kinds, path := resolve(sh, name, false)
			switch {
			case len(kinds) == 0:
				if long {
					errorf(cmd, "‘%s’ not found", name)
				}
				status = 1
			case long:
				describe(cmd, name, kinds[0], path)
			case kinds[0] == kindFile:
				fmt.Fprintln(cmd.Stdout, path)
			default:
				fmt.Fprintln(cmd.Stdout, name)
			}
		}
		return status
	}

	c := &exec.Cmd{
		Args:   args,
		Stdin:  cmd.Stdin,
		Stdout: cmd.Stdout,
		Stderr: cmd.Stderr,
	}
	if defPath {
		c.Env = []string{"PATH=" + defaultPath}
	}
	status, err := sh.RunCommand(c)
	if err != nil {
		return sh.Abort(err)
	}
	return uint8(status)
}

func type_(sh Shell, cmd *exec.Cmd) uint8 {
	opts, names, ok := getopts(cmd, "aPpt")
	if !ok {
		fmt.Fprintln(cmd.Stderr, "Usage: type [-aPpt] name ...")
		return 2
	}

	var all, pathOnly, forcePath, terse bool
	for _, o := range opts {
		switch o.Option {
		case 'a':
			all = true
		case 'p':
			pathOnly = true
		case 'P':
			pathOnly, forcePath = true, true
		case 't':
			terse = true
		}
	}

	var status uint8
	for _, name := range names {
		var (
			kinds []cmdKind
			path  string
		)
		if forcePath {
			var err error
			if path, err = lookupPath(sh, name); err == nil {
				kinds = []cmdKind{kindFile}
			}
		} else {
			kinds, path = resolve(sh, name, all)
		}

		if len(kinds) == 0 {
			if !terse && !pathOnly {
				errorf(cmd, "‘%s’ not found", name)
			}
			status = 1
			continue
		}
		for _, k := range kinds {
			switch {
			case pathOnly:
				if k == kindFile {
					fmt.Fprintln(cmd.Stdout, path)
				}
			case terse:
				fmt.Fprintln(cmd.Stdout, kindNames[k])
			default:
				describe(cmd, name, k, path)
			}
		}
	}
	return status
}

func hash(sh Shell, cmd *exec.Cmd) uint8 {
	opts, names, ok := getopts(cmd, "r")
	if !ok {
		fmt.Fprintln(cmd.Stderr, "Usage: hash [-r] [name ...]")
		return 2
	}
	sp := sh.SearchPath()
	if len(opts) > 0 {
		sp.Reset()
	}

	if len(names) == 0 {
		if len(opts) > 0 {
			return 0
		}
		order, paths := sp.Remembered()
		if len(order) == 0 {
			errorf(cmd, "hash table empty")
			return 0
		}
		w := tabwriter.NewWriter(cmd.Stdout, 0, 8, 2, ' ', 0)
		for _, name := range order {
			fmt.Fprintf(w, "%s\t%s\n", name, paths[name])
		}
		w.Flush()
		return 0
	}

	path, _ := getString(sh.Mem(), "PATH")
	var status uint8
	for _, name := range names {
		if err := sp.Remember(name, path, sh.Mem().Pwd()); err != nil {
			var lerr *process.LookupError
			if errors.As(err, &lerr) {
				errorf(cmd, "%s", err)
				status = 1
				continue
			}
			return failure(cmd, err)
		}
	}
	return status
}
