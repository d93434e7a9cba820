package builtin

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/value"
	"github.com/Ladicle/tabwriter"
	"github.com/mitchellh/go-homedir"
)

// DirStack holds the directories saved by pushd, most recent last.  The
// working directory itself is entry 0 of ‘dirs’ and is not stored.
type DirStack struct {
	dirs []string
}

func NewDirStack() *DirStack {
	return &DirStack{dirs: make([]string, 0, 64)}
}

func (s *DirStack) push(dir string) {
	s.dirs = append(s.dirs, dir)
}

func (s *DirStack) pop() (string, bool) {
	if len(s.dirs) == 0 {
		return "", false
	}
	n := len(s.dirs) - 1
	d := s.dirs[n]
	s.dirs = s.dirs[:n]
	return d, true
}

// Entries returns the stack as ‘dirs’ shows it: cwd first.
func (s *DirStack) Entries(cwd string) []string {
	xs := make([]string, 0, len(s.dirs)+1)
	xs = append(xs, cwd)
	for i := len(s.dirs) - 1; i >= 0; i-- {
		xs = append(xs, s.dirs[i])
	}
	return xs
}

func (s *DirStack) Clone() *DirStack {
	return &DirStack{dirs: append(make([]string, 0, cap(s.dirs)), s.dirs...)}
}

func getString(mem *state.Mem, name string) (string, bool) {
	return value.AsString(mem.GetValue(name, mem.ReadScope()))
}

func homeDir(mem *state.Mem) (string, error) {
	if s, ok := getString(mem, "HOME"); ok {
		return s, nil
	}
	return homedir.Dir()
}

// chdir moves the shell to dst, relative to the current directory, and
// updates PWD and OLDPWD.  Only the shell's notion of the directory changes;
// children are started in it.
func chdir(sh Shell, dst string, physical bool) error {
	mem := sh.Mem()
	old := mem.Pwd()
	if !filepath.IsAbs(dst) {
		dst = filepath.Join(old, dst)
	}
	dst = filepath.Clean(dst)
	if physical {
		real, err := filepath.EvalSymlinks(dst)
		if err != nil {
			return err
		}
		dst = real
	}

	info, err := os.Stat(dst)
	switch {
	case err != nil:
		return err
	case !info.IsDir():
		return fmt.Errorf("‘%s’: Not a directory", dst)
	}

	if err := mem.SetValue(state.Named{Name: "OLDPWD"}, value.Str(old), state.GlobalOnly, 0); err != nil {
		return err
	}
	if err := mem.SetValue(state.Named{Name: "PWD"}, value.Str(dst), state.GlobalOnly, state.SetExport); err != nil {
		return err
	}
	mem.SetPwd(dst)
	return nil
}

func cd(sh Shell, cmd *exec.Cmd) uint8 {
	opts, args, ok := getopts(cmd, "LP")
	if !ok {
		return cdUsage(cmd)
	}
	physical := false
	for _, o := range opts {
		physical = o.Option == 'P'
	}

	var (
		dst   string
		print bool
	)
	switch len(args) {
	case 0:
		home, err := homeDir(sh.Mem())
		if err != nil {
			errorf(cmd, "%s", err)
			return 1
		}
		dst = home
	case 1:
		dst = args[0]
		if dst == "-" {
			old, ok := getString(sh.Mem(), "OLDPWD")
			if !ok {
				errorf(cmd, "OLDPWD not set")
				return 1
			}
			dst, print = old, true
		}
	default:
		return cdUsage(cmd)
	}

	if err := chdir(sh, dst, physical); err != nil {
		errorf(cmd, "%s", err)
		return 1
	}
	if print {
		fmt.Fprintln(cmd.Stdout, sh.Mem().Pwd())
	}
	return 0
}

func cdUsage(cmd *exec.Cmd) uint8 {
	fmt.Fprintln(cmd.Stderr, "Usage: cd [-L|-P] [directory]")
	return 2
}

func pwd(sh Shell, cmd *exec.Cmd) uint8 {
	opts, _, ok := getopts(cmd, "LP")
	if !ok {
		return 2
	}
	dir := sh.Mem().Pwd()
	for _, o := range opts {
		if o.Option != 'P' {
			continue
		}
		real, err := filepath.EvalSymlinks(dir)
		if err != nil {
			errorf(cmd, "%s", err)
			return 1
		}
		dir = real
	}
	fmt.Fprintln(cmd.Stdout, dir)
	return 0
}

func pushd(sh Shell, cmd *exec.Cmd) uint8 {
	if len(cmd.Args) != 2 {
		fmt.Fprintln(cmd.Stderr, "Usage: pushd directory")
		return 2
	}
	ds := sh.DirStack()
	cwd := sh.Mem().Pwd()
	if err := chdir(sh, cmd.Args[1], false); err != nil {
		errorf(cmd, "%s", err)
		return 1
	}
	ds.push(cwd)
	printDirs(sh, cmd)
	return 0
}

func popd(sh Shell, cmd *exec.Cmd) uint8 {
	if len(cmd.Args) != 1 {
		fmt.Fprintln(cmd.Stderr, "Usage: popd")
		return 2
	}
	ds := sh.DirStack()
	dst, ok := ds.pop()
	if !ok {
		errorf(cmd, "the directory stack is empty")
		return 1
	}
	if err := chdir(sh, dst, false); err != nil {
		errorf(cmd, "%s", err)
		return 1
	}
	printDirs(sh, cmd)
	return 0
}

func dirs(sh Shell, cmd *exec.Cmd) uint8 {
	opts, args, ok := getopts(cmd, "clpv")
	if !ok || len(args) > 0 {
		fmt.Fprintln(cmd.Stderr, "Usage: dirs [-clpv]")
		return 2
	}

	var long, lines, verbose bool
	ds := sh.DirStack()
	for _, o := range opts {
		switch o.Option {
		case 'c':
			ds.dirs = ds.dirs[:0]
			return 0
		case 'l':
			long = true
		case 'p':
			lines = true
		case 'v':
			verbose = true
		}
	}

	entries := ds.Entries(sh.Mem().Pwd())
	if !long {
		home, _ := homeDir(sh.Mem())
		for i, d := range entries {
			entries[i] = tildeAbbrev(d, home)
		}
	}
	switch {
	case verbose:
		w := tabwriter.NewWriter(cmd.Stdout, 0, 8, 2, ' ', 0)
		for i, d := range entries {
			fmt.Fprintf(w, "%s\t%s\n", strconv.Itoa(i), d)
		}
		w.Flush()
	case lines:
		for _, d := range entries {
			fmt.Fprintln(cmd.Stdout, d)
		}
	default:
		fmt.Fprintln(cmd.Stdout, strings.Join(entries, " "))
	}
	return 0
}

func printDirs(sh Shell, cmd *exec.Cmd) {
	home, _ := homeDir(sh.Mem())
	entries := sh.DirStack().Entries(sh.Mem().Pwd())
	for i, d := range entries {
		entries[i] = tildeAbbrev(d, home)
	}
	fmt.Fprintln(cmd.Stdout, strings.Join(entries, " "))
}

func tildeAbbrev(dir, home string) string {
	switch {
	case home == "" || home == "/":
		return dir
	case dir == home:
		return "~"
	case strings.HasPrefix(dir, home+"/"):
		return "~" + dir[len(home):]
	}
	return dir
}
