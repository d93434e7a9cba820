package builtin

import (
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/process"
	"mvdan.cc/sh/v3/syntax"
)

func eval(sh Shell, cmd *exec.Cmd) uint8 {
	src := strings.Join(cmd.Args[1:], " ")
	if strings.TrimSpace(src) == "" {
		return 0
	}
	status, err := sh.Eval(src, "eval")
	if err != nil {
		return sh.Abort(err)
	}
	return uint8(status)
}

// sourcePath finds the file ‘source name’ reads: names without a slash are
// looked for in PATH and then in the current directory.
func sourcePath(sh Shell, name string) string {
	cwd := sh.Mem().Pwd()
	if strings.ContainsRune(name, '/') {
		if filepath.IsAbs(name) {
			return name
		}
		return filepath.Join(cwd, name)
	}
	path, _ := getString(sh.Mem(), "PATH")
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		full := filepath.Join(dir, name)
		if info, err := os.Stat(full); err == nil && info.Mode().IsRegular() {
			return full
		}
	}
	return filepath.Join(cwd, name)
}

func source(sh Shell, cmd *exec.Cmd) uint8 {
	if len(cmd.Args) < 2 {
		return usage(cmd, "filename argument required")
	}
	status, err := sh.Source(sourcePath(sh, cmd.Args[1]), cmd.Args[2:])
	var perr *fs.PathError
	switch {
	case errors.As(err, &perr):
		errorf(cmd, "‘%s’: %s", cmd.Args[1], perr.Err)
		return 1
	case err != nil:
		return sh.Abort(err)
	}
	return uint8(status)
}

// exec_ replaces the shell with a program.  Without arguments the redirects
// of the command become permanent.
func exec_(sh Shell, cmd *exec.Cmd) uint8 {
	args := cmd.Args[1:]
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}

	c := &exec.Cmd{Args: args, Stdin: cmd.Stdin, Stdout: cmd.Stdout, Stderr: cmd.Stderr}
	err := sh.Exec(c)
	var lerr *process.LookupError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &lerr) && sh.Opts().Interactive:
		return failure(cmd, err)
	case errors.As(err, &lerr):
		return sh.Abort(errors.DieStatus(lerr.Status, syntax.Pos{}, "exec: %s", err))
	}
	return sh.Abort(err)
}
