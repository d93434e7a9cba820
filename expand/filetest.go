package expand

import (
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
	"mvdan.cc/sh/v3/syntax"
)

func lstat(fsys afero.Fs, name string) (fs.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return fsys.Stat(name)
}

func owner(info fs.FileInfo) (uid, gid int, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return int(st.Uid), int(st.Gid), true
}

// access checks permissions with access(2) for real files and falls back to
// the mode bits on other filesystems.
func (ev *Evaluator) access(path string, info fs.FileInfo, mode uint32) bool {
	if _, ok := ev.Fs.(*afero.OsFs); ok {
		return unix.Access(path, mode) == nil
	}
	perm := uint32(info.Mode().Perm())
	switch mode {
	case unix.R_OK:
		return perm&0o444 != 0
	case unix.W_OK:
		return perm&0o222 != 0
	}
	return perm&0o111 != 0
}

// fileTest evaluates a unary file operator.  Nonexistent files fail every
// test.
func (ev *Evaluator) fileTest(op syntax.UnTestOperator, name string) bool {
	path := ev.abs(name)
	if op == syntax.TsSmbLink {
		info, err := lstat(ev.Fs, path)
		return err == nil && info.Mode()&fs.ModeSymlink != 0
	}

	info, err := ev.Fs.Stat(path)
	if err != nil {
		return false
	}
	mode := info.Mode()

	switch op {
	case syntax.TsExists, syntax.TsModif:
		return true
	case syntax.TsRegFile:
		return mode.IsRegular()
	case syntax.TsDirect:
		return mode.IsDir()
	case syntax.TsCharSp:
		return mode&fs.ModeCharDevice != 0
	case syntax.TsBlckSp:
		return mode&fs.ModeDevice != 0 && mode&fs.ModeCharDevice == 0
	case syntax.TsNmPipe:
		return mode&fs.ModeNamedPipe != 0
	case syntax.TsSocket:
		return mode&fs.ModeSocket != 0
	case syntax.TsSticky:
		return mode&fs.ModeSticky != 0
	case syntax.TsGIDSet:
		return mode&fs.ModeSetgid != 0
	case syntax.TsUIDSet:
		return mode&fs.ModeSetuid != 0
	case syntax.TsNoEmpty:
		return info.Size() > 0
	case syntax.TsRead:
		return ev.access(path, info, unix.R_OK)
	case syntax.TsWrite:
		return ev.access(path, info, unix.W_OK)
	case syntax.TsExec:
		return ev.access(path, info, unix.X_OK)
	case syntax.TsUsrOwn:
		uid, _, ok := owner(info)
		return ok && uid == os.Geteuid()
	case syntax.TsGrpOwn:
		_, gid, ok := owner(info)
		return ok && gid == os.Getegid()
	}
	return false
}

// compareFiles evaluates ‘-nt’, ‘-ot’ and ‘-ef’.
func (ev *Evaluator) compareFiles(op syntax.BinTestOperator, a, b string) bool {
	ia, errA := ev.Fs.Stat(ev.abs(a))
	ib, errB := ev.Fs.Stat(ev.abs(b))

	switch op {
	case syntax.TsNewer:
		switch {
		case errA != nil:
			return false
		case errB != nil:
			return true
		}
		return ia.ModTime().After(ib.ModTime())
	case syntax.TsOlder:
		switch {
		case errB != nil:
			return false
		case errA != nil:
			return true
		}
		return ia.ModTime().Before(ib.ModTime())
	}
	if errA != nil || errB != nil {
		return false
	}
	if _, ok := ev.Fs.(*afero.OsFs); ok {
		return os.SameFile(ia, ib)
	}
	return filepath.Clean(ev.abs(a)) == filepath.Clean(ev.abs(b))
}
