// Package process owns the operating system side of the shell: the
// descriptor table, child processes, pipelines, jobs and signals.
package process

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/pkg/stack"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"mvdan.cc/sh/v3/syntax"
)

const (
	appendFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY
	createFlags = os.O_TRUNC | os.O_CREATE | os.O_WRONLY
	rdwrFlags   = os.O_RDWR | os.O_CREATE

	// Process substitutions are given descriptors counting down from here
	firstSubstFd = 63
)

type RedirKind uint8

const (
	RedirPath    RedirKind = iota // fd>path, fd<path, &>path, ...
	RedirCopyFd                   // fd>&src
	RedirMoveFd                   // fd>&src-
	RedirCloseFd                  // fd>&-
	RedirHereDoc                  // fd<<EOF, fd<<<word
)

// Redirect is a redirect whose words have been evaluated.
type Redirect struct {
	Kind RedirKind
	Op   syntax.RedirOperator
	Fd   int
	Src  int    // Source descriptor of a copy or move
	Path string // Target of a RedirPath
	Body string // Contents of a here document
	Pos  syntax.Pos
}

type savedFd struct {
	f    *os.File
	open bool
}

type frame struct {
	saved   map[int]savedFd
	order   []int
	writers errgroup.Group
}

// FdState is the shell's descriptor table.  Every entry owns its file, so a
// copy such as ‘2>&1’ really duplicates the descriptor.  Push saves the
// entries a command's redirects replace and Pop puts them back.
type FdState struct {
	files  map[int]*os.File
	frames stack.Stack[*frame]

	Noclobber func() bool
	Dir       func() string
}

// NewFdState returns a table holding copies of stdin, stdout and stderr.
// Nil files are left closed.
func NewFdState(stdin, stdout, stderr *os.File) (*FdState, error) {
	fds := &FdState{files: make(map[int]*os.File, 8), frames: stack.New[*frame](16)}
	for i, f := range []*os.File{stdin, stdout, stderr} {
		if f == nil {
			continue
		}
		d, err := dup(f)
		if err != nil {
			fds.CloseAll()
			return nil, err
		}
		fds.files[i] = d
	}
	return fds, nil
}

// dup duplicates f without switching it to blocking mode, which f.Fd()
// would do.
func dup(f *os.File) (*os.File, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}
	var (
		nfd  int
		derr error
	)
	if err := rc.Control(func(fd uintptr) {
		nfd, derr = unix.FcntlInt(fd, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return nil, err
	}
	if derr != nil {
		return nil, derr
	}
	return os.NewFile(uintptr(nfd), f.Name()), nil
}

// File returns the file open on fd, or nil.
func (fds *FdState) File(fd int) *os.File {
	return fds.files[fd]
}

// Files is the descriptor table of a child process: index i holds the
// shell's fd i.
func (fds *FdState) Files() []*os.File {
	n := 0
	for fd := range fds.files {
		n = max(n, fd+1)
	}
	xs := make([]*os.File, n)
	for fd, f := range fds.files {
		xs[fd] = f
	}
	return xs
}

// Clone returns an independent table with duplicates of every descriptor,
// for a subshell.  The clone starts with no frames.
func (fds *FdState) Clone() (*FdState, error) {
	c := &FdState{
		files:     make(map[int]*os.File, len(fds.files)),
		frames:    stack.New[*frame](16),
		Noclobber: fds.Noclobber,
		Dir:       fds.Dir,
	}
	for fd, f := range fds.files {
		d, err := dup(f)
		if err != nil {
			c.CloseAll()
			return nil, err
		}
		c.files[fd] = d
	}
	return c, nil
}

// CloseAll closes every descriptor, including those saved by frames.
func (fds *FdState) CloseAll() {
	for fds.frames.Len() > 0 {
		fds.MakePermanent()
	}
	for fd, f := range fds.files {
		f.Close()
		delete(fds.files, fd)
	}
}

func devFd(path string) (int, bool) {
	switch path {
	case "/dev/stdin":
		return 0, true
	case "/dev/stdout":
		return 1, true
	case "/dev/stderr":
		return 2, true
	}
	if s, ok := strings.CutPrefix(path, "/dev/fd/"); ok {
		n, err := strconv.Atoi(s)
		return n, err == nil && n >= 0
	}
	return 0, false
}

// Open opens path relative to the shell's directory.  The /dev/fd paths name
// entries of this table rather than of the Go process.
func (fds *FdState) Open(path string, flag int) (*os.File, error) {
	if fd, ok := devFd(path); ok {
		f := fds.files[fd]
		if f == nil {
			return nil, &fs.PathError{Op: "open", Path: path, Err: syscall.EBADF}
		}
		return dup(f)
	}
	if !filepath.IsAbs(path) && fds.Dir != nil {
		path = filepath.Join(fds.Dir(), path)
	}
	return os.OpenFile(path, flag, 0o666)
}

// Install places f on a free descriptor counting down from 63 and returns it.
// The table owns f afterwards.
func (fds *FdState) Install(f *os.File) int {
	fd := firstSubstFd
	for fds.files[fd] != nil && fd > 10 {
		fd--
	}
	if fds.files[fd] != nil {
		for fd = firstSubstFd + 1; fds.files[fd] != nil; fd++ {
		}
	}
	fds.files[fd] = f
	return fd
}

// Close closes fd outside of any frame.
func (fds *FdState) Close(fd int) {
	if f := fds.files[fd]; f != nil {
		f.Close()
	}
	delete(fds.files, fd)
}

// save moves the entry for fd into fr so that Pop can restore it.  An entry
// that fr already replaced was opened by fr and is closed instead.
func (fds *FdState) save(fr *frame, fd int) {
	if _, ok := fr.saved[fd]; ok {
		fds.Close(fd)
		return
	}
	f, ok := fds.files[fd]
	fr.saved[fd] = savedFd{f, ok}
	fr.order = append(fr.order, fd)
	delete(fds.files, fd)
}

func (fds *FdState) set(fr *frame, fd int, f *os.File) {
	fds.save(fr, fd)
	fds.files[fd] = f
}

// Push applies redirs in order inside a new frame.  When one fails the
// frame is undone, the error is printed to errOut and returned; the caller
// must not Pop.
func (fds *FdState) Push(redirs []Redirect, errOut io.Writer) error {
	fr := &frame{saved: make(map[int]savedFd)}
	fds.frames.Push(fr)
	for _, r := range redirs {
		if err := fds.apply(fr, r); err != nil {
			fds.Pop()
			if errOut != nil {
				fmt.Fprintf(errOut, "osh: %s\n", err)
			}
			return err
		}
	}
	return nil
}

// PushPipe opens a frame with f on fd, as done for the ends of a pipeline
// stage.  The table owns f afterwards.
func (fds *FdState) PushPipe(fd int, f *os.File) {
	fr := &frame{saved: make(map[int]savedFd)}
	fds.frames.Push(fr)
	fds.set(fr, fd, f)
}

func reason(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}

func (fds *FdState) apply(fr *frame, r Redirect) error {
	switch r.Kind {
	case RedirPath:
		return fds.applyPath(fr, r)
	case RedirCopyFd, RedirMoveFd:
		if r.Fd == r.Src {
			return nil
		}
		src := fds.files[r.Src]
		if src == nil {
			return errors.Redirect(r.Pos, "%d: Bad file descriptor", r.Src)
		}
		d, err := dup(src)
		if err != nil {
			return errors.Redirect(r.Pos, "Failed to duplicate descriptor %d: %s", r.Src, err)
		}
		fds.set(fr, r.Fd, d)
		if r.Kind == RedirMoveFd {
			fds.save(fr, r.Src)
		}
	case RedirCloseFd:
		fds.save(fr, r.Fd)
	case RedirHereDoc:
		pr, pw, err := Pipe()
		if err != nil {
			return errors.Redirect(r.Pos, "Failed to create here document: %s", err)
		}
		// A reader that stops early closes its end and the write fails
		// with EPIPE, which is not an error here.
		fr.writers.Go(func() error {
			defer pw.Close()
			io.WriteString(pw, r.Body)
			return nil
		})
		fds.set(fr, r.Fd, pr)
	}
	return nil
}

func (fds *FdState) applyPath(fr *frame, r Redirect) error {
	var flag int
	switch r.Op {
	case syntax.RdrIn:
		flag = os.O_RDONLY
	case syntax.RdrInOut:
		flag = rdwrFlags
	case syntax.AppOut, syntax.AppAll:
		flag = appendFlags
	default:
		flag = createFlags
	}

	if (r.Op == syntax.RdrOut || r.Op == syntax.RdrAll) &&
		fds.Noclobber != nil && fds.Noclobber() {
		if _, ok := devFd(r.Path); !ok {
			info, err := os.Stat(fds.abs(r.Path))
			if err == nil && info.Mode().IsRegular() {
				return errors.Redirect(r.Pos,
					"Won't clobber file ‘%s’; did you mean to use ‘>|’?", r.Path)
			}
		}
	}

	f, err := fds.Open(r.Path, flag)
	if err != nil {
		return errors.Redirect(r.Pos, "Failed to open file ‘%s’: %s", r.Path, reason(err))
	}
	if r.Op != syntax.RdrAll && r.Op != syntax.AppAll {
		fds.set(fr, r.Fd, f)
		return nil
	}

	d, err := dup(f)
	if err != nil {
		f.Close()
		return errors.Redirect(r.Pos, "Failed to open file ‘%s’: %s", r.Path, err)
	}
	fds.set(fr, 1, f)
	fds.set(fr, 2, d)
	return nil
}

func (fds *FdState) abs(path string) string {
	if filepath.IsAbs(path) || fds.Dir == nil {
		return path
	}
	return filepath.Join(fds.Dir(), path)
}

// Pop restores the descriptors saved by the innermost frame and closes the
// ones it opened.  Here document writers are joined.
func (fds *FdState) Pop() {
	p := fds.frames.Pop()
	if p == nil {
		return
	}
	fr := *p
	for i := len(fr.order) - 1; i >= 0; i-- {
		fd := fr.order[i]
		fds.Close(fd)
		if s := fr.saved[fd]; s.open {
			fds.files[fd] = s.f
		}
	}
	fr.writers.Wait()
}

// MakePermanent drops the innermost frame and keeps its redirects, as
// ‘exec >file’ does.
func (fds *FdState) MakePermanent() {
	p := fds.frames.Pop()
	if p == nil {
		return
	}
	for _, s := range (*p).saved {
		if s.open {
			s.f.Close()
		}
	}
}

// Depth is the number of open frames.
func (fds *FdState) Depth() int {
	return fds.frames.Len()
}

// Fds returns the open descriptor numbers, for tests and ‘exec’ listings.
func (fds *FdState) Fds() []int {
	xs := make([]int, 0, len(fds.files))
	for fd := range fds.files {
		xs = append(xs, fd)
	}
	return xs
}
