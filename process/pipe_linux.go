package process

import (
	"os"

	"golang.org/x/sys/unix"
)

// Pipe returns a pipe whose ends are in blocking mode, as external programs
// expect of the descriptors they inherit.  os.Pipe makes both ends
// non-blocking, and the flag belongs to the open file, so every dup shares it.
func Pipe() (r, w *os.File, err error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, os.NewSyscallError("pipe2", err)
	}
	return os.NewFile(uintptr(p[0]), "|0"), os.NewFile(uintptr(p[1]), "|1"), nil
}
