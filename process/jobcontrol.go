package process

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// JobControl hands the terminal back and forth between the shell and its
// foreground jobs.  The zero value and nil are disabled.
type JobControl struct {
	tty       *os.File
	shellPgid int
	origPgid  int // Foreground group before the shell took over
}

// InitJobControl opens the controlling terminal, puts the shell in its own
// process group and takes the terminal.
func InitJobControl() (*JobControl, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	jc := &JobControl{tty: tty}
	fd := int(tty.Fd())

	if jc.origPgid, err = unix.IoctlGetInt(fd, unix.TIOCGPGRP); err != nil {
		tty.Close()
		return nil, err
	}

	// Changing the foreground group from the background raises SIGTTOU.
	signal.Ignore(syscall.SIGTTOU, syscall.SIGTTIN, syscall.SIGTSTP)

	pid := os.Getpid()
	if pgid, _ := unix.Getpgid(0); pgid != pid {
		if err := unix.Setpgid(0, 0); err != nil {
			tty.Close()
			return nil, err
		}
	}
	jc.shellPgid = pid
	if err := jc.MaybeTakeTerminal(); err != nil {
		tty.Close()
		return nil, err
	}
	return jc, nil
}

func (jc *JobControl) Enabled() bool {
	return jc != nil && jc.tty != nil
}

// TtyFd is the descriptor of the controlling terminal, or -1.
func (jc *JobControl) TtyFd() int {
	if !jc.Enabled() {
		return -1
	}
	return int(jc.tty.Fd())
}

func (jc *JobControl) setForeground(pgid int) error {
	return unix.IoctlSetPointerInt(jc.TtyFd(), unix.TIOCSPGRP, pgid)
}

// MaybeGiveTerminal makes pgid the foreground group when job control is on.
func (jc *JobControl) MaybeGiveTerminal(pgid int) error {
	if !jc.Enabled() || pgid <= 0 {
		return nil
	}
	return jc.setForeground(pgid)
}

// MaybeTakeTerminal makes the shell the foreground group again.
func (jc *JobControl) MaybeTakeTerminal() error {
	if !jc.Enabled() {
		return nil
	}
	return jc.setForeground(jc.shellPgid)
}

// MaybeReturnTerminal gives the terminal back to the group that had it before
// the shell started, on exit.
func (jc *JobControl) MaybeReturnTerminal() error {
	if !jc.Enabled() {
		return nil
	}
	err := jc.setForeground(jc.origPgid)
	jc.tty.Close()
	jc.tty = nil
	return err
}
