package process

import (
	"io"
	"sync"
	"syscall"

	"git.sr.ht/~mango/osh/errors"
	"golang.org/x/sys/unix"
)

// Waiter blocks on children.  While it blocks, signals are still handled:
// trap handlers run through RunTraps, and an untrapped SIGINT aborts the
// wait of a non-interactive shell.
type Waiter struct {
	Signals     *SignalSafe
	Jobs        *JobList
	JobControl  *JobControl
	RunTraps    func()
	Interactive bool
	Stderr      io.Writer
}

// ErrInterrupted aborts a wait on SIGINT.
var ErrInterrupted = &errors.FatalError{Msg: "Interrupted", Status: errors.CodeInterrupted}

// Killed is the error that ends a subshell sent an untrapped signal.
func Killed(sig syscall.Signal) error {
	return &errors.FatalError{
		Msg:    "Killed by " + SignalName(sig),
		Status: errors.CodeSignalBase + int(sig),
	}
}

func wait4(pid int, options int) (int, unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, options, nil)
		if err != unix.EINTR {
			return wpid, ws, err
		}
	}
}

// Await blocks until done is closed or changed receives.  A nil Waiter only
// blocks.
func (w *Waiter) Await(done, changed <-chan struct{}) error {
	var wake <-chan struct{}
	if w != nil && w.Signals != nil {
		wake = w.Signals.Wake()
	}
	for {
		select {
		case <-done:
			return nil
		case <-changed:
			return nil
		case <-wake:
			if w.RunTraps != nil {
				w.RunTraps()
			}
			if sig := w.Signals.FatalSignal(); sig != 0 {
				return Killed(sig)
			}
			if !w.Interactive && w.Signals.PollUntrappedSigInt() {
				return ErrInterrupted
			}
		}
	}
}

// WaitAny blocks until one of jobs finishes and returns its index, for
// ‘wait -n’.
func (w *Waiter) WaitAny(jobs []Job) (int, error) {
	if len(jobs) == 0 {
		return -1, nil
	}
	var (
		once  sync.Once
		first = -1
		done  = make(chan struct{})
	)
	for i, j := range jobs {
		go func() {
			<-j.Done()
			once.Do(func() {
				first = i
				close(done)
			})
		}()
	}
	if err := w.Await(done, nil); err != nil {
		return -1, err
	}
	return first, nil
}
