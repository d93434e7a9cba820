package vm

import (
	"fmt"
	"math"

	"git.sr.ht/~mango/osh/errors"
	"mvdan.cc/sh/v3/syntax"
)

// commandResult is a non-local outcome of a command.  Loops catch errBreak
// and errContinue, function calls and ‘source’ catch errReturn, and the top
// level catches errExit.
type commandResult interface {
	error
	ExitCode() uint8
}

type errBreak struct {
	n   int
	pos syntax.Pos
}

func (e errBreak) ExitCode() uint8 {
	return 0
}

func (e errBreak) Error() string {
	return "break"
}

type errContinue struct {
	n   int
	pos syntax.Pos
}

func (e errContinue) ExitCode() uint8 {
	return 0
}

func (e errContinue) Error() string {
	return "continue"
}

type errReturn uint8

func (e errReturn) ExitCode() uint8 {
	return uint8(e)
}

func (_ errReturn) Error() string {
	return "return"
}

type errExitCode uint8

func (e errExitCode) ExitCode() uint8 {
	return uint8(e)
}

func (_ errExitCode) Error() string {
	return "exit"
}

// errInternal wraps a failure of the operating system that no script can
// recover from, such as running out of descriptors for a pipe.
type errInternal struct {
	e error
}

func (e errInternal) ExitCode() uint8 {
	return math.MaxUint8
}

func (e errInternal) Error() string {
	return e.e.Error()
}

func (e errInternal) Unwrap() error {
	return e.e
}

// exitCode returns the status err carries to the code that catches it.
func exitCode(err error) int {
	var cr commandResult
	if errors.As(err, &cr) {
		return int(cr.ExitCode())
	}
	return errors.Code(err)
}

// isLoopControl reports whether err is a break or continue.
func isLoopControl(err error) bool {
	switch err.(type) {
	case errBreak, errContinue:
		return true
	}
	return false
}

// loopControl decides what a loop does with the error of its body.  It
// returns whether the loop stops and the error to pass upward, which is nil
// when the loop consumed a break or continue meant for it.
func loopControl(err error) (bool, error) {
	switch e := err.(type) {
	case errBreak:
		if e.n > 1 {
			return true, errBreak{e.n - 1, e.pos}
		}
		return true, nil
	case errContinue:
		if e.n > 1 {
			return true, errContinue{e.n - 1, e.pos}
		}
		return false, nil
	}
	return true, err
}

func internal(format string, args ...any) error {
	return errInternal{fmt.Errorf(format, args...)}
}
