package errors

import (
	"errors"
	"fmt"

	"mvdan.cc/sh/v3/syntax"
)

// FatalError unwinds to the top-level driver, which prints it with a quote of
// the offending source line when Pos is valid.
type FatalError struct {
	Msg    string
	Pos    syntax.Pos
	Status int
	Source string // Name of the script or eval buffer Pos refers to
}

func (err *FatalError) Error() string {
	return err.Msg
}

func (err *FatalError) Code() int {
	if err.Status == 0 {
		return CodeFailure
	}
	return err.Status
}

// Die builds a fatal runtime error located at pos.
func Die(pos syntax.Pos, format string, args ...any) error {
	return &FatalError{Msg: fmt.Sprintf(format, args...), Pos: pos}
}

// DieStatus is like Die but carries a specific exit status.
func DieStatus(status int, pos syntax.Pos, format string, args ...any) error {
	return &FatalError{Msg: fmt.Sprintf(format, args...), Pos: pos, Status: status}
}

// StrictError is raised by code paths that are only errors in strict modes
// (strict_arith, strict_array, ...).  Callers check the relevant option and
// either propagate it as fatal or substitute a default value.
type StrictError struct {
	Msg string
	Pos syntax.Pos
}

func (err *StrictError) Error() string {
	return err.Msg
}

func (err *StrictError) Code() int {
	return CodeFailure
}

func Strict(pos syntax.Pos, format string, args ...any) error {
	return &StrictError{Msg: fmt.Sprintf(format, args...), Pos: pos}
}

// IsStrict reports whether err is a StrictError.
func IsStrict(err error) bool {
	var se *StrictError
	return errors.As(err, &se)
}

// ErrExitError is raised when a command fails while errexit is active.
type ErrExitError struct {
	Status int
	Msg    string
	Pos    syntax.Pos
}

func (err *ErrExitError) Error() string {
	return err.Msg
}

func (err *ErrExitError) Code() int {
	return err.Status
}

// UsageError is returned by builtins given bad flags or arguments.
type UsageError struct {
	Msg string
}

func (err *UsageError) Error() string {
	return err.Msg
}

func (err *UsageError) Code() int {
	return CodeUsage
}

func Usage(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// RedirectError fails a single command with status 1 without being fatal.
type RedirectError struct {
	Msg string
	Pos syntax.Pos
}

func (err *RedirectError) Error() string {
	return err.Msg
}

func (err *RedirectError) Code() int {
	return CodeFailure
}

func Redirect(pos syntax.Pos, format string, args ...any) error {
	return &RedirectError{Msg: fmt.Sprintf(format, args...), Pos: pos}
}

// Located returns the position carried by err, if any.
func Located(err error) (syntax.Pos, bool) {
	var (
		fe *FatalError
		se *StrictError
		ee *ErrExitError
		re *RedirectError
	)
	switch {
	case errors.As(err, &fe):
		return fe.Pos, fe.Pos.IsValid()
	case errors.As(err, &se):
		return se.Pos, se.Pos.IsValid()
	case errors.As(err, &ee):
		return ee.Pos, ee.Pos.IsValid()
	case errors.As(err, &re):
		return re.Pos, re.Pos.IsValid()
	}
	return syntax.Pos{}, false
}
