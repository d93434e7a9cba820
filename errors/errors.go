package errors

import "errors"

// Exit statuses with a fixed meaning for scripts.
const (
	CodeOk            int = 0
	CodeFailure       int = 1   // Generic failure, also used for redirect errors
	CodeUsage         int = 2   // Bad flags or arguments to a builtin
	CodeNotExecutable int = 126 // Command found but could not be executed
	CodeNotFound      int = 127 // Command not found
	CodeSignalBase    int = 128 // Added to the number of a fatal signal
	CodeInterrupted   int = CodeSignalBase + 2
	CodeBrokenPipe    int = CodeSignalBase + 13
)

// ShellError extends the standard error interface with a Code method.  The
// code is the exit status the error produces.
type ShellError interface {
	error
	Code() int
}

// New returns an error that formats as the given text.  This wraps the
// standard errors.New function so that we don't need to alias that package.
func New(text string) error {
	return errors.New(text)
}

// Is wraps the standard errors.Is function.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps the standard errors.As function.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Code returns the exit status for err: the carried code of a ShellError, 0
// for nil and CodeFailure for anything else.
func Code(err error) int {
	if err == nil {
		return CodeOk
	}
	var se ShellError
	if errors.As(err, &se) {
		return se.Code()
	}
	return CodeFailure
}
