package log

import (
	"fmt"
	"io"
	"os"
)

var (
	CrashOnError = false

	// Stderr is where Err and Warn write.  Tests swap it out.
	Stderr io.Writer = os.Stderr
)

// Err prints a diagnostic to the standard error according to format.  It also
// prepends the program name and appends a newline.  This is much like the
// errx(3) function from C unless CrashOnError is false in which case this will
// act like warnx(3).
func Err(format string, args ...any) {
	fmt.Fprintf(Stderr, "osh: "+format+"\n", args...)

	if CrashOnError {
		os.Exit(1)
	}
}

// Warn is like Err but never exits.
func Warn(format string, args ...any) {
	fmt.Fprintf(Stderr, "osh: warning: "+format+"\n", args...)
}
