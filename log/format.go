package log

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"mvdan.cc/sh/v3/syntax"

	"git.sr.ht/~mango/osh/errors"
)

type PrintFunc func(io.Writer, string, ...any)

func Red() PrintFunc {
	return color.New(color.FgRed, color.Bold).FprintfFunc()
}

func Yellow() PrintFunc {
	return color.New(color.FgYellow).FprintfFunc()
}

func Plain() PrintFunc {
	return func(w io.Writer, format string, args ...any) {
		fmt.Fprintf(w, format, args...)
	}
}

// Formatter prints runtime errors.  When the error carries a position inside a
// registered source, the offending line is quoted with a caret under the
// column:
//
//	  echo $(( 1 / 0 ))
//	                ^
//	script.sh:3: fatal: Divide by zero
type Formatter struct {
	W     io.Writer
	Color bool

	sources *sourceSet
}

type sourceSet struct {
	mu sync.Mutex
	m  map[string][]string
}

func NewFormatter(w io.Writer, useColor bool) *Formatter {
	return &Formatter{W: w, Color: useColor, sources: &sourceSet{m: make(map[string][]string)}}
}

// Fork returns a formatter writing to w that shares the registered sources
// of f, for a subshell.
func (f *Formatter) Fork(w io.Writer) *Formatter {
	return &Formatter{W: w, Color: f.Color, sources: f.sources}
}

// AddSource registers the text of a script, eval buffer or trap so errors can
// quote it later.
func (f *Formatter) AddSource(name, text string) {
	f.sources.mu.Lock()
	defer f.sources.mu.Unlock()
	f.sources.m[name] = strings.Split(text, "\n")
}

func (f *Formatter) line(name string, n uint) (string, bool) {
	f.sources.mu.Lock()
	defer f.sources.mu.Unlock()
	lines, ok := f.sources.m[name]
	if !ok || n == 0 || int(n) > len(lines) {
		return "", false
	}
	return lines[n-1], true
}

func (f *Formatter) paint(c func() PrintFunc) PrintFunc {
	if !f.Color {
		return Plain()
	}
	return c()
}

// Fatal prints err with the "fatal" label.
func (f *Formatter) Fatal(err error, source string) {
	f.print(err, source, "fatal", Red)
}

// Warning prints err with the "warning" label.
func (f *Formatter) Warning(err error, source string) {
	f.print(err, source, "warning", Yellow)
}

// ErrExit prints the message carried by a failed command under errexit.
func (f *Formatter) ErrExit(err error, source string) {
	f.print(err, source, "errexit", Yellow)
}

// Message prints msg at pos without a label, used by builtins that want a
// located diagnostic.
func (f *Formatter) Message(pos syntax.Pos, source, msg string) {
	f.quote(pos, source)
	f.prefix(pos, source)
	fmt.Fprintln(f.W, msg)
}

func (f *Formatter) print(err error, source, label string, c func() PrintFunc) {
	var fe *errors.FatalError
	if errors.As(err, &fe) && fe.Source != "" {
		source = fe.Source
	}
	pos, ok := errors.Located(err)
	if !ok {
		fmt.Fprint(f.W, "[??? no location ???] ")
		f.paint(c)(f.W, "%s: ", label)
		fmt.Fprintln(f.W, err.Error())
		return
	}
	f.quote(pos, source)
	f.prefix(pos, source)
	f.paint(c)(f.W, "%s: ", label)
	fmt.Fprintln(f.W, err.Error())
}

func (f *Formatter) prefix(pos syntax.Pos, source string) {
	if source == "" {
		source = "osh"
	}
	if pos.IsValid() {
		fmt.Fprintf(f.W, "%s:%d: ", source, pos.Line())
	} else {
		fmt.Fprintf(f.W, "%s: ", source)
	}
}

func (f *Formatter) quote(pos syntax.Pos, source string) {
	if !pos.IsValid() {
		return
	}
	text, ok := f.line(source, pos.Line())
	if !ok {
		return
	}
	fmt.Fprintf(f.W, "  %s\n", text)

	// Keep tabs so the caret lines up with the quoted text.
	var sb strings.Builder
	col := int(pos.Col()) - 1
	for i := 0; i < col && i < len(text); i++ {
		if text[i] == '\t' {
			sb.WriteByte('\t')
		} else {
			sb.WriteByte(' ')
		}
	}
	fmt.Fprintf(f.W, "  %s^\n", sb.String())
}
