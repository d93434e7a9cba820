package vm

import (
	"strconv"
	"strings"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/process"
	"mvdan.cc/sh/v3/syntax"
)

func defaultFd(op syntax.RedirOperator) int {
	switch op {
	case syntax.RdrIn, syntax.RdrInOut, syntax.DplIn, syntax.Hdoc,
		syntax.DashHdoc, syntax.WordHdoc:
		return 0
	}
	return 1
}

func (v *Vm) evalRedirects(rs []*syntax.Redirect) ([]process.Redirect, error) {
	out := make([]process.Redirect, 0, len(rs))
	for _, r := range rs {
		pr, err := v.evalRedirect(r)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, nil
}

func (v *Vm) evalRedirect(r *syntax.Redirect) (process.Redirect, error) {
	pr := process.Redirect{Op: r.Op, Fd: defaultFd(r.Op), Pos: r.OpPos}
	if r.N != nil {
		if strings.HasPrefix(r.N.Value, "{") {
			return pr, errors.Die(r.N.Pos(), "Named file descriptors aren't supported")
		}
		n, err := strconv.Atoi(r.N.Value)
		if err != nil {
			return pr, errors.Redirect(r.N.Pos(), "‘%s’: Invalid descriptor", r.N.Value)
		}
		pr.Fd = n
	}

	switch r.Op {
	case syntax.Hdoc, syntax.DashHdoc:
		body, err := v.ev.EvalHereDoc(r.Hdoc, !quotedDelim(r.Word))
		if err != nil {
			return pr, err
		}
		pr.Kind, pr.Body = process.RedirHereDoc, body
		return pr, nil
	case syntax.WordHdoc:
		s, err := v.ev.EvalWordToString(r.Word)
		if err != nil {
			return pr, err
		}
		pr.Kind, pr.Body = process.RedirHereDoc, s+"\n"
		return pr, nil
	}

	target, err := v.ev.EvalRedirectWord(r.Word)
	if err != nil {
		return pr, err
	}

	switch r.Op {
	case syntax.DplIn, syntax.DplOut:
		switch {
		case target == "-":
			pr.Kind = process.RedirCloseFd
			return pr, nil
		case isFd(target):
			pr.Kind = process.RedirCopyFd
			pr.Src, _ = strconv.Atoi(target)
			return pr, nil
		case strings.HasSuffix(target, "-") && isFd(target[:len(target)-1]):
			pr.Kind = process.RedirMoveFd
			pr.Src, _ = strconv.Atoi(target[:len(target)-1])
			return pr, nil
		case r.Op == syntax.DplOut && r.N == nil:
			// ‘>&file’ is ‘&>file’
			pr.Kind, pr.Op, pr.Path = process.RedirPath, syntax.RdrAll, target
			return pr, nil
		}
		return pr, errors.Redirect(r.Word.Pos(), "‘%s’: Bad file descriptor", target)
	}

	pr.Kind, pr.Path = process.RedirPath, target
	return pr, nil
}

func isFd(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// quotedDelim reports whether a here document delimiter has quotes, which
// turns off expansion in the body.
func quotedDelim(w *syntax.Word) bool {
	if w == nil {
		return false
	}
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.SglQuoted, *syntax.DblQuoted:
			return true
		case *syntax.Lit:
			if strings.ContainsRune(p.Value, '\\') {
				return true
			}
		}
	}
	return false
}
