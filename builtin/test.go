package builtin

import (
	"fmt"
	"os/exec"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/expand"
	"mvdan.cc/sh/v3/syntax"
)

// testParser evaluates the arguments of ‘test’ by recursive descent.  A
// binary operator in second position takes precedence over reading the
// first argument as an operator, so ‘test -n = -n’ compares strings.
type testParser struct {
	ev   *expand.Evaluator
	args []string
	i    int
}

func (p *testParser) peek(n int) (string, bool) {
	if p.i+n < len(p.args) {
		return p.args[p.i+n], true
	}
	return "", false
}

func (p *testParser) next() string {
	s := p.args[p.i]
	p.i++
	return s
}

func (p *testParser) or() (bool, error) {
	b, err := p.and()
	if err != nil {
		return false, err
	}
	for {
		if s, ok := p.peek(0); !ok || s != "-o" {
			return b, nil
		}
		p.i++
		c, err := p.and()
		if err != nil {
			return false, err
		}
		b = b || c
	}
}

func (p *testParser) and() (bool, error) {
	b, err := p.not()
	if err != nil {
		return false, err
	}
	for {
		if s, ok := p.peek(0); !ok || s != "-a" {
			return b, nil
		}
		p.i++
		c, err := p.not()
		if err != nil {
			return false, err
		}
		b = b && c
	}
}

func (p *testParser) not() (bool, error) {
	if s, ok := p.peek(0); ok && s == "!" {
		if _, ok := p.peek(1); ok {
			p.i++
			b, err := p.not()
			return !b, err
		}
	}
	return p.primary()
}

func (p *testParser) primary() (bool, error) {
	s, ok := p.peek(0)
	if !ok {
		return false, errors.Usage("argument expected")
	}

	if op, ok := p.peek(1); ok {
		if bop, ok := expand.LookupBinaryTest(op); ok {
			if rhs, ok := p.peek(2); ok {
				p.i += 3
				return p.ev.TestBinary(bop, s, rhs, syntax.Pos{})
			}
		}
	}

	if s == "(" {
		if _, ok := p.peek(1); ok {
			p.i++
			b, err := p.or()
			if err != nil {
				return false, err
			}
			if s, ok := p.peek(0); !ok || s != ")" {
				return false, errors.Usage("missing ‘)’")
			}
			p.i++
			return b, nil
		}
	}

	if uop, ok := expand.LookupUnaryTest(s); ok {
		if arg, ok := p.peek(1); ok {
			p.i += 2
			return p.ev.TestUnary(uop, arg, syntax.Pos{})
		}
	}
	return p.next() != "", nil
}

func test(sh Shell, cmd *exec.Cmd) uint8 {
	args := cmd.Args[1:]
	if cmd.Args[0] == "[" {
		if len(args) == 0 || args[len(args)-1] != "]" {
			return usage(cmd, "missing ‘]’")
		}
		args = args[:len(args)-1]
	}
	if len(args) == 0 {
		return 1
	}

	p := &testParser{ev: sh.Expander(), args: args}
	b, err := p.or()
	if err == nil && p.i < len(args) {
		err = fmt.Errorf("‘%s’: unexpected argument", args[p.i])
	}
	if err != nil {
		errorf(cmd, "%s", err)
		return uint8(errors.CodeUsage)
	}
	if b {
		return 0
	}
	return 1
}
