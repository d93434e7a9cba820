package builtin

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"git.sr.ht/~mango/osh/process"
	"git.sr.ht/~mango/osh/state"
	"golang.org/x/sys/unix"
)

// Hooks are the trap names that are not signals.
var hooks = []string{"EXIT", "ERR", "DEBUG", "RETURN"}

// TrapName normalizes a ‘trap’ operand to the key of the trap table: a hook
// name or a signal name such as SIGINT.
func TrapName(s string) (string, syscall.Signal, bool) {
	u := strings.ToUpper(s)
	if u == "0" {
		u = "EXIT"
	}
	for _, h := range hooks {
		if u == h {
			return h, 0, true
		}
	}
	sig, ok := process.SignalNumber(s)
	if !ok {
		return "", 0, false
	}
	return process.SignalName(sig), sig, true
}

func trap(sh Shell, cmd *exec.Cmd) uint8 {
	opts, args, ok := getopts(cmd, "lp")
	if !ok {
		return trapUsage(cmd)
	}
	for _, o := range opts {
		switch o.Option {
		case 'l':
			listSignals(cmd)
			return 0
		case 'p':
			printTraps(sh, cmd, args)
			return 0
		}
	}

	switch len(args) {
	case 0:
		printTraps(sh, cmd, nil)
		return 0
	case 1:
		return resetTraps(sh, cmd, args)
	}
	if args[0] == "-" {
		return resetTraps(sh, cmd, args[1:])
	}

	code, names := args[0], args[1:]
	var node state.Trap
	if code != "" {
		f, err := sh.Parse(code, "trap")
		if err != nil {
			errorf(cmd, "%s", err)
			return 1
		}
		node = state.Trap{Code: code, Node: f}
	}

	var status uint8
	for _, s := range names {
		name, sig, ok := TrapName(s)
		if !ok {
			errorf(cmd, "‘%s’: invalid signal specification", s)
			status = 1
			continue
		}
		sh.Traps().Set(name, node)
		switch {
		case sig == 0:
		case code == "":
			sh.Signals().Ignore(sig)
		default:
			sh.Signals().Register(sig)
		}
	}
	return status
}

func resetTraps(sh Shell, cmd *exec.Cmd, names []string) uint8 {
	var status uint8
	for _, s := range names {
		name, sig, ok := TrapName(s)
		if !ok {
			errorf(cmd, "‘%s’: invalid signal specification", s)
			status = 1
			continue
		}
		sh.Traps().Remove(name)
		if sig != 0 {
			sh.Signals().Unregister(sig)
		}
	}
	return status
}

func printTraps(sh Shell, cmd *exec.Cmd, names []string) {
	traps := sh.Traps()
	if len(names) == 0 {
		names = traps.Names()
	}
	for _, s := range names {
		name, _, ok := TrapName(s)
		if !ok {
			continue
		}
		if tr, ok := traps.Get(name); ok {
			fmt.Fprintf(cmd.Stdout, "trap -- %s %s\n", quote(tr.Code), name)
		}
	}
}

func listSignals(cmd *exec.Cmd) {
	for _, sig := range process.Signals() {
		fmt.Fprintf(cmd.Stdout, "%2d) %s\n", int(sig), process.SignalName(sig))
	}
}

func trapUsage(cmd *exec.Cmd) uint8 {
	fmt.Fprintln(cmd.Stderr, "Usage: trap [-lp] [[code] signal ...]")
	return 2
}

func kill(sh Shell, cmd *exec.Cmd) uint8 {
	sig := syscall.SIGTERM
	args := cmd.Args[1:]

	if len(args) > 0 {
		switch a := args[0]; {
		case a == "-l" || a == "-L":
			return killList(cmd, args[1:])
		case a == "-s" || a == "-n":
			if len(args) < 2 {
				return killUsage(cmd)
			}
			s, ok := process.SignalNumber(args[1])
			if !ok {
				return usage(cmd, "‘%s’: invalid signal specification", args[1])
			}
			sig, args = s, args[2:]
		case a == "--":
			args = args[1:]
		case len(a) > 1 && a[0] == '-':
			s, ok := process.SignalNumber(a[1:])
			if !ok {
				return usage(cmd, "‘%s’: invalid signal specification", a[1:])
			}
			sig, args = s, args[1:]
		}
	}
	if len(args) == 0 {
		return killUsage(cmd)
	}

	var status uint8
	for _, target := range args {
		if err := signalTarget(sh, target, sig); err != nil {
			errorf(cmd, "%s: %s", target, err)
			status = 1
		}
	}
	return status
}

// signalTarget sends sig to a job spec or pid.  Subshells that run as
// goroutines only exist in the child registry, and get sig injected, as does
// the shell itself for a trapped signal.
func signalTarget(sh Shell, target string, sig syscall.Signal) error {
	jobs := sh.Jobs()
	var pids []int
	if strings.HasPrefix(target, "%") {
		_, j, err := jobs.GetJobWithSpec(target)
		if err != nil {
			return err
		}
		pids = j.Pids()
	} else {
		pid, err := strconv.Atoi(target)
		if err != nil {
			return fmt.Errorf("arguments must be process or job IDs")
		}
		pids = []int{pid}
	}

	for _, pid := range pids {
		if p, ok := jobs.Child(pid); ok {
			if err := p.Signal(sig); err != nil {
				return err
			}
			continue
		}
		if process.IsVirtualPid(pid) {
			return unix.ESRCH
		}
		if pid == os.Getpid() && sh.Signals().InjectTrapped(sig) {
			continue
		}
		if err := unix.Kill(pid, sig); err != nil {
			return err
		}
	}
	return nil
}

func killList(cmd *exec.Cmd, args []string) uint8 {
	if len(args) == 0 {
		names := make([]string, 0, 64)
		for _, sig := range process.Signals() {
			names = append(names, strings.TrimPrefix(process.SignalName(sig), "SIG"))
		}
		fmt.Fprintln(cmd.Stdout, strings.Join(names, " "))
		return 0
	}

	var status uint8
	for _, a := range args {
		if n, err := strconv.Atoi(a); err == nil {
			if n > 128 {
				n -= 128
			}
			sig, ok := process.SignalNumber(strconv.Itoa(n))
			if !ok {
				errorf(cmd, "‘%s’: invalid signal specification", a)
				status = 1
				continue
			}
			fmt.Fprintln(cmd.Stdout, strings.TrimPrefix(process.SignalName(sig), "SIG"))
			continue
		}
		sig, ok := process.SignalNumber(a)
		if !ok {
			errorf(cmd, "‘%s’: invalid signal specification", a)
			status = 1
			continue
		}
		fmt.Fprintln(cmd.Stdout, int(sig))
	}
	return status
}

func killUsage(cmd *exec.Cmd) uint8 {
	fmt.Fprintln(cmd.Stderr, "Usage: kill [-s sig | -sig] pid | jobspec ...\n       kill -l [status]")
	return 2
}
