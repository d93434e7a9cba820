package builtin

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"git.sr.ht/~mango/osh/process"
)

func jobs(sh Shell, cmd *exec.Cmd) uint8 {
	opts, _, ok := getopts(cmd, "lp")
	if !ok {
		fmt.Fprintln(cmd.Stderr, "Usage: jobs [-lp]")
		return 2
	}
	style := process.StyleDefault
	for _, o := range opts {
		switch o.Option {
		case 'l':
			style = process.StyleLong
		case 'p':
			style = process.StylePids
		}
	}
	sh.Jobs().DisplayJobs(cmd.Stdout, style)
	return 0
}

func jobArg(cmd *exec.Cmd) (string, bool) {
	switch len(cmd.Args) {
	case 1:
		return "%+", true
	case 2:
		return cmd.Args[1], true
	}
	return "", false
}

// fg continues a job in the foreground and waits for it.
func fg(sh Shell, cmd *exec.Cmd) uint8 {
	spec, ok := jobArg(cmd)
	if !ok {
		return usage(cmd, "too many arguments")
	}
	jl := sh.Jobs()
	id, j, err := jl.GetJobWithSpec(spec)
	if err != nil {
		return failure(cmd, err)
	}

	fmt.Fprintln(cmd.Stdout, j.Command())
	jc := sh.Waiter().JobControl
	j.SetForeground()
	if err := jc.MaybeGiveTerminal(j.ProcessGroupId()); err != nil {
		errorf(cmd, "%s", err)
	}
	if err := j.Continue(); err != nil {
		errorf(cmd, "%s", err)
		jc.MaybeTakeTerminal()
		return 1
	}
	status, err := j.JobWait()
	jc.MaybeTakeTerminal()
	if err != nil {
		return sh.Abort(err)
	}
	if j.State() == process.Done {
		jl.RemoveJob(id)
	}
	return uint8(status)
}

func bg(sh Shell, cmd *exec.Cmd) uint8 {
	spec, ok := jobArg(cmd)
	if !ok {
		return usage(cmd, "too many arguments")
	}
	id, j, err := sh.Jobs().GetJobWithSpec(spec)
	if err != nil {
		return failure(cmd, err)
	}
	if j.State() == process.Done {
		errorf(cmd, "job %d has already completed", id)
		return 1
	}
	j.SetBackground()
	if err := j.Continue(); err != nil {
		errorf(cmd, "%s", err)
		return 1
	}
	fmt.Fprintf(cmd.Stdout, "[%d] %s &\n", id, j.Command())
	return 0
}

func wait(sh Shell, cmd *exec.Cmd) uint8 {
	opts, args, ok := getopts(cmd, "n")
	if !ok {
		fmt.Fprintln(cmd.Stderr, "Usage: wait [-n] [pid | jobspec ...]")
		return 2
	}
	jl := sh.Jobs()

	if len(opts) > 0 {
		var (
			ids     []int
			pending []process.Job
		)
		for _, id := range jl.Jobs() {
			if j, ok := jl.Get(id); ok && j.State() != process.Done {
				ids = append(ids, id)
				pending = append(pending, j)
			}
		}
		if len(pending) == 0 {
			return 127
		}
		i, err := sh.Waiter().WaitAny(pending)
		if err != nil {
			return sh.Abort(err)
		}
		return waitJob(sh, ids[i], pending[i])
	}

	if len(args) == 0 {
		for _, id := range jl.Jobs() {
			if j, ok := jl.Get(id); ok {
				if _, err := j.JobWait(); err != nil {
					return sh.Abort(err)
				}
				if j.State() == process.Done {
					jl.RemoveJob(id)
				}
			}
		}
		return 0
	}

	var status uint8
	for _, a := range args {
		id, j, err := jl.GetJobWithSpec(a)
		if err == nil {
			status = waitJob(sh, id, j)
			continue
		}
		// A pid that was never a job, such as the last stage of $!.
		pid, perr := strconv.Atoi(a)
		if p, ok := jl.Child(pid); perr == nil && ok {
			n, err := p.Wait()
			if err != nil {
				return sh.Abort(err)
			}
			status = uint8(n)
			continue
		}
		if strings.HasPrefix(a, "%") || perr != nil {
			errorf(cmd, "%s", err)
		} else {
			errorf(cmd, "pid %d is not a child of this shell", pid)
		}
		status = 127
	}
	return status
}

func waitJob(sh Shell, id int, j process.Job) uint8 {
	n, err := j.JobWait()
	if err != nil {
		return sh.Abort(err)
	}
	if j.State() == process.Done {
		sh.Jobs().RemoveJob(id)
	}
	return uint8(n)
}
