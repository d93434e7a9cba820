package process

import (
	"fmt"
	"io"
	"os"
	"sync"

	"git.sr.ht/~mango/osh/errors"
)

// Pipeline connects the stdout of each stage to the stdin of the next.  A
// foreground pipeline runs its last part in the shell itself, so that
// ‘echo x | read v’ sets v.
type Pipeline struct {
	SigpipeOk bool // Treat a stage killed by SIGPIPE as successful

	procs      []*Process
	stderrToo  []bool
	waiter     *Waiter
	foreground bool

	hasLast  bool
	lastDesc string
	lastRead *os.File

	mu         sync.Mutex
	lastDone   bool
	lastStatus int

	doneOnce sync.Once
	done     chan struct{}
}

func NewPipeline(sigpipeOk bool, w *Waiter) *Pipeline {
	return &Pipeline{SigpipeOk: sigpipeOk, waiter: w, foreground: true}
}

// Add appends a stage.  With stderrToo the stage's stderr also feeds the
// pipe, as with ‘|&’.
func (pi *Pipeline) Add(p *Process, stderrToo bool) {
	pi.procs = append(pi.procs, p)
	pi.stderrToo = append(pi.stderrToo, stderrToo)
}

// AddLast marks that the output of the final stage is read by code run with
// Run rather than by another process.
func (pi *Pipeline) AddLast(desc string) {
	pi.hasLast = true
	pi.lastDesc = desc
}

// Start starts every stage.  Nothing is waited on until all stages run, or a
// stage blocked on a full pipe would never finish.
func (pi *Pipeline) Start() error {
	var jc *JobControl
	if pi.waiter != nil {
		jc = pi.waiter.JobControl
	}
	group := NoPgid
	if jc.Enabled() {
		group = NewPgid
	}

	var prevRead *os.File
	for i, p := range pi.procs {
		if prevRead != nil {
			p.Fds.PushPipe(0, prevRead)
			prevRead = nil
		}
		if i < len(pi.procs)-1 || pi.hasLast {
			pr, pw, err := Pipe()
			if err != nil {
				pi.abort(i)
				return err
			}
			if pi.stderrToo[i] {
				d, err := dup(pw)
				if err != nil {
					pr.Close()
					pw.Close()
					pi.abort(i)
					return err
				}
				p.Fds.PushPipe(2, d)
			}
			p.Fds.PushPipe(1, pw)
			prevRead = pr
		}

		p.Group = group
		p.Foreground = pi.foreground
		if err := p.Start(); err != nil {
			pi.report(p, err)
		}
		if i == 0 && group == NewPgid {
			group = p.Pgid()
		}
	}
	pi.lastRead = prevRead
	return nil
}

// abort closes the descriptors of the stages from i on, which never started.
func (pi *Pipeline) abort(i int) {
	for _, p := range pi.procs[i:] {
		p.Fail(errors.CodeFailure)
	}
}

func (pi *Pipeline) report(p *Process, err error) {
	status := errors.CodeNotExecutable
	if os.IsNotExist(err) {
		status = errors.CodeNotFound
	}
	if pi.waiter != nil && pi.waiter.Stderr != nil {
		fmt.Fprintf(pi.waiter.Stderr, "osh: Can't execute ‘%s’: %s\n", p.Desc, reason(err))
	}
	p.Fail(status)
}

// Run runs the last part in the calling goroutine with its stdin connected
// to the pipeline, then waits for the other stages.
func (pi *Pipeline) Run(fds *FdState, last func() int) ([]int, error) {
	if pi.foreground && pi.waiter != nil {
		pi.waiter.JobControl.MaybeGiveTerminal(pi.ProcessGroupId())
	}

	if pi.lastRead != nil {
		fds.PushPipe(0, pi.lastRead)
		pi.lastRead = nil
		status := last()
		// Closing the read end lets ‘yes | head -1’ finish.
		fds.Pop()
		pi.mu.Lock()
		pi.lastStatus, pi.lastDone = status, true
		pi.mu.Unlock()
	}
	return pi.Wait()
}

// Wait waits for every stage and returns their statuses in order, as stored
// in PIPESTATUS.
func (pi *Pipeline) Wait() ([]int, error) {
	statuses := make([]int, 0, len(pi.procs)+1)
	for _, p := range pi.procs {
		status, err := p.Wait()
		if err != nil {
			return nil, err
		}
		if status == errors.CodeBrokenPipe && pi.SigpipeOk {
			status = 0
		}
		if p.State() == Done && pi.waiter != nil && pi.waiter.Jobs != nil {
			pi.waiter.Jobs.RemoveChild(p.Pid())
		}
		statuses = append(statuses, status)
	}
	if pi.hasLast {
		pi.mu.Lock()
		statuses = append(statuses, pi.lastStatus)
		pi.mu.Unlock()
	}
	if pi.foreground && pi.waiter != nil {
		pi.waiter.JobControl.MaybeTakeTerminal()
	}
	return statuses, nil
}

// LastPid is the pid stored in $! for a background pipeline.
func (pi *Pipeline) LastPid() int {
	if len(pi.procs) == 0 {
		return 0
	}
	return pi.procs[len(pi.procs)-1].Pid()
}

// Job implementation

func (pi *Pipeline) JobWait() (int, error) {
	statuses, err := pi.Wait()
	if err != nil || len(statuses) == 0 {
		return 0, err
	}
	return statuses[len(statuses)-1], nil
}

// Done is closed once every process of the pipeline has finished.
func (pi *Pipeline) Done() <-chan struct{} {
	pi.doneOnce.Do(func() {
		pi.done = make(chan struct{})
		go func() {
			for _, p := range pi.procs {
				<-p.Done()
			}
			close(pi.done)
		}()
	})
	return pi.done
}

func (pi *Pipeline) State() State {
	done := true
	for _, p := range pi.procs {
		switch p.State() {
		case Stopped:
			return Stopped
		case Running:
			done = false
		}
	}
	if pi.hasLast {
		pi.mu.Lock()
		done = done && pi.lastDone
		pi.mu.Unlock()
	}
	if done {
		return Done
	}
	return Running
}

func (pi *Pipeline) ProcessGroupId() int {
	if len(pi.procs) == 0 {
		return NoPgid
	}
	return pi.procs[0].ProcessGroupId()
}

func (pi *Pipeline) Pids() []int {
	pids := make([]int, len(pi.procs))
	for i, p := range pi.procs {
		pids[i] = p.Pid()
	}
	return pids
}

func (pi *Pipeline) Command() string {
	s := joinDesc(pi.procs)
	if pi.hasLast {
		s += " | " + pi.lastDesc
	}
	return s
}

func (pi *Pipeline) SetForeground() {
	pi.foreground = true
	for _, p := range pi.procs {
		p.SetForeground()
	}
}

func (pi *Pipeline) SetBackground() {
	pi.foreground = false
	for _, p := range pi.procs {
		p.SetBackground()
	}
}

func (pi *Pipeline) Continue() error {
	for _, p := range pi.procs {
		if err := p.Continue(); err != nil {
			return err
		}
	}
	return nil
}

func (pi *Pipeline) stateDesc() string {
	switch pi.State() {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	}
	last := pi.procs[len(pi.procs)-1]
	return last.stateDesc()
}

func (pi *Pipeline) DisplayJob(w io.Writer, id int, mark string, style Style) {
	switch style {
	case StylePids:
		fmt.Fprintln(w, pi.ProcessGroupId())
	case StyleLong:
		for i, p := range pi.procs {
			head := ""
			if i == 0 {
				head = fmt.Sprintf("[%d]%s", id, mark)
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", head, p.Pid(), p.stateDesc(), p.Desc)
		}
	default:
		fmt.Fprintf(w, "[%d]%s\t%s\t%s\n", id, mark, pi.stateDesc(), pi.Command())
	}
}
