package process

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"git.sr.ht/~mango/osh/errors"
	"golang.org/x/sys/unix"
)

type State uint8

const (
	Running State = iota
	Stopped
	Done
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	}
	return "Done"
}

// Values of Process.Group
const (
	NoPgid  = -1 // Stay in the shell's process group
	NewPgid = 0  // Lead a new group
)

// Subshells running on goroutines get ids above the largest Linux pid so
// they never collide with real processes.
var virtualPid atomic.Int64

func init() {
	virtualPid.Store(1 << 22)
}

// IsVirtualPid reports whether pid belongs to a goroutine subshell.
func IsVirtualPid(pid int) bool {
	return pid > 1<<22
}

// Thunk is the work a Process does: an ExternalThunk or a SubProgramThunk.
type Thunk interface {
	isThunk()
}

// ExternalThunk runs a program.
type ExternalThunk struct {
	Path string
	Argv []string
	Env  []string
	Dir  string
}

// SubProgramThunk runs shell code on a goroutine with its own copy of the
// interpreter.  Kill is called when the subshell is sent a signal.
type SubProgramThunk struct {
	Run  func(fds *FdState) int
	Kill func(sig syscall.Signal)
}

func (ExternalThunk) isThunk()   {}
func (SubProgramThunk) isThunk() {}

// Process is one child of the shell.  Its descriptor table is owned by the
// process: it is closed once an external program has started, or once shell
// code has finished.
type Process struct {
	Thunk Thunk
	Fds   *FdState
	Desc  string // Command text for ‘jobs’

	// Group is NoPgid, NewPgid or the group of an earlier pipeline stage
	Group      int
	Foreground bool

	waiter *Waiter

	mu       sync.Mutex
	pid      int
	pgid     int
	state    State
	status   int
	stopSig  syscall.Signal
	done     chan struct{}
	changed  chan struct{}
	doneOnce sync.Once
}

func NewProcess(thunk Thunk, fds *FdState, w *Waiter) *Process {
	return &Process{
		Thunk:   thunk,
		Fds:     fds,
		Group:   NoPgid,
		waiter:  w,
		done:    make(chan struct{}),
		changed: make(chan struct{}, 1),
	}
}

func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// Pgid is the process group the process runs in, or NoPgid.
func (p *Process) Pgid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pgid
}

func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Status is the exit status once the process is Done.
func (p *Process) Status() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Done is closed once the process has finished.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) setState(s State, status int) {
	p.mu.Lock()
	p.state = s
	if s == Done {
		p.status = status
	}
	p.mu.Unlock()

	select {
	case p.changed <- struct{}{}:
	default:
	}
	if s == Done {
		p.doneOnce.Do(func() { close(p.done) })
	}
}

// Start launches the process without waiting for it.
func (p *Process) Start() error {
	var err error
	switch t := p.Thunk.(type) {
	case ExternalThunk:
		err = p.startExternal(t)
	case SubProgramThunk:
		p.startSubProgram(t)
	}
	if err == nil && p.waiter != nil && p.waiter.Jobs != nil {
		p.waiter.Jobs.AddChild(p)
	}
	return err
}

func (p *Process) startExternal(t ExternalThunk) error {
	defer p.Fds.CloseAll()

	sys := &syscall.SysProcAttr{}
	jc := p.jobControl()
	if p.Group != NoPgid && jc.Enabled() {
		sys.Setpgid = true
		sys.Pgid = p.Group
		if p.Foreground && p.Group == NewPgid {
			sys.Foreground = true
			sys.Ctty = jc.TtyFd()
		}
	}

	proc, err := os.StartProcess(t.Path, t.Argv, &os.ProcAttr{
		Dir:   t.Dir,
		Env:   t.Env,
		Files: p.Fds.Files(),
		Sys:   sys,
	})
	if err != nil {
		return err
	}
	// Release sets Pid to -1.  The status comes from wait4, not from
	// proc.Wait.
	pid := proc.Pid
	proc.Release()

	p.mu.Lock()
	p.pid = pid
	p.pgid = NoPgid
	if sys.Setpgid {
		p.pgid = p.Group
		if p.Group == NewPgid {
			p.pgid = pid
		}
	}
	p.mu.Unlock()

	go p.reap()
	return nil
}

// reap collects every state change of an external process until it exits.
// It is the only caller of wait4 for the pid.
func (p *Process) reap() {
	pid := p.Pid()
	for {
		_, ws, err := wait4(pid, unix.WUNTRACED|unix.WCONTINUED)
		if err != nil {
			p.setState(Done, errors.CodeFailure)
			return
		}
		p.update(syscall.WaitStatus(ws))
		if p.State() == Done {
			return
		}
	}
}

func (p *Process) startSubProgram(t SubProgramThunk) {
	p.mu.Lock()
	p.pid = int(virtualPid.Add(1))
	p.pgid = NoPgid
	p.mu.Unlock()

	go func() {
		status := t.Run(p.Fds)
		p.Fds.CloseAll()
		p.setState(Done, status)
	}()
}

// Fail marks a process that could not be started as finished with status.
func (p *Process) Fail(status int) {
	p.setState(Done, status)
	p.Fds.CloseAll()
}

func (p *Process) jobControl() *JobControl {
	if p.waiter == nil {
		return nil
	}
	return p.waiter.JobControl
}

// Wait blocks until the process exits or stops and returns its status.  A
// stopped process reports 128 plus the stopping signal.
func (p *Process) Wait() (int, error) {
	for waited := false; ; waited = true {
		p.mu.Lock()
		state, status, sig := p.state, p.status, p.stopSig
		p.mu.Unlock()
		switch state {
		case Done:
			return status, nil
		case Stopped:
			if waited && p.waiter != nil && p.waiter.Stderr != nil {
				fmt.Fprintf(p.waiter.Stderr, "[PID %d] Stopped with signal %d\n", p.Pid(), sig)
			}
			return errors.CodeSignalBase + int(sig), nil
		}
		if err := p.waiter.Await(p.done, p.changed); err != nil {
			return 0, err
		}
	}
}

// update records a wait status.
func (p *Process) update(ws syscall.WaitStatus) {
	switch {
	case ws.Stopped():
		p.mu.Lock()
		p.stopSig = ws.StopSignal()
		p.mu.Unlock()
		p.setState(Stopped, 0)
	case ws.Continued():
		p.setState(Running, 0)
	case ws.Signaled():
		p.setState(Done, errors.CodeSignalBase+int(ws.Signal()))
	default:
		p.setState(Done, ws.ExitStatus())
	}
}

// Signal delivers sig to the process, or to the subshell it runs.
func (p *Process) Signal(sig syscall.Signal) error {
	if t, ok := p.Thunk.(SubProgramThunk); ok {
		if t.Kill != nil {
			t.Kill(sig)
		}
		return nil
	}
	return syscall.Kill(p.Pid(), sig)
}

// Job implementation

func (p *Process) JobWait() (int, error) {
	return p.Wait()
}

func (p *Process) ProcessGroupId() int {
	if pgid := p.Pgid(); pgid != NoPgid {
		return pgid
	}
	return p.Pid()
}

func (p *Process) Pids() []int {
	return []int{p.Pid()}
}

func (p *Process) Command() string {
	return p.Desc
}

func (p *Process) SetForeground() {
	p.Foreground = true
}

func (p *Process) SetBackground() {
	p.Foreground = false
}

// Continue sends SIGCONT to a stopped process.
func (p *Process) Continue() error {
	if p.State() != Stopped {
		return nil
	}
	p.setState(Running, 0)
	if _, ok := p.Thunk.(SubProgramThunk); ok {
		return nil
	}
	if pgid := p.Pgid(); pgid > 0 {
		return syscall.Kill(-pgid, syscall.SIGCONT)
	}
	return syscall.Kill(p.Pid(), syscall.SIGCONT)
}

func (p *Process) stateDesc() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case Stopped:
		return "Stopped"
	case Done:
		if p.status == 0 {
			return "Done"
		}
		return fmt.Sprintf("Exit %d", p.status)
	}
	return "Running"
}

func (p *Process) DisplayJob(w io.Writer, id int, mark string, style Style) {
	switch style {
	case StylePids:
		fmt.Fprintln(w, p.ProcessGroupId())
	case StyleLong:
		fmt.Fprintf(w, "[%d]%s\t%d\t%s\t%s\n", id, mark, p.Pid(), p.stateDesc(), p.Desc)
	default:
		fmt.Fprintf(w, "[%d]%s\t%s\t%s\n", id, mark, p.stateDesc(), p.Desc)
	}
}

func joinDesc(procs []*Process) string {
	descs := make([]string, len(procs))
	for i, p := range procs {
		descs[i] = p.Desc
	}
	return strings.Join(descs, " | ")
}
