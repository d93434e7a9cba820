package process

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	"git.sr.ht/~mango/osh/errors"
	"github.com/Ladicle/tabwriter"
	"github.com/puzpuzpuz/xsync/v4"
)

// Style selects the output of ‘jobs’.
type Style uint8

const (
	StyleDefault Style = iota
	StyleLong          // jobs -l
	StylePids          // jobs -p
)

// Job is a background or stopped Process or Pipeline.
type Job interface {
	JobWait() (int, error)
	Done() <-chan struct{}
	State() State
	DisplayJob(w io.Writer, id int, mark string, style Style)
	ProcessGroupId() int
	Pids() []int
	Command() string
	SetForeground()
	SetBackground()
	Continue() error
}

type jobEntry struct {
	id  int
	job Job
}

// JobList is the job table plus a registry of every child by pid.  The
// registry is shared with subshells running on other goroutines.
type JobList struct {
	mu       sync.Mutex
	jobs     []jobEntry
	children *xsync.Map[int, *Process]
}

func NewJobList() *JobList {
	return &JobList{children: xsync.NewMap[int, *Process]()}
}

// AddJob adds j and returns its job number.  Numbers restart at 1 whenever
// the table empties.
func (jl *JobList) AddJob(j Job) int {
	jl.mu.Lock()
	defer jl.mu.Unlock()
	id := 1
	if n := len(jl.jobs); n > 0 {
		id = jl.jobs[n-1].id + 1
	}
	jl.jobs = append(jl.jobs, jobEntry{id, j})
	return id
}

func (jl *JobList) RemoveJob(id int) {
	jl.mu.Lock()
	defer jl.mu.Unlock()
	jl.jobs = slices.DeleteFunc(jl.jobs, func(e jobEntry) bool {
		if e.id != id {
			return false
		}
		for _, pid := range e.job.Pids() {
			jl.children.Delete(pid)
		}
		return true
	})
}

// Find returns the number of j, or 0.
func (jl *JobList) Find(j Job) int {
	jl.mu.Lock()
	defer jl.mu.Unlock()
	for _, e := range jl.jobs {
		if e.job == j {
			return e.id
		}
	}
	return 0
}

func (jl *JobList) AddChild(p *Process) {
	jl.children.Store(p.Pid(), p)
}

func (jl *JobList) RemoveChild(pid int) {
	jl.children.Delete(pid)
}

// Child returns the child process with the given pid.
func (jl *JobList) Child(pid int) (*Process, bool) {
	return jl.children.Load(pid)
}

func (jl *JobList) Children() []*Process {
	var xs []*Process
	jl.children.Range(func(_ int, p *Process) bool {
		xs = append(xs, p)
		return true
	})
	return xs
}

// Len is the number of jobs.
func (jl *JobList) Len() int {
	jl.mu.Lock()
	defer jl.mu.Unlock()
	return len(jl.jobs)
}

// GetCurrentAndPreviousJobs returns the jobs ‘%+’ and ‘%-’ refer to: the most
// recently stopped jobs first, then the most recently started ones.  Either
// may be nil.
func (jl *JobList) GetCurrentAndPreviousJobs() (cur, prev Job) {
	jl.mu.Lock()
	defer jl.mu.Unlock()
	return jl.currentAndPrevious()
}

func (jl *JobList) currentAndPrevious() (cur, prev Job) {
	var order []Job
	for _, want := range []State{Stopped, Running} {
		for i := len(jl.jobs) - 1; i >= 0; i-- {
			if j := jl.jobs[i].job; j.State() == want {
				order = append(order, j)
			}
		}
	}
	if len(order) == 0 && len(jl.jobs) > 0 {
		order = append(order, jl.jobs[len(jl.jobs)-1].job)
	}
	if len(order) > 0 {
		cur = order[0]
	}
	if len(order) > 1 {
		prev = order[1]
	}
	return
}

// GetJobWithSpec resolves a job spec: ‘%%’, ‘%+’, ‘%-’, ‘%N’, ‘%prefix’,
// ‘%?substring’ or a pid.
func (jl *JobList) GetJobWithSpec(spec string) (int, Job, error) {
	jl.mu.Lock()
	defer jl.mu.Unlock()

	byJob := func(j Job) (int, Job, error) {
		for _, e := range jl.jobs {
			if e.job == j {
				return e.id, j, nil
			}
		}
		return 0, nil, errors.Usage("%s: no such job", spec)
	}

	if !strings.HasPrefix(spec, "%") {
		pid, err := strconv.Atoi(spec)
		if err != nil {
			return 0, nil, errors.Usage("%s: invalid job spec", spec)
		}
		for _, e := range jl.jobs {
			if slices.Contains(e.job.Pids(), pid) {
				return e.id, e.job, nil
			}
		}
		return 0, nil, errors.Usage("%d: no such job", pid)
	}

	cur, prev := jl.currentAndPrevious()
	s := spec[1:]
	switch s {
	case "", "%", "+":
		return byJob(cur)
	case "-":
		return byJob(prev)
	}
	if n, err := strconv.Atoi(s); err == nil {
		for _, e := range jl.jobs {
			if e.id == n {
				return e.id, e.job, nil
			}
		}
		return 0, nil, errors.Usage("%s: no such job", spec)
	}

	var matches []jobEntry
	for _, e := range jl.jobs {
		cmd := e.job.Command()
		if sub, ok := strings.CutPrefix(s, "?"); ok {
			if strings.Contains(cmd, sub) {
				matches = append(matches, e)
			}
		} else if strings.HasPrefix(cmd, s) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return 0, nil, errors.Usage("%s: no such job", spec)
	case 1:
		return matches[0].id, matches[0].job, nil
	}
	return 0, nil, errors.Usage("%s: ambiguous job spec", spec)
}

// DisplayJobs prints the table as ‘jobs’ does.  Finished jobs are reported
// once and then removed.
func (jl *JobList) DisplayJobs(w io.Writer, style Style) {
	jl.mu.Lock()
	cur, prev := jl.currentAndPrevious()
	entries := slices.Clone(jl.jobs)
	jl.mu.Unlock()

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	for _, e := range entries {
		mark := " "
		switch e.job {
		case cur:
			mark = "+"
		case prev:
			mark = "-"
		}
		e.job.DisplayJob(tw, e.id, mark, style)
	}
	tw.Flush()

	for _, e := range entries {
		if e.job.State() == Done {
			jl.RemoveJob(e.id)
		}
	}
}

// NumRunning is the number of jobs that have not finished.
func (jl *JobList) NumRunning() int {
	jl.mu.Lock()
	defer jl.mu.Unlock()
	n := 0
	for _, e := range jl.jobs {
		if e.job.State() != Done {
			n++
		}
	}
	return n
}

// Jobs returns the job numbers in order.
func (jl *JobList) Jobs() []int {
	jl.mu.Lock()
	defer jl.mu.Unlock()
	ids := make([]int, len(jl.jobs))
	for i, e := range jl.jobs {
		ids[i] = e.id
	}
	return ids
}

// Get returns job number id.
func (jl *JobList) Get(id int) (Job, bool) {
	jl.mu.Lock()
	defer jl.mu.Unlock()
	for _, e := range jl.jobs {
		if e.id == id {
			return e.job, true
		}
	}
	return nil, false
}

// Notify prints the jobs that finished since the last call, as an
// interactive shell does before its prompt.
func (jl *JobList) Notify(w io.Writer) {
	jl.mu.Lock()
	var done []jobEntry
	for _, e := range jl.jobs {
		if e.job.State() == Done {
			done = append(done, e)
		}
	}
	jl.mu.Unlock()

	for _, e := range done {
		e.job.DisplayJob(w, e.id, " ", StyleDefault)
		jl.RemoveJob(e.id)
	}
}

func (e jobEntry) String() string {
	return fmt.Sprintf("%%%d", e.id)
}
