package process

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	pid   int
	cmd   string
	state State
}

func (j *fakeJob) JobWait() (int, error) { return 0, nil }
func (j *fakeJob) Done() <-chan struct{} { return nil }
func (j *fakeJob) State() State          { return j.state }
func (j *fakeJob) ProcessGroupId() int   { return j.pid }
func (j *fakeJob) Pids() []int           { return []int{j.pid} }
func (j *fakeJob) Command() string       { return j.cmd }
func (j *fakeJob) SetForeground()        {}
func (j *fakeJob) SetBackground()        {}
func (j *fakeJob) Continue() error       { return nil }

func (j *fakeJob) DisplayJob(w io.Writer, id int, mark string, style Style) {
	fmt.Fprintf(w, "[%d]%s\t%s\t%s\n", id, mark, j.state, j.cmd)
}

func TestJobNumbering(t *testing.T) {
	jl := NewJobList()
	a := &fakeJob{pid: 100, cmd: "sleep 10"}
	b := &fakeJob{pid: 101, cmd: "sleep 20"}
	assert.Equal(t, 1, jl.AddJob(a))
	assert.Equal(t, 2, jl.AddJob(b))

	jl.RemoveJob(1)
	assert.Equal(t, 3, jl.AddJob(&fakeJob{pid: 102}))

	jl.RemoveJob(2)
	jl.RemoveJob(3)
	assert.Equal(t, 0, jl.Len())
	assert.Equal(t, 1, jl.AddJob(&fakeJob{pid: 103}))
}

func TestCurrentAndPrevious(t *testing.T) {
	jl := NewJobList()
	a := &fakeJob{pid: 1, cmd: "a"}
	b := &fakeJob{pid: 2, cmd: "b"}
	c := &fakeJob{pid: 3, cmd: "c"}
	jl.AddJob(a)
	jl.AddJob(b)
	jl.AddJob(c)

	cur, prev := jl.GetCurrentAndPreviousJobs()
	assert.Same(t, c, cur)
	assert.Same(t, b, prev)

	a.state = Stopped
	cur, prev = jl.GetCurrentAndPreviousJobs()
	assert.Same(t, a, cur)
	assert.Same(t, c, prev)
}

func TestGetJobWithSpec(t *testing.T) {
	jl := NewJobList()
	jl.AddJob(&fakeJob{pid: 500, cmd: "sleep 10"})
	jl.AddJob(&fakeJob{pid: 501, cmd: "cat file"})
	jl.AddJob(&fakeJob{pid: 502, cmd: "sleep 20"})

	tests := []struct {
		spec string
		id   int
		err  string
	}{
		{"%%", 3, ""},
		{"%+", 3, ""},
		{"%", 3, ""},
		{"%-", 2, ""},
		{"%1", 1, ""},
		{"%cat", 2, ""},
		{"%?file", 2, ""},
		{"501", 2, ""},
		{"%sleep", 0, "%sleep: ambiguous job spec"},
		{"%9", 0, "%9: no such job"},
		{"%vim", 0, "%vim: no such job"},
		{"42", 0, "42: no such job"},
		{"x", 0, "x: invalid job spec"},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			id, j, err := jl.GetJobWithSpec(tt.spec)
			if tt.err != "" {
				assert.EqualError(t, err, tt.err)
				assert.Nil(t, j)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestDisplayJobsRemovesDone(t *testing.T) {
	jl := NewJobList()
	jl.AddJob(&fakeJob{pid: 1, cmd: "a", state: Done})
	jl.AddJob(&fakeJob{pid: 2, cmd: "b"})
	assert.Equal(t, 1, jl.NumRunning())

	var buf bytes.Buffer
	jl.DisplayJobs(&buf, StyleDefault)
	assert.Contains(t, buf.String(), "[1]")
	assert.Contains(t, buf.String(), "[2]+")
	assert.Equal(t, []int{2}, jl.Jobs())
}

func TestChildRegistry(t *testing.T) {
	jl := NewJobList()
	p := NewProcess(SubProgramThunk{Run: func(*FdState) int { return 0 }}, &FdState{files: map[int]*os.File{}}, nil)
	p.pid = 4242
	jl.AddChild(p)

	got, ok := jl.Child(4242)
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Len(t, jl.Children(), 1)

	jl.RemoveChild(4242)
	_, ok = jl.Child(4242)
	assert.False(t, ok)
}
