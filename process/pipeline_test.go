package process

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stage(t *testing.T, base *FdState, w *Waiter, desc string, run func(fds *FdState) int) *Process {
	t.Helper()
	fds, err := base.Clone()
	require.NoError(t, err)
	p := NewProcess(SubProgramThunk{Run: run}, fds, w)
	p.Desc = desc
	return p
}

func TestPipelineLastPartInCaller(t *testing.T) {
	base, _ := newFds(t)
	w := &Waiter{Jobs: NewJobList(), Stderr: io.Discard}

	pi := NewPipeline(false, w)
	pi.Add(stage(t, base, w, "gen", func(fds *FdState) int {
		io.WriteString(fds.File(1), "b\na\n")
		return 3
	}), false)
	pi.Add(stage(t, base, w, "upper", func(fds *FdState) int {
		b, _ := io.ReadAll(fds.File(0))
		io.WriteString(fds.File(1), strings.ToUpper(string(b)))
		return 0
	}), false)
	pi.AddLast("read")
	require.NoError(t, pi.Start())

	var got string
	statuses, err := pi.Run(base, func() int {
		b, _ := io.ReadAll(base.File(0))
		got = string(b)
		return 7
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 0, 7}, statuses)
	assert.Equal(t, "B\nA\n", got)
	assert.Equal(t, Done, pi.State())
	assert.Equal(t, "gen | upper | read", pi.Command())
	assert.Equal(t, 0, base.Depth())
	assert.Empty(t, w.Jobs.Children())
}

func TestPipelineStderrToo(t *testing.T) {
	base, _ := newFds(t)
	w := &Waiter{Jobs: NewJobList()}

	pi := NewPipeline(false, w)
	pi.Add(stage(t, base, w, "both", func(fds *FdState) int {
		io.WriteString(fds.File(1), "out\n")
		io.WriteString(fds.File(2), "err\n")
		return 0
	}), true)
	pi.AddLast("cat")
	require.NoError(t, pi.Start())

	var lines []string
	_, err := pi.Run(base, func() int {
		s := bufio.NewScanner(base.File(0))
		for s.Scan() {
			lines = append(lines, s.Text())
		}
		return 0
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"out", "err"}, lines)
}

func TestPipelineSigpipe(t *testing.T) {
	for _, ok := range []bool{false, true} {
		base, _ := newFds(t)
		w := &Waiter{Jobs: NewJobList()}
		pi := NewPipeline(ok, w)
		pi.Add(stage(t, base, w, "yes", func(*FdState) int { return 141 }), false)
		pi.Add(stage(t, base, w, "head", func(*FdState) int { return 0 }), false)
		require.NoError(t, pi.Start())

		statuses, err := pi.Wait()
		require.NoError(t, err)
		if ok {
			assert.Equal(t, []int{0, 0}, statuses)
		} else {
			assert.Equal(t, []int{141, 0}, statuses)
		}
	}
}

func TestPipelineDisplay(t *testing.T) {
	base, _ := newFds(t)
	w := &Waiter{Jobs: NewJobList()}
	pi := NewPipeline(false, w)
	pi.Add(stage(t, base, w, "a", func(*FdState) int { return 0 }), false)
	pi.Add(stage(t, base, w, "b", func(*FdState) int { return 2 }), false)
	pi.SetBackground()
	require.NoError(t, pi.Start())
	_, err := pi.JobWait()
	require.NoError(t, err)

	var buf bytes.Buffer
	pi.DisplayJob(&buf, 1, "+", StyleDefault)
	assert.Equal(t, "[1]+\tExit 2\ta | b\n", buf.String())

	buf.Reset()
	pi.DisplayJob(&buf, 1, "+", StyleLong)
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
}
