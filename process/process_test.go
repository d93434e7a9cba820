package process

import (
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func external(t *testing.T, base *FdState, w *Waiter, script string) *Process {
	t.Helper()
	fds, err := base.Clone()
	require.NoError(t, err)
	p := NewProcess(ExternalThunk{Path: "/bin/sh", Argv: []string{"sh", "-c", script}}, fds, w)
	p.Desc = script
	return p
}

func TestExternalPid(t *testing.T) {
	base, _ := newFds(t)
	w := &Waiter{Jobs: NewJobList()}
	p := external(t, base, w, "exit 3")
	require.NoError(t, p.Start())

	assert.Greater(t, p.Pid(), 0)
	assert.False(t, IsVirtualPid(p.Pid()))
	assert.Equal(t, NoPgid, p.Pgid())
	_, ok := w.Jobs.Child(p.Pid())
	assert.True(t, ok)

	status, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, status)
}

func TestSignalExternal(t *testing.T) {
	base, _ := newFds(t)
	w := &Waiter{Jobs: NewJobList()}
	p := external(t, base, w, "exec sleep 5")
	require.NoError(t, p.Start())

	require.NoError(t, p.Signal(syscall.SIGTERM))
	status, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 128+int(syscall.SIGTERM), status)
}

func TestPipe(t *testing.T) {
	r, w, err := Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	for _, f := range []interface{ Fd() uintptr }{r, w} {
		fl, err := unix.FcntlInt(f.Fd(), unix.F_GETFL, 0)
		require.NoError(t, err)
		assert.Zero(t, fl&unix.O_NONBLOCK)
		fd, err := unix.FcntlInt(f.Fd(), unix.F_GETFD, 0)
		require.NoError(t, err)
		assert.NotZero(t, fd&unix.FD_CLOEXEC)
	}
}

func TestPipelineExternalStatuses(t *testing.T) {
	// The stages finish in the reverse order
	for range 10 {
		base, _ := newFds(t)
		w := &Waiter{Jobs: NewJobList()}
		pi := NewPipeline(false, w)
		pi.Add(external(t, base, w, "exit 3"), false)
		pi.Add(external(t, base, w, "sleep 0.01; exit 0"), false)
		require.NoError(t, pi.Start())

		statuses, err := pi.Wait()
		require.NoError(t, err)
		assert.Equal(t, []int{3, 0}, statuses)
		assert.Empty(t, w.Jobs.Children())
	}
}

func TestPipelineExternalSlowWriter(t *testing.T) {
	base, dir := newFds(t)
	w := &Waiter{Jobs: NewJobList()}
	pi := NewPipeline(false, w)
	pi.Add(external(t, base, w, "sleep 0.2; echo late"), false)
	pi.Add(external(t, base, w, "cat"), false)
	require.NoError(t, pi.Start())

	statuses, err := pi.Wait()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, statuses)
	assert.Equal(t, "late\n", readFile(t, filepath.Join(dir, "stdout")))
}
