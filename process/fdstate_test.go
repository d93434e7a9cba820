package process

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"git.sr.ht/~mango/osh/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/syntax"
)

func newFds(t *testing.T) (*FdState, string) {
	t.Helper()
	dir := t.TempDir()
	out, err := os.Create(filepath.Join(dir, "stdout"))
	require.NoError(t, err)
	defer out.Close()

	fds, err := NewFdState(nil, out, out)
	require.NoError(t, err)
	fds.Dir = func() string { return dir }
	t.Cleanup(fds.CloseAll)
	return fds, dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestPushPopRestores(t *testing.T) {
	fds, dir := newFds(t)
	orig := fds.File(1)

	require.NoError(t, fds.Push([]Redirect{
		{Kind: RedirPath, Op: syntax.RdrOut, Fd: 1, Path: "a"},
		{Kind: RedirCopyFd, Fd: 2, Src: 1},
	}, io.Discard))
	assert.NotSame(t, orig, fds.File(1))
	io.WriteString(fds.File(1), "one\n")
	io.WriteString(fds.File(2), "two\n")
	assert.Equal(t, 1, fds.Depth())

	fds.Pop()
	assert.Same(t, orig, fds.File(1))
	assert.Equal(t, 0, fds.Depth())
	assert.Equal(t, "one\ntwo\n", readFile(t, filepath.Join(dir, "a")))

	io.WriteString(fds.File(1), "back\n")
	assert.Equal(t, "back\n", readFile(t, filepath.Join(dir, "stdout")))
}

func TestPushFailureUndoes(t *testing.T) {
	fds, _ := newFds(t)
	orig := fds.File(1)

	err := fds.Push([]Redirect{
		{Kind: RedirPath, Op: syntax.RdrOut, Fd: 1, Path: "a"},
		{Kind: RedirPath, Op: syntax.RdrIn, Fd: 0, Path: "does-not-exist"},
	}, io.Discard)
	require.Error(t, err)

	var re *errors.RedirectError
	require.True(t, errors.As(err, &re))
	assert.Contains(t, re.Msg, "does-not-exist")
	assert.Equal(t, 1, errors.Code(err))
	assert.Equal(t, 0, fds.Depth())
	assert.Same(t, orig, fds.File(1))
}

func TestCloseAndMove(t *testing.T) {
	fds, _ := newFds(t)

	require.NoError(t, fds.Push([]Redirect{{Kind: RedirCloseFd, Fd: 2}}, io.Discard))
	assert.Nil(t, fds.File(2))
	fds.Pop()
	assert.NotNil(t, fds.File(2))

	require.NoError(t, fds.Push([]Redirect{{Kind: RedirMoveFd, Fd: 5, Src: 2}}, io.Discard))
	assert.NotNil(t, fds.File(5))
	assert.Nil(t, fds.File(2))
	fds.Pop()
	assert.Nil(t, fds.File(5))
	assert.NotNil(t, fds.File(2))

	err := fds.Push([]Redirect{{Kind: RedirCopyFd, Fd: 1, Src: 9}}, io.Discard)
	assert.EqualError(t, err, "9: Bad file descriptor")
}

func TestNoclobber(t *testing.T) {
	fds, dir := newFds(t)
	noclobber := true
	fds.Noclobber = func() bool { return noclobber }
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("keep"), 0o644))

	err := fds.Push([]Redirect{{Kind: RedirPath, Op: syntax.RdrOut, Fd: 1, Path: "f"}}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Won't clobber")
	assert.Equal(t, "keep", readFile(t, filepath.Join(dir, "f")))

	require.NoError(t, fds.Push([]Redirect{{Kind: RedirPath, Op: syntax.ClbOut, Fd: 1, Path: "f"}}, io.Discard))
	fds.Pop()
	assert.Equal(t, "", readFile(t, filepath.Join(dir, "f")))

	require.NoError(t, fds.Push([]Redirect{{Kind: RedirPath, Op: syntax.AppOut, Fd: 1, Path: "f"}}, io.Discard))
	io.WriteString(fds.File(1), "x")
	fds.Pop()
	assert.Equal(t, "x", readFile(t, filepath.Join(dir, "f")))
}

func TestAllRedirect(t *testing.T) {
	fds, dir := newFds(t)
	require.NoError(t, fds.Push([]Redirect{{Kind: RedirPath, Op: syntax.RdrAll, Fd: 1, Path: "both"}}, io.Discard))
	io.WriteString(fds.File(1), "out\n")
	io.WriteString(fds.File(2), "err\n")
	fds.Pop()
	assert.Equal(t, "out\nerr\n", readFile(t, filepath.Join(dir, "both")))
}

func TestHereDoc(t *testing.T) {
	fds, _ := newFds(t)
	require.NoError(t, fds.Push([]Redirect{{Kind: RedirHereDoc, Fd: 0, Body: "hello\nworld\n"}}, io.Discard))
	b, err := io.ReadAll(fds.File(0))
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(b))
	fds.Pop()
	assert.Nil(t, fds.File(0))
}

func TestDevFd(t *testing.T) {
	fds, dir := newFds(t)
	f, err := fds.Open("/dev/fd/1", os.O_WRONLY)
	require.NoError(t, err)
	io.WriteString(f, "via dev fd\n")
	f.Close()
	assert.Equal(t, "via dev fd\n", readFile(t, filepath.Join(dir, "stdout")))

	_, err = fds.Open("/dev/stdin", os.O_RDONLY)
	assert.Error(t, err)
}

func TestInstall(t *testing.T) {
	fds, _ := newFds(t)
	r1, w1, err := os.Pipe()
	require.NoError(t, err)
	defer w1.Close()
	r2, w2, err := os.Pipe()
	require.NoError(t, err)
	defer w2.Close()

	assert.Equal(t, 63, fds.Install(r1))
	assert.Equal(t, 62, fds.Install(r2))
	fds.Close(63)
	assert.Nil(t, fds.File(63))
}

func TestClone(t *testing.T) {
	fds, dir := newFds(t)
	require.NoError(t, fds.Push([]Redirect{{Kind: RedirPath, Op: syntax.RdrOut, Fd: 1, Path: "c"}}, io.Discard))
	c, err := fds.Clone()
	require.NoError(t, err)
	fds.Pop()

	assert.Equal(t, 0, c.Depth())
	io.WriteString(c.File(1), "from clone\n")
	c.CloseAll()
	assert.Equal(t, "from clone\n", readFile(t, filepath.Join(dir, "c")))
}
