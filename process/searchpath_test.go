package process

import (
	"os"
	"path/filepath"
	"testing"

	"git.sr.ht/~mango/osh/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	require.NoError(t, os.Mkdir(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "prog"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "data"), []byte("x"), 0o644))

	sp := NewSearchPath()
	path, err := sp.Lookup("prog", bin, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(bin, "prog"), path)

	names, paths := sp.Remembered()
	assert.Equal(t, []string{"prog"}, names)
	assert.Equal(t, path, paths["prog"])

	_, err = sp.Lookup("data", bin, dir)
	assert.Equal(t, errors.CodeNotExecutable, errors.Code(err))

	_, err = sp.Lookup("missing", bin, dir)
	assert.Equal(t, errors.CodeNotFound, errors.Code(err))
	assert.EqualError(t, err, "‘missing’ not found")

	path, err = sp.Lookup("bin/prog", "", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bin/prog"), path)

	_, err = sp.Lookup("./bin", "", dir)
	assert.Equal(t, errors.CodeNotExecutable, errors.Code(err))

	sp.Reset()
	names, _ = sp.Remembered()
	assert.Empty(t, names)
}
