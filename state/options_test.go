package state

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/syntax"
)

func TestErrExitSuppression(t *testing.T) {
	o := NewOptions()
	o.Set(ErrExit, true)
	assert.True(t, o.ErrExit())

	pos := syntax.NewPos(4, 1, 5)
	o.PushErrExitDisabled(pos)
	assert.False(t, o.ErrExit())
	got, ok := o.ErrExitDisabledPos()
	require.True(t, ok)
	assert.Equal(t, pos, got)

	o.RunningTrap = true
	_, ok = o.ErrExitDisabledPos()
	assert.False(t, ok)
	o.RunningTrap = false

	o.PopErrExitDisabled()
	assert.True(t, o.ErrExit())
}

func TestSetByName(t *testing.T) {
	o := NewOptions()
	require.NoError(t, o.SetByName("pipefail", true))
	require.NoError(t, o.SetByName("strict:all", true))
	assert.True(t, o.Get(PipeFail))
	assert.True(t, o.Get(StrictArith))
	assert.True(t, o.Get(StrictErrExit))
	assert.Error(t, o.SetByName("nope", true))
}

func TestFlags(t *testing.T) {
	o := NewOptions()
	o.Set(NoUnset, true)
	o.Set(XTrace, true)
	o.Interactive = true
	assert.Equal(t, "uxi", o.Flags())

	opt, ok := LookupShortFlag('C')
	require.True(t, ok)
	assert.Equal(t, NoClobber, opt)
}

func TestShowOptions(t *testing.T) {
	o := NewOptions()
	o.Set(ErrExit, true)

	var buf bytes.Buffer
	require.NoError(t, o.ShowSetOptions(&buf, []string{"errexit", "nounset"}))
	assert.Equal(t, "set -o errexit\nset +o nounset\n", buf.String())

	buf.Reset()
	require.NoError(t, o.ShowShopts(&buf, []string{"dynamic_scope"}))
	assert.Equal(t, "shopt -s dynamic_scope\n", buf.String())
}

func TestOptionsClone(t *testing.T) {
	o := NewOptions()
	o.PushErrExitDisabled(syntax.Pos{})
	c := o.Clone()
	c.PopErrExitDisabled()
	c.Set(NoGlob, true)
	assert.False(t, o.Get(NoGlob))
	_, ok := o.ErrExitDisabledPos()
	assert.True(t, ok)
}
