package errors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"mvdan.cc/sh/v3/syntax"

	"git.sr.ht/~mango/osh/errors"
)

func TestCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, errors.Code(nil))
	assert.Equal(t, 1, errors.Code(errors.New("plain")))
	assert.Equal(t, 2, errors.Code(errors.Usage("bad flag %q", "-z")))
	assert.Equal(t, 5, errors.Code(errors.DieStatus(5, syntax.Pos{}, "boom")))
	assert.Equal(t, 1, errors.Code(errors.Die(syntax.Pos{}, "boom")))

	wrapped := fmt.Errorf("context: %w", errors.DieStatus(2, syntax.Pos{}, "Invalid regex"))
	assert.Equal(t, 2, errors.Code(wrapped))
}

func TestStrict(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", errors.Strict(syntax.Pos{}, "Invalid integer constant %q", "zz"))
	assert.True(t, errors.IsStrict(err))
	assert.False(t, errors.IsStrict(errors.Die(syntax.Pos{}, "x")))
	assert.EqualError(t, errors.Strict(syntax.Pos{}, "x %d", 1), "x 1")
}

func TestLocated(t *testing.T) {
	t.Parallel()

	_, ok := errors.Located(errors.New("nowhere"))
	assert.False(t, ok)

	_, ok = errors.Located(errors.Die(syntax.Pos{}, "no position"))
	assert.False(t, ok)
}
