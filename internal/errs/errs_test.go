package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	cause := errors.New("disk full")

	err := Wrap("writing snapshot", cause)
	require.Error(t, err)
	require.Equal(t, "writing snapshot: disk full", err.Error())

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	require.Equal(t, "writing snapshot", opErr.Op)
	require.Equal(t, cause, opErr.Err)
}

func TestWrapNil(t *testing.T) {
	require.Nil(t, Wrap("some op", nil))
}

func TestWrapChain(t *testing.T) {
	base := errors.New("eof")
	level1 := Wrap("reading heap image", base)
	level2 := Wrap("loading snapshot", level1)

	require.True(t, errors.Is(level2, base))
	require.Contains(t, level2.Error(), "loading snapshot")
	require.Contains(t, level2.Error(), "reading heap image")
}
