package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineBufferBasicOperations(t *testing.T) {
	buf := newLineBuffer(2)

	buf.Append([]byte("ab"))
	_, ok := buf.Cut(0)
	require.False(t, ok)
	require.Equal(t, 2, buf.Len())

	buf.Append([]byte("c\nde\n"))
	line, ok := buf.Cut(0)
	require.True(t, ok)
	require.Equal(t, "abc\n", string(line))

	line, ok = buf.Cut(0)
	require.True(t, ok)
	require.Equal(t, "de\n", string(line))
	require.Zero(t, buf.Len())

	buf.Append([]byte("tail"))
	require.Equal(t, "tail", string(buf.Drain()))
	require.Zero(t, buf.Len())
}

func TestLineBufferCutsOverlongLines(t *testing.T) {
	buf := newLineBuffer(0)
	buf.Append([]byte("abcdefg\n"))

	line, ok := buf.Cut(3)
	require.True(t, ok)
	require.Equal(t, "abc", string(line))

	line, ok = buf.Cut(3)
	require.True(t, ok)
	require.Equal(t, "def", string(line))

	line, ok = buf.Cut(3)
	require.True(t, ok)
	require.Equal(t, "g\n", string(line))
}
