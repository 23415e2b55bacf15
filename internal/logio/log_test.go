package logio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemLogAppendReadTail(t *testing.T) {
	l := NewMemLog()

	tail, err := l.CheckTail()
	require.NoError(t, err)
	require.Equal(t, uint64(0), tail)

	pos, err := l.Append([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), pos)

	pos, err = l.Append([]byte("world"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), pos)

	tail, err = l.CheckTail()
	require.NoError(t, err)
	require.Equal(t, uint64(2), tail)

	blob, err := l.Read(0)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), blob)

	_, err = l.Read(5)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemLogAppendCopiesInput(t *testing.T) {
	l := NewMemLog()
	buf := []byte("mutable")
	_, err := l.Append(buf)
	require.NoError(t, err)
	buf[0] = 'X'

	blob, err := l.Read(0)
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), blob)
}
