package logsink_test

import (
	"strings"
	"testing"

	"github.com/iotaledger/runtimehost/logsink"
	"github.com/stretchr/testify/require"
)

func TestWriteAccumulates(t *testing.T) {
	s := logsink.New()
	require.NoError(t, s.Write("hello "))
	require.NoError(t, s.Write("world"))
	require.Equal(t, "hello world", s.String())
	require.Equal(t, 11, s.Len())
}

func TestOverflow(t *testing.T) {
	s := logsink.New()
	chunk := strings.Repeat("a", 2048)
	var err error
	for i := 0; i < 1024 && err == nil; i++ {
		err = s.Write(chunk)
	}
	require.ErrorIs(t, err, logsink.ErrTooLong)
	require.LessOrEqual(t, s.Len(), logsink.MaxBytes)
}

func TestWriteByteAtBoundary(t *testing.T) {
	s := logsink.New()
	require.NoError(t, s.Write(strings.Repeat("x", logsink.MaxBytes-1)))
	require.NoError(t, s.WriteByte('y'))
	require.Equal(t, logsink.MaxBytes, s.Len())
	require.ErrorIs(t, s.WriteByte('z'), logsink.ErrTooLong)
}
