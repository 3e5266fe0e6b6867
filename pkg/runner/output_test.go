package runner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTailBufferKeepsEverythingUnderLimit(t *testing.T) {
	buf := newTailBuffer(16)
	_, _ = buf.Write([]byte("hello "))
	_, _ = buf.Write([]byte("world"))

	require.Equal(t, "hello world", buf.String())
	require.Zero(t, buf.Dropped())
}

func TestTailBufferKeepsTailAcrossWrites(t *testing.T) {
	buf := newTailBuffer(8)
	for _, chunk := range []string{"abc", "defgh", "ijk", "lm"} {
		n, err := buf.Write([]byte(chunk))
		require.NoError(t, err)
		require.Equal(t, len(chunk), n)
	}

	require.Equal(t, int64(5), buf.Dropped())
	require.Equal(t, "[output truncated: 5 bytes omitted]\nfghijklm", buf.String())
}

func TestTailBufferOversizedWrite(t *testing.T) {
	buf := newTailBuffer(4)
	_, _ = buf.Write([]byte("xy"))
	_, _ = buf.Write([]byte("0123456789"))

	require.Equal(t, int64(8), buf.Dropped())
	require.True(t, strings.HasSuffix(buf.String(), "\n6789"))
}

func TestTailBufferWithoutLimit(t *testing.T) {
	buf := newTailBuffer(0)
	payload := strings.Repeat("x", 4096)
	_, _ = buf.Write([]byte(payload))

	require.Equal(t, payload, buf.String())
}
