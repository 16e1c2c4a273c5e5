//go:build (linux || darwin) && !wasmjit_kernel

package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCodeBuffer_AllocateWriteFinalize(t *testing.T) {
	buf, err := AllocateCodeBuffer(16)
	require.NoError(t, err)

	rw := buf.Bytes()
	require.True(t, len(rw) >= 16)
	copy(rw, []byte{0xc3}) // ret

	exec, err := buf.Finalize()
	require.NoError(t, err)
	require.Equal(t, byte(0xc3), exec[0])

	require.NoError(t, buf.Close())
}

func TestCodeBuffer_PageAlign(t *testing.T) {
	pageSize := unix.Getpagesize()
	require.Equal(t, pageSize, pageAlign(1))
	require.Equal(t, pageSize, pageAlign(pageSize))
	require.Equal(t, pageSize*2, pageAlign(pageSize+1))
}
