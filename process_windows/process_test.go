//go:build windows

package process_windows

import (
	"os"
	"testing"
	"unsafe"

	"memlink/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetPointerWidth(t *testing.T) {
	assert.Equal(t, process.PointerWidth32, targetPointerWidth(process.PointerWidth32, false))
	assert.Equal(t, process.PointerWidth32, targetPointerWidth(process.PointerWidth64, true))
	assert.Equal(t, process.PointerWidth64, targetPointerWidth(process.PointerWidth64, false))
}

func TestOpenSelfPointerWidth(t *testing.T) {
	p := New()
	h, err := p.Open(process.ProcessID(os.Getpid()))
	require.NoError(t, err)
	defer p.Close(h)

	assert.Equal(t, int(unsafe.Sizeof(uintptr(0))), h.PointerWidth)
	assert.NoError(t, p.Alive(h))
}
