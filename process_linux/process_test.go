//go:build linux

package process_linux

import (
	"math"
	"os"
	"testing"

	"memlink/process"
	"memlink/testtarget"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	testtarget.RunIfTarget()
	os.Exit(m.Run())
}

func newPlatform(t *testing.T) *LinuxPlatform {
	p, err := New(8)
	require.NoError(t, err)
	return p
}

func openTarget(t *testing.T, p *LinuxPlatform) (*testtarget.Target, *process.ProcessHandle) {
	target := testtarget.Spawn(t)
	h, err := p.Open(target.PID)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close(h) })
	return target, h
}

func TestOpenMissingProcess(t *testing.T) {
	p := newPlatform(t)

	_, err := p.Open(math.MaxInt32)
	assert.ErrorIs(t, err, process.ErrProcessNotFound)

	_, err = p.Open(0)
	assert.ErrorIs(t, err, process.ErrProcessNotFound)
}

func TestOpenDescribesTarget(t *testing.T) {
	p := newPlatform(t)
	target, h := openTarget(t, p)

	assert.Equal(t, target.PID, h.PID)
	assert.True(t, h.Valid())
	assert.Equal(t, process.PointerWidth64, h.PointerWidth)
	assert.False(t, h.StartTime.IsZero())
	assert.NoError(t, p.Alive(h))
}

func TestReadScratch(t *testing.T) {
	p := newPlatform(t)
	target, h := openTarget(t, p)

	buf := make([]byte, len(testtarget.Pattern))
	n, err := p.ReadMemory(h, target.Scratch, buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, testtarget.Pattern, buf)
}

func TestWriteThenRead(t *testing.T) {
	p := newPlatform(t)
	target, h := openTarget(t, p)

	addr := target.Scratch + 64
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	n, err := p.WriteMemory(h, addr, data)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 4)
	n, err = p.ReadMemory(h, addr, buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, data, buf)
}

func TestReadAcrossProtectedPageIsShort(t *testing.T) {
	p := newPlatform(t)
	target, h := openTarget(t, p)

	addr := target.Split + process.ProcessMemoryAddress(target.PageSize) - 4
	buf := make([]byte, 16)

	n, err := p.ReadMemory(h, addr, buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	page := int(target.PageSize)
	assert.Equal(t, []byte{byte(page - 4), byte(page - 3), byte(page - 2), byte(page - 1)}, buf[:4])
}

func TestReadProtectedPage(t *testing.T) {
	p := newPlatform(t)
	target, h := openTarget(t, p)

	buf := make([]byte, 8)
	_, err := p.ReadMemory(h, target.Split+process.ProcessMemoryAddress(target.PageSize), buf)
	assert.ErrorIs(t, err, process.ErrAccessDenied)
}

func TestWriteReadOnlyPage(t *testing.T) {
	p := newPlatform(t)
	target, h := openTarget(t, p)

	_, err := p.WriteMemory(h, target.ReadOnly, []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, process.ErrReadOnlyTarget)

	buf := make([]byte, 1)
	_, err = p.ReadMemory(h, target.ReadOnly, buf)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), buf[0], "read-only page is untouched")
}

func TestWriteUnmapped(t *testing.T) {
	p := newPlatform(t)
	_, h := openTarget(t, p)

	_, err := p.WriteMemory(h, 0x1000, []byte{1})
	assert.ErrorIs(t, err, process.ErrAccessDenied)
}

func TestExitedTarget(t *testing.T) {
	p := newPlatform(t)
	target, h := openTarget(t, p)

	target.Stop()

	assert.ErrorIs(t, p.Alive(h), process.ErrProcessGone)

	_, err := p.ReadMemory(h, target.Scratch, make([]byte, 4))
	assert.ErrorIs(t, err, process.ErrProcessGone)
}

func TestRegionsAndBase(t *testing.T) {
	p := newPlatform(t)
	target, h := openTarget(t, p)

	regions, err := p.Regions(h)
	require.NoError(t, err)
	require.NotEmpty(t, regions)

	var sawReadOnly bool
	for _, r := range regions {
		if r.Contains(uint64(target.ReadOnly)) {
			sawReadOnly = true
			assert.True(t, r.IsReadable())
			assert.False(t, r.IsWritable())
		}
	}
	assert.True(t, sawReadOnly)

	base, err := p.BaseAddress(h)
	require.NoError(t, err)
	assert.NotZero(t, base)
}
