package main

import (
	"testing"

	"memlink/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOffsets(t *testing.T) {
	offsets, err := parseOffsets([]string{"0x10", "24", "0"})
	require.NoError(t, err)
	assert.Equal(t, []process.ProcessMemorySize{0x10, 24, 0}, offsets)

	_, err = parseOffsets([]string{"nope"})
	assert.ErrorIs(t, err, process.ErrInvalidArgument)
}

func TestOffsetFrom(t *testing.T) {
	addr, err := offsetFrom(0x400000, 0x10, process.PointerWidth64)
	require.NoError(t, err)
	assert.Equal(t, process.ProcessMemoryAddress(0x400010), addr)

	addr, err = offsetFrom(0xFFFF0000, 0xFFFF, process.PointerWidth32)
	require.NoError(t, err)
	assert.Equal(t, process.ProcessMemoryAddress(0xFFFFFFFF), addr)

	_, err = offsetFrom(0x400000, ^uint64(0), process.PointerWidth64)
	assert.ErrorIs(t, err, process.ErrInvalidArgument)

	_, err = offsetFrom(0xFFFF0000, 0x10000, process.PointerWidth32)
	assert.ErrorIs(t, err, process.ErrInvalidArgument)
}

func TestResolvePID(t *testing.T) {
	t.Cleanup(func() { pidFlag, nameFlag = 0, "" })

	pidFlag, nameFlag = 0, ""
	_, err := resolvePID()
	assert.Error(t, err)

	pidFlag, nameFlag = 12, "game"
	_, err = resolvePID()
	assert.Error(t, err)

	pidFlag, nameFlag = 12, ""
	pid, err := resolvePID()
	require.NoError(t, err)
	assert.Equal(t, process.ProcessID(12), pid)

	pidFlag, nameFlag = 0, "no-such-process-name-for-memlink"
	_, err = resolvePID()
	assert.ErrorIs(t, err, process.ErrProcessNotFound)
}
