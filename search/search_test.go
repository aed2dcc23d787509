package search

import (
	"encoding/binary"
	"testing"

	"memlink/accessor"
	"memlink/attacher"
	"memlink/handle_table"
	"memlink/process"
	"memlink/process_fake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeTarget(t *testing.T, regions ...*process_fake.Region) (*process_fake.Platform, *accessor.Accessor, process.HandleID) {
	t.Helper()

	platform := process_fake.New()
	platform.Add(&process_fake.Process{PID: 55, Regions: regions})

	table := handle_table.New(platform)
	id, _, err := attacher.New(platform, table).Attach(55)
	require.NoError(t, err)
	return platform, accessor.New(platform, table, accessor.Options{}), id
}

func TestParseAOB(t *testing.T) {
	aob, err := ParseAOB("48 8b ?? 05,ff")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x48, 0x8b, 0x00, 0x05, 0xff}, aob.Pattern)
	assert.Equal(t, []byte{0xff, 0xff, 0x00, 0xff, 0xff}, aob.Mask)
	assert.Equal(t, "48 8b ?? 05 ff", aob.String())

	_, err = ParseAOB("")
	assert.ErrorIs(t, err, process.ErrInvalidArgument)

	_, err = ParseAOB("zz")
	assert.ErrorIs(t, err, process.ErrInvalidArgument)

	_, err = NewAOB([]byte{1, 2}, []byte{0xff})
	assert.ErrorIs(t, err, process.ErrInvalidArgument)
}

func TestMatch(t *testing.T) {
	aob, err := ParseAOB("01 ?? 03")
	require.NoError(t, err)

	assert.Equal(t, []int{0, 4}, aob.Match([]byte{1, 9, 3, 0, 1, 2, 3}))
	assert.Nil(t, aob.Match([]byte{1}))
}

func TestScan(t *testing.T) {
	_, acc, id := fakeTarget(t,
		&process_fake.Region{Address: 0x1000, Perms: "r-xp", Data: []byte{0, 0xCA, 0xFE, 0, 0xCA, 0xFE}},
		&process_fake.Region{Address: 0x2000, Perms: "rw-p", Data: []byte{0xCA, 0xFE}},
		&process_fake.Region{Address: 0x3000, Perms: "---p", Data: []byte{0xCA, 0xFE}},
	)

	aob, err := ParseAOB("ca fe")
	require.NoError(t, err)

	for _, maxdop := range []int{0, 1, 4} {
		found, err := Scan(acc, id, aob, maxdop)
		require.NoError(t, err)
		assert.Equal(t, []process.ProcessMemoryAddress{0x1001, 0x1004, 0x2000}, found)
	}
}

func TestScanRegionLargerThanOneTransfer(t *testing.T) {
	size := accessor.DefaultMaxTransferSize + 0x100000
	big := make([]byte, size)
	edge := int(accessor.DefaultMaxTransferSize) - 2
	copy(big[edge:], []byte{0xCA, 0xFE, 0xBA, 0xBE})
	copy(big[size-4:], []byte{0xCA, 0xFE, 0xBA, 0xBE})

	_, acc, id := fakeTarget(t, &process_fake.Region{Address: 0x10000000, Perms: "rw-p", Data: big})

	aob, err := ParseAOB("ca fe ba be")
	require.NoError(t, err)

	found, err := Scan(acc, id, aob, 2)
	require.NoError(t, err)
	assert.Equal(t, []process.ProcessMemoryAddress{
		0x10000000 + process.ProcessMemoryAddress(edge),
		0x10000000 + process.ProcessMemoryAddress(size-4),
	}, found)
}

func TestScanPatternLongerThanTransfer(t *testing.T) {
	platform := process_fake.New()
	platform.Add(&process_fake.Process{PID: 56, Regions: []*process_fake.Region{
		{Address: 0x1000, Perms: "rw-p", Data: make([]byte, 0x40)},
	}})
	table := handle_table.New(platform)
	id, _, err := attacher.New(platform, table).Attach(56)
	require.NoError(t, err)
	acc := accessor.New(platform, table, accessor.Options{MaxTransferSize: 4})

	_, err = Scan(acc, id, AOB{Pattern: make([]byte, 5), Mask: make([]byte, 5)}, 1)
	assert.ErrorIs(t, err, process.ErrInvalidArgument)
}

func TestScanTargetGone(t *testing.T) {
	platform, acc, id := fakeTarget(t,
		&process_fake.Region{Address: 0x1000, Perms: "rw-p", Data: []byte{1, 2, 3}},
	)
	platform.BeforeRead = func(h *process.ProcessHandle) { platform.Exit(h.PID) }

	_, err := Scan(acc, id, AOB{Pattern: []byte{1}, Mask: []byte{0xff}}, 1)
	assert.ErrorIs(t, err, process.ErrProcessGone)
}

func TestFindPaths(t *testing.T) {
	root := make([]byte, 0x40)
	child := make([]byte, 0x40)

	// root+0x10 -> child, child+0x0c holds the value
	binary.LittleEndian.PutUint64(root[0x10:], 0x2000)
	binary.LittleEndian.PutUint32(child[0x0c:], 0x1337BEEF)
	// a pointer into unmapped memory is not followed
	binary.LittleEndian.PutUint64(root[0x18:], 0x9000)

	_, acc, id := fakeTarget(t,
		&process_fake.Region{Address: 0x1000, Perms: "rw-p", Data: root},
		&process_fake.Region{Address: 0x2000, Perms: "rw-p", Data: child},
	)

	paths, err := FindPaths(acc, id, 0x1000, WithValue(uint32(0x1337BEEF)), WithMaxStructSize(0x40))
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, Path{0x10, 0x0c}, paths[0])

	// the path works as a pointer chain
	data, err := acc.ReadPointerChain(id, 0x1000, 4, paths[0]...)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1337BEEF), binary.LittleEndian.Uint32(data))

	paths, err = FindPaths(acc, id, 0x1000, WithValue(uint32(0x1337BEEF)), WithMaxStructSize(0x40), WithMaxDepth(0))
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestFindPathsNeedsTarget(t *testing.T) {
	_, acc, id := fakeTarget(t, &process_fake.Region{Address: 0x1000, Perms: "rw-p", Data: make([]byte, 8)})

	_, err := FindPaths(acc, id, 0x1000)
	assert.ErrorIs(t, err, process.ErrInvalidArgument)
}
