package memory_map

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMaps = `55d0c0a00000-55d0c0a02000 r--p 00000000 fd:01 1049 /usr/bin/game server
55d0c0a02000-55d0c0a08000 r-xp 00002000 fd:01 1049 /usr/bin/game server
55d0c0c00000-55d0c0c21000 rw-p 00000000 00:00 0 [heap]
7f1e2c000000-7f1e2c001000 ---p 00000000 00:00 0
garbage line
7ffd1a000000-7ffd19000000 rw-p 00000000 00:00 0 [stack]
7f1e2b000000-7f1e2b010000 rw-s 00000000 00:05 7 /dev/shm/x
`

func TestParseMaps(t *testing.T) {
	items, err := ParseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)
	require.Len(t, items, 5, "malformed and inverted ranges are skipped")

	assert.Equal(t, uint64(0x55d0c0a00000), items[0].Address)
	assert.Equal(t, uint64(0x2000), items[0].Size)
	assert.Equal(t, "/usr/bin/game server", items[0].Path)

	assert.Equal(t, "[heap]", items[2].Path)
	assert.True(t, items[2].IsWritable())
	assert.False(t, items[2].IsExecutable())

	// sorted: the shm mapping parses after the guard page but sorts before it
	assert.Equal(t, uint64(0x7f1e2b000000), items[3].Address)
	assert.Equal(t, "", items[4].Path)
	assert.False(t, items[4].IsReadable())
}

func TestFindRegion(t *testing.T) {
	items, err := ParseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	r := FindRegion(0x55d0c0a02010, items)
	require.NotNil(t, r)
	assert.Equal(t, "r-xp", r.Perms)

	assert.Nil(t, FindRegion(0x1000, items))
	assert.Nil(t, FindRegion(0x55d0c0c21000, items), "end address is exclusive")

	r = FindRegion(0x55d0c0c20fff, items)
	require.NotNil(t, r)
	assert.Equal(t, "[heap]", r.Path)
}

func TestImageBase(t *testing.T) {
	items, err := ParseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	base, ok := ImageBase("/usr/bin/game server", items)
	require.True(t, ok)
	assert.Equal(t, uint64(0x55d0c0a00000), base)

	base, ok = ImageBase("/nope", items)
	require.True(t, ok)
	assert.Equal(t, items[0].Address, base)

	_, ok = ImageBase("", nil)
	assert.False(t, ok)
}

func TestCache(t *testing.T) {
	loads := 0
	fail := false
	c, err := NewCache(2, time.Minute, func(pid int) ([]MemoryMapItem, error) {
		loads++
		if fail {
			return nil, errors.New("gone")
		}
		return []MemoryMapItem{{Address: uint64(pid), Size: 1, Perms: "r--p"}}, nil
	})
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	items, err := c.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), items[0].Address)

	_, err = c.Get(1)
	require.NoError(t, err)
	assert.Equal(t, 1, loads, "second get is served from the cache")

	now = now.Add(2 * time.Minute)
	_, err = c.Get(1)
	require.NoError(t, err)
	assert.Equal(t, 2, loads, "stale entries are reloaded")

	_, err = c.Refresh(1)
	require.NoError(t, err)
	assert.Equal(t, 3, loads)

	_, _ = c.Get(2)
	_, _ = c.Get(3)
	assert.Equal(t, 2, c.Len(), "least recently used map is evicted")

	fail = true
	_, err = c.Refresh(3)
	require.Error(t, err)
	assert.Equal(t, 1, c.Len(), "failed loads drop the entry")

	c.Forget(2)
	assert.Equal(t, 0, c.Len())
}
