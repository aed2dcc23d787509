package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingFileGivesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("read-only: true\nmax-chain-depth: 4\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.True(t, c.ReadOnly)
	assert.Equal(t, 4, c.MaxChainDepth)
	assert.Equal(t, Default().MaxTransferSize, c.MaxTransferSize)
	assert.Equal(t, Default().MapCacheSize, c.MapCacheSize)
}

func TestLoadRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("max-chain-depth: [1, 2"), 0o600))
	_, err := Load(bad)
	assert.Error(t, err)

	negative := filepath.Join(dir, "negative.yml")
	require.NoError(t, os.WriteFile(negative, []byte("map-cache-size: -1\n"), 0o600))
	_, err = Load(negative)
	assert.ErrorContains(t, err, "map-cache-size")
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvPath, "/tmp/memlink.yml")
	p, err := Path()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/memlink.yml", p)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yml")
	c := Default()
	c.ReadOnly = true
	c.SnapshotMaxRegion = 4096
	require.NoError(t, c.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}
