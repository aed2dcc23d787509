// Package config loads memlink settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".memlink"
	configFile string = "config.yml"

	// EnvPath overrides the location of the config file.
	EnvPath = "MEMLINK_CONFIG"
)

// Config defines all options that can be set through the config file.
type Config struct {
	// MaxTransferSize caps one read or write in bytes. Zero selects the
	// accessor default of 64 MiB; larger regions are read in pieces.
	MaxTransferSize uint64 `yaml:"max-transfer-size"`

	// MaxChainDepth caps the number of offsets in a pointer chain.
	MaxChainDepth int `yaml:"max-chain-depth"`

	// ReadOnly refuses every write.
	ReadOnly bool `yaml:"read-only"`

	// MapCacheSize is the number of per-process memory maps kept cached.
	MapCacheSize int `yaml:"map-cache-size"`

	// SnapshotMaxRegion skips regions larger than this when dumping. Zero
	// disables the limit.
	SnapshotMaxRegion uint64 `yaml:"snapshot-max-region"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		MaxTransferSize:   64 << 20,
		MaxChainDepth:     16,
		MapCacheSize:      16,
		SnapshotMaxRegion: 256 << 20,
	}
}

// Path returns the config file location: $MEMLINK_CONFIG if set, otherwise
// ~/.memlink/config.yml.
func Path() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, configDir, configFile), nil
}

// Load reads the config file at path over the defaults. A missing file is
// not an error and yields the defaults. An empty path means Path().
func Load(path string) (*Config, error) {
	c := Default()

	if path == "" {
		p, err := Path()
		if err != nil {
			return c, nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	if c.MaxChainDepth < 0 {
		return fmt.Errorf("max-chain-depth must not be negative, got %d", c.MaxChainDepth)
	}
	if c.MapCacheSize < 0 {
		return fmt.Errorf("map-cache-size must not be negative, got %d", c.MapCacheSize)
	}
	return nil
}

// Save writes c as YAML to path, creating the parent directory.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
