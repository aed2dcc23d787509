// Package process_platform selects the process.Platform for the running OS.
package process_platform

import (
	"fmt"
	"runtime"

	"memlink/process"
	"memlink/process/memory_map"
)

// Options tunes the selected backend.
type Options struct {
	// MapCacheSize bounds the number of cached memory maps (Linux).
	MapCacheSize int
}

// New returns the Platform for this OS. Operating systems without a backend
// get Unsupported, whose every operation fails with ErrPlatformUnsupported.
func New(opts Options) (process.Platform, error) {
	if opts.MapCacheSize <= 0 {
		opts.MapCacheSize = 16
	}
	return newPlatform(opts)
}

func runtimeOS() string {
	return runtime.GOOS
}

// Unsupported is the Platform of operating systems without a backend.
type Unsupported struct {
	OS string
}

var _ process.Platform = Unsupported{}

func (u Unsupported) err() error {
	return fmt.Errorf("%w: %s", process.ErrPlatformUnsupported, u.OS)
}

func (u Unsupported) Name() string {
	return "unsupported-" + u.OS
}

func (u Unsupported) Open(pid process.ProcessID) (*process.ProcessHandle, error) {
	return nil, u.err()
}

func (u Unsupported) Close(h *process.ProcessHandle) error {
	return nil
}

func (u Unsupported) Alive(h *process.ProcessHandle) error {
	return u.err()
}

func (u Unsupported) ReadMemory(h *process.ProcessHandle, addr process.ProcessMemoryAddress, buf []byte) (int, error) {
	return 0, u.err()
}

func (u Unsupported) WriteMemory(h *process.ProcessHandle, addr process.ProcessMemoryAddress, data []byte) (int, error) {
	return 0, u.err()
}

func (u Unsupported) Regions(h *process.ProcessHandle) ([]memory_map.MemoryMapItem, error) {
	return nil, u.err()
}

func (u Unsupported) BaseAddress(h *process.ProcessHandle) (process.ProcessMemoryAddress, error) {
	return 0, u.err()
}
