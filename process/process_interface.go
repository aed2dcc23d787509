package process

import (
	"memlink/process/memory_map"
)

// Platform is the per-OS capability set behind attach, read and write.
// Implementations are selected by build tags in process_platform.
//
// Platform methods never see an invalid handle: callers borrow handles from
// the handle table, which guarantees the handle stays open for the duration
// of the call.
type Platform interface {
	// Name identifies the backend, e.g. "linux" or "windows".
	Name() string

	// Open obtains a handle with rights sufficient to read and write the
	// memory of pid and to query basic information about it.
	Open(pid ProcessID) (*ProcessHandle, error)

	// Close frees the OS resource behind h. It is called exactly once per
	// handle, by the handle table.
	Close(h *ProcessHandle) error

	// Alive returns nil while the target of h is running and ErrProcessGone
	// once it has exited.
	Alive(h *ProcessHandle) error

	// ReadMemory fills buf from addr and returns the number of bytes read.
	ReadMemory(h *ProcessHandle, addr ProcessMemoryAddress, buf []byte) (int, error)

	// WriteMemory writes data at addr and returns the number of bytes written.
	WriteMemory(h *ProcessHandle, addr ProcessMemoryAddress, data []byte) (int, error)

	// Regions returns the target's memory map, sorted by address.
	Regions(h *ProcessHandle) ([]memory_map.MemoryMapItem, error)

	// BaseAddress returns the load address of the target's main image.
	BaseAddress(h *ProcessHandle) (ProcessMemoryAddress, error)
}
