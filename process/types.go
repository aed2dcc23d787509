package process

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ProcessID represents a host-assigned process identifier. PIDs are not
// unique over time.
type ProcessID int

// HandleID identifies a ProcessHandle stored in a handle table. Ids are never
// reused within one table.
type HandleID uint64

func (id HandleID) String() string {
	return fmt.Sprintf("handle-%d", uint64(id))
}

// RawHandle is the platform specific handle value: a pidfd on Linux, a
// process HANDLE on Windows.
type RawHandle uintptr

// ProcessHandle is an opaque reference to an attached target process.
type ProcessHandle struct {
	PID          ProcessID
	Raw          RawHandle
	PointerWidth int

	// StartTime is the target's creation time. Platforms without a stable
	// process reference compare it on every call to detect PID reuse.
	StartTime time.Time
	Name      string

	invalid atomic.Bool
}

// NewProcessHandle returns a valid handle for pid.
func NewProcessHandle(pid ProcessID, raw RawHandle, pointerWidth int) *ProcessHandle {
	return &ProcessHandle{
		PID:          pid,
		Raw:          raw,
		PointerWidth: pointerWidth,
	}
}

// Valid reports whether the handle may still be passed to a read or write.
func (h *ProcessHandle) Valid() bool {
	return h != nil && !h.invalid.Load()
}

// Invalidate marks the handle unusable and reports whether this call was the
// one that flipped it.
func (h *ProcessHandle) Invalidate() bool {
	return h.invalid.CompareAndSwap(false, true)
}

func (h *ProcessHandle) String() string {
	return fmt.Sprintf("pid=%d raw=%#x width=%d valid=%v", h.PID, uintptr(h.Raw), h.PointerWidth, h.Valid())
}

// ProcessInfo contains basic information about a process
type ProcessInfo struct {
	PID       ProcessID
	PPID      ProcessID
	Name      string
	Exe       string
	Cmdline   []string
	CreatedAt time.Time
}
