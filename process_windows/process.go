//go:build windows

// Package process_windows implements process.Platform with OpenProcess,
// ReadProcessMemory and WriteProcessMemory.
package process_windows

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"memlink/process"
	"memlink/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	ps "github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/windows"
)

const (
	// read, write and query rights; PROCESS_ALL_ACCESS is refused for
	// protected processes even when these would be granted
	processAccess = windows.PROCESS_VM_READ |
		windows.PROCESS_VM_WRITE |
		windows.PROCESS_VM_OPERATION |
		windows.PROCESS_QUERY_INFORMATION

	stillActive = 259
	memCommit   = 0x1000
)

// WindowsPlatform implements process.Platform for Windows systems
type WindowsPlatform struct {
	log *logger.Logger
}

var _ process.Platform = (*WindowsPlatform)(nil)

// New creates a new WindowsPlatform instance
func New() *WindowsPlatform {
	return &WindowsPlatform{
		log: logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "process-windows")),
	}
}

func (p *WindowsPlatform) Name() string {
	return "windows"
}

func (p *WindowsPlatform) Open(pid process.ProcessID) (*process.ProcessHandle, error) {
	handle, err := windows.OpenProcess(processAccess, false, uint32(pid))
	if err != nil {
		switch {
		case errors.Is(err, windows.ERROR_INVALID_PARAMETER):
			return nil, fmt.Errorf("%w: pid %d", process.ErrProcessNotFound, pid)
		case errors.Is(err, windows.ERROR_ACCESS_DENIED):
			return nil, fmt.Errorf("%w: pid %d", process.ErrAccessDenied, pid)
		}
		return nil, fmt.Errorf("OpenProcess failed: %w", err)
	}

	var wow64 bool
	if err := windows.IsWow64Process(handle, &wow64); err != nil {
		p.log.Debugln("IsWow64Process failed for", pid, err)
	}

	h := process.NewProcessHandle(pid, process.RawHandle(handle), targetPointerWidth(int(unsafe.Sizeof(uintptr(0))), wow64))
	if proc, err := ps.NewProcess(int32(pid)); err == nil {
		if ms, err := proc.CreateTime(); err == nil {
			h.StartTime = time.UnixMilli(ms)
		}
		if name, err := proc.Name(); err == nil {
			h.Name = name
		}
	}

	p.log.Infoln("Process opened", pid, h.Name)
	return h, nil
}

// targetPointerWidth derives the pointer width of a target from the width of
// this process. A 32-bit host only runs 32-bit processes, and on a 64-bit
// host WOW64 marks the 32-bit ones.
func targetPointerWidth(selfWidth int, wow64 bool) int {
	if selfWidth == process.PointerWidth32 || wow64 {
		return process.PointerWidth32
	}
	return process.PointerWidth64
}

func (p *WindowsPlatform) Close(h *process.ProcessHandle) error {
	if err := windows.CloseHandle(windows.Handle(h.Raw)); err != nil {
		return fmt.Errorf("CloseHandle failed: %w", err)
	}
	p.log.Infoln("Process closed", h.PID)
	return nil
}

// Alive checks the exit code; the open handle keeps the process object, and
// with it the PID, from being reused.
func (p *WindowsPlatform) Alive(h *process.ProcessHandle) error {
	var code uint32
	if err := windows.GetExitCodeProcess(windows.Handle(h.Raw), &code); err != nil {
		return fmt.Errorf("GetExitCodeProcess failed: %w", err)
	}
	if code != stillActive {
		return fmt.Errorf("%w: pid %d exited with %d", process.ErrProcessGone, h.PID, code)
	}
	return nil
}

func (p *WindowsPlatform) ReadMemory(h *process.ProcessHandle, addr process.ProcessMemoryAddress, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	var n uintptr
	err := windows.ReadProcessMemory(windows.Handle(h.Raw), uintptr(addr), &buf[0], uintptr(len(buf)), &n)
	if err == nil || (errors.Is(err, windows.ERROR_PARTIAL_COPY) && n > 0) {
		return int(n), nil
	}
	return 0, p.classify(h, addr, err, false)
}

func (p *WindowsPlatform) WriteMemory(h *process.ProcessHandle, addr process.ProcessMemoryAddress, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	var n uintptr
	err := windows.WriteProcessMemory(windows.Handle(h.Raw), uintptr(addr), &data[0], uintptr(len(data)), &n)
	if err == nil || (errors.Is(err, windows.ERROR_PARTIAL_COPY) && n > 0) {
		return int(n), nil
	}
	return 0, p.classify(h, addr, err, true)
}

func (p *WindowsPlatform) classify(h *process.ProcessHandle, addr process.ProcessMemoryAddress, err error, write bool) error {
	if gone := p.Alive(h); gone != nil {
		return gone
	}

	switch {
	case errors.Is(err, windows.ERROR_PARTIAL_COPY), errors.Is(err, windows.ERROR_NOACCESS):
		if write {
			var mbi windows.MemoryBasicInformation
			if qerr := windows.VirtualQueryEx(windows.Handle(h.Raw), uintptr(addr), &mbi, unsafe.Sizeof(mbi)); qerr == nil && mbi.State == memCommit {
				perms := memory_map.PermsFromProtect(mbi.Protect, mbi.Type)
				if memory_map.IsReadablePerms(perms) && !memory_map.IsWritablePerms(perms) {
					return fmt.Errorf("%w: %s (%s)", process.ErrReadOnlyTarget, addr.ToString(), perms)
				}
			}
		}
		return fmt.Errorf("%w: %s: %v", process.ErrAccessDenied, addr.ToString(), err)
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return fmt.Errorf("%w: pid %d: %v", process.ErrAccessDenied, h.PID, err)
	case errors.Is(err, windows.ERROR_INVALID_PARAMETER):
		return fmt.Errorf("%w: %v", process.ErrInvalidArgument, err)
	}

	if write {
		return fmt.Errorf("WriteProcessMemory failed: %w", err)
	}
	return fmt.Errorf("ReadProcessMemory failed: %w", err)
}

// Regions walks the address space with VirtualQueryEx, keeping committed regions
func (p *WindowsPlatform) Regions(h *process.ProcessHandle) ([]memory_map.MemoryMapItem, error) {
	var items []memory_map.MemoryMapItem
	max := uint64(process.MaxAddress(h.PointerWidth))

	for addr := uint64(0); addr < max; {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQueryEx(windows.Handle(h.Raw), uintptr(addr), &mbi, unsafe.Sizeof(mbi)); err != nil {
			// past the last region
			break
		}
		if mbi.RegionSize == 0 {
			break
		}

		if mbi.State == memCommit {
			items = append(items, memory_map.MemoryMapItem{
				Address: uint64(mbi.BaseAddress),
				Size:    uint64(mbi.RegionSize),
				Perms:   memory_map.PermsFromProtect(mbi.Protect, mbi.Type),
			})
		}

		next := uint64(mbi.BaseAddress) + uint64(mbi.RegionSize)
		if next <= addr {
			break
		}
		addr = next
	}

	if len(items) == 0 {
		if gone := p.Alive(h); gone != nil {
			return nil, gone
		}
	}
	return items, nil
}

// BaseAddress returns the load address of the first module, the executable
func (p *WindowsPlatform) BaseAddress(h *process.ProcessHandle) (process.ProcessMemoryAddress, error) {
	var module windows.Handle
	var needed uint32
	if err := windows.EnumProcessModules(windows.Handle(h.Raw), &module, uint32(unsafe.Sizeof(module)), &needed); err != nil {
		if gone := p.Alive(h); gone != nil {
			return 0, gone
		}
		return 0, fmt.Errorf("%w: EnumProcessModules: %v", process.ErrAccessDenied, err)
	}
	return process.ProcessMemoryAddress(module), nil
}
