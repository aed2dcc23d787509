//go:build linux

package process_linux

import (
	"fmt"
	"unsafe"

	"memlink/process"
	"memlink/process/memory_map"

	"golang.org/x/sys/unix"
)

// process_vm_writev uses the process_vm_writev syscall to write memory to another process.
// Unlike writes through /proc/[pid]/mem it honours page protections.
func process_vm_writev(pid process.ProcessID, localBuf []byte, remoteAddr process.ProcessMemoryAddress) (int, unix.Errno) {
	localIov := unix.Iovec{Base: &localBuf[0]}
	localIov.SetLen(len(localBuf))

	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  len(localBuf),
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_WRITEV,
		uintptr(pid),                        // Remote process PID
		uintptr(unsafe.Pointer(&localIov)),  // Local iovec
		uintptr(1),                          // Number of local iovecs
		uintptr(unsafe.Pointer(&remoteIov)), // Remote iovec
		uintptr(1),                          // Number of remote iovecs
		uintptr(0),                          // Flags (reserved for future use)
	)
	if errno != 0 {
		return 0, errno
	}
	return int(n), 0
}

// WriteMemory writes data to the target's memory at addr
func (p *LinuxPlatform) WriteMemory(h *process.ProcessHandle, addr process.ProcessMemoryAddress, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	n, errno := process_vm_writev(h.PID, data, addr)
	if errno == 0 {
		return n, nil
	}

	switch errno {
	case unix.ESRCH:
		return 0, fmt.Errorf("%w: pid %d", process.ErrProcessGone, h.PID)
	case unix.EPERM:
		return 0, fmt.Errorf("%w: pid %d: %v", process.ErrAccessDenied, h.PID, errno)
	case unix.EFAULT:
		return 0, p.classifyWriteFault(h, addr)
	case unix.EINVAL:
		return 0, fmt.Errorf("%w: process_vm_writev: %v", process.ErrInvalidArgument, errno)
	}
	return 0, fmt.Errorf("process_vm_writev failed: %w (errno: %d)", errno, int(errno))
}

// classifyWriteFault tells a read-only mapping apart from an unmapped or
// inaccessible one using a fresh memory map.
func (p *LinuxPlatform) classifyWriteFault(h *process.ProcessHandle, addr process.ProcessMemoryAddress) error {
	items, err := p.maps.Refresh(int(h.PID))
	if err != nil {
		return fmt.Errorf("%w: %s is not writable", process.ErrAccessDenied, addr.ToString())
	}

	region := memory_map.FindRegion(uint64(addr), items)
	if region == nil {
		return fmt.Errorf("%w: %s is not mapped", process.ErrAccessDenied, addr.ToString())
	}
	if region.IsReadable() && !region.IsWritable() {
		return fmt.Errorf("%w: %s lies in %s", process.ErrReadOnlyTarget, addr.ToString(), region.String())
	}
	return fmt.Errorf("%w: %s lies in %s", process.ErrAccessDenied, addr.ToString(), region.String())
}
