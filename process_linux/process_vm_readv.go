//go:build linux

package process_linux

import (
	"fmt"
	"unsafe"

	"memlink/process"

	"golang.org/x/sys/unix"
)

// process_vm_readv uses the process_vm_readv syscall to read memory from another process.
// A short count with a zero errno means the range crossed into an unreadable page.
func process_vm_readv(pid process.ProcessID, localBuf []byte, remoteAddr process.ProcessMemoryAddress) (int, unix.Errno) {
	localIov := unix.Iovec{Base: &localBuf[0]}
	localIov.SetLen(len(localBuf))

	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  len(localBuf),
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_READV,
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

// ReadMemory fills buf from the target's memory at addr
func (p *LinuxPlatform) ReadMemory(h *process.ProcessHandle, addr process.ProcessMemoryAddress, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	n, errno := process_vm_readv(h.PID, buf, addr)
	if errno == 0 {
		return n, nil
	}

	switch errno {
	case unix.ESRCH:
		return 0, fmt.Errorf("%w: pid %d", process.ErrProcessGone, h.PID)
	case unix.EPERM:
		return 0, fmt.Errorf("%w: pid %d: %v", process.ErrAccessDenied, h.PID, errno)
	case unix.EFAULT:
		return 0, fmt.Errorf("%w: %s is not readable", process.ErrAccessDenied, addr.ToString())
	case unix.EINVAL:
		return 0, fmt.Errorf("%w: process_vm_readv: %v", process.ErrInvalidArgument, errno)
	}
	return 0, fmt.Errorf("process_vm_readv failed: %w (errno: %d)", errno, int(errno))
}
