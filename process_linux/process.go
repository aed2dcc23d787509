//go:build linux

// Package process_linux implements process.Platform with pidfds and the
// process_vm_readv/process_vm_writev system calls.
package process_linux

import (
	"debug/elf"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"
	"unsafe"

	"memlink/process"
	"memlink/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	ps "github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// noPidfd marks handles opened on kernels without pidfd_open. Liveness of
// such handles is checked by comparing the process start time.
const noPidfd = ^process.RawHandle(0)

// mapMaxAge bounds how long a cached memory map is trusted for Regions and
// BaseAddress.
const mapMaxAge = 2 * time.Second

// LinuxPlatform implements process.Platform for Linux systems
type LinuxPlatform struct {
	log  *logger.Logger
	maps *memory_map.Cache
}

var _ process.Platform = (*LinuxPlatform)(nil)

// New creates a LinuxPlatform caching up to mapCacheSize memory maps.
func New(mapCacheSize int) (*LinuxPlatform, error) {
	maps, err := memory_map.NewCache(mapCacheSize, mapMaxAge, memory_map.ReadMemoryMap)
	if err != nil {
		return nil, err
	}
	return &LinuxPlatform{
		log:  logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "process-linux")),
		maps: maps,
	}, nil
}

func (p *LinuxPlatform) Name() string {
	return "linux"
}

// Open obtains a pidfd for pid and verifies that the caller may access its memory
func (p *LinuxPlatform) Open(pid process.ProcessID) (*process.ProcessHandle, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("%w: pid %d", process.ErrProcessNotFound, pid)
	}

	raw := noPidfd
	fd, err := unix.PidfdOpen(int(pid), 0)
	switch {
	case err == nil:
		raw = process.RawHandle(fd)
	case errors.Is(err, unix.ENOSYS):
		p.log.Debugln("pidfd_open unavailable, falling back to start time checks")
		if !procExists(pid) {
			return nil, fmt.Errorf("%w: pid %d", process.ErrProcessNotFound, pid)
		}
	case errors.Is(err, unix.ESRCH), errors.Is(err, unix.EINVAL):
		return nil, fmt.Errorf("%w: pid %d", process.ErrProcessNotFound, pid)
	default:
		return nil, fmt.Errorf("pidfd_open %d: %w", pid, err)
	}

	closeRaw := func() {
		if raw != noPidfd {
			unix.Close(int(raw))
		}
	}

	// /proc/[pid]/mem is guarded by the same ptrace access check as
	// process_vm_readv, so opening it tells us up front whether reads will be refused
	if err := probeMemAccess(pid); err != nil {
		closeRaw()
		return nil, err
	}

	h := process.NewProcessHandle(pid, raw, pointerWidth(pid))

	proc, err := ps.NewProcess(int32(pid))
	if err != nil {
		closeRaw()
		return nil, fmt.Errorf("%w: pid %d: %v", process.ErrProcessNotFound, pid, err)
	}
	if ms, err := proc.CreateTime(); err == nil {
		h.StartTime = time.UnixMilli(ms)
	}
	if name, err := proc.Name(); err == nil {
		h.Name = name
	}

	p.log.Infoln("Process opened", pid, h.Name, "pointer width", h.PointerWidth)
	return h, nil
}

// Close releases the pidfd behind h
func (p *LinuxPlatform) Close(h *process.ProcessHandle) error {
	p.maps.Forget(int(h.PID))

	if h.Raw == noPidfd {
		return nil
	}
	if err := unix.Close(int(h.Raw)); err != nil {
		return fmt.Errorf("close pidfd %d: %w", int(h.Raw), err)
	}

	p.log.Infoln("Process closed", h.PID)
	return nil
}

// Alive reports ErrProcessGone once the target of h has exited. A pidfd
// becomes readable when its process exits, zombies included.
func (p *LinuxPlatform) Alive(h *process.ProcessHandle) error {
	if h.Raw == noPidfd {
		return aliveByStartTime(h)
	}

	fds := []unix.PollFd{{Fd: int32(h.Raw), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll pidfd %d: %w", int(h.Raw), err)
		}
		if n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0 {
			return fmt.Errorf("%w: pid %d", process.ErrProcessGone, h.PID)
		}
		return nil
	}
}

func (p *LinuxPlatform) Regions(h *process.ProcessHandle) ([]memory_map.MemoryMapItem, error) {
	items, err := p.maps.Get(int(h.PID))
	if err != nil {
		return nil, p.classifyProcError(h, err)
	}
	return slices.Clone(items), nil
}

// BaseAddress returns the lowest mapping of /proc/[pid]/exe
func (p *LinuxPlatform) BaseAddress(h *process.ProcessHandle) (process.ProcessMemoryAddress, error) {
	items, err := p.maps.Get(int(h.PID))
	if err != nil {
		return 0, p.classifyProcError(h, err)
	}

	exe, _ := os.Readlink(fmt.Sprintf("/proc/%d/exe", h.PID))
	base, ok := memory_map.ImageBase(exe, items)
	if !ok {
		return 0, fmt.Errorf("%w: pid %d has no mappings", process.ErrAccessDenied, h.PID)
	}
	return process.ProcessMemoryAddress(base), nil
}

func (p *LinuxPlatform) classifyProcError(h *process.ProcessHandle, err error) error {
	if gone := p.Alive(h); gone != nil {
		return gone
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", process.ErrAccessDenied, err)
	}
	return err
}

func probeMemAccess(pid process.ProcessID) error {
	f, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	switch {
	case err == nil:
		return f.Close()
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: pid %d: %v", process.ErrAccessDenied, pid, err)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, unix.ESRCH):
		return fmt.Errorf("%w: pid %d", process.ErrProcessNotFound, pid)
	default:
		return fmt.Errorf("open /proc/%d/mem: %w", pid, err)
	}
}

// pointerWidth reads the ELF class of the target executable, defaulting to
// the width of this process when the executable cannot be inspected.
func pointerWidth(pid process.ProcessID) int {
	f, err := elf.Open(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return int(unsafe.Sizeof(uintptr(0)))
	}
	defer f.Close()

	if f.Class == elf.ELFCLASS32 {
		return process.PointerWidth32
	}
	return process.PointerWidth64
}

func aliveByStartTime(h *process.ProcessHandle) error {
	proc, err := ps.NewProcess(int32(h.PID))
	if err != nil {
		return fmt.Errorf("%w: pid %d", process.ErrProcessGone, h.PID)
	}

	if !h.StartTime.IsZero() {
		ms, err := proc.CreateTime()
		if err != nil || ms != h.StartTime.UnixMilli() {
			return fmt.Errorf("%w: pid %d was reused", process.ErrProcessGone, h.PID)
		}
	}

	if status, err := proc.Status(); err == nil && slices.Contains(status, ps.Zombie) {
		return fmt.Errorf("%w: pid %d is a zombie", process.ErrProcessGone, h.PID)
	}
	return nil
}

func procExists(pid process.ProcessID) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	if err == nil {
		return true
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	// transient errors (permission, EIO): fall back to kill 0
	return unix.Kill(int(pid), 0) == nil
}
