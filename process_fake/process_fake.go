// Package process_fake provides an in-memory process.Platform for tests of
// the layers above the OS backends.
package process_fake

import (
	"fmt"
	"sort"
	"sync"

	"memlink/process"
	"memlink/process/memory_map"
)

// Region is a block of fake memory.
type Region struct {
	Address process.ProcessMemoryAddress
	Perms   string
	Data    []byte
}

func (r *Region) end() process.ProcessMemoryAddress {
	return r.Address + process.ProcessMemoryAddress(len(r.Data))
}

// Process is a fake target.
type Process struct {
	PID          process.ProcessID
	PointerWidth int
	Base         process.ProcessMemoryAddress
	Regions      []*Region

	// OpenErr is returned by Open, e.g. process.ErrAccessDenied.
	OpenErr error

	exited bool
}

// Platform is a process.Platform backed by fake processes.
type Platform struct {
	mu        sync.Mutex
	processes map[process.ProcessID]*Process
	byRaw     map[process.RawHandle]*Process
	nextRaw   process.RawHandle

	Opens  int
	Closes int

	// BeforeRead, when set, runs at the start of every ReadMemory.
	BeforeRead func(h *process.ProcessHandle)

	// AfterWrite, when set, runs at the end of every WriteMemory.
	AfterWrite func(h *process.ProcessHandle)
}

var _ process.Platform = (*Platform)(nil)

func New() *Platform {
	return &Platform{
		processes: make(map[process.ProcessID]*Process),
		byRaw:     make(map[process.RawHandle]*Process),
	}
}

// Add registers a fake process.
func (p *Platform) Add(proc *Process) *Process {
	p.mu.Lock()
	defer p.mu.Unlock()

	if proc.PointerWidth == 0 {
		proc.PointerWidth = process.PointerWidth64
	}
	sort.Slice(proc.Regions, func(i, j int) bool {
		return proc.Regions[i].Address < proc.Regions[j].Address
	})
	p.processes[proc.PID] = proc
	return proc
}

// Exit marks pid as exited. Handles opened on it report ErrProcessGone from
// then on, even if a new process is later added under the same pid.
func (p *Platform) Exit(pid process.ProcessID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if proc, ok := p.processes[pid]; ok {
		proc.exited = true
		delete(p.processes, pid)
	}
}

// Counts returns the number of opens and closes so far.
func (p *Platform) Counts() (opens, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Opens, p.Closes
}

func (p *Platform) Name() string {
	return "fake"
}

func (p *Platform) Open(pid process.ProcessID) (*process.ProcessHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	proc, ok := p.processes[pid]
	if !ok {
		return nil, fmt.Errorf("%w: pid %d", process.ErrProcessNotFound, pid)
	}
	if proc.OpenErr != nil {
		return nil, proc.OpenErr
	}

	p.Opens++
	p.nextRaw++
	h := process.NewProcessHandle(pid, p.nextRaw, proc.PointerWidth)
	p.byRaw[p.nextRaw] = proc
	h.Name = fmt.Sprintf("fake-%d", pid)
	return h, nil
}

func (p *Platform) Close(h *process.ProcessHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closes++
	delete(p.byRaw, h.Raw)
	return nil
}

// lookup finds the live process behind h.
func (p *Platform) lookup(h *process.ProcessHandle) (*Process, error) {
	proc, ok := p.byRaw[h.Raw]
	if !ok || proc.exited {
		return nil, fmt.Errorf("%w: pid %d", process.ErrProcessGone, h.PID)
	}
	return proc, nil
}

func (p *Platform) Alive(h *process.ProcessHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.lookup(h)
	return err
}

// transfer copies between buf and the fake regions, stopping at the first
// byte that is unmapped or lacks the required permission.
func (p *Platform) transfer(h *process.ProcessHandle, addr process.ProcessMemoryAddress, buf []byte, write bool) (int, error) {
	proc, err := p.lookup(h)
	if err != nil {
		return 0, err
	}

	n := 0
	for n < len(buf) {
		cur := addr + process.ProcessMemoryAddress(n)
		region := findRegion(proc, cur)
		if region == nil {
			break
		}
		if write && !memory_map.IsWritablePerms(region.Perms) {
			if n == 0 && memory_map.IsReadablePerms(region.Perms) {
				return 0, fmt.Errorf("%w: %s", process.ErrReadOnlyTarget, cur.ToString())
			}
			break
		}
		if !write && !memory_map.IsReadablePerms(region.Perms) {
			break
		}

		off := int(cur - region.Address)
		var c int
		if write {
			c = copy(region.Data[off:], buf[n:])
		} else {
			c = copy(buf[n:], region.Data[off:])
		}
		n += c
	}

	if n == 0 {
		return 0, fmt.Errorf("%w: %s", process.ErrAccessDenied, addr.ToString())
	}
	return n, nil
}

func findRegion(proc *Process, addr process.ProcessMemoryAddress) *Region {
	for _, r := range proc.Regions {
		if addr >= r.Address && addr < r.end() {
			return r
		}
	}
	return nil
}

func (p *Platform) ReadMemory(h *process.ProcessHandle, addr process.ProcessMemoryAddress, buf []byte) (int, error) {
	if p.BeforeRead != nil {
		p.BeforeRead(h)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transfer(h, addr, buf, false)
}

func (p *Platform) WriteMemory(h *process.ProcessHandle, addr process.ProcessMemoryAddress, data []byte) (int, error) {
	p.mu.Lock()
	n, err := p.transfer(h, addr, data, true)
	p.mu.Unlock()

	if p.AfterWrite != nil {
		p.AfterWrite(h)
	}
	return n, err
}

func (p *Platform) Regions(h *process.ProcessHandle) ([]memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	proc, err := p.lookup(h)
	if err != nil {
		return nil, err
	}

	items := make([]memory_map.MemoryMapItem, 0, len(proc.Regions))
	for _, r := range proc.Regions {
		items = append(items, memory_map.MemoryMapItem{
			Address: uint64(r.Address),
			Size:    uint64(len(r.Data)),
			Perms:   r.Perms,
		})
	}
	return items, nil
}

func (p *Platform) BaseAddress(h *process.ProcessHandle) (process.ProcessMemoryAddress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	proc, err := p.lookup(h)
	if err != nil {
		return 0, err
	}
	if proc.Base == 0 && len(proc.Regions) > 0 {
		return proc.Regions[0].Address, nil
	}
	return proc.Base, nil
}
