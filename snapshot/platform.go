package snapshot

import (
	"fmt"
	"sort"

	"memlink/process"
	"memlink/process/memory_map"
)

func sortRegions(regions []Region) {
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].Info.Address < regions[j].Info.Address
	})
}

// Platform serves a loaded snapshot as a read-only process.Platform, so the
// accessor and bindings work on dumps as they do on live targets.
type Platform struct {
	snap *Snapshot
}

var _ process.Platform = (*Platform)(nil)

func NewPlatform(snap *Snapshot) *Platform {
	sortRegions(snap.Regions)
	return &Platform{snap: snap}
}

func (p *Platform) Name() string {
	return "snapshot"
}

func (p *Platform) Open(pid process.ProcessID) (*process.ProcessHandle, error) {
	if pid != p.snap.Meta.PID {
		return nil, fmt.Errorf("%w: snapshot holds pid %d, not %d", process.ErrProcessNotFound, p.snap.Meta.PID, pid)
	}
	width := p.snap.Meta.PointerWidth
	if width == 0 {
		width = process.PointerWidth64
	}
	h := process.NewProcessHandle(pid, 0, width)
	h.Name = p.snap.Meta.Name
	h.StartTime = p.snap.Meta.CreatedAt
	return h, nil
}

func (p *Platform) Close(h *process.ProcessHandle) error {
	return nil
}

// Alive is always nil: a snapshot never exits.
func (p *Platform) Alive(h *process.ProcessHandle) error {
	return nil
}

func (p *Platform) find(addr uint64) *Region {
	regions := p.snap.Regions
	i := sort.Search(len(regions), func(i int) bool {
		return regions[i].Info.Address+uint64(len(regions[i].Data)) > addr
	})
	if i < len(regions) && regions[i].Info.Address <= addr {
		return &regions[i]
	}
	return nil
}

// ReadMemory copies captured bytes, stopping at the first byte that was not captured.
func (p *Platform) ReadMemory(h *process.ProcessHandle, addr process.ProcessMemoryAddress, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		cur := uint64(addr) + uint64(n)
		r := p.find(cur)
		if r == nil {
			break
		}
		n += copy(buf[n:], r.Data[cur-r.Info.Address:])
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s not captured", process.ErrAccessDenied, addr.ToString())
	}
	return n, nil
}

func (p *Platform) WriteMemory(h *process.ProcessHandle, addr process.ProcessMemoryAddress, data []byte) (int, error) {
	return 0, fmt.Errorf("%w: snapshots cannot be written", process.ErrReadOnlyTarget)
}

func (p *Platform) Regions(h *process.ProcessHandle) ([]memory_map.MemoryMapItem, error) {
	return p.snap.MemoryMap(), nil
}

func (p *Platform) BaseAddress(h *process.ProcessHandle) (process.ProcessMemoryAddress, error) {
	if p.snap.Meta.Base != 0 {
		return process.ProcessMemoryAddress(p.snap.Meta.Base), nil
	}
	items := p.snap.MemoryMap()
	base, ok := memory_map.ImageBase("", items)
	if !ok {
		return 0, fmt.Errorf("%w: empty snapshot", process.ErrAccessDenied)
	}
	return process.ProcessMemoryAddress(base), nil
}
