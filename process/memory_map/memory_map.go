package memory_map

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// MemoryMapItem represents a memory region in a process's address space
type MemoryMapItem struct {
	Address uint64 // The starting address of the memory region
	Size    uint64 // The size of the memory region in bytes
	Perms   string // Permissions (e.g., "r-xp" for read, execute, private)
	Path    string // Backing file or pseudo path such as [heap], empty for anonymous
}

// String returns a string representation of the memory map item
func (mmItem MemoryMapItem) String() string {
	return fmt.Sprintf("%016x-%016x %s %s", mmItem.Address, mmItem.End(), mmItem.Perms, mmItem.Path)
}

// End returns the first address past the region.
func (mmItem MemoryMapItem) End() uint64 {
	return mmItem.Address + mmItem.Size
}

func (mmItem MemoryMapItem) Contains(addr uint64) bool {
	return addr >= mmItem.Address && addr < mmItem.End()
}

func (mmItem MemoryMapItem) IsReadable() bool {
	return IsReadablePerms(mmItem.Perms)
}

func (mmItem MemoryMapItem) IsWritable() bool {
	return IsWritablePerms(mmItem.Perms)
}

func (mmItem MemoryMapItem) IsExecutable() bool {
	return IsExecutablePerms(mmItem.Perms)
}

func IsReadablePerms(perms string) bool {
	return len(perms) > 0 && perms[0] == 'r'
}

func IsWritablePerms(perms string) bool {
	return len(perms) > 1 && perms[1] == 'w'
}

func IsExecutablePerms(perms string) bool {
	return len(perms) > 2 && perms[2] == 'x'
}

// ParseMaps parses the /proc/[pid]/maps format. Malformed lines are skipped.
// The result is sorted by address.
func ParseMaps(r io.Reader) ([]MemoryMapItem, error) {
	var memoryMap []MemoryMapItem
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		// address perms offset dev inode [path]
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		addrRange := strings.Split(fields[0], "-")
		if len(addrRange) != 2 {
			continue
		}

		startAddr, err := strconv.ParseUint(addrRange[0], 16, 64)
		if err != nil {
			continue
		}

		endAddr, err := strconv.ParseUint(addrRange[1], 16, 64)
		if err != nil || endAddr < startAddr {
			continue
		}

		item := MemoryMapItem{
			Address: startAddr,
			Size:    endAddr - startAddr,
			Perms:   fields[1],
		}
		if len(fields) >= 6 {
			// paths may contain spaces
			item.Path = strings.Join(fields[5:], " ")
		}

		memoryMap = append(memoryMap, item)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	Sort(memoryMap)
	return memoryMap, nil
}

// Sort orders a memory map by address, as FindRegion requires.
func Sort(memoryMap []MemoryMapItem) {
	sort.Slice(memoryMap, func(i, j int) bool {
		return memoryMap[i].Address < memoryMap[j].Address
	})
}

// FindRegion returns the region of a sorted memory map containing addr, or nil.
func FindRegion(addr uint64, memoryMap []MemoryMapItem) *MemoryMapItem {
	i := sort.Search(len(memoryMap), func(i int) bool {
		return memoryMap[i].End() > addr
	})
	if i < len(memoryMap) && memoryMap[i].Address <= addr {
		return &memoryMap[i]
	}

	return nil
}

// ImageBase returns the lowest mapped address backed by exe, or the first
// region when exe is empty or not found.
func ImageBase(exe string, memoryMap []MemoryMapItem) (uint64, bool) {
	if exe != "" {
		for _, item := range memoryMap {
			if item.Path == exe {
				return item.Address, true
			}
		}
	}
	if len(memoryMap) == 0 {
		return 0, false
	}
	return memoryMap[0].Address, true
}
