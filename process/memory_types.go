package process

import (
	"fmt"
	"math"
)

// ProcessMemoryAddress represents a memory address within a process
type ProcessMemoryAddress uint64

func (pma ProcessMemoryAddress) ToString() string {
	return fmt.Sprintf("0x%X", uint64(pma))
}

// ProcessMemorySize represents a size of memory region
type ProcessMemorySize uint64

func (pms ProcessMemorySize) ToString() string {
	return fmt.Sprintf("%d bytes", uint64(pms))
}

// Pointer widths of a target process, in bytes.
const (
	PointerWidth32 = 4
	PointerWidth64 = 8
)

// MaxAddress returns the highest address representable by a target with the
// given pointer width. Unknown widths are treated as 64-bit.
func MaxAddress(pointerWidth int) ProcessMemoryAddress {
	if pointerWidth == PointerWidth32 {
		return math.MaxUint32
	}
	return math.MaxUint64
}

// MemoryRegion is a transient address range in a target process.
type MemoryRegion struct {
	Address ProcessMemoryAddress
	Length  ProcessMemorySize
}

// End returns the last address covered by the region. Only meaningful for
// regions that passed Validate.
func (r MemoryRegion) End() ProcessMemoryAddress {
	return r.Address + ProcessMemoryAddress(r.Length) - 1
}

func (r MemoryRegion) String() string {
	return fmt.Sprintf("[%s +%d]", r.Address.ToString(), uint64(r.Length))
}

// Validate checks that the region is non-empty and that address+length does
// not overflow the address space of a target with the given pointer width.
func (r MemoryRegion) Validate(pointerWidth int) error {
	if r.Length == 0 {
		return fmt.Errorf("%w: zero length at %s", ErrInvalidArgument, r.Address.ToString())
	}

	max := MaxAddress(pointerWidth)
	if r.Address > max {
		return fmt.Errorf("%w: address %s beyond %d-bit address space", ErrInvalidArgument, r.Address.ToString(), pointerWidth*8)
	}

	// address + length - 1 <= max, written so that it cannot wrap
	if uint64(r.Length)-1 > uint64(max-r.Address) {
		return fmt.Errorf("%w: range %s overflows the address space", ErrInvalidArgument, r.String())
	}

	return nil
}
