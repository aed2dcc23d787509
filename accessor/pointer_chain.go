package accessor

import (
	"encoding/binary"
	"fmt"

	"memlink/process"
)

// ReadPointerChain walks pointer fields at all offsets except the last,
// which is treated as a raw byte offset into the final struct, and then
// reads `size` bytes starting there. Pointers are read with the target's
// pointer width.
//
// Example:
//
//	// base -> [ +0 ]ptrA -> [ +24 ]ptrB -> [ +144 ]ptrC
//	// final read at (ptrC + 504), length 0x10
//	data, err := acc.ReadPointerChain(id, base, 0x10, 0, 24, 144, 504)
func (a *Accessor) ReadPointerChain(
	id process.HandleID,
	base process.ProcessMemoryAddress,
	size process.ProcessMemorySize,
	offsets ...process.ProcessMemorySize,
) ([]byte, error) {
	var data []byte
	err := a.table.Borrow(id, func(h *process.ProcessHandle) error {
		start, err := a.resolveChain(h, base, offsets)
		if err != nil {
			return err
		}
		data, err = a.read(h, start, size)
		if err != nil {
			return fmt.Errorf("read at %s (size=%#x): %w", start.ToString(), uint64(size), err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ReadPointerChain: %w", err)
	}
	return data, nil
}

// ResolvePointerChain returns the address a chain ends at without reading it.
func (a *Accessor) ResolvePointerChain(
	id process.HandleID,
	base process.ProcessMemoryAddress,
	offsets ...process.ProcessMemorySize,
) (process.ProcessMemoryAddress, error) {
	var addr process.ProcessMemoryAddress
	err := a.table.Borrow(id, func(h *process.ProcessHandle) error {
		var err error
		addr, err = a.resolveChain(h, base, offsets)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ResolvePointerChain: %w", err)
	}
	return addr, nil
}

func (a *Accessor) resolveChain(h *process.ProcessHandle, base process.ProcessMemoryAddress, offsets []process.ProcessMemorySize) (process.ProcessMemoryAddress, error) {
	if len(offsets) > a.opts.MaxChainDepth {
		return 0, fmt.Errorf("%w: chain of %d offsets exceeds depth %d", process.ErrInvalidArgument, len(offsets), a.opts.MaxChainDepth)
	}

	// No offsets: the chain ends at base
	if len(offsets) == 0 {
		return base, nil
	}

	current := base

	// Deref each offset except the last
	for i := 0; i < len(offsets)-1; i++ {
		addr, err := addOffset(h, current, offsets[i])
		if err != nil {
			return 0, fmt.Errorf("step %d: %w", i, err)
		}

		ptr, err := a.readPointer(h, addr)
		if err != nil {
			return 0, fmt.Errorf("step %d: read pointer at %s: %w", i, addr.ToString(), err)
		}
		if ptr == 0 {
			return 0, fmt.Errorf("%w: NULL pointer at step %d (addr=%#x + off=%#x)", process.ErrInvalidPointer, i, uint64(current), uint64(offsets[i]))
		}
		current = ptr
	}

	// Last offset is a raw byte offset into `current` (no deref)
	return addOffset(h, current, offsets[len(offsets)-1])
}

func addOffset(h *process.ProcessHandle, addr process.ProcessMemoryAddress, off process.ProcessMemorySize) (process.ProcessMemoryAddress, error) {
	max := process.MaxAddress(h.PointerWidth)
	if addr > max || uint64(off) > uint64(max-addr) {
		return 0, fmt.Errorf("%w: %s + %#x overflows", process.ErrInvalidArgument, addr.ToString(), uint64(off))
	}
	return addr + process.ProcessMemoryAddress(off), nil
}

func (a *Accessor) readPointer(h *process.ProcessHandle, addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, error) {
	width := h.PointerWidth
	if width != process.PointerWidth32 {
		width = process.PointerWidth64
	}

	data, err := a.read(h, addr, process.ProcessMemorySize(width))
	if err != nil {
		return 0, err
	}

	if width == process.PointerWidth32 {
		return process.ProcessMemoryAddress(binary.LittleEndian.Uint32(data)), nil
	}
	return process.ProcessMemoryAddress(binary.LittleEndian.Uint64(data)), nil
}
