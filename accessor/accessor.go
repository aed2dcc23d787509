// Package accessor reads and writes raw byte ranges of attached processes.
//
// Remote memory access is racy by nature: the target can exit or remap
// memory between any two calls. Every operation therefore re-checks the
// target, and bytes obtained from a process that exited during the call are
// discarded rather than returned.
package accessor

import (
	"errors"
	"fmt"

	"memlink/handle_table"
	"memlink/process"
	"memlink/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Options bounds what a single call may do.
type Options struct {
	// MaxTransferSize caps the length of one read or write. Zero selects
	// DefaultMaxTransferSize.
	MaxTransferSize process.ProcessMemorySize

	// MaxChainDepth caps the number of offsets in a pointer chain.
	MaxChainDepth int

	// ReadOnly refuses every write with ErrAccessDenied.
	ReadOnly bool
}

// Accessor performs validated reads and writes through borrowed handles.
type Accessor struct {
	platform process.Platform
	table    *handle_table.HandleTable
	opts     Options
	log      *logger.Logger
}

// DefaultMaxTransferSize is the transfer cap used when Options leaves it unset.
const DefaultMaxTransferSize process.ProcessMemorySize = 64 << 20

func New(platform process.Platform, table *handle_table.HandleTable, opts Options) *Accessor {
	if opts.MaxTransferSize == 0 {
		opts.MaxTransferSize = DefaultMaxTransferSize
	}
	if opts.MaxChainDepth <= 0 {
		opts.MaxChainDepth = 16
	}
	return &Accessor{
		platform: platform,
		table:    table,
		opts:     opts,
		log:      logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "accessor")),
	}
}

// Read returns length bytes at addr. A range that is only partly readable
// yields a *process.PartialTransferError carrying the readable prefix.
func (a *Accessor) Read(id process.HandleID, addr process.ProcessMemoryAddress, length process.ProcessMemorySize) ([]byte, error) {
	var data []byte
	err := a.table.Borrow(id, func(h *process.ProcessHandle) error {
		var err error
		data, err = a.read(h, addr, length)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s at %s: %w", id, addr.ToString(), err)
	}
	return data, nil
}

// Write stores data at addr and returns the number of bytes written.
func (a *Accessor) Write(id process.HandleID, addr process.ProcessMemoryAddress, data []byte) (int, error) {
	var n int
	err := a.table.Borrow(id, func(h *process.ProcessHandle) error {
		var err error
		n, err = a.write(h, addr, data)
		return err
	})
	if err != nil {
		return n, fmt.Errorf("write %s at %s: %w", id, addr.ToString(), err)
	}
	return n, nil
}

// MaxTransferSize returns the largest length a single Read or Write accepts.
func (a *Accessor) MaxTransferSize() process.ProcessMemorySize {
	return a.opts.MaxTransferSize
}

// ReadChunks reads length bytes at addr in pieces of at most
// MaxTransferSize bytes and passes them to fn in address order. Each piece
// after the first starts overlap bytes before the end of the previous one.
// A piece cut short is still passed to fn, and its error ends the walk.
func (a *Accessor) ReadChunks(
	id process.HandleID,
	addr process.ProcessMemoryAddress,
	length process.ProcessMemorySize,
	overlap process.ProcessMemorySize,
	fn func(addr process.ProcessMemoryAddress, data []byte) error,
) error {
	if overlap >= a.opts.MaxTransferSize {
		return fmt.Errorf("%w: overlap %d is not below the %d byte transfer limit", process.ErrInvalidArgument, overlap, a.opts.MaxTransferSize)
	}
	err := a.table.Borrow(id, func(h *process.ProcessHandle) error {
		return (process.MemoryRegion{Address: addr, Length: length}).Validate(h.PointerWidth)
	})
	if err != nil {
		return fmt.Errorf("read %s at %s: %w", id, addr.ToString(), err)
	}

	step := a.opts.MaxTransferSize - overlap
	for off := process.ProcessMemorySize(0); ; off += step {
		n := min(length-off, a.opts.MaxTransferSize)
		at := addr + process.ProcessMemoryAddress(off)

		data, err := a.Read(id, at, n)
		if err != nil {
			var pe *process.PartialTransferError
			if errors.As(err, &pe) && len(pe.Data) > 0 {
				if ferr := fn(at, pe.Data); ferr != nil {
					return ferr
				}
			}
			return err
		}
		if err := fn(at, data); err != nil {
			return err
		}
		if off+n >= length {
			return nil
		}
	}
}

// ReadResult is Read reported as a TransferResult.
func (a *Accessor) ReadResult(id process.HandleID, addr process.ProcessMemoryAddress, length process.ProcessMemorySize) process.TransferResult {
	data, err := a.Read(id, addr, length)
	return process.NewTransferResult(data, len(data), length, err)
}

// WriteResult is Write reported as a TransferResult.
func (a *Accessor) WriteResult(id process.HandleID, addr process.ProcessMemoryAddress, data []byte) process.TransferResult {
	n, err := a.Write(id, addr, data)
	return process.NewTransferResult(nil, n, process.ProcessMemorySize(len(data)), err)
}

// Regions returns the memory map of the target.
func (a *Accessor) Regions(id process.HandleID) ([]memory_map.MemoryMapItem, error) {
	var items []memory_map.MemoryMapItem
	err := a.table.Borrow(id, func(h *process.ProcessHandle) error {
		if err := a.platform.Alive(h); err != nil {
			return err
		}
		var err error
		items, err = a.platform.Regions(h)
		return err
	})
	return items, err
}

// BaseAddress returns the load address of the target's main image.
func (a *Accessor) BaseAddress(id process.HandleID) (process.ProcessMemoryAddress, error) {
	var base process.ProcessMemoryAddress
	err := a.table.Borrow(id, func(h *process.ProcessHandle) error {
		if err := a.platform.Alive(h); err != nil {
			return err
		}
		var err error
		base, err = a.platform.BaseAddress(h)
		return err
	})
	return base, err
}

// PointerWidth returns the pointer width of the target of id.
func (a *Accessor) PointerWidth(id process.HandleID) (int, error) {
	var width int
	err := a.table.Borrow(id, func(h *process.ProcessHandle) error {
		width = h.PointerWidth
		return nil
	})
	return width, err
}

func (a *Accessor) validate(h *process.ProcessHandle, addr process.ProcessMemoryAddress, length process.ProcessMemorySize) error {
	if err := (process.MemoryRegion{Address: addr, Length: length}).Validate(h.PointerWidth); err != nil {
		return err
	}
	if length > a.opts.MaxTransferSize {
		return fmt.Errorf("%w: length %d exceeds the %d byte transfer limit", process.ErrInvalidArgument, length, a.opts.MaxTransferSize)
	}
	if uint64(length) > uint64(maxInt) {
		return fmt.Errorf("%w: length %d does not fit in memory", process.ErrInvalidArgument, length)
	}
	return nil
}

const maxInt = int(^uint(0) >> 1)

// read operates on a borrowed handle
func (a *Accessor) read(h *process.ProcessHandle, addr process.ProcessMemoryAddress, length process.ProcessMemorySize) ([]byte, error) {
	if err := a.validate(h, addr, length); err != nil {
		return nil, err
	}
	if err := a.platform.Alive(h); err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	n, err := a.platform.ReadMemory(h, addr, buf)

	// the bytes may belong to a process that has just exited
	if gone := a.platform.Alive(h); gone != nil {
		return nil, gone
	}
	if err != nil {
		return nil, err
	}

	if n < len(buf) {
		a.log.Debugln("Partial read at", addr.ToString(), n, "of", len(buf))
		return nil, &process.PartialTransferError{
			Address:     addr,
			Requested:   length,
			Transferred: process.ProcessMemorySize(n),
			Data:        buf[:n],
		}
	}
	return buf, nil
}

// write operates on a borrowed handle
func (a *Accessor) write(h *process.ProcessHandle, addr process.ProcessMemoryAddress, data []byte) (int, error) {
	length := process.ProcessMemorySize(len(data))
	if err := a.validate(h, addr, length); err != nil {
		return 0, err
	}
	if a.opts.ReadOnly {
		return 0, fmt.Errorf("%w: writes are disabled", process.ErrAccessDenied)
	}
	if err := a.platform.Alive(h); err != nil {
		return 0, err
	}

	// Create a copy of the data to avoid potential modification during the write
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	n, err := a.platform.WriteMemory(h, addr, dataCopy)

	// the pid may have been reused while the bytes were in flight
	if gone := a.platform.Alive(h); gone != nil {
		if err == nil && n > 0 {
			a.log.Warn("Target ", h.PID, " exited during a write of ", n, " bytes at ", addr.ToString())
		}
		return 0, gone
	}
	if err != nil {
		return 0, err
	}

	if n < len(data) {
		a.log.Debugln("Partial write at", addr.ToString(), n, "of", len(data))
		return n, &process.PartialTransferError{
			Address:     addr,
			Requested:   length,
			Transferred: process.ProcessMemorySize(n),
		}
	}
	return n, nil
}
