// Package search finds things in the memory of an attached process: byte
// patterns with wildcards, and pointer paths leading to a known value.
package search

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"memlink/accessor"
	"memlink/process"
	"memlink/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

var log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "search"))

// Searcher holds configuration for the pointer path search
type Searcher struct {
	MaxStructSize uint
	MaxDepth      int
	MinAlignment  uint
	SearchFor     func([]byte) bool
}

// Option is a function that configures a Searcher
type Option func(*Searcher)

func WithMaxStructSize(size uint) Option {
	return func(s *Searcher) {
		s.MaxStructSize = size
	}
}

func WithMaxDepth(depth int) Option {
	return func(s *Searcher) {
		s.MaxDepth = depth
	}
}

func WithMinAlignment(align uint) Option {
	return func(s *Searcher) {
		s.MinAlignment = align
	}
}

// WithBytes searches for an exact byte sequence.
func WithBytes(want []byte) Option {
	return func(s *Searcher) {
		s.SearchFor = func(data []byte) bool {
			return len(data) >= len(want) && string(data[:len(want)]) == string(want)
		}
	}
}

// WithValue searches for the in-memory bytes of val. T must be plain data.
func WithValue[T any](val T) Option {
	want := make([]byte, unsafe.Sizeof(val))
	copy(want, unsafe.Slice((*byte)(unsafe.Pointer(&val)), len(want)))
	return WithBytes(want)
}

// Path is a pointer path to a match, in the form accepted by
// accessor.ReadPointerChain: every offset but the last is dereferenced.
type Path []process.ProcessMemorySize

// FindPaths walks structures reachable from base, following every aligned
// word that points into a readable region, and returns the paths at which
// the configured value was found.
func FindPaths(acc *accessor.Accessor, id process.HandleID, base process.ProcessMemoryAddress, options ...Option) ([]Path, error) {
	s := &Searcher{
		MaxStructSize: 256,
		MaxDepth:      3,
		MinAlignment:  4,
	}
	for _, opt := range options {
		opt(s)
	}

	if s.SearchFor == nil {
		return nil, fmt.Errorf("%w: no search target specified", process.ErrInvalidArgument)
	}
	if s.MinAlignment == 0 || s.MaxStructSize == 0 {
		return nil, fmt.Errorf("%w: zero alignment or struct size", process.ErrInvalidArgument)
	}

	memMap, err := acc.Regions(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory map: %w", err)
	}
	width, err := acc.PointerWidth(id)
	if err != nil {
		return nil, err
	}

	var results []Path
	visited := make(map[process.ProcessMemoryAddress]bool)

	var walk func(addr process.ProcessMemoryAddress, depth int, path Path) error
	walk = func(addr process.ProcessMemoryAddress, depth int, path Path) error {
		if depth > s.MaxDepth || visited[addr] {
			return nil
		}
		visited[addr] = true

		data, err := acc.Read(id, addr, process.ProcessMemorySize(s.MaxStructSize))
		if err != nil {
			var pe *process.PartialTransferError
			switch {
			case errors.As(err, &pe):
				data = pe.Data
			case errors.Is(err, process.ErrProcessGone):
				return err
			default:
				return nil
			}
		}

		for offset := uint(0); offset+s.MinAlignment <= uint(len(data)); offset += s.MinAlignment {
			if s.SearchFor(data[offset:]) {
				results = append(results, appendPath(path, offset))
			}

			if offset%uint(width) != 0 || depth >= s.MaxDepth || offset+uint(width) > uint(len(data)) {
				continue
			}

			var ptr uint64
			if width == process.PointerWidth32 {
				ptr = uint64(binary.LittleEndian.Uint32(data[offset:]))
			} else {
				ptr = binary.LittleEndian.Uint64(data[offset:])
			}
			if ptr == 0 {
				continue
			}
			if region := memory_map.FindRegion(ptr, memMap); region == nil || !region.IsReadable() {
				continue
			}

			if err := walk(process.ProcessMemoryAddress(ptr), depth+1, appendPath(path, offset)); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(base, 0, Path{}); err != nil {
		return nil, err
	}
	return results, nil
}

func appendPath(path Path, offset uint) Path {
	out := make(Path, len(path), len(path)+1)
	copy(out, path)
	return append(out, process.ProcessMemorySize(offset))
}
