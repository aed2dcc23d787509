// Package hexdump renders remote memory for terminals, annotating words that
// point into mapped memory.
package hexdump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"memlink/process"
	"memlink/process/memory_map"
)

// Options defines options for customizing the hexdump output
type Options struct {
	// BytesPerLine defines the number of bytes to display per line
	BytesPerLine int

	// StartAddress is the address of the first byte
	StartAddress uint64

	// Color enables ANSI colors
	Color bool

	// MaxLines is the maximum number of lines to show (0 for no limit)
	MaxLines int

	// PointerWidth and MemoryMap enable pointer annotation: aligned words
	// that point into a mapped region are listed after the ASCII column.
	PointerWidth int
	MemoryMap    []memory_map.MemoryMapItem
}

// DefaultOptions returns the default hexdump options
func DefaultOptions() Options {
	return Options{BytesPerLine: 16}
}

// String returns the dump of data.
func String(data []byte, options Options) string {
	var buffer bytes.Buffer
	Dump(&buffer, data, options)
	return buffer.String()
}

// Dump writes a hex dump of data to w.
//
//	0000000000401000  00 01 02 03 04 05 06 07  08 09 0a 0b 0c 0d 0e 0f  |................|  0x402000
func Dump(w io.Writer, data []byte, options Options) {
	if options.BytesPerLine <= 0 {
		options.BytesPerLine = 16
	}

	lines := 0
	for offset := 0; offset < len(data); offset += options.BytesPerLine {
		if options.MaxLines > 0 && lines >= options.MaxLines {
			fmt.Fprintf(w, "... %d more bytes\n", len(data)-offset)
			return
		}

		end := offset + options.BytesPerLine
		if end > len(data) {
			end = len(data)
		}
		formatLine(w, data[offset:end], options.StartAddress+uint64(offset), options)
		lines++
	}
}

func formatLine(w io.Writer, line []byte, addr uint64, options Options) {
	var sb strings.Builder

	sb.WriteString(paint(options, offsetColor, fmt.Sprintf("%016x", addr)))
	sb.WriteString("  ")

	half := options.BytesPerLine / 2
	for i := 0; i < options.BytesPerLine; i++ {
		if i > 0 {
			sb.WriteString(" ")
			if i == half {
				sb.WriteString(" ")
			}
		}
		if i >= len(line) {
			sb.WriteString("  ")
			continue
		}

		color := hexColor
		if line[i] == 0 {
			color = zeroColor
		}
		sb.WriteString(paint(options, color, fmt.Sprintf("%02x", line[i])))
	}

	sb.WriteString("  |")
	for _, b := range line {
		if b >= 0x20 && b < 0x7f {
			sb.WriteByte(b)
		} else {
			sb.WriteByte('.')
		}
	}
	sb.WriteString("|")

	for _, ptr := range pointers(line, addr, options) {
		region := memory_map.FindRegion(ptr, options.MemoryMap)
		sb.WriteString("  ")
		sb.WriteString(paint(options, pointerColor(region), fmt.Sprintf("%#x", ptr)))
	}

	fmt.Fprintln(w, sb.String())
}

// pointers returns the aligned words of line that point into a mapped region.
func pointers(line []byte, addr uint64, options Options) []uint64 {
	width := options.PointerWidth
	if len(options.MemoryMap) == 0 || (width != process.PointerWidth32 && width != process.PointerWidth64) {
		return nil
	}

	var out []uint64
	for i := 0; i+width <= len(line); i++ {
		if (addr+uint64(i))%uint64(width) != 0 {
			continue
		}

		var ptr uint64
		if width == process.PointerWidth32 {
			ptr = uint64(binary.LittleEndian.Uint32(line[i:]))
		} else {
			ptr = binary.LittleEndian.Uint64(line[i:])
		}
		if ptr != 0 && memory_map.FindRegion(ptr, options.MemoryMap) != nil {
			out = append(out, ptr)
		}
	}
	return out
}
