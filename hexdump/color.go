package hexdump

import (
	"memlink/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

const (
	offsetColor = coloransi.Cyan
	hexColor    = coloransi.Green
	zeroColor   = coloransi.BrightBlack
)

// pointerColor colors a pointer by the region it points into: code red,
// writable data yellow, read-only data blue.
func pointerColor(region *memory_map.MemoryMapItem) coloransi.ColorCode {
	switch {
	case region == nil:
		return coloransi.BrightBlue
	case region.IsExecutable():
		return coloransi.Red
	case region.IsWritable():
		return coloransi.Yellow
	default:
		return coloransi.Blue
	}
}

func paint(options Options, color coloransi.ColorCode, s string) string {
	if !options.Color {
		return s
	}
	return coloransi.Foreground(color, s)
}
