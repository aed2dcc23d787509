//go:build windows

package process_platform

import (
	"memlink/process"
	"memlink/process_windows"
)

func newPlatform(opts Options) (process.Platform, error) {
	return process_windows.New(), nil
}
