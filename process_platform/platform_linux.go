//go:build linux

package process_platform

import (
	"memlink/process"
	"memlink/process_linux"
)

func newPlatform(opts Options) (process.Platform, error) {
	return process_linux.New(opts.MapCacheSize)
}
