//go:build !linux && !windows

package process_platform

import (
	"memlink/process"
)

func newPlatform(opts Options) (process.Platform, error) {
	return Unsupported{OS: runtimeOS()}, nil
}
