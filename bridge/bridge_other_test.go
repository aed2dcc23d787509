//go:build !linux

package bridge

func runTarget() {}
