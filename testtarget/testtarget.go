//go:build linux

// Package testtarget spawns a helper process with known memory layout for
// tests. The helper is the test binary itself, re-executed with an
// environment switch; test packages call RunIfTarget from TestMain.
package testtarget

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"unsafe"

	"memlink/process"

	"golang.org/x/sys/unix"
)

const envSwitch = "MEMLINK_TEST_TARGET"

// Pattern fills the first bytes of the scratch buffer.
var Pattern = []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80}

// Target is a running helper process.
type Target struct {
	PID process.ProcessID

	// Scratch is a writable heap buffer of ScratchSize bytes starting with Pattern.
	Scratch     process.ProcessMemoryAddress
	ScratchSize process.ProcessMemorySize

	// ReadOnly is a mapped page with PROT_READ only.
	ReadOnly process.ProcessMemoryAddress

	// Split is a readable and writable page followed by a PROT_NONE page.
	Split    process.ProcessMemoryAddress
	PageSize process.ProcessMemorySize

	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  bool
}

// RunIfTarget turns the current process into the helper when the
// environment switch is set. It never returns in that case.
func RunIfTarget() {
	if os.Getenv(envSwitch) != "1" {
		return
	}
	os.Exit(serve())
}

func serve() int {
	page := os.Getpagesize()

	scratch := make([]byte, 4096)
	copy(scratch, Pattern)

	ro, err := unix.Mmap(-1, 0, page, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mmap:", err)
		return 1
	}
	ro[0] = 0xAA
	if err := unix.Mprotect(ro, unix.PROT_READ); err != nil {
		fmt.Fprintln(os.Stderr, "mprotect:", err)
		return 1
	}

	split, err := unix.Mmap(-1, 0, 2*page, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mmap:", err)
		return 1
	}
	for i := 0; i < page; i++ {
		split[i] = byte(i)
	}
	if err := unix.Mprotect(split[page:], unix.PROT_NONE); err != nil {
		fmt.Fprintln(os.Stderr, "mprotect:", err)
		return 1
	}

	fmt.Printf("%x %x %x %x %x\n", addrOf(scratch), len(scratch), addrOf(ro), addrOf(split), page)

	// block until the parent closes stdin
	io.Copy(io.Discard, os.Stdin)

	runtime.KeepAlive(scratch)
	runtime.KeepAlive(ro)
	runtime.KeepAlive(split)
	return 0
}

// Spawn starts a helper process and registers its shutdown with t.Cleanup.
func Spawn(t testing.TB) *Target {
	t.Helper()

	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(), envSwitch+"=1")
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start helper: %v", err)
	}

	target := &Target{
		PID:   process.ProcessID(cmd.Process.Pid),
		cmd:   cmd,
		stdin: stdin,
	}
	t.Cleanup(target.Stop)

	line, err := bufio.NewReader(stdout).ReadString('\n')
	if err != nil {
		t.Fatalf("read helper layout: %v", err)
	}

	var scratch, size, ro, split, page uint64
	if _, err := fmt.Sscanf(strings.TrimSpace(line), "%x %x %x %x %x", &scratch, &size, &ro, &split, &page); err != nil {
		t.Fatalf("parse helper layout %q: %v", line, err)
	}

	target.Scratch = process.ProcessMemoryAddress(scratch)
	target.ScratchSize = process.ProcessMemorySize(size)
	target.ReadOnly = process.ProcessMemoryAddress(ro)
	target.Split = process.ProcessMemoryAddress(split)
	target.PageSize = process.ProcessMemorySize(page)
	return target
}

// Stop ends the helper and reaps it. After Stop the PID no longer refers to
// a live process.
func (t *Target) Stop() {
	if t.done {
		return
	}
	t.done = true
	t.stdin.Close()
	t.cmd.Wait()
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
