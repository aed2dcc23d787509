// Package attacher resolves process IDs to live handles stored in a handle table.
package attacher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"memlink/handle_table"
	"memlink/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	ps "github.com/shirou/gopsutil/v3/process"
)

// Attacher opens processes through a Platform and stores the handles in a table.
type Attacher struct {
	platform process.Platform
	table    *handle_table.HandleTable
	log      *logger.Logger

	// mu serializes attaches so a pid never gets two OS handles
	mu sync.Mutex
}

func New(platform process.Platform, table *handle_table.HandleTable) *Attacher {
	return &Attacher{
		platform: platform,
		table:    table,
		log:      logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "attacher")),
	}
}

// Attach returns the handle for pid, opening it if needed. Attaching an
// already attached, still running pid returns the existing id. A stored
// handle whose target has exited is released and replaced.
func (a *Attacher) Attach(pid process.ProcessID) (process.HandleID, *process.ProcessHandle, error) {
	if pid < 0 {
		return 0, nil, fmt.Errorf("%w: negative pid %d", process.ErrInvalidArgument, pid)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.table.Lookup(pid); ok {
		var existing *process.ProcessHandle
		err := a.table.Borrow(id, func(h *process.ProcessHandle) error {
			existing = h
			return a.platform.Alive(h)
		})

		switch {
		case err == nil:
			return id, existing, nil
		case errors.Is(err, process.ErrProcessGone):
			a.log.Infoln("Replacing stale", id, "for pid", pid)
			if rerr := a.table.Release(id); rerr != nil {
				a.log.Warn("Failed to release stale handle: ", rerr)
			}
		case errors.Is(err, process.ErrHandleNotFound):
			// detached concurrently
		default:
			return 0, nil, err
		}
	}

	h, err := a.platform.Open(pid)
	if err != nil {
		return 0, nil, err
	}

	id := a.table.Store(h)
	a.log.Infoln("Attached", id, "to pid", pid, h.Name)
	return id, h, nil
}

// Alive returns nil while the target of h is running and ErrProcessGone after it exits.
func (a *Attacher) Alive(h *process.ProcessHandle) error {
	return a.platform.Alive(h)
}

// Info describes a running process.
func Info(pid process.ProcessID) (process.ProcessInfo, error) {
	proc, err := ps.NewProcess(int32(pid))
	if err != nil {
		return process.ProcessInfo{}, fmt.Errorf("%w: pid %d", process.ErrProcessNotFound, pid)
	}
	return describe(proc), nil
}

func describe(proc *ps.Process) process.ProcessInfo {
	info := process.ProcessInfo{PID: process.ProcessID(proc.Pid)}

	// every field is best effort; exiting or foreign processes refuse some
	if ppid, err := proc.Ppid(); err == nil {
		info.PPID = process.ProcessID(ppid)
	}
	if name, err := proc.Name(); err == nil {
		info.Name = name
	}
	if exe, err := proc.Exe(); err == nil {
		info.Exe = exe
	}
	if cmdline, err := proc.CmdlineSlice(); err == nil {
		info.Cmdline = cmdline
	}
	if ms, err := proc.CreateTime(); err == nil {
		info.CreatedAt = time.UnixMilli(ms)
	}
	return info
}

// FindByName returns processes whose name or executable basename equals
// name, lowest PID first. The calling process is skipped.
func FindByName(name string) ([]process.ProcessInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty process name", process.ErrInvalidArgument)
	}

	procs, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	self := int32(os.Getpid())
	var out []process.ProcessInfo
	for _, proc := range procs {
		if proc.Pid == self {
			continue
		}

		info := describe(proc)
		if info.Name == name || (info.Exe != "" && filepath.Base(info.Exe) == name) {
			out = append(out, info)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}
