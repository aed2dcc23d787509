// Command memlink inspects and edits the memory of a running process.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"memlink/attacher"
	"memlink/bridge"
	"memlink/process"
	"memlink/snapshot"

	"github.com/spf13/cobra"
)

var (
	pidFlag      int
	nameFlag     string
	configFlag   string
	snapshotFlag string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memlink",
	Short: "Read and write the memory of another process",
	Long: `memlink attaches to a process by PID or name and reads, writes, scans
and dumps its memory. With --snapshot it works on a dump written by
"memlink dump" instead of a live process.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.IntVarP(&pidFlag, "pid", "p", 0, "process ID to attach to")
	pf.StringVarP(&nameFlag, "name", "n", "", "process name to attach to (lowest PID wins)")
	pf.StringVar(&configFlag, "config", "", "config file (default $MEMLINK_CONFIG or ~/.memlink/config.yml)")
	pf.StringVar(&snapshotFlag, "snapshot", "", "work on a snapshot directory instead of a live process")

	rootCmd.AddCommand(infoCmd, mapsCmd, readCmd, writeCmd, chainCmd, dumpCmd, scanCmd, pathsCmd)
}

// session is an attached target.
type session struct {
	ctx *bridge.Context
	id  process.HandleID
	pid process.ProcessID
}

func (s *session) Close() {
	s.ctx.Teardown()
}

func resolvePID() (process.ProcessID, error) {
	switch {
	case pidFlag != 0 && nameFlag != "":
		return 0, fmt.Errorf("--pid and --name are mutually exclusive")
	case pidFlag != 0:
		return process.ProcessID(pidFlag), nil
	case nameFlag != "":
		found, err := attacher.FindByName(nameFlag)
		if err != nil {
			return 0, err
		}
		if len(found) == 0 {
			return 0, fmt.Errorf("%w: no process named %q", process.ErrProcessNotFound, nameFlag)
		}
		return found[0].PID, nil
	default:
		return 0, fmt.Errorf("one of --pid or --name is required")
	}
}

func attach() (*session, error) {
	opts := []bridge.Option{bridge.WithConfigPath(configFlag)}

	var pid process.ProcessID
	if snapshotFlag != "" {
		snap, err := snapshot.Load(snapshotFlag)
		if err != nil {
			return nil, err
		}
		pid = snap.Meta.PID
		opts = append(opts, bridge.WithPlatform(snapshot.NewPlatform(snap)))
	} else {
		var err error
		if pid, err = resolvePID(); err != nil {
			return nil, err
		}
	}

	ctx := bridge.Init(opts...)
	id, err := ctx.AttachTo(int(pid))
	if err != nil {
		ctx.Teardown()
		return nil, err
	}
	return &session{ctx: ctx, id: id, pid: pid}, nil
}

// parseAddress accepts decimal, 0x hex, and "base" or "base+OFF" relative to
// the main image.
func (s *session) parseAddress(arg string) (process.ProcessMemoryAddress, error) {
	if rest, ok := strings.CutPrefix(arg, "base"); ok {
		base, err := s.ctx.BaseAddress(s.id)
		if err != nil {
			return 0, err
		}
		if rest == "" {
			return process.ProcessMemoryAddress(base), nil
		}
		off, err := parseUint(strings.TrimPrefix(rest, "+"))
		if err != nil {
			return 0, err
		}
		width, err := s.ctx.Accessor().PointerWidth(s.id)
		if err != nil {
			return 0, err
		}
		return offsetFrom(base, off, width)
	}

	v, err := parseUint(arg)
	return process.ProcessMemoryAddress(v), err
}

// offsetFrom adds off to base, refusing results past the highest address of
// a target with the given pointer width.
func offsetFrom(base, off uint64, width int) (process.ProcessMemoryAddress, error) {
	limit := uint64(process.MaxAddress(width))
	if base > limit || off > limit-base {
		return 0, fmt.Errorf("%w: %#x + %#x is past the end of the address space", process.ErrInvalidArgument, base, off)
	}
	return process.ProcessMemoryAddress(base + off), nil
}

func parseUint(arg string) (uint64, error) {
	v, err := strconv.ParseUint(arg, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", process.ErrInvalidArgument, arg)
	}
	return v, nil
}

func parseOffsets(args []string) ([]process.ProcessMemorySize, error) {
	out := make([]process.ProcessMemorySize, 0, len(args))
	for _, arg := range args {
		v, err := parseUint(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, process.ProcessMemorySize(v))
	}
	return out, nil
}
