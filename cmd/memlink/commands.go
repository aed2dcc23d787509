package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"memlink/attacher"
	"memlink/bridge"
	"memlink/hexdump"
	"memlink/process"
	"memlink/search"
	"memlink/snapshot"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the target process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := attach()
		if err != nil {
			return err
		}
		defer s.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		defer w.Flush()

		fmt.Fprintf(w, "pid\t%d\n", s.pid)
		if info, err := attacher.Info(s.pid); err == nil && snapshotFlag == "" {
			fmt.Fprintf(w, "name\t%s\n", info.Name)
			fmt.Fprintf(w, "ppid\t%d\n", info.PPID)
			fmt.Fprintf(w, "exe\t%s\n", info.Exe)
			fmt.Fprintf(w, "cmdline\t%s\n", strings.Join(info.Cmdline, " "))
			fmt.Fprintf(w, "started\t%s\n", info.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		if width, err := s.ctx.Accessor().PointerWidth(s.id); err == nil {
			fmt.Fprintf(w, "pointer width\t%d bits\n", width*8)
		}
		if base, err := s.ctx.BaseAddress(s.id); err == nil {
			fmt.Fprintf(w, "base\t%#x\n", base)
		}
		return nil
	},
}

var mapsCmd = &cobra.Command{
	Use:   "maps",
	Short: "List the memory regions of the target",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := attach()
		if err != nil {
			return err
		}
		defer s.Close()

		items, err := s.ctx.Regions(s.id)
		if err != nil {
			return err
		}
		for _, item := range items {
			fmt.Fprintln(cmd.OutOrStdout(), item.String())
		}
		return nil
	},
}

var rawFlag bool

var readCmd = &cobra.Command{
	Use:   "read ADDRESS LENGTH",
	Short: "Read and hexdump memory",
	Long: `Read LENGTH bytes at ADDRESS. ADDRESS is a number or "base+OFFSET".
A partially readable range prints the readable prefix and fails.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := attach()
		if err != nil {
			return err
		}
		defer s.Close()

		addr, err := s.parseAddress(args[0])
		if err != nil {
			return err
		}
		length, err := parseUint(args[1])
		if err != nil {
			return err
		}

		data, readErr := s.ctx.ReadBytes(s.id, uint64(addr), length)
		var f *bridge.Fault
		if errors.As(readErr, &f) && f.Status == bridge.StatusPartialTransfer {
			data = f.Partial
		} else if readErr != nil {
			return readErr
		}

		printBytes(cmd, s, addr, data)
		return readErr
	},
}

func printBytes(cmd *cobra.Command, s *session, addr process.ProcessMemoryAddress, data []byte) {
	if rawFlag {
		cmd.OutOrStdout().Write(data)
		return
	}

	opts := hexdump.DefaultOptions()
	opts.StartAddress = uint64(addr)
	opts.Color = isTerminal(cmd)
	if width, err := s.ctx.Accessor().PointerWidth(s.id); err == nil {
		opts.PointerWidth = width
	}
	if items, err := s.ctx.Regions(s.id); err == nil {
		opts.MemoryMap = items
	}
	hexdump.Dump(cmd.OutOrStdout(), data, opts)
}

func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	st, err := f.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice != 0
}

var writeCmd = &cobra.Command{
	Use:   "write ADDRESS HEX",
	Short: "Write hex bytes to memory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := hex.DecodeString(strings.ReplaceAll(args[1], " ", ""))
		if err != nil {
			return fmt.Errorf("%w: %v", process.ErrInvalidArgument, err)
		}

		s, err := attach()
		if err != nil {
			return err
		}
		defer s.Close()

		addr, err := s.parseAddress(args[0])
		if err != nil {
			return err
		}

		n, err := s.ctx.WriteBytes(s.id, uint64(addr), data)
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d of %d bytes at %s\n", n, len(data), addr.ToString())
		return err
	},
}

var chainCmd = &cobra.Command{
	Use:   "chain BASE LENGTH OFFSET...",
	Short: "Follow a pointer chain and read at its end",
	Long: `Every OFFSET but the last is added and dereferenced with the target's
pointer width; the last is added to the final pointer and LENGTH bytes are
read there.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := attach()
		if err != nil {
			return err
		}
		defer s.Close()

		base, err := s.parseAddress(args[0])
		if err != nil {
			return err
		}
		length, err := parseUint(args[1])
		if err != nil {
			return err
		}
		offsets, err := parseOffsets(args[2:])
		if err != nil {
			return err
		}

		acc := s.ctx.Accessor()
		addr, err := acc.ResolvePointerChain(s.id, base, offsets...)
		if err != nil {
			return err
		}
		data, err := acc.Read(s.id, addr, process.ProcessMemorySize(length))
		if err != nil {
			return err
		}

		printBytes(cmd, s, addr, data)
		return nil
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump DIRECTORY",
	Short: "Save the readable memory of the target as a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := attach()
		if err != nil {
			return err
		}
		defer s.Close()

		snap, stats, err := snapshot.Capture(s.ctx.Accessor(), s.id, s.pid, snapshot.Options{
			MaxRegion: s.ctx.Config().SnapshotMaxRegion,
		})
		if err != nil {
			return err
		}
		if err := snap.Save(args[0]); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "saved %d regions (%d partial), skipped %d unreadable and %d too large, %d failed\n",
			stats.Saved+stats.Partial, stats.Partial, stats.SkippedUnread, stats.SkippedTooLarge, stats.Failed)
		return nil
	},
}

var maxdopFlag int

var scanCmd = &cobra.Command{
	Use:   "scan PATTERN",
	Short: `Scan memory for a byte pattern such as "48 8b ?? 05"`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		aob, err := search.ParseAOB(args[0])
		if err != nil {
			return err
		}

		s, err := attach()
		if err != nil {
			return err
		}
		defer s.Close()

		found, err := search.Scan(s.ctx.Accessor(), s.id, aob, maxdopFlag)
		if err != nil {
			return err
		}
		for _, addr := range found {
			fmt.Fprintln(cmd.OutOrStdout(), addr.ToString())
		}
		return nil
	},
}

var (
	valueSizeFlag int
	depthFlag     int
	structFlag    uint
)

var pathsCmd = &cobra.Command{
	Use:   "paths BASE VALUE",
	Short: "Find pointer paths from BASE to an integer VALUE",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := parseUint(args[1])
		if err != nil {
			return err
		}

		var target search.Option
		switch valueSizeFlag {
		case 4:
			target = search.WithValue(uint32(value))
		case 8:
			target = search.WithValue(value)
		default:
			return fmt.Errorf("%w: --size must be 4 or 8", process.ErrInvalidArgument)
		}

		s, err := attach()
		if err != nil {
			return err
		}
		defer s.Close()

		base, err := s.parseAddress(args[0])
		if err != nil {
			return err
		}

		paths, err := search.FindPaths(s.ctx.Accessor(), s.id, base, target,
			search.WithMaxDepth(depthFlag), search.WithMaxStructSize(structFlag))
		if err != nil {
			return err
		}
		for _, path := range paths {
			parts := make([]string, len(path))
			for i, off := range path {
				parts[i] = fmt.Sprintf("%#x", uint64(off))
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(parts, " "))
		}
		return nil
	},
}

func init() {
	readCmd.Flags().BoolVar(&rawFlag, "raw", false, "write raw bytes instead of a hexdump")
	chainCmd.Flags().BoolVar(&rawFlag, "raw", false, "write raw bytes instead of a hexdump")
	scanCmd.Flags().IntVar(&maxdopFlag, "maxdop", 4, "regions read in parallel")
	pathsCmd.Flags().IntVar(&valueSizeFlag, "size", 4, "value size in bytes (4 or 8)")
	pathsCmd.Flags().IntVar(&depthFlag, "depth", 3, "maximum pointer depth")
	pathsCmd.Flags().UintVar(&structFlag, "struct-size", 256, "bytes searched per structure")
}
