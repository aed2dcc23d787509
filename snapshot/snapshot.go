// Package snapshot captures the readable memory of an attached process and
// stores it as zstd-compressed region files next to a JSON metadata file.
// A loaded snapshot can be served back through Platform for offline reads.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"memlink/accessor"
	"memlink/attacher"
	"memlink/process"
	"memlink/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/klauspost/compress/zstd"
)

const metadataFile = "metadata.json"

var (
	// encoder and decoder for zstd are reusable and thread-safe
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)

	log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "snapshot"))
)

// RegionInfo describes one captured region.
type RegionInfo struct {
	Address uint64 `json:"address"`
	Size    uint64 `json:"size"`
	Perms   string `json:"perms"`
	Path    string `json:"path,omitempty"`

	// Captured is the number of bytes stored. It is less than Size when only
	// a prefix of the region was readable.
	Captured uint64 `json:"captured"`
	File     string `json:"file"`
}

// Metadata is the content of metadata.json.
type Metadata struct {
	PID          process.ProcessID `json:"pid"`
	Name         string            `json:"name"`
	PointerWidth int               `json:"pointer_width"`
	Base         uint64            `json:"base"`
	CreatedAt    time.Time         `json:"created_at"`
	Regions      []RegionInfo      `json:"regions"`
}

// Region is a captured region and its bytes.
type Region struct {
	Info RegionInfo
	Data []byte
}

// Snapshot is the memory of a process at one point in time.
type Snapshot struct {
	Meta    Metadata
	Regions []Region
}

// Stats counts what Capture did with the regions of the target.
type Stats struct {
	Saved           int
	Partial         int
	SkippedUnread   int
	SkippedTooLarge int
	Failed          int
}

// Options tunes Capture.
type Options struct {
	// MaxRegion skips regions larger than this. Zero disables the limit.
	MaxRegion uint64
}

func fileName(addr, end uint64) string {
	return fmt.Sprintf("%016x-%016x.bin.zst", addr, end)
}

// Capture reads every readable region of the target of id. Regions that
// cannot be read at all are skipped; partially readable regions keep the
// bytes obtained. Regions larger than one transfer are read in pieces. A
// target that exits during the capture fails it.
func Capture(acc *accessor.Accessor, id process.HandleID, pid process.ProcessID, opts Options) (*Snapshot, Stats, error) {
	var stats Stats

	items, err := acc.Regions(id)
	if err != nil {
		return nil, stats, fmt.Errorf("memory map: %w", err)
	}
	width, err := acc.PointerWidth(id)
	if err != nil {
		return nil, stats, err
	}

	snap := &Snapshot{Meta: Metadata{
		PID:          pid,
		PointerWidth: width,
		CreatedAt:    time.Now().UTC(),
	}}
	if info, err := attacher.Info(pid); err == nil {
		snap.Meta.Name = info.Name
	}
	if base, err := acc.BaseAddress(id); err == nil {
		snap.Meta.Base = uint64(base)
	}

	for _, item := range items {
		if !item.IsReadable() || item.Size == 0 {
			stats.SkippedUnread++
			continue
		}
		if opts.MaxRegion > 0 && item.Size > opts.MaxRegion {
			log.Debugln("Skipping large region", item.String())
			stats.SkippedTooLarge++
			continue
		}

		data := make([]byte, 0, min(item.Size, uint64(acc.MaxTransferSize())))
		err := acc.ReadChunks(id, process.ProcessMemoryAddress(item.Address), process.ProcessMemorySize(item.Size), 0,
			func(_ process.ProcessMemoryAddress, chunk []byte) error {
				data = append(data, chunk...)
				return nil
			})

		switch {
		case err == nil:
			stats.Saved++
		case errors.Is(err, process.ErrProcessGone):
			return nil, stats, err
		case len(data) > 0 || errors.Is(err, process.ErrPartialTransfer):
			stats.Partial++
		default:
			log.Debugln("Failed to read region", item.String(), err)
			stats.Failed++
			continue
		}

		snap.Regions = append(snap.Regions, Region{
			Info: RegionInfo{
				Address:  item.Address,
				Size:     item.Size,
				Perms:    item.Perms,
				Path:     item.Path,
				Captured: uint64(len(data)),
				File:     fileName(item.Address, item.End()),
			},
			Data: data,
		})
	}

	log.Infoln("Captured", len(snap.Regions), "regions of pid", pid, "failed:", stats.Failed)
	return snap, stats, nil
}

// Save writes meta and regions to dir. The region list of meta is replaced
// by the infos of regions.
func Save(dir string, meta Metadata, regions []Region) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	meta.Regions = make([]RegionInfo, 0, len(regions))
	for _, r := range regions {
		info := r.Info
		info.Captured = uint64(len(r.Data))
		if info.File == "" {
			info.File = fileName(info.Address, info.Address+info.Size)
		}

		compressed := zstdEncoder.EncodeAll(r.Data, make([]byte, 0, len(r.Data)/2))
		if err := os.WriteFile(filepath.Join(dir, info.File), compressed, 0o644); err != nil {
			return fmt.Errorf("failed to write region %s: %w", info.File, err)
		}
		meta.Regions = append(meta.Regions, info)
	}

	metadataJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), metadataJSON, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	log.Infoln("Saved", len(regions), "regions to", dir)
	return nil
}

// Save writes s to dir.
func (s *Snapshot) Save(dir string) error {
	return Save(dir, s.Meta, s.Regions)
}

// Load reads a snapshot written by Save.
func Load(dir string) (*Snapshot, error) {
	metadataBytes, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	snap := &Snapshot{}
	if err := json.Unmarshal(metadataBytes, &snap.Meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	for _, info := range snap.Meta.Regions {
		if filepath.Base(info.File) != info.File {
			return nil, fmt.Errorf("region file %q escapes the snapshot directory", info.File)
		}

		compressed, err := os.ReadFile(filepath.Join(dir, info.File))
		if err != nil {
			return nil, fmt.Errorf("failed to read region %s: %w", info.File, err)
		}
		data, err := zstdDecoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress region %s: %w", info.File, err)
		}
		if uint64(len(data)) != info.Captured {
			return nil, fmt.Errorf("region %s holds %d bytes, metadata says %d", info.File, len(data), info.Captured)
		}

		snap.Regions = append(snap.Regions, Region{Info: info, Data: data})
	}

	sortRegions(snap.Regions)
	return snap, nil
}

// MemoryMap returns the regions of s as memory map items.
func (s *Snapshot) MemoryMap() []memory_map.MemoryMapItem {
	items := make([]memory_map.MemoryMapItem, 0, len(s.Regions))
	for _, r := range s.Regions {
		items = append(items, memory_map.MemoryMapItem{
			Address: r.Info.Address,
			Size:    r.Info.Size,
			Perms:   r.Info.Perms,
			Path:    r.Info.Path,
		})
	}
	return items
}
