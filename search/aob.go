package search

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"memlink/accessor"
	"memlink/process"
)

// AOB (Array of Bytes) is a pattern to search for in memory.
type AOB struct {
	Pattern []byte // The byte pattern to search for
	Mask    []byte // 0xFF means exact match and 0x00 means wildcard
}

func NewAOB(pattern, mask []byte) (AOB, error) {
	if len(pattern) == 0 {
		return AOB{}, fmt.Errorf("%w: empty pattern", process.ErrInvalidArgument)
	}
	if mask == nil {
		mask = bytes.Repeat([]byte{0xFF}, len(pattern))
	}
	if len(pattern) != len(mask) {
		return AOB{}, fmt.Errorf("%w: mask length (%d) doesn't match pattern length (%d)", process.ErrInvalidArgument, len(mask), len(pattern))
	}
	return AOB{Pattern: pattern, Mask: mask}, nil
}

// ParseAOB parses hex bytes separated by spaces or commas, with ?? as a
// wildcard, e.g. "48 8b ?? 05".
func ParseAOB(s string) (AOB, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})

	var pattern, mask []byte
	for _, part := range parts {
		if part == "??" || part == "?" {
			pattern = append(pattern, 0)
			mask = append(mask, 0)
			continue
		}

		val, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return AOB{}, fmt.Errorf("%w: invalid hex byte %q", process.ErrInvalidArgument, part)
		}
		pattern = append(pattern, byte(val))
		mask = append(mask, 0xFF)
	}

	return NewAOB(pattern, mask)
}

func (aob AOB) String() string {
	var sb strings.Builder
	for i, b := range aob.Pattern {
		if i > 0 {
			sb.WriteString(" ")
		}
		if aob.Mask[i] == 0 {
			sb.WriteString("??")
		} else {
			sb.WriteString(hex.EncodeToString([]byte{b}))
		}
	}
	return sb.String()
}

// Match returns the offsets in data where the pattern matches.
func (aob AOB) Match(data []byte) []int {
	if len(data) < len(aob.Pattern) {
		return nil
	}

	var matches []int
	for i := 0; i <= len(data)-len(aob.Pattern); i++ {
		matched := true
		for j := range aob.Pattern {
			if data[i+j]&aob.Mask[j] != aob.Pattern[j]&aob.Mask[j] {
				matched = false
				break
			}
		}
		if matched {
			matches = append(matches, i)
		}
	}
	return matches
}

// Scan searches every readable region of the target of id for aob, reading
// up to maxdop regions at once, and returns the matching addresses in order.
// Regions that cannot be read are skipped, and partially readable ones are
// searched as far as they could be read. Regions larger than one transfer are
// read in overlapping pieces; a match that straddles two regions is not found.
func Scan(acc *accessor.Accessor, id process.HandleID, aob AOB, maxdop int) ([]process.ProcessMemoryAddress, error) {
	if len(aob.Pattern) == 0 || len(aob.Pattern) != len(aob.Mask) {
		return nil, fmt.Errorf("%w: malformed pattern", process.ErrInvalidArgument)
	}
	if process.ProcessMemorySize(len(aob.Pattern)) > acc.MaxTransferSize() {
		return nil, fmt.Errorf("%w: pattern longer than one transfer", process.ErrInvalidArgument)
	}

	memMap, err := acc.Regions(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory map: %w", err)
	}

	if maxdop < 1 {
		maxdop = 1
	}
	if n := runtime.NumCPU(); maxdop > n {
		maxdop = n
	}

	sem := make(chan struct{}, maxdop)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var results []process.ProcessMemoryAddress
	var gone error

	for _, region := range memMap {
		if !region.IsReadable() || region.Size < uint64(len(aob.Pattern)) {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(addr, size uint64) {
			defer func() {
				<-sem
				wg.Done()
			}()

			overlap := process.ProcessMemorySize(len(aob.Pattern) - 1)
			err := acc.ReadChunks(id, process.ProcessMemoryAddress(addr), process.ProcessMemorySize(size), overlap,
				func(at process.ProcessMemoryAddress, data []byte) error {
					matches := aob.Match(data)
					if len(matches) == 0 {
						return nil
					}

					mu.Lock()
					for _, offset := range matches {
						results = append(results, at+process.ProcessMemoryAddress(offset))
					}
					mu.Unlock()
					return nil
				})

			switch {
			case err == nil, errors.Is(err, process.ErrPartialTransfer):
			case errors.Is(err, process.ErrProcessGone):
				mu.Lock()
				gone = err
				mu.Unlock()
			default:
				log.Debugln("Failed to read memory region at", fmt.Sprintf("%x", addr), err)
			}
		}(region.Address, region.Size)
	}

	wg.Wait()

	if gone != nil {
		return nil, gone
	}

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	log.Infoln("Scan for", aob.String(), "found", len(results), "matches")
	return results, nil
}
