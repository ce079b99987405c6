// Package frameindex parses the tail-index region of a TRec*.tps recording
// file and caches the result keyed by a content-sample fingerprint.
package frameindex

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jmylchreest/tpsplay/internal/tps/tpsmodel"
)

// ScanWindow is the maximum number of bytes read from the tail region
// while searching for the first valid magic.
const ScanWindow = 0x700000

// Parse reads the tail-index region of path and returns the filtered,
// ts_device-ascending frame list.
//
// A missing file, read error, or absent magic is not fatal: it yields an
// empty list, matching spec §4.2's "this is not a fatal error" failure
// model. Only genuine I/O setup failures that prevent even opening an
// existing, non-empty file are distinguishable from "no data here", and
// this function intentionally does not distinguish them — callers that
// care should stat the file themselves first.
func Parse(path string) ([]tpsmodel.FrameRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	if _, err := f.Seek(tpsmodel.PayloadRegionSize, io.SeekStart); err != nil {
		return nil, nil
	}

	window := make([]byte, ScanWindow)
	n, err := io.ReadFull(f, window)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, nil
	}
	window = window[:n]

	start := findMagic(window)
	if start < 0 {
		return nil, nil
	}

	records := make([]tpsmodel.FrameRecord, 0, 4096)
	for pos := start; pos+tpsmodel.FrameIndexRecordSize <= len(window); pos += tpsmodel.FrameIndexRecordSize {
		rec := window[pos : pos+tpsmodel.FrameIndexRecordSize]
		if binary.LittleEndian.Uint32(rec[0:4]) != tpsmodel.FrameIndexMagic {
			break
		}
		fr := decodeRecord(rec)
		if !tpsmodel.IsValidChannel(fr.Channel) || fr.UnixTS < tpsmodel.MinValidUnixTime {
			continue
		}
		records = append(records, fr)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].TSDevice < records[j].TSDevice })

	return records, nil
}

// findMagic linear-searches buf for the first occurrence of the
// little-endian frame-index magic.
func findMagic(buf []byte) int {
	if len(buf) < 4 {
		return -1
	}
	for i := 0; i+4 <= len(buf); i++ {
		if binary.LittleEndian.Uint32(buf[i:i+4]) == tpsmodel.FrameIndexMagic {
			return i
		}
	}
	return -1
}

func decodeRecord(rec []byte) tpsmodel.FrameRecord {
	return tpsmodel.FrameRecord{
		FrameType:  int32(binary.LittleEndian.Uint32(rec[4:8])),
		Channel:    int32(binary.LittleEndian.Uint32(rec[8:12])),
		FrameSeq:   int32(binary.LittleEndian.Uint32(rec[12:16])),
		FileOffset: int32(binary.LittleEndian.Uint32(rec[16:20])),
		FrameSize:  int32(binary.LittleEndian.Uint32(rec[20:24])),
		TSDevice:   int64(binary.LittleEndian.Uint64(rec[24:32])),
		UnixTS:     int64(binary.LittleEndian.Uint32(rec[32:36])),
	}
}

// AudioFrames returns the subset of records that are audio packets,
// sorted ascending by FileOffset, matching the CachedSegment.AudioFrames
// invariant.
func AudioFrames(records []tpsmodel.FrameRecord) []tpsmodel.FrameRecord {
	out := make([]tpsmodel.FrameRecord, 0, len(records))
	for _, r := range records {
		if r.IsAudio() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileOffset < out[j].FileOffset })
	return out
}

// Validate checks the universal invariants §3 places on a frame list,
// returning an error describing the first violation found. Intended for
// tests and defensive assertions in the prebuild path, not the hot path.
func Validate(records []tpsmodel.FrameRecord) error {
	for i := 1; i < len(records); i++ {
		if records[i].TSDevice < records[i-1].TSDevice {
			return fmt.Errorf("frame index not ascending by ts_device at %d", i)
		}
	}
	return nil
}
