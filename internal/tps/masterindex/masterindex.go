// Package masterindex parses TIndex00.tps, the master segment catalogue
// of a TPS recordings directory.
package masterindex

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jmylchreest/tpsplay/internal/tps/tpsmodel"
)

// DefaultEntryOvershoot is the number of extra 64-byte records read past
// the header's reported entry_count, tolerating producers that
// under-report it (spec §9 open question; made configurable here).
const DefaultEntryOvershoot = 20

// MasterIndex is the immutable, load-once catalogue of segment
// descriptors. It never mutates after Load returns.
type MasterIndex struct {
	Path     string
	Segments []tpsmodel.Segment
}

// Options configures Load.
type Options struct {
	// EntryOvershoot is added to the header's entry_count before the scan
	// stops; defaults to DefaultEntryOvershoot when zero.
	EntryOvershoot int
}

// Load reads the 32-byte header and the segment array from path.
//
// Discarded records (channel in {0, 0xFE}, start_time before the sanity
// floor, or end_time <= start_time) still advance the sequential position
// counter: file_index is the record's position in the raw array, filtered
// or not, and must never be renumbered.
func Load(path string, opts Options) (*MasterIndex, error) {
	if opts.EntryOvershoot <= 0 {
		opts.EntryOvershoot = DefaultEntryOvershoot
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", tpsmodel.ErrPathUnreadable, path, err)
	}
	defer f.Close()

	header := make([]byte, 0x20)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", tpsmodel.ErrPathUnreadable, err)
	}

	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != tpsmodel.MasterIndexMagic {
		return nil, fmt.Errorf("%w: master index magic %#x", tpsmodel.ErrBadMagic, magic)
	}

	entryCount := int(binary.LittleEndian.Uint32(header[0x14:0x18]))

	if _, err := f.Seek(tpsmodel.MasterIndexEntryOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seeking to entry table: %v", tpsmodel.ErrReadError, err)
	}

	mi := &MasterIndex{Path: path}
	buf := make([]byte, tpsmodel.MasterIndexEntrySize)
	maxEntries := entryCount + opts.EntryOvershoot

	for pos := 0; pos < maxEntries; pos++ {
		n, err := io.ReadFull(f, buf)
		if n < tpsmodel.MasterIndexEntrySize {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("%w: reading entry %d: %v", tpsmodel.ErrReadError, pos, err)
		}

		seg, ok := parseEntry(pos, buf)
		if !ok {
			continue
		}
		mi.Segments = append(mi.Segments, seg)
	}

	return mi, nil
}

// parseEntry decodes one 64-byte segment entry. fileIndex is the
// sequential position of the record, counting discarded ones.
func parseEntry(fileIndex int, buf []byte) (tpsmodel.Segment, bool) {
	channel := int32(buf[4])
	frameCount := int(binary.LittleEndian.Uint16(buf[6:8]))
	startTime := int64(binary.LittleEndian.Uint32(buf[8:12]))
	endTime := int64(binary.LittleEndian.Uint32(buf[12:16]))

	if channel == 0 || channel == 0xFE {
		return tpsmodel.Segment{}, false
	}
	if startTime < tpsmodel.MinValidUnixTime {
		return tpsmodel.Segment{}, false
	}
	if endTime <= startTime {
		return tpsmodel.Segment{}, false
	}

	return tpsmodel.Segment{
		FileIndex:  fileIndex,
		Channel:    channel,
		StartTime:  startTime,
		EndTime:    endTime,
		FrameCount: frameCount,
	}, true
}

// FindByTime returns the segment covering (t, channel), or false if none
// does.
func (mi *MasterIndex) FindByTime(t int64, channel int32) (tpsmodel.Segment, bool) {
	for _, seg := range mi.Segments {
		if seg.Channel == channel && seg.StartTime <= t && t <= seg.EndTime {
			return seg, true
		}
	}
	return tpsmodel.Segment{}, false
}

// LogValue lets MasterIndex print cheaply through slog without manually
// expanding every segment, mirroring the observability package's redaction
// conventions for large structures.
func (mi *MasterIndex) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("path", mi.Path),
		slog.Int("segments", len(mi.Segments)),
	)
}
