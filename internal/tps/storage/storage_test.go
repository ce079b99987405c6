package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tpsplay/internal/tps/tpsmodel"
)

func writeMasterIndexEntry(buf []byte, channel byte, frameCount uint16, start, end uint32) []byte {
	e := make([]byte, tpsmodel.MasterIndexEntrySize)
	e[4] = channel
	binary.LittleEndian.PutUint16(e[6:8], frameCount)
	binary.LittleEndian.PutUint32(e[8:12], start)
	binary.LittleEndian.PutUint32(e[12:16], end)
	return append(buf, e...)
}

func writeMasterIndex(t *testing.T, dir string, entries []byte, entryCount uint32) {
	t.Helper()
	header := make([]byte, tpsmodel.MasterIndexEntryOffset)
	binary.LittleEndian.PutUint32(header[0:4], tpsmodel.MasterIndexMagic)
	binary.LittleEndian.PutUint32(header[0x14:0x18], entryCount)
	data := append(header, entries...)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "TIndex00.tps"), data, 0o644))
}

func encodeFrameRecord(frameType, channel, frameSeq, fileOffset, frameSize int32, tsDevice int64, unixTS int32) []byte {
	buf := make([]byte, tpsmodel.FrameIndexRecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], tpsmodel.FrameIndexMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(frameType))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(channel))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(frameSeq))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(fileOffset))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(frameSize))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(tsDevice))
	binary.LittleEndian.PutUint32(buf[32:36], uint32(unixTS))
	return buf
}

func writeRecordingFile(t *testing.T, dir string, fileIndex int, tailRecords [][]byte) {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("TRec%06d.tps", fileIndex))
	data := make([]byte, tpsmodel.PayloadRegionSize)
	for _, r := range tailRecords {
		data = append(data, r...)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	recDir := t.TempDir()
	cacheDir := t.TempDir()

	var entries []byte
	entries = writeMasterIndexEntry(entries, byte(tpsmodel.ChannelVideo1), 1, 1700000000, 1700000010)
	writeMasterIndex(t, recDir, entries, 1)

	writeRecordingFile(t, recDir, 0, [][]byte{
		encodeFrameRecord(1, tpsmodel.ChannelVideo1, 1, 0, 1000, 2000, 1700000000),
		encodeFrameRecord(3, tpsmodel.ChannelAudio, 2, 200000, 160, 1000, 1700000003),
	})

	s, err := Load(Options{RecordingsDir: recDir, CacheDir: cacheDir})
	require.NoError(t, err)
	return s
}

func TestLoad_ReadsMasterIndex(t *testing.T) {
	s := newTestStorage(t)
	require.Len(t, s.MasterIndex().Segments, 1)
	require.Equal(t, 0, s.MasterIndex().Segments[0].FileIndex)
}

func TestGet_BuildsAndCachesSegment(t *testing.T) {
	s := newTestStorage(t)

	cs, err := s.Get(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, cs.Frames, 2)
	require.Len(t, cs.AudioFrames, 1)

	// A second Get for the same file_index must return the identical
	// cached pointer rather than rebuilding.
	cs2, err := s.Get(context.Background(), 0)
	require.NoError(t, err)
	require.Same(t, cs, cs2)
}

func TestGet_UnknownFileIndexIsSegmentNotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.Get(context.Background(), 99)
	require.ErrorIs(t, err, tpsmodel.ErrSegmentNotFound)
}

func TestFindSegmentByTime(t *testing.T) {
	s := newTestStorage(t)
	cs, err := s.FindSegmentByTime(context.Background(), 1700000005, tpsmodel.ChannelVideo1)
	require.NoError(t, err)
	require.Equal(t, 0, cs.Segment.FileIndex)

	_, err = s.FindSegmentByTime(context.Background(), 1600000000, tpsmodel.ChannelVideo1)
	require.ErrorIs(t, err, tpsmodel.ErrSegmentNotFound)
}

func TestPrebuild_BuildsEverySegment(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Prebuild(context.Background(), 2))

	p := s.Progress()
	require.Equal(t, BuildStateReady, p.State)
	require.Equal(t, 1, p.Built)
	require.Equal(t, 1, p.Total)
}
