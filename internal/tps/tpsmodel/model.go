// Package tpsmodel holds the value types and error kinds shared across the
// TPS container engine: segment descriptors, frame-index records, the
// tagged video/audio frame variant, and the closed error set of §7.
package tpsmodel

import "time"

// MinValidUnixTime is the 2020-01-01 sanity floor applied to every
// timestamp read out of a TPS container. Records below it are discarded.
const MinValidUnixTime = 1577836800

// PayloadRegionSize is the byte length of the payload region at the front
// of every recording file.
const PayloadRegionSize = 0x0F900000

// RecordingFileSize is the fixed size of a complete TRec*.tps file.
const RecordingFileSize = 0x10000000

// FrameIndexRecordSize is the on-disk size of one tail-index record.
const FrameIndexRecordSize = 44

// FrameIndexMagic is the little-endian magic at the start of every
// tail-index record.
const FrameIndexMagic uint32 = 0x4C3D2E1F

// MasterIndexMagic is the little-endian magic at offset 0 of TIndex00.tps.
const MasterIndexMagic uint32 = 0x1F2E3D4C

// MasterIndexEntryOffset is the byte offset of the first segment entry in
// the master index file.
const MasterIndexEntryOffset = 0x4FC

// MasterIndexEntrySize is the size of one segment entry in the master
// index file.
const MasterIndexEntrySize = 64

// Channel values recognized by the frame index filter. 258 is accepted as
// a second video channel alongside 2, per spec §9's open-question
// resolution: both are kept distinct (not collapsed) so callers that care
// can still tell them apart.
const (
	ChannelVideo1 = 2
	ChannelAudio  = 3
	ChannelVideo2 = 258
)

// IsValidChannel reports whether c is one of the channels the frame index
// keeps.
func IsValidChannel(c int32) bool {
	return c == ChannelVideo1 || c == ChannelAudio || c == ChannelVideo2
}

// IsVideoChannel reports whether c identifies a video (as opposed to
// audio) channel.
func IsVideoChannel(c int32) bool {
	return c == ChannelVideo1 || c == ChannelVideo2
}

// Segment is one recording file's descriptor, read from the master index.
type Segment struct {
	FileIndex  int
	Channel    int32
	StartTime  int64 // unix seconds
	EndTime    int64 // unix seconds
	FrameCount int
}

// Duration returns the wall-clock span covered by the segment.
func (s Segment) Duration() time.Duration {
	return time.Duration(s.EndTime-s.StartTime) * time.Second
}

// FrameRecord is one parsed 44-byte tail-index entry, after filtering.
type FrameRecord struct {
	FrameType  int32
	Channel    int32
	FrameSeq   int32
	FileOffset int32
	FrameSize  int32
	TSDevice   int64 // device monotonic clock, microseconds
	UnixTS     int64 // wall-clock seconds
}

// IsIFrame reports whether the record describes a video I-frame.
func (r FrameRecord) IsIFrame() bool {
	return r.FrameType == 1
}

// IsAudio reports whether the record describes an audio packet.
func (r FrameRecord) IsAudio() bool {
	return r.Channel == ChannelAudio
}

// FrameKind discriminates the tagged Frame variant emitted by the stream
// engine.
type FrameKind int

const (
	// FrameKindVideo marks a VideoFrame.
	FrameKindVideo FrameKind = iota
	// FrameKindAudio marks an AudioFrame.
	FrameKindAudio
)

// NalKind is the §6 wire "kind" byte: the demuxer's NAL type collapsed to
// the five values the wire format distinguishes.
type NalKind uint8

const (
	NalKindInter NalKind = 0
	NalKindIDR   NalKind = 1
	NalKindVPS   NalKind = 2
	NalKindSPS   NalKind = 3
	NalKindPPS   NalKind = 4
)

// Frame is the tagged variant replacing the source's duck-typed record:
// exactly one of VideoFrame or AudioFrame implements it, discriminated by
// Kind(), never by field overlap.
type Frame interface {
	Kind() FrameKind
	TimestampMS() int64
}

// VideoFrame is one emitted H.265 NAL unit, stripped of its Annex-B start
// code.
type VideoFrame struct {
	Payload  []byte
	NalKind  NalKind
	TSMillis int64
	IsHeader bool // true for VPS/SPS/PPS/IDR header NALs
}

func (VideoFrame) Kind() FrameKind      { return FrameKindVideo }
func (f VideoFrame) TimestampMS() int64 { return f.TSMillis }

// AudioFrame is one emitted G.711 µ-law packet.
type AudioFrame struct {
	Payload  []byte
	TSMillis int64
}

func (AudioFrame) Kind() FrameKind      { return FrameKindAudio }
func (f AudioFrame) TimestampMS() int64 { return f.TSMillis }

// CachedSegment is the immutable, cacheable unit built from one recording
// file: its descriptor, the filtered/sorted frame index, scanned VPS
// anchors, and the offset-sorted audio-only subset of the frame index.
//
// Once constructed, a CachedSegment is never mutated; StreamEngine
// instances hold a shared *CachedSegment without any back-reference to the
// storage façade that built it (breaking the source's storage<->engine
// cycle, per §9).
type CachedSegment struct {
	Segment     Segment
	Path        string
	Frames      []FrameRecord // ascending by TSDevice
	VPSAnchors  []VPSAnchor   // ascending by Offset
	AudioFrames []FrameRecord // ascending by FileOffset, Channel == ChannelAudio
}

// VPSAnchor pins a byte offset inside the payload region to an
// interpolated wall-clock time.
type VPSAnchor struct {
	Offset int64
	Time   int64 // unix seconds
}
