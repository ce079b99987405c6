// Package nal implements the Annex-B NAL unit scanner described in §4.3:
// start-code search with 4-byte-prefix precedence, NAL type
// classification, and video-header (VPS/SPS/PPS/IDR) extraction.
package nal

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/jmylchreest/tpsplay/internal/tps/tpsmodel"
)

// Recognized NAL types (§4.3). All other type values pass through the
// scanner unchanged — they are reported but not specially classified.
//
// The two non-IDR trailing-slice types (0, 1) are left as raw literals:
// mediacommon's h265 package does not export named constants for them
// (only the parameter-set and IDR types below are named there), so
// naming them TRAIL_N/TRAIL_R here would invent API surface that does
// not exist upstream.
const (
	TypeSliceNonIDR1 = 0
	TypeSliceNonIDR2 = 1
	TypeIDRWRADL     = int(h265.NALUType_IDR_W_RADL) // 19
	TypeIDRNLP       = int(h265.NALUType_IDR_N_LP)   // 20
	TypeVPS          = int(h265.NALUType_VPS_NUT)    // 32
	TypeSPS          = int(h265.NALUType_SPS_NUT)    // 33
	TypePPS          = int(h265.NALUType_PPS_NUT)    // 34
)

// IsPictureSlice reports whether t is one of the picture-slice types the
// streaming loop paces on (§4.5 step 4.3): non-IDR (0/1) or IDR (19/20).
func IsPictureSlice(t int) bool {
	return t == TypeSliceNonIDR1 || t == TypeSliceNonIDR2 || t == TypeIDRWRADL || t == TypeIDRNLP
}

// IsIDR reports whether t is one of the two IDR slice types.
func IsIDR(t int) bool {
	return t == TypeIDRWRADL || t == TypeIDRNLP
}

// Unit describes one Annex-B NAL unit found by Scan: its start offset (of
// the start code itself), its total size including the start code, and
// its classified type.
type Unit struct {
	Offset int
	Size   int
	Type   int
}

// startCode4 and startCode3 are the two recognized Annex-B prefixes. The
// 4-byte form takes precedence when both match at the same position
// (i.e. a run of three zero bytes followed by 0x01 is never reported as
// "00 00 01" starting one byte later).
var (
	startCode4 = []byte{0x00, 0x00, 0x00, 0x01}
	startCode3 = []byte{0x00, 0x00, 0x01}
)

// Scan finds every Annex-B start code in buf and returns the ordered list
// of units. The final unit's Size extends to len(buf) and may be
// truncated — callers must not treat it as complete without a further
// unit available as terminator (see the stream package's retry logic).
func Scan(buf []byte) []Unit {
	var starts []int
	for i := 0; i+3 <= len(buf); {
		if matchAt(buf, i, startCode4) {
			starts = append(starts, i)
			i += 4
			continue
		}
		if matchAt(buf, i, startCode3) {
			starts = append(starts, i)
			i += 3
			continue
		}
		i++
	}

	units := make([]Unit, 0, len(starts))
	for idx, start := range starts {
		prefixLen := prefixLenAt(buf, start)
		typeByteOff := start + prefixLen
		if typeByteOff >= len(buf) {
			continue
		}
		nalType := int((buf[typeByteOff] >> 1) & 0x3F)

		end := len(buf)
		if idx+1 < len(starts) {
			end = starts[idx+1]
		}
		units = append(units, Unit{Offset: start, Size: end - start, Type: nalType})
	}
	return units
}

func matchAt(buf []byte, pos int, code []byte) bool {
	if pos+len(code) > len(buf) {
		return false
	}
	for i, b := range code {
		if buf[pos+i] != b {
			return false
		}
	}
	return true
}

func prefixLenAt(buf []byte, pos int) int {
	if matchAt(buf, pos, startCode4) {
		return 4
	}
	return 3
}

// Payload returns u's bytes from buf with the Annex-B start code
// stripped.
func (u Unit) Payload(buf []byte) []byte {
	prefixLen := prefixLenAt(buf, u.Offset)
	return buf[u.Offset+prefixLen : u.Offset+u.Size]
}

// Header is the four parameter-set/IDR units found by FindVideoHeader,
// plus the offset within the scanned slice immediately after the IDR.
type Header struct {
	VPS, SPS, PPS, IDR Unit
	IDREndOffset       int
}

// FindVideoHeader locates the first VPS occurrence in buf, then consumes
// units in order, collecting exactly one VPS, SPS, PPS and IDR (first
// seen of each, in that order). Returns ok=false if any of the four is
// missing before the slice ends.
func FindVideoHeader(buf []byte) (Header, bool) {
	units := Scan(buf)

	firstVPS := -1
	for i, u := range units {
		if u.Type == TypeVPS {
			firstVPS = i
			break
		}
	}
	if firstVPS < 0 {
		return Header{}, false
	}

	var hdr Header
	var haveVPS, haveSPS, havePPS, haveIDR bool

	for _, u := range units[firstVPS:] {
		switch {
		case u.Type == TypeVPS && !haveVPS:
			hdr.VPS = u
			haveVPS = true
		case u.Type == TypeSPS && !haveSPS:
			hdr.SPS = u
			haveSPS = true
		case u.Type == TypePPS && !havePPS:
			hdr.PPS = u
			havePPS = true
		case IsIDR(u.Type) && !haveIDR:
			hdr.IDR = u
			hdr.IDREndOffset = u.Offset + u.Size
			haveIDR = true
		}
		if haveVPS && haveSPS && havePPS && haveIDR {
			return hdr, true
		}
	}
	return Header{}, false
}

// NalKindFor maps a raw NAL type to the §6 wire "kind" byte.
func NalKindFor(t int) tpsmodel.NalKind {
	switch {
	case t == TypeVPS:
		return tpsmodel.NalKindVPS
	case t == TypeSPS:
		return tpsmodel.NalKindSPS
	case t == TypePPS:
		return tpsmodel.NalKindPPS
	case IsIDR(t):
		return tpsmodel.NalKindIDR
	default:
		return tpsmodel.NalKindInter
	}
}
