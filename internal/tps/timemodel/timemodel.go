// Package timemodel converts between byte offsets inside a recording
// file's payload region and wall-clock time, per §4.4: a VPS scan, two
// interpolation strategies anchored on audio frames and scanned VPS
// positions, and a linear fallback, composed so PreciseTime is always
// monotonic non-decreasing.
package timemodel

import (
	"io"
	"os"
	"sort"

	"github.com/jmylchreest/tpsplay/internal/tps/tpsmodel"
)

// vpsPattern is the byte pattern marking a VPS start: the 4-byte Annex-B
// start code followed by the VPS NAL type byte (type 32 << 1 | forbidden
// bit 0 == 0x40).
var vpsPattern = []byte{0x00, 0x00, 0x00, 0x01, 0x40}

// ChunkSize is the read granularity used while scanning a recording file
// for VPS positions.
const ChunkSize = 64 * 1024 * 1024

// ScanVPS streams path in ChunkSize chunks (overlapping by
// len(vpsPattern)-1 bytes so a match straddling a chunk boundary is not
// missed) and returns every VPS byte offset within the payload region, in
// strictly ascending order.
func ScanVPS(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	overlap := len(vpsPattern) - 1

	var offsets []int64
	var base int64
	var carry []byte

	buf := make([]byte, ChunkSize)
	for {
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			window := append(carry, buf[:n]...)
			windowBase := base - int64(len(carry))

			for i := 0; i+len(vpsPattern) <= len(window); i++ {
				if matchesPattern(window[i:]) {
					off := windowBase + int64(i)
					if off >= 0 && off < tpsmodel.PayloadRegionSize {
						offsets = append(offsets, off)
					}
				}
			}

			if len(window) > overlap {
				carry = append([]byte(nil), window[len(window)-overlap:]...)
			} else {
				carry = append([]byte(nil), window...)
			}
			base += int64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}

	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets, nil
}

func matchesPattern(window []byte) bool {
	for i, b := range vpsPattern {
		if window[i] != b {
			return false
		}
	}
	return true
}

// Model answers TimeModel questions for one cached segment: audio-anchor
// interpolation, VPS-anchored piecewise interpolation, and the linear
// fallback, composed in PreciseTime per §4.4's priority order.
type Model struct {
	Segment     tpsmodel.Segment
	VPSAnchors  []tpsmodel.VPSAnchor   // ascending by Offset; Time filled via BuildVPSAnchors
	AudioFrames []tpsmodel.FrameRecord // ascending by FileOffset, channel==audio
}

// BuildVPSAnchors pairs each scanned VPS offset with its interpolated
// wall-clock time, using the audio-anchor method (4.4(b)) — this is the
// same method PreciseTime tries first, applied once up front so repeated
// PreciseTime calls can fall back to the cheaper piecewise method (c).
func BuildVPSAnchors(seg tpsmodel.Segment, vpsOffsets []int64, audioFrames []tpsmodel.FrameRecord) []tpsmodel.VPSAnchor {
	anchors := make([]tpsmodel.VPSAnchor, len(vpsOffsets))
	for i, off := range vpsOffsets {
		anchors[i] = tpsmodel.VPSAnchor{
			Offset: off,
			Time:   audioAnchorTime(seg, audioFrames, off),
		}
	}
	return anchors
}

// PreciseTime returns the estimated wall-clock second for byte offset o,
// trying (b) audio-anchor interpolation, then (c) VPS piecewise
// interpolation, then (d) linear fallback. All three branches are
// monotonic non-decreasing in o, so the composition is too.
func (m *Model) PreciseTime(o int64) int64 {
	if len(m.AudioFrames) > 0 {
		return audioAnchorTime(m.Segment, m.AudioFrames, o)
	}
	if len(m.VPSAnchors) > 0 {
		return piecewiseTime(m.Segment, m.VPSAnchors, o)
	}
	return linearTime(m.Segment, o)
}

// audioAnchorTime implements §4.4(b): the largest-offset audio record at
// or before o pins the time; absent one, the segment start time is used.
func audioAnchorTime(seg tpsmodel.Segment, audio []tpsmodel.FrameRecord, o int64) int64 {
	idx := sort.Search(len(audio), func(i int) bool { return int64(audio[i].FileOffset) > o })
	if idx == 0 {
		return seg.StartTime
	}
	return audio[idx-1].UnixTS
}

// piecewiseTime implements §4.4(c): linear interpolation between the
// surrounding VPS anchors, with (0, start_time) and
// (PayloadRegionSize, end_time) as the implicit boundary anchors.
func piecewiseTime(seg tpsmodel.Segment, anchors []tpsmodel.VPSAnchor, o int64) int64 {
	prevOff, prevTime := int64(0), seg.StartTime
	nextOff, nextTime := int64(tpsmodel.PayloadRegionSize), seg.EndTime

	for i := len(anchors) - 1; i >= 0; i-- {
		if anchors[i].Offset <= o {
			prevOff, prevTime = anchors[i].Offset, anchors[i].Time
			if i+1 < len(anchors) {
				nextOff, nextTime = anchors[i+1].Offset, anchors[i+1].Time
			} else {
				nextOff, nextTime = tpsmodel.PayloadRegionSize, seg.EndTime
			}
			break
		}
	}

	if nextOff == prevOff {
		return prevTime
	}
	frac := float64(o-prevOff) / float64(nextOff-prevOff)
	return prevTime + int64(frac*float64(nextTime-prevTime))
}

// linearTime implements §4.4(d), used only when neither audio nor VPS
// anchors exist.
func linearTime(seg tpsmodel.Segment, o int64) int64 {
	frac := float64(o) / float64(tpsmodel.PayloadRegionSize)
	return seg.StartTime + int64(frac*float64(seg.EndTime-seg.StartTime))
}

// FindVPSForTime scans the VPS anchor list and returns the pair
// maximizing Time subject to Time <= target. If none qualifies, it
// returns the first pair.
func FindVPSForTime(anchors []tpsmodel.VPSAnchor, target int64) (tpsmodel.VPSAnchor, bool) {
	if len(anchors) == 0 {
		return tpsmodel.VPSAnchor{}, false
	}
	best := anchors[0]
	found := false
	for _, a := range anchors {
		if a.Time <= target {
			if !found || a.Time > best.Time {
				best = a
				found = true
			}
		}
	}
	if !found {
		return anchors[0], true
	}
	return best, true
}
