// Package wire encodes the opaque framed messages the engine emits to its
// transport collaborator (§6): Video NAL frames, G.711 audio frames, and
// aggregated pictures, all big-endian, magic-prefixed.
//
// The transport itself — the HTTP/WebSocket relay that forwards these
// bytes — is out of scope (spec.md §1); this package only produces the
// byte layout, grounded directly on the original server's
// struct.pack('>4sQBI', ...) / struct.pack('>4sQHI', ...) framing.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/jmylchreest/tpsplay/internal/tps/tpsmodel"
)

// AudioSampleRate is the fixed G.711 sample rate (Hz).
const AudioSampleRate uint16 = 8000

var (
	magicVideo = [4]byte{'H', '2', '6', '5'}
	magicAudio = [4]byte{'G', '7', '1', '1'}
	magicAgg   = [4]byte{'H', 'V', 'C', 'C'}
)

// WriteVideoFrame writes one Video NAL frame: magic "H265", u64 ts_ms,
// u8 kind, u32 len, then the NAL bytes (without start code).
func WriteVideoFrame(w io.Writer, tsMillis int64, kind tpsmodel.NalKind, payload []byte) error {
	header := make([]byte, 4+8+1+4)
	copy(header[0:4], magicVideo[:])
	binary.BigEndian.PutUint64(header[4:12], uint64(tsMillis))
	header[12] = byte(kind)
	binary.BigEndian.PutUint32(header[13:17], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing video frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing video frame payload: %w", err)
	}
	return nil
}

// WriteAudioFrame writes one G.711 audio frame: magic "G711", u64 ts_ms,
// u16 sample_rate, u32 len, then the µ-law bytes.
func WriteAudioFrame(w io.Writer, tsMillis int64, payload []byte) error {
	header := make([]byte, 4+8+2+4)
	copy(header[0:4], magicAudio[:])
	binary.BigEndian.PutUint64(header[4:12], uint64(tsMillis))
	binary.BigEndian.PutUint16(header[12:14], AudioSampleRate)
	binary.BigEndian.PutUint32(header[14:18], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing audio frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing audio frame payload: %w", err)
	}
	return nil
}

// AggregatedNal is one (length-prefixed) NAL block inside an aggregated
// picture frame.
type AggregatedNal struct {
	Kind    tpsmodel.NalKind
	Payload []byte
}

// WriteAggregatedPicture writes one HVCC aggregated-picture frame: magic
// "HVCC", u64 ts_ms, u8 kind, u32 total_len, then the concatenation of
// (u32 len, NAL bytes) blocks for each NAL in nals. kind is the picture's
// overall kind (the IDR/inter classification of the access unit).
func WriteAggregatedPicture(w io.Writer, tsMillis int64, kind tpsmodel.NalKind, nals []AggregatedNal) error {
	var body []byte
	for _, n := range nals {
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(n.Payload)))
		body = append(body, lenBuf...)
		body = append(body, n.Payload...)
	}

	header := make([]byte, 4+8+1+4)
	copy(header[0:4], magicAgg[:])
	binary.BigEndian.PutUint64(header[4:12], uint64(tsMillis))
	header[12] = byte(kind)
	binary.BigEndian.PutUint32(header[13:17], uint32(len(body)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing aggregated picture header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing aggregated picture body: %w", err)
	}
	return nil
}
