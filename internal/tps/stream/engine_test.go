package stream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tpsplay/internal/tps/nal"
	"github.com/jmylchreest/tpsplay/internal/tps/tpsmodel"
)

func nalUnit(nalType int, payload ...byte) []byte {
	out := []byte{0x00, 0x00, 0x00, 0x01, byte(nalType << 1)}
	return append(out, payload...)
}

// writeFixtureSegment builds a minimal recording file: a VPS/SPS/PPS/IDR
// header immediately followed by one non-IDR picture slice, and returns a
// CachedSegment pointing at it (no audio or VPS anchors, so PreciseTime
// falls back to the linear model).
func writeFixtureSegment(t *testing.T) *tpsmodel.CachedSegment {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "TRec000000.tps")

	var buf []byte
	buf = append(buf, nalUnit(nal.TypeVPS, 1)...)
	buf = append(buf, nalUnit(nal.TypeSPS, 2)...)
	buf = append(buf, nalUnit(nal.TypePPS, 3)...)
	buf = append(buf, nalUnit(nal.TypeIDRWRADL, 4, 5)...)
	buf = append(buf, nalUnit(nal.TypeSliceNonIDR1, 6)...)
	// A trailing NAL so the streaming loop's "last unit may be truncated"
	// rule has something to commit the non-IDR slice against.
	buf = append(buf, nalUnit(nal.TypeSliceNonIDR2, 7)...)

	require.NoError(t, os.WriteFile(path, buf, 0o644))

	return &tpsmodel.CachedSegment{
		Segment: tpsmodel.Segment{
			FileIndex: 0,
			Channel:   tpsmodel.ChannelVideo1,
			StartTime: 1700000000,
			EndTime:   1700000010,
		},
		Path: path,
	}
}

func drain(e *Engine) []StreamEvent {
	var out []StreamEvent
	for {
		ev := e.Next()
		out = append(out, ev)
		if ev.Kind == EventEnd || ev.Kind == EventError {
			return out
		}
	}
}

func TestEngine_HeaderThenStreamOrder(t *testing.T) {
	seg := writeFixtureSegment(t)
	eng, err := New(context.Background(), seg, Options{
		Time:    seg.Segment.StartTime,
		Channel: tpsmodel.ChannelVideo1,
		Drain:   true,
	})
	require.NoError(t, err)

	events := drain(eng)
	require.GreaterOrEqual(t, len(events), 6)

	require.Equal(t, EventVideo, events[0].Kind)
	require.True(t, events[0].Video.IsHeader)
	require.Equal(t, tpsmodel.NalKindVPS, events[0].Video.NalKind)

	require.Equal(t, EventVideo, events[1].Kind)
	require.True(t, events[1].Video.IsHeader)
	require.Equal(t, tpsmodel.NalKindSPS, events[1].Video.NalKind)

	require.Equal(t, EventVideo, events[2].Kind)
	require.True(t, events[2].Video.IsHeader)
	require.Equal(t, tpsmodel.NalKindPPS, events[2].Video.NalKind)

	require.Equal(t, EventVideo, events[3].Kind)
	require.True(t, events[3].Video.IsHeader)
	require.Equal(t, tpsmodel.NalKindIDR, events[3].Video.NalKind)

	require.Equal(t, EventVideo, events[4].Kind)
	require.False(t, events[4].Video.IsHeader)

	require.Equal(t, EventEnd, events[len(events)-1].Kind)
}

func TestEngine_PacesBeforePictureSlicesNotHeader(t *testing.T) {
	seg := writeFixtureSegment(t)

	var sleeps int
	eng, err := New(context.Background(), seg, Options{
		Time:    seg.Segment.StartTime,
		Channel: tpsmodel.ChannelVideo1,
		Speed:   1.0,
		Clock:   func(time.Duration) { sleeps++ },
	})
	require.NoError(t, err)

	drain(eng)

	// Two non-IDR picture slices are emitted in the streaming phase (the
	// IDR header event is never paced); the engine defers each slice's
	// sleep to the Next() call after it, so at least one sleep must occur.
	require.GreaterOrEqual(t, sleeps, 1)
}

func TestEngine_NoVideoHeaderIsTerminalError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "TRec000000.tps")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o644))

	seg := &tpsmodel.CachedSegment{
		Segment: tpsmodel.Segment{FileIndex: 0, StartTime: 1700000000, EndTime: 1700000010},
		Path:    path,
	}
	eng, err := New(context.Background(), seg, Options{Time: seg.Segment.StartTime, Drain: true})
	require.NoError(t, err)

	ev := eng.Next()
	require.Equal(t, EventError, ev.Kind)
	require.ErrorIs(t, ev.Err, tpsmodel.ErrNoVideoHeader)

	// Once terminal, subsequent calls keep returning EventEnd without
	// touching the file again.
	require.Equal(t, EventEnd, eng.Next().Kind)
}

func TestEngine_CancelReleasesEngineOnNextCall(t *testing.T) {
	seg := writeFixtureSegment(t)
	ctx, cancel := context.WithCancel(context.Background())
	eng, err := New(ctx, seg, Options{Time: seg.Segment.StartTime, Drain: true})
	require.NoError(t, err)

	// Emit the first header event, then cancel before the engine has
	// finished streaming.
	eng.Next()
	cancel()

	ev := eng.Next()
	require.Equal(t, EventEnd, ev.Kind)
	require.Equal(t, StateCancelled, eng.State())
}
