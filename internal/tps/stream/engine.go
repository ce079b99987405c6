// Package stream implements the §4.5 StreamEngine: a cancellable,
// cooperatively-scheduled iterator of StreamEvent that seeks into a cached
// recording segment, extracts its video header, and then streams NAL
// units audio-aligned in monotonic presentation order.
//
// The engine is expressed as the §9 redesign flag prescribes: a plain
// iterator the transport collaborator drives at its own pace (Next),
// rather than a coroutine/async loop pushing into a callback. Pacing
// sleeps happen inside Next itself: after a picture-slice event is
// returned, the following Next call sleeps one inter-frame delay before
// yielding its event. This mirrors RelaySession's
// (internal/relay/session.go) context-based cancellation but generalized
// to a pull model instead of a push pipeline. Cancellation is polled at
// the start of every Next call and at the start of each buffer-fill round
// of the streaming loop; a fill round (up to minBufferFill bytes, or
// retryReadSize more on a stall retry) is read in chunkReadSize chunks
// without polling in between.
package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/tpsplay/internal/tps/nal"
	"github.com/jmylchreest/tpsplay/internal/tps/timemodel"
	"github.com/jmylchreest/tpsplay/internal/tps/tpsmodel"
)

const (
	// headerReadSize is the §4.5 Phase 2 read size past the seek offset.
	headerReadSize = 512 * 1024

	// minBufferFill is the streaming loop's target minimum fill (§4.5
	// Phase 4 step 1).
	minBufferFill = 256 * 1024

	// chunkReadSize is the per-iteration read granularity.
	chunkReadSize = 64 * 1024

	// retryReadSize is added to the buffer when a single, possibly
	// truncated NAL is found and a terminator is needed.
	retryReadSize = 256 * 1024

	// maxStallRetries bounds the §4.5 Phase 4 step 2 retry loop before
	// StreamStall is raised.
	maxStallRetries = 10

	// defaultFrameHz is the §9-standardized picture pacing rate (25 Hz
	// times speed), replacing the "1/166" constant judged a source bug.
	defaultFrameHz = 25.0
)

// Options configures a new Engine.
type Options struct {
	// Time is the requested wall-clock seek time T.
	Time int64
	// Channel is the requested channel.
	Channel int32
	// Speed is the playback rate r (§4.5); defaults to 1.0 when zero.
	// Zero or negative after defaulting disables pacing (drain mode).
	Speed float64
	// Clock overrides time.Sleep for pacing; nil uses the real clock.
	// Tests set this to a no-op to run the loop at full speed.
	Clock func(d time.Duration)
	// Drain, when true, skips all inter-frame pacing regardless of Speed
	// (§4.5 step 4.3's "consumer explicitly requests drain mode").
	Drain bool
	// Logger defaults to slog.Default(); the engine tags it with its
	// component and segment but does not write log records to it.
	Logger *slog.Logger
}

// Engine is one playback session attached to a single cached segment. It
// owns exactly one file handle (opened on construction, closed on
// Close/EOF) and streams StreamEvents in file-offset order.
type Engine struct {
	ID      uuid.UUID
	segment *tpsmodel.CachedSegment
	model   *timemodel.Model
	opts    Options
	log     *slog.Logger

	file *os.File

	state State
	begun bool

	streamPos  int64
	audioIdx   int
	buffer     []byte
	bufferOrig int64
	stallCount  int
	pendingPace bool

	queue []StreamEvent

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs an Engine for segment using opts, opening the segment's
// recording file. The caller must eventually call Close (or drain the
// iterator to EventEnd/EventError, which releases the handle itself).
func New(ctx context.Context, segment *tpsmodel.CachedSegment, opts Options) (*Engine, error) {
	if opts.Speed == 0 {
		opts.Speed = 1.0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Sleep
	}

	f, err := os.Open(segment.Path)
	if err != nil {
		return nil, tpsmodel.NewStreamError(segment.Segment.FileIndex, "open", fmt.Errorf("%w: %v", tpsmodel.ErrReadError, err))
	}

	cctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		ID:      uuid.New(),
		segment: segment,
		model: &timemodel.Model{
			Segment:     segment.Segment,
			VPSAnchors:  segment.VPSAnchors,
			AudioFrames: segment.AudioFrames,
		},
		opts:   opts,
		log:    opts.Logger.With("component", "tps.stream", "segment", segment.Segment.FileIndex),
		file:   f,
		state:  StateIdle,
		ctx:    cctx,
		cancel: cancel,
	}
	return e, nil
}

// Cancel requests the engine stop; the next Next() call releases the file
// handle within one chunk read and returns EventEnd.
func (e *Engine) Cancel() {
	e.cancel()
}

// State reports the engine's current state-machine position (§4.5).
func (e *Engine) State() State { return e.state }

// Close releases the engine's file handle. Safe to call multiple times.
func (e *Engine) Close() error {
	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file = nil
	return err
}

func (e *Engine) cancelled() bool {
	select {
	case <-e.ctx.Done():
		return true
	default:
		return false
	}
}

// Next advances the engine by exactly one emission and returns it. Once a
// terminal event (EventEnd/EventError) has been produced, subsequent
// calls return EventEnd without touching the file again.
func (e *Engine) Next() StreamEvent {
	if (e.state == StateEnded || e.state == StateCancelled) && len(e.queue) == 0 {
		return StreamEvent{Kind: EventEnd}
	}

	if e.cancelled() {
		e.state = StateCancelled
		e.Close()
		return StreamEvent{Kind: EventEnd}
	}

	if e.pendingPace {
		e.pendingPace = false
		e.pace()
	}

	if ev, ok := e.popQueue(); ok {
		if ev.Kind == EventEnd {
			e.Close()
		} else if isPictureSliceEvent(ev) {
			e.pendingPace = true
		}
		return ev
	}

	if !e.begun {
		e.begun = true
		e.state = StateSeeking
		if ev, ok := e.seekAndHeader(); !ok {
			return ev
		}
		e.state = StateHeaderEmitting
		ev, _ := e.popQueue()
		return ev
	}

	e.state = StateRunning
	return e.step()
}

// seekAndHeader runs §4.5 Phases 1-3, queuing the four header events. ok
// is false when a terminal (error) event was produced instead.
func (e *Engine) seekAndHeader() (StreamEvent, bool) {
	audio := e.segment.AudioFrames
	aOff := seekAudioAnchor(audio, e.opts.Time)

	headerBuf := make([]byte, headerReadSize)
	n, err := e.file.ReadAt(headerBuf, aOff)
	if err != nil && err != io.EOF {
		return e.terminalError("header-read", tpsmodel.ErrReadError), false
	}
	headerBuf = headerBuf[:n]

	hdr, ok := nal.FindVideoHeader(headerBuf)
	if !ok {
		return e.terminalError("find-video-header", tpsmodel.ErrNoVideoHeader), false
	}

	t0 := e.model.PreciseTime(aOff)
	tsMillis := t0 * 1000

	e.queue = append(e.queue,
		videoEvent(hdr.VPS.Payload(headerBuf), tpsmodel.NalKindVPS, tsMillis, true),
		videoEvent(hdr.SPS.Payload(headerBuf), tpsmodel.NalKindSPS, tsMillis, true),
		videoEvent(hdr.PPS.Payload(headerBuf), tpsmodel.NalKindPPS, tsMillis, true),
		videoEvent(hdr.IDR.Payload(headerBuf), nal.NalKindFor(hdr.IDR.Type), tsMillis, true),
	)

	e.streamPos = aOff + int64(hdr.IDREndOffset)
	e.audioIdx = firstAudioIndexAtOrAfter(audio, e.streamPos)
	return StreamEvent{}, true
}

// step performs one round of §4.5 Phase 4: fill the buffer, demux it,
// queue the emittable units (flushing aligned audio ahead of each video
// NAL), advance the buffer window, and return the first queued event. A
// returned picture-slice video event sets pendingPace, so the pacing
// sleep happens at the start of the next Next call.
func (e *Engine) step() StreamEvent {
	for {
		if e.cancelled() {
			e.state = StateCancelled
			e.Close()
			return StreamEvent{Kind: EventEnd}
		}

		eof, err := e.fill(minBufferFill)
		if err != nil {
			return e.terminalError("chunk-read", tpsmodel.ErrReadError)
		}

		if len(e.buffer) == 0 && eof {
			e.state = StateEnded
			e.Close()
			return StreamEvent{Kind: EventEnd}
		}

		units := nal.Scan(e.buffer)
		if len(units) == 0 {
			e.buffer = nil
			if eof {
				e.state = StateEnded
				e.Close()
				return StreamEvent{Kind: EventEnd}
			}
			continue
		}

		if len(units) == 1 && !eof {
			e.stallCount++
			if e.stallCount > maxStallRetries {
				return e.terminalError("stream-stall", tpsmodel.ErrStreamStall)
			}
			if _, err := e.fill(len(e.buffer) + retryReadSize); err != nil {
				return e.terminalError("chunk-read", tpsmodel.ErrReadError)
			}
			continue
		}
		e.stallCount = 0

		emitCount := len(units) - 1
		if eof {
			emitCount = len(units)
		}

		for i := 0; i < emitCount; i++ {
			u := units[i]
			nalOff := e.bufferOrig + int64(u.Offset)
			e.flushAudioUpTo(nalOff)

			tsMillis := e.model.PreciseTime(nalOff) * 1000
			e.queue = append(e.queue, videoEvent(u.Payload(e.buffer), nal.NalKindFor(u.Type), tsMillis, false))
		}

		consumedTo := len(e.buffer)
		if emitCount < len(units) {
			consumedTo = units[emitCount].Offset
		}
		e.bufferOrig += int64(consumedTo)
		e.buffer = append([]byte(nil), e.buffer[consumedTo:]...)

		if eof && emitCount == len(units) {
			e.flushAudioUpTo(e.bufferOrig)
			e.queue = append(e.queue, StreamEvent{Kind: EventEnd})
			e.state = StateEnded
		}

		ev, ok := e.popQueue()
		if !ok {
			continue
		}
		if ev.Kind == EventEnd {
			e.Close()
		} else if isPictureSliceEvent(ev) {
			e.pendingPace = true
		}
		return ev
	}
}

// isPictureSliceEvent reports whether ev is a video event carrying a
// picture slice (IDR or non-IDR), the kind of NAL the §4.5 pacing
// contract blocks on.
func isPictureSliceEvent(ev StreamEvent) bool {
	if ev.Kind != EventVideo || ev.Video == nil || ev.Video.IsHeader {
		return false
	}
	return ev.Video.NalKind == tpsmodel.NalKindIDR || ev.Video.NalKind == tpsmodel.NalKindInter
}

// popQueue pops the next queued event, if any is pending from a previous
// step (audio flushes queued ahead of the video NAL that triggered them,
// or header events).
func (e *Engine) popQueue() (StreamEvent, bool) {
	if len(e.queue) == 0 {
		return StreamEvent{}, false
	}
	ev := e.queue[0]
	e.queue = e.queue[1:]
	return ev, true
}

// fill tops the buffer up to at least target bytes, reading chunkReadSize
// at a time from streamPos, and reports whether the file is now
// exhausted.
func (e *Engine) fill(target int) (eof bool, err error) {
	if len(e.buffer) == 0 {
		e.bufferOrig = e.streamPos
	}
	for len(e.buffer) < target {
		chunk := make([]byte, chunkReadSize)
		n, rerr := e.file.ReadAt(chunk, e.streamPos)
		if n > 0 {
			e.buffer = append(e.buffer, chunk[:n]...)
			e.streamPos += int64(n)
		}
		if rerr == io.EOF || (n == 0 && rerr != nil) {
			return true, nil
		}
		if rerr != nil {
			return false, rerr
		}
		if n < chunkReadSize {
			return true, nil
		}
	}
	return false, nil
}

// flushAudioUpTo queues every pending audio frame at or before nalOff,
// advancing audioIdx, maintaining the §5 ordering guarantee that every
// audio frame at an offset <= a given video NAL's offset precedes it.
func (e *Engine) flushAudioUpTo(nalOff int64) {
	audio := e.segment.AudioFrames
	for e.audioIdx < len(audio) && int64(audio[e.audioIdx].FileOffset) <= nalOff {
		a := audio[e.audioIdx]
		payload := make([]byte, a.FrameSize)
		if _, err := e.file.ReadAt(payload, int64(a.FileOffset)); err != nil && err != io.EOF {
			payload = nil
		}
		e.queue = append(e.queue, StreamEvent{
			Kind: EventAudio,
			Audio: &tpsmodel.AudioFrame{
				Payload:  payload,
				TSMillis: a.UnixTS * 1000,
			},
		})
		e.audioIdx++
	}
}

func (e *Engine) pace() {
	if e.opts.Drain || e.opts.Speed <= 0 {
		return
	}
	d := time.Duration(float64(time.Second) / (defaultFrameHz * e.opts.Speed))
	e.opts.Clock(d)
}

func (e *Engine) terminalError(op string, kind error) StreamEvent {
	e.state = StateEnded
	e.Close()
	return StreamEvent{Kind: EventError, Err: tpsmodel.NewStreamError(e.segment.Segment.FileIndex, op, kind)}
}

func videoEvent(payload []byte, kind tpsmodel.NalKind, tsMillis int64, isHeader bool) StreamEvent {
	return StreamEvent{
		Kind: EventVideo,
		Video: &tpsmodel.VideoFrame{
			Payload:  append([]byte(nil), payload...),
			NalKind:  kind,
			TSMillis: tsMillis,
			IsHeader: isHeader,
		},
	}
}

// seekAudioAnchor implements §4.5 Phase 1: the smallest-offset audio
// record with unix_ts >= T, or the final audio offset if none qualifies.
func seekAudioAnchor(audio []tpsmodel.FrameRecord, target int64) int64 {
	idx := sort.Search(len(audio), func(i int) bool { return audio[i].UnixTS >= target })
	if idx < len(audio) {
		return int64(audio[idx].FileOffset)
	}
	if len(audio) > 0 {
		return int64(audio[len(audio)-1].FileOffset)
	}
	return 0
}

// firstAudioIndexAtOrAfter implements §4.5 Phase 3.
func firstAudioIndexAtOrAfter(audio []tpsmodel.FrameRecord, offset int64) int {
	return sort.Search(len(audio), func(i int) bool { return int64(audio[i].FileOffset) >= offset })
}
