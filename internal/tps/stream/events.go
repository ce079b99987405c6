package stream

import "github.com/jmylchreest/tpsplay/internal/tps/tpsmodel"

// EventKind discriminates the tagged StreamEvent variant the engine
// yields, replacing the source's coroutine/async streaming loop (§9):
// the transport collaborator drives this iterator at its own pace
// instead of the engine pushing into a callback.
type EventKind int

const (
	// EventVideo carries one emitted H.265 NAL (header or subsequent).
	EventVideo EventKind = iota
	// EventAudio carries one emitted G.711 packet.
	EventAudio
	// EventEnd is the terminal signal: end-of-segment or cancellation.
	EventEnd
	// EventError is a terminal signal carrying a §7 error kind.
	EventError
)

// StreamEvent is one item the engine's iterator yields.
type StreamEvent struct {
	Kind  EventKind
	Video *tpsmodel.VideoFrame
	Audio *tpsmodel.AudioFrame
	Err   error
}
