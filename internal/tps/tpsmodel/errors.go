package tpsmodel

import (
	"errors"
	"fmt"
)

// Closed error-kind set (§7). Callers distinguish kinds with errors.Is;
// these are never extended outside this file.
var (
	// ErrPathUnreadable indicates the master index is missing or
	// unopenable at load.
	ErrPathUnreadable = errors.New("tps: path unreadable")

	// ErrBadMagic indicates a master- or frame-index magic mismatch.
	ErrBadMagic = errors.New("tps: bad magic")

	// ErrSegmentNotFound indicates no segment covers the requested
	// (time, channel).
	ErrSegmentNotFound = errors.New("tps: segment not found")

	// ErrNoVideoHeader indicates the post-seek read contained no
	// VPS/SPS/PPS/IDR quadruple.
	ErrNoVideoHeader = errors.New("tps: no video header found")

	// ErrStreamStall indicates the demuxer could not find two complete
	// NALs within the retry bound.
	ErrStreamStall = errors.New("tps: stream stalled")

	// ErrReadError indicates an underlying I/O failure.
	ErrReadError = errors.New("tps: read error")

	// ErrCancelled indicates the caller observed its cancellation flag.
	ErrCancelled = errors.New("tps: cancelled")
)

// StreamError wraps one of the sentinel kinds above with the segment and
// operation context it occurred in, mirroring the teacher's StageError
// (internal/pipeline/core/errors.go): a typed wrapper carrying context,
// not a new error identity.
type StreamError struct {
	FileIndex int
	Op        string
	Err       error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("tps stream %s (segment %d): %v", e.Op, e.FileIndex, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// NewStreamError constructs a StreamError wrapping one of the sentinel
// kinds in this file.
func NewStreamError(fileIndex int, op string, kind error) *StreamError {
	return &StreamError{FileIndex: fileIndex, Op: op, Err: kind}
}
