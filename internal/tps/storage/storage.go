// Package storage implements the Storage façade described in §3's
// "Ownership and lifecycle" and §5's cache shared-state model: one
// immutable MasterIndex plus a many-reader/one-writer map of
// file_index -> *tpsmodel.CachedSegment, built lazily on first access or
// in a bulk prebuild pass with coarse progress reporting.
//
// This replaces the source's implicit cyclic references between the
// storage layer and per-segment playback state (§9): a StreamEngine holds
// a plain pointer to an immutable CachedSegment with no back-reference
// into Storage, matching internal/relay/daemon_registry.go's guarded-map
// shape generalized from daemons to cached segments.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/tpsplay/internal/tps/frameindex"
	"github.com/jmylchreest/tpsplay/internal/tps/masterindex"
	"github.com/jmylchreest/tpsplay/internal/tps/timemodel"
	"github.com/jmylchreest/tpsplay/internal/tps/tpsmodel"
)

// BuildState is the coarse "building/ready" scalar the UI collaborator
// polls (§5).
type BuildState int32

const (
	BuildStateIdle BuildState = iota
	BuildStateBuilding
	BuildStateReady
)

func (s BuildState) String() string {
	switch s {
	case BuildStateBuilding:
		return "building"
	case BuildStateReady:
		return "ready"
	default:
		return "idle"
	}
}

// Options configures a Storage instance.
type Options struct {
	// RecordingsDir holds TIndex00.tps and the TRec*.tps files.
	RecordingsDir string
	// CacheDir holds the frame-index cache artifacts.
	CacheDir string
	// EntryCountOvershoot tolerates master-index producers that
	// under-report entry_count (§9 open question, made configurable).
	EntryCountOvershoot int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Progress reports bulk-prebuild completion for the cache_status query
// (§6).
type Progress struct {
	State     BuildState
	Built     int
	Total     int
	LastError error
}

// Storage owns the immutable MasterIndex and the lazily- or eagerly-built
// CachedSegment map. Reads after insertion are unsynchronized in spirit —
// entries, once published, are never mutated — but the map itself is
// still guarded by mu because Go maps are not safe for concurrent
// read/write, only concurrent read.
type Storage struct {
	opts  Options
	log   *slog.Logger
	index *masterindex.MasterIndex

	mu      sync.RWMutex
	cache   map[int]*tpsmodel.CachedSegment
	cacheDS *frameindex.Cache

	group singleflight.Group

	built     atomic.Int64
	total     atomic.Int64
	buildErr  atomic.Value // error
	buildFlag atomic.Int32
}

// Load reads the master index and constructs an empty Storage ready for
// lazy or bulk cache population.
func Load(opts Options) (*Storage, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	idx, err := masterindex.Load(filepath.Join(opts.RecordingsDir, "TIndex00.tps"), masterindex.Options{
		EntryOvershoot: opts.EntryCountOvershoot,
	})
	if err != nil {
		return nil, err
	}

	ds, err := frameindex.NewCache(opts.CacheDir)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		opts:    opts,
		log:     opts.Logger.With("component", "tps.storage"),
		index:   idx,
		cache:   make(map[int]*tpsmodel.CachedSegment),
		cacheDS: ds,
	}
	s.total.Store(int64(len(idx.Segments)))
	return s, nil
}

// MasterIndex returns the immutable loaded master index.
func (s *Storage) MasterIndex() *masterindex.MasterIndex { return s.index }

// recordingPath returns the on-disk path for a given file_index.
func (s *Storage) recordingPath(fileIndex int) string {
	return filepath.Join(s.opts.RecordingsDir, fmt.Sprintf("TRec%06d.tps", fileIndex))
}

// Get returns the cached segment for fileIndex, building it on first
// access if necessary. Concurrent callers requesting the same fileIndex
// collapse onto a single build via singleflight, matching the "guard that
// serializes insertions" §5 requires without holding a lock across disk
// I/O.
func (s *Storage) Get(ctx context.Context, fileIndex int) (*tpsmodel.CachedSegment, error) {
	s.mu.RLock()
	if cs, ok := s.cache[fileIndex]; ok {
		s.mu.RUnlock()
		return cs, nil
	}
	s.mu.RUnlock()

	seg, ok := s.findSegment(fileIndex)
	if !ok {
		return nil, tpsmodel.NewStreamError(fileIndex, "lookup", tpsmodel.ErrSegmentNotFound)
	}

	key := fmt.Sprintf("%d", fileIndex)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		s.mu.RLock()
		if cs, ok := s.cache[fileIndex]; ok {
			s.mu.RUnlock()
			return cs, nil
		}
		s.mu.RUnlock()

		cs, err := s.build(seg)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cache[fileIndex] = cs
		s.mu.Unlock()
		s.built.Add(1)
		return cs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tpsmodel.CachedSegment), nil
}

// findSegment locates seg's descriptor by file_index in the master index.
func (s *Storage) findSegment(fileIndex int) (tpsmodel.Segment, bool) {
	for _, seg := range s.index.Segments {
		if seg.FileIndex == fileIndex {
			return seg, true
		}
	}
	return tpsmodel.Segment{}, false
}

// FindSegmentByTime chooses the segment covering (t, channel) and returns
// its cached form, building it lazily if needed.
func (s *Storage) FindSegmentByTime(ctx context.Context, t int64, channel int32) (*tpsmodel.CachedSegment, error) {
	seg, ok := s.index.FindByTime(t, channel)
	if !ok {
		return nil, tpsmodel.NewStreamError(-1, "find-by-time", tpsmodel.ErrSegmentNotFound)
	}
	return s.Get(ctx, seg.FileIndex)
}

// build constructs a CachedSegment for seg: frame index (via cache
// fingerprint), VPS scan, and the derived audio-frame subset. A missing
// or corrupt recording file is not fatal here — per §4.2/§7 it yields an
// empty frame index, and the segment is still catalogued but will fail
// any subsequent seek with NoVideoHeader.
func (s *Storage) build(seg tpsmodel.Segment) (*tpsmodel.CachedSegment, error) {
	path := s.recordingPath(seg.FileIndex)

	records, err := s.loadFrameIndex(path)
	if err != nil {
		s.log.Warn("frame index build failed, segment uncached for video", "file_index", seg.FileIndex, "err", err)
		records = nil
	}

	vpsOffsets, err := timemodel.ScanVPS(path)
	if err != nil {
		s.log.Warn("vps scan failed", "file_index", seg.FileIndex, "err", err)
		vpsOffsets = nil
	}

	audio := frameindex.AudioFrames(records)
	anchors := timemodel.BuildVPSAnchors(seg, vpsOffsets, audio)

	return &tpsmodel.CachedSegment{
		Segment:     seg,
		Path:        path,
		Frames:      records,
		VPSAnchors:  anchors,
		AudioFrames: audio,
	}, nil
}

// loadFrameIndex tries the on-disk cache first, falling back to a fresh
// parse and storing the result for next time.
func (s *Storage) loadFrameIndex(path string) ([]tpsmodel.FrameRecord, error) {
	fp, err := frameindex.ComputeFingerprint(path)
	if err != nil {
		// No readable file at all: treat as "no data here" per §4.2,
		// not a fatal error.
		return nil, nil
	}

	if records, ok := s.cacheDS.Load(fp); ok {
		return records, nil
	}

	records, err := frameindex.Parse(path)
	if err != nil {
		return nil, err
	}
	if err := s.cacheDS.Store(fp, records); err != nil {
		s.log.Warn("frame index cache store failed", "path", path, "err", err)
	}
	return records, nil
}

// Prebuild eagerly builds every segment's cache entry, fanning out with a
// bounded errgroup (mirrors internal/relay's worker-pool fan-out idiom
// generalized to this cache build, not present in the teacher verbatim
// but following the same bounded-concurrency shape used for ingest
// refreshes). Per-segment failures are logged and do not fail the whole
// prebuild — the segment is simply left uncached.
func (s *Storage) Prebuild(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 4
	}
	s.buildFlag.Store(int32(BuildStateBuilding))
	defer s.buildFlag.Store(int32(BuildStateReady))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, seg := range s.index.Segments {
		seg := seg
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if _, err := s.Get(gctx, seg.FileIndex); err != nil {
				s.log.Warn("prebuild segment failed", "file_index", seg.FileIndex, "err", err)
				s.buildErr.Store(err)
			}
			return nil
		})
	}
	return g.Wait()
}

// StartRefresh schedules a periodic Prebuild using a 6-field cron
// expression (seconds-first, matching the teacher's backup scheduler at
// internal/service/backup_service.go). Each run builds segments not yet
// in the in-memory map; segments already there are returned as they are,
// without recomputing their fingerprints, and the master index is not
// re-read, so recordings added after Load are not picked up. The
// returned cron.Cron is already
// running; the caller stops it (and this refresh loop) by calling its
// Stop method.
func (s *Storage) StartRefresh(ctx context.Context, cronExpr string) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(cronExpr, func() {
		if err := s.Prebuild(ctx, 4); err != nil {
			s.log.Warn("scheduled cache refresh failed", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling cache refresh %q: %w", cronExpr, err)
	}
	c.Start()
	return c, nil
}

// Progress returns the current bulk-prebuild progress snapshot.
func (s *Storage) Progress() Progress {
	p := Progress{
		State: BuildState(s.buildFlag.Load()),
		Built: int(s.built.Load()),
		Total: int(s.total.Load()),
	}
	if v := s.buildErr.Load(); v != nil {
		p.LastError, _ = v.(error)
	}
	return p
}
