package frameindex

import (
	"crypto/md5"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/tpsplay/internal/tps/tpsmodel"
	"github.com/jmylchreest/tpsplay/pkg/diskslice"
)

// sampleSize is the size of each of the three 64 KiB samples (head,
// middle, tail) hashed into the cache fingerprint.
const sampleSize = 64 * 1024

// Fingerprint identifies a recording file's content independent of its
// mount point or mtime, per the §9 redesign flag: basename + size +
// md5(head||mid||tail 64 KiB samples). Neither mtime nor a bare
// filename+size hash is mount-point-stable, which is exactly the failure
// mode this replaces.
type Fingerprint struct {
	Basename string
	FileSize int64
	Sample   string // hex md5
}

// String renders the fingerprint as a cache-artifact-safe filename
// component.
func (fp Fingerprint) String() string {
	return fmt.Sprintf("%s-%d-%s", fp.Basename, fp.FileSize, fp.Sample)
}

// ComputeFingerprint samples path and returns its Fingerprint. A read
// failure is returned as an error since, unlike Parse, there is no
// meaningful "empty" fingerprint to fall back to.
func ComputeFingerprint(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %v", tpsmodel.ErrPathUnreadable, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %v", tpsmodel.ErrReadError, err)
	}
	size := info.Size()

	h := md5.New()
	for _, off := range sampleOffsets(size) {
		if err := hashSampleAt(h, f, off, size); err != nil {
			return Fingerprint{}, fmt.Errorf("%w: %v", tpsmodel.ErrReadError, err)
		}
	}

	return Fingerprint{
		Basename: filepath.Base(path),
		FileSize: size,
		Sample:   hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// sampleOffsets returns the head/middle/tail sample start offsets for a
// file of the given size, clamped so short files don't panic on the
// middle/tail seeks.
func sampleOffsets(size int64) []int64 {
	mid := size/2 - sampleSize/2
	if mid < 0 {
		mid = 0
	}
	tail := size - sampleSize
	if tail < 0 {
		tail = 0
	}
	return []int64{0, mid, tail}
}

func hashSampleAt(h io.Writer, f *os.File, off, size int64) error {
	n := int64(sampleSize)
	if off+n > size {
		n = size - off
	}
	if n <= 0 {
		return nil
	}
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return err
	}
	_, err := io.CopyN(h, f, n)
	if err == io.EOF {
		return nil
	}
	return err
}

// CacheEntry catalogues one built artifact, written by Store and counted
// by BuiltCount — the same role the teacher's logo-cache sidecar table
// plays for logo metadata, moved into a real gorm table here. The
// cache_status query (query.GetCacheStatus) reports Storage.Progress and
// does not read this table.
type CacheEntry struct {
	Fingerprint string `gorm:"primaryKey"`
	Basename    string
	FileSize    int64
	BuiltAt     time.Time
}

// Cache persists the filtered, sorted frame index for a recording file as
// a seekable typed artifact, keyed by Fingerprint.String(). It supersedes
// the source's NumPy-array cache keyed by md5(name:size), which breaks
// under mount-point/path churn.
//
// Store passes the records through a diskslice.DiskSlice, which spills to
// disk past its memory threshold, and flattens the result back into a
// slice for the gob artifact; the caller's slice and the flattened copy
// are both held in memory while the artifact is written. A small sqlite
// catalogue (via gorm) records which fingerprints have a built artifact;
// Load does not consult it and opens the gob file directly.
type Cache struct {
	Dir string
	db  *gorm.DB
}

// NewCache returns a Cache rooted at dir, creating it if necessary and
// opening (or migrating) its catalogue database.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating cache dir: %v", tpsmodel.ErrReadError, err)
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "catalogue.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening cache catalogue: %v", tpsmodel.ErrReadError, err)
	}
	if err := db.AutoMigrate(&CacheEntry{}); err != nil {
		return nil, fmt.Errorf("%w: migrating cache catalogue: %v", tpsmodel.ErrReadError, err)
	}

	return &Cache{Dir: dir, db: db}, nil
}

func (c *Cache) artifactPath(fp Fingerprint) string {
	return filepath.Join(c.Dir, fp.String()+".gob")
}

// Load returns the cached records for fp, or (nil, false) if no artifact
// exists or it fails to decode (e.g. a previous interrupted write, or a
// format version change).
func (c *Cache) Load(fp Fingerprint) ([]tpsmodel.FrameRecord, bool) {
	f, err := os.Open(c.artifactPath(fp))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var records []tpsmodel.FrameRecord
	if err := gob.NewDecoder(f).Decode(&records); err != nil {
		return nil, false
	}
	return records, true
}

// Store persists records under fp's fingerprint, routing them through a
// DiskSlice before flattening to the artifact file, then records the
// fingerprint in the catalogue. records itself is already fully in
// memory, and ToSlice materialises a second in-memory copy.
func (c *Cache) Store(fp Fingerprint, records []tpsmodel.FrameRecord) error {
	ds, err := diskslice.New[tpsmodel.FrameRecord](diskslice.Options{
		MemoryThreshold:   8 * 1024 * 1024,
		TempDir:           c.Dir,
		EstimatedItemSize: tpsmodel.FrameIndexRecordSize,
		Name:              "frameindex-" + fp.Basename,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", tpsmodel.ErrReadError, err)
	}
	defer ds.Close()

	if err := ds.AppendSlice(records); err != nil {
		return fmt.Errorf("%w: %v", tpsmodel.ErrReadError, err)
	}

	flattened, err := ds.ToSlice()
	if err != nil {
		return fmt.Errorf("%w: %v", tpsmodel.ErrReadError, err)
	}

	tmp := c.artifactPath(fp) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", tpsmodel.ErrReadError, err)
	}
	if err := gob.NewEncoder(f).Encode(flattened); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", tpsmodel.ErrReadError, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", tpsmodel.ErrReadError, err)
	}
	if err := os.Rename(tmp, c.artifactPath(fp)); err != nil {
		return fmt.Errorf("%w: %v", tpsmodel.ErrReadError, err)
	}

	entry := CacheEntry{
		Fingerprint: fp.String(),
		Basename:    fp.Basename,
		FileSize:    fp.FileSize,
		BuiltAt:     time.Now(),
	}
	if err := c.db.Save(&entry).Error; err != nil {
		return fmt.Errorf("%w: recording catalogue entry: %v", tpsmodel.ErrReadError, err)
	}
	return nil
}

// BuiltCount returns the number of fingerprints currently catalogued as
// built, without a directory walk.
func (c *Cache) BuiltCount() (int64, error) {
	var count int64
	if err := c.db.Model(&CacheEntry{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("%w: %v", tpsmodel.ErrReadError, err)
	}
	return count, nil
}
