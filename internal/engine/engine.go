// Package engine implements the native, log-structured storage engine: an
// append-only command log segmented into immutable generations, a fully
// in-memory index from key to record location, and online compaction. A
// writer mutex serializes mutation; reads never take it and instead consult
// a per-goroutine cache of open segment readers gated by an atomic
// merged_gen watermark, so lookups never block on, or are blocked by, the
// writer — including across compaction.
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/rivulet/kvs/internal/engine/index"
	"github.com/rivulet/kvs/internal/kverrors"
)

// DB is the engine handle. It is cheap to Clone: every clone shares the
// index and writer state, but carries its own reader cache, so concurrent
// goroutines should each hold their own clone rather than share one.
type DB struct {
	dir    string
	idx    *index.Index
	writer *writerState
	reader *readerState
	log    *zap.SugaredLogger
	owner  bool // true only for the handle returned by Open
}

// Option configures Open.
type Option func(*options)

type options struct {
	fsync          bool
	mergeThreshold int64
	logger         *zap.SugaredLogger
}

func defaultOptions() options {
	return options{
		fsync:          false,
		mergeThreshold: DefaultMergeThreshold,
		logger:         zap.NewNop().Sugar(),
	}
}

// WithFsync makes every Set/Remove call fsync the active segment before
// returning. Off by default: the host file system's ordinary buffered-write
// flush is all this engine guarantees without it.
func WithFsync(b bool) Option { return func(o *options) { o.fsync = b } }

// WithMergeThreshold overrides the stale-byte watermark that triggers
// compaction.
func WithMergeThreshold(n int64) Option { return func(o *options) { o.mergeThreshold = n } }

// WithLogger installs a structured logger; defaults to a no-op logger.
func WithLogger(l *zap.SugaredLogger) Option { return func(o *options) { o.logger = l } }

// Open opens or creates the directory at dir, replays every existing
// segment to rebuild the index, and opens a fresh segment as active for
// writes.
func Open(dir string, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kverrors.Op(kverrors.KindIO, "open.mkdir", err)
	}

	generations, err := discoverGenerations(dir)
	if err != nil {
		return nil, kverrors.Op(kverrors.KindIO, "open.discover", err)
	}

	idx := index.New()
	existingGens := make(map[uint64]struct{}, len(generations)+1)

	for _, gen := range generations {
		if err := replaySegment(dir, gen, idx); err != nil {
			return nil, kverrors.Op(kverrors.KindSerde, "open.replay", err)
		}
		existingGens[gen] = struct{}{}
	}

	writeGeneration := uint64(1)
	if len(generations) > 0 {
		writeGeneration = generations[len(generations)-1] + 1
	}

	active, err := createSegmentWriter(dir, writeGeneration)
	if err != nil {
		return nil, kverrors.Op(kverrors.KindIO, "open.createactive", err)
	}
	existingGens[writeGeneration] = struct{}{}

	warnOrphanSegments(generations, writeGeneration, idx, o.logger)

	mergedGen := &atomic.Uint64{} // starts at 0: no compaction has happened yet

	w := &writerState{
		dir:             dir,
		fsync:           o.fsync,
		mergeThreshold:  o.mergeThreshold,
		active:          active,
		writeGeneration: writeGeneration,
		existingGens:    existingGens,
		idx:             idx,
		mergedGen:       mergedGen,
		log:             o.logger,
	}

	return &DB{
		dir:    dir,
		idx:    idx,
		writer: w,
		reader: newReaderState(dir, mergedGen),
		log:    o.logger,
		owner:  true,
	}, nil
}

// warnOrphanSegments compares the segments actually found on disk against
// the generations the post-replay index still references (plus the fresh
// active one). A generation present on disk but absent from both is a
// segment every one of whose records was superseded or removed by a later
// segment before the process last closed; harmless, but worth a log line,
// the same way the teacher's manifest-vs-directory check flags orphaned
// segments left behind by an interrupted merge.
func warnOrphanSegments(onDisk []uint64, writeGeneration uint64, idx *index.Index, log *zap.SugaredLogger) {
	actual := mapset.NewSet[uint64]()
	for _, gen := range onDisk {
		actual.Add(gen)
	}

	referenced := mapset.NewSet[uint64](writeGeneration)
	idx.Range(func(_ string, loc *index.Locator) bool {
		referenced.Add(loc.Generation)
		return true
	})

	if orphans := actual.Difference(referenced); orphans.Cardinality() != 0 {
		log.Warnw("orphaned segments with no live records", "generations", orphans.ToSlice())
	}
}

// discoverGenerations enumerates <generation>.log files in dir and returns
// their generations in ascending order.
func discoverGenerations(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	var gens []uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if gen, ok := parseSegmentFileName(entry.Name()); ok {
			gens = append(gens, gen)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// replaySegment decodes every record in generation's file in file order,
// applying Set/Remove to idx exactly as they were originally applied, and
// truncates the file to the last fully-written record (a crash mid-write
// leaves a torn tail, which is dropped rather than treated as corruption).
func replaySegment(dir string, generation uint64, idx *index.Index) error {
	path := segmentPath(dir, generation)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open segment %d: %w", generation, err)
	}
	defer f.Close() // nolint:errcheck

	scanner := newRecordScanner(f, false)
	for scanner.scan() {
		rec := scanner.record
		switch rec.kind {
		case recordSet:
			idx.Set(rec.key, &index.Locator{Generation: generation, Offset: rec.off, Length: rec.end - rec.off})
		case recordRemove:
			idx.Delete(rec.key)
		default:
			return fmt.Errorf("%w: generation %d offset %d", kverrors.ErrUnknownCommand, generation, rec.off)
		}
	}
	if scanner.err != nil {
		return fmt.Errorf("scan segment %d: %w", generation, scanner.err)
	}

	return f.Truncate(scanner.pos)
}

// maxStaleLocatorRetries bounds how many times Get re-reads the index after
// a concurrent compaction unlinks the segment a lookup was about to open.
// One retry resolves the ordinary case; a few more tolerate back-to-back
// compactions landing in the same narrow window under heavy write load.
const maxStaleLocatorRetries = 5

// Get returns the value for key, or ok=false if it has no live entry. A
// lookup can race a concurrent compaction that rewrites and unlinks the
// segment the index pointed at a moment ago; Get re-reads the index and
// retries, since compaction always updates a live key's index entry before
// removing its old segment.
func (db *DB) Get(key string) (val string, ok bool, err error) {
	for attempt := 0; ; attempt++ {
		loc, ok := db.idx.Get(key)
		if !ok {
			return "", false, nil
		}

		val, kind, err := db.reader.read(loc)
		if err != nil {
			if errors.Is(err, errStaleLocator) && attempt < maxStaleLocatorRetries {
				continue
			}
			return "", false, err
		}
		if kind != recordSet {
			return "", false, fmt.Errorf("%w: key %q", kverrors.ErrUnknownCommand, key)
		}
		return val, true, nil
	}
}

// Set persists key=val and indexes it, possibly triggering compaction.
func (db *DB) Set(key, val string) error {
	return db.writer.set(key, val)
}

// Remove deletes key. Returns kverrors.ErrKeyNotFound if the key has no
// live entry; in that case no tombstone is written.
func (db *DB) Remove(key string) error {
	return db.writer.remove(key)
}

// Clone returns a new handle sharing this DB's index and writer but with a
// fresh, private reader cache — the intended way to hand the engine to a
// new goroutine. The clone does not own the writer: closing it only
// releases its own reader cache.
func (db *DB) Clone() *DB {
	return &DB{
		dir:    db.dir,
		idx:    db.idx,
		writer: db.writer,
		reader: newReaderState(db.dir, db.writer.mergedGen),
		log:    db.log,
		owner:  false,
	}
}

// Close closes this handle's reader cache. Only the root handle returned by
// Open also closes the active segment writer; closing a Clone never
// affects the other handles sharing its writer.
func (db *DB) Close() error {
	readerErr := db.reader.close()
	if !db.owner {
		return readerErr
	}
	if err := db.writer.close(); err != nil {
		return err
	}
	return readerErr
}

// Dir returns the data directory this engine was opened against.
func (db *DB) Dir() string { return filepath.Clean(db.dir) }
