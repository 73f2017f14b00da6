package engine

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/rivulet/kvs/internal/engine/index"
	"github.com/rivulet/kvs/internal/kverrors"
)

// errStaleLocator signals that an *index.Locator no longer points at a live
// segment: a concurrent compaction rewrote and unlinked it between the
// caller's index lookup and this read. It never escapes the engine package;
// Get retries the lookup against the current index instead of surfacing it.
var errStaleLocator = errors.New("engine: stale segment locator")

// readerState is a per-DB-handle cache of open segment readers. It is never
// shared across goroutines — each Clone of a DB carries its own — so it
// needs no lock of its own. The only synchronization with the writer is the
// shared merged_gen watermark.
type readerState struct {
	dir       string
	cache     map[uint64]*segmentReader
	mergedGen *atomic.Uint64
}

func newReaderState(dir string, mergedGen *atomic.Uint64) *readerState {
	return &readerState{dir: dir, cache: make(map[uint64]*segmentReader), mergedGen: mergedGen}
}

// read decodes the record at loc, opening (and caching) a segment reader
// for loc.Generation if one isn't already cached.
func (rs *readerState) read(loc *index.Locator) (val string, kind recordKind, err error) {
	rs.evictStale()

	r, ok := rs.cache[loc.Generation]
	if !ok {
		r, err = openSegmentReader(rs.dir, loc.Generation)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// loc was fetched from the index before a concurrent
				// compaction rewrote this key into a later generation and
				// unlinked loc.Generation's file; the caller should re-fetch
				// the index entry and retry rather than treat this as a
				// genuine I/O failure.
				return "", 0, kverrors.Op(kverrors.KindIO, "read.open", errStaleLocator)
			}
			return "", 0, kverrors.Op(kverrors.KindIO, "read.open", err)
		}
		rs.cache[loc.Generation] = r
	}

	_, val, kind, err = r.readAt(loc.Offset, true)
	if err != nil {
		if errors.Is(err, kverrors.ErrChecksumMismatch) {
			return "", 0, kverrors.Op(kverrors.KindSerde, "read.decode", err)
		}
		return "", 0, kverrors.Op(kverrors.KindIO, "read.decode", err)
	}
	return val, kind, nil
}

// evictStale drops cached readers for generations that have fallen below
// the merged_gen watermark: those segments may be unlinked by the writer at
// any moment, and new opens against them must not happen.
func (rs *readerState) evictStale() {
	watermark := rs.mergedGen.Load()
	for gen, r := range rs.cache {
		if gen < watermark {
			_ = r.close()
			delete(rs.cache, gen)
		}
	}
}

func (rs *readerState) close() error {
	var firstErr error
	for gen, r := range rs.cache {
		if err := r.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close cached segment reader %d: %w", gen, err)
		}
	}
	rs.cache = make(map[uint64]*segmentReader)
	return firstErr
}
