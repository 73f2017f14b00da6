package engine

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rivulet/kvs/internal/engine/index"
	"github.com/rivulet/kvs/internal/kverrors"
)

// DefaultMergeThreshold is the stale-byte watermark that triggers an inline
// compaction at the end of a Set/Remove. It is not contractual — any value
// that amortizes compaction to O(1) per write is acceptable — but 1 MiB is
// a reasonable default per spec.md §4.4.
const DefaultMergeThreshold = 1 << 20

// writerState is exclusively owned by the writer side: the active segment's
// writer, its write generation, the merged_gen watermark authority, and the
// running stale_bytes counter. All mutation goes through mu, so reads never
// contend with it.
type writerState struct {
	mu sync.Mutex

	dir            string
	fsync          bool
	mergeThreshold int64
	active         *segmentWriter
	writeGeneration uint64
	staleBytes      int64
	existingGens    map[uint64]struct{} // generations currently on disk
	idx             *index.Index
	mergedGen       *atomic.Uint64 // shared with every readerState
	log             *zap.SugaredLogger
}

func (w *writerState) set(key, val string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	start, length, err := w.active.append(recordSet, key, val)
	if err != nil {
		return kverrors.Op(kverrors.KindIO, "set", err)
	}
	if w.fsync {
		if err := w.active.sync(); err != nil {
			return kverrors.Op(kverrors.KindIO, "set.fsync", err)
		}
	}

	loc := &index.Locator{Generation: w.writeGeneration, Offset: start, Length: length}
	if prev, existed := w.idx.Set(key, loc); existed {
		w.staleBytes += prev.Length
	}

	if w.staleBytes > w.mergeThreshold {
		if err := w.compact(); err != nil {
			return kverrors.Op(kverrors.KindIO, "set.compact", err)
		}
	}
	return nil
}

func (w *writerState) remove(key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	loc, ok := w.idx.Get(key)
	if !ok {
		return kverrors.Op(kverrors.KindKeyNotFound, "remove", kverrors.ErrKeyNotFound)
	}

	if _, _, err := w.active.append(recordRemove, key, ""); err != nil {
		return kverrors.Op(kverrors.KindIO, "remove", err)
	}
	if w.fsync {
		if err := w.active.sync(); err != nil {
			return kverrors.Op(kverrors.KindIO, "remove.fsync", err)
		}
	}

	w.idx.Delete(key)
	w.staleBytes += loc.Length

	if w.staleBytes > w.mergeThreshold {
		if err := w.compact(); err != nil {
			return kverrors.Op(kverrors.KindIO, "remove.compact", err)
		}
	}
	return nil
}

// compact rewrites every live record into a fresh "merged" segment and opens
// the next active segment, publishing the new generation via the merged_gen
// watermark before any old segment is unlinked. Called with mu held.
func (w *writerState) compact() (rerr error) {
	merged := w.writeGeneration + 1
	nextActive := w.writeGeneration + 2

	mergedWriter, err := createSegmentWriter(w.dir, merged)
	if err != nil {
		return fmt.Errorf("create merge segment: %w", err)
	}
	nextWriter, err := createSegmentWriter(w.dir, nextActive)
	if err != nil {
		_ = mergedWriter.close()
		_ = os.Remove(segmentPath(w.dir, merged))
		return fmt.Errorf("create next active segment: %w", err)
	}

	oldActive := w.active
	oldGeneration := w.writeGeneration

	defer func() {
		if rerr != nil {
			_ = mergedWriter.close()
			_ = nextWriter.close()
			_ = os.Remove(segmentPath(w.dir, merged))
			_ = os.Remove(segmentPath(w.dir, nextActive))
		}
	}()

	// Transient readers opened only to copy bytes during this merge; never
	// shared with the per-goroutine reader caches used by Get.
	scratch := map[uint64]*segmentReader{}
	defer func() {
		for gen, r := range scratch {
			if gen == oldGeneration {
				continue // that file handle belongs to oldActive, closed below
			}
			_ = r.close()
		}
	}()

	runningOffset := int64(0)
	w.idx.Range(func(key string, loc *index.Locator) bool {
		r, ok := scratch[loc.Generation]
		if !ok {
			if loc.Generation == oldGeneration {
				r = &segmentReader{generation: oldGeneration, file: oldActive.file}
			} else {
				var openErr error
				r, openErr = openSegmentReader(w.dir, loc.Generation)
				if openErr != nil {
					rerr = fmt.Errorf("open segment %d for merge: %w", loc.Generation, openErr)
					return false
				}
			}
			scratch[loc.Generation] = r
		}

		buf := make([]byte, loc.Length)
		if _, err := r.file.ReadAt(buf, loc.Offset); err != nil {
			rerr = fmt.Errorf("read record for merge at generation %d offset %d: %w", loc.Generation, loc.Offset, err)
			return false
		}
		if _, err := mergedWriter.file.Write(buf); err != nil {
			rerr = fmt.Errorf("write merged record: %w", err)
			return false
		}

		newLoc := &index.Locator{Generation: merged, Offset: runningOffset, Length: loc.Length}
		runningOffset += loc.Length
		mergedWriter.pos = runningOffset
		w.idx.Set(key, newLoc)
		return true
	})
	if rerr != nil {
		return rerr
	}

	if err := mergedWriter.sync(); err != nil {
		return fmt.Errorf("sync merge segment: %w", err)
	}

	// Linearization point: no new reader will open a generation <= merged-1
	// once this store is visible.
	w.mergedGen.Store(merged)

	// The old active segment's file handle belonged to the writer; close it
	// now that it has been fully superseded.
	if err := oldActive.close(); err != nil {
		w.log.Warnw("close retired active segment", "generation", oldGeneration, "error", err)
	}

	for gen := range w.existingGens {
		if gen < merged {
			if err := os.Remove(segmentPath(w.dir, gen)); err != nil {
				w.log.Warnw("remove merged-away segment", "generation", gen, "error", err)
			}
			delete(w.existingGens, gen)
		}
	}
	w.existingGens[merged] = struct{}{}
	w.existingGens[nextActive] = struct{}{}

	w.active = nextWriter
	w.writeGeneration = nextActive
	w.staleBytes = 0
	return nil
}

func (w *writerState) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active.close()
}
