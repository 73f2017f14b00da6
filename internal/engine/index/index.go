// Package index provides the engine's in-memory key -> record-locator map.
//
// Ordering is not semantically observable by clients but is exploited during
// compaction to produce deterministic merged segments. The map must be safe
// for concurrent insert/delete/lookup without an external lock, and safe to
// iterate while being mutated (eventual consistency under iteration is
// sufficient: the writer mutex already serializes every mutation, normal
// writes and compaction alike, so the index itself only needs to make
// concurrent reads safe against that single mutator).
package index

import "github.com/zhangyunhao116/skipmap"

// Locator pinpoints a record's byte range within a segment.
type Locator struct {
	Generation uint64
	Offset     int64
	Length     int64
}

// Index is a concurrent ordered map from key to Locator, backed by a
// lock-free skip list.
type Index struct {
	m *skipmap.OrderedMap[string, *Locator]
}

func New() *Index {
	return skipmapIndex()
}

func skipmapIndex() *Index {
	return &Index{m: skipmap.New[string, *Locator]()}
}

// Set installs loc at key, overwriting any prior entry, and returns the
// previous entry if one existed. Callers mutate only under the engine's
// writer mutex, so this Load-then-Store pair needs no extra synchronization
// of its own.
func (idx *Index) Set(key string, loc *Locator) (prev *Locator, existed bool) {
	prev, existed = idx.m.Load(key)
	idx.m.Store(key, loc)
	return prev, existed
}

// Get returns the locator for key, if any.
func (idx *Index) Get(key string) (*Locator, bool) {
	return idx.m.Load(key)
}

// Delete removes key's entry and returns it, if any.
func (idx *Index) Delete(key string) (prev *Locator, existed bool) {
	return idx.m.LoadAndDelete(key)
}

// Range iterates entries in key order, stopping early if fn returns false.
func (idx *Index) Range(fn func(key string, loc *Locator) bool) {
	idx.m.Range(func(key string, loc *Locator) bool {
		return fn(key, loc)
	})
}

// Len reports the number of live keys.
func (idx *Index) Len() int { return idx.m.Len() }
