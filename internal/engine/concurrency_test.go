package engine

import (
	"fmt"
	"sync"
	"testing"
)

// TestConcurrentReadersDuringCompaction runs a writer that repeatedly
// overwrites a small key set (driving frequent compaction, given a tiny
// merge threshold) concurrently with readers on their own Clone, each using
// its own segment reader cache. No read should ever see a torn or
// corrupted value — only one of the values the writer ever wrote for that
// key, or its absence before the first write lands.
func TestConcurrentReadersDuringCompaction(t *testing.T) {
	db, path := setupTempDB(t, WithMergeThreshold(64))
	_ = path

	const keys = 8
	const writes = 400

	valid := make(map[string]map[string]bool, keys)
	for k := 0; k < keys; k++ {
		key := fmt.Sprintf("key-%d", k)
		valid[key] = map[string]bool{"": true}
		for w := 0; w < writes; w++ {
			valid[key][fmt.Sprintf("val-%d", w)] = true
		}
	}

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for w := 0; w < writes; w++ {
			for k := 0; k < keys; k++ {
				key := fmt.Sprintf("key-%d", k)
				val := fmt.Sprintf("val-%d", w)
				if err := db.Set(key, val); err != nil {
					t.Errorf("Set(%s, %s) failed: %v", key, val, err)
					return
				}
			}
		}
		close(done)
	}()

	const readers = 4
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reader := db.Clone()
			defer reader.Close() //nolint:errcheck

			for {
				select {
				case <-done:
					return
				default:
				}
				for k := 0; k < keys; k++ {
					key := fmt.Sprintf("key-%d", k)
					val, ok, err := reader.Get(key)
					if err != nil {
						t.Errorf("Get(%s) failed: %v", key, err)
						return
					}
					if !ok {
						continue
					}
					if !valid[key][val] {
						t.Errorf("Get(%s) returned %q, which the writer never wrote", key, val)
						return
					}
				}
			}
		}()
	}

	wg.Wait()

	for k := 0; k < keys; k++ {
		key := fmt.Sprintf("key-%d", k)
		val, ok, err := db.Get(key)
		if err != nil || !ok {
			t.Fatalf("final Get(%s) = %q, %v, %v", key, val, ok, err)
		}
		if want := fmt.Sprintf("val-%d", writes-1); val != want {
			t.Errorf("final value for %s = %q, want %q", key, val, want)
		}
	}
}
