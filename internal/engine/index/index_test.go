package index

import "testing"

func TestSetGetDelete(t *testing.T) {
	idx := New()

	loc := &Locator{Generation: 1, Offset: 10, Length: 20}
	if prev, existed := idx.Set("k", loc); existed || prev != nil {
		t.Fatalf("expected no previous entry, got %v, %v", prev, existed)
	}

	got, ok := idx.Get("k")
	if !ok {
		t.Fatalf("expected k to exist")
	}
	if *got != *loc {
		t.Errorf("got %+v, want %+v", got, loc)
	}

	loc2 := &Locator{Generation: 2, Offset: 30, Length: 5}
	prev, existed := idx.Set("k", loc2)
	if !existed || prev == nil || *prev != *loc {
		t.Fatalf("expected previous entry %+v, got %+v, %v", loc, prev, existed)
	}

	removed, ok := idx.Delete("k")
	if !ok || removed == nil || *removed != *loc2 {
		t.Fatalf("expected delete to return %+v, got %+v, %v", loc2, removed, ok)
	}

	if _, ok := idx.Get("k"); ok {
		t.Errorf("expected k to be gone after delete")
	}
}

func TestDeleteMissing(t *testing.T) {
	idx := New()
	if _, ok := idx.Delete("missing"); ok {
		t.Errorf("expected delete of missing key to report ok=false")
	}
}

func TestRangeVisitsAllEntries(t *testing.T) {
	idx := New()
	want := map[string]*Locator{
		"a": {Generation: 1, Offset: 0, Length: 1},
		"b": {Generation: 1, Offset: 1, Length: 1},
		"c": {Generation: 2, Offset: 0, Length: 1},
	}
	for k, v := range want {
		idx.Set(k, v)
	}

	seen := map[string]*Locator{}
	idx.Range(func(key string, loc *Locator) bool {
		seen[key] = loc
		return true
	})

	if len(seen) != len(want) {
		t.Fatalf("expected %d entries, saw %d", len(want), len(seen))
	}
	for k, v := range want {
		if *seen[k] != *v {
			t.Errorf("key %s: got %+v, want %+v", k, seen[k], v)
		}
	}
}

func TestRangeStopsEarly(t *testing.T) {
	idx := New()
	idx.Set("a", &Locator{})
	idx.Set("b", &Locator{})
	idx.Set("c", &Locator{})

	count := 0
	idx.Range(func(key string, loc *Locator) bool {
		count++
		return false
	})

	if count != 1 {
		t.Errorf("expected Range to stop after the first entry, visited %d", count)
	}
}

func TestLen(t *testing.T) {
	idx := New()
	if idx.Len() != 0 {
		t.Errorf("expected empty index to have len 0, got %d", idx.Len())
	}
	idx.Set("a", &Locator{})
	idx.Set("b", &Locator{})
	if idx.Len() != 2 {
		t.Errorf("expected len 2, got %d", idx.Len())
	}
	idx.Delete("a")
	if idx.Len() != 1 {
		t.Errorf("expected len 1 after delete, got %d", idx.Len())
	}
}
