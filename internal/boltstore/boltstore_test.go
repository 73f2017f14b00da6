package boltstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rivulet/kvs/internal/kverrors"
)

func setupTempDB(tb testing.TB) *DB {
	dir, err := os.MkdirTemp("", "kvs_boltstore_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp failed: %v", err)
	}
	db, err := Open(filepath.Join(dir, "sled.db"))
	if err != nil {
		_ = os.RemoveAll(dir)
		tb.Fatalf("Open failed: %v", err)
	}
	tb.Cleanup(func() {
		_ = db.Close()
		_ = os.RemoveAll(dir)
	})
	return db
}

func TestSetAndGet(t *testing.T) {
	db := setupTempDB(t)

	if err := db.Set("foo", "bar"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, ok, err := db.Get("foo")
	if err != nil || !ok || val != "bar" {
		t.Errorf("Get = %q, %v, %v; want bar, true, nil", val, ok, err)
	}
}

func TestGetMissing(t *testing.T) {
	db := setupTempDB(t)

	_, ok, err := db.Get("missing")
	if err != nil || ok {
		t.Errorf("Get(missing) = ok=%v err=%v; want false, nil", ok, err)
	}
}

func TestRemoveMissing(t *testing.T) {
	db := setupTempDB(t)

	err := db.Remove("missing")
	if !errors.Is(err, kverrors.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	db := setupTempDB(t)

	_ = db.Set("k", "v")
	if err := db.Remove("k"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	_, ok, _ := db.Get("k")
	if ok {
		t.Errorf("expected k to be gone after Remove")
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir, err := os.MkdirTemp("", "kvs_boltstore_test_*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "sled.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = db.Set("a", "1")
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db2.Close() //nolint:errcheck

	val, ok, err := db2.Get("a")
	if err != nil || !ok || val != "1" {
		t.Errorf("Get(a) after reopen = %q, %v, %v; want 1, true, nil", val, ok, err)
	}
}
