// Package boltstore is the "sled" alternative to the native engine: it
// delegates persistence to go.etcd.io/bbolt, an embedded B-tree store,
// while presenting the same get/set/remove capability. Values round-trip
// as UTF-8; bbolt itself is byte-oriented, so a non-UTF-8 value read back
// from an externally-written database surfaces as kverrors.KindUtf8 —
// something the native engine can never produce, since it only ever
// persists what it was given as a Go string.
package boltstore

import (
	"fmt"
	"unicode/utf8"

	bolt "go.etcd.io/bbolt"

	"github.com/rivulet/kvs/internal/kverrors"
)

var bucketName = []byte("kvs")

// DB wraps a bbolt database file as a key-value store.
type DB struct {
	bolt  *bolt.DB
	owner bool // true only for the handle returned by Open
}

// Open opens (creating if necessary) a bbolt database file at path.
func Open(path string) (*DB, error) {
	b, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, kverrors.Op(kverrors.KindSled, "boltstore.Open", err)
	}

	err = b.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = b.Close()
		return nil, kverrors.Op(kverrors.KindSled, "boltstore.initbucket", err)
	}

	return &DB{bolt: b, owner: true}, nil
}

func (db *DB) Get(key string) (val string, ok bool, err error) {
	var raw []byte
	txErr := db.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return nil
		}
		ok = true
		raw = append([]byte(nil), v...) // v is only valid for the transaction's lifetime
		return nil
	})
	if txErr != nil {
		return "", false, kverrors.Op(kverrors.KindSled, "boltstore.Get", txErr)
	}
	if !ok {
		return "", false, nil
	}
	if !utf8.Valid(raw) {
		return "", false, kverrors.Op(kverrors.KindUtf8, "boltstore.Get", fmt.Errorf("value for key %q is not valid UTF-8", key))
	}
	return string(raw), true, nil
}

func (db *DB) Set(key, val string) error {
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(val))
	})
	if err != nil {
		return kverrors.Op(kverrors.KindSled, "boltstore.Set", err)
	}
	return nil
}

func (db *DB) Remove(key string) error {
	found := false
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b.Get([]byte(key)) == nil {
			return nil
		}
		found = true
		return b.Delete([]byte(key))
	})
	if err != nil {
		return kverrors.Op(kverrors.KindSled, "boltstore.Remove", err)
	}
	if !found {
		return kverrors.Op(kverrors.KindKeyNotFound, "boltstore.Remove", kverrors.ErrKeyNotFound)
	}
	return nil
}

// Clone returns a handle sharing the same underlying bbolt database; bbolt
// transactions are already safe for concurrent use from multiple
// goroutines, so Clone here is just a convenience for symmetry with the
// native engine's per-goroutine reader cache. The returned handle does not
// own the bbolt database: closing it is a no-op.
func (db *DB) Clone() *DB { return &DB{bolt: db.bolt, owner: false} }

// Close closes the underlying bbolt database if this handle owns it (i.e.
// it was returned by Open, not Clone); otherwise it is a no-op, so a
// per-connection clone can be closed freely without affecting other
// clones sharing the same database.
func (db *DB) Close() error {
	if !db.owner {
		return nil
	}
	if err := db.bolt.Close(); err != nil {
		return fmt.Errorf("close bolt store: %w", err)
	}
	return nil
}
