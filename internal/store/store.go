// Package store defines the capability the network server depends on,
// decoupling it from which storage engine actually backs a request. Both
// the native engine and the bbolt-backed alternative satisfy it, and both
// are cheap to hand out per-connection via Clone.
package store

import (
	"github.com/rivulet/kvs/internal/boltstore"
	"github.com/rivulet/kvs/internal/engine"
)

// Engine is the minimal capability the server needs from a key-value
// store: get, set, and remove by UTF-8 key and value. A Get that finds no
// entry returns ok=false with a nil error; err is reserved for I/O/decode
// failures.
type Engine interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	Remove(key string) error

	// Clone returns a handle safe to use from exactly one goroutine at a
	// time, sharing the underlying store with the handle it was cloned
	// from.
	Clone() Engine

	Close() error
}

// native adapts *engine.DB to Engine.
type native struct{ db *engine.DB }

// NewNative wraps the log-structured engine as an Engine capability.
func NewNative(db *engine.DB) Engine { return &native{db: db} }

func (n *native) Get(key string) (string, bool, error) { return n.db.Get(key) }
func (n *native) Set(key, val string) error            { return n.db.Set(key, val) }
func (n *native) Remove(key string) error              { return n.db.Remove(key) }
func (n *native) Clone() Engine                        { return &native{db: n.db.Clone()} }
func (n *native) Close() error                         { return n.db.Close() }

// sled adapts *boltstore.DB to Engine.
type sled struct{ db *boltstore.DB }

// NewSled wraps the bbolt-backed alternative as an Engine capability.
func NewSled(db *boltstore.DB) Engine { return &sled{db: db} }

func (s *sled) Get(key string) (string, bool, error) { return s.db.Get(key) }
func (s *sled) Set(key, val string) error             { return s.db.Set(key, val) }
func (s *sled) Remove(key string) error               { return s.db.Remove(key) }
func (s *sled) Clone() Engine                         { return &sled{db: s.db.Clone()} }
func (s *sled) Close() error                           { return s.db.Close() }
