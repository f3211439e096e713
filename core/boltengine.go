package core

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// boltBucket is the single bucket sled-variant values live in. The interface
// in engine.go is flat key/value, so one bucket is all we need.
var boltBucket = []byte("kv")

// boltEngine is the "sled" engine variant: an embedded single-file B+tree
// store. Its internals are opaque to callers — only Engine is exercised.
type boltEngine struct {
	db   *bolt.DB
	path string
}

// OpenBolt opens (or creates) a store directory using the bbolt-backed
// alternate engine, locked in by the engine marker exactly as OpenBitcask
// locks in EngineBitcask. Opening the wrong variant against an existing
// directory fails with ErrEngineMismatch.
func OpenBolt(dir string) (Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", dir, err)
	}
	if err := ensureMarker(dir, EngineSled); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, "bolt.db")
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &boltEngine{db: db, path: path}, nil
}

func (e *boltEngine) Get(key []byte) ([]byte, error) {
	var val []byte
	err := e.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		v := b.Get(key)
		if v == nil {
			return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
		val = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (e *boltEngine) Set(key, value []byte) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, value)
	})
}

func (e *boltEngine) Remove(key []byte) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if b.Get(key) == nil {
			return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
		return b.Delete(key)
	})
}

// CloneHandle returns a handle sharing the same *bolt.DB: bbolt already
// serializes writers and allows concurrent readers internally, so no
// additional locking is needed on top.
func (e *boltEngine) CloneHandle() (Engine, error) {
	return e, nil
}

func (e *boltEngine) Close() error {
	return e.db.Close()
}
