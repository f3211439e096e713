// Package core provides the log-structured storage engine at the heart of
// hobbes: the record codec, log segments, the in-memory key directory, the
// native bitcask engine, its bbolt-backed alternate, and compaction.
package core

// Engine is the capability contract every storage backend implements:
// key lookup, key mutation, and concurrent handle cloning. The native
// bitcask engine (bitcask.go) and the bbolt-backed alternate
// (boltengine.go) are its two variants, selected at Open time and locked
// in by the on-disk engine marker (manifest.go).
type Engine interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Remove(key []byte) error

	// CloneHandle returns an independent handle sharing the same
	// underlying state. Callers (typically one per server worker) must
	// not share a handle across goroutines that could race on its
	// private resources (e.g. a bitcask handle's segment fd cache);
	// the shared engine state itself remains safe for concurrent use.
	CloneHandle() (Engine, error)

	Close() error
}
