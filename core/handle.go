package core

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Handle is a bitcask Engine handle: one per worker, sharing the
// underlying bitcaskDB's segment set and key directory but owning a
// private, lazily-populated cache of read-only file descriptors. Writes
// go through the shared db and its writer lock; reads use this handle's
// own fds so workers never contend with each other over a shared *os.File.
type Handle struct {
	db   *bitcaskDB
	root bool // true for the handle returned by OpenBitcask; owns db shutdown

	mu      sync.Mutex
	fdCache map[uint64]*segment
}

var _ Engine = (*Handle)(nil)

func (h *Handle) segmentFor(id uint64, minLen int64) (*segment, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if seg, ok := h.fdCache[id]; ok {
		if seg.length < minLen {
			// Cached while it was the active segment; it has grown since.
			info, err := seg.file.Stat()
			if err != nil {
				return nil, err
			}
			seg.length = info.Size()
		}
		return seg, nil
	}

	f, err := os.Open(segmentPath(h.db.dir, id))
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	seg := &segment{id: id, file: f, length: info.Size()}
	h.fdCache[id] = seg
	return seg, nil
}

// Get resolves key through the key directory and reads its Set record
// straight from the segment file, bypassing the writer lock entirely.
func (h *Handle) Get(key []byte) ([]byte, error) {
	entry, ok := h.db.dirIdx.get(string(key))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}

	val, err := h.readEntry(entry, key)
	if errors.Is(err, os.ErrNotExist) {
		// The segment vanished between our directory lookup and opening
		// its fd — compaction relocated this key concurrently. The
		// directory now has the fresh location; retry once.
		entry, ok = h.db.dirIdx.get(string(key))
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
		val, err = h.readEntry(entry, key)
	}
	return val, err
}

func (h *Handle) readEntry(entry IndexEntry, key []byte) ([]byte, error) {
	seg, err := h.segmentFor(entry.SegmentID, entry.Offset+entry.Length)
	if err != nil {
		return nil, err
	}

	buf, err := seg.readAt(entry.Offset, entry.Length)
	if err != nil {
		return nil, err
	}

	rec, _, err := decodeOne(bufio.NewReader(bytes.NewReader(buf)))
	if err != nil {
		return nil, fmt.Errorf("decode record at segment %d offset %d: %w", entry.SegmentID, entry.Offset, err)
	}

	if rec.Type != typeSet || !bytes.Equal(rec.Key, key) {
		return nil, fmt.Errorf("%w: directory entry for %q resolved to %v", ErrInternalInconsistency, key, rec.Type)
	}

	return rec.Value, nil
}

func (h *Handle) Set(key, value []byte) error { return h.db.set(key, value) }

func (h *Handle) Remove(key []byte) error { return h.db.remove(key) }

// CloneHandle returns a new handle sharing this one's underlying db state
// but with its own empty fd cache.
func (h *Handle) CloneHandle() (Engine, error) {
	return &Handle{db: h.db, fdCache: make(map[uint64]*segment)}, nil
}

// Close releases this handle's private file descriptors. Only the root
// handle returned by OpenBitcask additionally flushes and closes the
// shared segment files.
func (h *Handle) Close() error {
	h.mu.Lock()
	for id, f := range h.fdCache {
		_ = f.close()
		delete(h.fdCache, id)
	}
	h.mu.Unlock()

	if h.root {
		return h.db.close()
	}
	return nil
}
