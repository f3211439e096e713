package core

import (
	"errors"
	"os"
	"testing"
)

func TestOpenRecoversTruncatedTailRecord(t *testing.T) {
	engine, path := SetupTempDB(t, WithMergeEnabled(false))

	if err := engine.Set([]byte("alpha"), []byte("one")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := engine.Set([]byte("beta"), []byte("two")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	segPath := segmentPath(path, 0)
	clean, err := os.ReadFile(segPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	partial, err := encodeRecord(record{Type: typeSet, Key: []byte("gamma"), Value: []byte("three")})
	if err != nil {
		t.Fatalf("encodeRecord failed: %v", err)
	}
	// Simulate a crash mid-write: only part of the third record made it
	// to disk.
	corrupted := append(clean, partial[:len(partial)-4]...)
	if err := os.WriteFile(segPath, corrupted, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	reopened, err := OpenBitcask(path, WithMergeEnabled(false))
	if err != nil {
		t.Fatalf("OpenBitcask should recover from a truncated tail record, got: %v", err)
	}
	defer reopened.Close() // nolint:errcheck

	if val, err := reopened.Get([]byte("alpha")); err != nil || string(val) != "one" {
		t.Errorf("Get(alpha): expected one, got %q, %v", val, err)
	}
	if val, err := reopened.Get([]byte("beta")); err != nil || string(val) != "two" {
		t.Errorf("Get(beta): expected two, got %q, %v", val, err)
	}
	if _, err := reopened.Get([]byte("gamma")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get(gamma): expected the partially written record to be dropped, got %v", err)
	}

	info, err := os.Stat(segPath)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != int64(len(clean)) {
		t.Errorf("expected segment truncated back to %d bytes, got %d", len(clean), info.Size())
	}
}

func TestOpenFailsOnMidSegmentCorruption(t *testing.T) {
	engine, path := SetupTempDB(t, WithMergeEnabled(false))

	if err := engine.Set([]byte("alpha"), []byte("one")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := engine.Set([]byte("beta"), []byte("two")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	segPath := segmentPath(path, 0)
	data, err := os.ReadFile(segPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	// Flip a payload byte in the first record, well before the end of the
	// file: the checksum no longer matches, but the file length is
	// otherwise untouched, so this is not a truncated tail.
	data[hdrLen] ^= 0xFF
	if err := os.WriteFile(segPath, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := OpenBitcask(path, WithMergeEnabled(false)); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord for mid-segment corruption, got %v", err)
	}
}
