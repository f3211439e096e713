package core

import (
	"os"
	"testing"
)

// SetupTempDB opens a fresh bitcask store in a temp directory and
// registers its cleanup with tb.
func SetupTempDB(tb testing.TB, opts ...Option) (engine Engine, path string) {
	path, err := os.MkdirTemp("", "hobbes_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp failed: %v", err)
	}

	engine, err = OpenBitcask(path, opts...)
	if err != nil {
		_ = os.RemoveAll(path)
		tb.Fatalf("OpenBitcask(%q) failed: %v", path, err)
	}

	tb.Cleanup(func() {
		_ = engine.Close()
		_ = os.RemoveAll(path)
	})

	return engine, path
}
