package core

import (
	"os"
	"path/filepath"
)

// writeFileAtomic atomically replaces path with data: write a temp file in
// the same directory, fsync it, rename it over path, then fsync the
// directory so the rename itself is durable.
func writeFileAtomic(path string, data []byte) (err error) {
	tmpPath := path + ".tmp"

	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	tmpf, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err = tmpf.Write(data); err != nil {
		_ = tmpf.Close()
		return err
	}
	if err = tmpf.Sync(); err != nil {
		_ = tmpf.Close()
		return err
	}
	if err = tmpf.Close(); err != nil {
		return err
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close() // nolint:errcheck

	return d.Sync()
}

// createFileDurable creates (or truncates) path and fsyncs both the file
// and its parent directory, so the directory entry survives a crash.
func createFileDurable(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close() // nolint:errcheck

	if len(data) > 0 {
		if _, err := f.Write(data); err != nil {
			return err
		}
	}
	if err := f.Sync(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close() // nolint:errcheck

	return d.Sync()
}
