package core

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// segment is a single append-only log file, identified by a monotonically
// increasing id. Exactly one segment in a store is active (writable); the
// rest are immutable until deleted by compaction.
type segment struct {
	id     uint64
	file   *os.File
	length int64 // current file length
}

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, logsDirName, fmt.Sprintf("%020d.log", id))
}

// newSegment creates a fresh, empty segment file.
func newSegment(dir string, id uint64) (*segment, error) {
	path := segmentPath(dir, id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create segment %d: %w", id, err)
	}
	return &segment{id: id, file: f}, nil
}

// openSegment opens an existing segment file for read/write access; the
// caller is responsible for replaying and truncating it.
func openSegment(dir string, id uint64) (*segment, error) {
	path := segmentPath(dir, id)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment %d: %w", id, err)
	}
	return &segment{id: id, file: f}, nil
}

// append writes bytes at the end of the segment and returns the pre-write
// offset. When fsync is true, the write is flushed to stable storage before
// returning — the durability boundary client writes rely on.
func (s *segment) append(b []byte, fsync bool) (offset int64, err error) {
	offset = s.length

	n, err := s.file.WriteAt(b, offset)
	if err != nil {
		return 0, fmt.Errorf("write segment %d: %w", s.id, err)
	}
	if n != len(b) {
		return 0, fmt.Errorf("short write on segment %d: wrote %d of %d", s.id, n, len(b))
	}

	s.length += int64(n)

	if fsync {
		if err := s.file.Sync(); err != nil {
			return 0, fmt.Errorf("fsync segment %d: %w", s.id, err)
		}
	}

	return offset, nil
}

// readAt reads the length bytes at offset. Fails with an out-of-range error
// if the window exceeds the segment's length.
func (s *segment) readAt(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > s.length {
		return nil, fmt.Errorf("read segment %d: window [%d,%d) out of range (length %d)",
			s.id, offset, offset+length, s.length)
	}

	buf := make([]byte, length)
	if _, err := s.file.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("read segment %d at %d: %w", s.id, offset, err)
	}
	return buf, nil
}

func (s *segment) sync() error {
	return s.file.Sync()
}

func (s *segment) close() error {
	return s.file.Close()
}

func (s *segment) remove(dir string) error {
	return os.Remove(segmentPath(dir, s.id))
}

// replayedRecord is a decoded record plus its physical location, yielded by
// replaySegment while rebuilding the key directory at Open.
type replayedRecord struct {
	rec    record
	offset int64
	length int64
}

// scanRecords reads every clean record from r in order, stopping silently
// at a clean EOF or a truncated trailing record. It never mutates r. The
// returned cleanLength is the offset immediately after the last fully
// decoded record — the caller truncates to it if it wants to discard a
// truncated tail. A checksum failure or malformed payload that is not at
// the tail is a genuine error (ErrCorruptRecord).
func scanRecords(r io.ReaderAt) (recs []replayedRecord, cleanLength int64, err error) {
	const maxInt64 = 1<<63 - 1
	br := bufio.NewReader(io.NewSectionReader(r, 0, maxInt64))

	var off int64
	for {
		rec, consumed, err := decodeOne(br)
		if err == io.EOF || err == errTruncatedTail {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("scan record at offset %d: %w", off, err)
		}

		recs = append(recs, replayedRecord{rec: rec, offset: off, length: consumed})
		off += consumed
	}

	return recs, off, nil
}

// replaySegment scans every record in a freshly opened segment, in order,
// and truncates the file at the last clean boundary if a trailing partial
// record is found, recovering from a crash mid-write. A checksum failure
// or malformed payload that is NOT at the tail is fatal and reported as
// ErrCorruptRecord.
func replaySegment(s *segment) ([]replayedRecord, error) {
	info, err := s.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment %d: %w", s.id, err)
	}

	recs, cleanLength, err := scanRecords(s.file)
	if err != nil {
		return nil, fmt.Errorf("replay segment %d: %w", s.id, err)
	}

	if cleanLength != info.Size() {
		if err := s.file.Truncate(cleanLength); err != nil {
			return nil, fmt.Errorf("truncate segment %d: %w", s.id, err)
		}
	}
	s.length = cleanLength

	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("seek end segment %d: %w", s.id, err)
	}

	return recs, nil
}
