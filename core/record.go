package core

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"
)

// recordType discriminates the two record variants stored in a log segment.
type recordType uint8

const (
	typeRemove recordType = iota
	typeSet
)

// record is the unit of serialization in a log segment. A Remove record
// carries no value; Timestamp is metadata only, used for diagnostics, never
// for ordering (OpenBitcask replays by ascending segment id, then offset,
// so the later record wins).
type record struct {
	Type      recordType `msgpack:"t"`
	Key       []byte     `msgpack:"k"`
	Value     []byte     `msgpack:"v,omitempty"`
	Timestamp int64      `msgpack:"ts"`
}

// lenSize+csLen is the fixed frame header in front of every msgpack payload.
const (
	lenSize = 4
	csLen   = 8
	hdrLen  = lenSize + csLen
)

// encode msgpack-encodes r and wraps it in the on-disk frame:
// [4-byte LE payload length][8-byte xxh3 checksum][msgpack payload].
func encodeRecord(r record) ([]byte, error) {
	payload, err := msgpack.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	buf := make([]byte, hdrLen+len(payload))
	binary.LittleEndian.PutUint32(buf[:lenSize], uint32(len(payload)))
	binary.LittleEndian.PutUint64(buf[lenSize:hdrLen], xxh3.Hash(payload))
	copy(buf[hdrLen:], payload)

	return buf, nil
}

// decodeOne reads one frame from r, advancing it by exactly the frame's
// length, and reports that length in consumed. Returns io.EOF at a clean
// record boundary (no bytes read yet). A partial header, or a header
// present but insufficient payload, signals a truncated tail via
// errTruncatedTail; the caller truncates the segment there. A checksum
// mismatch is ErrCorruptRecord — unlike a truncated tail, this indicates
// the record was written and acknowledged, so it cannot be silently
// dropped.
func decodeOne(r *bufio.Reader) (rec record, consumed int64, err error) {
	var hdr [hdrLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return record{}, 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return record{}, 0, errTruncatedTail
		}
		return record{}, 0, fmt.Errorf("read record header: %w", err)
	}

	payloadLen := binary.LittleEndian.Uint32(hdr[:lenSize])
	wantChecksum := binary.LittleEndian.Uint64(hdr[lenSize:hdrLen])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return record{}, 0, errTruncatedTail
		}
		return record{}, 0, fmt.Errorf("read record payload: %w", err)
	}

	if got := xxh3.Hash(payload); got != wantChecksum {
		return record{}, 0, fmt.Errorf("%w: checksum %x, want %x", ErrCorruptRecord, got, wantChecksum)
	}

	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return record{}, 0, fmt.Errorf("%w: unmarshal: %v", ErrCorruptRecord, err)
	}

	return rec, int64(hdrLen) + int64(payloadLen), nil
}
