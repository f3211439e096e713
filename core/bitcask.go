package core

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// bitcaskDB owns the segment set and key directory shared by every Handle
// cloned from the same Open call.
type bitcaskDB struct {
	dir string

	rw       sync.RWMutex // guards segs, activeID: serializes writers & rotation/compaction
	segs     map[uint64]*segment
	activeID uint64
	idCtr    uint64

	dirIdx *directory

	fsync             bool
	rolloverThreshold int64
	compactThreshold  int64
	mergeEnabled      bool

	compactSem     chan struct{}
	compactErrCh   chan error
	onCompactStart func() // test hook, fires once the compaction input set is chosen
	onCompactApply func() // test hook, fires just before the directory swap is published
	onCompactDone  func() // test hook, fires once a triggered compaction goroutine returns

	logger zerolog.Logger
}

// Option configures a bitcaskDB at Open time.
type Option func(*bitcaskDB)

func WithFsync(b bool) Option { return func(db *bitcaskDB) { db.fsync = b } }

func WithRolloverThreshold(n int64) Option {
	return func(db *bitcaskDB) { db.rolloverThreshold = n }
}

func WithCompactThreshold(n int64) Option {
	return func(db *bitcaskDB) { db.compactThreshold = n }
}

func WithMergeEnabled(b bool) Option { return func(db *bitcaskDB) { db.mergeEnabled = b } }

func WithLogger(l zerolog.Logger) Option { return func(db *bitcaskDB) { db.logger = l } }

func withOnCompactStart(f func()) Option { return func(db *bitcaskDB) { db.onCompactStart = f } }
func withOnCompactApply(f func()) Option { return func(db *bitcaskDB) { db.onCompactApply = f } }
func withOnCompactDone(f func()) Option  { return func(db *bitcaskDB) { db.onCompactDone = f } }

const (
	defaultRolloverThreshold = 1 * 1024 * 1024 // 1 MiB
	defaultCompactThreshold  = 4 * 1024 * 1024 // a few MiB
)

// OpenBitcask opens (or creates) a store directory using the native engine,
// replaying every segment's log in ascending id order to rebuild the key
// directory. It returns the root Engine handle for the store.
func OpenBitcask(dir string, opts ...Option) (Engine, error) {
	db := &bitcaskDB{
		dir:               dir,
		segs:              make(map[uint64]*segment),
		dirIdx:            newDirectory(),
		fsync:             true,
		rolloverThreshold: defaultRolloverThreshold,
		compactThreshold:  defaultCompactThreshold,
		mergeEnabled:      true,
		compactSem:        make(chan struct{}, 1),
		compactErrCh:      make(chan error, 1),
		onCompactStart:    func() {},
		onCompactApply:    func() {},
		onCompactDone:     func() {},
		logger:            log.Logger.With().Str("component", "engine").Logger(),
	}
	for _, opt := range opts {
		opt(db)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", dir, err)
	}
	if err := ensureMarker(dir, EngineBitcask); err != nil {
		return nil, err
	}
	if err := ensureLogsDir(dir); err != nil {
		return nil, fmt.Errorf("ensure logs dir: %w", err)
	}

	ids, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		seg, err := openSegment(dir, id)
		if err != nil {
			return nil, fmt.Errorf("open segment %d: %w", id, err)
		}

		recs, err := replaySegment(seg)
		if err != nil {
			_ = seg.close()
			return nil, fmt.Errorf("replay segment %d: %w", id, err)
		}

		for _, rr := range recs {
			key := string(rr.rec.Key)
			switch rr.rec.Type {
			case typeSet:
				db.dirIdx.set(key, IndexEntry{SegmentID: id, Offset: rr.offset, Length: rr.length})
			case typeRemove:
				db.dirIdx.delete(key)
			}
		}

		db.segs[id] = seg
	}

	maxID := uint64(0)
	haveSegments := len(ids) > 0
	if haveSegments {
		maxID = ids[len(ids)-1]
	}

	if !haveSegments {
		// Fresh directory: id 0 is the first active segment.
		if err := db.addSegmentLocked(0); err != nil {
			return nil, err
		}
		db.idCtr = 1
	} else {
		db.activeID = maxID
		db.idCtr = maxID + 1
	}

	if err := writeManifest(dir, db.sortedSegmentIDsLocked()); err != nil {
		return nil, err
	}

	db.logger.Info().Str("dir", dir).Int("segments", len(db.segs)).Msg("opened bitcask store")

	return &Handle{db: db, root: true, fdCache: make(map[uint64]*segment)}, nil
}

func (db *bitcaskDB) sortedSegmentIDsLocked() []uint64 {
	ids := make([]uint64, 0, len(db.segs))
	for id := range db.segs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// addSegmentLocked creates a fresh segment with the given id, makes it
// active, and registers it in segs. Caller must hold db.rw for writing, or
// call it only during Open before any handle is published.
func (db *bitcaskDB) addSegmentLocked(id uint64) error {
	seg, err := newSegment(db.dir, id)
	if err != nil {
		return fmt.Errorf("create segment %d: %w", id, err)
	}
	db.segs[id] = seg
	db.activeID = id
	return nil
}

func (db *bitcaskDB) claimNextSegmentID() uint64 {
	return atomic.AddUint64(&db.idCtr, 1) - 1
}

// set appends a Set record for key/value to the active segment and
// publishes its location in the key directory. Append-then-index ensures a
// crash mid-write either leaves a durable record replay will reconstruct,
// or leaves nothing — the directory never points at a non-durable offset.
func (db *bitcaskDB) set(key, value []byte) error {
	db.rw.Lock()
	defer db.rw.Unlock()

	rec := record{Type: typeSet, Key: key, Value: value, Timestamp: time.Now().UnixMilli()}
	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	seg := db.segs[db.activeID]
	off, err := seg.append(encoded, db.fsync)
	if err != nil {
		return err
	}

	db.dirIdx.set(string(key), IndexEntry{SegmentID: seg.id, Offset: off, Length: int64(len(encoded))})

	return db.maybeRotateLocked()
}

// remove appends a Remove tombstone for key, provided the key currently
// exists, then erases it from the key directory.
func (db *bitcaskDB) remove(key []byte) error {
	db.rw.Lock()
	defer db.rw.Unlock()

	if _, ok := db.dirIdx.get(string(key)); !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}

	rec := record{Type: typeRemove, Key: key, Timestamp: time.Now().UnixMilli()}
	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	seg := db.segs[db.activeID]
	if _, err := seg.append(encoded, db.fsync); err != nil {
		return err
	}

	db.dirIdx.delete(string(key))

	return db.maybeRotateLocked()
}

// maybeRotateLocked rotates the active segment once it crosses the
// rollover threshold, and kicks off compaction once enough immutable bytes
// have accumulated. Caller must hold db.rw.
func (db *bitcaskDB) maybeRotateLocked() error {
	active := db.segs[db.activeID]
	if active.length < db.rolloverThreshold {
		return nil
	}

	newID := db.claimNextSegmentID()
	if err := db.addSegmentLocked(newID); err != nil {
		return err
	}
	if err := writeManifest(db.dir, db.sortedSegmentIDsLocked()); err != nil {
		return err
	}

	if db.mergeEnabled && db.immutableBytesLocked() >= db.compactThreshold {
		db.triggerCompact()
	}

	return nil
}

func (db *bitcaskDB) immutableBytesLocked() int64 {
	var total int64
	for id, seg := range db.segs {
		if id == db.activeID {
			continue
		}
		total += seg.length
	}
	return total
}

func (db *bitcaskDB) triggerCompact() {
	select {
	case db.compactSem <- struct{}{}:
		go func() {
			defer func() { <-db.compactSem }()
			defer db.onCompactDone()
			if err := db.compact(); err != nil {
				db.logger.Error().Err(err).Msg("compaction failed")
				select {
				case db.compactErrCh <- err:
				default:
				}
			}
		}()
	default:
		// compaction already running
	}
}

// CompactErrors surfaces asynchronous compaction failures to callers that
// want to watch for them.
func (db *bitcaskDB) CompactErrors() <-chan error { return db.compactErrCh }

func (db *bitcaskDB) close() error {
	db.rw.Lock()
	defer db.rw.Unlock()

	var firstErr error
	for _, seg := range db.segs {
		if err := seg.sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
