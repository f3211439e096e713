package core

import (
	"fmt"
	"os"
)

// compact rewrites the live entries of every currently-immutable segment
// into one or more fresh segments, then deletes the originals. It runs on
// its own goroutine, serialized against other compactions by compactSem,
// and takes the writer lock only to read the immutable segment snapshot,
// to claim each new segment id, and to publish the new directory entries.
func (db *bitcaskDB) compact() (rerr error) {
	db.rw.RLock()
	toCompact := make([]*segment, 0, len(db.segs))
	for id, seg := range db.segs {
		if id != db.activeID {
			toCompact = append(toCompact, seg)
		}
	}
	db.rw.RUnlock()

	db.onCompactStart()

	if len(toCompact) == 0 {
		return nil
	}

	var newSegs []*segment
	defer func() {
		if rerr != nil {
			for _, seg := range newSegs {
				_ = seg.close()
				_ = seg.remove(db.dir)
			}
		}
	}()

	rollover := func() (*segment, error) {
		db.rw.Lock()
		id := db.claimNextSegmentID()
		db.rw.Unlock()

		seg, err := newSegment(db.dir, id)
		if err != nil {
			return nil, fmt.Errorf("create compaction segment %d: %w", id, err)
		}
		newSegs = append(newSegs, seg)
		return seg, nil
	}

	out, err := rollover()
	if err != nil {
		return err
	}

	type relocation struct {
		key  string
		prev IndexEntry
		next IndexEntry
	}
	var relocations []relocation

	for _, src := range toCompact {
		recs, _, err := scanRecords(src.file)
		if err != nil {
			return fmt.Errorf("scan segment %d for compaction: %w", src.id, err)
		}

		for _, rr := range recs {
			if rr.rec.Type != typeSet {
				continue
			}
			key := string(rr.rec.Key)

			cur, ok := db.dirIdx.get(key)
			if !ok {
				continue // deleted since this segment was written
			}
			// Only carry forward this record if it is still the
			// directory's current pointer for the key — a newer write
			// to another (possibly active) segment supersedes it.
			if cur.SegmentID != src.id || cur.Offset != rr.offset {
				continue
			}

			if out.length >= db.rolloverThreshold {
				out, err = rollover()
				if err != nil {
					return err
				}
			}

			encoded, err := encodeRecord(record{Type: typeSet, Key: rr.rec.Key, Value: rr.rec.Value})
			if err != nil {
				return err
			}
			off, err := out.append(encoded, false)
			if err != nil {
				return fmt.Errorf("write compacted record for %q: %w", key, err)
			}

			relocations = append(relocations, relocation{
				key:  key,
				prev: cur,
				next: IndexEntry{SegmentID: out.id, Offset: off, Length: int64(len(encoded))},
			})
		}
	}

	for _, seg := range newSegs {
		if err := seg.sync(); err != nil {
			return fmt.Errorf("sync compaction segment %d: %w", seg.id, err)
		}
	}

	db.onCompactApply()

	db.rw.Lock()
	for _, r := range relocations {
		// Skip keys that moved again (new write, or removed) between the
		// scan above and now; their current entry wins.
		db.dirIdx.compareAndSet(r.key, r.prev, r.next)
	}

	for _, seg := range newSegs {
		db.segs[seg.id] = seg
	}

	referenced := db.dirIdx.referencedSegmentIDs()
	var toDelete []*segment
	for _, src := range toCompact {
		if _, stillLive := referenced[src.id]; !stillLive {
			delete(db.segs, src.id)
			toDelete = append(toDelete, src)
		}
	}

	writeErr := writeManifest(db.dir, db.sortedSegmentIDsLocked())
	db.rw.Unlock()

	if writeErr != nil {
		return fmt.Errorf("write manifest after compaction: %w", writeErr)
	}

	for _, seg := range toDelete {
		if err := seg.close(); err != nil {
			db.logger.Warn().Err(err).Uint64("segment", seg.id).Msg("close compacted segment")
		}
		if err := seg.remove(db.dir); err != nil && !os.IsNotExist(err) {
			db.logger.Warn().Err(err).Uint64("segment", seg.id).Msg("remove compacted segment")
		}
	}

	return nil
}
