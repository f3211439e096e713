package core

import "testing"

func TestDirectoryGetSetDelete(t *testing.T) {
	d := newDirectory()

	if _, ok := d.get("foo"); ok {
		t.Fatalf("expected missing key to be absent")
	}

	d.set("foo", IndexEntry{SegmentID: 1, Offset: 10, Length: 5})
	entry, ok := d.get("foo")
	if !ok || entry.SegmentID != 1 || entry.Offset != 10 || entry.Length != 5 {
		t.Errorf("unexpected entry after set: %+v, ok=%v", entry, ok)
	}

	d.delete("foo")
	if _, ok := d.get("foo"); ok {
		t.Errorf("expected key to be absent after delete")
	}
}

func TestDirectoryCompareAndSet(t *testing.T) {
	d := newDirectory()

	prev := IndexEntry{SegmentID: 1, Offset: 0, Length: 5}
	d.set("foo", prev)

	next := IndexEntry{SegmentID: 2, Offset: 100, Length: 5}
	if !d.compareAndSet("foo", prev, next) {
		t.Fatalf("compareAndSet should succeed when current matches prev")
	}
	got, _ := d.get("foo")
	if got != next {
		t.Errorf("expected entry to be updated to %+v, got %+v", next, got)
	}

	// A second compareAndSet against the stale prev must fail: the
	// directory already moved on (mirrors compaction racing a concurrent
	// write).
	stale := IndexEntry{SegmentID: 3, Offset: 200, Length: 5}
	if d.compareAndSet("foo", prev, stale) {
		t.Errorf("compareAndSet should fail against a stale prev")
	}
	got, _ = d.get("foo")
	if got != next {
		t.Errorf("entry should remain %+v after failed compareAndSet, got %+v", next, got)
	}
}

func TestDirectoryReferencedSegmentIDs(t *testing.T) {
	d := newDirectory()
	d.set("a", IndexEntry{SegmentID: 1})
	d.set("b", IndexEntry{SegmentID: 2})
	d.set("c", IndexEntry{SegmentID: 1})

	refs := d.referencedSegmentIDs()
	if len(refs) != 2 {
		t.Fatalf("expected 2 referenced segment ids, got %d", len(refs))
	}
	if _, ok := refs[1]; !ok {
		t.Errorf("expected segment 1 to be referenced")
	}
	if _, ok := refs[2]; !ok {
		t.Errorf("expected segment 2 to be referenced")
	}
}
