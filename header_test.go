package fcmalloc

import (
	"testing"
	"unsafe"
)

func newTestPage(t *testing.T, size int) unsafe.Pointer {
	t.Helper()
	buf := make([]byte, size)
	return unsafe.Pointer(&buf[0])
}

func TestHeaderPackUnpack(t *testing.T) {
	page := newTestPage(t, 256)
	b := blockAt(page)
	b.init(128)

	if !b.isTail() {
		t.Fatal("freshly initialized block should be a tail sentinel")
	}
	if got := b.absSize(); got != 128 {
		t.Errorf("absSize: want 128, got %d", got)
	}
	if got := b.prevSize(); got != 0 {
		t.Errorf("prevSize: want 0, got %d", got)
	}

	b.setFlag(flagMergeable)
	if !b.hasFlag(flagMergeable) {
		t.Error("setFlag did not stick")
	}
	b.clearFlag(flagMergeable)
	if b.hasFlag(flagMergeable) {
		t.Error("clearFlag did not clear")
	}
}

func TestHeaderSizeSignExtension(t *testing.T) {
	page := newTestPage(t, 64)
	b := blockAt(page)
	b.setRaw(packHeader(0, -40, flagBig))

	if got := b.size(); got != -40 {
		t.Errorf("size: want -40, got %d", got)
	}
	if got := b.absSize(); got != 40 {
		t.Errorf("absSize: want 40, got %d", got)
	}
	if !b.isTail() {
		t.Error("negative size must read back as a tail sentinel")
	}
	if !b.hasFlag(flagBig) {
		t.Error("flags must survive alongside a negative size")
	}
}

func TestHeaderSplitAfter(t *testing.T) {
	page := newTestPage(t, 512)
	head := blockAt(page)
	head.init(256)

	tail, ok := head.splitAfter(64)
	if !ok {
		t.Fatal("splitAfter should succeed with ample remainder")
	}
	if got := head.absSize(); got != 64 {
		t.Errorf("head size after split: want 64, got %d", got)
	}
	if !tail.isTail() {
		t.Error("tail should inherit the original tail bit")
	}
	wantRemainder := int32(256 - 64 - headerSize)
	if got := tail.absSize(); got != wantRemainder {
		t.Errorf("tail size: want %d, got %d", wantRemainder, got)
	}
	if got := tail.prevSize(); got != 64 {
		t.Errorf("tail prevSize: want 64, got %d", got)
	}

	prev, ok := tail.prev()
	if !ok || prev.addr != head.addr {
		t.Error("tail.prev() should walk back to head")
	}
}

func TestHeaderSplitAfterRejectsUndersizedRemainder(t *testing.T) {
	page := newTestPage(t, 128)
	head := blockAt(page)
	head.init(40)

	_, ok := head.splitAfter(40 - headerSize - minBlockSize + 1)
	if ok {
		t.Error("splitAfter should refuse a remainder smaller than minBlockSize")
	}
}

func TestHeaderMergeNextAndPrev(t *testing.T) {
	page := newTestPage(t, 512)
	head := blockAt(page)
	head.init(256)

	tail, ok := head.splitAfter(64)
	if !ok {
		t.Fatal("setup split failed")
	}
	head.setFlag(flagMergeable)
	tail.setFlag(flagMergeable)

	if !head.mergeNext() {
		t.Fatal("mergeNext should succeed against a MERGEABLE neighbour")
	}
	if got := head.absSize(); got != 256 {
		t.Errorf("merged size: want 256, got %d", got)
	}
	if !head.isTail() {
		t.Error("merging back to the original extent should restore the tail bit")
	}
}

func TestHeaderNeighborsAtPageEdges(t *testing.T) {
	page := newTestPage(t, 256)
	head := blockAt(page)
	head.init(200)

	_, hasPrev, _, hasNext := head.neighbors()
	if hasPrev {
		t.Error("first block in a page must have no predecessor")
	}
	if hasNext {
		t.Error("a tail sentinel must have no successor")
	}
}
