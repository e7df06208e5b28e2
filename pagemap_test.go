package fcmalloc

import (
	"testing"
	"unsafe"
)

func TestSlabDescriptorAllocFreeCycle(t *testing.T) {
	var d slabDescriptor
	d.cellSize = 16
	cells := cellsPerSlabPage(16)
	d.ensureWords(cells)

	seen := map[int]bool{}
	for i := 0; i < cells; i++ {
		pos, ok := d.alloc()
		if !ok {
			t.Fatalf("alloc %d/%d unexpectedly failed", i, cells)
		}
		if seen[pos] {
			t.Fatalf("alloc returned duplicate position %d", pos)
		}
		seen[pos] = true
	}
	if !d.full(cells) {
		t.Error("descriptor should report full once every cell is allocated")
	}
	if _, ok := d.alloc(); ok {
		t.Error("alloc on a full descriptor should fail")
	}

	for pos := range seen {
		d.free(pos)
	}
	if !d.empty() {
		t.Error("descriptor should be empty once every cell is freed")
	}
}

func TestSlabDescriptorManyCellsExceedsSingleWord(t *testing.T) {
	// A 256KiB page of 16-byte cells holds far more than 64 cells; this
	// is exactly the case a single uint64 bitmap cannot represent.
	cells := cellsPerSlabPage(16)
	if cells <= 64 {
		t.Fatalf("test assumption violated: expected >64 cells, got %d", cells)
	}
	var d slabDescriptor
	d.ensureWords(cells)
	if got := len(d.words); got < 2 {
		t.Errorf("expected multiple bitmap words for %d cells, got %d", cells, got)
	}
}

func TestPageMapSetGetRoundTrip(t *testing.T) {
	pm := &pageMap{}
	addr := make([]byte, AlignChunkSize)
	pageAddr := pageBaseOf(unsafe.Pointer(&addr[0]))

	if pm.isInit(pageAddr) {
		t.Fatal("page map should start uninitialized for a fresh address")
	}

	leaf := &pageLeaf{}
	pm.set(pageAddr, slabDescriptor{cellSize: 32}, leaf)

	if !pm.isInit(pageAddr) {
		t.Fatal("page map should report initialized after set")
	}
	got := pm.get(pageAddr)
	if got.cellSize != 32 {
		t.Errorf("round-tripped cellSize: want 32, got %d", got.cellSize)
	}

	desc := pm.descriptorFor(pageAddr)
	if desc == nil {
		t.Fatal("descriptorFor should find the just-installed entry")
	}
	desc.cellSize = 64
	if got := pm.get(pageAddr).cellSize; got != 64 {
		t.Error("descriptorFor should return a live pointer into the leaf, not a copy")
	}
}

func TestSplitPageAddrRoundTrip(t *testing.T) {
	addr := uintptr(0x7f0000000000)
	i1, i2 := splitPageAddr(addr)
	if i1 < 0 || i2 < 0 || i2 >= leafLength {
		t.Errorf("splitPageAddr produced out-of-range indices i1=%d i2=%d", i1, i2)
	}
	if back := (uintptr(i1)<<leafBits | uintptr(i2)) << smallBinBits; back != addr {
		t.Errorf("indices i1=%d i2=%d rebuild 0x%x, want 0x%x", i1, i2, back, addr)
	}
}
