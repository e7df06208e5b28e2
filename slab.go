package fcmalloc

import "unsafe"

// slabPage wraps a mapped, aligned AlignChunkSize page that hosts a
// descriptor-tracked slab of fixed-size cells.
type slabPage struct {
	base     unsafe.Pointer
	cellSize int32
}

// cellsPerSlabPage returns how many cells of cellSize fit in a slab
// page's body (the page minus its one tracking block_header).
func cellsPerSlabPage(cellSize int32) int {
	return int((AlignChunkSize - headerSize) / int(cellSize))
}

// allocCell finds the highest-order zero bit in desc's occupancy bitmap,
// marks it set, and returns the address of that cell. ok is false if
// the slab is already full.
func allocCell(page slabPage, desc *slabDescriptor) (addr unsafe.Pointer, filled bool, ok bool) {
	pos, found := desc.alloc()
	if !found {
		return nil, false, false
	}
	addr = unsafe.Add(page.base, pos*int(page.cellSize))
	filled = desc.full(cellsPerSlabPage(page.cellSize))
	return addr, filled, true
}

// freeCell clears the bit owning ptr within page/desc and reports
// whether the slab became entirely empty as a result.
func freeCell(page slabPage, desc *slabDescriptor, ptr unsafe.Pointer) (emptied bool) {
	offset := uintptr(ptr) - uintptr(page.base)
	pos := int(offset / uintptr(page.cellSize))
	desc.free(pos)
	return desc.empty()
}

// pageBaseOf rounds addr down to its AlignChunkSize-aligned page base.
func pageBaseOf(addr unsafe.Pointer) uintptr {
	return uintptr(addr) &^ (AlignChunkSize - 1)
}
