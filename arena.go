package fcmalloc

import (
	"sync/atomic"
	"unsafe"
)

// arena is a per-thread (or per-bound-caller) allocator holding the
// first-level front caches described in the thread-arena component:
// one front slab per small size class, one front block per large size
// class, and the lock-free hand-off used to deliver freed blocks to the
// collector. Arenas are never freed; once registered they stay linked
// into the process-wide thread list for the collector to walk, matching
// the source's append-only thread list.
type arena struct {
	next atomic.Pointer[arena]
	owner *Allocator

	smallFront [NumSmallBins]slabSlot
	largeFront [NumLargeBins]block

	gc handoff
}

// slabSlot is the front cache for one small size class: the currently
// open slab page and a pointer to its live descriptor in the page map.
type slabSlot struct {
	page slabPage
	desc *slabDescriptor
}

func (s slabSlot) valid() bool {
	return s.desc != nil
}

func newArena(owner *Allocator) *arena {
	return &arena{owner: owner}
}

// classForBody returns the size class a free block of the given body
// length belongs to, using the same class_of(size+header) rule applied
// when a request is first classified.
func classForBody(body int32) int {
	return globalSizeMap.classOf(body + headerSize)
}

func (a *arena) allocate(size int) (unsafe.Pointer, error) {
	if size < 0 {
		return nil, ErrInvalidSize
	}
	if size == 0 {
		return nil, nil
	}
	sz := int32(size)
	if sz < minBlockSize {
		sz = minBlockSize
	}

	switch {
	case sz <= SmallBlock:
		return a.allocSmall(sz)
	case int64(sz)+headerSize < LargeBlock:
		return a.allocVariable(sz)
	default:
		return a.allocHuge(sz)
	}
}

func (a *arena) allocSmall(sz int32) (unsafe.Pointer, error) {
	class := globalSizeMap.classOf(sz)
	if class >= NumSmallBins {
		class = NumSmallBins - 1
	}

	slot := &a.smallFront[class]
	if !slot.valid() {
		if !a.refillSlab(class) {
			return nil, ErrOutOfMemory
		}
	}

	addr, filled, ok := allocCell(slot.page, slot.desc)
	if !ok {
		if !a.refillSlab(class) {
			return nil, ErrOutOfMemory
		}
		addr, filled, ok = allocCell(slot.page, slot.desc)
		if !ok {
			return nil, ErrOutOfMemory
		}
	}
	if filled {
		*slot = slabSlot{}
	}
	return addr, nil
}

// refillSlab installs a fresh open slab for class into the arena's
// front cache, first trying the middle tier and falling back to mapping
// ListCacheNum fresh AlignChunkSize pages at once: one is kept for
// immediate use, the rest are handed to the collector so they populate
// the align bin for the next arena that comes up dry.
func (a *arena) refillSlab(class int) bool {
	cellSize := globalSizeMap.maxSizeOf(class)

	chunk, ok := a.owner.alignBin.tryClaim()
	if !ok {
		first, extras, err := a.mapSlabPages()
		if err != nil {
			return false
		}
		for _, extra := range extras {
			extra.setFlag(flagAlign)
			a.gc.release(extra)
		}
		chunk = first
	}

	base := chunk.data()
	pageBase := pageBaseOf(base)
	desc := a.owner.pageMap.descriptorFor(pageBase)
	if desc == nil {
		leaf, err := a.acquireMetaLeaf()
		if err != nil {
			return false
		}
		a.owner.pageMap.set(pageBase, slabDescriptor{cellSize: cellSize}, leaf)
		desc = a.owner.pageMap.descriptorFor(pageBase)
	} else if desc.cellSize != cellSize {
		*desc = slabDescriptor{cellSize: cellSize}
	}
	desc.ensureWords(cellsPerSlabPage(cellSize))

	a.smallFront[class] = slabSlot{page: slabPage{base: base, cellSize: cellSize}, desc: desc}
	return true
}

// mapSlabPages maps ListCacheNum fresh, AlignChunkSize-aligned slab
// pages in one batch, tagging each with an ALIGN block header. The
// first is returned for immediate use; the rest are returned separately
// so the caller can hand them off to the collector.
func (a *arena) mapSlabPages() (first block, extras []block, err error) {
	blocks := make([]block, 0, ListCacheNum)
	for i := 0; i < ListCacheNum; i++ {
		base, raw, mapErr := a.owner.pg.mapAlignedPages(AlignChunkSize, AlignChunkSize)
		if mapErr != nil {
			err = mapErr
			return
		}
		a.owner.trackPage(uintptr(base), raw)
		b := blockAt(base)
		b.init(AlignChunkSize - headerSize)
		b.setFlag(flagAlign)
		blocks = append(blocks, b)
	}
	return blocks[0], blocks[1:], nil
}

// acquireMetaLeaf returns a fresh page-map leaf, backed by its own
// dedicated mapping. Leaves are large and rare compared to slab pages,
// so unlike small-object slabs they are not worth batching through
// ListCacheNum; each comes from its own OS mapping.
func (a *arena) acquireMetaLeaf() (*pageLeaf, error) {
	if b, ok := a.owner.metaBin.tryClaim(); ok {
		return (*pageLeaf)(b.data()), nil
	}
	leafSize := int(unsafe.Sizeof(pageLeaf{}))
	base, raw, err := a.owner.pg.mapPages(headerSize + leafSize)
	if err != nil {
		return nil, err
	}
	a.owner.trackPage(uintptr(base), raw)
	b := blockAt(base)
	b.init(int32(leafSize))
	b.setFlag(flagMeta)
	return (*pageLeaf)(b.data()), nil
}

func (a *arena) allocVariable(sz int32) (unsafe.Pointer, error) {
	need := sz + headerSize
	class := globalSizeMap.classOf(need)
	if class < NumSmallBins {
		class = NumSmallBins
	}
	localClass := class - NumSmallBins

	for localClass < NumLargeBins {
		if b, ok := a.fetchFromFrontAndMiddle(localClass); ok {
			return b.data(), nil
		}
		localClass += globalSizeMap.skip(NumSmallBins + localClass)
	}

	base, raw, err := a.owner.pg.mapPages(ChunkSize)
	if err != nil {
		return nil, err
	}
	a.owner.trackPage(uintptr(base), raw)
	head := blockAt(base)
	head.init(ChunkSize - headerSize)

	if tail, ok := head.splitAfter(sz); ok {
		a.cacheOrRelease(tail)
	}
	return head.data(), nil
}

// fetchFromFrontAndMiddle implements the documented two-claim protocol:
// front cache first; otherwise attempt two claims from the middle-tier
// bin, storing the first into the front cache and returning the second,
// falling back to whichever single claim succeeded.
func (a *arena) fetchFromFrontAndMiddle(localClass int) (block, bool) {
	front := &a.largeFront[localClass]
	if front.addr != nil {
		b := *front
		*front = block{}
		return b, true
	}

	bin := a.owner.largeBins[localClass]
	b1, ok1 := bin.tryClaim()
	if !ok1 {
		return block{}, false
	}
	b2, ok2 := bin.tryClaim()
	if ok2 {
		*front = b1
		return b2, true
	}
	return b1, true
}

// cacheOrRelease implements the tail-cache insertion policy: try the
// tail's own size class's front cache; if occupied, hand it to the
// collector instead.
func (a *arena) cacheOrRelease(tail block) {
	class := classForBody(tail.absSize())
	if class >= NumSmallBins {
		localClass := class - NumSmallBins
		if localClass < NumLargeBins && a.largeFront[localClass].addr == nil {
			a.largeFront[localClass] = tail
			return
		}
	}
	a.gc.release(tail)
}

func (a *arena) allocHuge(sz int32) (unsafe.Pointer, error) {
	total := int(sz) + headerSize
	base, raw, err := a.owner.pg.mapPages(total)
	if err != nil {
		return nil, err
	}
	a.owner.trackPage(uintptr(base), raw)
	b := blockAt(base)
	b.init(sz)
	b.setFlag(flagBig)
	return b.data(), nil
}

// free dispatches by the pointer's page: a slab descriptor means the
// slab path, otherwise the header is consulted directly.
func (a *arena) free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}
	pageBase := pageBaseOf(ptr)
	if desc := a.owner.pageMap.descriptorFor(pageBase); desc != nil && desc.cellSize != 0 {
		page := slabPage{base: unsafe.Pointer(pageBase + headerSize), cellSize: desc.cellSize}
		emptied := freeCell(page, desc, ptr)
		if emptied {
			chunk := blockAt(unsafe.Pointer(pageBase))
			chunk.setFlag(flagAlign)
			a.gc.release(chunk)
		}
		return nil
	}

	b := blockAt(unsafe.Add(ptr, -headerSize))
	switch {
	case b.hasFlag(flagBig):
		// Huge allocations come straight from mapPages and are not
		// AlignChunkSize-aligned, so the mapping's tracked key is the
		// block's own address, not a page-masked one.
		return a.owner.unmapDirect(uintptr(b.addr))
	case b.absSize() <= LargeBlock:
		a.gc.release(b)
		return nil
	default:
		return a.owner.unmapDirect(uintptr(b.addr))
	}
}

// flushResidualCaches hands every block still resident in the arena's
// front caches to the collector, mirroring the source's
// thread_allocator_gc destructor hand-off run when a thread exits.
func (a *arena) flushResidualCaches() {
	for i := range a.largeFront {
		if a.largeFront[i].addr != nil {
			a.gc.release(a.largeFront[i])
			a.largeFront[i] = block{}
		}
	}
	// Open slab pages are left in place: they remain individually
	// addressable via the page map and continue to serve frees/allocs
	// through it even with no arena holding them as a front cache.
}
