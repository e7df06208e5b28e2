package fcmalloc

import "unsafe"

// headerFlag is the 4-bit flag set packed into every block header.
type headerFlag uint8

const (
	flagMergeable headerFlag = 1 << 0 // parked in a recycle bin, may be coalesced
	flagBig       headerFlag = 1 << 1 // bypassed the tiered path, came straight from the OS
	flagAlign     headerFlag = 1 << 2 // host page of a slab, must keep its original alignment
	flagMeta      headerFlag = 1 << 3 // holds internal metadata (a page-map leaf)
)

// headerSize is the number of bytes occupied by a block header.
const headerSize = 8

// block is a view over the 8-byte header that precedes every managed
// allocation. It does not own memory; it is always taken over a slice
// belonging to a page.
//
// Layout, matching the bit-exact format mandated by the allocator's wire
// contract: prevSize (32 bits) | size (28 bits, signed) | flags (4 bits).
// A negative size marks the block as the last one in its page (the tail
// sentinel).
type block struct {
	addr unsafe.Pointer
}

func blockAt(addr unsafe.Pointer) block {
	return block{addr: addr}
}

func (b block) raw() uint64 {
	return *(*uint64)(b.addr)
}

func (b block) setRaw(v uint64) {
	*(*uint64)(b.addr) = v
}

func packHeader(prevSize int32, size int32, flags headerFlag) uint64 {
	// size is stored in 28 bits including its sign; shift the flags into
	// the low nibble so flag bits never disturb the sign-extended size.
	signed := uint32(size) & 0x0FFFFFFF
	return uint64(uint32(prevSize))<<32 | uint64(signed)<<4 | uint64(flags&0x0F)
}

func (b block) prevSize() int32 {
	return int32(b.raw() >> 32)
}

func (b block) setPrevSize(v int32) {
	r := b.raw()
	r = (r &^ (uint64(0xFFFFFFFF) << 32)) | uint64(uint32(v))<<32
	b.setRaw(r)
}

// size returns the signed body length. Negative indicates the tail
// sentinel; callers that need the magnitude use absSize.
func (b block) size() int32 {
	raw28 := uint32(b.raw()>>4) & 0x0FFFFFFF
	// sign-extend bit 27 into a full int32.
	if raw28&(1<<27) != 0 {
		raw28 |= 0xF0000000
	}
	return int32(raw28)
}

func (b block) setSize(v int32) {
	r := b.raw()
	flags := headerFlag(r & 0x0F)
	r = packHeader(b.prevSize(), v, flags)
	b.setRaw(r)
}

func (b block) absSize() int32 {
	s := b.size()
	if s < 0 {
		return -s
	}
	return s
}

func (b block) isTail() bool {
	return b.size() < 0
}

func (b block) flags() headerFlag {
	return headerFlag(b.raw() & 0x0F)
}

func (b block) hasFlag(f headerFlag) bool {
	return b.flags()&f != 0
}

func (b block) setFlag(f headerFlag) {
	r := b.raw()
	r = (r &^ 0x0F) | uint64(b.flags()|f)
	b.setRaw(r)
}

func (b block) clearFlag(f headerFlag) {
	r := b.raw()
	r = (r &^ 0x0F) | uint64(b.flags()&^f)
	b.setRaw(r)
}

// data returns a pointer to the first byte of the block's body.
func (b block) data() unsafe.Pointer {
	return unsafe.Add(b.addr, headerSize)
}

// init marks b as a fresh tail sentinel of body length s.
func (b block) init(s int32) {
	b.setRaw(packHeader(0, -(s), 0))
}

// next returns the block immediately following b's body, or the zero
// block if b is the tail sentinel.
func (b block) next() (block, bool) {
	if b.isTail() {
		return block{}, false
	}
	n := blockAt(unsafe.Add(b.data(), int(b.absSize())))
	return n, true
}

// prev returns the block immediately preceding b, or the zero block if
// b is the first block in its page.
func (b block) prev() (block, bool) {
	ps := b.prevSize()
	if ps == 0 {
		return block{}, false
	}
	p := blockAt(unsafe.Add(b.addr, -int(ps)-headerSize))
	return p, true
}

// splitAfter carves a new trailing block starting n bytes into b's body,
// fixing both headers' size and prevSize fields and inheriting the tail
// bit onto the new tail. It returns the tail block and true if the split
// happened; if the remainder would be smaller than minBlockSize the block
// is left untouched and ok is false.
func (b block) splitAfter(n int32) (tail block, ok bool) {
	total := b.absSize()
	remainder := total - n - headerSize
	if remainder < minBlockSize {
		return block{}, false
	}

	wasTail := b.isTail()
	var next block
	var hadNext bool
	if !wasTail {
		next, hadNext = b.next()
	}

	tail = blockAt(unsafe.Add(b.data(), int(n)))
	if wasTail {
		tail.setRaw(packHeader(n, -(remainder), 0))
	} else {
		tail.setRaw(packHeader(n, remainder, 0))
	}
	b.setSize(n)

	if hadNext {
		next.setPrevSize(remainder)
	}
	return tail, true
}

// mergeNext absorbs the following block, including its header, into b.
// It is a no-op returning false if there is no next block or it is not
// MERGEABLE.
func (b block) mergeNext() bool {
	n, ok := b.next()
	if !ok || !n.hasFlag(flagMergeable) {
		return false
	}
	merged := b.absSize() + headerSize + n.absSize()
	if n.isTail() {
		b.setRaw(packHeader(b.prevSize(), -(merged), b.flags()))
		return true
	}
	b.setSize(merged)
	if after, ok := n.next(); ok {
		after.setPrevSize(merged)
	}
	return true
}

// mergePrev absorbs b into its predecessor and returns the predecessor.
// ok is false if there is no predecessor or it is not MERGEABLE.
func (b block) mergePrev() (merged block, ok bool) {
	p, hasPrev := b.prev()
	if !hasPrev || !p.hasFlag(flagMergeable) {
		return block{}, false
	}
	ok = p.mergeNext()
	return p, ok
}

// neighbors returns b's physical predecessor and successor, each with a
// validity flag.
func (b block) neighbors() (prev block, hasPrev bool, next block, hasNext bool) {
	prev, hasPrev = b.prev()
	next, hasNext = b.next()
	return
}
