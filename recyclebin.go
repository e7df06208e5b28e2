package fcmalloc

import "sync/atomic"

// recycleBin is the middle-tier per-class repository: a bounded ring of
// published blocks, an overflow free list, and the adaptive controller
// that sizes how deep the ring should be kept filled. Ported from the
// source's recycle_bin, which this type mirrors field-for-field.
type recycleBin struct {
	queue *ring[block]

	readPos atomic.Int64 // bumped by consumers via Add
	_       [56]byte     // below this point is written only by the collector

	writePos int64 // last valid published slot
	class    int

	fullCount int64 // consecutive idle collector passes
	full      int64 // target publish depth

	free freeList
}

func newRecycleBin(queueSize int, class int) *recycleBin {
	return &recycleBin{
		queue: newRing[block](queueSize),
		class: class,
	}
}

// available is an unsynchronized estimate of how many blocks are
// waiting in the ring; callers only ever use it as a hint.
func (r *recycleBin) available() int64 {
	return r.writePos - r.readPos.Load()
}

// claim reserves num consecutive positions and returns the first one.
func (r *recycleBin) claim(num int64) int64 {
	return r.readPos.Add(num) - num
}

func (r *recycleBin) getSlot(pos int64) block {
	return *r.queue.at(pos)
}

func (r *recycleBin) clearSlot(pos int64) {
	*r.queue.at(pos) = block{}
}

// tryClaim performs the consumer-side claim protocol: a single atomic
// add followed by a check that the claimed slot is within the published
// range and non-empty.
func (r *recycleBin) tryClaim() (block, bool) {
	pos := r.claim(1)
	if pos > r.writePos {
		return block{}, false
	}
	b := r.getSlot(pos)
	if b.addr == nil {
		return block{}, false
	}
	r.clearSlot(pos)
	return b, true
}

// checkStatus runs the adaptive controller for one collector pass. A
// return of -1 is a distinct sentinel from 0: it means the bin is
// exactly satisfied and the collector must not attempt to publish
// anything at all this pass.
func (r *recycleBin) checkStatus() int64 {
	av := r.available()
	switch {
	case av < 0:
		if r.full == 0 {
			r.full = 2
		} else {
			r.full *= 2
		}
		if av > r.full {
			r.full = av
		}
		if int64(r.queue.capacity())-1 > r.full {
			r.full = int64(r.queue.capacity()) - 1
		}
		r.writePos = r.claim(1)
		return r.full
	case av > 0:
		consumed := r.full - av
		r.full--
		if r.full < 0 {
			r.full = 0
		}
		if consumed == 0 {
			return -1
		}
		return consumed
	default: // av == 0
		return r.full
	}
}

func (r *recycleBin) cacheBlock(b block) {
	r.free.push(b)
}

func (r *recycleBin) uncacheBlock(b block) {
	r.free.remove(b)
}

// getCacheBlock pops a block from the free list and clears its
// MERGEABLE flag; the collector thread is the sole caller, so this is
// safe without further synchronization.
func (r *recycleBin) getCacheBlock() (block, bool) {
	b, ok := r.free.pop()
	if !ok {
		return block{}, false
	}
	b.clearFlag(flagMergeable)
	return b, true
}

// produceToRing runs one collector pass of the publish protocol: ask the
// controller how many slots are needed, then drain the free list into
// the ring until either the free list or the need is exhausted.
func (r *recycleBin) produceToRing() (foundWork bool) {
	needed := r.checkStatus()
	if needed <= 0 {
		r.fullCount++
		return false
	}

	r.fullCount = 0
	nextWritePos := r.writePos
	next, ok := r.getCacheBlock()

	for ok && needed > 0 {
		foundWork = true
		nextWritePos++
		if r.queue.at(nextWritePos).addr == nil {
			*r.queue.at(nextWritePos) = next
			next, ok = r.getCacheBlock()
		}
		needed--
	}

	if ok {
		r.cacheBlock(next) // leftover
	}
	r.writePos = nextWritePos
	return foundWork
}

// reclaim is called once fullCount has crossed the configured threshold.
// It walks back up to available() ring slots, re-tagging and re-caching
// whatever it can still claim before a racing consumer beats it to the
// slot.
func (r *recycleBin) reclaim() {
	av := r.available()
	for i := int64(0); i < av; i++ {
		claimPos := r.claim(1)
		if claimPos > av {
			break // another thread has consumed ahead of us
		}
		b := r.getSlot(claimPos)
		if b.addr != nil {
			b.setFlag(flagMergeable)
			r.cacheBlock(b)
		}
	}
	r.fullCount = 0
}
