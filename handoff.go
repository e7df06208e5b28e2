package fcmalloc

import "sync/atomic"

// handoff is the per-thread single-slot publication channel used by a
// thread to deliver its freed blocks to the collector without blocking.
// onDeck is written only by the owning thread; atBat is the atomic
// publication point read by the collector. The two are separated by
// cache-line padding to avoid false sharing between the mutator and the
// collector thread.
type handoff struct {
	atBat atomic.Pointer[block]
	_     [56]byte // pad: mutator and collector must not share a cache line here

	onDeck block
	_      [56]byte
}

// release pushes b onto onDeck's embedded free-list link and, if no
// batch is currently waiting for the collector, publishes onDeck as the
// new at-bat list.
func (h *handoff) release(b block) {
	pushHandoffList(&h.onDeck, b)
	if h.atBat.Load() == nil {
		deck := h.onDeck
		h.atBat.Store(&deck)
		h.onDeck = block{}
	}
}

// drain is called only by the collector: it atomically swaps out the
// at-bat list and returns its head, or the zero block if nothing was
// waiting.
func (h *handoff) drain() block {
	garbage := h.atBat.Swap(nil)
	if garbage == nil {
		return block{}
	}
	return *garbage
}

// pushHandoffList threads b onto the embedded free-list link of head,
// reusing the same link words a freeList uses (the two structures are
// never live over the same block at the same time).
func pushHandoffList(head *block, b block) {
	*linkNext(b) = head.addr
	*head = b
}

// handoffListNext walks to the next block in a handoff-published chain.
func handoffListNext(b block) (block, bool) {
	n := *linkNext(b)
	if n == nil {
		return block{}, false
	}
	return blockAt(n), true
}
