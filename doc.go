// Package fcmalloc implements a thread-caching, three-tier dynamic memory
// allocator on top of raw OS-mapped pages.
//
// Requests of up to SmallBlock bytes are served from per-size-class slabs:
// fixed-cell pages tracked by a bitmap of occupied cells. Requests whose
// size plus the 8-byte header is below LargeBlock are served from
// variable-sized bins threaded through a middle
// tier of bounded ring buffers ("recycle bins") that a single background
// collector refills by draining per-thread free queues and coalescing
// adjacent free space. Anything larger bypasses the tiered path entirely
// and is mapped and unmapped directly.
//
// Basic usage:
//
//	alloc, err := fcmalloc.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer alloc.Close()
//
//	p, err := alloc.Allocate(128)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer alloc.Deallocate(p)
//
// A caller that wants to amortize the cost of the per-thread lookup across
// many calls from the same goroutine should bind explicitly:
//
//	bound := alloc.Bind()
//	defer bound.Unbind()
//
//	p, err := bound.Allocate(64)
package fcmalloc
