package fcmalloc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Allocator is the top-level entry point: a process-wide allocator
// instance owning the middle-tier recycle bins, the page map, and the
// background collector. Construct one with New and Close it when done.
type Allocator struct {
	cfg config
	pg  pager

	pages sync.Map // uintptr page base -> []byte, for eventual unmap

	pageMap *pageMap

	smallBins [NumSmallBins]*recycleBin
	largeBins [NumLargeBins]*recycleBin
	alignBin  *recycleBin
	metaBin   *recycleBin

	threadHead atomic.Pointer[arena]

	shards    []*shardSlot
	shardMask uint64

	st      *stats
	breaker *circuitBreakerState

	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// shardSlot is one of the small set of shared arenas backing the
// unbound convenience path; guarded by its own mutex since an arena is
// not otherwise safe for concurrent use.
type shardSlot struct {
	mu sync.Mutex
	a  *arena
}

// New constructs an Allocator, validating options and starting its
// background collector goroutine.
func New(opts ...Option) (*Allocator, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	a := &Allocator{
		cfg:      cfg,
		pageMap:  &pageMap{},
		shutdown: make(chan struct{}),
		st:       newStats(),
	}
	for i := range a.smallBins {
		a.smallBins[i] = newRecycleBin(cfg.queueSize, i)
	}
	for i := range a.largeBins {
		a.largeBins[i] = newRecycleBin(cfg.queueSize, NumSmallBins+i)
	}
	a.alignBin = newRecycleBin(cfg.queueSize, -1)
	a.metaBin = newRecycleBin(cfg.queueSize, -2)

	numShards := nextPowerOfTwo(uint32(4))
	a.shards = make([]*shardSlot, numShards)
	for i := range a.shards {
		a.shards[i] = &shardSlot{}
	}
	a.shardMask = uint64(numShards - 1)

	if cfg.enableCircuitBreaker {
		a.breaker = newCircuitBreaker(cfg.circuitBreakerThreshold, cfg.circuitBreakerTimeout)
	}

	a.wg.Add(1)
	go a.runCollector()

	return a, nil
}

// registerArena CAS-inserts arn onto the head of the process-wide
// thread list, mirroring the source's garbage_collector::register_allocator.
func (a *Allocator) registerArena(arn *arena) {
	for {
		head := a.threadHead.Load()
		arn.next.Store(head)
		if a.threadHead.CompareAndSwap(head, arn) {
			return
		}
	}
}

// BoundAllocator is a handle to a per-caller arena, obtained from
// Allocator.Bind. It amortizes the per-call arena lookup the unbound
// convenience methods on Allocator otherwise pay on every call.
type BoundAllocator struct {
	a   *Allocator
	arn *arena
}

// Bind constructs a fresh arena, registers it with the collector, and
// returns a handle bound to it. The caller is responsible for calling
// Unbind when done so residual caches are flushed to the collector
// instead of leaking, mirroring the source's thread_allocator_gc
// destructor hand-off.
func (a *Allocator) Bind() *BoundAllocator {
	arn := newArena(a)
	a.registerArena(arn)
	return &BoundAllocator{a: a, arn: arn}
}

// Unbind flushes the bound arena's residual front-cache blocks to the
// collector. The arena itself remains linked into the thread list (it
// is never unlinked, matching the source: the list is append-only) but
// will simply go unused from this point on.
func (b *BoundAllocator) Unbind() {
	b.arn.flushResidualCaches()
}

func (b *BoundAllocator) Allocate(size int) (unsafe.Pointer, error) {
	return b.arn.allocate(size)
}

func (b *BoundAllocator) Deallocate(ptr unsafe.Pointer) error {
	return b.arn.free(ptr)
}

func (a *Allocator) shardFor() *shardSlot {
	idx := currentShardID() & a.shardMask
	return a.shards[idx]
}

// Allocate is the unbound convenience path: it picks one of a small
// number of shared arenas by a stack-trace-derived shard identifier,
// grounded on the teacher's per-CPU cache indexing. Callers on a hot
// path should prefer Bind for a dedicated arena instead.
func (a *Allocator) Allocate(size int) (unsafe.Pointer, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	if a.breaker != nil && a.breaker.isOpen() {
		return nil, ErrCircuitBreakerOpen
	}
	shard := a.shardFor()
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if shard.a == nil {
		shard.a = newArena(a)
		a.registerArena(shard.a)
	}
	ptr, err := shard.a.allocate(size)
	if err != nil {
		a.st.allocErrors.Add(1)
		if a.breaker != nil {
			a.breaker.recordFailure()
		}
		return nil, err
	}
	a.st.allocations.Add(1)
	if a.breaker != nil {
		a.breaker.recordSuccess()
	}
	return ptr, nil
}

// MustAllocate allocates or panics; use only when allocation failure is
// fatal to the caller.
func (a *Allocator) MustAllocate(size int) unsafe.Pointer {
	ptr, err := a.Allocate(size)
	if err != nil {
		panic(err)
	}
	return ptr
}

// BatchAllocate allocates len(sizes) blocks, one per requested size. If
// any allocation fails, previously successful allocations in the batch
// are rolled back and the error is returned.
func (a *Allocator) BatchAllocate(sizes []int) ([]unsafe.Pointer, error) {
	out := make([]unsafe.Pointer, 0, len(sizes))
	for _, s := range sizes {
		ptr, err := a.Allocate(s)
		if err != nil {
			for _, p := range out {
				_ = a.Deallocate(p)
			}
			return nil, err
		}
		out = append(out, ptr)
	}
	a.st.batchAllocations.Add(1)
	return out, nil
}

// Deallocate frees ptr through the shared shard picked for the calling
// goroutine by the same stack-hash selection Allocate uses, which need
// not be the shard that served ptr. Free dispatch does not require a
// specific owning arena: the page map and recycle bins are process-wide.
func (a *Allocator) Deallocate(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}
	if a.closed.Load() {
		return ErrClosed
	}
	shard := a.shardFor()
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if shard.a == nil {
		shard.a = newArena(a)
		a.registerArena(shard.a)
	}
	if err := shard.a.free(ptr); err != nil {
		a.st.deallocErrors.Add(1)
		return err
	}
	a.st.deallocations.Add(1)
	return nil
}

// BatchDeallocate frees every pointer in ptrs, returning the first
// error encountered (if any) after attempting all of them.
func (a *Allocator) BatchDeallocate(ptrs []unsafe.Pointer) error {
	var firstErr error
	for _, p := range ptrs {
		if err := a.Deallocate(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		a.st.batchDeallocations.Add(1)
	}
	return firstErr
}

// Close signals the collector to exit, waits for it to finish draining,
// and unmaps any pages still tracked by the allocator.
func (a *Allocator) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(a.shutdown)
	a.wg.Wait()

	var unmapErr error
	a.pages.Range(func(key, value any) bool {
		b := value.([]byte)
		if err := a.pg.unmapPages(b); err != nil && unmapErr == nil {
			unmapErr = err
		}
		a.pages.Delete(key)
		return true
	})
	return unmapErr
}

func (a *Allocator) trackPage(base uintptr, b []byte) {
	a.pages.Store(base, b)
}

func (a *Allocator) untrackPage(base uintptr) ([]byte, bool) {
	v, ok := a.pages.LoadAndDelete(base)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (a *Allocator) unmapDirect(base uintptr) error {
	b, ok := a.untrackPage(base)
	if !ok {
		return fmt.Errorf("%w: 0x%x", ErrInvalidReference, base)
	}
	return a.pg.unmapPages(b)
}
