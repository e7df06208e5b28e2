package fcmalloc

import (
	"hash/fnv"
	"math/bits"
	"runtime"
)

// nextPowerOfTwo rounds v up to the next power of two, used to size the
// convenience-path shard array (New asks for 4 shards).
func nextPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	return 1 << bits.Len32(v-1)
}

// currentShardID derives a stable-for-the-call shard identifier from the
// calling goroutine's stack trace, used only by the unbound convenience
// path to pick one of a small number of shared arenas. It is an
// approximation of "current CPU", not a guarantee; two goroutines can
// collide onto the same shard, and a single goroutine is not guaranteed
// to land on the same shard twice. Bound allocators (Allocator.Bind)
// never use this path.
func currentShardID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	h := fnv.New64a()
	h.Write(buf[:n])
	return h.Sum64()
}
