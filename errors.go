package fcmalloc

import "errors"

// Predefined errors, following the sentinel-plus-wrap convention used
// throughout the allocation tier.
var (
	ErrOutOfMemory        = errors.New("fcmalloc: out of memory")
	ErrInvalidReference   = errors.New("fcmalloc: pointer not owned by this allocator")
	ErrInvalidSize        = errors.New("fcmalloc: invalid allocation size")
	ErrCircuitBreakerOpen = errors.New("fcmalloc: circuit breaker is open")
	ErrClosed             = errors.New("fcmalloc: allocator is closed")
	ErrInvalidQueueSize   = errors.New("fcmalloc: queue size must be a power of two")
	ErrInvalidChunkSize   = errors.New("fcmalloc: chunk size must be a power of two and at least 4096")
)
