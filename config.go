package fcmalloc

import (
	"log/slog"
	"time"
)

// Tunable constants, defaulted here and overridable via Option.
const (
	// minBlockSize is the smallest body a free block may shrink to. It
	// must fit both 8-byte link words the free list threads through a
	// free block's body (see freelist.go), so it is two pointer widths,
	// not one.
	minBlockSize = 16

	// AlignChunkSize is the size of a small (slab-hosting) page. Pages at
	// this size are aligned to it so the low bits of any cell address
	// locate its offset within the page.
	AlignChunkSize = 256 * 1024
	// ChunkSize is the size of a large-bin page.
	ChunkSize = AlignChunkSize

	// SmallBinCapacity is the small-bin capacity constant carried over from
	// the source. The slab path itself is bounded by SmallBlock, not by
	// this value.
	SmallBinCapacity = 1 << 10
	smallBinSize     = SmallBinCapacity - headerSize

	// SmallBlock is the largest request routed to the slab path.
	SmallBlock = 336
	// LargeBlock bounds the variable-bin path: a request goes there only
	// if its size plus the 8-byte header is below LargeBlock; anything
	// else is mapped directly from the OS.
	LargeBlock = ChunkSize

	// QueueSize is the default recycle-bin ring buffer capacity. Must be
	// a power of two.
	QueueSize = 128
	// ListCacheNum is the number of AlignChunkSize slab pages mapped in
	// one batch when a slab refill finds the middle tier dry: one is kept
	// for immediate use and the rest are handed to the collector.
	ListCacheNum = 4

	NumSmallBins = 21
	NumLargeBins = 56

	defaultCollectorIdleSleep = time.Millisecond
	defaultReclaimThreshold   = 10000
	defaultHealthInterval     = 30 * time.Second
)

// config collects the options validated and frozen by New.
type config struct {
	queueSize          int
	chunkSize          int
	alignChunkSize     int
	collectorIdleSleep time.Duration
	reclaimThreshold   int64

	enableHealthCheck bool
	healthInterval    time.Duration

	circuitBreakerThreshold int64
	circuitBreakerTimeout   time.Duration
	enableCircuitBreaker    bool

	logger *slog.Logger
}

func defaultConfig() config {
	return config{
		queueSize:          QueueSize,
		chunkSize:          ChunkSize,
		alignChunkSize:     AlignChunkSize,
		collectorIdleSleep: defaultCollectorIdleSleep,
		reclaimThreshold:   defaultReclaimThreshold,
		enableHealthCheck:  true,
		healthInterval:     defaultHealthInterval,
		logger:             slog.Default(),
	}
}

// Option configures an Allocator constructed with New.
type Option func(*config)

// WithQueueSize overrides the recycle-bin ring buffer capacity. size must
// be a power of two; New returns ErrInvalidQueueSize otherwise.
func WithQueueSize(size int) Option {
	return func(c *config) { c.queueSize = size }
}

// WithChunkSize records a large-bin page size. size must be a power of
// two of at least 4096; New validates it. The allocator's pages are
// always ChunkSize and AlignChunkSize bytes: the recorded value is not
// used beyond that validation.
func WithChunkSize(size int) Option {
	return func(c *config) {
		c.chunkSize = size
		c.alignChunkSize = size
	}
}

// WithCollectorIdleSleep overrides how long the collector sleeps after a
// pass that found no work.
func WithCollectorIdleSleep(d time.Duration) Option {
	return func(c *config) { c.collectorIdleSleep = d }
}

// WithReclaimThreshold overrides the number of consecutive idle collector
// passes before a recycle bin's reclaim walk runs.
func WithReclaimThreshold(n int64) Option {
	return func(c *config) { c.reclaimThreshold = n }
}

// WithHealthChecks records whether health monitoring is enabled. No
// background monitoring goroutine is started either way; HealthCheck
// computes its metrics on demand.
func WithHealthChecks(enabled bool) Option {
	return func(c *config) { c.enableHealthCheck = enabled }
}

// WithHealthInterval records a health-monitoring sampling interval. No
// component samples on an interval, so the value is stored only.
func WithHealthInterval(d time.Duration) Option {
	return func(c *config) { c.healthInterval = d }
}

// WithCircuitBreaker enables the circuit breaker that trips Allocate into
// returning ErrCircuitBreakerOpen once threshold Allocate calls have
// failed (for any reason) since the breaker last tripped or closed. It
// stays open for timeout before letting calls through again.
func WithCircuitBreaker(threshold int64, timeout time.Duration) Option {
	return func(c *config) {
		c.enableCircuitBreaker = true
		c.circuitBreakerThreshold = threshold
		c.circuitBreakerTimeout = timeout
	}
}

// WithLogger overrides the structured logger used by the allocator and
// its collector. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func (c config) validate() error {
	if !isPowerOfTwo(c.queueSize) {
		return ErrInvalidQueueSize
	}
	if !isPowerOfTwo(c.chunkSize) || c.chunkSize < 4096 {
		return ErrInvalidChunkSize
	}
	return nil
}
