package fcmalloc

import (
	"testing"
	"time"
)

func TestConfigValidateRejectsNonPowerOfTwoQueueSize(t *testing.T) {
	cfg := defaultConfig()
	cfg.queueSize = 100
	if err := cfg.validate(); err != ErrInvalidQueueSize {
		t.Errorf("want ErrInvalidQueueSize, got %v", err)
	}
}

func TestConfigValidateRejectsUndersizedChunk(t *testing.T) {
	cfg := defaultConfig()
	cfg.chunkSize = 1024
	if err := cfg.validate(); err != ErrInvalidChunkSize {
		t.Errorf("want ErrInvalidChunkSize, got %v", err)
	}
}

func TestConfigOptionsApply(t *testing.T) {
	cfg := defaultConfig()
	WithQueueSize(256)(&cfg)
	WithReclaimThreshold(42)(&cfg)
	WithCollectorIdleSleep(5 * time.Millisecond)(&cfg)
	WithCircuitBreaker(3, time.Second)(&cfg)

	if cfg.queueSize != 256 {
		t.Errorf("queueSize: want 256, got %d", cfg.queueSize)
	}
	if cfg.reclaimThreshold != 42 {
		t.Errorf("reclaimThreshold: want 42, got %d", cfg.reclaimThreshold)
	}
	if cfg.collectorIdleSleep != 5*time.Millisecond {
		t.Errorf("collectorIdleSleep: want 5ms, got %v", cfg.collectorIdleSleep)
	}
	if !cfg.enableCircuitBreaker || cfg.circuitBreakerThreshold != 3 {
		t.Error("WithCircuitBreaker should enable the breaker and set its threshold")
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, n := range []int{1, 2, 4, 1024} {
		if !isPowerOfTwo(n) {
			t.Errorf("%d should be a power of two", n)
		}
	}
	for _, n := range []int{0, -1, 3, 100} {
		if isPowerOfTwo(n) {
			t.Errorf("%d should not be a power of two", n)
		}
	}
}
