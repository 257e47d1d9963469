package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClosedOnCleanup(t *testing.T, rate float64, burst int) *MemoryLimiter {
	t.Helper()
	m := NewMemoryLimiter(rate, burst)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMemoryLimiterAllowUnderBurst(t *testing.T) {
	m := newClosedOnCleanup(t, 10, 5)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ok, err := m.Allow(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst should be allowed", i)
	}
}

func TestMemoryLimiterDenyAfterBurst(t *testing.T) {
	m := newClosedOnCleanup(t, 10, 3)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok, "request %d within burst should be allowed", i)
	}

	ok, err := m.Allow(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "request after burst exhausted should be denied")
}

func TestMemoryLimiterTokenRefill(t *testing.T) {
	// Rate of 1000/s means 1 token per millisecond. With burst=2,
	// after exhausting both tokens, waiting ~2ms should refill at least 1.
	m := newClosedOnCleanup(t, 1000, 2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _ = m.Allow(ctx, "k1")
	}
	ok, _ := m.Allow(ctx, "k1")
	require.False(t, ok, "should be denied immediately after exhausting burst")

	time.Sleep(5 * time.Millisecond)

	ok, err := m.Allow(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok, "should be allowed after refill period")
}

func TestMemoryLimiterIndependentKeys(t *testing.T) {
	m := newClosedOnCleanup(t, 10, 1)

	ctx := context.Background()
	ok, _ := m.Allow(ctx, "a")
	require.True(t, ok, "first request for 'a' should succeed")
	ok, _ = m.Allow(ctx, "a")
	require.False(t, ok, "second request for 'a' should be denied")

	ok, _ = m.Allow(ctx, "b")
	assert.True(t, ok, "key 'b' should be unaffected by 'a'")
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m := newClosedOnCleanup(t, 100, 50)

	ctx := context.Background()
	var wg sync.WaitGroup
	allowed := make([]int, 10)

	// 10 goroutines each send 10 requests for the same key.
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				ok, err := m.Allow(ctx, "shared")
				if err != nil {
					t.Errorf("goroutine %d: Allow error: %v", idx, err)
					return
				}
				if ok {
					allowed[idx]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, c := range allowed {
		total += c
	}
	// Burst is 50, so of 100 requests fired within a single burst window
	// at most 50 should pass.
	assert.GreaterOrEqual(t, total, 1)
	assert.LessOrEqual(t, total, 50)
}

func TestMemoryLimiterEvictStale(t *testing.T) {
	m := newClosedOnCleanup(t, 10, 5)

	ctx := context.Background()
	_, _ = m.Allow(ctx, "stale")

	// Manually backdate the bucket.
	m.mu.Lock()
	m.buckets["stale"].lastAccess = time.Now().Add(-15 * time.Minute)
	m.mu.Unlock()

	m.evictStale()

	m.mu.Lock()
	_, exists := m.buckets["stale"]
	m.mu.Unlock()
	assert.False(t, exists, "stale bucket should be evicted")
}

func TestMemoryLimiterEvictKeepsRecent(t *testing.T) {
	m := newClosedOnCleanup(t, 10, 5)

	ctx := context.Background()
	_, _ = m.Allow(ctx, "recent")

	m.evictStale()

	m.mu.Lock()
	_, exists := m.buckets["recent"]
	m.mu.Unlock()
	assert.True(t, exists, "recent bucket should survive eviction")
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l NoopLimiter
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		ok, err := l.Allow(ctx, "anything")
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, l.Close())
}

func TestMemoryLimiterTokensCapAtBurst(t *testing.T) {
	// Even after a long idle period, tokens should not exceed burst.
	m := newClosedOnCleanup(t, 1000, 3)

	ctx := context.Background()
	_, _ = m.Allow(ctx, "k1")

	// Backdate so a large refill would be computed.
	m.mu.Lock()
	m.buckets["k1"].lastAccess = time.Now().Add(-1 * time.Hour)
	m.mu.Unlock()

	// After refill the bucket holds at most burst (3) tokens.
	for i := 0; i < 3; i++ {
		ok, _ := m.Allow(ctx, "k1")
		require.True(t, ok, "request %d after long idle should be allowed", i)
	}
	ok, _ := m.Allow(ctx, "k1")
	assert.False(t, ok, "burst cap should hold even after long idle")
}
