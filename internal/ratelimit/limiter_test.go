package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(clock *fakeClock, opts ...Option) *Limiter {
	return New(5, 15*time.Minute, append([]Option{WithClock(clock.Now)}, opts...)...)
}

func TestAttempt_SixthAttemptInWindowIsDenied(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 1; i <= 5; i++ {
		assert.True(t, l.Attempt("a@example.com"), "attempt %d should be allowed", i)
		clock.Advance(time.Second)
	}
	assert.False(t, l.Attempt("a@example.com"))
}

func TestAttempt_DeniedAttemptIsNotRecorded(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 0; i < 5; i++ {
		l.Attempt("k")
	}
	// Denials at t+10m must not extend the window
	clock.Advance(10 * time.Minute)
	assert.False(t, l.Attempt("k"))
	assert.False(t, l.Attempt("k"))

	clock.Advance(5 * time.Minute)
	assert.True(t, l.Attempt("k"))
}

func TestAttempt_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 0; i < 5; i++ {
		l.Attempt("a")
	}
	assert.False(t, l.Attempt("a"))
	assert.True(t, l.Attempt("b"))
}

func TestReset_AllowsImmediately(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 0; i < 6; i++ {
		l.Attempt("k")
	}
	l.Reset("k")

	assert.True(t, l.Attempt("k"))
	assert.Equal(t, 4, l.RemainingAttempts("k"))
}

func TestReset_UnknownKey(t *testing.T) {
	l := newTestLimiter(newFakeClock())
	l.Reset("missing")
	assert.True(t, l.Attempt("missing"))
}

func TestRemainingAttempts_DecreasesByOneAndNeverNegative(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	assert.Equal(t, 5, l.RemainingAttempts("k"))
	for i := 1; i <= 5; i++ {
		require.True(t, l.Attempt("k"))
		assert.Equal(t, 5-i, l.RemainingAttempts("k"))
	}

	l.Attempt("k")
	l.Attempt("k")
	assert.Equal(t, 0, l.RemainingAttempts("k"))
}

func TestWindowExpiry_AllowsAgain(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 0; i < 5; i++ {
		l.Attempt("k")
	}
	require.False(t, l.Attempt("k"))

	clock.Advance(15*time.Minute + time.Millisecond)
	assert.True(t, l.Attempt("k"))
	assert.Equal(t, 4, l.RemainingAttempts("k"))
}

func TestWindowBoundary_IsExclusive(t *testing.T) {
	clock := newFakeClock()
	l := New(1, time.Minute, WithClock(clock.Now))

	require.True(t, l.Attempt("k"))
	clock.Advance(time.Minute - time.Nanosecond)
	assert.False(t, l.Attempt("k"))

	// now - t == window is no longer recent
	clock.Advance(time.Nanosecond)
	assert.True(t, l.Attempt("k"))
}

func TestRemainingTime(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	assert.Equal(t, time.Duration(0), l.RemainingTime("k"))

	l.Attempt("k")
	clock.Advance(4 * time.Minute)
	l.Attempt("k")

	assert.Equal(t, 11*time.Minute, l.RemainingTime("k"))
}

func TestRemainingTime_UsesUnprunedList(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	l.Attempt("k")
	clock.Advance(20 * time.Minute)

	// Nothing pruned the expired attempt yet, so the oldest stored timestamp still counts.
	assert.Equal(t, -5*time.Minute, l.RemainingTime("k"))

	// A read that prunes removes the key entirely.
	assert.Equal(t, 5, l.RemainingAttempts("k"))
	assert.Equal(t, time.Duration(0), l.RemainingTime("k"))
}

func TestActiveLimits(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	l.Attempt("old")
	clock.Advance(10 * time.Minute)
	l.Attempt("a")
	l.Attempt("a")
	clock.Advance(2 * time.Minute)
	l.Attempt("a")
	l.Attempt("b")

	clock.Advance(6 * time.Minute) // "old" is now 18 minutes old

	active := l.ActiveLimits()
	require.Len(t, active, 2)
	assert.Equal(t, Limit{Attempts: 3, Remaining: 2, ResetIn: 7 * time.Minute}, active["a"])
	assert.Equal(t, Limit{Attempts: 1, Remaining: 4, ResetIn: 9 * time.Minute}, active["b"])
	_, ok := active["old"]
	assert.False(t, ok)
}

func TestPrune_RemovesIdleKeys(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	l.Attempt("a")
	l.Attempt("b")
	clock.Advance(14 * time.Minute)
	l.Attempt("b")
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, l.Prune())
	assert.Len(t, l.ActiveLimits(), 1)
	assert.Equal(t, 0, l.Prune())
}

func TestNew_Defaults(t *testing.T) {
	l := New(0, 0)
	assert.Equal(t, DefaultMaxAttempts, l.MaxAttempts())
	assert.Equal(t, DefaultWindow, l.Window())
}

func TestAttempt_ConcurrentCallersNeverExceedMax(t *testing.T) {
	l := New(50, time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Attempt("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
	assert.Equal(t, 0, l.RemainingAttempts("shared"))
}

type failingStats struct{}

func (failingStats) Record(context.Context, Decision) error { return errors.New("redis down") }

func TestWithStats_RecordsDecisions(t *testing.T) {
	clock := newFakeClock()
	stats := NewMemoryStatsStore()
	l := New(1, time.Minute, WithClock(clock.Now), WithStats(stats, nil))

	l.Attempt("k")
	l.Attempt("k")
	l.Close()

	totals, err := l.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, totals)
}

func TestMemoryStatsStore_OnlyKeepsTotals(t *testing.T) {
	clock := newFakeClock()
	stats := NewMemoryStatsStore()
	l := New(5, time.Minute, WithClock(clock.Now), WithStats(stats, nil))

	for i := 0; i < 1000; i++ {
		l.Attempt(fmt.Sprintf("user-%d@example.com", i))
	}
	clock.Advance(time.Hour)
	assert.Equal(t, 1000, l.Prune())
	l.Close()

	totals, err := stats.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counters{Allowed: 1000}, totals)
}

type blockingStats struct {
	release chan struct{}
	mu      sync.Mutex
	count   int
}

func (s *blockingStats) Record(context.Context, Decision) error {
	<-s.release
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return nil
}

func TestWithStats_SingleWriter(t *testing.T) {
	stats := &blockingStats{release: make(chan struct{})}
	l := New(5, time.Minute, WithStats(stats, nil))

	before := runtime.NumGoroutine()
	for i := 0; i < 500; i++ {
		l.Attempt(fmt.Sprintf("flood-%d", i))
	}
	// a stuck store must not pile up goroutines or block Attempt
	assert.Less(t, runtime.NumGoroutine()-before, 5)

	close(stats.release)
	l.Close()

	stats.mu.Lock()
	defer stats.mu.Unlock()
	assert.Equal(t, 500, stats.count)
}

func TestWithStats_DropsWhenQueueFull(t *testing.T) {
	stats := &blockingStats{release: make(chan struct{})}
	l := New(1, time.Minute, WithStats(stats, nil))

	for i := 0; i < statsQueueSize+100; i++ {
		l.Attempt(fmt.Sprintf("k-%d", i))
	}

	close(stats.release)
	l.Close()

	stats.mu.Lock()
	defer stats.mu.Unlock()
	assert.LessOrEqual(t, stats.count, statsQueueSize+1)
	assert.GreaterOrEqual(t, stats.count, statsQueueSize)
}

func TestWithStats_FailureDoesNotAffectDecision(t *testing.T) {
	l := New(1, time.Minute, WithStats(failingStats{}, nil))

	assert.True(t, l.Attempt("k"))
	assert.False(t, l.Attempt("k"))
	l.Close()

	totals, err := l.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counters{}, totals)
}
