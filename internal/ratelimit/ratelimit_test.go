package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	at time.Time
	ch chan time.Time
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.timers = append(c.timers, fakeTimer{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	pending := c.timers[:0]
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			t.ch <- c.now
			continue
		}
		pending = append(pending, t)
	}
	c.timers = pending
}

func (c *fakeClock) Timers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func TestLimiter_NonBlockingRejectsExtraCall(t *testing.T) {
	clock := newFakeClock()
	l := New("test", Config{Count: 3, Period: 5 * time.Minute}, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
		clock.Advance(time.Second)
	}

	err := l.Acquire(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRateLimitExceeded))
	require.Equal(t, 3, l.InWindow())

	clock.Advance(5 * time.Minute)
	require.NoError(t, l.Acquire(ctx))
}

func TestLimiter_BlockingWaitsForOldestEntry(t *testing.T) {
	clock := newFakeClock()
	l := New("test", Config{Count: 2, Period: time.Minute, Blocking: true, MaxWait: 2 * time.Minute}, clock)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	clock.Advance(10 * time.Second)

	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx)
	}()

	require.Eventually(t, func() bool { return clock.Timers() == 1 }, time.Second, time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("acquire returned before a slot was free: %v", err)
	default:
	}

	clock.Advance(50 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire did not return after the window moved")
	}
	require.Equal(t, 1, l.InWindow())
}

func TestLimiter_FailsFastBeyondMaxWait(t *testing.T) {
	clock := newFakeClock()
	l := New("test", Config{Count: 1, Period: time.Minute, Blocking: true, MaxWait: 10 * time.Second}, clock)

	require.NoError(t, l.Acquire(context.Background()))

	err := l.Acquire(context.Background())
	require.True(t, errors.Is(err, ErrRateLimitExceeded))
	require.Zero(t, clock.Timers())
}

func TestLimiter_ContextCancelled(t *testing.T) {
	clock := newFakeClock()
	l := New("test", Config{Count: 1, Period: time.Minute, Blocking: true}, clock)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx)
	}()

	require.Eventually(t, func() bool { return clock.Timers() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("acquire ignored context cancellation")
	}
	require.Equal(t, 1, l.InWindow())
}

func TestLimiter_ConcurrentCallersNeverExceedQuota(t *testing.T) {
	l := New("test", Config{Count: 5, Period: time.Hour}, newFakeClock())

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 5, granted.Load())
	require.Equal(t, 5, l.InWindow())
}

func TestForEndpoint_SharesWindow(t *testing.T) {
	clock := newFakeClock()
	a := ForEndpoint("https://shared.example", Config{Count: 2, Period: time.Minute}, clock)
	b := ForEndpoint("https://shared.example", Config{Count: 100, Period: time.Second}, clock)
	other := ForEndpoint("https://other.example", Config{Count: 2, Period: time.Minute}, clock)

	require.Same(t, a, b)
	require.NotSame(t, a, other)

	require.True(t, a.TryAcquire())
	require.True(t, b.TryAcquire())
	require.False(t, a.TryAcquire())
	require.True(t, other.TryAcquire())
}
