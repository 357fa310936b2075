package reputation

import (
	"context"
	"sync"
	"time"
)

// SlidingLimiter admits at most maxCalls acquisitions per trailing window.
// Unlike a token bucket it never lets a quiet period bank extra calls; a
// burst of maxCalls always forces the next caller to wait for the oldest
// call to age out of the window.
type SlidingLimiter struct {
	mu       sync.Mutex
	maxCalls int
	window   time.Duration
	calls    []time.Time
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

func NewSlidingLimiter(maxCalls int, window time.Duration) *SlidingLimiter {
	return &SlidingLimiter{
		maxCalls: maxCalls,
		window:   window,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Acquire blocks until a call is admitted or the context is cancelled. The
// call is recorded only on success.
func (l *SlidingLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evict(l.now())

	if len(l.calls) >= l.maxCalls {
		wait := l.calls[0].Add(l.window).Sub(l.now())
		if wait > 0 {
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
		l.evict(l.now())
	}

	l.calls = append(l.calls, l.now())
	return nil
}

// Reset forgets all recorded calls.
func (l *SlidingLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = l.calls[:0]
}

// evict drops calls older than the window. Caller holds the lock.
func (l *SlidingLimiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && l.calls[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
