package algorithms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codetesla51/kvshape/store"
)

// SlidingWindowCounter approximates a sliding window from two fixed window
// counters, weighting the previous window by how much of it still overlaps.
type SlidingWindowCounter struct {
	Limit      int
	WindowSize time.Duration
	store      store.AtomicStorage
	mu         sync.Mutex
	windows    windowIndex
	now        func() time.Time
}

func NewSlidingWindowCounter(limit int, windowSize time.Duration, s store.AtomicStorage) *SlidingWindowCounter {
	if windowSize <= 0 {
		panic("windowSize must be greater than 0")
	}
	return &SlidingWindowCounter{
		Limit:      limit,
		WindowSize: windowSize,
		store:      s,
		now:        time.Now,
	}
}

func (swc *SlidingWindowCounter) Allow(ctx context.Context, key string) (Result, error) {
	swc.mu.Lock()
	defer swc.mu.Unlock()

	nowNanos := swc.now().UnixNano()
	windowSizeNanos := swc.WindowSize.Nanoseconds()
	currentWindow := nowNanos / windowSizeNanos

	previous, _, err := swc.store.AtomicLoad(ctx, windowKey("swc", key, currentWindow-1))
	if err != nil {
		return Result{}, err
	}
	current, _, err := swc.store.AtomicLoad(ctx, windowKey("swc", key, currentWindow))
	if err != nil {
		return Result{}, err
	}

	// How much of previous window overlaps with our sliding window?
	timeIntoWindow := nowNanos % windowSizeNanos
	overlapPercentage := float64(windowSizeNanos-timeIntoWindow) / float64(windowSizeNanos)
	estimate := float64(previous)*overlapPercentage + float64(current)

	if estimate >= float64(swc.Limit) {
		nextWindowStart := (currentWindow + 1) * windowSizeNanos
		return Result{
			Allowed:    false,
			Limit:      swc.Limit,
			Remaining:  0,
			RetryAfter: time.Duration(nextWindowStart - nowNanos),
		}, nil
	}

	_, created, err := bumpWindow(ctx, swc.store, windowKey("swc", key, currentWindow))
	if err != nil {
		return Result{}, err
	}
	if created {
		// Only the current and previous windows are ever read.
		if err := swc.store.AtomicDelete(ctx, windowKey("swc", key, currentWindow-2)); err != nil {
			return Result{}, err
		}
		swc.windows.touch(key, currentWindow)
		sweepWindows(ctx, swc.store, &swc.windows, "swc", currentWindow, currentWindow-1)
	}

	return Result{
		Allowed:   true,
		Limit:     swc.Limit,
		Remaining: max(swc.Limit-int(estimate)-1, 0),
	}, nil
}

func (swc *SlidingWindowCounter) Reset(ctx context.Context, key string) error {
	swc.mu.Lock()
	defer swc.mu.Unlock()

	currentWindow := swc.now().UnixNano() / swc.WindowSize.Nanoseconds()
	found := false
	for _, w := range []int64{currentWindow, currentWindow - 1} {
		ck := windowKey("swc", key, w)
		_, ok, err := swc.store.AtomicLoad(ctx, ck)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		found = true
		if err := swc.store.AtomicDelete(ctx, ck); err != nil {
			return err
		}
	}
	if !found {
		return fmt.Errorf("bucket for key %s: %w", key, ErrNoState)
	}
	return nil
}
