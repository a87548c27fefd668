package algorithms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codetesla51/kvshape/store"
)

// FixedWindow counts hits per key in consecutive windows of WindowSize. Each
// window is its own counter, so hits in one process never lose updates;
// the mutex only guards creation of a window's counter.
type FixedWindow struct {
	Limit      int
	WindowSize time.Duration
	store      store.AtomicStorage
	mu         sync.Mutex
	windows    windowIndex
	now        func() time.Time
}

func NewFixedWindow(limit int, windowSize time.Duration, s store.AtomicStorage) *FixedWindow {
	if windowSize <= 0 {
		panic("windowSize must be greater than 0")
	}
	return &FixedWindow{
		Limit:      limit,
		WindowSize: windowSize,
		store:      s,
		now:        time.Now,
	}
}

func (fw *FixedWindow) window(now time.Time) int64 {
	return now.UnixNano() / fw.WindowSize.Nanoseconds()
}

func (fw *FixedWindow) Allow(ctx context.Context, key string) (Result, error) {
	now := fw.now()
	window := fw.window(now)
	ck := windowKey("fw", key, window)

	prev, ok, err := fw.store.AtomicIncrement(ctx, ck, 1)
	if err != nil {
		return Result{}, err
	}
	count := prev + 1
	if !ok {
		fw.mu.Lock()
		var created bool
		count, created, err = bumpWindow(ctx, fw.store, ck)
		if err == nil && created {
			// The previous window can no longer be hit.
			err = fw.store.AtomicDelete(ctx, windowKey("fw", key, window-1))
		}
		fw.mu.Unlock()
		if err != nil {
			return Result{}, err
		}
		if created {
			fw.windows.touch(key, window)
			sweepWindows(ctx, fw.store, &fw.windows, "fw", window, window)
		}
	}

	if count > int64(fw.Limit) {
		windowEnd := time.Unix(0, (window+1)*fw.WindowSize.Nanoseconds())
		return Result{
			Allowed:    false,
			Limit:      fw.Limit,
			Remaining:  0,
			RetryAfter: windowEnd.Sub(now),
		}, nil
	}

	return Result{
		Allowed:   true,
		Limit:     fw.Limit,
		Remaining: fw.Limit - int(count),
	}, nil
}

func (fw *FixedWindow) Reset(ctx context.Context, key string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	ck := windowKey("fw", key, fw.window(fw.now()))
	_, ok, err := fw.store.AtomicLoad(ctx, ck)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket for key %s: %w", key, ErrNoState)
	}
	return fw.store.AtomicDelete(ctx, ck)
}
