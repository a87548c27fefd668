package algorithms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codetesla51/kvshape/store"
)

// SlidingWindowBucket stores a list of request timestamps for a user
type SlidingWindowBucket struct {
	Timestamps []int64 `json:"timestamps"`
}

type SlidingWindow struct {
	Limit      int           // Max requests allowed
	WindowSize time.Duration // How long to track (e.g., 1 minute)
	store      store.RawStorage
	mu         sync.Mutex
	now        func() time.Time
}

func NewSlidingWindow(limit int, windowSize time.Duration, s store.RawStorage) *SlidingWindow {
	if windowSize <= 0 {
		panic("WindowSize must be greater than 0")
	}
	return &SlidingWindow{
		Limit:      limit,
		WindowSize: windowSize,
		store:      s,
		now:        time.Now,
	}
}

// Allow checks if a request is allowed under sliding window rate limit
func (sw *SlidingWindow) Allow(ctx context.Context, key string) (Result, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now().UnixNano()
	windowStart := now - sw.WindowSize.Nanoseconds()
	sk := stateKey("sw", key)

	var bucket SlidingWindowBucket
	if _, err := loadState(ctx, sw.store, sk, &bucket); err != nil {
		return Result{}, err
	}

	valid := bucket.Timestamps[:0]
	for _, ts := range bucket.Timestamps {
		if ts > windowStart {
			valid = append(valid, ts)
		}
	}
	bucket.Timestamps = valid

	allowed := len(bucket.Timestamps) < sw.Limit
	if allowed {
		bucket.Timestamps = append(bucket.Timestamps, now)
	}
	if err := saveState(ctx, sw.store, sk, bucket, ttlFor(sw.WindowSize)); err != nil {
		return Result{}, err
	}

	res := Result{
		Allowed:   allowed,
		Limit:     sw.Limit,
		Remaining: max(sw.Limit-len(bucket.Timestamps), 0),
	}
	if !allowed && len(bucket.Timestamps) > 0 {
		res.RetryAfter = time.Duration(bucket.Timestamps[0] - windowStart)
	}
	return res, nil
}

func (sw *SlidingWindow) Reset(ctx context.Context, key string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sk := stateKey("sw", key)
	_, ok, err := sw.store.LoadRaw(ctx, sk)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket for key %s: %w", key, ErrNoState)
	}
	return sw.store.DeleteRaw(ctx, sk)
}
