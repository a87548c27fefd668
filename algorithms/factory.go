package algorithms

import (
	"fmt"
	"time"

	"github.com/codetesla51/kvshape/store"
)

// Algorithm names accepted by New.
const (
	AlgorithmFixedWindow          = "fixed_window"
	AlgorithmSlidingWindow        = "sliding_window"
	AlgorithmSlidingWindowCounter = "sliding_window_counter"
	AlgorithmTokenBucket          = "token_bucket"
	AlgorithmLeakyBucket          = "leaky_bucket"
)

// New builds the named limiter allowing limit requests per window. Bucket
// algorithms refill or drain limit per window, at least one per second.
func New(algorithm string, limit int, window time.Duration, s store.Storage) (RateLimiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than 0, got %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be greater than 0, got %v", window)
	}
	rate := max(int(float64(limit)/window.Seconds()), 1)

	switch algorithm {
	case AlgorithmFixedWindow, "":
		return NewFixedWindow(limit, window, s), nil
	case AlgorithmSlidingWindow:
		return NewSlidingWindow(limit, window, s), nil
	case AlgorithmSlidingWindowCounter:
		return NewSlidingWindowCounter(limit, window, s), nil
	case AlgorithmTokenBucket:
		return NewTokenBucket(limit, rate, s), nil
	case AlgorithmLeakyBucket:
		return NewLeakyBucket(limit, rate, s), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algorithm)
	}
}
