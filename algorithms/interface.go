package algorithms

import (
	"context"
	"errors"
	"time"
)

// ErrNoState is returned by Reset when a key has no limiter state.
var ErrNoState = errors.New("algorithms: no state for key")

// Result describes one rate limiting decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (Result, error)
	Reset(ctx context.Context, key string) error
}
