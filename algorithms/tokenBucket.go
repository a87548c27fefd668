package algorithms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codetesla51/kvshape/store"
)

type Buckets struct {
	Tokens       int       `json:"tokens"`
	LastRefillTs time.Time `json:"last_refill"`
}

// TokenBucket keeps its state JSON encoded in the raw shape for an hour
// after the last hit. RefillRate tokens are added per whole second.
type TokenBucket struct {
	Capacity   int
	RefillRate int
	store      store.RawStorage
	mu         sync.Mutex
	now        func() time.Time
}

const tokenBucketTTL = time.Hour

func NewTokenBucket(capacity, refillRate int, s store.RawStorage) *TokenBucket {
	return &TokenBucket{
		Capacity:   capacity,
		RefillRate: refillRate,
		store:      s,
		now:        time.Now,
	}
}

// Allow checks if a request is allowed using token bucket rate limiting.
func (tb *TokenBucket) Allow(ctx context.Context, key string) (Result, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	sk := stateKey("tb", key)
	var bucket Buckets
	ok, err := loadState(ctx, tb.store, sk, &bucket)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		bucket = Buckets{Tokens: tb.Capacity, LastRefillTs: now}
	}

	// Refill whole seconds only so partial progress is kept.
	if secs := int(now.Sub(bucket.LastRefillTs) / time.Second); secs > 0 {
		bucket.Tokens = min(bucket.Tokens+secs*tb.RefillRate, tb.Capacity)
		bucket.LastRefillTs = bucket.LastRefillTs.Add(time.Duration(secs) * time.Second)
	}
	if bucket.Tokens == tb.Capacity {
		bucket.LastRefillTs = now
	}

	// Check capacity
	if bucket.Tokens > 0 {
		bucket.Tokens--
		if err := saveState(ctx, tb.store, sk, bucket, ttlFor(tokenBucketTTL)); err != nil {
			return Result{}, err
		}
		return Result{
			Allowed:   true,
			Limit:     tb.Capacity,
			Remaining: bucket.Tokens,
		}, nil
	}

	// Save even if denied
	if err := saveState(ctx, tb.store, sk, bucket, ttlFor(tokenBucketTTL)); err != nil {
		return Result{}, err
	}
	return Result{
		Allowed:    false,
		Limit:      tb.Capacity,
		Remaining:  0,
		RetryAfter: bucket.LastRefillTs.Add(time.Second).Sub(now),
	}, nil
}

func (tb *TokenBucket) Reset(ctx context.Context, key string) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	sk := stateKey("tb", key)
	_, ok, err := tb.store.LoadRaw(ctx, sk)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket for key %s: %w", key, ErrNoState)
	}
	return tb.store.DeleteRaw(ctx, sk)
}
