package algorithms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codetesla51/kvshape/store"
)

type LeakyBucketUser struct {
	Queue    int       `json:"queue"`
	LastLeak time.Time `json:"last_leak"`
}

// LeakyBucket admits a request while its queue holds fewer than Capacity
// entries; the queue drains at Rate per second.
type LeakyBucket struct {
	Capacity int
	Rate     int
	store    store.RawStorage
	mu       sync.Mutex
	now      func() time.Time
}

func NewLeakyBucket(capacity, rate int, s store.RawStorage) *LeakyBucket {
	if rate <= 0 {
		panic("rate must be greater than 0")
	}
	return &LeakyBucket{
		Capacity: capacity,
		Rate:     rate,
		store:    s,
		now:      time.Now,
	}
}

// ttl is the time a full queue needs to drain.
func (lb *LeakyBucket) ttl() store.TTL {
	return ttlFor(time.Duration(lb.Capacity/lb.Rate+1) * time.Second)
}

func (lb *LeakyBucket) Allow(ctx context.Context, key string) (Result, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := lb.now()
	sk := stateKey("lb", key)
	var bucket LeakyBucketUser
	ok, err := loadState(ctx, lb.store, sk, &bucket)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		bucket = LeakyBucketUser{LastLeak: now}
	}

	if leaked := int(now.Sub(bucket.LastLeak).Seconds() * float64(lb.Rate)); leaked > 0 {
		bucket.Queue = max(bucket.Queue-leaked, 0)
		bucket.LastLeak = now
	}
	if bucket.Queue == 0 {
		bucket.LastLeak = now
	}

	allowed := bucket.Queue < lb.Capacity
	if allowed {
		bucket.Queue++
	}
	if err := saveState(ctx, lb.store, sk, bucket, lb.ttl()); err != nil {
		return Result{}, err
	}

	res := Result{
		Allowed:   allowed,
		Limit:     lb.Capacity,
		Remaining: lb.Capacity - bucket.Queue,
	}
	if !allowed {
		res.RetryAfter = time.Second / time.Duration(lb.Rate)
	}
	return res, nil
}

func (lb *LeakyBucket) Reset(ctx context.Context, key string) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	sk := stateKey("lb", key)
	_, ok, err := lb.store.LoadRaw(ctx, sk)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket for key %s: %w", key, ErrNoState)
	}
	return lb.store.DeleteRaw(ctx, sk)
}
