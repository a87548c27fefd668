package algorithms

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/codetesla51/kvshape/store"
)

func newBenchStore() *store.MemoryStore {
	return store.NewMemoryStore(store.MemoryConfig{})
}

func benchSingleKey(b *testing.B, l RateLimiter) {
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Allow(ctx, "user1")
	}
}

func benchManyKeys(b *testing.B, l RateLimiter) {
	ctx := context.Background()
	keys := make([]string, 1000)
	for i := range keys {
		keys[i] = "user" + strconv.Itoa(i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Allow(ctx, keys[i%len(keys)])
	}
}

func benchConcurrent(b *testing.B, l RateLimiter) {
	ctx := context.Background()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.Allow(ctx, "user1")
		}
	})
}

// Fixed Window Benchmarks
func BenchmarkFixedWindowAllow(b *testing.B) {
	benchSingleKey(b, NewFixedWindow(100, 1*time.Second, newBenchStore()))
}

func BenchmarkFixedWindowMultipleUsers(b *testing.B) {
	benchManyKeys(b, NewFixedWindow(100, 1*time.Second, newBenchStore()))
}

func BenchmarkFixedWindowConcurrent(b *testing.B) {
	benchConcurrent(b, NewFixedWindow(10000, 1*time.Second, newBenchStore()))
}

// Leaky Bucket Benchmarks
func BenchmarkLeakyBucketAllow(b *testing.B) {
	benchSingleKey(b, NewLeakyBucket(100, 10, newBenchStore()))
}

func BenchmarkLeakyBucketConcurrent(b *testing.B) {
	benchConcurrent(b, NewLeakyBucket(10000, 100, newBenchStore()))
}

// Sliding Window Counter Benchmarks
func BenchmarkSlidingWindowCounterAllow(b *testing.B) {
	benchSingleKey(b, NewSlidingWindowCounter(100, 1*time.Second, newBenchStore()))
}

func BenchmarkSlidingWindowCounterMultipleUsers(b *testing.B) {
	benchManyKeys(b, NewSlidingWindowCounter(100, 1*time.Second, newBenchStore()))
}

// Sliding Window Benchmarks
func BenchmarkSlidingWindowAllow(b *testing.B) {
	benchSingleKey(b, NewSlidingWindow(100, 1*time.Second, newBenchStore()))
}

// Token Bucket Benchmarks
func BenchmarkTokenBucketAllow(b *testing.B) {
	benchSingleKey(b, NewTokenBucket(100, 10, newBenchStore()))
}

func BenchmarkTokenBucketMultipleUsers(b *testing.B) {
	benchManyKeys(b, NewTokenBucket(100, 10, newBenchStore()))
}

func BenchmarkTokenBucketConcurrent(b *testing.B) {
	benchConcurrent(b, NewTokenBucket(10000, 100, newBenchStore()))
}
