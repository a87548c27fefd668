package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetesla51/kvshape/store"
	"github.com/codetesla51/kvshape/store/storetest"
)

// fakeClock is a settable clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Storage {
		return store.NewMemoryStore(store.MemoryConfig{})
	})
}

func TestMemoryStoreOffloadConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Storage {
		return store.NewMemoryStore(store.MemoryConfig{Offload: true, Workers: 8})
	})
}

func TestMemoryStoreSingleShard(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Storage {
		return store.NewMemoryStore(store.MemoryConfig{Shards: 1})
	})
}

func TestMemoryStoreExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	m := store.NewMemoryStore(store.MemoryConfig{Now: clock.Now})
	ctx := context.Background()

	_, err := m.StoreStringWithExpiry(ctx, "k", "v", store.Seconds(2))
	require.NoError(t, err)

	clock.Advance(1 * time.Second)
	v, ok, err := m.LoadString(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	// Absent from the expiry second onwards.
	clock.Advance(1 * time.Second)
	_, ok, err = m.LoadString(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	strs, _, _ := m.Len()
	assert.Zero(t, strs, "expired entry should be purged by the read")
}

func TestMemoryStoreExpiredEntryCountsAsExisting(t *testing.T) {
	clock := newFakeClock()
	m := store.NewMemoryStore(store.MemoryConfig{Now: clock.Now})
	ctx := context.Background()

	_, err := m.StoreRawWithExpiry(ctx, "k", []byte("old"), store.Seconds(1))
	require.NoError(t, err)
	clock.Advance(5 * time.Second)

	_, raw, _ := m.Len()
	assert.Equal(t, 1, raw, "expiry is lazy")

	state, err := m.StoreRaw(ctx, "k", []byte("new"))
	require.NoError(t, err)
	assert.Equal(t, store.StateUpdated, state)

	v, ok, err := m.LoadRaw(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("new"), v)
}

func TestMemoryStoreDefaultTTL(t *testing.T) {
	clock := newFakeClock()
	m := store.NewMemoryStore(store.MemoryConfig{Now: clock.Now, DefaultTTL: store.Seconds(10)})
	ctx := context.Background()

	_, err := m.StoreString(ctx, "short", "v")
	require.NoError(t, err)
	_, err = m.StoreStringWithExpiry(ctx, "long", "v", store.Seconds(60))
	require.NoError(t, err)
	_, err = m.AtomicStore(ctx, "counter", 1)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)

	_, ok, err := m.LoadString(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = m.LoadString(ctx, "long")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = m.AtomicLoad(ctx, "counter")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreConcurrentWritersAndExpiry(t *testing.T) {
	clock := newFakeClock()
	m := store.NewMemoryStore(store.MemoryConfig{Now: clock.Now})
	ctx := context.Background()

	_, err := m.StoreStringWithExpiry(ctx, "k", "stale", store.Seconds(1))
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	var wg sync.WaitGroup
	var stale atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			v, ok, _ := m.LoadString(ctx, "k")
			if ok && v == "stale" {
				stale.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			_, _ = m.StoreString(ctx, "k", "fresh")
		}()
	}
	wg.Wait()

	assert.Zero(t, stale.Load(), "an expired value must never be returned")
	v, ok, err := m.LoadString(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "a fresh write must survive a concurrent purge")
	assert.Equal(t, "fresh", v)
}

func TestMemoryStoreCounterWraps(t *testing.T) {
	m := store.NewMemoryStore(store.MemoryConfig{})
	ctx := context.Background()

	_, err := m.AtomicStore(ctx, "max", 1<<63-1)
	require.NoError(t, err)
	prev, ok, err := m.AtomicIncrement(ctx, "max", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1<<63-1), prev)

	v, _, err := m.AtomicLoad(ctx, "max")
	require.NoError(t, err)
	assert.Equal(t, int64(-1<<63), v)
}

func TestMemoryStoreOffloadCancelled(t *testing.T) {
	m := store.NewMemoryStore(store.MemoryConfig{Offload: true, Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.StoreString(ctx, "k", "v")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrTaskFailure)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStoreClose(t *testing.T) {
	m := store.NewMemoryStore(store.MemoryConfig{})
	ctx := context.Background()

	_, err := m.StoreString(ctx, "a", "1")
	require.NoError(t, err)
	_, err = m.AtomicStore(ctx, "b", 1)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	s, r, c := m.Len()
	assert.Zero(t, s+r+c)
}
