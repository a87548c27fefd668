// Package storetest provides conformance tests for store.Storage implementations
package storetest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/codetesla51/kvshape/store"
)

// StoreFactory creates a fresh Storage for one test. The suite closes it.
type StoreFactory func(t *testing.T) store.Storage

// Options tunes the suite for slower backends.
type Options struct {
	// Increments is the number of concurrent increments in the lost-update
	// test. Default 10000.
	Increments int
}

// Run runs every conformance test against a Storage implementation.
func Run(t *testing.T, factory StoreFactory) {
	RunWith(t, factory, Options{})
}

// RunWith is Run with explicit options.
func RunWith(t *testing.T, factory StoreFactory, opts Options) {
	if opts.Increments <= 0 {
		opts.Increments = 10000
	}

	tests := []struct {
		name string
		test func(t *testing.T, s store.Storage)
	}{
		{"StringRoundTrip", testStringRoundTrip},
		{"RawRoundTrip", testRawRoundTrip},
		{"RawCopies", testRawCopies},
		{"CounterRoundTrip", testCounterRoundTrip},
		{"FirstWriteTagging", testFirstWriteTagging},
		{"ZeroTTL", testZeroTTL},
		{"LongTTL", testLongTTL},
		{"IdempotentDelete", testIdempotentDelete},
		{"NoAutovivify", testNoAutovivify},
		{"ShapeIsolation", testShapeIsolation},
		{"EmptyKey", testEmptyKey},
		{"NegativeDelta", testNegativeDelta},
		{"ConcurrentIncrements", func(t *testing.T, s store.Storage) {
			testConcurrentIncrements(t, s, opts.Increments)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()
			tt.test(t, s)
		})
	}
}

// key returns a key unique to this run so suites can share a server.
func key(name string) string {
	return name + ":" + uuid.NewString()
}

func testStringRoundTrip(t *testing.T, s store.Storage) {
	ctx := context.Background()
	k := key("str")

	_, err := s.StoreString(ctx, k, "hello")
	require.NoError(t, err)

	v, ok, err := s.LoadString(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", v)

	_, err = s.StoreString(ctx, k, "")
	require.NoError(t, err)
	v, ok, err = s.LoadString(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok, "empty value is still a value")
	assert.Equal(t, "", v)
}

func testRawRoundTrip(t *testing.T, s store.Storage) {
	ctx := context.Background()
	k := key("raw")
	value := []byte{0x00, 0xff, 0x10, 'a'}

	_, err := s.StoreRaw(ctx, k, value)
	require.NoError(t, err)

	v, ok, err := s.LoadRaw(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, value, v)
}

func testRawCopies(t *testing.T, s store.Storage) {
	ctx := context.Background()
	k := key("raw")
	value := []byte("abc")

	_, err := s.StoreRaw(ctx, k, value)
	require.NoError(t, err)
	value[0] = 'x'

	v, _, err := s.LoadRaw(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v, "store must not retain the caller's slice")

	v[1] = 'y'
	again, _, err := s.LoadRaw(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again, "load must return a copy")
}

func testCounterRoundTrip(t *testing.T, s store.Storage) {
	ctx := context.Background()
	k := key("ctr")

	_, err := s.AtomicStore(ctx, k, 41)
	require.NoError(t, err)

	prev, ok, err := s.AtomicIncrement(ctx, k, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(41), prev)

	v, ok, err := s.AtomicLoad(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), v)
}

func testFirstWriteTagging(t *testing.T, s store.Storage) {
	ctx := context.Background()

	k := key("str")
	state, err := s.StoreString(ctx, k, "a")
	require.NoError(t, err)
	assert.Equal(t, store.StateNew, state)
	state, err = s.StoreString(ctx, k, "b")
	require.NoError(t, err)
	assert.Equal(t, store.StateUpdated, state)

	k = key("raw")
	state, err = s.StoreRaw(ctx, k, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, store.StateNew, state)
	state, err = s.StoreRawWithExpiry(ctx, k, []byte("b"), store.Seconds(3600))
	require.NoError(t, err)
	assert.Equal(t, store.StateUpdated, state)

	k = key("ctr")
	state, err = s.AtomicStore(ctx, k, 1)
	require.NoError(t, err)
	assert.Equal(t, store.StateNew, state)
	state, err = s.AtomicStore(ctx, k, 2)
	require.NoError(t, err)
	assert.Equal(t, store.StateUpdated, state)
}

func testZeroTTL(t *testing.T, s store.Storage) {
	ctx := context.Background()

	k := key("str")
	_, err := s.StoreStringWithExpiry(ctx, k, "gone", store.Seconds(0))
	require.NoError(t, err)
	_, ok, err := s.LoadString(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)

	k = key("raw")
	_, err = s.StoreRawWithExpiry(ctx, k, []byte("gone"), store.Seconds(0))
	require.NoError(t, err)
	_, ok, err = s.LoadRaw(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testLongTTL(t *testing.T, s store.Storage) {
	ctx := context.Background()
	k := key("str")

	_, err := s.StoreStringWithExpiry(ctx, k, "kept", store.Seconds(3600))
	require.NoError(t, err)
	v, ok, err := s.LoadString(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "kept", v)

	// Saturates instead of overflowing.
	_, err = s.StoreStringWithExpiry(ctx, k, "forever", store.Seconds(^uint64(0)))
	require.NoError(t, err)
	v, ok, err = s.LoadString(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "forever", v)
}

func testIdempotentDelete(t *testing.T, s store.Storage) {
	ctx := context.Background()
	k := key("any")

	for i := 0; i < 2; i++ {
		require.NoError(t, s.DeleteString(ctx, k))
		require.NoError(t, s.DeleteRaw(ctx, k))
		require.NoError(t, s.AtomicDelete(ctx, k))
	}

	_, err := s.StoreString(ctx, k, "v")
	require.NoError(t, err)
	require.NoError(t, s.DeleteString(ctx, k))
	require.NoError(t, s.DeleteString(ctx, k))
	_, ok, err := s.LoadString(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testNoAutovivify(t *testing.T, s store.Storage) {
	ctx := context.Background()
	k := key("ctr")

	prev, ok, err := s.AtomicIncrement(ctx, k, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, prev)
	_, ok, err = s.AtomicLoad(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok, "increment must not create a counter")

	_, err = s.AtomicStore(ctx, k, 7)
	require.NoError(t, err)
	require.NoError(t, s.AtomicDelete(ctx, k))

	_, ok, err = s.AtomicIncrement(ctx, k, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.AtomicLoad(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok, "deleted counter must stay deleted")
}

func testShapeIsolation(t *testing.T, s store.Storage) {
	ctx := context.Background()
	k := key("shared")

	_, err := s.StoreString(ctx, k, "s")
	require.NoError(t, err)

	_, ok, err := s.LoadRaw(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.AtomicLoad(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)

	state, err := s.StoreRaw(ctx, k, []byte("r"))
	require.NoError(t, err)
	assert.Equal(t, store.StateNew, state)
	state, err = s.AtomicStore(ctx, k, 3)
	require.NoError(t, err)
	assert.Equal(t, store.StateNew, state)

	require.NoError(t, s.DeleteRaw(ctx, k))
	v, ok, err := s.LoadString(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s", v)
	n, ok, err := s.AtomicLoad(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)
}

func testEmptyKey(t *testing.T, s store.Storage) {
	ctx := context.Background()

	_, err := s.StoreString(ctx, "", "v")
	assert.ErrorIs(t, err, store.ErrInvalidKey)
	_, _, err = s.LoadRaw(ctx, "")
	assert.ErrorIs(t, err, store.ErrInvalidKey)
	_, _, err = s.AtomicIncrement(ctx, "", 1)
	assert.ErrorIs(t, err, store.ErrInvalidKey)
	assert.ErrorIs(t, s.AtomicDelete(ctx, ""), store.ErrInvalidKey)
}

func testNegativeDelta(t *testing.T, s store.Storage) {
	ctx := context.Background()
	k := key("ctr")

	_, err := s.AtomicStore(ctx, k, 10)
	require.NoError(t, err)
	prev, ok, err := s.AtomicIncrement(ctx, k, -15)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(10), prev)

	v, _, err := s.AtomicLoad(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, int64(-5), v)
}

func testConcurrentIncrements(t *testing.T, s store.Storage, n int) {
	ctx := context.Background()
	k := key("ctr")

	_, err := s.AtomicStore(ctx, k, 0)
	require.NoError(t, err)

	var g errgroup.Group
	g.SetLimit(64)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, _, err := s.AtomicIncrement(ctx, k, 1)
			return err
		})
	}
	require.NoError(t, g.Wait())

	v, ok, err := s.AtomicLoad(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(n), v)
}
