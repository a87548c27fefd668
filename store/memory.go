package store

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MemoryConfig configures a MemoryStore. The zero value is ready to use.
type MemoryConfig struct {
	// Shards is rounded up to a power of two. Default 64.
	Shards int
	// Offload runs every operation on a bounded pool of background
	// goroutines instead of the caller's.
	Offload bool
	// Workers bounds the offload pool. Default GOMAXPROCS.
	Workers int64
	// DefaultTTL applies to string and raw writes made with NoTTL.
	DefaultTTL TTL
	Logger     *zap.Logger
	// Now overrides the clock used for expiry.
	Now func() time.Time
}

type entry[V any] struct {
	value     V
	expiresAt int64
	expires   bool
}

func (e entry[V]) expiredAt(now time.Time) bool {
	return e.expires && expired(e.expiresAt, now)
}

// MemoryStore is the volatile in-process backend. Keys are spread over
// independently locked shards; expired entries are purged lazily by the
// read that finds them.
type MemoryStore struct {
	strings  *shardMap[entry[string]]
	raw      *shardMap[entry[[]byte]]
	counters *shardMap[*atomic.Int64]

	defaultTTL TTL
	offload    *offloader
	logger     *zap.Logger
	now        func() time.Time
}

func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	m := &MemoryStore{
		strings:    newShardMap[entry[string]](cfg.Shards),
		raw:        newShardMap[entry[[]byte]](cfg.Shards),
		counters:   newShardMap[*atomic.Int64](cfg.Shards),
		defaultTTL: cfg.DefaultTTL,
		logger:     logger,
		now:        now,
	}
	if cfg.Offload {
		m.offload = newOffloader(cfg.Workers, logger)
	}
	return m
}

func storeEntry[V any](items *shardMap[entry[V]], key string, value V, ttl TTL, now time.Time) StoreState {
	at, ok := ttl.expiresAt(now)
	return stateOf(items.swap(key, entry[V]{value: value, expiresAt: at, expires: ok}))
}

// loadEntry returns a live entry's value. An expired entry is removed in a
// single remove-if-expired step; a fresh entry written concurrently survives.
func loadEntry[V any](items *shardMap[entry[V]], key string, now time.Time, logger *zap.Logger) (V, bool) {
	var zero V
	e, ok := items.get(key)
	if !ok {
		return zero, false
	}
	if !e.expiredAt(now) {
		return e.value, true
	}
	if items.removeIf(key, func(cur entry[V]) bool { return cur.expiredAt(now) }) {
		logger.Debug("purged expired entry", zap.String("key", key), zap.Int64("expires_at", e.expiresAt))
	}
	return zero, false
}

type loaded[V any] struct {
	value V
	ok    bool
}

func (m *MemoryStore) StoreStringWithExpiry(ctx context.Context, key, value string, ttl TTL) (StoreState, error) {
	if err := checkKey(OpStoreString, key); err != nil {
		return StateNew, err
	}
	ttl = ttl.Or(m.defaultTTL)
	return offload(ctx, m.offload, OpStoreString, key, func() StoreState {
		return storeEntry(m.strings, key, value, ttl, m.now())
	})
}

func (m *MemoryStore) StoreString(ctx context.Context, key, value string) (StoreState, error) {
	return m.StoreStringWithExpiry(ctx, key, value, NoTTL)
}

func (m *MemoryStore) LoadString(ctx context.Context, key string) (string, bool, error) {
	if err := checkKey(OpLoadString, key); err != nil {
		return "", false, err
	}
	r, err := offload(ctx, m.offload, OpLoadString, key, func() loaded[string] {
		v, ok := loadEntry(m.strings, key, m.now(), m.logger)
		return loaded[string]{v, ok}
	})
	return r.value, r.ok, err
}

func (m *MemoryStore) DeleteString(ctx context.Context, key string) error {
	if err := checkKey(OpDeleteString, key); err != nil {
		return err
	}
	_, err := offload(ctx, m.offload, OpDeleteString, key, func() bool {
		return m.strings.remove(key)
	})
	return err
}

func (m *MemoryStore) StoreRawWithExpiry(ctx context.Context, key string, value []byte, ttl TTL) (StoreState, error) {
	if err := checkKey(OpStoreRaw, key); err != nil {
		return StateNew, err
	}
	ttl = ttl.Or(m.defaultTTL)
	value = bytes.Clone(value)
	return offload(ctx, m.offload, OpStoreRaw, key, func() StoreState {
		return storeEntry(m.raw, key, value, ttl, m.now())
	})
}

func (m *MemoryStore) StoreRaw(ctx context.Context, key string, value []byte) (StoreState, error) {
	return m.StoreRawWithExpiry(ctx, key, value, NoTTL)
}

func (m *MemoryStore) LoadRaw(ctx context.Context, key string) ([]byte, bool, error) {
	if err := checkKey(OpLoadRaw, key); err != nil {
		return nil, false, err
	}
	r, err := offload(ctx, m.offload, OpLoadRaw, key, func() loaded[[]byte] {
		v, ok := loadEntry(m.raw, key, m.now(), m.logger)
		return loaded[[]byte]{bytes.Clone(v), ok}
	})
	return r.value, r.ok, err
}

func (m *MemoryStore) DeleteRaw(ctx context.Context, key string) error {
	if err := checkKey(OpDeleteRaw, key); err != nil {
		return err
	}
	_, err := offload(ctx, m.offload, OpDeleteRaw, key, func() bool {
		return m.raw.remove(key)
	})
	return err
}

func (m *MemoryStore) AtomicStore(ctx context.Context, key string, value int64) (StoreState, error) {
	if err := checkKey(OpAtomicStore, key); err != nil {
		return StateNew, err
	}
	return offload(ctx, m.offload, OpAtomicStore, key, func() StoreState {
		cell := new(atomic.Int64)
		cell.Store(value)
		return stateOf(m.counters.swap(key, cell))
	})
}

func (m *MemoryStore) AtomicLoad(ctx context.Context, key string) (int64, bool, error) {
	if err := checkKey(OpAtomicLoad, key); err != nil {
		return 0, false, err
	}
	r, err := offload(ctx, m.offload, OpAtomicLoad, key, func() loaded[int64] {
		var r loaded[int64]
		r.ok = m.counters.view(key, func(cell *atomic.Int64) {
			r.value = cell.Load()
		})
		return r
	})
	return r.value, r.ok, err
}

func (m *MemoryStore) AtomicDelete(ctx context.Context, key string) error {
	if err := checkKey(OpAtomicDelete, key); err != nil {
		return err
	}
	_, err := offload(ctx, m.offload, OpAtomicDelete, key, func() bool {
		return m.counters.remove(key)
	})
	return err
}

// AtomicIncrement is a single fetch-and-add on the counter cell. It runs under
// the shard read lock, so increments on one key proceed in parallel while
// AtomicStore and AtomicDelete on that key are ordered against them.
func (m *MemoryStore) AtomicIncrement(ctx context.Context, key string, delta int64) (int64, bool, error) {
	if err := checkKey(OpAtomicIncrement, key); err != nil {
		return 0, false, err
	}
	r, err := offload(ctx, m.offload, OpAtomicIncrement, key, func() loaded[int64] {
		var r loaded[int64]
		r.ok = m.counters.view(key, func(cell *atomic.Int64) {
			r.value = cell.Add(delta) - delta
		})
		return r
	})
	return r.value, r.ok, err
}

// Len reports the physically stored entries per shape, expired entries that
// no read has purged yet included.
func (m *MemoryStore) Len() (strings, raw, counters int) {
	return m.strings.len(), m.raw.len(), m.counters.len()
}

// Close drops every entry. The store stays usable.
func (m *MemoryStore) Close() error {
	m.strings.clear()
	m.raw.clear()
	m.counters.clear()
	return nil
}
