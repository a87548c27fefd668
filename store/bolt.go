package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// BoltConfig configures a BoltStore.
type BoltConfig struct {
	Path string
	// Timeout bounds waiting for the file lock. Default 1s.
	Timeout    time.Duration
	DefaultTTL TTL
	Logger     *zap.Logger
	Now        func() time.Time
}

var (
	stringsBucket  = []byte("strings")
	rawBucket      = []byte("raw")
	countersBucket = []byte("counters")
)

// BoltStore implements Storage on a local bbolt file. String and raw records
// are an 8-byte big-endian expiry (0 for none) followed by the payload;
// counters are decimal text.
type BoltStore struct {
	db         *bolt.DB
	defaultTTL TTL
	logger     *zap.Logger
	now        func() time.Time
}

func NewBoltStore(cfg BoltConfig) (*BoltStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, connectionFailure("open", cfg.Path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{stringsBucket, rawBucket, countersBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, connectionFailure("open", cfg.Path, err)
	}
	logger.Info("opened bolt store", zap.String("path", cfg.Path))

	return &BoltStore{db: db, defaultTTL: cfg.DefaultTTL, logger: logger, now: now}, nil
}

func encodeRecord(value []byte, expiresAt int64) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt))
	copy(buf[8:], value)
	return buf
}

func recordExpired(record []byte, now time.Time) bool {
	if len(record) < 8 {
		return true
	}
	expiresAt := int64(binary.BigEndian.Uint64(record[:8]))
	return expiresAt != 0 && expired(expiresAt, now)
}

func (b *BoltStore) put(op string, bucket []byte, key string, value []byte, ttl TTL) (StoreState, error) {
	if err := checkKey(op, key); err != nil {
		return StateNew, err
	}
	at, _ := ttl.Or(b.defaultTTL).expiresAt(b.now())
	var existed bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucket)
		existed = bk.Get([]byte(key)) != nil
		return bk.Put([]byte(key), encodeRecord(value, at))
	})
	if err != nil {
		return StateNew, connectionFailure(op, key, err)
	}
	return stateOf(existed), nil
}

func (b *BoltStore) get(op string, bucket []byte, key string) ([]byte, bool, error) {
	if err := checkKey(op, key); err != nil {
		return nil, false, err
	}
	now := b.now()
	var out []byte
	var found, stale bool
	err := b.db.View(func(tx *bolt.Tx) error {
		record := tx.Bucket(bucket).Get([]byte(key))
		if record == nil {
			return nil
		}
		if recordExpired(record, now) {
			stale = true
			return nil
		}
		found = true
		out = bytes.Clone(record[8:])
		return nil
	})
	if err != nil {
		return nil, false, connectionFailure(op, key, err)
	}
	if stale {
		return nil, false, b.purgeExpired(op, bucket, key, now)
	}
	return out, found, nil
}

// purgeExpired re-checks and deletes inside one write transaction.
func (b *BoltStore) purgeExpired(op string, bucket []byte, key string, now time.Time) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucket)
		record := bk.Get([]byte(key))
		if record == nil || !recordExpired(record, now) {
			return nil
		}
		b.logger.Debug("purged expired entry", zap.String("key", key))
		return bk.Delete([]byte(key))
	})
	if err != nil {
		return connectionFailure(op, key, err)
	}
	return nil
}

func (b *BoltStore) remove(op string, bucket []byte, key string) error {
	if err := checkKey(op, key); err != nil {
		return err
	}
	if err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	}); err != nil {
		return connectionFailure(op, key, err)
	}
	return nil
}

func (b *BoltStore) StoreStringWithExpiry(ctx context.Context, key, value string, ttl TTL) (StoreState, error) {
	return b.put(OpStoreString, stringsBucket, key, []byte(value), ttl)
}

func (b *BoltStore) StoreString(ctx context.Context, key, value string) (StoreState, error) {
	return b.StoreStringWithExpiry(ctx, key, value, NoTTL)
}

func (b *BoltStore) LoadString(ctx context.Context, key string) (string, bool, error) {
	data, ok, err := b.get(OpLoadString, stringsBucket, key)
	return string(data), ok, err
}

func (b *BoltStore) DeleteString(ctx context.Context, key string) error {
	return b.remove(OpDeleteString, stringsBucket, key)
}

func (b *BoltStore) StoreRawWithExpiry(ctx context.Context, key string, value []byte, ttl TTL) (StoreState, error) {
	return b.put(OpStoreRaw, rawBucket, key, value, ttl)
}

func (b *BoltStore) StoreRaw(ctx context.Context, key string, value []byte) (StoreState, error) {
	return b.StoreRawWithExpiry(ctx, key, value, NoTTL)
}

func (b *BoltStore) LoadRaw(ctx context.Context, key string) ([]byte, bool, error) {
	return b.get(OpLoadRaw, rawBucket, key)
}

func (b *BoltStore) DeleteRaw(ctx context.Context, key string) error {
	return b.remove(OpDeleteRaw, rawBucket, key)
}

func (b *BoltStore) AtomicStore(ctx context.Context, key string, value int64) (StoreState, error) {
	if err := checkKey(OpAtomicStore, key); err != nil {
		return StateNew, err
	}
	var existed bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(countersBucket)
		existed = bk.Get([]byte(key)) != nil
		return bk.Put([]byte(key), strconv.AppendInt(nil, value, 10))
	})
	if err != nil {
		return StateNew, connectionFailure(OpAtomicStore, key, err)
	}
	return stateOf(existed), nil
}

func (b *BoltStore) AtomicLoad(ctx context.Context, key string) (int64, bool, error) {
	if err := checkKey(OpAtomicLoad, key); err != nil {
		return 0, false, err
	}
	var text []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		text = bytes.Clone(tx.Bucket(countersBucket).Get([]byte(key)))
		return nil
	})
	if err != nil {
		return 0, false, connectionFailure(OpAtomicLoad, key, err)
	}
	if text == nil {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(string(text), 10, 64)
	if err != nil {
		return 0, false, deserializationFailure(OpAtomicLoad, key, err)
	}
	return n, true, nil
}

func (b *BoltStore) AtomicDelete(ctx context.Context, key string) error {
	return b.remove(OpAtomicDelete, countersBucket, key)
}

// AtomicIncrement reads and rewrites the counter inside one write
// transaction; bbolt serializes writers.
func (b *BoltStore) AtomicIncrement(ctx context.Context, key string, delta int64) (int64, bool, error) {
	if err := checkKey(OpAtomicIncrement, key); err != nil {
		return 0, false, err
	}
	var before int64
	var found bool
	var parseErr error
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(countersBucket)
		text := bk.Get([]byte(key))
		if text == nil {
			return nil
		}
		n, err := strconv.ParseInt(string(text), 10, 64)
		if err != nil {
			parseErr = err
			return nil
		}
		before, found = n, true
		return bk.Put([]byte(key), strconv.AppendInt(nil, n+delta, 10))
	})
	if parseErr != nil {
		return 0, false, deserializationFailure(OpAtomicIncrement, key, parseErr)
	}
	if err != nil {
		return 0, false, connectionFailure(OpAtomicIncrement, key, err)
	}
	return before, found, nil
}

// DB exposes the underlying bbolt handle.
func (b *BoltStore) DB() *bolt.DB {
	return b.db
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}
