package store

import (
	"context"
	"math"
	"time"
)

// StoreState reports whether a write created an entry or replaced one.
type StoreState int

const (
	// StateNew means no entry existed for the key before the write.
	StateNew StoreState = iota
	// StateUpdated means an entry existed, live or expired-but-unpurged.
	StateUpdated
)

func (s StoreState) String() string {
	if s == StateUpdated {
		return "updated"
	}
	return "new"
}

func stateOf(existed bool) StoreState {
	if existed {
		return StateUpdated
	}
	return StateNew
}

// TTL is an optional time-to-live in whole seconds, relative to the call.
type TTL struct {
	seconds uint64
	set     bool
}

// NoTTL stores an entry without expiry.
var NoTTL TTL

// Seconds returns a TTL of n seconds. Seconds(0) expires immediately.
func Seconds(n uint64) TTL {
	return TTL{seconds: n, set: true}
}

// Get returns the TTL in seconds and whether one is set.
func (t TTL) Get() (uint64, bool) {
	return t.seconds, t.set
}

// Or returns t if set, otherwise def.
func (t TTL) Or(def TTL) TTL {
	if t.set {
		return t
	}
	return def
}

// Duration converts a set TTL to a time.Duration, saturating on overflow.
func (t TTL) Duration() time.Duration {
	if t.seconds > uint64(math.MaxInt64/int64(time.Second)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(t.seconds) * time.Second
}

// expiresAt returns the absolute expiry in Unix seconds.
func (t TTL) expiresAt(now time.Time) (int64, bool) {
	if !t.set {
		return 0, false
	}
	base := now.Unix()
	if t.seconds > uint64(math.MaxInt64-base) {
		return math.MaxInt64, true
	}
	return base + int64(t.seconds), true
}

// expired reports whether an absolute expiry has been reached. An entry is
// absent from its expiry second onwards.
func expired(expiresAt int64, now time.Time) bool {
	return now.Unix() >= expiresAt
}

// StringStorageWithExpiry stores strings with an optional TTL.
type StringStorageWithExpiry interface {
	StoreStringWithExpiry(ctx context.Context, key, value string, ttl TTL) (StoreState, error)
}

// StringStorage is the string value shape.
type StringStorage interface {
	StringStorageWithExpiry
	// StoreString is StoreStringWithExpiry with NoTTL.
	StoreString(ctx context.Context, key, value string) (StoreState, error)
	// LoadString returns false when the key is missing or expired.
	LoadString(ctx context.Context, key string) (string, bool, error)
	// DeleteString succeeds whether or not the key exists.
	DeleteString(ctx context.Context, key string) error
}

// RawStorageWithExpiry stores byte slices with an optional TTL.
type RawStorageWithExpiry interface {
	StoreRawWithExpiry(ctx context.Context, key string, value []byte, ttl TTL) (StoreState, error)
}

// RawStorage is the raw bytes value shape. Loaded slices are copies.
type RawStorage interface {
	RawStorageWithExpiry
	StoreRaw(ctx context.Context, key string, value []byte) (StoreState, error)
	LoadRaw(ctx context.Context, key string) ([]byte, bool, error)
	DeleteRaw(ctx context.Context, key string) error
}

// AtomicStorage is the counter shape. Counters never expire.
type AtomicStorage interface {
	// AtomicStore sets the counter to value.
	AtomicStore(ctx context.Context, key string, value int64) (StoreState, error)
	AtomicLoad(ctx context.Context, key string) (int64, bool, error)
	AtomicDelete(ctx context.Context, key string) error
	// AtomicIncrement adds delta and returns the value before the add. A
	// missing counter is reported as false and is not created.
	AtomicIncrement(ctx context.Context, key string, delta int64) (int64, bool, error)
}

// Storage is the full contract every backend implements. Each shape has its
// own key namespace.
type Storage interface {
	StringStorage
	RawStorage
	AtomicStorage
	Close() error
}

// Operation names used in errors, logs and metrics.
const (
	OpStoreString     = "store_string"
	OpLoadString      = "load_string"
	OpDeleteString    = "delete_string"
	OpStoreRaw        = "store_raw"
	OpLoadRaw         = "load_raw"
	OpDeleteRaw       = "delete_raw"
	OpAtomicStore     = "atomic_store"
	OpAtomicLoad      = "atomic_load"
	OpAtomicDelete    = "atomic_delete"
	OpAtomicIncrement = "atomic_increment"
)
