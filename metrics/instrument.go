package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/codetesla51/kvshape/store"
)

const (
	shapeString  = "string"
	shapeRaw     = "raw"
	shapeCounter = "counter"
)

// Outcome values recorded on every operation.
const (
	OutcomeOK              = "ok"
	OutcomeMiss            = "miss"
	OutcomeTaskFailure     = "task_failure"
	OutcomeConnection      = "connection"
	OutcomeDeserialization = "deserialization"
	OutcomeInvalidKey      = "invalid_key"
	OutcomeError           = "error"
)

// Outcome classifies the result of a storage call.
func Outcome(found bool, err error) string {
	switch {
	case err == nil && found:
		return OutcomeOK
	case err == nil:
		return OutcomeMiss
	case errors.Is(err, store.ErrInvalidKey):
		return OutcomeInvalidKey
	case errors.Is(err, store.ErrConnection):
		return OutcomeConnection
	case errors.Is(err, store.ErrDeserialization):
		return OutcomeDeserialization
	case errors.Is(err, store.ErrTaskFailure):
		return OutcomeTaskFailure
	default:
		return OutcomeError
	}
}

type instrumented struct {
	next    store.Storage
	metrics *Metrics
}

// Instrument wraps s so every call is counted and timed.
func Instrument(s store.Storage, m *Metrics) store.Storage {
	return &instrumented{next: s, metrics: m}
}

func (i *instrumented) record(ctx context.Context, op, shape string, start time.Time, found bool, err error) {
	i.metrics.RecordOperation(ctx, op, shape, Outcome(found, err), time.Since(start))
}

func (i *instrumented) recordLoad(ctx context.Context, op, shape string, start time.Time, found bool, err error) {
	i.record(ctx, op, shape, start, found, err)
	if err != nil {
		return
	}
	if found {
		i.metrics.RecordHit(ctx, shape)
	} else {
		i.metrics.RecordMiss(ctx, shape)
	}
}

func (i *instrumented) StoreStringWithExpiry(ctx context.Context, key, value string, ttl store.TTL) (store.StoreState, error) {
	start := time.Now()
	state, err := i.next.StoreStringWithExpiry(ctx, key, value, ttl)
	i.record(ctx, store.OpStoreString, shapeString, start, true, err)
	return state, err
}

func (i *instrumented) StoreString(ctx context.Context, key, value string) (store.StoreState, error) {
	return i.StoreStringWithExpiry(ctx, key, value, store.NoTTL)
}

func (i *instrumented) LoadString(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	v, ok, err := i.next.LoadString(ctx, key)
	i.recordLoad(ctx, store.OpLoadString, shapeString, start, ok, err)
	return v, ok, err
}

func (i *instrumented) DeleteString(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.DeleteString(ctx, key)
	i.record(ctx, store.OpDeleteString, shapeString, start, true, err)
	return err
}

func (i *instrumented) StoreRawWithExpiry(ctx context.Context, key string, value []byte, ttl store.TTL) (store.StoreState, error) {
	start := time.Now()
	state, err := i.next.StoreRawWithExpiry(ctx, key, value, ttl)
	i.record(ctx, store.OpStoreRaw, shapeRaw, start, true, err)
	return state, err
}

func (i *instrumented) StoreRaw(ctx context.Context, key string, value []byte) (store.StoreState, error) {
	return i.StoreRawWithExpiry(ctx, key, value, store.NoTTL)
}

func (i *instrumented) LoadRaw(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	v, ok, err := i.next.LoadRaw(ctx, key)
	i.recordLoad(ctx, store.OpLoadRaw, shapeRaw, start, ok, err)
	return v, ok, err
}

func (i *instrumented) DeleteRaw(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.DeleteRaw(ctx, key)
	i.record(ctx, store.OpDeleteRaw, shapeRaw, start, true, err)
	return err
}

func (i *instrumented) AtomicStore(ctx context.Context, key string, value int64) (store.StoreState, error) {
	start := time.Now()
	state, err := i.next.AtomicStore(ctx, key, value)
	i.record(ctx, store.OpAtomicStore, shapeCounter, start, true, err)
	return state, err
}

func (i *instrumented) AtomicLoad(ctx context.Context, key string) (int64, bool, error) {
	start := time.Now()
	v, ok, err := i.next.AtomicLoad(ctx, key)
	i.recordLoad(ctx, store.OpAtomicLoad, shapeCounter, start, ok, err)
	return v, ok, err
}

func (i *instrumented) AtomicDelete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.AtomicDelete(ctx, key)
	i.record(ctx, store.OpAtomicDelete, shapeCounter, start, true, err)
	return err
}

func (i *instrumented) AtomicIncrement(ctx context.Context, key string, delta int64) (int64, bool, error) {
	start := time.Now()
	prev, ok, err := i.next.AtomicIncrement(ctx, key, delta)
	i.recordLoad(ctx, store.OpAtomicIncrement, shapeCounter, start, ok, err)
	return prev, ok, err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}
