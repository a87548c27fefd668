package store

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 64

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// shardMap is a concurrent map split into independently locked shards.
type shardMap[V any] struct {
	shards []shard[V]
	mask   uint64
}

func newShardMap[V any](n int) *shardMap[V] {
	if n <= 0 {
		n = defaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}
	m := &shardMap[V]{
		shards: make([]shard[V], size),
		mask:   uint64(size - 1),
	}
	for i := range m.shards {
		m.shards[i].items = make(map[string]V)
	}
	return m
}

func (m *shardMap[V]) shardFor(key string) *shard[V] {
	return &m.shards[xxhash.Sum64String(key)&m.mask]
}

func (m *shardMap[V]) get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// swap stores v and reports whether the key already held a value.
func (m *shardMap[V]) swap(key string, v V) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.items[key]
	s.items[key] = v
	return existed
}

func (m *shardMap[V]) remove(key string) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.items[key]
	delete(s.items, key)
	return existed
}

// removeIf deletes the key only if pred holds for the value currently stored,
// checked and removed under one write lock.
func (m *shardMap[V]) removeIf(key string, pred func(V) bool) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok || !pred(v) {
		return false
	}
	delete(s.items, key)
	return true
}

// view runs fn on the stored value while holding the shard read lock.
func (m *shardMap[V]) view(key string, fn func(V)) bool {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	if ok {
		fn(v)
	}
	return ok
}

func (m *shardMap[V]) len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

func (m *shardMap[V]) clear() {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		s.items = make(map[string]V)
		s.mu.Unlock()
	}
}
