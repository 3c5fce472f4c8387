package repository

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShardCount is used when a non-positive shard count is requested.
const DefaultShardCount = 32

// ShardedMap is a concurrent map split into independently locked shards, so
// operations on different keys rarely contend.
type ShardedMap[V any] struct {
	shards []*shard[V]
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

type entry[V any] struct {
	k string
	v V
}

// NewShardedMap creates a map with n shards.
func NewShardedMap[V any](n int) *ShardedMap[V] {
	if n <= 0 {
		n = DefaultShardCount
	}
	m := &ShardedMap[V]{shards: make([]*shard[V], n)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *ShardedMap[V]) shardFor(key string) *shard[V] {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// Get returns the value for key.
func (m *ShardedMap[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Set stores v under key.
func (m *ShardedMap[V]) Set(key string, v V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = v
	s.mu.Unlock()
}

// SetIfAbsent stores v unless key already exists. It returns the value held
// after the call and whether v was stored.
func (m *ShardedMap[V]) SetIfAbsent(key string, v V) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.items[key]; ok {
		return cur, false
	}
	s.items[key] = v
	return v, true
}

// Delete removes key and reports whether it existed.
func (m *ShardedMap[V]) Delete(key string) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	delete(s.items, key)
	return ok
}

// Range calls fn for every entry until fn returns false. Each shard is read
// under its own lock; entries added concurrently may or may not be seen.
func (m *ShardedMap[V]) Range(fn func(key string, v V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		snapshot := make([]entry[V], 0, len(s.items))
		for k, v := range s.items {
			snapshot = append(snapshot, entry[V]{k, v})
		}
		s.mu.RUnlock()
		for _, e := range snapshot {
			if !fn(e.k, e.v) {
				return
			}
		}
	}
}

// Len returns the number of entries.
func (m *ShardedMap[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// ShardCount returns the number of shards.
func (m *ShardedMap[V]) ShardCount() int { return len(m.shards) }
