// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe registry for high concurrency.

package session

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultShards is used when a non-positive shard count is requested.
const DefaultShards = 16

// Store maps session ids to values. Each shard has its own mutex so
// registrations from different workers rarely contend.
type Store[T any] struct {
	shards []*shard[T]
	mask   uint32
}

type shard[T any] struct {
	mu    sync.RWMutex
	items map[uuid.UUID]T
}

// NewStore constructs a store with shardCount rounded up to a power of two.
func NewStore[T any](shardCount int) *Store[T] {
	if shardCount <= 0 {
		shardCount = DefaultShards
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard[T], m)
	for i := range shards {
		shards[i] = &shard[T]{items: make(map[uuid.UUID]T)}
	}
	return &Store[T]{shards: shards, mask: m - 1}
}

// shard picks the shard for id. Random (v4) ids spread evenly on any byte.
func (s *Store[T]) shard(id uuid.UUID) *shard[T] {
	h := uint32(id[12])<<24 | uint32(id[13])<<16 | uint32(id[14])<<8 | uint32(id[15])
	return s.shards[h&s.mask]
}

// Insert adds v under id. It returns false if id is already present.
func (s *Store[T]) Insert(id uuid.UUID, v T) bool {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.items[id]; ok {
		return false
	}
	sh.items[id] = v
	return true
}

// Get fetches the value for id.
func (s *Store[T]) Get(id uuid.UUID) (T, bool) {
	sh := s.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.items[id]
	return v, ok
}

// Delete removes id and reports whether it was present.
func (s *Store[T]) Delete(id uuid.UUID) bool {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.items[id]; !ok {
		return false
	}
	delete(sh.items, id)
	return true
}

// Len counts all entries.
func (s *Store[T]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}

// Snapshot copies all values so callers can act on them without holding
// any shard lock.
func (s *Store[T]) Snapshot() []T {
	out := make([]T, 0, s.Len())
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, v := range sh.items {
			out = append(out, v)
		}
		sh.mu.RUnlock()
	}
	return out
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
