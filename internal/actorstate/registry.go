// Package actorstate holds per-actor mutable state behind sharded locks.
package actorstate

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 64

type shard[T any] struct {
	mu    sync.Mutex
	items map[string]*T
}

// Registry maps actor ids to state values. Each actor hashes to one shard;
// callers mutate state only inside With, which holds that shard's lock, so
// updates for a single actor are serialized while other shards proceed.
type Registry[T any] struct {
	shards  []*shard[T]
	newItem func() *T
}

// New creates a registry with n shards (a default is used when n <= 0).
// newItem builds the zero state for an actor seen for the first time.
func New[T any](n int, newItem func() *T) *Registry[T] {
	if n <= 0 {
		n = defaultShards
	}
	r := &Registry[T]{
		shards:  make([]*shard[T], n),
		newItem: newItem,
	}
	for i := range r.shards {
		r.shards[i] = &shard[T]{items: make(map[string]*T)}
	}
	return r
}

func (r *Registry[T]) shardFor(actorID string) *shard[T] {
	return r.shards[xxhash.Sum64String(actorID)%uint64(len(r.shards))]
}

// With runs fn with the actor's state while holding its shard lock. State is
// created on first use.
func (r *Registry[T]) With(actorID string, fn func(*T)) {
	s := r.shardFor(actorID)
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[actorID]
	if !ok {
		item = r.newItem()
		s.items[actorID] = item
	}
	fn(item)
}

// Peek runs fn with the actor's state if it exists. It reports whether the
// actor was present.
func (r *Registry[T]) Peek(actorID string, fn func(*T)) bool {
	s := r.shardFor(actorID)
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[actorID]
	if !ok {
		return false
	}
	fn(item)
	return true
}

// Delete drops an actor's state.
func (r *Registry[T]) Delete(actorID string) {
	s := r.shardFor(actorID)
	s.mu.Lock()
	delete(s.items, actorID)
	s.mu.Unlock()
}

// Sweep visits every actor and removes those for which drop returns true.
// Shards are locked one at a time.
func (r *Registry[T]) Sweep(drop func(actorID string, item *T) bool) int {
	removed := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for id, item := range s.items {
			if drop(id, item) {
				delete(s.items, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked actors.
func (r *Registry[T]) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}
