// Package fifo implements a first-in first-out cache eviction strategy.
//
// Reads never change eviction order: the oldest inserted entry is always the
// next one dropped.
package fifo

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/discochess/romstash/internal/cachestrategy"
)

// Compile-time check that Strategy implements cachestrategy.Strategy.
var _ cachestrategy.Strategy[string, []byte] = (*Strategy[string, []byte])(nil)

// Strategy implements FIFO eviction on top of an LRU list that is only ever
// peeked, so recency is equal to insertion order.
type Strategy[K comparable, V any] struct {
	cache *lru.Cache[K, V]
}

// New creates a new FIFO strategy with the given capacity.
func New[K comparable, V any](capacity int) (*Strategy[K, V], error) {
	c, err := lru.New[K, V](capacity)
	if err != nil {
		return nil, err
	}
	return &Strategy[K, V]{cache: c}, nil
}

// Get retrieves a value by key without touching eviction order.
func (s *Strategy[K, V]) Get(key K) (V, bool) {
	return s.cache.Peek(key)
}

// Add inserts a value. Re-adding an existing key counts as a fresh insertion.
func (s *Strategy[K, V]) Add(key K, value V) bool {
	return s.cache.Add(key, value)
}

// Remove deletes a key from the cache.
func (s *Strategy[K, V]) Remove(key K) bool {
	return s.cache.Remove(key)
}

// Len returns the number of items in the cache.
func (s *Strategy[K, V]) Len() int {
	return s.cache.Len()
}

// Purge drops every entry.
func (s *Strategy[K, V]) Purge() {
	s.cache.Purge()
}

// Keys returns the cached keys from oldest to newest insertion.
func (s *Strategy[K, V]) Keys() []K {
	return s.cache.Keys()
}
