// Package memstore provides an in-memory store implementation for testing and
// for caches that should not outlive the process.
package memstore

import (
	"bytes"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/discochess/romstash/internal/store"
)

// Compile-time checks that Store implements store.Store and store.Lister.
var (
	_ store.Store  = (*Store)(nil)
	_ store.Lister = (*Store)(nil)
)

// Store is an in-memory store.
type Store struct {
	mu        sync.RWMutex
	entries   map[string][]byte
	failWrite func(key string) error
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		entries: make(map[string][]byte),
	}
}

// FailWrites installs fn to decide whether a Write should fail. A nil fn
// removes the hook.
func (s *Store) FailWrites(fn func(key string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrite = fn
}

// Read returns a copy of the entry stored under key.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.entries[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return bytes.Clone(data), nil
}

// Write stores a copy of data under key.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWrite != nil {
		if err := s.failWrite(key); err != nil {
			return err
		}
	}
	s.entries[key] = bytes.Clone(data)
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Keys returns every stored key in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.entries)), nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}
