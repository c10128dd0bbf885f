// Package redisstore implements a Redis storage backend. Entries carry a
// native TTL so Redis expires stale entries on its own.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/discochess/romstash/internal/codec"
	"github.com/discochess/romstash/internal/store"
)

// Compile-time checks that Store implements store.Store and store.Lister.
var (
	_ store.Store  = (*Store)(nil)
	_ store.Lister = (*Store)(nil)
)

const (
	// DefaultPrefix namespaces every key written by the store.
	DefaultPrefix = "romstash:"

	// DefaultTTL matches the persistent cache's disk TTL.
	DefaultTTL = 24 * time.Hour
)

// Store is a Redis storage backend.
// The caller owns the client lifecycle; Close is a no-op on the client.
type Store struct {
	client redis.UniversalClient
	codec  codec.Codec
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key namespace. An empty prefix stores bare entry names.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTTL sets the expiry applied to every write. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// New returns a Store backed by client.
func New(client redis.UniversalClient, c codec.Codec, opts ...Option) *Store {
	s := &Store{
		client: client,
		codec:  c,
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read fetches and decompresses the value for key.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	data, err := codec.Decode(s.codec, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrCorrupt, err)
	}
	return data, nil
}

// Write compresses data and stores it with the configured TTL. A single SET
// replaces the value atomically.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	encoded, err := codec.Encode(s.codec, data)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}
	if err := s.client.Set(ctx, s.redisKey(key), encoded, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Keys scans the namespace for entries.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		name := strings.TrimPrefix(iter.Val(), s.prefix)
		if key, ok := store.KeyFromName(name, s.codec.Extension()); ok {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

// Close is a no-op; the caller owns the client.
func (s *Store) Close() error {
	return nil
}

func (s *Store) redisKey(key string) string {
	return s.prefix + store.EntryName(key, s.codec.Extension())
}
