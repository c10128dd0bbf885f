// Package gcsstore implements a Google Cloud Storage backend for sharing a
// cache tier between machines.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/discochess/romstash/internal/codec"
	"github.com/discochess/romstash/internal/store"
)

// Compile-time checks that Store implements store.Store and store.Lister.
var (
	_ store.Store  = (*Store)(nil)
	_ store.Lister = (*Store)(nil)
)

// Store is a Google Cloud Storage backend. Each entry is one object under
// "<prefix>cache/".
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	codec  codec.Codec
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets a key prefix for all operations.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = store.NormalizePrefix(prefix)
	}
}

// WithClient uses client instead of one built from application default
// credentials. The Store takes ownership and closes it.
func WithClient(client *storage.Client) Option {
	return func(s *Store) {
		s.client = client
	}
}

// New creates a new GCS store.
// The bucket must already exist.
// The codec handles compression/decompression.
func New(ctx context.Context, bucketName string, c codec.Codec, opts ...Option) (*Store, error) {
	s := &Store{codec: c}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating GCS client: %w", err)
		}
		s.client = client
	}
	s.bucket = s.client.Bucket(bucketName)

	return s, nil
}

// Read downloads and decompresses the object for key.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.bucket.Object(s.objectKey(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("creating reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	data, err := codec.Decode(s.codec, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrCorrupt, err)
	}
	return data, nil
}

// Write compresses data and uploads it. The object only becomes visible when
// the upload completes.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	encoded, err := codec.Encode(s.codec, data)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}

	w := s.bucket.Object(s.objectKey(key)).NewWriter(ctx)
	if _, err := w.Write(encoded); err != nil {
		_ = w.Close()
		return fmt.Errorf("uploading object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing upload: %w", err)
	}
	return nil
}

// Delete removes the object for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(s.objectKey(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

// Keys lists every entry under the store prefix.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	dir := s.prefix + "cache/"
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: dir})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		if key, ok := store.KeyFromName(strings.TrimPrefix(attrs.Name, dir), s.codec.Extension()); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Close releases resources.
func (s *Store) Close() error {
	return s.client.Close()
}

// objectKey returns the full object key for a cache key.
func (s *Store) objectKey(key string) string {
	return s.prefix + "cache/" + store.EntryName(key, s.codec.Extension())
}
