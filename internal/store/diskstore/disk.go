// Package diskstore implements a local directory storage backend.
package diskstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/discochess/romstash/internal/codec"
	"github.com/discochess/romstash/internal/store"
)

// Compile-time checks that Store implements store.Store and store.Lister.
var (
	_ store.Store  = (*Store)(nil)
	_ store.Lister = (*Store)(nil)
)

// Store keeps one file per entry directly under root.
type Store struct {
	root  string
	codec codec.Codec
}

// New creates a disk store rooted at root, creating the directory if needed.
// The codec handles compression/decompression.
func New(root string, c codec.Codec) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat cache directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	return &Store{
		root:  root,
		codec: c,
	}, nil
}

// Root returns the cache directory.
func (s *Store) Root() string {
	return s.root
}

// Read reads and decompresses the entry stored under key.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("reading entry: %w", err)
	}

	data, err := codec.Decode(s.codec, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrCorrupt, err)
	}
	return data, nil
}

// Write compresses data and atomically replaces the file for key. The bytes
// are written to a temporary file in root and renamed over the final path.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded, err := codec.Encode(s.codec, data)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}
	if err := atomic.WriteFile(s.path(key), bytes.NewReader(encoded)); err != nil {
		return fmt.Errorf("writing entry: %w", err)
	}
	return nil
}

// Delete removes the file for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

// Keys lists every entry in root, ignoring temporary and foreign files.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing cache directory: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() {
			continue
		}
		if key, ok := store.KeyFromName(e.Name(), s.codec.Extension()); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Close releases any resources held by the store.
func (s *Store) Close() error {
	return nil
}

// path returns the filesystem path for key.
func (s *Store) path(key string) string {
	return filepath.Join(s.root, store.EntryName(key, s.codec.Extension()))
}
