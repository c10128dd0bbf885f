// Package store defines the byte-level backends behind the persistent
// cache's disk tier.
//
// Entries are addressed by cache key. Backends own naming and compression:
// every backend stores key as "<key>.cache", with the codec extension
// appended when a compressing codec is configured.
package store

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when an entry does not exist in the store.
	ErrNotFound = errors.New("store: entry not found")

	// ErrCorrupt is returned when a stored entry cannot be decoded.
	ErrCorrupt = errors.New("store: corrupt entry")
)

// Extension is the suffix shared by every cache entry name.
const Extension = ".cache"

// Store defines the interface for storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Read returns the decoded bytes stored under key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write replaces the bytes stored under key. Readers never observe a
	// partially written entry.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

// EntryName returns the object or file name for key, given a codec extension
// without dot.
func EntryName(key, codecExt string) string {
	name := key + Extension
	if codecExt != "" {
		name += "." + codecExt
	}
	return name
}

// KeyFromName reverses EntryName. It reports false for names that are not
// cache entries for the given codec extension.
func KeyFromName(name, codecExt string) (string, bool) {
	suffix := Extension
	if codecExt != "" {
		suffix += "." + codecExt
	}
	key, ok := strings.CutSuffix(name, suffix)
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// NormalizePrefix returns prefix with exactly one trailing slash, or "" when
// prefix is empty.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
