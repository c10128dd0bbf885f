// Package romerr defines the error taxonomy shared by the ROM access, caching
// and scanning packages.
//
// Every error returned by romstash wraps exactly one of these sentinels, so
// callers can classify failures with errors.Is regardless of which layer
// produced them.
package romerr

import "errors"

var (
	// ErrNotFound indicates a missing ROM file or cache entry.
	ErrNotFound = errors.New("romstash: not found")

	// ErrInvalidRange indicates a bad offset or size.
	ErrInvalidRange = errors.New("romstash: invalid range")

	// ErrExpired indicates a cache entry outlived its TTL.
	ErrExpired = errors.New("romstash: entry expired")

	// ErrIO indicates a read, write or mapping failure.
	ErrIO = errors.New("romstash: i/o failure")

	// ErrDecompression indicates the external decompressor rejected its input.
	ErrDecompression = errors.New("romstash: decompression failed")

	// ErrCancelled indicates cooperative cancellation was observed mid-operation.
	ErrCancelled = errors.New("romstash: cancelled")

	// ErrCorrupt indicates a short or undecodable cache entry.
	ErrCorrupt = errors.New("romstash: corrupt cache entry")

	// ErrClosed indicates use of a closed resource.
	ErrClosed = errors.New("romstash: closed")
)
