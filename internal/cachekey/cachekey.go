// Package cachekey derives fixed-width cache keys from a ROM identity and an
// offset.
//
// Keys have the form "<fingerprint>_<offset>", where the fingerprint is the
// FNV-1a 32-bit hash of the identity (usually the ROM path) as 8 hex digits and
// the offset is rendered as 8 hex digits. The format is safe to use as a file
// or object name.
package cachekey

import "fmt"

// Key returns the cache key for offset within the ROM identified by identity.
func Key(identity string, offset int64) string {
	return fmt.Sprintf("%s_%08x", Fingerprint(identity), uint32(offset))
}

// Fingerprint returns the 8 hex digit fingerprint of identity.
func Fingerprint(identity string) string {
	return fmt.Sprintf("%08x", fnv1a32(identity))
}

// fnv1a32 computes the FNV-1a 32-bit hash of a string.
func fnv1a32(s string) uint32 {
	var h uint32 = 2166136261 // FNV offset basis
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619 // FNV prime
	}
	return h
}
