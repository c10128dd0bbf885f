// Package cachestrategy defines cache eviction strategy interfaces.
package cachestrategy

// Strategy defines the interface for bounded, concurrency-safe eviction
// strategies. Implementations decide which entry is dropped when Add pushes
// the cache past its capacity.
type Strategy[K comparable, V any] interface {
	// Get retrieves a value by key.
	Get(key K) (V, bool)

	// Add inserts or replaces a value and reports whether an eviction occurred.
	Add(key K, value V) bool

	// Remove deletes a key and reports whether it was present.
	Remove(key K) bool

	// Len returns the number of cached entries.
	Len() int

	// Purge drops every entry.
	Purge()
}
