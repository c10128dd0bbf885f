// Package region provides memory-mapped, concurrently shared read access to a
// ROM image with a bounded cache of recently read ranges.
//
// The mapping is created once in Open and shared read-only by every caller.
// Reads always return copies, so callers can keep or modify the returned bytes
// after the Cache is closed.
package region

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/discochess/romstash/internal/cachestrategy/lru"
	"github.com/discochess/romstash/internal/romerr"
	"github.com/discochess/romstash/internal/stats"
)

const (
	// DefaultCapacity is the default number of cached (offset, size) ranges.
	DefaultCapacity = 64

	// DefaultCacheThreshold is the file size at and above which the range
	// cache is skipped and reads go straight to the mapping.
	DefaultCacheThreshold = 16 << 20
)

// span identifies a cached read.
type span struct {
	offset int64
	size   int64
}

// Stats reports range cache activity.
type Stats struct {
	Reads    int64
	Hits     int64
	Misses   int64
	Cached   int
	Capacity int
	Enabled  bool
}

// Cache serves byte-range reads from a memory-mapped ROM.
// A Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	path      string
	size      int64
	capacity  int
	threshold int64
	logger    *zap.Logger
	stats     stats.Collector

	// mu guards data against Close; reads hold it shared.
	mu     sync.RWMutex
	data   []byte
	closed bool

	ranges *lru.Strategy[span, []byte]

	reads  atomic.Int64
	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity sets the number of cached ranges. Zero disables the cache.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		c.capacity = n
	}
}

// WithCacheThreshold sets the file size at and above which the range cache
// is skipped.
func WithCacheThreshold(size int64) Option {
	return func(c *Cache) {
		c.threshold = size
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStats sets the stats collector.
func WithStats(s stats.Collector) Option {
	return func(c *Cache) {
		c.stats = stats.OrNoop(s)
	}
}

// Open maps the file at path for shared read access.
// It returns an error wrapping romerr.ErrNotFound when path does not exist and
// romerr.ErrIO when the file cannot be read or mapped.
func Open(path string, opts ...Option) (*Cache, error) {
	c := &Cache{
		path:      path,
		capacity:  DefaultCapacity,
		threshold: DefaultCacheThreshold,
		logger:    zap.NewNop(),
		stats:     stats.NewNoop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("opening %s: %w", path, romerr.ErrNotFound)
		}
		return nil, fmt.Errorf("opening %s: %w: %w", path, romerr.ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w: %w", path, romerr.ErrIO, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("opening %s: is a directory: %w", path, romerr.ErrIO)
	}
	c.size = info.Size()

	if c.size > 0 {
		data, err := mapFile(f, c.size)
		if err != nil {
			return nil, fmt.Errorf("mapping %s: %w: %w", path, romerr.ErrIO, err)
		}
		c.data = data
	}

	if c.capacity > 0 && c.size < c.threshold {
		ranges, err := lru.New[span, []byte](c.capacity)
		if err != nil {
			_ = c.unmap()
			return nil, fmt.Errorf("creating range cache: %w", err)
		}
		c.ranges = ranges
	}

	c.logger.Debug("rom opened",
		zap.String("path", path),
		zap.Int64("size", c.size),
		zap.Bool("rangeCache", c.ranges != nil),
	)
	return c, nil
}

// Path returns the path the Cache was opened from.
func (c *Cache) Path() string {
	return c.path
}

// Len returns the file length in bytes.
func (c *Cache) Len() int64 {
	return c.size
}

// ReadBytes returns size bytes starting at offset.
//
// When strict is false a read running past the end of the file is clamped and
// returns the available bytes. When strict is true it fails with
// romerr.ErrInvalidRange instead. A negative offset or size, or an offset at
// or beyond the end of the file, always fails with romerr.ErrInvalidRange.
func (c *Cache) ReadBytes(offset, size int64, strict bool) ([]byte, error) {
	if offset < 0 || size < 0 || offset >= c.size {
		return nil, fmt.Errorf("%w: offset 0x%x size %d in %d byte file",
			romerr.ErrInvalidRange, offset, size, c.size)
	}

	available := c.size - offset
	if size > available {
		if strict {
			return nil, fmt.Errorf("%w: requested %d bytes at offset 0x%x, only %d available",
				romerr.ErrInvalidRange, size, offset, available)
		}
		size = available
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, romerr.ErrClosed
	}

	c.reads.Add(1)
	c.stats.IncCounter(stats.MetricRegionReads, 1)

	if c.ranges == nil {
		return bytes.Clone(c.data[offset : offset+size]), nil
	}

	key := span{offset: offset, size: size}
	if cached, ok := c.ranges.Get(key); ok {
		c.hits.Add(1)
		c.stats.IncCounter(stats.MetricRegionCacheHits, 1)
		return bytes.Clone(cached), nil
	}

	c.misses.Add(1)
	c.stats.IncCounter(stats.MetricRegionCacheMisses, 1)
	buf := bytes.Clone(c.data[offset : offset+size])
	c.ranges.Add(key, buf)
	return bytes.Clone(buf), nil
}

// ReadAt implements io.ReaderAt directly over the mapping, bypassing the
// range cache.
func (c *Cache) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", romerr.ErrInvalidRange, off)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0, romerr.ErrClosed
	}
	if off >= c.size {
		return 0, io.EOF
	}

	n := copy(p, c.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// ClearCache drops every cached range. The mapping is untouched.
func (c *Cache) ClearCache() {
	if c.ranges != nil {
		c.ranges.Purge()
	}
}

// Stats returns a snapshot of range cache activity.
func (c *Cache) Stats() Stats {
	s := Stats{
		Reads:    c.reads.Load(),
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Capacity: c.capacity,
		Enabled:  c.ranges != nil,
	}
	if c.ranges != nil {
		s.Cached = c.ranges.Len()
	}
	return s
}

// Close releases the mapping. Later reads fail with romerr.ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return romerr.ErrClosed
	}
	c.closed = true
	c.ClearCache()
	return c.unmap()
}

func (c *Cache) unmap() error {
	if c.data == nil {
		return nil
	}
	data := c.data
	c.data = nil
	if err := unmapFile(data); err != nil {
		return fmt.Errorf("unmapping %s: %w: %w", c.path, romerr.ErrIO, err)
	}
	return nil
}

// view runs fn against the whole mapping while holding the read lock.
// fn must not retain the slice.
func (c *Cache) view(fn func(data []byte)) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return romerr.ErrClosed
	}
	fn(c.data)
	return nil
}
