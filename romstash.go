// Package romstash is a concurrent access, caching and scanning engine for
// SNES ROM images.
//
// An Extractor shares one memory-mapped reader per ROM between all callers,
// decompresses windows of ROM bytes through a pluggable Decompressor, and
// deduplicates that work with a bounded in-process cache, an optional
// persistent cache and per-key request coalescing.
//
// Example usage:
//
//	ex, err := romstash.New(
//	    romstash.WithDecompressor(decomp.NewCommand("lzdecomp")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ex.Close()
//
//	data, err := ex.ExtractOne(ctx, "game.sfc", 0x0C8000, true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("decompressed %d bytes\n", len(data))
package romstash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/discochess/romstash/internal/cachekey"
	"github.com/discochess/romstash/internal/cachestrategy/fifo"
	"github.com/discochess/romstash/internal/decomp"
	"github.com/discochess/romstash/internal/persist"
	"github.com/discochess/romstash/internal/region"
	"github.com/discochess/romstash/internal/romerr"
	"github.com/discochess/romstash/internal/scan"
	"github.com/discochess/romstash/internal/stats"
)

// Sentinel errors. Every error returned by the engine wraps one of them.
var (
	// ErrNotFound indicates a missing ROM file or cache entry.
	ErrNotFound = romerr.ErrNotFound

	// ErrInvalidRange indicates a bad offset or size.
	ErrInvalidRange = romerr.ErrInvalidRange

	// ErrExpired indicates a cache entry outlived its TTL.
	ErrExpired = romerr.ErrExpired

	// ErrIO indicates a read, write or mapping failure.
	ErrIO = romerr.ErrIO

	// ErrDecompression indicates the decompressor rejected its input.
	ErrDecompression = romerr.ErrDecompression

	// ErrCancelled indicates cancellation was observed mid-operation.
	ErrCancelled = romerr.ErrCancelled

	// ErrCorrupt indicates a short or undecodable cache entry.
	ErrCorrupt = romerr.ErrCorrupt

	// ErrClosed indicates the extractor has been closed.
	ErrClosed = romerr.ErrClosed

	// ErrNoDecompressor indicates no decompressor was provided.
	ErrNoDecompressor = errors.New("romstash: no decompressor provided")
)

// ExtractionResult is the per-offset outcome of ExtractMany.
type ExtractionResult struct {
	Offset  int64
	Success bool
	Data    []byte
	Err     error
	Elapsed time.Duration
}

// CacheStats reports decompression cache activity.
type CacheStats struct {
	Hits        int64
	Misses      int64
	HitRate     float64
	CachedCount int
	ReaderCount int
}

// Extractor deduplicates and parallelizes decompression of ROM windows.
// An Extractor is safe for concurrent use by multiple goroutines.
type Extractor struct {
	decompressor decomp.Decompressor
	persistent   *persist.Cache
	workers      int
	parallel     bool
	windowSize   int64
	regionOpts   []region.Option
	stats        stats.Collector
	logger       *zap.Logger

	cache  *fifo.Strategy[string, []byte]
	flight singleflight.Group

	mu      sync.Mutex
	readers map[string]*region.Cache

	hits   atomic.Int64
	misses atomic.Int64
	closed atomic.Bool
}

// New creates a new Extractor with the given options.
// WithDecompressor is required.
func New(opts ...Option) (*Extractor, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if cfg.decompressor == nil {
		return nil, ErrNoDecompressor
	}
	if cfg.workers < 1 {
		return nil, fmt.Errorf("romstash: workers must be positive, got %d", cfg.workers)
	}
	if cfg.windowSize < 1 {
		return nil, fmt.Errorf("romstash: window size must be positive, got %d", cfg.windowSize)
	}

	cache, err := fifo.New[string, []byte](cfg.cacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating decompression cache: %w", err)
	}

	e := &Extractor{
		decompressor: cfg.decompressor,
		persistent:   cfg.persistent,
		workers:      cfg.workers,
		parallel:     cfg.parallel,
		windowSize:   cfg.windowSize,
		regionOpts:   cfg.regionOpts,
		stats:        stats.OrNoop(cfg.stats),
		logger:       cfg.logger,
		cache:        cache,
		readers:      make(map[string]*region.Cache),
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}

	e.logger.Debug("extractor initialized",
		zap.Int("workers", e.workers),
		zap.Int("cacheCapacity", cfg.cacheCapacity),
		zap.Int64("windowSize", e.windowSize),
		zap.Bool("persistentCache", e.persistent != nil),
	)
	return e, nil
}

// ExtractOne decompresses the window starting at offset in the ROM at
// romPath. The window is the smaller of the configured window size and the
// bytes remaining in the file.
//
// With useCache, a cached result is returned without decompressing and
// concurrent calls for the same offset share one decompression. Without it
// the caches are bypassed and neither counter moves.
func (e *Extractor) ExtractOne(ctx context.Context, romPath string, offset int64, useCache bool) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if !useCache {
		data, err := e.decompress(ctx, romPath, offset)
		if err != nil {
			e.stats.IncCounter(stats.MetricExtractErrors, 1)
		}
		return data, err
	}

	key := cachekey.Key(romPath, offset)
	if data, ok := e.cache.Get(key); ok {
		e.hits.Add(1)
		e.stats.IncCounter(stats.MetricExtractHits, 1)
		return bytes.Clone(data), nil
	}
	e.misses.Add(1)
	e.stats.IncCounter(stats.MetricExtractMisses, 1)

	v, err, shared := e.flight.Do(key, func() (any, error) {
		return e.extract(ctx, romPath, offset, key)
	})
	if err != nil {
		e.stats.IncCounter(stats.MetricExtractErrors, 1)
		return nil, err
	}
	if shared {
		e.logger.Debug("shared in-flight extraction", zap.String("key", key))
	}
	return bytes.Clone(v.([]byte)), nil
}

// extract fills the caches for key, consulting the persistent cache first.
func (e *Extractor) extract(ctx context.Context, romPath string, offset int64, key string) ([]byte, error) {
	if e.persistent != nil {
		if r := e.persistent.Get(ctx, key); r.Status == persist.StatusHit {
			e.logger.Debug("persistent cache hit",
				zap.String("key", key),
				zap.Stringer("tier", r.Tier),
			)
			e.remember(key, r.Payload)
			return r.Payload, nil
		}
	}

	data, err := e.decompress(ctx, romPath, offset)
	if err != nil {
		return nil, err
	}
	e.remember(key, data)

	if e.persistent != nil {
		meta := map[string]any{"rom": romPath, "offset": offset}
		if err := e.persistent.Submit(key, data, meta); err != nil {
			e.logger.Warn("submitting to persistent cache failed", zap.String("key", key), zap.Error(err))
		}
	}
	return data, nil
}

// decompress reads the window at offset and runs the decompressor over it.
func (e *Extractor) decompress(ctx context.Context, romPath string, offset int64) ([]byte, error) {
	start := time.Now()
	defer func() {
		e.stats.ObserveHistogram(stats.MetricExtractDuration, time.Since(start).Seconds())
	}()

	r, err := e.reader(romPath)
	if err != nil {
		return nil, err
	}
	window, err := r.ReadBytes(offset, e.windowSize, false)
	if err != nil {
		return nil, fmt.Errorf("reading window at 0x%x: %w", offset, err)
	}

	out, err := e.decompressor.Decompress(ctx, window)
	switch {
	case err == nil:
		return out, nil
	case ctx.Err() != nil:
		return nil, fmt.Errorf("decompressing 0x%x: %w: %w", offset, ErrCancelled, ctx.Err())
	case errors.Is(err, ErrDecompression):
		return nil, fmt.Errorf("decompressing 0x%x: %w", offset, err)
	default:
		return nil, fmt.Errorf("decompressing 0x%x: %w: %w", offset, ErrDecompression, err)
	}
}

func (e *Extractor) remember(key string, data []byte) {
	if e.closed.Load() {
		return
	}
	e.cache.Add(key, data)
	e.stats.SetGauge(stats.MetricDecompCacheSize, int64(e.cache.Len()))
}

// ExtractMany extracts every distinct offset once and returns one result per
// offset. A failed offset is reported in its result and never stops the
// others. More than one offset is processed on the worker pool unless
// parallel mode is off or Sequential is given.
func (e *Extractor) ExtractMany(ctx context.Context, romPath string, offsets []int64, opts ...ExtractOption) map[int64]*ExtractionResult {
	cfg := extractConfig{useCache: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	seen := make(map[int64]bool, len(offsets))
	offsets = slices.DeleteFunc(slices.Clone(offsets), func(off int64) bool {
		dup := seen[off]
		seen[off] = true
		return dup
	})

	var mu sync.Mutex
	results := make(map[int64]*ExtractionResult, len(offsets))
	extract := func(offset int64) {
		start := time.Now()
		data, err := e.ExtractOne(ctx, romPath, offset, cfg.useCache)
		r := &ExtractionResult{
			Offset:  offset,
			Success: err == nil,
			Data:    data,
			Err:     err,
			Elapsed: time.Since(start),
		}
		if err != nil {
			e.logger.Debug("extraction failed", zap.Int64("offset", offset), zap.Error(err))
		}
		mu.Lock()
		results[offset] = r
		mu.Unlock()
	}

	if len(offsets) < 2 || !e.parallel || cfg.sequential {
		for _, off := range offsets {
			extract(off)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, off := range offsets {
		g.Go(func() error {
			extract(off)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ScanForCandidates lists offsets in [start, end) worth a closer look. With a
// pattern it returns the pattern matches, resuming step bytes after each one;
// without one it returns the offsets, step bytes apart, that pass the scan
// pre-filter.
func (e *Extractor) ScanForCandidates(ctx context.Context, romPath string, start, end, step int64, pattern []byte) ([]int64, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	r, err := e.reader(romPath)
	if err != nil {
		return nil, err
	}
	end = min(end, r.Len())

	if len(pattern) == 0 {
		return scan.Sweep(ctx, r, start, end, step)
	}

	var found []int64
	for off := range r.SearchPattern(pattern, start, end, step) {
		if err := ctx.Err(); err != nil {
			return found, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		found = append(found, off)
	}
	return found, nil
}

// Scanner returns a scan coordinator over the shared reader for romPath.
// The extractor's logger and stats collector are applied before opts.
func (e *Extractor) Scanner(romPath string, prober scan.Prober, opts ...scan.Option) (*scan.Coordinator, error) {
	r, err := e.Reader(romPath)
	if err != nil {
		return nil, err
	}
	opts = append([]scan.Option{
		scan.WithLogger(e.logger.Named("scan")),
		scan.WithStats(e.stats),
	}, opts...)
	return scan.New(r, prober, opts...)
}

// Reader returns the shared reader for romPath, opening it on first use.
func (e *Extractor) Reader(romPath string) (*region.Cache, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.reader(romPath)
}

func (e *Extractor) reader(romPath string) (*region.Cache, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Close takes mu after setting closed, so nothing is opened past it.
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if r, ok := e.readers[romPath]; ok {
		return r, nil
	}
	opts := append([]region.Option{
		region.WithLogger(e.logger.Named("region")),
		region.WithStats(e.stats),
	}, e.regionOpts...)
	r, err := region.Open(romPath, opts...)
	if err != nil {
		return nil, err
	}
	e.readers[romPath] = r
	return r, nil
}

// CacheStats returns a snapshot of decompression cache activity.
func (e *Extractor) CacheStats() CacheStats {
	s := CacheStats{
		Hits:        e.hits.Load(),
		Misses:      e.misses.Load(),
		CachedCount: e.cache.Len(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	e.mu.Lock()
	s.ReaderCount = len(e.readers)
	e.mu.Unlock()
	return s
}

// ClearCaches drops the decompression cache, clears every reader's range
// cache and resets the hit and miss counters. The persistent cache is left
// alone.
func (e *Extractor) ClearCaches() {
	e.cache.Purge()
	e.stats.SetGauge(stats.MetricDecompCacheSize, 0)

	e.mu.Lock()
	for _, r := range e.readers {
		r.ClearCache()
	}
	e.mu.Unlock()

	e.hits.Store(0)
	e.misses.Store(0)
}

// Close releases every reader. After Close, the extractor should not be used.
// The persistent cache is owned by the caller and is not closed.
func (e *Extractor) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for path, r := range e.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", path, err))
		}
	}
	clear(e.readers)
	e.cache.Purge()
	return errors.Join(errs...)
}
