package romstash

import (
	"go.uber.org/zap"

	"github.com/discochess/romstash/internal/decomp"
	"github.com/discochess/romstash/internal/persist"
	"github.com/discochess/romstash/internal/region"
	"github.com/discochess/romstash/internal/stats"
)

// Defaults.
const (
	DefaultWorkers       = 4
	DefaultWindowSize    = 64 << 10
	DefaultCacheCapacity = 100
)

// Option configures an Extractor.
type Option interface {
	apply(*options)
}

// options holds the extractor configuration.
type options struct {
	decompressor  decomp.Decompressor
	persistent    *persist.Cache
	workers       int
	parallel      bool
	windowSize    int64
	cacheCapacity int
	regionOpts    []region.Option
	stats         stats.Collector
	logger        *zap.Logger
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		workers:       DefaultWorkers,
		parallel:      true,
		windowSize:    DefaultWindowSize,
		cacheCapacity: DefaultCacheCapacity,
		stats:         stats.NewNoop(),
		logger:        zap.NewNop(),
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithDecompressor sets the decompressor run on every extracted window.
// It is required.
func WithDecompressor(d decomp.Decompressor) Option {
	return optionFunc(func(o *options) {
		o.decompressor = d
	})
}

// WithPersistentCache makes the extractor consult c before decompressing and
// submit every fresh result to it. The extractor does not close c.
func WithPersistentCache(c *persist.Cache) Option {
	return optionFunc(func(o *options) {
		o.persistent = c
	})
}

// WithWorkers sets how many offsets ExtractMany processes at once.
// Default is 4.
func WithWorkers(n int) Option {
	return optionFunc(func(o *options) {
		o.workers = n
	})
}

// WithParallel enables or disables parallel ExtractMany. Default is enabled.
func WithParallel(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.parallel = enabled
	})
}

// WithWindowSize sets how many raw bytes are handed to the decompressor.
// Default is 64 KiB.
func WithWindowSize(n int64) Option {
	return optionFunc(func(o *options) {
		o.windowSize = n
	})
}

// WithCacheCapacity sets the number of decompressed results kept in process.
// Default is 100.
func WithCacheCapacity(n int) Option {
	return optionFunc(func(o *options) {
		o.cacheCapacity = n
	})
}

// WithRegionOptions sets the options used when opening ROM readers.
func WithRegionOptions(opts ...region.Option) Option {
	return optionFunc(func(o *options) {
		o.regionOpts = append(o.regionOpts, opts...)
	})
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}

// ExtractOption configures a single ExtractMany call.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	useCache   bool
	sequential bool
}

// SkipCache bypasses the decompression cache and the persistent cache.
func SkipCache() ExtractOption {
	return func(c *extractConfig) {
		c.useCache = false
	}
}

// Sequential processes offsets one at a time on the calling goroutine.
func Sequential() ExtractOption {
	return func(c *extractConfig) {
		c.sequential = true
	}
}
