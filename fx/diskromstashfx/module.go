// Package diskromstashfx provides an fx module for an extractor backed by a
// disk persistent cache.
package diskromstashfx

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/discochess/romstash"
	"github.com/discochess/romstash/internal/codec/codecs"
	"github.com/discochess/romstash/internal/decomp"
	"github.com/discochess/romstash/internal/persist"
	"github.com/discochess/romstash/internal/stats"
	"github.com/discochess/romstash/internal/stats/logger"
	"github.com/discochess/romstash/internal/store/diskstore"
)

// Config holds configuration for the disk-backed extractor.
type Config struct {
	// CacheDir is the directory holding persistent cache entries.
	CacheDir string

	// Codec compresses cache entries: "none", "gzip" or "zstd".
	// Default is "none".
	Codec string

	// DiskTTL is how long cache entries stay valid on disk.
	// Default is 24h.
	DiskTTL time.Duration

	// MemoryTTL is how long entries stay in the memory tier.
	// Default is 5m.
	MemoryTTL time.Duration

	// Workers bounds concurrent extractions. Default is 4.
	Workers int

	// CacheCapacity is the number of decompressed results kept in process.
	// Default is 100.
	CacheCapacity int

	// DecompressorCommand, when set and no Decompressor is provided, is run
	// as an external decompressor: the first element is the program.
	DecompressorCommand []string
}

// Module provides a disk-backed extractor and its persistent cache.
// Requires a *zap.Logger and a Config to be provided.
var Module = fx.Module("diskromstash",
	fx.Provide(
		newStatsCollector,
		newPersistentCache,
		newExtractor,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("romstash.stats"))
}

// CacheParams holds dependencies for creating the persistent cache.
type CacheParams struct {
	fx.In

	Config    Config
	Logger    *zap.Logger
	Collector stats.Collector
	Lifecycle fx.Lifecycle
}

func newPersistentCache(p CacheParams) (*persist.Cache, error) {
	c, err := codecs.ByName(p.Config.Codec)
	if err != nil {
		return nil, err
	}
	st, err := diskstore.New(p.Config.CacheDir, c)
	if err != nil {
		return nil, err
	}

	opts := []persist.Option{
		persist.WithLogger(p.Logger.Named("romstash.persist")),
		persist.WithStats(p.Collector),
	}
	if p.Config.DiskTTL > 0 {
		opts = append(opts, persist.WithDiskTTL(p.Config.DiskTTL))
	}
	if p.Config.MemoryTTL > 0 {
		opts = append(opts, persist.WithMemoryTTL(p.Config.MemoryTTL))
	}

	pc, err := persist.New(st, opts...)
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return errors.Join(pc.Close(ctx), st.Close())
		},
	})
	return pc, nil
}

// Params holds dependencies for creating the extractor.
type Params struct {
	fx.In

	Config       Config
	Logger       *zap.Logger
	Collector    stats.Collector
	Cache        *persist.Cache
	Decompressor decomp.Decompressor `optional:"true"`
	Lifecycle    fx.Lifecycle
}

// Result holds the provided extractor.
type Result struct {
	fx.Out

	Extractor *romstash.Extractor
}

func newExtractor(p Params) (Result, error) {
	d := p.Decompressor
	if d == nil && len(p.Config.DecompressorCommand) > 0 {
		d = decomp.NewCommand(p.Config.DecompressorCommand[0], p.Config.DecompressorCommand[1:]...)
	}

	opts := []romstash.Option{
		romstash.WithDecompressor(d),
		romstash.WithPersistentCache(p.Cache),
		romstash.WithStats(p.Collector),
		romstash.WithLogger(p.Logger.Named("romstash")),
	}
	if p.Config.Workers > 0 {
		opts = append(opts, romstash.WithWorkers(p.Config.Workers))
	}
	if p.Config.CacheCapacity > 0 {
		opts = append(opts, romstash.WithCacheCapacity(p.Config.CacheCapacity))
	}

	ex, err := romstash.New(opts...)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return ex.Close()
		},
	})

	return Result{Extractor: ex}, nil
}
