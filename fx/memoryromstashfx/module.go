// Package memoryromstashfx provides an fx module for an extractor whose
// persistent cache lives in memory.
// Useful for testing.
package memoryromstashfx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/discochess/romstash"
	"github.com/discochess/romstash/internal/decomp"
	"github.com/discochess/romstash/internal/persist"
	"github.com/discochess/romstash/internal/stats"
	"github.com/discochess/romstash/internal/stats/logger"
	"github.com/discochess/romstash/internal/store/memstore"
)

// Module provides an in-memory backed extractor for testing.
// Requires a *zap.Logger and a decomp.Decompressor to be provided.
var Module = fx.Module("memoryromstash",
	fx.Provide(
		newStatsCollector,
		memstore.New,
		newExtractor,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("romstash.stats"))
}

// Params holds dependencies for creating the extractor.
type Params struct {
	fx.In

	Logger       *zap.Logger
	Collector    stats.Collector
	Store        *memstore.Store
	Decompressor decomp.Decompressor
	Lifecycle    fx.Lifecycle
}

// Result holds the provided extractor and its persistent cache.
type Result struct {
	fx.Out

	Extractor *romstash.Extractor
	Cache     *persist.Cache
}

func newExtractor(p Params) (Result, error) {
	pc, err := persist.New(p.Store,
		persist.WithLogger(p.Logger.Named("romstash.persist")),
		persist.WithStats(p.Collector),
	)
	if err != nil {
		return Result{}, err
	}

	ex, err := romstash.New(
		romstash.WithDecompressor(p.Decompressor),
		romstash.WithPersistentCache(pc),
		romstash.WithStats(p.Collector),
		romstash.WithLogger(p.Logger.Named("romstash")),
	)
	if err != nil {
		_ = pc.Close(context.Background())
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := ex.Close(); err != nil {
				return err
			}
			return pc.Close(ctx)
		},
	})

	return Result{Extractor: ex, Cache: pc}, nil
}
