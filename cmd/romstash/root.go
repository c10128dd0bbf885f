package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/discochess/romstash/internal/codec/codecs"
	"github.com/discochess/romstash/internal/decomp"
	"github.com/discochess/romstash/internal/persist"
	"github.com/discochess/romstash/internal/stats"
	"github.com/discochess/romstash/internal/store"
	"github.com/discochess/romstash/internal/store/diskstore"
	"github.com/discochess/romstash/internal/store/gcsstore"
	"github.com/discochess/romstash/internal/store/redisstore"
	"github.com/discochess/romstash/internal/store/s3store"
)

// Cache backends accepted by --cache-backend.
const (
	backendDisk  = "disk"
	backendS3    = "s3"
	backendGCS   = "gcs"
	backendRedis = "redis"
)

var (
	// Global flags.
	cacheDir        string
	cacheBackend    string
	cacheBucket     string
	cachePrefix     string
	cacheRegion     string
	cacheEndpoint   string
	redisAddr       string
	codecName       string
	decompressorCmd string
	verbose         bool
)

var rootCmd = &cobra.Command{
	Use:   "romstash",
	Short: "Scan SNES ROMs for compressed sprites and extract them",
	Long: `Romstash reads SNES ROM images through a memory-mapped region cache,
scans them in parallel for compressed sprite data and extracts candidates
through an external decompressor, caching every result.

Examples:
  # Show the cartridge header
  romstash info game.sfc

  # Scan the whole ROM with four workers
  romstash scan game.sfc --decompressor-cmd "exhal -"

  # Extract two offsets into ./out
  romstash extract game.sfc 0x80000 0xC1200 --decompressor-cmd "exhal -"

  # Inspect the persistent cache
  romstash cache stats`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cacheDir, "cache-dir", "d", "./.romstash", "directory for the disk cache backend")
	pf.StringVar(&cacheBackend, "cache-backend", backendDisk, "persistent cache backend: disk, s3, gcs or redis")
	pf.StringVar(&cacheBucket, "cache-bucket", "", "bucket for the s3 and gcs backends")
	pf.StringVar(&cachePrefix, "cache-prefix", "", "key prefix for remote backends")
	pf.StringVar(&cacheRegion, "cache-region", "", "AWS region for the s3 backend")
	pf.StringVar(&cacheEndpoint, "cache-endpoint", "", "custom endpoint for S3-compatible services")
	pf.StringVar(&redisAddr, "redis-addr", "localhost:6379", "address for the redis backend")
	pf.StringVar(&codecName, "codec", "zstd", "cache entry codec: "+strings.Join(codecs.Names, ", "))
	pf.StringVar(&decompressorCmd, "decompressor-cmd", "", "external decompressor reading stdin and writing stdout")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// newLogger returns a development logger when --verbose is set.
func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// newDecompressor builds the decompressor named by --decompressor-cmd.
func newDecompressor() (decomp.Decompressor, error) {
	fields := strings.Fields(decompressorCmd)
	if len(fields) == 0 {
		return nil, errors.New("no decompressor configured; pass --decompressor-cmd")
	}
	return decomp.NewCommand(fields[0], fields[1:]...), nil
}

// openStore opens the backend selected by --cache-backend. The returned
// close function releases the store and any client it owns.
func openStore(ctx context.Context) (store.Store, func() error, error) {
	c, err := codecs.ByName(codecName)
	if err != nil {
		return nil, nil, err
	}

	switch cacheBackend {
	case backendDisk:
		st, err := diskstore.New(cacheDir, c)
		if err != nil {
			return nil, nil, fmt.Errorf("opening cache directory: %w", err)
		}
		return st, st.Close, nil

	case backendS3:
		if cacheBucket == "" {
			return nil, nil, errors.New("--cache-bucket is required for the s3 backend")
		}
		opts := []s3store.Option{s3store.WithPrefix(cachePrefix)}
		if cacheRegion != "" {
			opts = append(opts, s3store.WithRegion(cacheRegion))
		}
		if cacheEndpoint != "" {
			opts = append(opts, s3store.WithEndpoint(cacheEndpoint))
		}
		st, err := s3store.New(ctx, cacheBucket, c, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("opening s3 cache: %w", err)
		}
		return st, st.Close, nil

	case backendGCS:
		if cacheBucket == "" {
			return nil, nil, errors.New("--cache-bucket is required for the gcs backend")
		}
		st, err := gcsstore.New(ctx, cacheBucket, c, gcsstore.WithPrefix(cachePrefix))
		if err != nil {
			return nil, nil, fmt.Errorf("opening gcs cache: %w", err)
		}
		return st, st.Close, nil

	case backendRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{redisAddr}})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", redisAddr, err)
		}
		opts := []redisstore.Option{}
		if cachePrefix != "" {
			opts = append(opts, redisstore.WithPrefix(cachePrefix))
		}
		st := redisstore.New(client, c, opts...)
		return st, func() error { return errors.Join(st.Close(), client.Close()) }, nil

	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cacheBackend)
	}
}

// openPersistentCache opens the selected store and wraps it in a
// persist.Cache. The returned close function flushes pending writes first.
func openPersistentCache(ctx context.Context, logger *zap.Logger, sc stats.Collector) (*persist.Cache, func(context.Context) error, error) {
	st, closeStore, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	pc, err := persist.New(st,
		persist.WithLogger(logger.Named("persist")),
		persist.WithStats(sc),
	)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	return pc, func(ctx context.Context) error {
		return errors.Join(pc.Close(ctx), closeStore())
	}, nil
}
