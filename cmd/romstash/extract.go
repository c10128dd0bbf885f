package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/discochess/romstash"
	"github.com/discochess/romstash/internal/stats"
)

var extractCmd = &cobra.Command{
	Use:   "extract ROM OFFSET...",
	Short: "Decompress data at one or more ROM offsets",
	Long: `Run the decompressor on the window starting at each offset and write the
output to the output directory as <rom>_<offset>.bin. Results are cached in
the persistent cache, so repeated extractions skip the decompressor.

Offsets may be decimal, 0x-prefixed hex or hex with an h suffix.

Examples:
  romstash extract game.sfc 0x80000 --decompressor-cmd "exhal -"
  romstash extract game.sfc 0x80000 0xC1200 -o sprites --workers 8`,
	Args: cobra.MinimumNArgs(2),
	RunE: runExtract,
}

var (
	extractOutput     string
	extractWorkers    int
	extractWindow     int64
	extractNoCache    bool
	extractSequential bool
)

func init() {
	f := extractCmd.Flags()
	f.StringVarP(&extractOutput, "output", "o", ".", "directory to write extracted data to")
	f.IntVarP(&extractWorkers, "workers", "w", romstash.DefaultWorkers, "number of concurrent extractions")
	f.Int64Var(&extractWindow, "window", romstash.DefaultWindowSize, "raw bytes handed to the decompressor")
	f.BoolVar(&extractNoCache, "no-cache", false, "bypass every cache")
	f.BoolVar(&extractSequential, "sequential", false, "extract one offset at a time")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	romPath := args[0]
	offsets, err := parseOffsets(args[1:])
	if err != nil {
		return err
	}

	logger := newLogger()
	defer logger.Sync()

	d, err := newDecompressor()
	if err != nil {
		return err
	}

	ctx := context.Background()
	opts := []romstash.Option{
		romstash.WithDecompressor(d),
		romstash.WithWorkers(extractWorkers),
		romstash.WithWindowSize(extractWindow),
		romstash.WithLogger(logger),
	}
	if !extractNoCache {
		pc, closeCache, err := openPersistentCache(ctx, logger, stats.NewNoop())
		if err != nil {
			return err
		}
		defer func() {
			if err := closeCache(ctx); err != nil {
				logger.Warn("closing persistent cache", zap.Error(err))
			}
		}()
		opts = append(opts, romstash.WithPersistentCache(pc))
	}

	ext, err := romstash.New(opts...)
	if err != nil {
		return err
	}
	defer ext.Close()

	if err := os.MkdirAll(extractOutput, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	var extractOpts []romstash.ExtractOption
	if extractNoCache {
		extractOpts = append(extractOpts, romstash.SkipCache())
	}
	if extractSequential {
		extractOpts = append(extractOpts, romstash.Sequential())
	}

	start := time.Now()
	results := ext.ExtractMany(ctx, romPath, offsets, extractOpts...)

	keys := make([]int64, 0, len(results))
	for off := range results {
		keys = append(keys, off)
	}
	slices.Sort(keys)

	base := strings.TrimSuffix(filepath.Base(romPath), filepath.Ext(romPath))
	var failed int
	for _, off := range keys {
		r := results[off]
		if !r.Success {
			failed++
			fmt.Printf("0x%06X  failed: %v\n", off, r.Err)
			continue
		}
		name := filepath.Join(extractOutput, fmt.Sprintf("%s_%06X.bin", base, off))
		if err := atomic.WriteFile(name, bytes.NewReader(r.Data)); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		fmt.Printf("0x%06X  %s -> %s (%s)\n", off, formatBytes(int64(len(r.Data))), name, r.Elapsed.Round(time.Microsecond))
	}

	cs := ext.CacheStats()
	fmt.Printf("\nExtracted %d of %d offsets in %s (cache hits %d, misses %d)\n",
		len(keys)-failed, len(keys), time.Since(start).Round(time.Millisecond), cs.Hits, cs.Misses)
	if failed > 0 {
		return fmt.Errorf("%d extractions failed", failed)
	}
	return nil
}
