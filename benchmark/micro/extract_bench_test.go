// Package micro holds micro-benchmarks for ROM reads and extraction.
package micro

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/discochess/romstash"
	"github.com/discochess/romstash/internal/decomp"
	"github.com/discochess/romstash/internal/persist"
	"github.com/discochess/romstash/internal/region"
	"github.com/discochess/romstash/internal/scan"
	"github.com/discochess/romstash/internal/store/memstore"
)

const romSize = 4 << 20

// romPath returns ROMSTASH_BENCH_ROM, or a generated 4 MiB ROM.
func romPath(b *testing.B) string {
	b.Helper()
	if p := os.Getenv("ROMSTASH_BENCH_ROM"); p != "" {
		return p
	}
	data := make([]byte, romSize)
	for i := range data {
		data[i] = byte(i*7 + i>>9)
	}
	path := filepath.Join(b.TempDir(), "bench.sfc")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		b.Fatalf("writing ROM: %v", err)
	}
	return path
}

// firstTiles stands in for a real decompressor.
var firstTiles = decomp.Func(func(data []byte) ([]byte, error) {
	return data[:min(len(data), 0x800)], nil
})

// BenchmarkReadBytes_Cold measures range reads that bypass the range cache.
func BenchmarkReadBytes_Cold(b *testing.B) {
	r, err := region.Open(romPath(b), region.WithCapacity(0))
	if err != nil {
		b.Fatalf("opening ROM: %v", err)
	}
	defer r.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		off := int64(i*0x1000) % (r.Len() - 0x800)
		if _, err := r.ReadBytes(off, 0x800, true); err != nil {
			b.Fatalf("read error: %v", err)
		}
	}
}

// BenchmarkReadBytes_Warm measures range reads served by the range cache.
func BenchmarkReadBytes_Warm(b *testing.B) {
	r, err := region.Open(romPath(b))
	if err != nil {
		b.Fatalf("opening ROM: %v", err)
	}
	defer r.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		off := int64(i%16) * 0x1000
		if _, err := r.ReadBytes(off, 0x800, true); err != nil {
			b.Fatalf("read error: %v", err)
		}
	}
}

// BenchmarkExtract_ColdCache measures extraction with every cache bypassed.
func BenchmarkExtract_ColdCache(b *testing.B) {
	path := romPath(b)
	ext, err := romstash.New(romstash.WithDecompressor(firstTiles))
	if err != nil {
		b.Fatalf("creating extractor: %v", err)
	}
	defer ext.Close()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ext.ExtractOne(ctx, path, int64(i%1024)*0x1000, false); err != nil {
			b.Fatalf("extract error: %v", err)
		}
	}
}

// BenchmarkExtract_WarmCache measures extraction served by the decompression cache.
func BenchmarkExtract_WarmCache(b *testing.B) {
	path := romPath(b)
	ext, err := romstash.New(romstash.WithDecompressor(firstTiles))
	if err != nil {
		b.Fatalf("creating extractor: %v", err)
	}
	defer ext.Close()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ext.ExtractOne(ctx, path, int64(i%32)*0x1000, true); err != nil {
			b.Fatalf("extract error: %v", err)
		}
	}
}

// BenchmarkExtract_PersistentCache measures extraction served by the
// persistent cache's memory and queue tiers.
func BenchmarkExtract_PersistentCache(b *testing.B) {
	path := romPath(b)
	pc, err := persist.New(memstore.New(), persist.WithMemoryCapacity(256))
	if err != nil {
		b.Fatalf("creating persistent cache: %v", err)
	}
	ctx := context.Background()
	defer pc.Close(ctx)

	ext, err := romstash.New(
		romstash.WithDecompressor(firstTiles),
		romstash.WithPersistentCache(pc),
		romstash.WithCacheCapacity(1),
	)
	if err != nil {
		b.Fatalf("creating extractor: %v", err)
	}
	defer ext.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ext.ExtractOne(ctx, path, int64(i%64)*0x1000, true); err != nil {
			b.Fatalf("extract error: %v", err)
		}
	}
}

// BenchmarkScan measures a full parallel scan of the ROM.
func BenchmarkScan(b *testing.B) {
	r, err := region.Open(romPath(b))
	if err != nil {
		b.Fatalf("opening ROM: %v", err)
	}
	defer r.Close()

	coord, err := scan.New(r, scan.DecompressProbe(firstTiles, 4))
	if err != nil {
		b.Fatalf("creating coordinator: %v", err)
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := coord.Scan(ctx, 0, r.Len()); err != nil {
			b.Fatalf("scan error: %v", err)
		}
	}
}
