package romstash

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/discochess/romstash/internal/decomp"
	"github.com/discochess/romstash/internal/persist"
	"github.com/discochess/romstash/internal/scan"
	"github.com/discochess/romstash/internal/store/memstore"
)

// writeROM writes data to a temp file and returns its path.
func writeROM(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.sfc")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

// romData returns n bytes where every byte differs from its neighbours.
func romData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*13 + i/251)
	}
	return data
}

// countingDecompressor returns the first 32 bytes of its window reversed and
// fails on windows starting with 0xEE.
type countingDecompressor struct {
	calls   atomic.Int64
	gate    chan struct{}
	lastLen atomic.Int64
}

func (d *countingDecompressor) Decompress(ctx context.Context, data []byte) ([]byte, error) {
	d.calls.Add(1)
	d.lastLen.Store(int64(len(data)))
	if d.gate != nil {
		<-d.gate
	}
	if len(data) > 0 && data[0] == 0xEE {
		return nil, errors.New("bad stream header")
	}
	out := slices.Clone(data[:min(32, len(data))])
	slices.Reverse(out)
	return out, nil
}

func newExtractor(t *testing.T, d decomp.Decompressor, opts ...Option) *Extractor {
	t.Helper()
	e, err := New(append([]Option{WithDecompressor(d)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNew_RequiresDecompressor(t *testing.T) {
	_, err := New()
	if !errors.Is(err, ErrNoDecompressor) {
		t.Errorf("New() error = %v, want ErrNoDecompressor", err)
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	d := &countingDecompressor{}
	for _, opt := range []Option{WithWorkers(0), WithWindowSize(0), WithCacheCapacity(0)} {
		if _, err := New(WithDecompressor(d), opt); err == nil {
			t.Error("New() should return error")
		}
	}
}

func TestExtractOne_SecondCallHitsCache(t *testing.T) {
	path := writeROM(t, romData(0x1000))
	d := &countingDecompressor{}
	e := newExtractor(t, d)
	ctx := context.Background()

	first, err := e.ExtractOne(ctx, path, 0x100, true)
	if err != nil {
		t.Fatalf("ExtractOne() error = %v", err)
	}
	before := e.CacheStats()

	second, err := e.ExtractOne(ctx, path, 0x100, true)
	if err != nil {
		t.Fatalf("ExtractOne() error = %v", err)
	}
	after := e.CacheStats()

	if !bytes.Equal(first, second) {
		t.Errorf("cached data = %x, want %x", second, first)
	}
	if after.Hits != before.Hits+1 {
		t.Errorf("Hits = %d, want %d", after.Hits, before.Hits+1)
	}
	if after.Misses != before.Misses {
		t.Errorf("Misses = %d, want %d", after.Misses, before.Misses)
	}
	if got := d.calls.Load(); got != 1 {
		t.Errorf("decompressor calls = %d, want 1", got)
	}
	if after.HitRate != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", after.HitRate)
	}
}

func TestExtractOne_Window(t *testing.T) {
	path := writeROM(t, romData(0x20000))
	d := &countingDecompressor{}
	e := newExtractor(t, d)

	if _, err := e.ExtractOne(context.Background(), path, 0x100, true); err != nil {
		t.Fatalf("ExtractOne() error = %v", err)
	}
	if got := d.lastLen.Load(); got != DefaultWindowSize {
		t.Errorf("window = %d bytes, want %d", got, DefaultWindowSize)
	}

	// Near the end the window is clamped to the remaining bytes.
	if _, err := e.ExtractOne(context.Background(), path, 0x20000-10, true); err != nil {
		t.Fatalf("ExtractOne() error = %v", err)
	}
	if got := d.lastLen.Load(); got != 10 {
		t.Errorf("window = %d bytes, want 10", got)
	}
}

func TestExtractOne_SkipCache(t *testing.T) {
	path := writeROM(t, romData(0x1000))
	d := &countingDecompressor{}
	e := newExtractor(t, d)

	for i := 0; i < 2; i++ {
		if _, err := e.ExtractOne(context.Background(), path, 0x40, false); err != nil {
			t.Fatalf("ExtractOne() error = %v", err)
		}
	}
	if got := d.calls.Load(); got != 2 {
		t.Errorf("decompressor calls = %d, want 2", got)
	}
	s := e.CacheStats()
	if s.Hits != 0 || s.Misses != 0 || s.CachedCount != 0 {
		t.Errorf("CacheStats() = %+v, want untouched cache", s)
	}
}

func TestExtractOne_Errors(t *testing.T) {
	data := romData(0x1000)
	data[0x200] = 0xEE
	path := writeROM(t, data)
	d := &countingDecompressor{}
	e := newExtractor(t, d)
	ctx := context.Background()

	tests := []struct {
		name   string
		path   string
		offset int64
		want   error
	}{
		{"missing rom", filepath.Join(t.TempDir(), "missing.sfc"), 0, ErrNotFound},
		{"offset past end", path, 0x1000, ErrInvalidRange},
		{"negative offset", path, -1, ErrInvalidRange},
		{"bad stream", path, 0x200, ErrDecompression},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.ExtractOne(ctx, tt.path, tt.offset, true); !errors.Is(err, tt.want) {
				t.Errorf("ExtractOne() error = %v, want %v", err, tt.want)
			}
		})
	}

	// Failures are not cached.
	calls := d.calls.Load()
	_, _ = e.ExtractOne(ctx, path, 0x200, true)
	if got := d.calls.Load(); got != calls+1 {
		t.Errorf("decompressor calls = %d, want %d", got, calls+1)
	}
}

func TestExtractOne_ReturnsCopies(t *testing.T) {
	path := writeROM(t, romData(0x1000))
	e := newExtractor(t, &countingDecompressor{})

	first, _ := e.ExtractOne(context.Background(), path, 0, true)
	want := slices.Clone(first)
	first[0] ^= 0xFF

	second, _ := e.ExtractOne(context.Background(), path, 0, true)
	if !bytes.Equal(second, want) {
		t.Error("modifying returned data changed the cached copy")
	}
}

func TestExtractOne_SharesInFlightWork(t *testing.T) {
	path := writeROM(t, romData(0x1000))
	d := &countingDecompressor{gate: make(chan struct{})}
	e := newExtractor(t, d)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := e.ExtractOne(context.Background(), path, 0x80, true)
			if err != nil {
				t.Errorf("ExtractOne() error = %v", err)
			}
			results[i] = data
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(d.gate)
	wg.Wait()

	if got := d.calls.Load(); got != 1 {
		t.Errorf("decompressor calls = %d, want 1", got)
	}
	for i, r := range results {
		if !bytes.Equal(r, results[0]) {
			t.Errorf("result %d = %x, want %x", i, r, results[0])
		}
	}
}

func TestExtractOne_FIFOEviction(t *testing.T) {
	path := writeROM(t, romData(0x1000))
	d := &countingDecompressor{}
	e := newExtractor(t, d, WithCacheCapacity(2))
	ctx := context.Background()

	for _, off := range []int64{0x10, 0x20, 0x10, 0x30} {
		if _, err := e.ExtractOne(ctx, path, off, true); err != nil {
			t.Fatalf("ExtractOne(0x%x) error = %v", off, err)
		}
	}
	// 0x10 was inserted first; reading it again did not protect it.
	if _, err := e.ExtractOne(ctx, path, 0x10, true); err != nil {
		t.Fatalf("ExtractOne() error = %v", err)
	}
	if got := d.calls.Load(); got != 4 {
		t.Errorf("decompressor calls = %d, want 4", got)
	}
	if got := e.CacheStats().CachedCount; got != 2 {
		t.Errorf("CachedCount = %d, want 2", got)
	}
}

func TestExtractOne_PersistentCache(t *testing.T) {
	path := writeROM(t, romData(0x1000))
	pc, err := persist.New(memstore.New())
	if err != nil {
		t.Fatalf("persist.New() error = %v", err)
	}
	t.Cleanup(func() { _ = pc.Close(context.Background()) })

	first := newExtractor(t, &countingDecompressor{}, WithPersistentCache(pc))
	want, err := first.ExtractOne(context.Background(), path, 0x300, true)
	if err != nil {
		t.Fatalf("ExtractOne() error = %v", err)
	}

	d := &countingDecompressor{}
	second := newExtractor(t, d, WithPersistentCache(pc))
	got, err := second.ExtractOne(context.Background(), path, 0x300, true)
	if err != nil {
		t.Fatalf("ExtractOne() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ExtractOne() = %x, want %x", got, want)
	}
	if calls := d.calls.Load(); calls != 0 {
		t.Errorf("decompressor calls = %d, want 0 (served by persistent cache)", calls)
	}
}

func TestExtractMany(t *testing.T) {
	data := romData(0x4000)
	data[0x2000] = 0xEE
	path := writeROM(t, data)
	offsets := []int64{0x0, 0x100, 0x2000, 0x3000, 0x100}

	for _, tt := range []struct {
		name string
		opts []ExtractOption
	}{
		{"parallel", nil},
		{"sequential", []ExtractOption{Sequential()}},
		{"no cache", []ExtractOption{SkipCache()}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			e := newExtractor(t, &countingDecompressor{})
			results := e.ExtractMany(context.Background(), path, offsets, tt.opts...)

			if len(results) != 4 {
				t.Fatalf("ExtractMany() returned %d results, want 4", len(results))
			}
			for _, off := range []int64{0x0, 0x100, 0x3000} {
				r := results[off]
				if r == nil || !r.Success || r.Err != nil {
					t.Fatalf("result 0x%x = %+v, want success", off, r)
				}
				want := slices.Clone(data[off : off+32])
				slices.Reverse(want)
				if diff := cmp.Diff(want, r.Data); diff != "" {
					t.Errorf("result 0x%x data mismatch (-want +got):\n%s", off, diff)
				}
				if r.Offset != off {
					t.Errorf("Offset = 0x%x, want 0x%x", r.Offset, off)
				}
			}

			failed := results[0x2000]
			if failed.Success || !errors.Is(failed.Err, ErrDecompression) {
				t.Errorf("result 0x2000 = %+v, want decompression failure", failed)
			}
		})
	}
}

// limitDecompressor records the peak number of concurrent calls.
type limitDecompressor struct {
	active atomic.Int64
	peak   atomic.Int64
}

func (d *limitDecompressor) Decompress(ctx context.Context, data []byte) ([]byte, error) {
	n := d.active.Add(1)
	defer d.active.Add(-1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return data[:1], nil
}

func TestExtractMany_BoundedWorkers(t *testing.T) {
	path := writeROM(t, romData(0x1000))
	d := &limitDecompressor{}
	e := newExtractor(t, d, WithWorkers(2))

	offsets := make([]int64, 16)
	for i := range offsets {
		offsets[i] = int64(i * 0x40)
	}
	results := e.ExtractMany(context.Background(), path, offsets)

	if len(results) != 16 {
		t.Errorf("ExtractMany() returned %d results, want 16", len(results))
	}
	if peak := d.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", peak)
	}
}

func TestScanForCandidates(t *testing.T) {
	data := make([]byte, 0x2000)
	copy(data[0x400:], "SPRITE")
	copy(data[0x1800:], "SPRITE")
	copy(data[0x800:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	path := writeROM(t, data)
	e := newExtractor(t, &countingDecompressor{})
	ctx := context.Background()

	got, err := e.ScanForCandidates(ctx, path, 0, 0x2000, 1, []byte("SPRITE"))
	if err != nil {
		t.Fatalf("ScanForCandidates() error = %v", err)
	}
	if diff := cmp.Diff([]int64{0x400, 0x1800}, got); diff != "" {
		t.Errorf("pattern candidates mismatch (-want +got):\n%s", diff)
	}

	got, err = e.ScanForCandidates(ctx, path, 0, 0x2000, 0x100, nil)
	if err != nil {
		t.Fatalf("ScanForCandidates() error = %v", err)
	}
	if diff := cmp.Diff([]int64{0x400, 0x800, 0x1800}, got); diff != "" {
		t.Errorf("sweep candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestClearCaches(t *testing.T) {
	path := writeROM(t, romData(0x1000))
	e := newExtractor(t, &countingDecompressor{})
	ctx := context.Background()

	_, _ = e.ExtractOne(ctx, path, 0, true)
	_, _ = e.ExtractOne(ctx, path, 0, true)

	s := e.CacheStats()
	if s.ReaderCount != 1 || s.CachedCount != 1 {
		t.Errorf("CacheStats() = %+v, want 1 reader and 1 cached entry", s)
	}

	e.ClearCaches()
	s = e.CacheStats()
	if s.Hits != 0 || s.Misses != 0 || s.CachedCount != 0 || s.HitRate != 0 {
		t.Errorf("CacheStats() after ClearCaches() = %+v, want zero counters", s)
	}
	if s.ReaderCount != 1 {
		t.Errorf("ReaderCount = %d, want readers kept", s.ReaderCount)
	}
	r, _ := e.Reader(path)
	if r.Stats().Cached != 0 {
		t.Error("ClearCaches() left entries in the reader's range cache")
	}
}

func TestScanner(t *testing.T) {
	data := make([]byte, 0x4000)
	copy(data[0x1000:], romData(32))
	path := writeROM(t, data)
	e := newExtractor(t, &countingDecompressor{})

	prober := scan.ProbeFunc(func(ctx context.Context, data []byte, offset int64) (scan.Detection, bool) {
		return scan.Detection{DecompressedSize: 0x400, TileCount: 32}, true
	})
	sc, err := e.Scanner(path, prober)
	if err != nil {
		t.Fatalf("Scanner() error = %v", err)
	}
	report, err := sc.Scan(context.Background(), 0, 0x4000)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].Offset != 0x1000 {
		t.Errorf("Scan() results = %+v, want one at 0x1000", report.Results)
	}
}

func TestClose(t *testing.T) {
	path := writeROM(t, romData(0x100))
	e, err := New(WithDecompressor(&countingDecompressor{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, _ = e.ExtractOne(context.Background(), path, 0, true)

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := e.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
	if _, err := e.ExtractOne(context.Background(), path, 0, true); !errors.Is(err, ErrClosed) {
		t.Errorf("ExtractOne() after Close() error = %v, want ErrClosed", err)
	}
}

// gatedStore blocks every Read until release is closed.
type gatedStore struct {
	*memstore.Store
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Read(ctx context.Context, key string) ([]byte, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.Read(ctx, key)
}

func TestClose_DuringExtraction(t *testing.T) {
	path := writeROM(t, romData(0x1000))
	st := &gatedStore{
		Store:   memstore.New(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	pc, err := persist.New(st)
	if err != nil {
		t.Fatalf("persist.New() error = %v", err)
	}
	t.Cleanup(func() { _ = pc.Close(context.Background()) })

	d := &countingDecompressor{}
	e, err := New(WithDecompressor(d), WithPersistentCache(pc))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := e.ExtractOne(context.Background(), path, 0x100, true)
		errc <- err
	}()

	select {
	case <-st.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("extraction never reached the persistent cache")
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	close(st.release)

	if err := <-errc; !errors.Is(err, ErrClosed) {
		t.Errorf("ExtractOne() racing Close() error = %v, want ErrClosed", err)
	}
	if got := d.calls.Load(); got != 0 {
		t.Errorf("decompressor calls = %d, want 0", got)
	}
	if s := e.CacheStats(); s.ReaderCount != 0 || s.CachedCount != 0 {
		t.Errorf("CacheStats() after Close() = %+v, want no readers and no cached entries", s)
	}
}

func TestExtractMany_RepeatedOffsetsRunOnce(t *testing.T) {
	path := writeROM(t, romData(0x1000))
	for _, tt := range []struct {
		name string
		opts []ExtractOption
	}{
		{"parallel", []ExtractOption{SkipCache()}},
		{"sequential", []ExtractOption{SkipCache(), Sequential()}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			d := &countingDecompressor{}
			e := newExtractor(t, d)
			offsets := []int64{0x100, 0x200, 0x100, 0x100}

			results := e.ExtractMany(context.Background(), path, offsets, tt.opts...)
			if len(results) != 2 {
				t.Errorf("ExtractMany() returned %d results, want 2", len(results))
			}
			if got := d.calls.Load(); got != 2 {
				t.Errorf("decompressor calls = %d, want 2", got)
			}
			if diff := cmp.Diff([]int64{0x100, 0x200, 0x100, 0x100}, offsets); diff != "" {
				t.Errorf("ExtractMany() modified offsets (-want +got):\n%s", diff)
			}
		})
	}
}
