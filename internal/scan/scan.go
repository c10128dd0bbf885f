// Package scan searches a ROM address range in parallel for sprite-shaped
// data.
//
// The range is split into fixed-size chunks which are dealt round-robin to a
// fixed pool of workers. Each worker owns its own buffers and walks its
// chunks with a step chosen from the local candidate density, running a cheap
// byte filter before handing a window to the Prober. Results are merged,
// sorted by offset and de-duplicated, so the output does not depend on which
// worker finished first.
package scan

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/discochess/romstash/internal/romerr"
	"github.com/discochess/romstash/internal/stats"
)

// Defaults.
const (
	DefaultWorkers     = 4
	DefaultChunkSize   = 256 << 10
	DefaultBaseStep    = 0x100
	DefaultSampleSize  = 16 << 10
	DefaultProbeWindow = 64 << 10
)

// ErrNilProber is returned by New without a Prober.
var ErrNilProber = errors.New("scan: nil prober")

// Source is the ROM data a Coordinator reads. region.Cache implements it.
type Source interface {
	io.ReaderAt
	Len() int64
}

// Chunk is one contiguous piece of a scanned range.
type Chunk struct {
	ID    int
	Start int64
	End   int64
}

// Len returns the chunk length in bytes.
func (c Chunk) Len() int64 {
	return c.End - c.Start
}

// Result is a candidate sprite.
type Result struct {
	Offset           int64
	DecompressedSize int
	TileCount        int
	CompressedSize   int
	Confidence       float64
	Metadata         map[string]any
}

// ChunkError records a chunk whose scan failed. Its results are dropped.
type ChunkError struct {
	Chunk Chunk
	Err   error
}

// Report is the outcome of a scan. A cancelled scan lists the chunks it did
// not finish in Pending; Resume picks them up.
type Report struct {
	Start       int64
	End         int64
	Results     []Result
	Completed   []Chunk
	Pending     []Chunk
	ChunkErrors []ChunkError
	Elapsed     time.Duration
}

// Done reports whether every chunk was scanned.
func (r *Report) Done() bool {
	return len(r.Pending) == 0
}

// Progress is passed to a ProgressFunc after every chunk.
type Progress struct {
	ChunksDone  int
	ChunksTotal int
	Results     int
}

// ProgressFunc receives scan progress. Calls are serialized.
type ProgressFunc func(Progress)

// Coordinator runs parallel scans over a Source.
// A Coordinator is safe for concurrent use; each Scan has its own workers.
type Coordinator struct {
	src         Source
	prober      Prober
	workers     int
	chunkSize   int64
	baseStep    int64
	sampleSize  int64
	probeWindow int64
	band        SizeBand
	progress    ProgressFunc
	logger      *zap.Logger
	stats       stats.Collector
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		c.workers = n
	}
}

// WithChunkSize sets the chunk size in bytes.
func WithChunkSize(n int64) Option {
	return func(c *Coordinator) {
		c.chunkSize = n
	}
}

// WithBaseStep sets the step used at average candidate density.
func WithBaseStep(n int64) Option {
	return func(c *Coordinator) {
		c.baseStep = n
	}
}

// WithSampleSize sets the window sampled at each chunk start to choose its step.
func WithSampleSize(n int64) Option {
	return func(c *Coordinator) {
		c.sampleSize = n
	}
}

// WithProbeWindow sets how many bytes are handed to the Prober.
func WithProbeWindow(n int64) Option {
	return func(c *Coordinator) {
		c.probeWindow = n
	}
}

// WithSizeBand sets the decompressed size band used for confidence.
func WithSizeBand(band SizeBand) Option {
	return func(c *Coordinator) {
		c.band = band
	}
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Coordinator) {
		c.progress = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStats sets the stats collector.
func WithStats(s stats.Collector) Option {
	return func(c *Coordinator) {
		c.stats = stats.OrNoop(s)
	}
}

// New creates a Coordinator that scans src with prober.
func New(src Source, prober Prober, opts ...Option) (*Coordinator, error) {
	if prober == nil {
		return nil, ErrNilProber
	}
	c := &Coordinator{
		src:         src,
		prober:      prober,
		workers:     DefaultWorkers,
		chunkSize:   DefaultChunkSize,
		baseStep:    DefaultBaseStep,
		sampleSize:  DefaultSampleSize,
		probeWindow: DefaultProbeWindow,
		band:        DefaultSizeBand,
		logger:      zap.NewNop(),
		stats:       stats.NewNoop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	switch {
	case c.workers < 1:
		return nil, fmt.Errorf("scan: workers must be positive, got %d", c.workers)
	case c.chunkSize < 1:
		return nil, fmt.Errorf("scan: chunk size must be positive, got %d", c.chunkSize)
	case c.baseStep < 1:
		return nil, fmt.Errorf("scan: base step must be positive, got %d", c.baseStep)
	case c.probeWindow < FilterWindow:
		return nil, fmt.Errorf("scan: probe window must be at least %d bytes, got %d", FilterWindow, c.probeWindow)
	}
	return c, nil
}

// Chunks partitions [start, end) into consecutive chunks of size bytes; the
// last chunk may be shorter.
func Chunks(start, end, size int64) []Chunk {
	if end <= start || size < 1 {
		return nil
	}
	chunks := make([]Chunk, 0, (end-start+size-1)/size)
	for off := start; off < end; off += size {
		chunks = append(chunks, Chunk{
			ID:    len(chunks),
			Start: off,
			End:   min(off+size, end),
		})
	}
	return chunks
}

// Scan searches [start, end). end is clamped to the source length.
//
// When ctx ends mid-scan the returned Report holds the results found so far
// and the unfinished chunks, and the error wraps romerr.ErrCancelled.
func (c *Coordinator) Scan(ctx context.Context, start, end int64) (*Report, error) {
	end = min(end, c.src.Len())
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: scan range [0x%x, 0x%x) in %d byte rom",
			romerr.ErrInvalidRange, start, end, c.src.Len())
	}

	report := &Report{Start: start, End: end}
	return c.run(ctx, report, Chunks(start, end, c.chunkSize))
}

// Resume scans the pending chunks of prev and merges the outcome into a new
// Report. prev is not modified.
func (c *Coordinator) Resume(ctx context.Context, prev *Report) (*Report, error) {
	report := &Report{
		Start:       prev.Start,
		End:         prev.End,
		Results:     slices.Clone(prev.Results),
		Completed:   slices.Clone(prev.Completed),
		ChunkErrors: slices.Clone(prev.ChunkErrors),
		Elapsed:     prev.Elapsed,
	}
	return c.run(ctx, report, slices.Clone(prev.Pending))
}

// outcome is what one chunk produced. Each index is written by one worker.
type outcome struct {
	results []Result
	done    bool
	err     error
}

func (c *Coordinator) run(ctx context.Context, report *Report, chunks []Chunk) (*Report, error) {
	started := time.Now()
	outcomes := make([]outcome, len(chunks))
	workers := min(c.workers, max(len(chunks), 1))

	var (
		progressMu sync.Mutex
		progress   = Progress{ChunksTotal: len(chunks)}
	)
	reportProgress := func(n int) {
		if c.progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		progress.ChunksDone++
		progress.Results += n
		c.progress(progress)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			s := c.newScanner()
			for i := w; i < len(chunks); i += workers {
				if ctx.Err() != nil {
					return
				}
				outcomes[i] = s.scanChunk(ctx, chunks[i])
				if outcomes[i].done {
					reportProgress(len(outcomes[i].results))
				}
			}
		}(w)
	}
	wg.Wait()

	for i, o := range outcomes {
		report.Results = append(report.Results, o.results...)
		switch {
		case o.err != nil:
			report.ChunkErrors = append(report.ChunkErrors, ChunkError{Chunk: chunks[i], Err: o.err})
			report.Completed = append(report.Completed, chunks[i])
		case o.done:
			report.Completed = append(report.Completed, chunks[i])
		default:
			report.Pending = append(report.Pending, chunks[i])
		}
	}
	report.Results = mergeResults(report.Results)
	slices.SortFunc(report.Completed, func(a, b Chunk) int { return cmp.Compare(a.Start, b.Start) })
	report.Elapsed += time.Since(started)

	c.stats.IncCounter(stats.MetricScanResults, int64(len(report.Results)))
	c.stats.ObserveHistogram(stats.MetricScanDuration, time.Since(started).Seconds())

	if !report.Done() {
		c.logger.Info("scan cancelled",
			zap.Int("pending", len(report.Pending)),
			zap.Int("results", len(report.Results)),
		)
		return report, fmt.Errorf("%w: %d of %d chunks pending: %w",
			romerr.ErrCancelled, len(report.Pending), len(chunks), context.Cause(ctx))
	}

	c.logger.Info("scan finished",
		zap.Int64("start", report.Start),
		zap.Int64("end", report.End),
		zap.Int("chunks", len(chunks)),
		zap.Int("results", len(report.Results)),
		zap.Int("chunkErrors", len(report.ChunkErrors)),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// mergeResults sorts results by offset and keeps the first result at each
// offset.
func mergeResults(results []Result) []Result {
	slices.SortStableFunc(results, func(a, b Result) int { return cmp.Compare(a.Offset, b.Offset) })
	return slices.CompactFunc(results, func(a, b Result) bool { return a.Offset == b.Offset })
}
