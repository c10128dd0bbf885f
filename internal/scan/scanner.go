package scan

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/discochess/romstash/internal/romerr"
	"github.com/discochess/romstash/internal/stats"
)

// scanner is the per-worker state. It is never shared between goroutines.
type scanner struct {
	c      *Coordinator
	sample []byte
	window []byte
}

func (c *Coordinator) newScanner() *scanner {
	return &scanner{
		c:      c,
		sample: make([]byte, max(c.sampleSize, FilterWindow)),
		window: make([]byte, c.probeWindow),
	}
}

// scanChunk walks one chunk. A panic or read failure discards the chunk's
// results and is returned in the outcome.
func (s *scanner) scanChunk(ctx context.Context, chunk Chunk) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{done: true, err: fmt.Errorf("chunk %d at 0x%x panicked: %v", chunk.ID, chunk.Start, r)}
		}
		if out.err != nil {
			s.c.logger.Warn("chunk failed",
				zap.Int("chunk", chunk.ID),
				zap.Int64("start", chunk.Start),
				zap.Error(out.err),
			)
			s.c.stats.IncCounter(stats.MetricScanChunkErrors, 1)
		}
	}()

	step, err := s.step(chunk)
	if err != nil {
		return outcome{done: true, err: err}
	}

	var results []Result
	for off := chunk.Start; off < chunk.End; {
		if ctx.Err() != nil {
			return outcome{results: results}
		}

		n, err := s.read(s.window[:FilterWindow], off)
		if err != nil {
			return outcome{done: true, err: err}
		}
		if !Passes(s.window[:n]) {
			off += step
			continue
		}

		n, err = s.read(s.window, off)
		if err != nil {
			return outcome{done: true, err: err}
		}
		d, ok := s.c.prober.Probe(ctx, s.window[:n], off)
		if !ok {
			off += step
			continue
		}

		results = append(results, Result{
			Offset:           off,
			DecompressedSize: d.DecompressedSize,
			TileCount:        d.TileCount,
			CompressedSize:   d.CompressedSize,
			Confidence:       Confidence(d, s.c.band),
			Metadata: map[string]any{
				"chunk": chunk.ID,
				"step":  step,
			},
		})
		s.c.logger.Debug("sprite candidate",
			zap.Int64("offset", off),
			zap.Int("decompressedSize", d.DecompressedSize),
			zap.Int("tiles", d.TileCount),
		)
		off += max(step, d.Extent())
	}

	s.c.stats.IncCounter(stats.MetricScanChunks, 1)
	s.c.logger.Debug("chunk done",
		zap.Int("chunk", chunk.ID),
		zap.Int64("step", step),
		zap.Int("results", len(results)),
	)
	return outcome{results: results, done: true}
}

// step samples the start of chunk and derives its walk step.
func (s *scanner) step(chunk Chunk) (int64, error) {
	size := min(int64(len(s.sample)), chunk.Len())
	n, err := s.read(s.sample[:size], chunk.Start)
	if err != nil {
		return 0, err
	}
	return AdaptiveStep(Density(s.sample[:n]), s.c.baseStep), nil
}

// read fills buf from off, tolerating a short read at the end of the source.
func (s *scanner) read(buf []byte, off int64) (int, error) {
	n, err := s.c.src.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("reading 0x%x: %w: %w", off, romerr.ErrIO, err)
	}
	return n, nil
}
