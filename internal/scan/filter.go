package scan

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/discochess/romstash/internal/romerr"
)

// FilterWindow is the number of bytes the cheap filter inspects.
const FilterWindow = 16

// minDistinct is the fewest distinct byte values a window needs to pass.
const minDistinct = 3

// Passes reports whether window looks like it could start compressed sprite
// data. It rejects short windows, all-zero and all-0xFF windows, and windows
// with fewer than three distinct byte values. Only the first FilterWindow
// bytes are inspected.
func Passes(window []byte) bool {
	if len(window) < FilterWindow {
		return false
	}
	window = window[:FilterWindow]

	var seen [256]bool
	distinct := 0
	for _, b := range window {
		if !seen[b] {
			seen[b] = true
			distinct++
		}
	}
	// Fewer than three values also covers all-zero and all-0xFF windows.
	return distinct >= minDistinct
}

// Density returns the number of FilterWindow-aligned offsets in sample that
// pass the cheap filter, per KiB of sample.
func Density(sample []byte) float64 {
	if len(sample) < FilterWindow {
		return 0
	}
	candidates := 0
	for off := 0; off+FilterWindow <= len(sample); off += FilterWindow {
		if Passes(sample[off : off+FilterWindow]) {
			candidates++
		}
	}
	return float64(candidates) * 1024 / float64(len(sample))
}

// AdaptiveStep picks the walk step for a chunk from its candidate density.
// Dense regions are walked more finely and near-empty ones more coarsely.
func AdaptiveStep(density float64, base int64) int64 {
	switch {
	case density > 0.5:
		return max(0x40, base/4)
	case density > 0.1:
		return max(0x80, base/2)
	case density < 0.01:
		return min(0x1000, base*4)
	default:
		return base
	}
}

// Sweep returns every offset in [start, end), visited step bytes apart,
// whose filter window passes. It is a quick pre-filter and never probes.
func Sweep(ctx context.Context, src io.ReaderAt, start, end, step int64) ([]int64, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: sweep range [0x%x, 0x%x)", romerr.ErrInvalidRange, start, end)
	}
	step = max(step, 1)

	var (
		window [FilterWindow]byte
		found  []int64
	)
	for off := start; off < end; off += step {
		if err := ctx.Err(); err != nil {
			return found, fmt.Errorf("%w: %w", romerr.ErrCancelled, err)
		}
		n, err := src.ReadAt(window[:], off)
		if err != nil && !errors.Is(err, io.EOF) {
			return found, fmt.Errorf("reading 0x%x: %w: %w", off, romerr.ErrIO, err)
		}
		if n == 0 {
			break
		}
		if Passes(window[:n]) {
			found = append(found, off)
		}
	}
	return found, nil
}
