package scan

import (
	"context"

	"github.com/discochess/romstash/internal/decomp"
)

// TileSize is the size of one 8x8 4bpp SNES tile in bytes.
const TileSize = 32

// MaxExpansion bounds how many output bytes one compressed input byte is
// assumed to produce when a prober cannot report the compressed size.
const MaxExpansion = 8

// Detection describes a sprite found by a Prober.
type Detection struct {
	DecompressedSize int
	TileCount        int

	// CompressedSize is the number of input bytes the sprite occupies, or 0
	// when the prober cannot tell.
	CompressedSize int

	// VisualValid reports whether an independent visual check accepted the
	// decoded tiles.
	VisualValid bool
}

// Extent returns how many ROM bytes the detected sprite is known or assumed
// to occupy: CompressedSize when set, otherwise DecompressedSize divided by
// MaxExpansion.
func (d Detection) Extent() int64 {
	if d.CompressedSize > 0 {
		return int64(d.CompressedSize)
	}
	return int64(d.DecompressedSize / MaxExpansion)
}

// Prober decides whether data, read from the ROM at offset, starts a sprite.
// data is only valid for the duration of the call.
type Prober interface {
	Probe(ctx context.Context, data []byte, offset int64) (Detection, bool)
}

// ProbeFunc adapts a function to a Prober.
type ProbeFunc func(ctx context.Context, data []byte, offset int64) (Detection, bool)

// Probe calls f.
func (f ProbeFunc) Probe(ctx context.Context, data []byte, offset int64) (Detection, bool) {
	return f(ctx, data, offset)
}

// DecompressProbe returns a Prober that runs d over the probe window and
// accepts any output of at least minTiles whole tiles. The decoded tiles are
// visually valid when at least half of them pass the cheap filter. When d is
// a decomp.Measurer the compressed size is reported too.
func DecompressProbe(d decomp.Decompressor, minTiles int) Prober {
	minTiles = max(minTiles, 1)
	m, measured := d.(decomp.Measurer)
	return ProbeFunc(func(ctx context.Context, data []byte, offset int64) (Detection, bool) {
		var (
			out      []byte
			consumed int
			err      error
		)
		if measured {
			out, consumed, err = m.DecompressMeasured(ctx, data)
		} else {
			out, err = d.Decompress(ctx, data)
		}
		if err != nil {
			return Detection{}, false
		}
		tiles := len(out) / TileSize
		if tiles < minTiles {
			return Detection{}, false
		}

		textured := 0
		for i := 0; i < tiles; i++ {
			if Passes(out[i*TileSize : (i+1)*TileSize]) {
				textured++
			}
		}
		return Detection{
			DecompressedSize: len(out),
			TileCount:        tiles,
			CompressedSize:   consumed,
			VisualValid:      textured*2 >= tiles,
		}, true
	})
}

// SizeBand is the inclusive range of decompressed sizes expected of a sprite.
type SizeBand struct {
	Min int
	Max int
}

// DefaultSizeBand is the decompressed size band used unless configured.
var DefaultSizeBand = SizeBand{Min: 0x200, Max: 0x10000}

// Confidence scores a detection in [0, 1]: 0.3 for a decompressed size inside
// band, 0.2 for a compression ratio in [0.1, 0.7], 0.2 for 4 to 512 tiles and
// 0.3 for a passed visual check.
func Confidence(d Detection, band SizeBand) float64 {
	var score float64
	if d.DecompressedSize >= band.Min && d.DecompressedSize <= band.Max {
		score += 0.3
	}
	if d.DecompressedSize > 0 && d.CompressedSize > 0 {
		ratio := float64(d.CompressedSize) / float64(d.DecompressedSize)
		if ratio >= 0.1 && ratio <= 0.7 {
			score += 0.2
		}
	}
	if d.TileCount >= 4 && d.TileCount <= 512 {
		score += 0.2
	}
	if d.VisualValid {
		score += 0.3
	}
	return min(max(score, 0), 1)
}
