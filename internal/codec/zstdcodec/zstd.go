// Package zstdcodec provides a zstd compression codec.
package zstdcodec

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/discochess/romstash/internal/codec"
)

// Compile-time check that Codec implements codec.BufferCodec.
var _ codec.BufferCodec = (*Codec)(nil)

// Codec implements zstd compression. The whole-buffer encoder and decoder are
// created on first use and shared; both are safe for concurrent use.
type Codec struct {
	level zstd.EncoderLevel

	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	initErr error
}

// Option configures a Codec.
type Option func(*Codec)

// WithLevel sets the encoder level.
func WithLevel(level zstd.EncoderLevel) Option {
	return func(c *Codec) {
		c.level = level
	}
}

// New returns a new zstd codec.
func New(opts ...Option) *Codec {
	c := &Codec{level: zstd.SpeedDefault}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reader wraps r to decompress zstd data.
func (c *Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

// Writer wraps w to compress data with zstd.
func (c *Codec) Writer(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(c.level))
}

// EncodeAll compresses src in one call.
func (c *Codec) EncodeAll(src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	return c.encoder.EncodeAll(src, nil), nil
}

// DecodeAll decompresses a complete zstd frame.
func (c *Codec) DecodeAll(src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	return c.decoder.DecodeAll(src, nil)
}

// Extension returns "zst".
func (c *Codec) Extension() string {
	return "zst"
}

func (c *Codec) init() error {
	c.once.Do(func() {
		c.encoder, c.initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
		if c.initErr != nil {
			return
		}
		c.decoder, c.initErr = zstd.NewReader(nil)
	})
	return c.initErr
}
