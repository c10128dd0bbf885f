// Package codec provides compression for cached payloads.
//
// Codecs are used in two places: the disk tier compresses entries before they
// reach a store, and codec-backed decompressors expand raw ROM windows.
package codec

import (
	"bytes"
	"fmt"
	"io"
)

// Codec provides compression and decompression functionality.
type Codec interface {
	// Reader wraps r to decompress data read from it.
	Reader(r io.Reader) (io.ReadCloser, error)
	// Writer wraps w to compress data written to it.
	Writer(w io.Writer) (io.WriteCloser, error)
	// Extension returns the file extension without dot (e.g., "zst", "gz").
	// Returns empty string for no compression.
	Extension() string
}

// BufferCodec is implemented by codecs with a whole-buffer fast path.
type BufferCodec interface {
	Codec
	EncodeAll(src []byte) ([]byte, error)
	DecodeAll(src []byte) ([]byte, error)
}

// Encode compresses data with c.
func Encode(c Codec, data []byte) ([]byte, error) {
	if bc, ok := c.(BufferCodec); ok {
		return bc.EncodeAll(data)
	}

	var buf bytes.Buffer
	w, err := c.Writer(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating %s writer: %w", name(c), err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("compressing with %s: %w", name(c), err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finishing %s stream: %w", name(c), err)
	}
	return buf.Bytes(), nil
}

// Decode decompresses data with c.
func Decode(c Codec, data []byte) ([]byte, error) {
	if bc, ok := c.(BufferCodec); ok {
		return bc.DecodeAll(data)
	}

	r, err := c.Reader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating %s reader: %w", name(c), err)
	}
	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing with %s: %w", name(c), err)
	}
	return out, nil
}

func name(c Codec) string {
	if ext := c.Extension(); ext != "" {
		return ext
	}
	return "identity"
}
