// Package noopcodec provides a no-op codec (no compression).
package noopcodec

import (
	"bytes"
	"io"

	"github.com/discochess/romstash/internal/codec"
)

// Compile-time check that Codec implements codec.BufferCodec.
var _ codec.BufferCodec = (*Codec)(nil)

// Codec stores payloads as-is.
type Codec struct{}

// New returns a new no-op codec.
func New() *Codec {
	return &Codec{}
}

// Reader returns r as a ReadCloser.
func (c *Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	if rc, ok := r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(r), nil
}

// Writer returns w as a WriteCloser. Closing it never closes w.
func (c *Codec) Writer(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

// EncodeAll returns a copy of src.
func (c *Codec) EncodeAll(src []byte) ([]byte, error) {
	return bytes.Clone(src), nil
}

// DecodeAll returns a copy of src.
func (c *Codec) DecodeAll(src []byte) ([]byte, error) {
	return bytes.Clone(src), nil
}

// Extension returns empty string.
func (c *Codec) Extension() string {
	return ""
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
