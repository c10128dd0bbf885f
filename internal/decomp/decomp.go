// Package decomp defines the byte-in/byte-out decompressor contract used by
// the extractor and the decompression-backed scan probe.
//
// A Decompressor must be pure: the same input always yields the same output
// and no state is shared between calls. Failures wrap romerr.ErrDecompression.
package decomp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/discochess/romstash/internal/codec"
	"github.com/discochess/romstash/internal/romerr"
)

// Decompressor expands a raw window of ROM bytes.
type Decompressor interface {
	Decompress(ctx context.Context, data []byte) ([]byte, error)
}

// Measurer is implemented by decompressors that can report how many input
// bytes the compressed stream occupied.
type Measurer interface {
	DecompressMeasured(ctx context.Context, data []byte) (out []byte, consumed int, err error)
}

// Func adapts a plain function to Decompressor.
type Func func(data []byte) ([]byte, error)

// Decompress calls f and wraps any failure in romerr.ErrDecompression.
func (f Func) Decompress(_ context.Context, data []byte) ([]byte, error) {
	out, err := f(data)
	if err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

// FromCodec returns a Decompressor that decodes each window with c.
func FromCodec(c codec.Codec) Decompressor {
	return Func(func(data []byte) ([]byte, error) {
		return codec.Decode(c, data)
	})
}

// Command runs an external tool for every call, writing the window to its
// stdin and reading the result from stdout.
type Command struct {
	Path string
	Args []string
}

// Compile-time check that Command implements Decompressor.
var _ Decompressor = (*Command)(nil)

// NewCommand returns a Command that runs path with args.
func NewCommand(path string, args ...string) *Command {
	return &Command{Path: path, Args: args}
}

// Decompress runs the tool. A non-zero exit or empty output is a
// decompression failure; stderr is included in the error.
func (c *Command) Decompress(ctx context.Context, data []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, wrap(fmt.Errorf("%s: %w: %s", c.Path, err, msg))
		}
		return nil, wrap(fmt.Errorf("%s: %w", c.Path, err))
	}
	if stdout.Len() == 0 {
		return nil, wrap(fmt.Errorf("%s: no output", c.Path))
	}
	return stdout.Bytes(), nil
}

func wrap(err error) error {
	if errors.Is(err, romerr.ErrDecompression) {
		return err
	}
	return fmt.Errorf("%w: %w", romerr.ErrDecompression, err)
}
