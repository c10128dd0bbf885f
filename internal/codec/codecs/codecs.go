// Package codecs resolves payload codecs by name for configuration surfaces.
package codecs

import (
	"fmt"
	"slices"
	"strings"

	"github.com/discochess/romstash/internal/codec"
	"github.com/discochess/romstash/internal/codec/gzipcodec"
	"github.com/discochess/romstash/internal/codec/noopcodec"
	"github.com/discochess/romstash/internal/codec/zstdcodec"
)

// Names lists the accepted codec names.
var Names = []string{"none", "gzip", "zstd"}

// ByName returns the codec called name. An empty name selects "none".
func ByName(name string) (codec.Codec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return noopcodec.New(), nil
	case "gzip":
		return gzipcodec.New(), nil
	case "zstd":
		return zstdcodec.New(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q (want one of %s)", name, strings.Join(Names, ", "))
	}
}

// Valid reports whether name is an accepted codec name.
func Valid(name string) bool {
	return name == "" || slices.Contains(Names, strings.ToLower(name))
}
