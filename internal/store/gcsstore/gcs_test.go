package gcsstore

import (
	"testing"

	"github.com/discochess/romstash/internal/codec/gzipcodec"
	"github.com/discochess/romstash/internal/codec/noopcodec"
)

func TestWithPrefix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"prefix", "prefix/"},
		{"prefix/", "prefix/"},
		{"a/b/c/", "a/b/c/"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			s := &Store{}
			WithPrefix(tt.input)(s)
			if s.prefix != tt.want {
				t.Errorf("prefix = %q, want %q", s.prefix, tt.want)
			}
		})
	}
}

func TestStore_objectKey(t *testing.T) {
	tests := []struct {
		name  string
		store *Store
		key   string
		want  string
	}{
		{
			name:  "no prefix, no compression",
			store: &Store{codec: noopcodec.New()},
			key:   "1a2b3c4d_00001000",
			want:  "cache/1a2b3c4d_00001000.cache",
		},
		{
			name:  "prefix and gzip",
			store: &Store{codec: gzipcodec.New(), prefix: "team/"},
			key:   "1a2b3c4d_00001000",
			want:  "team/cache/1a2b3c4d_00001000.cache.gz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.store.objectKey(tt.key); got != tt.want {
				t.Errorf("objectKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
