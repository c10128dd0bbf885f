package scan

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/discochess/romstash/internal/romerr"
)

func TestPasses(t *testing.T) {
	tests := []struct {
		name   string
		window []byte
		want   bool
	}{
		{"zeros", make([]byte, 16), false},
		{"erased", bytes.Repeat([]byte{0xFF}, 16), false},
		{"two values", bytes.Repeat([]byte{0x00, 0x01}, 8), false},
		{"three values", append(bytes.Repeat([]byte{0x00, 0x01}, 7), 0x02, 0x00), true},
		{"counting", []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, true},
		{"short", []byte{1, 2, 3, 4}, false},
		{"variety after window", append(make([]byte, 16), 1, 2, 3), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Passes(tt.window); got != tt.want {
				t.Errorf("Passes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDensity(t *testing.T) {
	sample := make([]byte, 1024)
	copy(sample[32:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	copy(sample[512:], []byte{9, 8, 7, 6, 5, 4, 3, 2, 1, 9, 8, 7, 6, 5, 4, 3})

	if got := Density(sample); got != 2 {
		t.Errorf("Density() = %v, want 2", got)
	}
	if got := Density(nil); got != 0 {
		t.Errorf("Density(nil) = %v, want 0", got)
	}
}

func TestAdaptiveStep(t *testing.T) {
	tests := []struct {
		density float64
		base    int64
		want    int64
	}{
		{0.9, 0x100, 0x40},
		{0.9, 0x400, 0x100},
		{0.5, 0x100, 0x80},
		{0.3, 0x400, 0x200},
		{0.1, 0x100, 0x100},
		{0.05, 0x100, 0x100},
		{0.005, 0x100, 0x400},
		{0, 0x800, 0x1000},
	}

	for _, tt := range tests {
		if got := AdaptiveStep(tt.density, tt.base); got != tt.want {
			t.Errorf("AdaptiveStep(%v, 0x%x) = 0x%x, want 0x%x", tt.density, tt.base, got, tt.want)
		}
	}
}

func TestSweep(t *testing.T) {
	data := make([]byte, 0x400)
	copy(data[0x100:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	copy(data[0x3F0:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	src := memSource(data)

	got, err := Sweep(context.Background(), src, 0, src.Len(), 0x10)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if diff := cmp.Diff([]int64{0x100, 0x3F0}, got); diff != "" {
		t.Errorf("Sweep() mismatch (-want +got):\n%s", diff)
	}

	// A coarse step skips the match at 0x3F0.
	got, _ = Sweep(context.Background(), src, 0, src.Len(), 0x100)
	if diff := cmp.Diff([]int64{0x100}, got); diff != "" {
		t.Errorf("Sweep() step 0x100 mismatch (-want +got):\n%s", diff)
	}
}

func TestSweep_Errors(t *testing.T) {
	src := memSource(make([]byte, 0x100))

	if _, err := Sweep(context.Background(), src, 0x80, 0x10, 1); !errors.Is(err, romerr.ErrInvalidRange) {
		t.Errorf("Sweep() error = %v, want %v", err, romerr.ErrInvalidRange)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Sweep(ctx, src, 0, 0x100, 1); !errors.Is(err, romerr.ErrCancelled) {
		t.Errorf("Sweep() error = %v, want %v", err, romerr.ErrCancelled)
	}
}
