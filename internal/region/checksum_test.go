package region

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/discochess/romstash/internal/search"
)

func TestSum16(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0},
		{"single byte", []byte{0xAB}, 0x00AB},
		{"one word", []byte{0x34, 0x12}, 0x1234},
		{"two words", []byte{0x01, 0x00, 0x02, 0x00}, 0x0003},
		{"odd tail", []byte{0x01, 0x00, 0x05}, 0x0006},
		{"wraps", []byte{0xFF, 0xFF, 0x02, 0x00}, 0x0001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sum16(tt.data); got != tt.want {
				t.Errorf("Sum16() = %#04x, want %#04x", got, tt.want)
			}
		})
	}
}

func TestChecksum_KnownContent(t *testing.T) {
	// 0x1000 words of 0xFFFF and one trailing 0x7F.
	data := make([]byte, 0x2001)
	for i := range data {
		data[i] = 0xFF
	}
	data[len(data)-1] = 0x7F

	// 0x1000 * 0xFFFF wraps to 0x10000*0x1000 - 0x1000 = -0x1000 mod 2^16 = 0xF000.
	want := uint16(0xF000 + 0x7F)

	c := openROM(t, data)
	got, err := c.Checksum()
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	if got != want {
		t.Errorf("Checksum() = %#04x, want %#04x", got, want)
	}
}

func TestSearchPattern(t *testing.T) {
	data := make([]byte, 4096)
	for _, off := range []int{16, 600, 604, 3000, 4092} {
		copy(data[off:], "SPR")
	}
	c := openROM(t, data)

	tests := []struct {
		name       string
		start, end int64
		step       int64
		want       []int64
	}{
		{"whole file", 0, 4096, 1, []int64{16, 600, 604, 3000, 4092}},
		{"window", 100, 3002, 1, []int64{600, 604}},
		{"step skips neighbour", 0, 4096, 5, []int64{16, 600, 3000, 4092}},
		{"end clamped", 0, 1 << 20, 1, []int64{16, 600, 604, 3000, 4092}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := c.SearchPattern([]byte("SPR"), tt.start, tt.end, tt.step)
			got := search.Collect(seq, 0)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("SearchPattern() mismatch (-want +got):\n%s", diff)
			}
			// Restartable.
			if diff := cmp.Diff(got, search.Collect(seq, 0)); diff != "" {
				t.Errorf("second iteration mismatch (-first +second):\n%s", diff)
			}
		})
	}
}

func TestSearchPattern_EarlyStop(t *testing.T) {
	c := openROM(t, []byte("AAAAAAAAAA"))

	got := search.Collect(c.SearchPattern([]byte("A"), 0, 10, 1), 2)
	if diff := cmp.Diff([]int64{0, 1}, got); diff != "" {
		t.Errorf("SearchPattern() mismatch (-want +got):\n%s", diff)
	}
}
