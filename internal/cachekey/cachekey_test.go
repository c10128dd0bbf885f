package cachekey

import (
	"hash/fnv"
	"regexp"
	"testing"
)

var keyPattern = regexp.MustCompile(`^[0-9a-f]{8}_[0-9a-f]{8}$`)

func TestKey_Format(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		offset   int64
	}{
		{"zero offset", "/roms/game.sfc", 0},
		{"typical offset", "/roms/game.sfc", 0x1C0000},
		{"empty identity", "", 0x10},
		{"max 32-bit offset", "rom", 0xFFFFFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Key(tt.identity, tt.offset)
			if !keyPattern.MatchString(got) {
				t.Errorf("Key() = %q, want <8 hex>_<8 hex>", got)
			}
		})
	}
}

func TestKey_Offset(t *testing.T) {
	got := Key("rom", 0x1C0000)
	want := Fingerprint("rom") + "_001c0000"
	if got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestKey_Consistency(t *testing.T) {
	k1 := Key("/roms/game.sfc", 0x200)
	k2 := Key("/roms/game.sfc", 0x200)
	if k1 != k2 {
		t.Errorf("Key() not consistent: got %q and %q", k1, k2)
	}

	if Key("/roms/a.sfc", 0x200) == Key("/roms/b.sfc", 0x200) {
		t.Error("Key() should differ for different identities")
	}
	if Key("/roms/a.sfc", 0x200) == Key("/roms/a.sfc", 0x210) {
		t.Error("Key() should differ for different offsets")
	}
}

func TestFingerprint_MatchesStdlibFNV(t *testing.T) {
	for _, s := range []string{"", "a", "/roms/kirby.sfc", "a much longer identity string"} {
		h := fnv.New32a()
		h.Write([]byte(s))
		if got, want := fnv1a32(s), h.Sum32(); got != want {
			t.Errorf("fnv1a32(%q) = %08x, want %08x", s, got, want)
		}
	}
}
