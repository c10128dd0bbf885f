package codecs

import "testing"

func TestByName(t *testing.T) {
	tests := []struct {
		name    string
		wantExt string
		wantErr bool
	}{
		{"", "", false},
		{"none", "", false},
		{"gzip", "gz", false},
		{"ZSTD", "zst", false},
		{"lz4", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ByName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ByName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := c.Extension(); got != tt.wantExt {
				t.Errorf("Extension() = %q, want %q", got, tt.wantExt)
			}
			if !Valid(tt.name) {
				t.Errorf("Valid(%q) = false, want true", tt.name)
			}
		})
	}
}
