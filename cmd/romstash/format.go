package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// parseOffset accepts decimal, 0x hex, 0o octal and 0b binary offsets.
// A trailing "h" also marks hex, as ROM hacking tools print it.
func parseOffset(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if h, ok := strings.CutSuffix(strings.ToLower(s), "h"); ok {
		s = "0x" + h
	}
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative offset %q", s)
	}
	return n, nil
}

func parseOffsets(args []string) ([]int64, error) {
	offsets := make([]int64, 0, len(args))
	for _, arg := range args {
		n, err := parseOffset(arg)
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, n)
	}
	return offsets, nil
}

// parsePattern decodes a hex byte pattern such as "A9 00 8D" or "a9008d".
func parsePattern(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex pattern: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty pattern")
	}
	return b, nil
}
