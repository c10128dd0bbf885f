// Package search implements forward byte-pattern search over ROM data.
package search

import (
	"bytes"
	"iter"
)

// Pattern returns a lazy sequence of offsets in data where pattern occurs
// entirely within [start, end). After each match the search resumes at the
// match offset plus step, so a step shorter than the pattern reports
// overlapping matches.
//
// The sequence is restartable: every range over it searches from start again.
// Bounds are clamped to data; an empty pattern yields nothing. A step below 1
// is treated as 1.
func Pattern(data, pattern []byte, start, end, step int64) iter.Seq[int64] {
	if start < 0 {
		start = 0
	}
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	if step < 1 {
		step = 1
	}

	return func(yield func(int64) bool) {
		if len(pattern) == 0 || start >= end {
			return
		}
		window := data[:end]
		for pos := start; pos+int64(len(pattern)) <= end; {
			idx := bytes.Index(window[pos:], pattern)
			if idx < 0 {
				return
			}
			found := pos + int64(idx)
			if !yield(found) {
				return
			}
			pos = found + step
		}
	}
}

// Collect gathers up to limit offsets from seq. A limit of zero or less
// collects everything.
func Collect(seq iter.Seq[int64], limit int) []int64 {
	var out []int64
	for off := range seq {
		out = append(out, off)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
