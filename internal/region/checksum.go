package region

import (
	"iter"

	"github.com/discochess/romstash/internal/search"
)

// Sum16 adds data as little-endian 16-bit words, wrapping at 16 bits. A
// trailing odd byte is added on its own.
func Sum16(data []byte) uint16 {
	var sum uint16
	n := len(data) &^ 1
	for i := 0; i < n; i += 2 {
		sum += uint16(data[i]) | uint16(data[i+1])<<8
	}
	if n < len(data) {
		sum += uint16(data[n])
	}
	return sum
}

// Checksum returns Sum16 over the whole file.
func (c *Cache) Checksum() (uint16, error) {
	var sum uint16
	err := c.view(func(data []byte) {
		sum = Sum16(data)
	})
	return sum, err
}

// SearchPattern returns a lazy sequence of offsets where pattern occurs
// within [start, end). Each search resumes at the previous match plus step.
// The sequence can be ranged over repeatedly and stops early if the Cache is
// closed mid-iteration.
func (c *Cache) SearchPattern(pattern []byte, start, end, step int64) iter.Seq[int64] {
	if step < 1 {
		step = 1
	}
	return func(yield func(int64) bool) {
		for pos := start; ; {
			found := int64(-1)
			err := c.view(func(data []byte) {
				for off := range search.Pattern(data, pattern, pos, end, step) {
					found = off
					break
				}
			})
			if err != nil || found < 0 {
				return
			}
			if !yield(found) {
				return
			}
			pos = found + step
		}
	}
}
