//go:build !unix

package region

import (
	"io"
	"os"
)

// mapFile reads the whole file into memory on platforms without mmap.
func mapFile(f *os.File, size int64) ([]byte, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}
	return data, nil
}

func unmapFile(data []byte) error {
	return nil
}
