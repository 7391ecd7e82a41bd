//go:build !unix

package mmap

import (
	"io"
	"os"
)

// Platforms without mmap read the file into the heap instead.
func mmap(f *os.File, size int) ([]byte, error) {
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return data, nil
}

func munmap([]byte) error { return nil }
