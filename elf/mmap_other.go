//go:build !linux

package elf

import (
	"fmt"
	"os"
)

func mmapFile(f *os.File, size int64) ([]byte, error) {
	return nil, fmt.Errorf("mmap unsupported")
}

func munmapFile(data []byte) {
}
