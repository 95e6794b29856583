//go:build windows

package diskstore

import (
	"fmt"
	"os"
)

// mappedFile on Windows falls back to a whole-file read: Go's stdlib
// and golang.org/x/sys/windows have no mmap-for-read-only-bytes
// primitive simple enough to justify here, so the payload is read
// into a plain byte slice instead. Callers only ever read this slice,
// so the fallback is semantically transparent.
type mappedFile struct {
	data []byte
}

func mmapOpen(path string) (*mappedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("diskstore: read %s: %w", path, err)
	}
	return &mappedFile{data: data}, nil
}

func (m *mappedFile) Bytes() []byte {
	return m.data
}

func (m *mappedFile) Close() error {
	m.data = nil
	return nil
}
