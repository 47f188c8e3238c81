//go:build !unix

package mmfile

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Without mmap the contents are held in memory and written back by Sync.
type impl struct {
	fh *os.File
}

// Open reads path into memory, creating it and extending it to at least size
// bytes.
func Open(path string, size int64) (*File, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	fh, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, err
	}
	if info.Size() > size {
		size = info.Size()
	}
	data := make([]byte, size)
	if _, err := fh.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		fh.Close()
		return nil, err
	}
	return &File{path: path, data: data, impl: impl{fh: fh}}, nil
}

// FD returns the file descriptor, or -1 once closed.
func (f *File) FD() int {
	if f.fh == nil {
		return -1
	}
	return int(f.fh.Fd())
}

// Grow extends the in-memory copy to size bytes.
func (f *File) Grow(size int64) error {
	if f.fh == nil {
		return ErrClosed
	}
	if size <= int64(len(f.data)) {
		return nil
	}
	grown := make([]byte, size)
	copy(grown, f.data)
	f.data = grown
	return nil
}

// Sync writes the in-memory copy back to the file.
func (f *File) Sync() error {
	if f.fh == nil {
		return ErrClosed
	}
	if _, err := f.fh.WriteAt(f.data, 0); err != nil {
		return err
	}
	return f.fh.Sync()
}

// Close syncs and closes the file. Closing twice is a no-op.
func (f *File) Close() error {
	if f.fh == nil {
		return nil
	}
	err := f.Sync()
	err = errors.Join(err, f.fh.Close())
	f.fh = nil
	f.data = nil
	return err
}
