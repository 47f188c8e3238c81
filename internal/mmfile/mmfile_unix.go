//go:build unix

package mmfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type impl struct {
	fh *os.File
}

// Open maps path read-write, creating it and extending it to at least size
// bytes. A larger existing file is mapped whole.
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
	data, err := mapFile(fh, size)
	if err != nil {
		fh.Close()
		return nil, err
	}
	return &File{path: path, data: data, impl: impl{fh: fh}}, nil
}

func mapFile(fh *os.File, size int64) ([]byte, error) {
	if size > int64(^uint(0)>>1) {
		return nil, fmt.Errorf("mmfile: file too large to map (%d bytes)", size)
	}
	if err := fh.Truncate(size); err != nil {
		return nil, err
	}
	return unix.Mmap(int(fh.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// FD returns the file descriptor, or -1 once closed.
func (f *File) FD() int {
	if f.fh == nil {
		return -1
	}
	return int(f.fh.Fd())
}

// Grow remaps the file at size bytes. Shrinking is a no-op.
func (f *File) Grow(size int64) error {
	if f.fh == nil {
		return ErrClosed
	}
	if size <= int64(len(f.data)) {
		return nil
	}
	if err := unix.Munmap(f.data); err != nil {
		return err
	}
	f.data = nil
	data, err := mapFile(f.fh, size)
	if err != nil {
		return err
	}
	f.data = data
	return nil
}

// Sync flushes the whole mapping to disk.
func (f *File) Sync() error {
	if f.fh == nil {
		return ErrClosed
	}
	if len(f.data) == 0 {
		return nil
	}
	return unix.Msync(f.data, unix.MS_SYNC)
}

// Close unmaps and closes the file. Closing twice is a no-op.
func (f *File) Close() error {
	if f.fh == nil {
		return nil
	}
	var errs []error
	if f.data != nil {
		if err := unix.Munmap(f.data); err != nil && !errors.Is(err, unix.EINVAL) {
			errs = append(errs, err)
		}
		f.data = nil
	}
	errs = append(errs, f.fh.Close())
	f.fh = nil
	return errors.Join(errs...)
}
