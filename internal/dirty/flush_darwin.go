//go:build darwin

package dirty

import (
	"context"

	"golang.org/x/sys/unix"
)

// flushRanges syncs the whole mapping: macOS msync wants the address mmap
// returned, not a sub-slice. The kernel only writes dirty pages.
func (t *Tracker) flushRanges(_ context.Context, data []byte) error {
	return unix.Msync(data, unix.MS_SYNC)
}

func fdatasync(m Mapping) error {
	if m.FD() < 0 {
		return nil
	}
	return unix.Fsync(m.FD())
}
