//go:build !linux && !freebsd && !darwin

package dirty

import "context"

type syncer interface {
	Sync() error
}

// flushRanges falls back to the mapping's own Sync where msync is missing.
func (t *Tracker) flushRanges(_ context.Context, _ []byte) error {
	if s, ok := t.m.(syncer); ok {
		return s.Sync()
	}
	return nil
}

func fdatasync(Mapping) error { return nil }
