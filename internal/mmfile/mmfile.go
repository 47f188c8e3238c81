// Package mmfile maps backing-store files read-write into memory.
package mmfile

import "errors"

var (
	ErrClosed  = errors.New("mmfile: file is closed")
	ErrBadSize = errors.New("mmfile: size must be positive")
)

// File is a file mapped read-write in its entirety.
//
// NOT thread-safe. Bytes is invalidated by Grow and Close.
type File struct {
	path string
	data []byte
	impl
}

// Path returns the mapped file's path.
func (f *File) Path() string { return f.path }

// Bytes returns the mapped contents. Writes go straight to the mapping.
func (f *File) Bytes() []byte { return f.data }

// Len returns the mapped size.
func (f *File) Len() int { return len(f.data) }
