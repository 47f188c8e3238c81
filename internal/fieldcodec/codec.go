// Package fieldcodec encodes the Fields of one page for a backing store.
//
// Layout (little-endian):
//
//	0   magic "MVPG"
//	4   version
//	5   flags (bit 0: body is snappy-compressed)
//	6   reserved (2 bytes, zero)
//	8   field count (u32)
//	12  body length as stored (u32)
//	16  xxhash64 of the stored body
//	24  body
//
// The uncompressed body is a sequence of fields:
//
//	u16 name length, name bytes, u32 value length, value bytes
//
// A value length of 0xFFFFFFFF marks a nil value, so NullField survives a
// round trip distinct from an empty value.
package fieldcodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"

	"github.com/jtienhaara/musaico-sub031/memory/buffer"
)

const (
	HeaderSize = 24
	Version    = 1

	flagSnappy = 1 << 0
	nilValue   = math.MaxUint32
)

var magic = []byte("MVPG")

var (
	ErrTruncated     = errors.New("fieldcodec: truncated data")
	ErrBadMagic      = errors.New("fieldcodec: bad magic")
	ErrVersion       = errors.New("fieldcodec: unsupported version")
	ErrChecksum      = errors.New("fieldcodec: checksum mismatch")
	ErrFieldTooLarge = errors.New("fieldcodec: field too large")
)

// Options control encoding.
type Options struct {
	Compress bool
}

// Encode serializes fields.
func Encode(fields []buffer.Field, opts Options) ([]byte, error) {
	if uint64(len(fields)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d fields", ErrFieldTooLarge, len(fields))
	}

	var body bytes.Buffer
	var scratch [4]byte
	for i, f := range fields {
		if len(f.Name) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: field %d name is %d bytes", ErrFieldTooLarge, i, len(f.Name))
		}
		if uint64(len(f.Value)) >= nilValue {
			return nil, fmt.Errorf("%w: field %d value is %d bytes", ErrFieldTooLarge, i, len(f.Value))
		}
		binary.LittleEndian.PutUint16(scratch[:2], uint16(len(f.Name)))
		body.Write(scratch[:2])
		body.WriteString(f.Name)

		n := uint32(len(f.Value))
		if f.Value == nil {
			n = nilValue
		}
		binary.LittleEndian.PutUint32(scratch[:], n)
		body.Write(scratch[:])
		body.Write(f.Value)
	}

	stored := body.Bytes()
	var flags byte
	if opts.Compress {
		stored = snappy.Encode(nil, stored)
		flags |= flagSnappy
	}

	out := make([]byte, HeaderSize+len(stored))
	copy(out[0:4], magic)
	out[4] = Version
	out[5] = flags
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(fields)))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(stored)))
	binary.LittleEndian.PutUint64(out[16:24], xxhash.Sum64(stored))
	copy(out[HeaderSize:], stored)
	return out, nil
}

// Decode parses data produced by Encode. Trailing bytes after the body are
// ignored, so fixed-size slots may be decoded in place.
func Decode(data []byte) ([]buffer.Field, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, HeaderSize, len(data))
	}
	if !bytes.Equal(data[0:4], magic) {
		return nil, ErrBadMagic
	}
	if data[4] != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, data[4])
	}
	flags := data[5]
	count := binary.LittleEndian.Uint32(data[8:12])
	storedLen := binary.LittleEndian.Uint32(data[12:16])
	sum := binary.LittleEndian.Uint64(data[16:24])

	if uint64(storedLen) > uint64(len(data)-HeaderSize) {
		return nil, fmt.Errorf("%w: body needs %d bytes, have %d", ErrTruncated, storedLen, len(data)-HeaderSize)
	}
	stored := data[HeaderSize : HeaderSize+int(storedLen)]
	if xxhash.Sum64(stored) != sum {
		return nil, ErrChecksum
	}

	body := stored
	if flags&flagSnappy != 0 {
		var err error
		body, err = snappy.Decode(nil, stored)
		if err != nil {
			return nil, fmt.Errorf("fieldcodec: decompress: %w", err)
		}
	}

	// Every field needs at least 6 bytes, which bounds count before allocating.
	if uint64(count)*6 > uint64(len(body)) {
		return nil, fmt.Errorf("%w: %d fields in %d bytes", ErrTruncated, count, len(body))
	}

	fields := make([]buffer.Field, count)
	off := 0
	for i := range fields {
		if len(body)-off < 2 {
			return nil, fmt.Errorf("%w: field %d name length", ErrTruncated, i)
		}
		nameLen := int(binary.LittleEndian.Uint16(body[off:]))
		off += 2
		if len(body)-off < nameLen+4 {
			return nil, fmt.Errorf("%w: field %d name", ErrTruncated, i)
		}
		fields[i].Name = string(body[off : off+nameLen])
		off += nameLen

		valueLen := binary.LittleEndian.Uint32(body[off:])
		off += 4
		if valueLen == nilValue {
			continue
		}
		if uint64(len(body)-off) < uint64(valueLen) {
			return nil, fmt.Errorf("%w: field %d value", ErrTruncated, i)
		}
		fields[i].Value = bytes.Clone(body[off : off+int(valueLen)])
		off += int(valueLen)
	}
	return fields, nil
}
