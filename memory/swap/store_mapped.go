package swap

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/jtienhaara/musaico-sub031/internal/dirty"
	"github.com/jtienhaara/musaico-sub031/internal/mmfile"
)

const (
	slotHeaderSize      = 4
	defaultInitialSlots = 64
)

// MappedStore is a Store of fixed-size slots in a memory-mapped file.
//
// Each slot holds a u32 little-endian length followed by the encoded page.
// Writes land in the mapping immediately and reach disk on Sync or Close.
type MappedStore struct {
	mu       sync.Mutex
	file     *mmfile.File
	tracker  *dirty.Tracker
	slotSize int
	index    map[string]int
	free     []int
	next     int
}

var _ Store = (*MappedStore)(nil)

// OpenMappedStore maps path with room for initialSlots slots of slotSize
// bytes. The file grows as slots run out. A zero initialSlots uses a
// default.
func OpenMappedStore(path string, slotSize, initialSlots int) (*MappedStore, error) {
	if slotSize <= slotHeaderSize {
		return nil, fmt.Errorf("%w: slot size %d", ErrSlotTooSmall, slotSize)
	}
	if initialSlots <= 0 {
		initialSlots = defaultInitialSlots
	}
	f, err := mmfile.Open(path, int64(slotSize)*int64(initialSlots))
	if err != nil {
		return nil, fmt.Errorf("swap: open mapped store: %w", err)
	}
	return &MappedStore{
		file:     f,
		tracker:  dirty.NewTracker(f),
		slotSize: slotSize,
		index:    make(map[string]int),
	}, nil
}

// SlotSize returns the size of one slot including its header.
func (s *MappedStore) SlotSize() int { return s.slotSize }

func (s *MappedStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil, ErrClosed
	}
	slot, ok := s.index[key]
	if !ok {
		return nil, ErrNotStored
	}
	data := s.slot(slot)
	n := int(binary.LittleEndian.Uint32(data))
	if n > s.slotSize-slotHeaderSize {
		return nil, fmt.Errorf("swap: slot %d of %q claims %d bytes", slot, key, n)
	}
	return slices.Clone(data[slotHeaderSize : slotHeaderSize+n]), nil
}

func (s *MappedStore) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) > s.slotSize-slotHeaderSize {
		return fmt.Errorf("%w: %d bytes into %d byte slots", ErrSlotTooSmall, len(data), s.slotSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}

	slot, ok := s.index[key]
	if !ok {
		var err error
		if slot, err = s.allocate(); err != nil {
			return err
		}
		s.index[key] = slot
	}

	dst := s.slot(slot)
	binary.LittleEndian.PutUint32(dst, uint32(len(data)))
	copy(dst[slotHeaderSize:], data)
	s.tracker.Add(slot*s.slotSize, slotHeaderSize+len(data))
	return nil
}

func (s *MappedStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	slot, ok := s.index[key]
	if !ok {
		return nil
	}
	delete(s.index, key)
	binary.LittleEndian.PutUint32(s.slot(slot), 0)
	s.tracker.Add(slot*s.slotSize, slotHeaderSize)
	s.free = append(s.free, slot)
	return nil
}

func (s *MappedStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil, ErrClosed
	}
	return slices.Sorted(maps.Keys(s.index)), nil
}

// Sync flushes written slots to disk.
func (s *MappedStore) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	return s.tracker.Flush(ctx)
}

// Close flushes and unmaps the file.
func (s *MappedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := errors.Join(s.tracker.Flush(context.Background()), s.file.Close())
	s.file = nil
	s.index = nil
	return err
}

func (s *MappedStore) slot(i int) []byte {
	off := i * s.slotSize
	return s.file.Bytes()[off : off+s.slotSize]
}

func (s *MappedStore) allocate() (int, error) {
	if n := len(s.free); n > 0 {
		slot := s.free[n-1]
		s.free = s.free[:n-1]
		return slot, nil
	}
	capacity := s.file.Len() / s.slotSize
	if s.next >= capacity {
		if err := s.file.Grow(int64(s.file.Len()) * 2); err != nil {
			return 0, fmt.Errorf("swap: grow mapped store: %w", err)
		}
	}
	slot := s.next
	s.next++
	return slot, nil
}
