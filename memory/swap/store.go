package swap

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
)

var (
	ErrNotStored    = errors.New("swap: page not in store")
	ErrUnknownPage  = errors.New("swap: page not managed by this swap system")
	ErrSlotTooSmall = errors.New("swap: encoded page exceeds slot size")
	ErrClosed       = errors.New("swap: store is closed")
)

// Store persists encoded pages by key.
//
// Load of a key that was never saved, or was deleted, fails with
// ErrNotStored. Implementations are safe for concurrent use.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu     sync.RWMutex
	pages  map[string][]byte
	closed bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pages: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	data, ok := s.pages[key]
	if !ok {
		return nil, ErrNotStored
	}
	return slices.Clone(data), nil
}

func (s *MemoryStore) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pages[key] = slices.Clone(data)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.pages, key)
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return slices.Sorted(maps.Keys(s.pages)), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pages = nil
	return nil
}
