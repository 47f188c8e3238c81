package swap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
)

var pagesBucket = []byte("pages")

// BoltStore is a Store backed by one bucket of a bbolt database.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("swap: open bolt store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pagesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("swap: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Path returns the database file.
func (s *BoltStore) Path() string { return s.db.Path() }

func (s *BoltStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.view(func(b *bbolt.Bucket) error {
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotStored
		}
		// Values are only valid for the life of the transaction.
		out = slices.Clone(v)
		return nil
	})
	return out, err
}

func (s *BoltStore) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(b *bbolt.Bucket) error {
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(b *bbolt.Bucket) error {
		return b.Delete([]byte(key))
	})
}

func (s *BoltStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := s.view(func(b *bbolt.Bucket) error {
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) view(fn func(*bbolt.Bucket) error) error {
	err := s.db.View(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(pagesBucket))
	})
	return boltErr(err)
}

func (s *BoltStore) update(fn func(*bbolt.Bucket) error) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(pagesBucket))
	})
	return boltErr(err)
}

func boltErr(err error) error {
	if errors.Is(err, bolterrors.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}
