package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/loykin/swabra/internal/store"
)

// DB implements store.Store on an embedded bbolt file. Each owner gets a
// top-level bucket and each storage name a nested bucket inside it.
type DB struct {
	mu     sync.RWMutex
	db     *bbolt.DB
	closed bool
}

var _ store.Store = (*DB)(nil)

func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty bolt path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("ensure bolt dir: %w", err)
	}
	d, err := bbolt.Open(p, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	return &DB{db: d}, nil
}

// EnsureSchema is a no-op; buckets are created on first write.
func (b *DB) EnsureSchema(context.Context) error { return nil }

func (b *DB) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func (b *DB) Storage(owner, name string) store.Storage {
	return &storage{parent: b, owner: []byte(owner), name: []byte(name)}
}

func (b *DB) RemoveOwner(_ context.Context, owner string) error {
	return b.update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(owner))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func (b *DB) view(fn func(tx *bbolt.Tx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return store.ErrClosed
	}
	return b.db.View(fn)
}

func (b *DB) update(fn func(tx *bbolt.Tx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return store.ErrClosed
	}
	return b.db.Update(fn)
}

type storage struct {
	parent *DB
	owner  []byte
	name   []byte
}

func (s *storage) bucket(tx *bbolt.Tx) *bbolt.Bucket {
	ob := tx.Bucket(s.owner)
	if ob == nil {
		return nil
	}
	return ob.Bucket(s.name)
}

func (s *storage) Get(_ context.Context, key string) (string, bool, error) {
	var (
		out   string
		found bool
	)
	err := s.parent.view(func(tx *bbolt.Tx) error {
		b := s.bucket(tx)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			out, found = string(v), true
		}
		return nil
	})
	return out, found, err
}

func (s *storage) Put(_ context.Context, key, value string) error {
	return s.parent.update(func(tx *bbolt.Tx) error {
		ob, err := tx.CreateBucketIfNotExists(s.owner)
		if err != nil {
			return err
		}
		b, err := ob.CreateBucketIfNotExists(s.name)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *storage) Remove(_ context.Context, key string) error {
	return s.parent.update(func(tx *bbolt.Tx) error {
		b := s.bucket(tx)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *storage) Values(_ context.Context) (map[string]string, error) {
	var out map[string]string
	err := s.parent.view(func(tx *bbolt.Tx) error {
		b := s.bucket(tx)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if v == nil {
				return nil
			}
			if out == nil {
				out = make(map[string]string)
			}
			out[string(k)] = string(v)
			return nil
		})
	})
	return out, err
}
