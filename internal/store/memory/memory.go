package memory

import (
	"context"
	"sync"

	"github.com/loykin/swabra/internal/store"
)

// DB is a non-durable store.Store for tests and single-process embedding.
type DB struct {
	mu   sync.Mutex
	data map[string]map[string]map[string]string // owner -> storage -> key -> value
}

var _ store.Store = (*DB)(nil)

func New() *DB {
	return &DB{data: make(map[string]map[string]map[string]string)}
}

func (d *DB) EnsureSchema(context.Context) error { return nil }
func (d *DB) Close() error                       { return nil }

func (d *DB) Storage(owner, name string) store.Storage {
	return &storage{db: d, owner: owner, name: name}
}

func (d *DB) RemoveOwner(_ context.Context, owner string) error {
	d.mu.Lock()
	delete(d.data, owner)
	d.mu.Unlock()
	return nil
}

type storage struct {
	db    *DB
	owner string
	name  string
}

func (s *storage) Get(_ context.Context, key string) (string, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	v, ok := s.db.data[s.owner][s.name][key]
	return v, ok, nil
}

func (s *storage) Put(_ context.Context, key, value string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	byName, ok := s.db.data[s.owner]
	if !ok {
		byName = make(map[string]map[string]string)
		s.db.data[s.owner] = byName
	}
	kv, ok := byName[s.name]
	if !ok {
		kv = make(map[string]string)
		byName[s.name] = kv
	}
	kv[key] = value
	return nil
}

func (s *storage) Remove(_ context.Context, key string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.data[s.owner][s.name], key)
	return nil
}

func (s *storage) Values(_ context.Context) (map[string]string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	kv := s.db.data[s.owner][s.name]
	if len(kv) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(kv))
	for k, v := range kv {
		out[k] = v
	}
	return out, nil
}
