package store

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("store is closed")

// Storage is a durable string key/value map owned by one entity (a build
// configuration) and identified by a storage name inside that owner.
// Every mutation is atomic per key; callers add no locking of their own.
//
// Values returns nil when the storage holds nothing.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Values(ctx context.Context) (map[string]string, error)
}

// Store hands out per-owner storages backed by one database.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Storage(owner, name string) Storage
	// RemoveOwner drops every storage of owner, e.g. when a build
	// configuration is deleted.
	RemoveOwner(ctx context.Context, owner string) error
	Close() error
}
