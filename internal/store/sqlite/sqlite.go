package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/swabra/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

var _ store.Store = (*DB)(nil)

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// an in-memory database lives per connection
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS custom_data(
			owner TEXT NOT NULL,
			storage TEXT NOT NULL,
			data_key TEXT NOT NULL,
			data_value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY(owner, storage, data_key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_custom_data_owner ON custom_data(owner, storage);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Storage(owner, name string) store.Storage {
	return &storage{db: s.db, owner: owner, name: name}
}

func (s *DB) RemoveOwner(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM custom_data WHERE owner=?;`, owner)
	return err
}

type storage struct {
	db    *sql.DB
	owner string
	name  string
}

func (s *storage) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `
		SELECT data_value FROM custom_data
		WHERE owner=? AND storage=? AND data_key=?;`, s.owner, s.name, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *storage) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO custom_data(owner, storage, data_key, data_value, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(owner, storage, data_key) DO UPDATE SET
			data_value=excluded.data_value,
			updated_at=excluded.updated_at;`,
		s.owner, s.name, key, value, time.Now().UTC())
	return err
}

func (s *storage) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM custom_data WHERE owner=? AND storage=? AND data_key=?;`,
		s.owner, s.name, key)
	return err
}

func (s *storage) Values(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_key, data_value FROM custom_data
		WHERE owner=? AND storage=?;`, s.owner, s.name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out map[string]string
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out, rows.Err()
}
