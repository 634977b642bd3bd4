package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/swabra/internal/store"
)

type DB struct {
	db *sql.DB
}

var _ store.Store = (*DB)(nil)

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS custom_data(
			owner TEXT NOT NULL,
			storage TEXT NOT NULL,
			data_key TEXT NOT NULL,
			data_value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY(owner, storage, data_key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_custom_data_owner ON custom_data(owner, storage);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Storage(owner, name string) store.Storage {
	return &storage{db: p.db, owner: owner, name: name}
}

func (p *DB) RemoveOwner(ctx context.Context, owner string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM custom_data WHERE owner=$1;`, owner)
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
		WHERE owner=$1 AND storage=$2 AND data_key=$3;`, s.owner, s.name, key).Scan(&v)
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
		VALUES($1,$2,$3,$4,$5)
		ON CONFLICT(owner, storage, data_key) DO UPDATE SET
			data_value=EXCLUDED.data_value,
			updated_at=EXCLUDED.updated_at;`,
		s.owner, s.name, key, value, time.Now().UTC())
	return err
}

func (s *storage) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM custom_data WHERE owner=$1 AND storage=$2 AND data_key=$3;`,
		s.owner, s.name, key)
	return err
}

func (s *storage) Values(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_key, data_value FROM custom_data
		WHERE owner=$1 AND storage=$2;`, s.owner, s.name)
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
