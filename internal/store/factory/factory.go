package factory

import (
	"errors"
	"strings"

	"github.com/loykin/swabra/internal/store"
	bo "github.com/loykin/swabra/internal/store/bolt"
	mem "github.com/loykin/swabra/internal/store/memory"
	pg "github.com/loykin/swabra/internal/store/postgres"
	sq "github.com/loykin/swabra/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite://<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - bolt: "bolt://<path>" or "bbolt://<path>"
//   - memory: "memory://"
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "memory://") {
		return mem.New(), nil
	}
	for _, p := range []string{"bolt://", "bbolt://"} {
		if strings.HasPrefix(ld, p) {
			return bo.New(d[len(p):])
		}
	}
	if strings.HasPrefix(ld, "sqlite://") {
		path := d[len("sqlite://"):]
		return sq.New(path)
	}
	// default to sqlite path
	return sq.New(d)
}
