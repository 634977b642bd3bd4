package factory

import (
	"path/filepath"
	"testing"

	bo "github.com/loykin/swabra/internal/store/bolt"
	mem "github.com/loykin/swabra/internal/store/memory"
	pg "github.com/loykin/swabra/internal/store/postgres"
	sq "github.com/loykin/swabra/internal/store/sqlite"
)

func TestFactoryDSNSelection(t *testing.T) {
	// Empty DSN -> error
	if _, err := NewFromDSN(""); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	// postgres scheme -> postgres driver object (Close immediately; no connect performed by sql.Open)
	p, err := NewFromDSN("postgres://user@localhost/db")
	if err != nil {
		t.Fatalf("postgres dsn: %v", err)
	}
	if _, ok := p.(*pg.DB); !ok {
		t.Fatalf("expected postgres store, got %T", p)
	}
	_ = p.Close()
	// sqlite scheme
	s1, err := NewFromDSN("sqlite://:memory:")
	if err != nil {
		t.Fatalf("sqlite scheme: %v", err)
	}
	if _, ok := s1.(*sq.DB); !ok {
		t.Fatalf("expected sqlite store, got %T", s1)
	}
	_ = s1.Close()
	// bare path defaults to sqlite
	s2, err := NewFromDSN(":memory:")
	if err != nil {
		t.Fatalf("bare sqlite: %v", err)
	}
	if _, ok := s2.(*sq.DB); !ok {
		t.Fatalf("expected sqlite store, got %T", s2)
	}
	_ = s2.Close()
	// bolt
	b, err := NewFromDSN("bolt://" + filepath.Join(t.TempDir(), "s.bolt"))
	if err != nil {
		t.Fatalf("bolt: %v", err)
	}
	if _, ok := b.(*bo.DB); !ok {
		t.Fatalf("expected bolt store, got %T", b)
	}
	_ = b.Close()
	// memory
	m, err := NewFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := m.(*mem.DB); !ok {
		t.Fatalf("expected memory store, got %T", m)
	}
}
