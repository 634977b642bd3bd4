// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/loykin/swabra/internal/store"
)

// Run exercises s against the store.Store contract. s must be empty and
// have its schema ensured.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	a := s.Storage("A", "causes")
	vals, err := a.Values(ctx)
	if err != nil {
		t.Fatalf("values on empty storage: %v", err)
	}
	if vals != nil {
		t.Fatalf("expected nil values for empty storage, got %v", vals)
	}
	if _, ok, err := a.Get(ctx, "B"); err != nil || ok {
		t.Fatalf("get missing: ok=%v err=%v", ok, err)
	}

	if err := a.Put(ctx, "B", "100"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := a.Put(ctx, "B", "200"); err != nil {
		t.Fatalf("put overwrite: %v", err)
	}
	if err := a.Put(ctx, "C", "300"); err != nil {
		t.Fatalf("put second key: %v", err)
	}
	v, ok, err := a.Get(ctx, "B")
	if err != nil || !ok || v != "200" {
		t.Fatalf("get after upsert: v=%q ok=%v err=%v", v, ok, err)
	}

	// same owner, other storage name, and other owner are isolated
	if err := s.Storage("A", "other").Put(ctx, "X", "1"); err != nil {
		t.Fatalf("put other storage: %v", err)
	}
	if err := s.Storage("Z", "causes").Put(ctx, "Y", "2"); err != nil {
		t.Fatalf("put other owner: %v", err)
	}
	vals, err = a.Values(ctx)
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if len(vals) != 2 || vals["B"] != "200" || vals["C"] != "300" {
		t.Fatalf("unexpected values: %v", vals)
	}

	if err := a.Remove(ctx, "B"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := a.Remove(ctx, "missing"); err != nil {
		t.Fatalf("remove missing key must be a no-op: %v", err)
	}
	vals, err = a.Values(ctx)
	if err != nil {
		t.Fatalf("values after remove: %v", err)
	}
	if len(vals) != 1 || vals["C"] != "300" {
		t.Fatalf("unexpected values after remove: %v", vals)
	}

	if err := s.RemoveOwner(ctx, "A"); err != nil {
		t.Fatalf("remove owner: %v", err)
	}
	if vals, _ := a.Values(ctx); vals != nil {
		t.Fatalf("expected owner storages dropped, got %v", vals)
	}
	if vals, _ := s.Storage("A", "other").Values(ctx); vals != nil {
		t.Fatalf("expected all owner storages dropped, got %v", vals)
	}
	if v, ok, _ := s.Storage("Z", "causes").Get(ctx, "Y"); !ok || v != "2" {
		t.Fatalf("other owner must survive: v=%q ok=%v", v, ok)
	}
}
