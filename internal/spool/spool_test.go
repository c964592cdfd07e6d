package spool

import (
	"context"
	"path/filepath"
	"testing"
)

func TestAppendNextDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "spool.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	for i, kind := range []string{"event", "metric", "state"} {
		it := Item{SessionID: "s1", Kind: kind, Payload: []byte{byte(i)}}
		if err := s.Append(ctx, it); err != nil {
			t.Fatalf("append %s: %v", kind, err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v; want 3", n, err)
	}

	items, err := s.Next(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("next returned %d items, want 3", len(items))
	}
	// FIFO: insertion order preserved.
	if items[0].Kind != "event" || items[2].Kind != "state" {
		t.Fatalf("order not preserved: %q ... %q", items[0].Kind, items[2].Kind)
	}

	if err := s.Delete(ctx, items[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Fatalf("count after delete = %d, want 2", n)
	}
}

func TestNextHonorsLimit(t *testing.T) {
	ctx := context.Background()
	s, err := Open("")
	if err != nil {
		t.Fatalf("open in-memory: %v", err)
	}
	defer func() { _ = s.Close() }()

	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, Item{SessionID: "s", Kind: "event", Payload: []byte("x")}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	items, err := s.Next(ctx, "s", 2)
	if err != nil || len(items) != 2 {
		t.Fatalf("next limit: got %d items, %v; want 2", len(items), err)
	}
}

func TestNextReturnsOnlyOwnSessionItems(t *testing.T) {
	ctx := context.Background()
	s, err := Open("")
	if err != nil {
		t.Fatalf("open in-memory: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.Append(ctx, Item{SessionID: "a", Kind: "event", Payload: []byte("from_a")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, Item{SessionID: "b", Kind: "event", Payload: []byte("from_b")}); err != nil {
		t.Fatalf("append: %v", err)
	}

	items, err := s.Next(ctx, "a", 10)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(items) != 1 || items[0].SessionID != "a" {
		t.Fatalf("next(a) = %+v, want only session a's item", items)
	}
	if items, _ := s.Next(ctx, "nobody", 10); len(items) != 0 {
		t.Fatalf("next for unknown session returned %d items, want 0", len(items))
	}
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "spool.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Append(ctx, Item{SessionID: "s", Kind: "event", Payload: []byte("p")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()
	if n, _ := s2.Count(ctx); n != 1 {
		t.Fatalf("count after reopen = %d, want 1", n)
	}
}
