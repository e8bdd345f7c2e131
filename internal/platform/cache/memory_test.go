package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Set(ctx, "all_patients", []byte(`[]`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := s.Get(ctx, "all_patients")
	if err != nil || !ok || string(got) != "[]" {
		t.Fatalf("expected hit with [], got %q ok=%v err=%v", got, ok, err)
	}

	if err := s.Delete(ctx, "all_patients", "missing"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "all_patients"); ok {
		t.Error("expected miss after delete")
	}
}

func TestMemoryStore_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, "k", []byte("v"), time.Second)
	now = now.Add(2 * time.Second)

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expected expired entry to miss")
	}
	if s.Len() != 0 {
		t.Errorf("expected expired entry to be removed, len=%d", s.Len())
	}
}

func TestMemoryStore_EvictExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, "short", []byte("1"), time.Second)
	_ = s.Set(ctx, "long", []byte("2"), time.Hour)
	now = now.Add(time.Minute)
	s.evictExpired()

	if s.Len() != 1 {
		t.Fatalf("expected 1 entry after eviction, got %d", s.Len())
	}
	if _, ok, _ := s.Get(ctx, "long"); !ok {
		t.Error("expected long-lived entry to survive")
	}
}

func TestMemoryStore_CopiesValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	buf := []byte("abc")
	_ = s.Set(ctx, "k", buf, time.Minute)
	buf[0] = 'x'

	got, _, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value was aliased: %q", got)
	}
}
