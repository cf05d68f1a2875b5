package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/statchart/backend/internal/cache"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewFromAddr(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("NewFromAddr: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStorePutGet(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	rec := cache.Record{Value: []byte(`{"kind":"timeseries"}`), Timestamp: time.Now(), TTL: time.Hour}
	if err := s.Put(ctx, "abc", rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if string(got.Value) != string(rec.Value) || got.TTL != time.Hour {
		t.Errorf("record = %+v", got)
	}

	if ttl := mr.TTL(keyPrefix + "abc"); ttl <= 0 || ttl > time.Hour {
		t.Errorf("native ttl = %s", ttl)
	}

	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Error("missing key reported as present")
	}
}

func TestStoreNativeExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "k", cache.Record{Value: []byte("1"), Timestamp: time.Now(), TTL: time.Minute}); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("entry should have been evicted by redis")
	}
}

func TestStoreDeleteExpiredAndClear(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.Put(ctx, "short", cache.Record{Value: []byte("1"), Timestamp: now, TTL: time.Minute})
	_ = s.Put(ctx, "long", cache.Record{Value: []byte("2"), Timestamp: now, TTL: time.Hour})

	n, err := s.DeleteExpired(ctx, now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if _, ok, _ := s.Get(ctx, "long"); !ok {
		t.Error("long-lived entry removed")
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "long"); ok {
		t.Error("Clear left entries behind")
	}
}

func TestStoreBehindLayeredCache(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	lazy := cache.NewLazyStore(func(context.Context) (cache.Store, error) { return s, nil })
	writer := cache.New(lazy)
	cache.For[[]int](writer, cache.JSONCodec[[]int]{}).Set(ctx, "k", []int{1, 2, 3}, time.Hour)

	reader := cache.New(cache.NewLazyStore(func(context.Context) (cache.Store, error) { return s, nil }))
	got, ok := cache.For[[]int](reader, cache.JSONCodec[[]int]{}).Get(ctx, "k")
	if !ok || len(got) != 3 {
		t.Fatalf("Get = %v, %v", got, ok)
	}
}
