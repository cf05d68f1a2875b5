package badgerstore

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/statchart/backend/internal/cache"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetCompressed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	value := bytes.Repeat([]byte(`{"t":"2020","v":1.5},`), 500)
	rec := cache.Record{Value: value, Timestamp: time.Now(), TTL: time.Hour}
	if err := s.Put(ctx, "k", rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if !bytes.Equal(got.Value, value) {
		t.Error("value changed through compression")
	}

	if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
		t.Errorf("missing key = %v, %v", ok, err)
	}
}

func TestDeleteExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.Put(ctx, "short", cache.Record{Value: []byte("1"), Timestamp: now, TTL: time.Minute})
	_ = s.Put(ctx, "long", cache.Record{Value: []byte("2"), Timestamp: now, TTL: time.Hour})

	n, err := s.DeleteExpired(ctx, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if _, ok, _ := s.Get(ctx, "short"); ok {
		t.Error("expired entry still present")
	}
	if _, ok, _ := s.Get(ctx, "long"); !ok {
		t.Error("live entry removed")
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_ = s.Put(ctx, k, cache.Record{Value: []byte(k), Timestamp: time.Now(), TTL: time.Hour})
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Error("deleted entry still present")
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"b", "c"} {
		if _, ok, _ := s.Get(ctx, k); ok {
			t.Errorf("%s survived Clear", k)
		}
	}
}
