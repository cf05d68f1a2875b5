package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/statchart/backend/pkg/utils"
)

// Record is one persisted cache entry. It is expired once now is past
// Timestamp + TTL.
type Record struct {
	Value     []byte
	Timestamp time.Time
	TTL       time.Duration
}

func (r Record) ExpiresAt() time.Time {
	return r.Timestamp.Add(r.TTL)
}

func (r Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt())
}

// Store is the durable tier. Implementations report their own failures; the
// Layered cache absorbs them.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, rec Record) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// DeleteExpired scans every entry and removes those expired at now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// Key derives the cache key of a resolved request. Identical (source, URL)
// pairs always map to the same key. Qualifiers separate values derived from
// the same response, e.g. two dataset shapes normalized from one URL.
func Key(sourceID, resolvedURL string, qualifiers ...string) string {
	return utils.HashParts(append([]string{sourceID, resolvedURL}, qualifiers...)...)
}

type envelope struct {
	Value     []byte `json:"v"`
	Timestamp int64  `json:"ts"`
	TTL       int64  `json:"ttl"`
}

// EncodeRecord serializes a record for key-value backends that store a single
// blob per key.
func EncodeRecord(rec Record) ([]byte, error) {
	return json.Marshal(envelope{
		Value:     rec.Value,
		Timestamp: rec.Timestamp.UnixMilli(),
		TTL:       rec.TTL.Milliseconds(),
	})
}

func DecodeRecord(data []byte) (Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Record{}, fmt.Errorf("decode cache record: %w", err)
	}
	return Record{
		Value:     env.Value,
		Timestamp: time.UnixMilli(env.Timestamp),
		TTL:       time.Duration(env.TTL) * time.Millisecond,
	}, nil
}

// Opener opens the persistent store.
type Opener func(ctx context.Context) (Store, error)

var ErrNoStore = errors.New("no persistent cache store configured")

// LazyStore opens its Store on first use and then hands the same handle to
// every caller. Concurrent first uses wait for a single open. A failed open
// is attempted again on the next call.
type LazyStore struct {
	open Opener

	mu     sync.Mutex
	store  Store
	opens  int
	closed bool
}

func NewLazyStore(open Opener) *LazyStore {
	return &LazyStore{open: open}
}

func (l *LazyStore) Get(ctx context.Context) (Store, error) {
	if l == nil || l.open == nil {
		return nil, ErrNoStore
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, errors.New("persistent cache store closed")
	}
	if l.store != nil {
		return l.store, nil
	}

	l.opens++
	s, err := l.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open persistent cache store: %w", err)
	}
	l.store = s
	return s, nil
}

// Opens reports how many times the opener has been invoked.
func (l *LazyStore) Opens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens
}

func (l *LazyStore) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}
