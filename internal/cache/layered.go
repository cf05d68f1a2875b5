package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/statchart/backend/internal/metrics"
	"github.com/statchart/backend/pkg/logger"
)

type memEntry struct {
	value     any
	timestamp time.Time
	ttl       time.Duration
}

func (e memEntry) expired(now time.Time) bool {
	return now.After(e.timestamp.Add(e.ttl))
}

// Layered is a two-tier cache: a mutex-guarded in-memory map in front of an
// optional persistent Store. Expiry is checked lazily on read and by
// CleanupExpired; nothing runs in the background.
//
// Persistent-store failures never reach callers. They are logged, counted,
// and the call carries on with the memory tier only.
type Layered struct {
	mu    sync.RWMutex
	mem   map[string]memEntry
	store *LazyStore
	now   func() time.Time
	log   *zap.Logger
}

type Option func(*Layered)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Layered) { c.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Layered) { c.log = l }
}

// New builds a cache. A nil store gives a memory-only cache.
func New(store *LazyStore, opts ...Option) *Layered {
	c := &Layered{
		mem:   make(map[string]memEntry),
		store: store,
		now:   time.Now,
		log:   logger.Named("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Layered) persistent(ctx context.Context, op string) (Store, bool) {
	if c.store == nil {
		return nil, false
	}
	s, err := c.store.Get(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoStore) {
			c.storeFailed(op, "", err)
		}
		return nil, false
	}
	return s, true
}

func (c *Layered) storeFailed(op, key string, err error) {
	metrics.CacheStoreErrors.WithLabelValues(op).Inc()
	c.log.Warn("Persistent cache operation failed",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
}

func (c *Layered) getMemory(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.mem[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if e.expired(c.now()) {
		c.mu.Lock()
		if cur, ok := c.mem[key]; ok && cur.timestamp.Equal(e.timestamp) {
			delete(c.mem, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (c *Layered) setMemory(key string, value any, ts time.Time, ttl time.Duration) {
	c.mu.Lock()
	c.mem[key] = memEntry{value: value, timestamp: ts, ttl: ttl}
	c.mu.Unlock()
}

func (c *Layered) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()

	if s, ok := c.persistent(ctx, "delete"); ok {
		if err := s.Delete(ctx, key); err != nil {
			c.storeFailed("delete", key, err)
		}
	}
}

func (c *Layered) Clear(ctx context.Context) {
	c.mu.Lock()
	c.mem = make(map[string]memEntry)
	c.mu.Unlock()

	if s, ok := c.persistent(ctx, "clear"); ok {
		if err := s.Clear(ctx); err != nil {
			c.storeFailed("clear", "", err)
		}
	}
}

// CleanupExpired removes expired entries from the persistent store and then
// from memory, returning how many were removed in total. It is meant for
// scheduled maintenance, not the request path.
func (c *Layered) CleanupExpired(ctx context.Context) int {
	now := c.now()
	deleted := 0

	if s, ok := c.persistent(ctx, "cleanup"); ok {
		n, err := s.DeleteExpired(ctx, now)
		if err != nil {
			c.storeFailed("cleanup", "", err)
		}
		deleted += n
	}

	c.mu.Lock()
	for key, e := range c.mem {
		if e.expired(now) {
			delete(c.mem, key)
			deleted++
		}
	}
	c.mu.Unlock()

	metrics.CacheExpiredDeleted.Add(float64(deleted))
	c.log.Info("Expired cache entries removed", zap.Int("deleted", deleted))
	return deleted
}

// Len returns the number of entries in the memory tier.
func (c *Layered) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mem)
}

func (c *Layered) Close() error {
	return c.store.Close()
}

// Codec converts cached values to and from their persisted form.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// Typed is a view of a Layered cache for values of type T.
type Typed[T any] struct {
	c     *Layered
	codec Codec[T]
}

func For[T any](c *Layered, codec Codec[T]) *Typed[T] {
	return &Typed[T]{c: c, codec: codec}
}

// Get returns the cached value for key. It never fails: any problem in the
// persistent tier is reported as a miss.
func (t *Typed[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	c := t.c

	if v, ok := c.getMemory(key); ok {
		if typed, ok := v.(T); ok {
			metrics.CacheHits.WithLabelValues("memory").Inc()
			return typed, true
		}
	}

	s, ok := c.persistent(ctx, "get")
	if !ok {
		metrics.CacheMisses.Inc()
		return zero, false
	}

	rec, found, err := s.Get(ctx, key)
	if err != nil {
		c.storeFailed("get", key, err)
		metrics.CacheMisses.Inc()
		return zero, false
	}
	if !found {
		metrics.CacheMisses.Inc()
		return zero, false
	}

	if rec.Expired(c.now()) {
		if err := s.Delete(ctx, key); err != nil {
			c.storeFailed("delete", key, err)
		}
		metrics.CacheMisses.Inc()
		return zero, false
	}

	v, err := t.codec.Decode(rec.Value)
	if err != nil {
		c.storeFailed("decode", key, err)
		if err := s.Delete(ctx, key); err != nil {
			c.storeFailed("delete", key, err)
		}
		metrics.CacheMisses.Inc()
		return zero, false
	}

	c.setMemory(key, v, rec.Timestamp, rec.TTL)
	metrics.CacheHits.WithLabelValues("persistent").Inc()
	return v, true
}

// Set stores value under key for ttl. The memory write always happens; the
// persistent write is best effort.
func (t *Typed[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	c := t.c
	now := c.now()
	c.setMemory(key, value, now, ttl)

	s, ok := c.persistent(ctx, "set")
	if !ok {
		return
	}

	data, err := t.codec.Encode(value)
	if err != nil {
		c.storeFailed("encode", key, err)
		return
	}
	if err := s.Put(ctx, key, Record{Value: data, Timestamp: now, TTL: ttl}); err != nil {
		c.storeFailed("set", key, err)
	}
}

// JSONCodec persists values as JSON.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
