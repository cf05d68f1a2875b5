package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/statchart/backend/internal/cache"
	"github.com/statchart/backend/pkg/logger"
	"github.com/statchart/backend/pkg/retry"
)

const keyPrefix = "statchart:cache:"

// Store is a cache.Store backed by redis. Entries carry both a native key
// expiry and the record TTL, so an entry read past its TTL is still treated
// as expired if redis has not evicted it yet.
type Store struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})
	return newStore(context.Background(), client)
}

// NewFromAddr connects to addr, e.g. one handed out by a test server.
func NewFromAddr(ctx context.Context, addr string) (*Store, error) {
	return newStore(ctx, redis.NewClient(&redis.Options{Addr: addr}))
}

func newStore(ctx context.Context, client *redis.Client) (*Store, error) {
	cfg := retry.DefaultConfig()
	cfg.Logger = logger.Named("redis")
	err := retry.Do(ctx, cfg, func(int) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis cache store initialized", zap.String("addr", client.Options().Addr))
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, key string) (cache.Record, bool, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return cache.Record{}, false, nil
	}
	if err != nil {
		return cache.Record{}, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	rec, err := cache.DecodeRecord(data)
	if err != nil {
		return cache.Record{}, false, err
	}
	return rec, true, nil
}

func (s *Store) Put(ctx context.Context, key string, rec cache.Record) error {
	data, err := cache.EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	expiry := time.Until(rec.ExpiresAt())
	if expiry <= 0 {
		return s.Delete(ctx, key)
	}

	if err := s.client.Set(ctx, keyPrefix+key, data, expiry).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}

	logger.Debug("Cache entry stored", zap.String("key", key), zap.Duration("ttl", rec.TTL))
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Redis cache cleared")
	return nil
}

// DeleteExpired removes records whose own TTL has passed. Redis evicts keys on
// its own schedule as well; this only catches what it has not reached yet.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	deleted := 0
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("failed to read cache entry: %w", err)
		}

		rec, err := cache.DecodeRecord(data)
		if err != nil || rec.Expired(now) {
			if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
				return deleted, fmt.Errorf("failed to delete cache entry: %w", err)
			}
			deleted++
		}
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to iterate cache keys: %w", err)
	}
	return deleted, nil
}
