package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/statchart/backend/internal/cache"
	"github.com/statchart/backend/pkg/logger"
)

const keyPrefix = "cache:"

// Store is a cache.Store on an embedded BadgerDB. Record envelopes are zstd
// compressed; large World Bank and OWID payloads shrink considerably.
type Store struct {
	db      *badger.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open opens (or creates) the database under path. level maps 1..4 onto zstd
// speed presets; anything else uses the default.
func Open(path string, level int) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	logger.Info("Badger cache store initialized", zap.String("path", path), zap.Int("compression_level", level))
	return &Store{db: db, encoder: encoder, decoder: decoder}, nil
}

func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

func (s *Store) encode(rec cache.Record) ([]byte, error) {
	data, err := cache.EncodeRecord(rec)
	if err != nil {
		return nil, err
	}
	return s.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (s *Store) decode(data []byte) (cache.Record, error) {
	raw, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return cache.Record{}, fmt.Errorf("decompression failed: %w", err)
	}
	return cache.DecodeRecord(raw)
}

func (s *Store) Get(_ context.Context, key string) (cache.Record, bool, error) {
	var rec cache.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = s.decode(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return cache.Record{}, false, nil
	}
	if err != nil {
		return cache.Record{}, false, fmt.Errorf("get cache entry: %w", err)
	}
	return rec, true, nil
}

func (s *Store) Put(_ context.Context, key string, rec cache.Record) error {
	data, err := s.encode(rec)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	ttl := time.Until(rec.ExpiresAt())
	if ttl <= 0 {
		return s.Delete(context.Background(), key)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+key), data).WithTTL(ttl)
		if err := txn.SetEntry(e); err != nil {
			return fmt.Errorf("set cache entry: %w", err)
		}
		return nil
	})
}

func (s *Store) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
}

func (s *Store) Clear(context.Context) error {
	if err := s.db.DropPrefix([]byte(keyPrefix)); err != nil {
		return fmt.Errorf("drop cache entries: %w", err)
	}
	logger.Info("Badger cache cleared")
	return nil
}

// DeleteExpired removes records past their own TTL. Badger hides entries
// whose native TTL elapsed, so only clock skew between the two is caught here.
func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	var expired [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rec, err := s.decode(val)
				if err != nil || rec.Expired(now) {
					expired = append(expired, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan cache entries: %w", err)
	}

	if len(expired) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range expired {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("delete cache entry: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush deletes: %w", err)
	}
	return len(expired), nil
}
