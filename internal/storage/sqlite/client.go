package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/statchart/backend/internal/cache"
	"github.com/statchart/backend/internal/storage/models"
	"github.com/statchart/backend/pkg/logger"
)

// Client owns the local SQLite database: the persistent cache tier and the
// query history. It satisfies cache.Store.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

// Open opens the database and applies the schema.
func Open(dbPath string) (*Client, error) {
	c, err := NewClient(dbPath)
	if err != nil {
		return nil, err
	}
	if err := c.InitSchema(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		ttl_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_expiry ON cache_entries(timestamp_ms, ttl_ms);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		query_type TEXT NOT NULL,
		query_url TEXT,
		query_json TEXT NOT NULL,
		status TEXT NOT NULL,
		dataset_kind TEXT,
		error_text TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_source ON query_history(source_id);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) Get(ctx context.Context, key string) (cache.Record, bool, error) {
	query := `SELECT value, timestamp_ms, ttl_ms FROM cache_entries WHERE key = ?`

	var value []byte
	var ts, ttl int64
	err := c.db.QueryRowContext(ctx, query, key).Scan(&value, &ts, &ttl)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Record{}, false, nil
	}
	if err != nil {
		return cache.Record{}, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	return cache.Record{
		Value:     value,
		Timestamp: time.UnixMilli(ts),
		TTL:       time.Duration(ttl) * time.Millisecond,
	}, true, nil
}

func (c *Client) Put(ctx context.Context, key string, rec cache.Record) error {
	query := `
		INSERT INTO cache_entries (key, value, timestamp_ms, ttl_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			timestamp_ms = excluded.timestamp_ms,
			ttl_ms = excluded.ttl_ms
	`

	_, err := c.db.ExecContext(ctx, query, key, rec.Value, rec.Timestamp.UnixMilli(), rec.TTL.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	logger.Debug("Cache entry stored", zap.String("key", key), zap.Int("bytes", len(rec.Value)))
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (c *Client) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	logger.Info("SQLite cache cleared")
	return nil
}

func (c *Client) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE timestamp_ms + ttl_ms < ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted entries: %w", err)
	}
	return int(n), nil
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	query := `
		INSERT INTO query_history (id, source_id, query_type, query_url, query_json, status,
			dataset_kind, error_text, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx,
		query,
		record.ID,
		record.SourceID,
		record.QueryType,
		record.QueryURL,
		record.QueryJSON,
		string(record.Status),
		record.DatasetKind,
		record.ErrorText,
		record.LatencyMS,
		record.CreatedAt.UnixMilli(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("source", record.SourceID),
		zap.String("status", string(record.Status)),
	)

	return nil
}

// GetQueryHistory returns the most recent records, newest first. An empty
// sourceID returns every source.
func (c *Client) GetQueryHistory(ctx context.Context, sourceID string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, source_id, query_type, query_url, query_json, status, dataset_kind,
			error_text, latency_ms, created_at
		FROM query_history
		WHERE (? = '' OR source_id = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, sourceID, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	records := []models.QueryRecord{}
	for rows.Next() {
		var r models.QueryRecord
		var status string
		var queryURL, kind, errText sql.NullString
		var latency sql.NullInt64
		var createdAt int64

		err := rows.Scan(&r.ID, &r.SourceID, &r.QueryType, &queryURL, &r.QueryJSON, &status,
			&kind, &errText, &latency, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Status = models.QueryStatus(status)
		r.QueryURL = queryURL.String
		r.DatasetKind = kind.String
		r.ErrorText = errText.String
		r.LatencyMS = latency.Int64
		r.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return records, nil
}
