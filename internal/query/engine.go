package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/catalog"
	"github.com/statchart/backend/internal/dataset"
	"github.com/statchart/backend/internal/fetch"
	"github.com/statchart/backend/internal/metrics"
	"github.com/statchart/backend/internal/sharestate"
	"github.com/statchart/backend/internal/storage/models"
	"github.com/statchart/backend/pkg/logger"
)

// History records executed queries. *sqlite.Client implements it.
type History interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
	GetQueryHistory(ctx context.Context, sourceID string, limit int) ([]models.QueryRecord, error)
}

// ErrNoHistory is returned by Engine.History when no store is configured.
var ErrNoHistory = errors.New("query history is not configured")

type Engine struct {
	registry *adapter.Registry
	catalog  *catalog.Catalog
	history  History
	now      func() time.Time
}

type Result struct {
	ID        string          `json:"id"`
	Query     dataset.Query   `json:"query"`
	Dataset   dataset.Dataset `json:"-"`
	State     string          `json:"state"`
	LatencyMS int64           `json:"latencyMs"`
}

// NewEngine wires the registry and catalog together. history may be nil.
func NewEngine(registry *adapter.Registry, cat *catalog.Catalog, history History) *Engine {
	return &Engine{
		registry: registry,
		catalog:  cat,
		history:  history,
		now:      time.Now,
	}
}

func (e *Engine) Registry() *adapter.Registry {
	return e.registry
}

func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Execute runs q against its source and records the outcome.
func (e *Engine) Execute(ctx context.Context, q dataset.Query) (*Result, error) {
	startTime := e.now()
	queryID := uuid.New().String()

	logger.Debug("Executing query",
		zap.String("query_id", queryID),
		zap.String("source", q.SourceID),
		zap.String("query_type", string(q.QueryType)),
		zap.Strings("entities", q.Entities),
	)

	src, err := e.registry.Get(q.SourceID)
	if err != nil {
		return nil, err
	}

	ds, err := src.Execute(ctx, q)
	latency := e.now().Sub(startTime)

	metrics.ExecuteDuration.WithLabelValues(q.SourceID, string(q.QueryType)).Observe(latency.Seconds())
	record := &models.QueryRecord{
		ID:        queryID,
		SourceID:  q.SourceID,
		QueryType: string(q.QueryType),
		QueryJSON: queryJSON(q),
		LatencyMS: latency.Milliseconds(),
		CreatedAt: startTime,
	}

	if err != nil {
		metrics.ExecuteTotal.WithLabelValues(q.SourceID, "error").Inc()
		record.Status = models.QueryStatusError
		record.ErrorText = err.Error()
		if fe, ok := fetch.AsError(err); ok {
			record.QueryURL = fe.URL
		}
		e.record(ctx, record)

		logger.Warn("Query failed",
			zap.String("query_id", queryID),
			zap.String("source", q.SourceID),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.ExecuteTotal.WithLabelValues(q.SourceID, "ok").Inc()
	record.Status = models.QueryStatusOK
	record.DatasetKind = string(ds.Kind())
	record.QueryURL = ds.Meta().QueryURL
	e.record(ctx, record)

	state, err := sharestate.Encode(q)
	if err != nil {
		logger.Warn("Failed to encode share state", zap.String("query_id", queryID), zap.Error(err))
	}

	logger.Info("Query executed",
		zap.String("query_id", queryID),
		zap.String("source", q.SourceID),
		zap.String("kind", string(ds.Kind())),
		zap.Int64("latency_ms", record.LatencyMS),
	)

	return &Result{
		ID:        queryID,
		Query:     q,
		Dataset:   ds,
		State:     state,
		LatencyMS: record.LatencyMS,
	}, nil
}

// ExecuteShared decodes a share-state token and executes the query it holds.
func (e *Engine) ExecuteShared(ctx context.Context, token string) (*Result, error) {
	q, err := sharestate.Decode(token)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, q)
}

// Search filters the curated catalog.
func (e *Engine) Search(term string, f catalog.Filter) []catalog.Entry {
	return e.catalog.Search(term, f)
}

func (e *Engine) History(ctx context.Context, sourceID string, limit int) ([]models.QueryRecord, error) {
	if e.history == nil {
		return nil, ErrNoHistory
	}
	return e.history.GetQueryHistory(ctx, sourceID, limit)
}

// record is best effort; a failing history store never fails the query.
func (e *Engine) record(ctx context.Context, r *models.QueryRecord) {
	if e.history == nil {
		return
	}
	if err := e.history.InsertQueryRecord(context.WithoutCancel(ctx), r); err != nil {
		logger.Warn("Failed to record query", zap.String("query_id", r.ID), zap.Error(err))
	}
}

func queryJSON(q dataset.Query) string {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Sprintf("%+v", q)
	}
	return string(data)
}
