package models

import "time"

type QueryStatus string

const (
	QueryStatusOK    QueryStatus = "ok"
	QueryStatusError QueryStatus = "error"
)

// QueryRecord is one executed canonical query.
type QueryRecord struct {
	ID          string
	SourceID    string
	QueryType   string
	QueryURL    string
	QueryJSON   string
	Status      QueryStatus
	DatasetKind string
	ErrorText   string
	LatencyMS   int64
	CreatedAt   time.Time
}
