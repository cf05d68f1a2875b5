// Package adapter turns canonical queries into requests against the upstream
// statistics APIs and their responses back into canonical datasets.
//
// Each source contributes only its Hooks: URL building, response parsing and
// normalization. The orchestration around them (validation, cache lookup,
// fetching, cache write) is shared and fixed.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/statchart/backend/internal/catalog"
	"github.com/statchart/backend/internal/dataset"
	"github.com/statchart/backend/internal/source"
)

var (
	ErrCapabilityNotSupported = errors.New("capability not supported for this source")
	ErrUnknownIndicator       = errors.New("unknown indicator")
	ErrUnknownEntity          = errors.New("unrecognized entity identifier")
	ErrUnsupportedQueryType   = errors.New("query type not supported by this source")
	ErrSourceMismatch         = errors.New("query addressed to a different source")
	ErrUnknownSource          = errors.New("unknown source")
)

const (
	CapabilitySearchIndicators = "searchIndicators"
	CapabilityEntities         = "getEntities"
)

type CapabilityError struct {
	Source     string
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: %s not supported for source %q", ErrCapabilityNotSupported, e.Capability, e.Source)
}

func (e *CapabilityError) Is(target error) bool {
	return target == ErrCapabilityNotSupported
}

// MappingError reports a query value the source has no representation for.
// It unwraps to ErrUnknownIndicator or ErrUnknownEntity.
type MappingError struct {
	Source string
	Value  string
	Err    error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s: %v %q", e.Source, e.Err, e.Value)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// ParseError means the upstream answered successfully but with a body whose
// shape was not recognized.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s response: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func unsupportedQueryType(sourceID string, qt dataset.QueryType) error {
	return fmt.Errorf("%w: %s cannot serve %s", ErrUnsupportedQueryType, sourceID, qt)
}

// FetchMeta describes the request a response came from.
type FetchMeta struct {
	URL         string
	RetrievedAt time.Time
}

// Hooks are the per-source parts of query execution. R is the source's
// intermediate representation of a parsed response. BuildURL must be
// deterministic and fail before any I/O when the query cannot be expressed.
// Normalize must return an empty dataset, not an error, when no data came
// back.
type Hooks[R any] interface {
	Config() source.Config
	BuildURL(q dataset.Query) (string, error)
	ParseResponse(body []byte) (R, error)
	Normalize(raw R, q dataset.Query, meta FetchMeta) (dataset.Dataset, error)
}

// Accepter is implemented by hooks whose upstream does not speak JSON.
type Accepter interface {
	Accept() string
}

type IndicatorSearcher interface {
	SearchIndicators(ctx context.Context, rt *Runtime, term string) ([]catalog.Entry, error)
}

type EntityLister interface {
	Entities(ctx context.Context, rt *Runtime) ([]dataset.Entity, error)
}

// Source is a ready-to-use adapter for one upstream.
type Source interface {
	Config() source.Config
	BuildURL(q dataset.Query) (string, error)
	Execute(ctx context.Context, q dataset.Query) (dataset.Dataset, error)
	SearchIndicators(ctx context.Context, term string) ([]catalog.Entry, error)
	Entities(ctx context.Context) ([]dataset.Entity, error)
	// Capabilities lists the optional operations the source supports.
	Capabilities() []string
}
