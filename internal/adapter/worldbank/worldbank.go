// Package worldbank adapts the World Bank Indicators API (v2), a paginated
// JSON REST API keyed by ISO3 country codes.
package worldbank

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/dataset"
	"github.com/statchart/backend/internal/source"
)

// PageSize is large enough that every supported query fits in one page.
const PageSize = 20000

var entityPattern = regexp.MustCompile(`^[A-Za-z0-9]{2,3}$`)

type Hooks struct {
	cfg source.Config
}

func NewHooks(cfg source.Config) *Hooks {
	return &Hooks{cfg: cfg}
}

// New returns the World Bank adapter.
func New(cfg source.Config, rt *adapter.Runtime) adapter.Source {
	return adapter.New[*Response](NewHooks(cfg), rt)
}

func (h *Hooks) Config() source.Config {
	return h.cfg
}

func (h *Hooks) BuildURL(q dataset.Query) (string, error) {
	entities := make([]string, len(q.Entities))
	for i, e := range q.Entities {
		if !entityPattern.MatchString(e) {
			return "", &adapter.MappingError{Source: h.cfg.ID, Value: e, Err: adapter.ErrUnknownEntity}
		}
		entities[i] = strings.ToUpper(e)
	}

	var indicators []dataset.Indicator
	switch q.QueryType {
	case dataset.QueryTimeSeries:
		indicators = q.Y
	case dataset.QueryCrossSection, dataset.QueryRanking:
		indicators = q.Y[:1]
	case dataset.QueryScatter:
		if len(q.Y) < 2 {
			return "", fmt.Errorf("%w: scatter needs two indicators", dataset.ErrInvalidQuery)
		}
		indicators = q.Y[:2]
	default:
		return "", fmt.Errorf("%w: %s", adapter.ErrUnsupportedQueryType, q.QueryType)
	}

	ids := make([]string, len(indicators))
	for i, ind := range indicators {
		if strings.ContainsAny(ind.ID, ";/?# ") {
			return "", &adapter.MappingError{Source: h.cfg.ID, Value: ind.ID, Err: adapter.ErrUnknownIndicator}
		}
		ids[i] = url.PathEscape(ind.ID)
	}

	u := fmt.Sprintf("%s/country/%s/indicator/%s?format=json&per_page=%d&date=%s:%s",
		strings.TrimRight(h.cfg.BaseURL, "/"),
		strings.Join(entities, ";"),
		strings.Join(ids, ";"),
		PageSize,
		q.Filters.TimeRange.StartYear(),
		q.Filters.TimeRange.EndYear(),
	)
	// Multi-indicator requests must name the source database.
	if len(ids) > 1 {
		u += "&source=2"
	}
	return u, nil
}

type Paging struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	Total   int `json:"total"`
	PerPage any `json:"per_page"`
}

type ref struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type Row struct {
	Indicator       ref      `json:"indicator"`
	Country         ref      `json:"country"`
	CountryISO3Code string   `json:"countryiso3code"`
	Date            string   `json:"date"`
	Value           *float64 `json:"value"`
	Unit            string   `json:"unit"`
}

// EntityID prefers the ISO3 code and falls back to the generic country id.
func (r Row) EntityID() string {
	if r.CountryISO3Code != "" {
		return r.CountryISO3Code
	}
	return r.Country.ID
}

type Response struct {
	Paging Paging `json:"paging"`
	Rows   []Row  `json:"rows"`
}

type apiMessage struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

var errShape = errors.New("expected a [paging, rows] array")

// decodeEnvelope splits the [paging, rows] pair every v2 endpoint returns,
// turning the [{"message": [...]}] error document into an error.
func decodeEnvelope(body []byte) (json.RawMessage, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errShape, err)
	}
	if len(parts) == 0 {
		return nil, nil, errShape
	}

	var head struct {
		Message []apiMessage `json:"message"`
	}
	if err := json.Unmarshal(parts[0], &head); err == nil && len(head.Message) > 0 {
		m := head.Message[0]
		return nil, nil, fmt.Errorf("upstream error %s: %s %s", m.ID, m.Key, m.Value)
	}
	if len(parts) < 2 {
		return nil, nil, errShape
	}
	return parts[0], parts[1], nil
}

func (h *Hooks) ParseResponse(body []byte) (*Response, error) {
	head, rows, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}

	resp := &Response{}
	if err := json.Unmarshal(head, &resp.Paging); err != nil {
		return nil, fmt.Errorf("decode paging: %w", err)
	}
	// "null" rows means no data for the query.
	if err := json.Unmarshal(rows, &resp.Rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return resp, nil
}
