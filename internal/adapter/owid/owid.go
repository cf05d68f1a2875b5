// Package owid adapts Our World in Data grapher charts, which are served as
// CSV exports addressed by chart slug.
package owid

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/dataset"
	"github.com/statchart/backend/internal/source"
)

const (
	colEntity = "Entity"
	colCode   = "Code"
	colYear   = "Year"
	colDay    = "Day"
)

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	// ISO3 codes and OWID's own region codes such as OWID_WRL.
	codePattern = regexp.MustCompile(`^(?i:[a-z]{3}|owid_[a-z0-9_]+)$`)

	ErrMissingColumn = errors.New("csv: required column missing")
)

type Hooks struct {
	cfg source.Config
}

func NewHooks(cfg source.Config) *Hooks {
	return &Hooks{cfg: cfg}
}

func New(cfg source.Config, rt *adapter.Runtime) adapter.Source {
	return adapter.New[*Table](NewHooks(cfg), rt)
}

func (h *Hooks) Config() source.Config {
	return h.cfg
}

func (h *Hooks) Accept() string {
	return "text/csv"
}

func (h *Hooks) BuildURL(q dataset.Query) (string, error) {
	switch q.QueryType {
	case dataset.QueryTimeSeries, dataset.QueryCrossSection, dataset.QueryRanking:
	default:
		return "", fmt.Errorf("%w: %s cannot serve %s", adapter.ErrUnsupportedQueryType, h.cfg.ID, q.QueryType)
	}

	slug := q.Y[0].ID
	if !slugPattern.MatchString(slug) {
		return "", &adapter.MappingError{Source: h.cfg.ID, Value: slug, Err: adapter.ErrUnknownIndicator}
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(h.cfg.BaseURL, "/"))
	b.WriteString("/" + slug + ".csv?csvType=filtered&useColumnShortNames=true")
	fmt.Fprintf(&b, "&time=%s..%s", q.Filters.TimeRange.StartYear(), q.Filters.TimeRange.EndYear())

	b.WriteString("&country=")
	for _, e := range q.Entities {
		id, err := h.entityID(e)
		if err != nil {
			return "", err
		}
		b.WriteString("~" + url.QueryEscape(id))
	}
	return b.String(), nil
}

// entityID canonicalizes a requested entity. Codes are upper-cased; anything
// else is an entity name and keeps its spelling, since the export filters
// names as written.
func (h *Hooks) entityID(e string) (string, error) {
	e = strings.TrimSpace(e)
	if codePattern.MatchString(e) {
		return strings.ToUpper(e), nil
	}
	if e == "" || strings.ContainsRune(e, '~') || strings.IndexFunc(e, unicode.IsControl) >= 0 {
		return "", &adapter.MappingError{Source: h.cfg.ID, Value: e, Err: adapter.ErrUnknownEntity}
	}
	return e, nil
}

// Table is a grapher CSV export with its key columns located.
type Table struct {
	Header []string
	Rows   [][]string

	entity, code, time int
}

func (t *Table) column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

func (t *Table) isKey(i int) bool {
	return i == t.entity || i == t.code || i == t.time
}

// valueColumn picks the column named after the slug's short name, falling
// back to the first column that is not a key.
func (t *Table) valueColumn(slug string) int {
	short := strings.ReplaceAll(slug, "-", "_")
	for i, h := range t.Header {
		if !t.isKey(i) && (h == short || h == slug) {
			return i
		}
	}
	for i := range t.Header {
		if !t.isKey(i) {
			return i
		}
	}
	return -1
}

func (h *Hooks) ParseResponse(body []byte) (*Table, error) {
	body = bytes.TrimPrefix(body, []byte("\ufeff"))
	r := csv.NewReader(bytes.NewReader(body))

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrMissingColumn)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	t := &Table{Header: header}
	t.entity = t.column(colEntity)
	t.code = t.column(colCode)
	t.time = t.column(colYear)
	if t.time < 0 {
		t.time = t.column(colDay)
	}
	if t.entity < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, colEntity)
	}
	if t.time < 0 {
		return nil, fmt.Errorf("%w: %s or %s", ErrMissingColumn, colYear, colDay)
	}

	t.Rows, err = r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv rows: %w", err)
	}
	return t, nil
}
