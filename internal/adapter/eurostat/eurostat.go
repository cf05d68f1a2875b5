// Package eurostat adapts the Eurostat dissemination API, which answers with
// JSON-stat cubes addressed by dataset code and dimension filters.
//
// An indicator id is a dataset code optionally followed by fixed dimension
// filters in query-string form, e.g. "nama_10_pc?unit=CP_EUR_HAB&na_item=B1GQ".
package eurostat

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/dataset"
	"github.com/statchart/backend/internal/jsonstat"
	"github.com/statchart/backend/internal/source"
)

const (
	geoDim  = "geo"
	timeDim = "time"
)

var (
	datasetPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	geoPattern     = regexp.MustCompile(`^[A-Za-z0-9_]{2,12}$`)
)

type Hooks struct {
	cfg source.Config
}

func NewHooks(cfg source.Config) *Hooks {
	return &Hooks{cfg: cfg}
}

func New(cfg source.Config, rt *adapter.Runtime) adapter.Source {
	return adapter.New[*jsonstat.Cube](NewHooks(cfg), rt)
}

func (h *Hooks) Config() source.Config {
	return h.cfg
}

// Filter is one fixed dimension selection carried by an indicator id.
type Filter struct {
	Dim  string
	Code string
}

// ParseIndicator splits an indicator id into its dataset code and filters,
// sorted by dimension then code.
func ParseIndicator(id string) (string, []Filter, error) {
	code, rawQuery, _ := strings.Cut(id, "?")
	if !datasetPattern.MatchString(code) {
		return "", nil, fmt.Errorf("invalid dataset code %q", code)
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", nil, fmt.Errorf("invalid dimension filters %q: %w", rawQuery, err)
	}

	var filters []Filter
	for dim, codes := range values {
		if dim == geoDim || dim == timeDim {
			return "", nil, fmt.Errorf("dimension %q is set by the query, not the indicator", dim)
		}
		for _, c := range codes {
			filters = append(filters, Filter{Dim: dim, Code: c})
		}
	}
	sort.Slice(filters, func(i, j int) bool {
		if filters[i].Dim != filters[j].Dim {
			return filters[i].Dim < filters[j].Dim
		}
		return filters[i].Code < filters[j].Code
	})
	return code, filters, nil
}

func years(tr dataset.TimeRange) ([]string, error) {
	start, err := strconv.Atoi(tr.StartYear())
	if err != nil {
		return nil, fmt.Errorf("%w: start %q is not a year", dataset.ErrInvalidQuery, tr.Start)
	}
	end, err := strconv.Atoi(tr.EndYear())
	if err != nil {
		return nil, fmt.Errorf("%w: end %q is not a year", dataset.ErrInvalidQuery, tr.End)
	}
	out := make([]string, 0, end-start+1)
	for y := start; y <= end; y++ {
		out = append(out, fmt.Sprintf("%04d", y))
	}
	return out, nil
}

func (h *Hooks) BuildURL(q dataset.Query) (string, error) {
	if q.QueryType == dataset.QueryScatter {
		return "", fmt.Errorf("%w: %s cannot serve %s", adapter.ErrUnsupportedQueryType, h.cfg.ID, q.QueryType)
	}

	code, filters, err := ParseIndicator(q.Y[0].ID)
	if err != nil {
		return "", &adapter.MappingError{Source: h.cfg.ID, Value: q.Y[0].ID, Err: fmt.Errorf("%w: %v", adapter.ErrUnknownIndicator, err)}
	}

	ys, err := years(q.Filters.TimeRange)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(h.cfg.BaseURL, "/"))
	b.WriteString("/")
	b.WriteString(code)
	b.WriteString("?format=JSON&lang=EN")

	for _, e := range q.Entities {
		if !geoPattern.MatchString(e) {
			return "", &adapter.MappingError{Source: h.cfg.ID, Value: e, Err: adapter.ErrUnknownEntity}
		}
		b.WriteString("&geo=" + strings.ToUpper(e))
	}
	for _, y := range ys {
		b.WriteString("&time=" + y)
	}
	for _, f := range filters {
		b.WriteString("&" + url.QueryEscape(f.Dim) + "=" + url.QueryEscape(f.Code))
	}
	return b.String(), nil
}

func (h *Hooks) ParseResponse(body []byte) (*jsonstat.Cube, error) {
	cube, err := jsonstat.Decode(body)
	if err != nil {
		return nil, err
	}
	if _, ok := cube.Dimension(geoDim); !ok {
		return nil, fmt.Errorf("%w: no %q dimension", jsonstat.ErrMalformed, geoDim)
	}
	if _, ok := cube.Dimension(timeDim); !ok {
		return nil, fmt.Errorf("%w: no %q dimension", jsonstat.ErrMalformed, timeDim)
	}
	return cube, nil
}
