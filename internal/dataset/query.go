package dataset

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// SchemaVersion is the current canonical query version.
const SchemaVersion = 1

type QueryType string

const (
	QueryTimeSeries   QueryType = "time_series"
	QueryCrossSection QueryType = "cross_section"
	QueryScatter      QueryType = "scatter"
	QueryRanking      QueryType = "ranking"
)

type ChartType string

const (
	ChartLine       ChartType = "line"
	ChartBar        ChartType = "bar"
	ChartScatter    ChartType = "scatter"
	ChartChoropleth ChartType = "choropleth"
	ChartTable      ChartType = "table"
)

// Indicator names one measured variable.
type Indicator struct {
	ID    string `json:"id" yaml:"id" validate:"required"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	Unit  string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// TimeRange is inclusive on both ends. Years are zero-padded four digit
// strings, so lexicographic order equals chronological order.
type TimeRange struct {
	Start string `json:"start" yaml:"start" validate:"required"`
	End   string `json:"end" yaml:"end" validate:"required"`
}

type Filters struct {
	TimeRange TimeRange `json:"timeRange" yaml:"timeRange"`
}

type Render struct {
	ChartType ChartType `json:"chartType" yaml:"chartType" validate:"required,oneof=line bar scatter choropleth table"`
}

// Query is the canonical, source-agnostic chart request. Values are treated
// as immutable once handed to an adapter; the With* methods return updated
// copies and never share slices with the receiver.
type Query struct {
	Version   int         `json:"version" yaml:"version" validate:"eq=1"`
	SourceID  string      `json:"sourceId" yaml:"sourceId" validate:"required"`
	QueryType QueryType   `json:"queryType" yaml:"queryType" validate:"required,oneof=time_series cross_section scatter ranking"`
	Entities  []string    `json:"entities" yaml:"entities" validate:"min=1,dive,required"`
	Y         []Indicator `json:"y" yaml:"y" validate:"min=1,dive"`
	Filters   Filters     `json:"filters" yaml:"filters"`
	Render    Render      `json:"render" yaml:"render"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func queryValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + strings.Join(e.Fields, "; ")
}

var ErrInvalidQuery = errors.New("invalid query")

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidQuery
}

// Validate checks the structural invariants: non-empty entities and
// indicators, known enums, and start <= end.
func (q Query) Validate() error {
	var fields []string

	if err := queryValidator().Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate query: %w", err)
		}
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}

	tr := q.Filters.TimeRange
	if tr.Start != "" && tr.End != "" && tr.Start > tr.End {
		fields = append(fields, fmt.Sprintf("Query.Filters.TimeRange start %q is after end %q", tr.Start, tr.End))
	}
	if q.QueryType == QueryScatter && len(q.Y) < 2 {
		fields = append(fields, "Query.Y scatter needs two indicators")
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Clone returns a deep copy of q.
func (q Query) Clone() Query {
	out := q
	out.Entities = append([]string(nil), q.Entities...)
	out.Y = append([]Indicator(nil), q.Y...)
	return out
}

func (q Query) WithSource(sourceID string) Query {
	out := q.Clone()
	out.SourceID = sourceID
	return out
}

func (q Query) WithQueryType(t QueryType) Query {
	out := q.Clone()
	out.QueryType = t
	return out
}

func (q Query) WithEntities(entities ...string) Query {
	out := q.Clone()
	out.Entities = append([]string(nil), entities...)
	return out
}

func (q Query) WithIndicators(y ...Indicator) Query {
	out := q.Clone()
	out.Y = append([]Indicator(nil), y...)
	return out
}

func (q Query) WithTimeRange(start, end string) Query {
	out := q.Clone()
	out.Filters.TimeRange = TimeRange{Start: start, End: end}
	return out
}

func (q Query) WithChartType(c ChartType) Query {
	out := q.Clone()
	out.Render.ChartType = c
	return out
}

// StartYear and EndYear return the year prefix of the range bounds, which is
// how every source here addresses time.
func (tr TimeRange) StartYear() string { return yearOf(tr.Start) }
func (tr TimeRange) EndYear() string   { return yearOf(tr.End) }

func yearOf(s string) string {
	if len(s) >= 4 {
		return s[:4]
	}
	return s
}

// Contains reports whether t falls within the range, comparing on the
// shorter of the two granularities.
func (tr TimeRange) Contains(t string) bool {
	return cmpPrefix(t, tr.Start) >= 0 && cmpPrefix(t, tr.End) <= 0
}

func cmpPrefix(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return strings.Compare(a[:n], b[:n])
}
