package dataset

import (
	"sort"
	"time"
)

// Kind tags the dataset variant on the wire.
type Kind string

const (
	KindTimeSeries   Kind = "timeseries"
	KindCrossSection Kind = "cross_section"
	KindScatter      Kind = "scatter"
)

// Dataset is the closed set of chart-ready shapes an adapter may return:
// *TimeSeries, *CrossSection or *Scatter. The unexported marker method keeps
// the set closed; consumers handle it through Accept so the compiler checks
// that every variant is covered.
type Dataset interface {
	Kind() Kind
	Meta() Provenance
	Accept(v Visitor) error
	sealed()
}

// Visitor has one method per Dataset variant.
type Visitor interface {
	VisitTimeSeries(ds *TimeSeries) error
	VisitCrossSection(ds *CrossSection) error
	VisitScatter(ds *Scatter) error
}

type Attribution struct {
	Text    string `json:"text"`
	License string `json:"license,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Provenance is filled at normalization time from the source's static
// configuration and the request that was actually sent.
type Provenance struct {
	SourceID    string      `json:"sourceId"`
	SourceName  string      `json:"sourceName"`
	QueryURL    string      `json:"queryUrl"`
	RetrievedAt time.Time   `json:"retrievedAt"`
	Attribution Attribution `json:"attribution"`
}

// Point is one observation. V == nil means the source reported the point
// without a value.
type Point struct {
	T string   `json:"t"`
	V *float64 `json:"v"`
}

type Series struct {
	EntityID       string  `json:"entityId"`
	EntityLabel    string  `json:"entityLabel"`
	IndicatorID    string  `json:"indicatorId"`
	IndicatorLabel string  `json:"indicatorLabel"`
	Unit           string  `json:"unit,omitempty"`
	Points         []Point `json:"points"`
}

type TimeSeries struct {
	Provenance Provenance `json:"provenance"`
	Series     []Series   `json:"series"`
}

type Row struct {
	EntityID    string   `json:"entityId"`
	EntityLabel string   `json:"entityLabel"`
	Value       *float64 `json:"value"`
}

type CrossSection struct {
	Provenance Provenance `json:"provenance"`
	Indicator  Indicator  `json:"indicator"`
	Time       string     `json:"time"`
	Unit       string     `json:"unit,omitempty"`
	Rows       []Row      `json:"rows"`
}

type Axis struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Unit  string `json:"unit,omitempty"`
}

type ScatterPoint struct {
	EntityID    string   `json:"entityId"`
	EntityLabel string   `json:"entityLabel"`
	X           *float64 `json:"x"`
	Y           *float64 `json:"y"`
}

type Scatter struct {
	Provenance Provenance     `json:"provenance"`
	Time       string         `json:"time"`
	X          Axis           `json:"x"`
	Y          Axis           `json:"y"`
	Points     []ScatterPoint `json:"points"`
}

// Entity is an identifier a source understands plus its display label.
type Entity struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (*TimeSeries) Kind() Kind   { return KindTimeSeries }
func (*CrossSection) Kind() Kind { return KindCrossSection }
func (*Scatter) Kind() Kind      { return KindScatter }

func (ds *TimeSeries) Meta() Provenance   { return ds.Provenance }
func (ds *CrossSection) Meta() Provenance { return ds.Provenance }
func (ds *Scatter) Meta() Provenance      { return ds.Provenance }

func (ds *TimeSeries) Accept(v Visitor) error   { return v.VisitTimeSeries(ds) }
func (ds *CrossSection) Accept(v Visitor) error { return v.VisitCrossSection(ds) }
func (ds *Scatter) Accept(v Visitor) error      { return v.VisitScatter(ds) }

func (*TimeSeries) sealed()   {}
func (*CrossSection) sealed() {}
func (*Scatter) sealed()      {}

// Float returns a pointer to v, for building nullable values.
func Float(v float64) *float64 {
	return &v
}

// SortPoints orders points by T and collapses duplicate T values, keeping the
// value observed last in the input.
func SortPoints(points []Point) []Point {
	if len(points) == 0 {
		return []Point{}
	}

	last := make(map[string]int, len(points))
	for i, p := range points {
		last[p.T] = i
	}

	out := make([]Point, 0, len(last))
	for i, p := range points {
		if last[p.T] == i {
			out = append(out, p)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].T < out[j].T })
	return out
}

// RankRows sorts rows by value descending with null values last. Ties keep
// their input order.
func RankRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Value, rows[j].Value
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
}
