package eurostat

import (
	"strings"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/dataset"
	"github.com/statchart/backend/internal/jsonstat"
)

type selection struct {
	cube    *jsonstat.Cube
	filters map[string]string
	tr      dataset.TimeRange
}

func newSelection(cube *jsonstat.Cube, q dataset.Query) selection {
	s := selection{cube: cube, filters: map[string]string{}, tr: q.Filters.TimeRange}
	// Filters were validated when the URL was built.
	if _, filters, err := ParseIndicator(q.Y[0].ID); err == nil {
		for _, f := range filters {
			if _, ok := cube.Dimension(f.Dim); ok {
				s.filters[f.Dim] = f.Code
			}
		}
	}
	return s
}

func (s selection) value(geo, t string) *float64 {
	coords := make(map[string]string, len(s.filters)+2)
	for k, v := range s.filters {
		coords[k] = v
	}
	coords[geoDim] = geo
	coords[timeDim] = t
	return s.cube.Value(coords)
}

// times lists the cube's time categories inside the requested range.
func (s selection) times() []string {
	d, _ := s.cube.Dimension(timeDim)
	var out []string
	for _, t := range d.Codes() {
		if s.tr.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

// geos resolves requested entities against the geo dimension, in request
// order. Entities the cube does not know are dropped.
func (s selection) geos(q dataset.Query) []string {
	d, _ := s.cube.Dimension(geoDim)
	seen := make(map[string]bool)
	var out []string
	for _, e := range q.Entities {
		code := strings.ToUpper(e)
		if _, ok := d.Index[code]; ok && !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}

func (s selection) geoLabel(code string) string {
	d, _ := s.cube.Dimension(geoDim)
	return d.CategoryLabel(code)
}

// unit is the label of the selected (or only) unit category, if the cube has
// a unit dimension.
func (s selection) unit() string {
	d, ok := s.cube.Dimension("unit")
	if !ok {
		return ""
	}
	if code, ok := s.filters["unit"]; ok {
		return d.CategoryLabel(code)
	}
	codes := d.Codes()
	if len(codes) == 0 {
		return ""
	}
	return d.CategoryLabel(codes[0])
}

func (h *Hooks) Normalize(cube *jsonstat.Cube, q dataset.Query, meta adapter.FetchMeta) (dataset.Dataset, error) {
	prov := h.cfg.Provenance(meta.URL, meta.RetrievedAt)
	sel := newSelection(cube, q)

	ind := q.Y[0]
	label := ind.Label
	if label == "" {
		label = cube.Label
	}
	if label == "" {
		label = ind.ID
	}
	unit := ind.Unit
	if unit == "" {
		unit = sel.unit()
	}

	switch q.QueryType {
	case dataset.QueryTimeSeries:
		series := []dataset.Series{}
		times := sel.times()
		for _, geo := range sel.geos(q) {
			points := make([]dataset.Point, 0, len(times))
			for _, t := range times {
				points = append(points, dataset.Point{T: t, V: sel.value(geo, t)})
			}
			series = append(series, dataset.Series{
				EntityID:       geo,
				EntityLabel:    sel.geoLabel(geo),
				IndicatorID:    ind.ID,
				IndicatorLabel: label,
				Unit:           unit,
				Points:         dataset.SortPoints(points),
			})
		}
		return &dataset.TimeSeries{Provenance: prov, Series: series}, nil

	case dataset.QueryCrossSection, dataset.QueryRanking:
		cs := &dataset.CrossSection{
			Provenance: prov,
			Indicator:  dataset.Indicator{ID: ind.ID, Label: label, Unit: unit},
			Unit:       unit,
			Rows:       []dataset.Row{},
		}
		times := sel.times()
		for _, geo := range sel.geos(q) {
			row := dataset.Row{EntityID: geo, EntityLabel: sel.geoLabel(geo)}
			// Latest period with a value.
			for i := len(times) - 1; i >= 0; i-- {
				if v := sel.value(geo, times[i]); v != nil {
					row.Value = v
					if times[i] > cs.Time {
						cs.Time = times[i]
					}
					break
				}
			}
			cs.Rows = append(cs.Rows, row)
		}
		if q.QueryType == dataset.QueryRanking {
			dataset.RankRows(cs.Rows)
		}
		return cs, nil

	default:
		return nil, adapter.ErrUnsupportedQueryType
	}
}
