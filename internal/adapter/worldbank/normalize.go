package worldbank

import (
	"strings"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/dataset"
)

func (h *Hooks) Normalize(resp *Response, q dataset.Query, meta adapter.FetchMeta) (dataset.Dataset, error) {
	prov := h.cfg.Provenance(meta.URL, meta.RetrievedAt)
	rows := resp.Rows

	switch q.QueryType {
	case dataset.QueryTimeSeries:
		return timeSeries(rows, q, prov), nil
	case dataset.QueryCrossSection:
		return crossSection(rows, q, prov), nil
	case dataset.QueryRanking:
		cs := crossSection(rows, q, prov)
		dataset.RankRows(cs.Rows)
		return cs, nil
	case dataset.QueryScatter:
		return scatter(rows, q, prov), nil
	default:
		return nil, adapter.ErrUnsupportedQueryType
	}
}

// entityOrder lists entity ids in request order, followed by any the
// response added (aggregates expand, for example).
func entityOrder(rows []Row, q dataset.Query, requested map[string]bool) []string {
	seen := make(map[string]bool)
	var order []string
	for _, e := range q.Entities {
		id := strings.ToUpper(e)
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	for _, r := range rows {
		id := entityKey(r, requested)
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	return order
}

// entityKey is the id a row is reported under: the generic country id when
// that is what was requested (ISO2 requests), else the ISO3 code.
func entityKey(r Row, requested map[string]bool) string {
	if requested[r.Country.ID] && !requested[r.CountryISO3Code] {
		return r.Country.ID
	}
	return r.EntityID()
}

func requestedSet(q dataset.Query) map[string]bool {
	set := make(map[string]bool, len(q.Entities))
	for _, e := range q.Entities {
		set[strings.ToUpper(e)] = true
	}
	return set
}

func indicatorMeta(q dataset.Query, id string, rows []Row) (label, unit string) {
	for _, y := range q.Y {
		if y.ID == id {
			label, unit = y.Label, y.Unit
		}
	}
	for _, r := range rows {
		if r.Indicator.ID != id {
			continue
		}
		if label == "" {
			label = r.Indicator.Value
		}
		if unit == "" {
			unit = r.Unit
		}
		break
	}
	if label == "" {
		label = id
	}
	return label, unit
}

func timeSeries(rows []Row, q dataset.Query, prov dataset.Provenance) *dataset.TimeSeries {
	requested := requestedSet(q)

	type seriesKey struct{ entity, indicator string }
	points := make(map[seriesKey][]dataset.Point)
	labels := make(map[string]string)
	for _, r := range rows {
		e := entityKey(r, requested)
		k := seriesKey{e, r.Indicator.ID}
		points[k] = append(points[k], dataset.Point{T: r.Date, V: r.Value})
		if labels[e] == "" {
			labels[e] = r.Country.Value
		}
	}

	series := []dataset.Series{}
	for _, e := range entityOrder(rows, q, requested) {
		for _, y := range q.Y {
			pts, ok := points[seriesKey{e, y.ID}]
			if !ok {
				continue
			}
			label, unit := indicatorMeta(q, y.ID, rows)
			series = append(series, dataset.Series{
				EntityID:       e,
				EntityLabel:    labelOr(labels[e], e),
				IndicatorID:    y.ID,
				IndicatorLabel: label,
				Unit:           unit,
				Points:         dataset.SortPoints(pts),
			})
		}
	}
	return &dataset.TimeSeries{Provenance: prov, Series: series}
}

// latest picks, per entity, the row with the lexicographically greatest date
// for indicator. A null value on that date is kept, not skipped in favour of
// an earlier year.
func latest(rows []Row, indicator string, requested map[string]bool) map[string]Row {
	out := make(map[string]Row)
	for _, r := range rows {
		if r.Indicator.ID != indicator {
			continue
		}
		e := entityKey(r, requested)
		if cur, ok := out[e]; !ok || r.Date >= cur.Date {
			out[e] = r
		}
	}
	return out
}

func crossSection(rows []Row, q dataset.Query, prov dataset.Provenance) *dataset.CrossSection {
	ind := q.Y[0]
	requested := requestedSet(q)
	picked := latest(rows, ind.ID, requested)
	label, unit := indicatorMeta(q, ind.ID, rows)

	cs := &dataset.CrossSection{
		Provenance: prov,
		Indicator:  dataset.Indicator{ID: ind.ID, Label: label, Unit: unit},
		Unit:       unit,
		Rows:       []dataset.Row{},
	}
	for _, e := range entityOrder(rows, q, requested) {
		r, ok := picked[e]
		if !ok {
			continue
		}
		if r.Date > cs.Time {
			cs.Time = r.Date
		}
		cs.Rows = append(cs.Rows, dataset.Row{
			EntityID:    e,
			EntityLabel: labelOr(r.Country.Value, e),
			Value:       r.Value,
		})
	}
	return cs
}

// scatterPair holds both indicators' observations for one entity and date.
type scatterPair struct {
	x, y *Row
}

func (p scatterPair) complete() bool {
	return p.x != nil && p.x.Value != nil && p.y != nil && p.y.Value != nil
}

// scatter pairs x and y from the same date per entity: the latest date where
// both are non-null, else the latest date with any observation.
func scatter(rows []Row, q dataset.Query, prov dataset.Provenance) *dataset.Scatter {
	requested := requestedSet(q)
	xInd, yInd := q.Y[0], q.Y[1]

	byEntity := make(map[string]map[string]*scatterPair)
	for i := range rows {
		r := &rows[i]
		if r.Indicator.ID != xInd.ID && r.Indicator.ID != yInd.ID {
			continue
		}
		e := entityKey(*r, requested)
		if byEntity[e] == nil {
			byEntity[e] = make(map[string]*scatterPair)
		}
		p := byEntity[e][r.Date]
		if p == nil {
			p = &scatterPair{}
			byEntity[e][r.Date] = p
		}
		if r.Indicator.ID == xInd.ID {
			p.x = r
		}
		if r.Indicator.ID == yInd.ID {
			p.y = r
		}
	}

	xLabel, xUnit := indicatorMeta(q, xInd.ID, rows)
	yLabel, yUnit := indicatorMeta(q, yInd.ID, rows)

	sc := &dataset.Scatter{
		Provenance: prov,
		X:          dataset.Axis{ID: xInd.ID, Label: xLabel, Unit: xUnit},
		Y:          dataset.Axis{ID: yInd.ID, Label: yLabel, Unit: yUnit},
		Points:     []dataset.ScatterPoint{},
	}
	for _, e := range entityOrder(rows, q, requested) {
		dates := byEntity[e]
		if len(dates) == 0 {
			continue
		}
		var best, newest string
		for d, p := range dates {
			if d > newest {
				newest = d
			}
			if p.complete() && d > best {
				best = d
			}
		}
		if best == "" {
			best = newest
		}

		pair := dates[best]
		pt := dataset.ScatterPoint{EntityID: e, EntityLabel: e}
		if pair.x != nil {
			pt.X = pair.x.Value
			pt.EntityLabel = labelOr(pair.x.Country.Value, e)
		}
		if pair.y != nil {
			pt.Y = pair.y.Value
			pt.EntityLabel = labelOr(pair.y.Country.Value, pt.EntityLabel)
		}
		if best > sc.Time {
			sc.Time = best
		}
		sc.Points = append(sc.Points, pt)
	}
	return sc
}

func labelOr(label, fallback string) string {
	if label == "" {
		return fallback
	}
	return label
}
