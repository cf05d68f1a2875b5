package owid

import (
	"strconv"
	"strings"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/dataset"
)

// matcher resolves CSV rows to requested entity ids. Keys are upper-cased so
// codes and names match regardless of case.
type matcher struct {
	requested []string
	byKey     map[string]string
}

func (h *Hooks) newMatcher(entities []string) matcher {
	m := matcher{byKey: make(map[string]string, len(entities))}
	for _, e := range entities {
		id, err := h.entityID(e)
		if err != nil {
			continue
		}
		key := strings.ToUpper(id)
		if _, ok := m.byKey[key]; ok {
			continue
		}
		m.byKey[key] = id
		m.requested = append(m.requested, id)
	}
	return m
}

// match tries the code as-is, then upper-cased, then the upper-cased name.
func (m matcher) match(code, name string) (string, bool) {
	for _, k := range []string{code, strings.ToUpper(code), strings.ToUpper(strings.TrimSpace(name))} {
		if k == "" {
			continue
		}
		if id, ok := m.byKey[k]; ok {
			return id, true
		}
	}
	return "", false
}

func parseValue(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func (h *Hooks) Normalize(t *Table, q dataset.Query, meta adapter.FetchMeta) (dataset.Dataset, error) {
	prov := h.cfg.Provenance(meta.URL, meta.RetrievedAt)
	ind := q.Y[0]
	label := ind.Label
	if label == "" {
		label = ind.ID
	}

	m := h.newMatcher(q.Entities)
	valueCol := t.valueColumn(ind.ID)

	points := make(map[string][]dataset.Point)
	labels := make(map[string]string)
	for _, row := range t.Rows {
		code := ""
		if t.code >= 0 && t.code < len(row) {
			code = row[t.code]
		}
		id, ok := m.match(code, row[t.entity])
		if !ok {
			continue
		}
		ts := strings.TrimSpace(row[t.time])
		if !q.Filters.TimeRange.Contains(ts) {
			continue
		}
		var v *float64
		if valueCol >= 0 && valueCol < len(row) {
			v = parseValue(row[valueCol])
		}
		points[id] = append(points[id], dataset.Point{T: ts, V: v})
		if labels[id] == "" {
			labels[id] = row[t.entity]
		}
	}

	switch q.QueryType {
	case dataset.QueryTimeSeries:
		series := []dataset.Series{}
		for _, id := range m.requested {
			pts, ok := points[id]
			if !ok {
				continue
			}
			series = append(series, dataset.Series{
				EntityID:       id,
				EntityLabel:    labels[id],
				IndicatorID:    ind.ID,
				IndicatorLabel: label,
				Unit:           ind.Unit,
				Points:         dataset.SortPoints(pts),
			})
		}
		return &dataset.TimeSeries{Provenance: prov, Series: series}, nil

	case dataset.QueryCrossSection, dataset.QueryRanking:
		cs := &dataset.CrossSection{
			Provenance: prov,
			Indicator:  dataset.Indicator{ID: ind.ID, Label: label, Unit: ind.Unit},
			Unit:       ind.Unit,
			Rows:       []dataset.Row{},
		}
		for _, id := range m.requested {
			pts, ok := points[id]
			if !ok {
				continue
			}
			pts = dataset.SortPoints(pts)
			row := dataset.Row{EntityID: id, EntityLabel: labels[id]}
			for i := len(pts) - 1; i >= 0; i-- {
				if pts[i].V != nil {
					row.Value = pts[i].V
					if pts[i].T > cs.Time {
						cs.Time = pts[i].T
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
