package wikidata

import (
	"strings"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/dataset"
)

func (h *Hooks) Normalize(obs []Observation, q dataset.Query, meta adapter.FetchMeta) (dataset.Dataset, error) {
	prov := h.cfg.Provenance(meta.URL, meta.RetrievedAt)
	ind := q.Y[0]
	prop, _ := LookupProperty(ind.ID)
	label := ind.Label
	if label == "" {
		label = prop.Label
	}
	unit := ind.Unit
	if unit == "" {
		unit = prop.Unit
	}

	points := make(map[string][]dataset.Point)
	labels := make(map[string]string)
	for _, o := range obs {
		if !q.Filters.TimeRange.Contains(o.Year) {
			continue
		}
		points[o.Entity] = append(points[o.Entity], dataset.Point{T: o.Year, V: o.Value})
		if o.Label != "" {
			labels[o.Entity] = o.Label
		}
	}

	var order []string
	seen := make(map[string]bool)
	for _, e := range q.Entities {
		id := strings.ToUpper(e)
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}

	switch q.QueryType {
	case dataset.QueryTimeSeries:
		series := []dataset.Series{}
		for _, id := range order {
			pts, ok := points[id]
			if !ok {
				continue
			}
			series = append(series, dataset.Series{
				EntityID:       id,
				EntityLabel:    labelOr(labels[id], id),
				IndicatorID:    ind.ID,
				IndicatorLabel: label,
				Unit:           unit,
				// Several statements can share a year; the last one wins.
				Points: dataset.SortPoints(pts),
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
		for _, id := range order {
			pts, ok := points[id]
			if !ok {
				continue
			}
			pts = dataset.SortPoints(pts)
			row := dataset.Row{EntityID: id, EntityLabel: labelOr(labels[id], id)}
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

func labelOr(label, fallback string) string {
	if label == "" {
		return fallback
	}
	return label
}
