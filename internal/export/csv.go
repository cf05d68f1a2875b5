// Package export writes normalized datasets as CSV with a provenance
// preamble.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/statchart/backend/internal/dataset"
)

const ContentType = "text/csv; charset=utf-8"

// WriteCSV writes ds to w. Records with a null value are left out.
func WriteCSV(w io.Writer, ds dataset.Dataset) error {
	if err := writePreamble(w, ds.Meta()); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := ds.Accept(&writer{cw: cw}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// Filename suggests an attachment name such as "worldbank-timeseries-20240101.csv".
func Filename(ds dataset.Dataset) string {
	meta := ds.Meta()
	day := meta.RetrievedAt.UTC().Format("20060102")
	return fmt.Sprintf("%s-%s-%s.csv", meta.SourceID, ds.Kind(), day)
}

func writePreamble(w io.Writer, p dataset.Provenance) error {
	lines := []string{
		"Source: " + p.SourceName,
		"Query URL: " + p.QueryURL,
		"Retrieved: " + p.RetrievedAt.UTC().Format(time.RFC3339),
		"Attribution: " + p.Attribution.Text,
		"License: " + p.Attribution.License,
	}
	if p.Attribution.URL != "" {
		lines = append(lines, "License URL: "+p.Attribution.URL)
	}
	for _, l := range lines {
		// Keep each preamble entry on one comment line.
		l = strings.NewReplacer("\r", " ", "\n", " ").Replace(l)
		if _, err := io.WriteString(w, "# "+l+"\n"); err != nil {
			return fmt.Errorf("write preamble: %w", err)
		}
	}
	return nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type writer struct {
	cw *csv.Writer
}

func (x *writer) VisitTimeSeries(ds *dataset.TimeSeries) error {
	if err := x.cw.Write([]string{"entity_id", "entity", "indicator_id", "indicator", "unit", "time", "value"}); err != nil {
		return err
	}
	for _, s := range ds.Series {
		for _, p := range s.Points {
			if p.V == nil {
				continue
			}
			rec := []string{s.EntityID, s.EntityLabel, s.IndicatorID, s.IndicatorLabel, s.Unit, p.T, formatValue(*p.V)}
			if err := x.cw.Write(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *writer) VisitCrossSection(ds *dataset.CrossSection) error {
	if err := x.cw.Write([]string{"entity_id", "entity", "indicator_id", "indicator", "unit", "time", "value"}); err != nil {
		return err
	}
	for _, r := range ds.Rows {
		if r.Value == nil {
			continue
		}
		rec := []string{r.EntityID, r.EntityLabel, ds.Indicator.ID, ds.Indicator.Label, ds.Unit, ds.Time, formatValue(*r.Value)}
		if err := x.cw.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

func (x *writer) VisitScatter(ds *dataset.Scatter) error {
	header := []string{"entity_id", "entity", "time", "x:" + ds.X.ID, "y:" + ds.Y.ID}
	if err := x.cw.Write(header); err != nil {
		return err
	}
	for _, p := range ds.Points {
		if p.X == nil || p.Y == nil {
			continue
		}
		rec := []string{p.EntityID, p.EntityLabel, ds.Time, formatValue(*p.X), formatValue(*p.Y)}
		if err := x.cw.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
