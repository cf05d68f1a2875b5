package wikidata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/cache"
	"github.com/statchart/backend/internal/dataset"
	"github.com/statchart/backend/internal/fetch"
	"github.com/statchart/backend/internal/source"
)

// Q183 reports 2021 twice; the later binding must win. The last binding has a
// non-entity item and is skipped.
const populationFixture = `{
 "head": {"vars": ["item", "itemLabel", "value", "time"]},
 "results": {"bindings": [
  {"item": {"type": "uri", "value": "http://www.wikidata.org/entity/Q183"}, "itemLabel": {"type": "literal", "value": "Germany"},
   "value": {"type": "literal", "datatype": "http://www.w3.org/2001/XMLSchema#decimal", "value": "83155031"}, "time": {"type": "literal", "value": "2020-12-31T00:00:00Z"}},
  {"item": {"type": "uri", "value": "http://www.wikidata.org/entity/Q183"}, "itemLabel": {"type": "literal", "value": "Germany"},
   "value": {"type": "literal", "value": "83129285"}, "time": {"type": "literal", "value": "2021-06-30T00:00:00Z"}},
  {"item": {"type": "uri", "value": "http://www.wikidata.org/entity/Q183"}, "itemLabel": {"type": "literal", "value": "Germany"},
   "value": {"type": "literal", "value": "83237124"}, "time": {"type": "literal", "value": "2021-12-31T00:00:00Z"}},
  {"item": {"type": "uri", "value": "http://www.wikidata.org/entity/Q142"}, "itemLabel": {"type": "literal", "value": "France"},
   "value": {"type": "literal", "value": "67750000"}, "time": {"type": "literal", "value": "2021-01-01T00:00:00Z"}},
  {"item": {"type": "bnode", "value": "t123"}, "value": {"type": "literal", "value": "1"}, "time": {"type": "literal", "value": "2021-01-01T00:00:00Z"}}
 ]}
}`

func populationQuery() dataset.Query {
	return dataset.Query{
		Version:   dataset.SchemaVersion,
		SourceID:  source.WikidataID,
		QueryType: dataset.QueryTimeSeries,
		Entities:  []string{"Q183", "q142"},
		Y:         []dataset.Indicator{{ID: "wikidata:population"}},
		Filters:   dataset.Filters{TimeRange: dataset.TimeRange{Start: "2020", End: "2022"}},
		Render:    dataset.Render{ChartType: dataset.ChartLine},
	}
}

func testHooks() *Hooks {
	return NewHooks(source.Wikidata().WithBaseURL("https://wd.test/sparql"))
}

func TestBuildURL(t *testing.T) {
	h := testHooks()

	got, err := h.BuildURL(populationQuery())
	if err != nil {
		t.Fatalf("BuildURL: %v", err)
	}
	if again, _ := h.BuildURL(populationQuery()); again != got {
		t.Error("BuildURL is not deterministic")
	}

	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Get("format") != "json" {
		t.Errorf("format = %q", u.Query().Get("format"))
	}
	sparql := u.Query().Get("query")
	for _, want := range []string{"VALUES ?item { wd:Q183 wd:Q142 }", "p:P1082", "ps:P1082", "pq:P585", "YEAR(?time) >= 2020", "YEAR(?time) <= 2022"} {
		if !strings.Contains(sparql, want) {
			t.Errorf("query missing %q:\n%s", want, sparql)
		}
	}

	tests := []struct {
		name string
		q    dataset.Query
		want error
	}{
		{"unknown indicator", populationQuery().WithIndicators(dataset.Indicator{ID: "unknown:thing"}), adapter.ErrUnknownIndicator},
		{"label instead of id", populationQuery().WithEntities("Germany"), adapter.ErrUnknownEntity},
		{"scatter", populationQuery().WithQueryType(dataset.QueryScatter), adapter.ErrUnsupportedQueryType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.BuildURL(tt.q); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNormalizeDedupesByYear(t *testing.T) {
	h := testHooks()
	obs, err := h.ParseResponse([]byte(populationFixture))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(obs) != 4 {
		t.Fatalf("observations = %d, want 4", len(obs))
	}

	ds, err := h.Normalize(obs, populationQuery(), adapter.FetchMeta{URL: "u"})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	ts := ds.(*dataset.TimeSeries)
	if len(ts.Series) != 2 {
		t.Fatalf("series = %d, want 2", len(ts.Series))
	}

	de := ts.Series[0]
	if de.EntityID != "Q183" || de.EntityLabel != "Germany" || de.Unit != "people" || de.IndicatorLabel != "Population" {
		t.Errorf("Q183 series = %+v", de)
	}
	if len(de.Points) != 2 {
		t.Fatalf("Q183 points = %+v", de.Points)
	}
	if de.Points[1].T != "2021" || *de.Points[1].V != 83237124 {
		t.Errorf("Q183 2021 = %+v, want last-seen 83237124", de.Points[1])
	}
	if ts.Series[1].EntityID != "Q142" {
		t.Errorf("second series = %s", ts.Series[1].EntityID)
	}
}

func TestNormalizeRanking(t *testing.T) {
	h := testHooks()
	obs, err := h.ParseResponse([]byte(populationFixture))
	if err != nil {
		t.Fatal(err)
	}
	q := populationQuery().WithQueryType(dataset.QueryRanking).WithEntities("Q142", "Q183")
	ds, err := h.Normalize(obs, q, adapter.FetchMeta{})
	if err != nil {
		t.Fatal(err)
	}
	cs := ds.(*dataset.CrossSection)
	if cs.Time != "2021" || cs.Rows[0].EntityID != "Q183" || cs.Rows[1].EntityID != "Q142" {
		t.Errorf("ranking = %+v", cs)
	}
}

func TestParseResponseRequiresEnvelope(t *testing.T) {
	h := testHooks()
	for name, body := range map[string]string{
		"no head":     `{"results":{"bindings":[]}}`,
		"no bindings": `{"head":{"vars":[]},"results":{}}`,
		"not json":    `<html>`,
	} {
		if _, err := h.ParseResponse([]byte(body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	obs, err := h.ParseResponse([]byte(`{"head":{"vars":[]},"results":{"bindings":[]}}`))
	if err != nil || len(obs) != 0 {
		t.Errorf("empty bindings: %v, %v", obs, err)
	}
}

func TestSearchIndicatorsUsesStaticTable(t *testing.T) {
	h := testHooks()
	found, err := h.SearchIndicators(context.Background(), nil, "gdp")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Fatalf("found = %+v", found)
	}
	for _, e := range found {
		if e.SourceID != source.WikidataID || !strings.HasPrefix(e.IndicatorID, "wikidata:gdp") {
			t.Errorf("entry = %+v", e)
		}
	}
}

func TestExecuteAgainstServer(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Accept") != sparqlResults {
			http.Error(w, "bad accept", http.StatusNotAcceptable)
			return
		}
		q := r.URL.Query().Get("query")
		if strings.Contains(q, "Q3624078") {
			_, _ = w.Write([]byte(`{"head":{"vars":["item","itemLabel"]},"results":{"bindings":[
			 {"item":{"type":"uri","value":"http://www.wikidata.org/entity/Q142"},"itemLabel":{"type":"literal","value":"France"}},
			 {"item":{"type":"uri","value":"http://www.wikidata.org/entity/Q183"},"itemLabel":{"type":"literal","value":"Germany"}}]}}`))
			return
		}
		_, _ = w.Write([]byte(populationFixture))
	}))
	defer srv.Close()

	rt := adapter.NewRuntime(fetch.NewClient(), cache.New(nil))
	src := New(source.Wikidata().WithBaseURL(srv.URL), rt)
	ctx := context.Background()

	_, err := src.Execute(ctx, populationQuery().WithIndicators(dataset.Indicator{ID: "unknown:thing"}))
	if !errors.Is(err, adapter.ErrUnknownIndicator) {
		t.Errorf("unknown indicator: err = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("unknown indicator reached upstream, fetches = %d", got)
	}

	if _, err := src.Execute(ctx, populationQuery()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	entities, err := src.Entities(ctx)
	if err != nil {
		t.Fatalf("Entities: %v", err)
	}
	if len(entities) != 2 || entities[1].ID != "Q183" {
		t.Errorf("entities = %+v", entities)
	}
	if _, err := src.Entities(ctx); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
}
