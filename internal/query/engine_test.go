package query

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/adapter/worldbank"
	"github.com/statchart/backend/internal/cache"
	"github.com/statchart/backend/internal/catalog"
	"github.com/statchart/backend/internal/dataset"
	"github.com/statchart/backend/internal/fetch"
	"github.com/statchart/backend/internal/sharestate"
	"github.com/statchart/backend/internal/source"
	"github.com/statchart/backend/internal/storage/models"
	"github.com/statchart/backend/internal/storage/sqlite"
)

const populationFixture = `[{"page":1,"pages":1,"per_page":20000,"total":2},[
 {"indicator":{"id":"SP.POP.TOTL","value":"Population, total"},"country":{"id":"DE","value":"Germany"},"countryiso3code":"DEU","date":"2021","value":83196078},
 {"indicator":{"id":"SP.POP.TOTL","value":"Population, total"},"country":{"id":"DE","value":"Germany"},"countryiso3code":"DEU","date":"2022","value":83797985}
]]`

func newTestEngine(t *testing.T) (*Engine, *sqlite.Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/country/DEU/indicator/SP.POP.TOTL" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(populationFixture))
	}))
	t.Cleanup(srv.Close)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	rt := adapter.NewRuntime(fetch.NewClient(), cache.New(nil),
		adapter.WithFetchOptions(fetch.Options{Retries: 0, Timeout: fetch.DefaultTimeout}))
	reg := adapter.NewRegistry(worldbank.New(source.WorldBank().WithBaseURL(srv.URL+"/v2"), rt))
	return NewEngine(reg, catalog.MustLoad(), db), db
}

func populationQuery() dataset.Query {
	return dataset.Query{
		Version:   dataset.SchemaVersion,
		SourceID:  source.WorldBankID,
		QueryType: dataset.QueryTimeSeries,
		Entities:  []string{"DEU"},
		Y:         []dataset.Indicator{{ID: "SP.POP.TOTL"}},
		Filters:   dataset.Filters{TimeRange: dataset.TimeRange{Start: "2021", End: "2022"}},
		Render:    dataset.Render{ChartType: dataset.ChartLine},
	}
}

func TestExecuteRecordsHistory(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := engine.Execute(ctx, populationQuery())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ID == "" || res.Dataset.Kind() != dataset.KindTimeSeries {
		t.Errorf("result = %+v", res)
	}
	decoded, err := sharestate.Decode(res.State)
	if err != nil || decoded.SourceID != source.WorldBankID {
		t.Errorf("state = %q (%v)", res.State, err)
	}

	_, err = engine.Execute(ctx, populationQuery().WithEntities("DEU", "FRA"))
	if err == nil {
		t.Fatal("expected 404 for an unrouted path")
	}
	if fe, ok := fetch.AsError(err); !ok || fe.StatusCode != http.StatusNotFound {
		t.Errorf("err = %v", err)
	}

	history, err := engine.History(ctx, source.WorldBankID, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d records, want 2", len(history))
	}
	var ok, failed int
	for _, h := range history {
		switch h.Status {
		case models.QueryStatusOK:
			ok++
			if h.DatasetKind != string(dataset.KindTimeSeries) || h.QueryURL != res.Dataset.Meta().QueryURL || h.QueryURL == "" {
				t.Errorf("ok record = %+v", h)
			}
		case models.QueryStatusError:
			failed++
			if h.ErrorText == "" || !strings.Contains(h.QueryURL, "/country/DEU;FRA/") {
				t.Errorf("error record = %+v", h)
			}
		}
	}
	if ok != 1 || failed != 1 {
		t.Errorf("ok = %d, failed = %d", ok, failed)
	}
}

func TestExecuteUnknownSource(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.Execute(context.Background(), populationQuery().WithSource("imf"))
	if !errors.Is(err, adapter.ErrUnknownSource) {
		t.Errorf("err = %v", err)
	}
}

func TestExecuteShared(t *testing.T) {
	engine, _ := newTestEngine(t)
	token, err := sharestate.Encode(populationQuery())
	if err != nil {
		t.Fatal(err)
	}
	res, err := engine.ExecuteShared(context.Background(), token)
	if err != nil {
		t.Fatalf("ExecuteShared: %v", err)
	}
	if len(res.Dataset.(*dataset.TimeSeries).Series) != 1 {
		t.Error("expected one series")
	}

	if _, err := engine.ExecuteShared(context.Background(), "!!"); !errors.Is(err, sharestate.ErrInvalidState) {
		t.Errorf("err = %v", err)
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	engine := NewEngine(adapter.NewRegistry(), catalog.MustLoad(), nil)
	if _, err := engine.History(context.Background(), "", 10); !errors.Is(err, ErrNoHistory) {
		t.Errorf("err = %v", err)
	}
	if got := engine.Search("gdp", catalog.Filter{SourceID: source.WorldBankID}); len(got) == 0 {
		t.Error("catalog search returned nothing")
	}
}
