package dataset

import (
	"errors"
	"testing"
	"time"
)

func sampleQuery() Query {
	return Query{
		Version:   SchemaVersion,
		SourceID:  "worldbank",
		QueryType: QueryTimeSeries,
		Entities:  []string{"DEU", "FRA"},
		Y:         []Indicator{{ID: "NY.GDP.PCAP.CD", Label: "GDP per capita"}},
		Filters:   Filters{TimeRange: TimeRange{Start: "2020", End: "2022"}},
		Render:    Render{ChartType: ChartLine},
	}
}

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(Query) Query
		wantErr bool
	}{
		{"valid", func(q Query) Query { return q }, false},
		{"no entities", func(q Query) Query { return q.WithEntities() }, true},
		{"no indicators", func(q Query) Query { return q.WithIndicators() }, true},
		{"reversed range", func(q Query) Query { return q.WithTimeRange("2022", "2020") }, true},
		{"equal range", func(q Query) Query { return q.WithTimeRange("2021", "2021") }, false},
		{"bad version", func(q Query) Query { q.Version = 2; return q }, true},
		{"bad query type", func(q Query) Query { return q.WithQueryType("pie") }, true},
		{"bad chart type", func(q Query) Query { return q.WithChartType("radar") }, true},
		{"missing source", func(q Query) Query { return q.WithSource("") }, true},
		{"empty entity id", func(q Query) Query { return q.WithEntities("DEU", "") }, true},
		{"scatter with one indicator", func(q Query) Query { return q.WithQueryType(QueryScatter) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mutate(sampleQuery()).Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("error %v does not match ErrInvalidQuery", err)
			}
		})
	}
}

func TestQueryCopyOnWrite(t *testing.T) {
	q := sampleQuery()
	updated := q.WithEntities("ITA")
	updated.Y[0].Label = "changed"

	if q.Entities[0] != "DEU" || len(q.Entities) != 2 {
		t.Errorf("original entities mutated: %v", q.Entities)
	}
	if q.Y[0].Label != "GDP per capita" {
		t.Errorf("original indicator mutated: %v", q.Y[0])
	}

	clone := q.Clone()
	clone.Entities[0] = "ESP"
	if q.Entities[0] != "DEU" {
		t.Error("Clone shares entity slice with original")
	}
}

func TestTimeRangeContains(t *testing.T) {
	tr := TimeRange{Start: "2020", End: "2022"}
	cases := map[string]bool{
		"2019":       false,
		"2020":       true,
		"2021-06-01": true,
		"2022":       true,
		"2023":       false,
	}
	for in, want := range cases {
		if got := tr.Contains(in); got != want {
			t.Errorf("Contains(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSortPointsCollapsesDuplicates(t *testing.T) {
	points := []Point{
		{T: "2022", V: Float(3)},
		{T: "2020", V: Float(1)},
		{T: "2022", V: Float(4)},
		{T: "2021", V: nil},
	}

	got := SortPoints(points)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(got), got)
	}
	wantT := []string{"2020", "2021", "2022"}
	for i, p := range got {
		if p.T != wantT[i] {
			t.Errorf("point %d T = %s, want %s", i, p.T, wantT[i])
		}
	}
	if got[1].V != nil {
		t.Errorf("null value not preserved")
	}
	if *got[2].V != 4 {
		t.Errorf("duplicate kept %v, want last-seen 4", *got[2].V)
	}
}

func TestRankRows(t *testing.T) {
	rows := []Row{
		{EntityID: "A", Value: Float(1)},
		{EntityID: "B", Value: nil},
		{EntityID: "C", Value: Float(5)},
	}
	RankRows(rows)

	order := rows[0].EntityID + rows[1].EntityID + rows[2].EntityID
	if order != "CAB" {
		t.Errorf("order = %s, want CAB", order)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	prov := Provenance{
		SourceID:    "wikidata",
		SourceName:  "Wikidata",
		QueryURL:    "https://query.wikidata.org/sparql?query=x",
		RetrievedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Attribution: Attribution{Text: "Wikidata", License: "CC0 1.0"},
	}

	inputs := []Dataset{
		&TimeSeries{Provenance: prov, Series: []Series{{EntityID: "Q183", Points: []Point{{T: "2020", V: Float(1)}, {T: "2021"}}}}},
		&CrossSection{Provenance: prov, Indicator: Indicator{ID: "x"}, Time: "2021", Rows: []Row{{EntityID: "Q183"}}},
		&Scatter{Provenance: prov, Time: "2021", X: Axis{ID: "a"}, Y: Axis{ID: "b"}, Points: []ScatterPoint{{EntityID: "DEU", X: Float(2)}}},
	}

	codec := Codec{}
	for _, in := range inputs {
		data, err := codec.Encode(in)
		if err != nil {
			t.Fatalf("Encode(%s): %v", in.Kind(), err)
		}
		out, err := codec.Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s): %v", in.Kind(), err)
		}
		if out.Kind() != in.Kind() {
			t.Errorf("kind = %s, want %s", out.Kind(), in.Kind())
		}
		if !out.Meta().RetrievedAt.Equal(prov.RetrievedAt) || out.Meta().QueryURL != prov.QueryURL {
			t.Errorf("provenance not preserved: %+v", out.Meta())
		}
	}

	ts, _ := codec.Decode(mustEncode(t, inputs[0]))
	points := ts.(*TimeSeries).Series[0].Points
	if points[1].V != nil {
		t.Error("null point value decoded as non-null")
	}
}

func TestUnmarshalUnknownKind(t *testing.T) {
	if _, err := Unmarshal([]byte(`{"kind":"pie"}`)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func mustEncode(t *testing.T, ds Dataset) []byte {
	t.Helper()
	data, err := Marshal(ds)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
