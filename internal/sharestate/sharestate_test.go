package sharestate

import (
	"encoding/base64"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/statchart/backend/internal/dataset"
)

func sampleQuery() dataset.Query {
	return dataset.Query{
		Version:   dataset.SchemaVersion,
		SourceID:  "eurostat",
		QueryType: dataset.QueryTimeSeries,
		Entities:  []string{"DE", "FR", "a+b/c=d"},
		Y: []dataset.Indicator{{
			ID:    "nama_10_pc?unit=CP_EUR_HAB&na_item=B1GQ",
			Label: "PIB/habitant — €, ±? \"quoted\" <tag> 日本",
		}},
		Filters: dataset.Filters{TimeRange: dataset.TimeRange{Start: "2010", End: "2022"}},
		Render:  dataset.Render{ChartType: dataset.ChartLine},
	}
}

func TestRoundTrip(t *testing.T) {
	q := sampleQuery()
	token, err := Encode(q)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.ContainsAny(token, "+/=") {
		t.Errorf("token is not URL-safe: %s", token)
	}

	got, err := Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(got, q) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, q)
	}

	// Re-padded tokens are accepted too.
	padded := token + strings.Repeat("=", (4-len(token)%4)%4)
	if _, err := Decode(padded); err != nil {
		t.Errorf("padded token: %v", err)
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"not base64":     "%%%not-base64%%%",
		"not json":       base64.RawURLEncoding.EncodeToString([]byte("hello")),
		"wrong shape":    base64.RawURLEncoding.EncodeToString([]byte(`[1,2,3]`)),
		"invalid query":  base64.RawURLEncoding.EncodeToString([]byte(`{"version":1,"sourceId":"worldbank"}`)),
		"std alphabet":   "+/+/",
		"oversized":      strings.Repeat("A", maxTokenLen+4),
		"truncated json": base64.RawURLEncoding.EncodeToString([]byte(`{"version":1,`)),
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(token); !errors.Is(err, ErrInvalidState) {
				t.Errorf("err = %v, want ErrInvalidState", err)
			}
		})
	}
}
