package jsonstat

import (
	"errors"
	"testing"
)

const twoDim = `{
	"label": "GDP",
	"id": ["geo", "time"],
	"size": [2, 3],
	"dimension": {
		"geo": {"category": {"index": {"DE": 0, "FR": 1}, "label": {"DE": "Germany", "FR": "France"}}},
		"time": {"category": {"index": {"2020": 0, "2021": 1, "2022": 2}}}
	},
	"value": [10, 11, 12, 20, null, 22]
}`

// The same geo/time values with a unit dimension of size 2 in between.
const threeDim = `{
	"id": ["geo", "unit", "time"],
	"size": [2, 2, 3],
	"dimension": {
		"geo": {"category": {"index": ["DE", "FR"]}},
		"unit": {"category": {"index": {"EUR": 0, "PPS": 1}}},
		"time": {"category": {"index": {"2020": 0, "2021": 1, "2022": 2}}}
	},
	"value": {"0": 10, "1": 11, "2": 12, "3": 100, "4": 101, "5": 102, "6": 20, "8": 22, "9": 200, "10": 201, "11": 202}
}`

func TestStrides(t *testing.T) {
	got := Strides([]int{2, 2, 3})
	want := []int{6, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Strides = %v, want %v", got, want)
		}
	}
}

func TestValueTwoDimensions(t *testing.T) {
	c, err := Decode([]byte(twoDim))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	tests := []struct {
		geo, time string
		want      *float64
	}{
		{"DE", "2020", ptr(10)},
		{"DE", "2022", ptr(12)},
		{"FR", "2020", ptr(20)},
		{"FR", "2021", nil},
		{"FR", "2022", ptr(22)},
		{"IT", "2020", nil},
	}
	for _, tt := range tests {
		t.Run(tt.geo+"/"+tt.time, func(t *testing.T) {
			got := c.Value(map[string]string{"geo": tt.geo, "time": tt.time})
			assertValue(t, got, tt.want)
		})
	}

	if l := c.Dims["geo"].CategoryLabel("FR"); l != "France" {
		t.Errorf("label = %q", l)
	}
	if codes := c.Dims["time"].Codes(); len(codes) != 3 || codes[2] != "2022" {
		t.Errorf("codes = %v", codes)
	}
}

func TestValueThreeDimensions(t *testing.T) {
	c, err := Decode([]byte(threeDim))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	tests := []struct {
		coords map[string]string
		want   *float64
	}{
		{map[string]string{"geo": "FR", "unit": "PPS", "time": "2021"}, ptr(201)},
		{map[string]string{"geo": "DE", "unit": "PPS", "time": "2020"}, ptr(100)},
		// Unit left out: index 0 (EUR).
		{map[string]string{"geo": "FR", "time": "2022"}, ptr(22)},
		{map[string]string{"geo": "FR", "time": "2021"}, nil},
		{map[string]string{"geo": "DE", "unit": "USD", "time": "2020"}, nil},
		{map[string]string{"geo": "DE", "sex": "F"}, nil},
	}
	for _, tt := range tests {
		assertValue(t, c.Value(tt.coords), tt.want)
	}

	flat, ok := c.FlatIndex(map[string]string{"geo": "FR", "unit": "PPS", "time": "2022"})
	if !ok || flat != 1*6+1*3+2 {
		t.Errorf("FlatIndex = %d, %v", flat, ok)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `nope`,
		"missing value":   `{"id":["geo"],"size":[1],"dimension":{"geo":{"category":{"index":{"DE":0}}}}}`,
		"size mismatch":   `{"id":["geo","time"],"size":[1],"dimension":{},"value":[]}`,
		"undescribed dim": `{"id":["geo"],"size":[1],"dimension":{},"value":[1]}`,
		"bad value":       `{"id":["geo"],"size":[1],"dimension":{"geo":{"category":{"index":{"DE":0}}}},"value":"x"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(body)); !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func ptr(v float64) *float64 { return &v }

func assertValue(t *testing.T, got, want *float64) {
	t.Helper()
	switch {
	case want == nil && got != nil:
		t.Errorf("value = %v, want null", *got)
	case want != nil && got == nil:
		t.Errorf("value = null, want %v", *want)
	case want != nil && *got != *want:
		t.Errorf("value = %v, want %v", *got, *want)
	}
}
