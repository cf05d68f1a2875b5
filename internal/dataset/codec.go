package dataset

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Codec serializes any Dataset variant as a flat JSON object carrying a
// "kind" discriminator. It satisfies cache.Codec[Dataset].
type Codec struct{}

func (Codec) Encode(ds Dataset) ([]byte, error) {
	return Marshal(ds)
}

func (Codec) Decode(data []byte) (Dataset, error) {
	return Unmarshal(data)
}

type encoder struct {
	out []byte
}

func (e *encoder) VisitTimeSeries(ds *TimeSeries) (err error) {
	e.out, err = json.Marshal(struct {
		Kind Kind `json:"kind"`
		*TimeSeries
	}{KindTimeSeries, ds})
	return err
}

func (e *encoder) VisitCrossSection(ds *CrossSection) (err error) {
	e.out, err = json.Marshal(struct {
		Kind Kind `json:"kind"`
		*CrossSection
	}{KindCrossSection, ds})
	return err
}

func (e *encoder) VisitScatter(ds *Scatter) (err error) {
	e.out, err = json.Marshal(struct {
		Kind Kind `json:"kind"`
		*Scatter
	}{KindScatter, ds})
	return err
}

func Marshal(ds Dataset) ([]byte, error) {
	if ds == nil {
		return nil, fmt.Errorf("marshal dataset: nil dataset")
	}
	var enc encoder
	if err := ds.Accept(&enc); err != nil {
		return nil, fmt.Errorf("marshal dataset: %w", err)
	}
	return enc.out, nil
}

func Unmarshal(data []byte) (Dataset, error) {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("unmarshal dataset: %w", err)
	}

	var ds Dataset
	switch head.Kind {
	case KindTimeSeries:
		ds = &TimeSeries{}
	case KindCrossSection:
		ds = &CrossSection{}
	case KindScatter:
		ds = &Scatter{}
	default:
		return nil, fmt.Errorf("unmarshal dataset: unknown kind %q", head.Kind)
	}

	if err := json.Unmarshal(data, ds); err != nil {
		return nil, fmt.Errorf("unmarshal dataset: %w", err)
	}
	return ds, nil
}

// Envelope wraps a Dataset for embedding in larger JSON documents such as API
// responses.
type Envelope struct {
	Dataset Dataset
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	return Marshal(e.Dataset)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	ds, err := Unmarshal(data)
	if err != nil {
		return err
	}
	e.Dataset = ds
	return nil
}
