// Package jsonstat decodes JSON-stat 2.0 datasets and addresses their flat
// value arrays by category.
package jsonstat

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
)

var ErrMalformed = errors.New("malformed JSON-stat dataset")

// Dimension is one axis of the cube. Index maps a category code to its
// position along the axis.
type Dimension struct {
	ID     string
	Label  string
	Index  map[string]int
	Labels map[string]string
}

// Codes returns the category codes in axis order.
func (d Dimension) Codes() []string {
	codes := make([]string, 0, len(d.Index))
	for code := range d.Index {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return d.Index[codes[i]] < d.Index[codes[j]] })
	return codes
}

// CategoryLabel returns the human label of code, falling back to the code.
func (d Dimension) CategoryLabel(code string) string {
	if l, ok := d.Labels[code]; ok && l != "" {
		return l
	}
	return code
}

type Cube struct {
	Label   string
	Updated string
	IDs     []string
	Sizes   []int
	Dims    map[string]Dimension

	strides []int
	dense   []*float64
	sparse  map[int]float64
	isDense bool
}

type rawCategory struct {
	Index json.RawMessage   `json:"index"`
	Label map[string]string `json:"label"`
}

type rawDimension struct {
	Label    string      `json:"label"`
	Category rawCategory `json:"category"`
}

type rawCube struct {
	Label     string                  `json:"label"`
	Updated   string                  `json:"updated"`
	ID        []string                `json:"id"`
	Size      []int                   `json:"size"`
	Dimension map[string]rawDimension `json:"dimension"`
	Value     json.RawMessage         `json:"value"`
}

// Decode parses a JSON-stat dataset. id, size, dimension and value are
// required, and every listed dimension must be described.
func Decode(data []byte) (*Cube, error) {
	var raw rawCube
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw.ID) == 0 || len(raw.Size) == 0 || raw.Dimension == nil || len(raw.Value) == 0 {
		return nil, fmt.Errorf("%w: missing id, size, dimension or value", ErrMalformed)
	}
	if len(raw.ID) != len(raw.Size) {
		return nil, fmt.Errorf("%w: %d ids but %d sizes", ErrMalformed, len(raw.ID), len(raw.Size))
	}

	c := &Cube{
		Label:   raw.Label,
		Updated: raw.Updated,
		IDs:     raw.ID,
		Sizes:   raw.Size,
		Dims:    make(map[string]Dimension, len(raw.ID)),
	}

	for _, id := range raw.ID {
		rd, ok := raw.Dimension[id]
		if !ok {
			return nil, fmt.Errorf("%w: dimension %q not described", ErrMalformed, id)
		}
		index, err := decodeIndex(rd.Category.Index)
		if err != nil {
			return nil, fmt.Errorf("%w: dimension %q: %v", ErrMalformed, id, err)
		}
		// A single-category dimension may omit its index.
		if len(index) == 0 && len(rd.Category.Label) == 1 {
			for code := range rd.Category.Label {
				index = map[string]int{code: 0}
			}
		}
		c.Dims[id] = Dimension{ID: id, Label: rd.Label, Index: index, Labels: rd.Category.Label}
	}

	c.strides = Strides(c.Sizes)

	if err := c.decodeValues(raw.Value); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeIndex(raw json.RawMessage) (map[string]int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]int{}, nil
	}

	var asMap map[string]int
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return asMap, nil
	}

	var asList []string
	if err := json.Unmarshal(raw, &asList); err != nil {
		return nil, errors.New("category index is neither an object nor an array")
	}
	index := make(map[string]int, len(asList))
	for i, code := range asList {
		index[code] = i
	}
	return index, nil
}

func (c *Cube) decodeValues(raw json.RawMessage) error {
	var dense []*float64
	if err := json.Unmarshal(raw, &dense); err == nil {
		c.dense = dense
		c.isDense = true
		return nil
	}

	var sparse map[string]*float64
	if err := json.Unmarshal(raw, &sparse); err != nil {
		return fmt.Errorf("%w: value is neither an array nor an object", ErrMalformed)
	}
	c.sparse = make(map[int]float64, len(sparse))
	for k, v := range sparse {
		if v == nil {
			continue
		}
		i, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("%w: value key %q is not an integer", ErrMalformed, k)
		}
		c.sparse[i] = *v
	}
	return nil
}

// Strides computes row-major strides: stride[i] is the product of every size
// after position i, so the last dimension varies fastest.
func Strides(sizes []int) []int {
	strides := make([]int, len(sizes))
	acc := 1
	for i := len(sizes) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= sizes[i]
	}
	return strides
}

// FlatIndex locates the value addressed by coords (dimension id to category
// code). Dimensions not named in coords are taken at index 0. It reports
// false when a named dimension or category does not exist.
func (c *Cube) FlatIndex(coords map[string]string) (int, bool) {
	for dim := range coords {
		if _, ok := c.Dims[dim]; !ok {
			return 0, false
		}
	}

	flat := 0
	for i, id := range c.IDs {
		code, ok := coords[id]
		if !ok {
			continue
		}
		idx, ok := c.Dims[id].Index[code]
		if !ok || idx < 0 || idx >= c.Sizes[i] {
			return 0, false
		}
		flat += idx * c.strides[i]
	}
	return flat, true
}

// Value returns the observation at coords, or nil when it is absent or null.
func (c *Cube) Value(coords map[string]string) *float64 {
	flat, ok := c.FlatIndex(coords)
	if !ok {
		return nil
	}
	return c.At(flat)
}

// At returns the observation at a flat index, or nil.
func (c *Cube) At(flat int) *float64 {
	if c.isDense {
		if flat < 0 || flat >= len(c.dense) || c.dense[flat] == nil {
			return nil
		}
		v := *c.dense[flat]
		return &v
	}
	v, ok := c.sparse[flat]
	if !ok {
		return nil
	}
	return &v
}

func (c *Cube) Dimension(id string) (Dimension, bool) {
	d, ok := c.Dims[id]
	return d, ok
}
