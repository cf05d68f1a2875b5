// Package catalog is the curated list of indicators the UI offers. It is
// loaded once from an embedded YAML file and only ever filtered afterwards.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/statchart/backend/internal/dataset"
)

//go:embed catalog.yaml
var embedded []byte

// Coverage is the period a source publishes the indicator for.
type Coverage struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end,omitempty" json:"end,omitempty"`
}

type Entry struct {
	SourceID    string         `yaml:"sourceId" json:"sourceId"`
	IndicatorID string         `yaml:"indicatorId" json:"indicatorId"`
	Title       string         `yaml:"title" json:"title"`
	Description string         `yaml:"description" json:"description"`
	Unit        string         `yaml:"unit,omitempty" json:"unit,omitempty"`
	Topics      []string       `yaml:"topics" json:"topics"`
	Geography   string         `yaml:"geography" json:"geography"`
	Coverage    *Coverage      `yaml:"coverage,omitempty" json:"coverage,omitempty"`
	Example     *dataset.Query `yaml:"example,omitempty" json:"example,omitempty"`
}

// Indicator returns the entry as a query indicator descriptor.
func (e Entry) Indicator() dataset.Indicator {
	return dataset.Indicator{ID: e.IndicatorID, Label: e.Title, Unit: e.Unit}
}

// Resolve builds a concrete query for this entry. Time series are drawn as
// lines and everything else as bars unless chart says otherwise.
func (e Entry) Resolve(entities []string, tr dataset.TimeRange, chart dataset.ChartType) dataset.Query {
	qt := dataset.QueryTimeSeries
	if chart == "" {
		chart = dataset.ChartLine
	}
	switch chart {
	case dataset.ChartBar, dataset.ChartChoropleth, dataset.ChartTable:
		qt = dataset.QueryCrossSection
	}

	return dataset.Query{
		Version:   dataset.SchemaVersion,
		SourceID:  e.SourceID,
		QueryType: qt,
		Entities:  append([]string(nil), entities...),
		Y:         []dataset.Indicator{e.Indicator()},
		Filters:   dataset.Filters{TimeRange: tr},
		Render:    dataset.Render{ChartType: chart},
	}
}

func (e Entry) matchesText(term string) bool {
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(e.Title), term) ||
		strings.Contains(strings.ToLower(e.Description), term) ||
		strings.Contains(strings.ToLower(e.IndicatorID), term) {
		return true
	}
	for _, t := range e.Topics {
		if strings.Contains(strings.ToLower(t), term) {
			return true
		}
	}
	return false
}

// Filter narrows a search. Empty fields do not constrain. An entry passes the
// topic filter when it carries at least one of Topics.
type Filter struct {
	SourceID string
	Topics   []string
}

func (f Filter) matches(e Entry) bool {
	if f.SourceID != "" && e.SourceID != f.SourceID {
		return false
	}
	if len(f.Topics) == 0 {
		return true
	}
	for _, want := range f.Topics {
		for _, have := range e.Topics {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

type Catalog struct {
	entries []Entry
}

type file struct {
	Entries []Entry `yaml:"entries"`
}

// Parse reads a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	seen := make(map[string]bool, len(f.Entries))
	for i, e := range f.Entries {
		if e.SourceID == "" || e.IndicatorID == "" || e.Title == "" {
			return nil, fmt.Errorf("catalog entry %d: sourceId, indicatorId and title are required", i)
		}
		key := e.SourceID + "/" + e.IndicatorID
		if seen[key] {
			return nil, fmt.Errorf("catalog entry %d: duplicate %s", i, key)
		}
		seen[key] = true
	}
	return &Catalog{entries: f.Entries}, nil
}

func New(entries []Entry) *Catalog {
	return &Catalog{entries: append([]Entry(nil), entries...)}
}

var (
	loadOnce sync.Once
	loaded   *Catalog
	loadErr  error
)

// Load returns the embedded catalog, parsing it on first use.
func Load() (*Catalog, error) {
	loadOnce.Do(func() {
		loaded, loadErr = Parse(embedded)
	})
	return loaded, loadErr
}

func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Search matches term case-insensitively against title, description,
// indicator id and topics, and keeps entries that also pass f.
func (c *Catalog) Search(term string, f Filter) []Entry {
	term = strings.ToLower(strings.TrimSpace(term))
	out := []Entry{}
	for _, e := range c.entries {
		if e.matchesText(term) && f.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// AvailableTopics is the sorted, deduplicated union of every entry's topics.
func (c *Catalog) AvailableTopics() []string {
	set := make(map[string]struct{})
	for _, e := range c.entries {
		for _, t := range e.Topics {
			set[t] = struct{}{}
		}
	}
	topics := make([]string, 0, len(set))
	for t := range set {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (c *Catalog) Lookup(sourceID, indicatorID string) (Entry, bool) {
	for _, e := range c.entries {
		if e.SourceID == sourceID && e.IndicatorID == indicatorID {
			return e, true
		}
	}
	return Entry{}, false
}

// Sources lists the source ids that have at least one entry.
func (c *Catalog) Sources() []string {
	set := make(map[string]struct{})
	for _, e := range c.entries {
		set[e.SourceID] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Catalog) Len() int {
	return len(c.entries)
}
