// Package wikidata adapts the Wikidata SPARQL endpoint. Canonical indicator
// ids map onto a fixed set of properties qualified by point in time (P585).
package wikidata

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/dataset"
	"github.com/statchart/backend/internal/source"
)

const sparqlResults = "application/sparql-results+json"

var (
	entityPattern = regexp.MustCompile(`^Q[0-9]+$`)
	entityURI     = regexp.MustCompile(`/entity/(Q[0-9]+)$`)
	yearPattern   = regexp.MustCompile(`^[0-9]{4}`)
)

// Property describes one canonical indicator.
type Property struct {
	ID     string
	Label  string
	Unit   string
	Topics []string
}

var properties = map[string]Property{
	"wikidata:population":      {ID: "P1082", Label: "Population", Unit: "people", Topics: []string{"demography"}},
	"wikidata:gdp":             {ID: "P2131", Label: "Nominal GDP", Unit: "US$", Topics: []string{"economy"}},
	"wikidata:gdp_per_capita":  {ID: "P2132", Label: "Nominal GDP per capita", Unit: "US$", Topics: []string{"economy"}},
	"wikidata:life_expectancy": {ID: "P2250", Label: "Life expectancy", Unit: "years", Topics: []string{"health", "demography"}},
	"wikidata:hdi":             {ID: "P1081", Label: "Human Development Index", Unit: "index", Topics: []string{"development"}},
	"wikidata:inflation":       {ID: "P1279", Label: "Inflation rate", Unit: "%", Topics: []string{"economy"}},
	"wikidata:unemployment":    {ID: "P1198", Label: "Unemployment rate", Unit: "%", Topics: []string{"economy", "labour"}},
	"wikidata:area":            {ID: "P2046", Label: "Area", Unit: "km²", Topics: []string{"geography"}},
}

// LookupProperty resolves a canonical indicator id.
func LookupProperty(indicatorID string) (Property, bool) {
	p, ok := properties[indicatorID]
	return p, ok
}

// IndicatorIDs lists the canonical ids in sorted order.
func IndicatorIDs() []string {
	ids := make([]string, 0, len(properties))
	for id := range properties {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type Hooks struct {
	cfg source.Config
}

func NewHooks(cfg source.Config) *Hooks {
	return &Hooks{cfg: cfg}
}

func New(cfg source.Config, rt *adapter.Runtime) adapter.Source {
	return adapter.New[[]Observation](NewHooks(cfg), rt)
}

func (h *Hooks) Config() source.Config {
	return h.cfg
}

func (h *Hooks) Accept() string {
	return sparqlResults
}

func (h *Hooks) endpoint(sparql string) string {
	return strings.TrimRight(h.cfg.BaseURL, "/") + "?format=json&query=" + url.QueryEscape(sparql)
}

func (h *Hooks) BuildURL(q dataset.Query) (string, error) {
	switch q.QueryType {
	case dataset.QueryTimeSeries, dataset.QueryCrossSection, dataset.QueryRanking:
	default:
		return "", fmt.Errorf("%w: %s cannot serve %s", adapter.ErrUnsupportedQueryType, h.cfg.ID, q.QueryType)
	}

	prop, ok := LookupProperty(q.Y[0].ID)
	if !ok {
		return "", &adapter.MappingError{Source: h.cfg.ID, Value: q.Y[0].ID, Err: adapter.ErrUnknownIndicator}
	}

	items := make([]string, 0, len(q.Entities))
	for _, e := range q.Entities {
		id := strings.ToUpper(e)
		if !entityPattern.MatchString(id) {
			return "", &adapter.MappingError{Source: h.cfg.ID, Value: e, Err: adapter.ErrUnknownEntity}
		}
		items = append(items, "wd:"+id)
	}

	start, err := strconv.Atoi(q.Filters.TimeRange.StartYear())
	if err != nil {
		return "", fmt.Errorf("%w: start %q is not a year", dataset.ErrInvalidQuery, q.Filters.TimeRange.Start)
	}
	end, err := strconv.Atoi(q.Filters.TimeRange.EndYear())
	if err != nil {
		return "", fmt.Errorf("%w: end %q is not a year", dataset.ErrInvalidQuery, q.Filters.TimeRange.End)
	}

	sparql := fmt.Sprintf(`SELECT ?item ?itemLabel ?value ?time WHERE {
  VALUES ?item { %s }
  ?item p:%[2]s ?statement .
  ?statement ps:%[2]s ?value ;
             pq:P585 ?time .
  FILTER(YEAR(?time) >= %[3]d && YEAR(?time) <= %[4]d)
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en". }
}
ORDER BY ?item ?time`, strings.Join(items, " "), prop.ID, start, end)

	return h.endpoint(sparql), nil
}

type binding struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
}

type results struct {
	Head *struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results *struct {
		Bindings []map[string]binding `json:"bindings"`
	} `json:"results"`
}

func decodeResults(body []byte) ([]map[string]binding, error) {
	var r results
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode sparql results: %w", err)
	}
	if r.Head == nil || r.Head.Vars == nil {
		return nil, fmt.Errorf("sparql results: missing head.vars")
	}
	if r.Results == nil || r.Results.Bindings == nil {
		return nil, fmt.Errorf("sparql results: missing results.bindings")
	}
	return r.Results.Bindings, nil
}

// entityID extracts the Q-id from an entity URI.
func entityID(uri string) (string, bool) {
	m := entityURI.FindStringSubmatch(uri)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Observation is one property value at a point in time.
type Observation struct {
	Entity string
	Label  string
	Year   string
	Value  *float64
}

func (h *Hooks) ParseResponse(body []byte) ([]Observation, error) {
	bindings, err := decodeResults(body)
	if err != nil {
		return nil, err
	}

	out := make([]Observation, 0, len(bindings))
	for _, b := range bindings {
		id, ok := entityID(b["item"].Value)
		if !ok {
			continue
		}
		year := yearPattern.FindString(b["time"].Value)
		if year == "" {
			continue
		}
		o := Observation{Entity: id, Label: b["itemLabel"].Value, Year: year}
		if v, err := strconv.ParseFloat(b["value"].Value, 64); err == nil {
			o.Value = &v
		}
		out = append(out, o)
	}
	return out, nil
}
