// Package source holds the static description of every upstream statistics
// API: base URL, auth mode, attribution and documented endpoints. It is the
// single place these values are declared; adapters read them, nothing else
// hard-codes them.
package source

import (
	"time"

	"github.com/statchart/backend/internal/dataset"
)

type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthAPIKey AuthMode = "api_key"
)

type Format string

const (
	FormatJSON       Format = "json"
	FormatJSONStat   Format = "json-stat"
	FormatCSV        Format = "csv"
	FormatSPARQLJSON Format = "sparql-results+json"
)

// Param documents one parameter of an endpoint template.
type Param struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Example     string `json:"example,omitempty"`
}

// Endpoint is documentation only; adapters build their own URLs.
type Endpoint struct {
	Name         string  `json:"name"`
	PathTemplate string  `json:"pathTemplate"`
	Params       []Param `json:"params,omitempty"`
}

type Config struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	BaseURL           string              `json:"baseUrl"`
	Auth              AuthMode            `json:"auth"`
	Formats           []Format            `json:"formats"`
	Attribution       dataset.Attribution `json:"attribution"`
	RateLimitNotes    string              `json:"rateLimitNotes,omitempty"`
	RequestsPerSecond float64             `json:"requestsPerSecond,omitempty"`
	Endpoints         []Endpoint          `json:"endpoints,omitempty"`
}

// WithBaseURL returns a copy pointing at a different host, e.g. a mirror or a
// test server. An empty url leaves the config unchanged.
func (c Config) WithBaseURL(url string) Config {
	if url != "" {
		c.BaseURL = url
	}
	return c
}

// WithRequestsPerSecond returns a copy with a different outbound rate. Zero
// leaves the config unchanged.
func (c Config) WithRequestsPerSecond(rps float64) Config {
	if rps > 0 {
		c.RequestsPerSecond = rps
	}
	return c
}

// Provenance builds the provenance record for a request made against this
// source.
func (c Config) Provenance(queryURL string, retrievedAt time.Time) dataset.Provenance {
	return dataset.Provenance{
		SourceID:    c.ID,
		SourceName:  c.Name,
		QueryURL:    queryURL,
		RetrievedAt: retrievedAt.UTC(),
		Attribution: c.Attribution,
	}
}
