package worldbank

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/catalog"
	"github.com/statchart/backend/internal/dataset"
)

type country struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region ref    `json:"region"`
}

type indicator struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Unit       string `json:"unit"`
	SourceNote string `json:"sourceNote"`
	Topics     []ref  `json:"topics"`
}

func (h *Hooks) countriesURL() string {
	return strings.TrimRight(h.cfg.BaseURL, "/") + "/country?format=json&per_page=400"
}

func (h *Hooks) indicatorsURL() string {
	return fmt.Sprintf("%s/indicator?format=json&per_page=%d&source=2", strings.TrimRight(h.cfg.BaseURL, "/"), PageSize)
}

// Entities lists countries, leaving out regional and income aggregates.
func (h *Hooks) Entities(ctx context.Context, rt *adapter.Runtime) ([]dataset.Entity, error) {
	return adapter.Cached(ctx, rt, h.cfg, h.countriesURL(), rt.MetadataTTL, "", parseCountries)
}

func parseCountries(body []byte) ([]dataset.Entity, error) {
	_, rows, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	var countries []country
	if err := json.Unmarshal(rows, &countries); err != nil {
		return nil, fmt.Errorf("decode countries: %w", err)
	}

	out := make([]dataset.Entity, 0, len(countries))
	for _, c := range countries {
		if strings.EqualFold(strings.TrimSpace(c.Region.Value), "Aggregates") {
			continue
		}
		out = append(out, dataset.Entity{ID: c.ID, Label: c.Name})
	}
	return out, nil
}

// SearchIndicators filters the full WDI indicator list locally.
func (h *Hooks) SearchIndicators(ctx context.Context, rt *adapter.Runtime, term string) ([]catalog.Entry, error) {
	entries, err := adapter.Cached(ctx, rt, h.cfg, h.indicatorsURL(), rt.MetadataTTL, "", h.parseIndicators)
	if err != nil {
		return nil, err
	}
	return catalog.New(entries).Search(term, catalog.Filter{}), nil
}

func (h *Hooks) parseIndicators(body []byte) ([]catalog.Entry, error) {
	_, rows, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	var indicators []indicator
	if err := json.Unmarshal(rows, &indicators); err != nil {
		return nil, fmt.Errorf("decode indicators: %w", err)
	}

	out := make([]catalog.Entry, 0, len(indicators))
	for _, ind := range indicators {
		topics := make([]string, 0, len(ind.Topics))
		for _, t := range ind.Topics {
			if v := strings.TrimSpace(t.Value); v != "" {
				topics = append(topics, v)
			}
		}
		out = append(out, catalog.Entry{
			SourceID:    h.cfg.ID,
			IndicatorID: ind.ID,
			Title:       ind.Name,
			Description: ind.SourceNote,
			Unit:        ind.Unit,
			Topics:      topics,
			Geography:   "countries and aggregates",
		})
	}
	return out, nil
}
