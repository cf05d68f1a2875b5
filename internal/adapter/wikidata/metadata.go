package wikidata

import (
	"context"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/catalog"
	"github.com/statchart/backend/internal/dataset"
)

const sovereignStates = `SELECT ?item ?itemLabel WHERE {
  ?item wdt:P31 wd:Q3624078 .
  FILTER NOT EXISTS { ?item wdt:P576 ?dissolved }
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en". }
}
ORDER BY ?itemLabel`

// Entities lists current sovereign states.
func (h *Hooks) Entities(ctx context.Context, rt *adapter.Runtime) ([]dataset.Entity, error) {
	return adapter.Cached(ctx, rt, h.cfg, h.endpoint(sovereignStates), rt.MetadataTTL, sparqlResults, parseEntities)
}

func parseEntities(body []byte) ([]dataset.Entity, error) {
	bindings, err := decodeResults(body)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(bindings))
	out := make([]dataset.Entity, 0, len(bindings))
	for _, b := range bindings {
		id, ok := entityID(b["item"].Value)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, dataset.Entity{ID: id, Label: labelOr(b["itemLabel"].Value, id)})
	}
	return out, nil
}

// SearchIndicators searches the fixed property table; it never goes upstream.
func (h *Hooks) SearchIndicators(_ context.Context, _ *adapter.Runtime, term string) ([]catalog.Entry, error) {
	entries := make([]catalog.Entry, 0, len(properties))
	for _, id := range IndicatorIDs() {
		p := properties[id]
		entries = append(entries, catalog.Entry{
			SourceID:    h.cfg.ID,
			IndicatorID: id,
			Title:       p.Label,
			Description: "Wikidata property " + p.ID + " qualified by point in time.",
			Unit:        p.Unit,
			Topics:      p.Topics,
			Geography:   "Wikidata items",
		})
	}
	return catalog.New(entries).Search(term, catalog.Filter{}), nil
}
