package adapter

import (
	"fmt"
	"sort"

	"github.com/statchart/backend/internal/source"
)

// Registry looks adapters up by source id. It is built once at startup and
// read-only afterwards.
type Registry struct {
	sources map[string]Source
}

func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[string]Source, len(sources))}
	for _, s := range sources {
		r.sources[s.Config().ID] = s
	}
	return r
}

func (r *Registry) Get(id string) (Source, error) {
	s, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}
	return s, nil
}

// List returns every registered source, ordered by id.
func (r *Registry) List() []Source {
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config().ID < out[j].Config().ID })
	return out
}

func (r *Registry) Configs() []source.Config {
	list := r.List()
	out := make([]source.Config, len(list))
	for i, s := range list {
		out[i] = s.Config()
	}
	return out
}
