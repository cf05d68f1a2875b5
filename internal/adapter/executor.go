package adapter

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/statchart/backend/internal/cache"
	"github.com/statchart/backend/internal/catalog"
	"github.com/statchart/backend/internal/dataset"
	"github.com/statchart/backend/internal/source"
)

type executor[R any] struct {
	hooks    Hooks[R]
	rt       *Runtime
	datasets *cache.Typed[dataset.Dataset]
}

// New wraps hooks in the shared execution pipeline.
func New[R any](hooks Hooks[R], rt *Runtime) Source {
	return &executor[R]{
		hooks:    hooks,
		rt:       rt,
		datasets: cache.For[dataset.Dataset](rt.Cache, dataset.Codec{}),
	}
}

func (e *executor[R]) Config() source.Config {
	return e.hooks.Config()
}

func (e *executor[R]) BuildURL(q dataset.Query) (string, error) {
	return e.hooks.BuildURL(q)
}

// Execute runs q: validate, build the URL, serve from cache when fresh, else
// fetch, parse, normalize and cache. Datasets normalized from the same URL
// for different query types are cached apart.
func (e *executor[R]) Execute(ctx context.Context, q dataset.Query) (dataset.Dataset, error) {
	cfg := e.hooks.Config()

	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.SourceID != cfg.ID {
		return nil, fmt.Errorf("%w: %q sent to %q", ErrSourceMismatch, q.SourceID, cfg.ID)
	}

	rawURL, err := e.hooks.BuildURL(q)
	if err != nil {
		return nil, err
	}

	key := cache.Key(cfg.ID, rawURL, string(q.QueryType))
	log := e.rt.log.With(zap.String("source", cfg.ID), zap.String("url", rawURL))

	if ds, ok := e.datasets.Get(ctx, key); ok {
		log.Debug("Dataset served from cache")
		return ds, nil
	}

	v, shared, err := e.rt.coalesce(ctx, key, func(ctx context.Context) (any, error) {
		if ds, ok := e.datasets.Get(ctx, key); ok {
			return ds, nil
		}

		accept := ""
		if a, ok := e.hooks.(Accepter); ok {
			accept = a.Accept()
		}

		resp, err := e.rt.Fetch.Do(ctx, rawURL, e.rt.optionsFor(cfg, accept))
		if err != nil {
			return nil, err
		}

		raw, err := e.hooks.ParseResponse(resp.Body)
		if err != nil {
			return nil, asParseError(cfg.ID, err)
		}

		ds, err := e.hooks.Normalize(raw, q, FetchMeta{URL: rawURL, RetrievedAt: e.rt.now()})
		if err != nil {
			return nil, err
		}

		e.datasets.Set(ctx, key, ds, e.rt.DatasetTTL)
		log.Info("Dataset fetched",
			zap.String("kind", string(ds.Kind())),
			zap.Int("attempts", resp.Attempts),
			zap.Int("bytes", len(resp.Body)),
		)
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug("Dataset fetch shared with concurrent caller")
	}
	return v.(dataset.Dataset), nil
}

func (e *executor[R]) SearchIndicators(ctx context.Context, term string) ([]catalog.Entry, error) {
	s, ok := e.hooks.(IndicatorSearcher)
	if !ok {
		return nil, &CapabilityError{Source: e.hooks.Config().ID, Capability: CapabilitySearchIndicators}
	}
	return s.SearchIndicators(ctx, e.rt, term)
}

func (e *executor[R]) Entities(ctx context.Context) ([]dataset.Entity, error) {
	l, ok := e.hooks.(EntityLister)
	if !ok {
		return nil, &CapabilityError{Source: e.hooks.Config().ID, Capability: CapabilityEntities}
	}
	return l.Entities(ctx, e.rt)
}

func (e *executor[R]) Capabilities() []string {
	caps := []string{}
	if _, ok := e.hooks.(IndicatorSearcher); ok {
		caps = append(caps, CapabilitySearchIndicators)
	}
	if _, ok := e.hooks.(EntityLister); ok {
		caps = append(caps, CapabilityEntities)
	}
	return caps
}
