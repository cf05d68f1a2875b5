package adapter

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/statchart/backend/internal/cache"
	"github.com/statchart/backend/internal/fetch"
	"github.com/statchart/backend/internal/metrics"
	"github.com/statchart/backend/internal/source"
	"github.com/statchart/backend/pkg/circuitbreaker"
	"github.com/statchart/backend/pkg/logger"
)

const (
	DefaultDatasetTTL  = time.Hour
	DefaultMetadataTTL = 24 * time.Hour
)

// Runtime carries everything adapters share: the HTTP client, the cache,
// fetch defaults and per-source outbound limiters and breakers. Build one per
// process and hand it to every adapter.
type Runtime struct {
	Fetch        *fetch.Client
	Cache        *cache.Layered
	FetchOptions fetch.Options
	DatasetTTL   time.Duration
	MetadataTTL  time.Duration
	Now          func() time.Time

	breakerCfg *circuitbreaker.Config
	log        *zap.Logger
	group      singleflight.Group

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*circuitbreaker.CircuitBreaker
}

type RuntimeOption func(*Runtime)

func WithFetchOptions(opts fetch.Options) RuntimeOption {
	return func(rt *Runtime) { rt.FetchOptions = opts }
}

func WithTTL(datasetTTL, metadataTTL time.Duration) RuntimeOption {
	return func(rt *Runtime) {
		if datasetTTL > 0 {
			rt.DatasetTTL = datasetTTL
		}
		if metadataTTL > 0 {
			rt.MetadataTTL = metadataTTL
		}
	}
}

func WithClock(now func() time.Time) RuntimeOption {
	return func(rt *Runtime) { rt.Now = now }
}

// WithBreakers guards every source with its own circuit breaker. Only
// transient fetch failures count against it.
func WithBreakers(cfg circuitbreaker.Config) RuntimeOption {
	return func(rt *Runtime) {
		if cfg.IsFailure == nil {
			cfg.IsFailure = fetch.IsTransient
		}
		if cfg.OnStateChange == nil {
			cfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
				metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			}
		}
		rt.breakerCfg = &cfg
	}
}

func NewRuntime(fc *fetch.Client, c *cache.Layered, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		Fetch:        fc,
		Cache:        c,
		FetchOptions: fetch.DefaultOptions(),
		DatasetTTL:   DefaultDatasetTTL,
		MetadataTTL:  DefaultMetadataTTL,
		Now:          time.Now,
		log:          logger.Named("adapter"),
		limiters:     make(map[string]*rate.Limiter),
		breakers:     make(map[string]*circuitbreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Runtime) now() time.Time {
	if rt.Now == nil {
		return time.Now()
	}
	return rt.Now()
}

// optionsFor derives the fetch options of one request to cfg's upstream.
func (rt *Runtime) optionsFor(cfg source.Config, accept string) fetch.Options {
	opts := rt.FetchOptions
	opts.Source = cfg.ID

	if accept != "" {
		h := opts.Header.Clone()
		if h == nil {
			h = http.Header{}
		}
		h.Set("Accept", accept)
		opts.Header = h
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if cfg.RequestsPerSecond > 0 {
		l, ok := rt.limiters[cfg.ID]
		if !ok {
			l = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
			rt.limiters[cfg.ID] = l
		}
		opts.Limiter = l
	}

	if rt.breakerCfg != nil {
		b, ok := rt.breakers[cfg.ID]
		if !ok {
			b = circuitbreaker.NewCircuitBreaker(cfg.ID, *rt.breakerCfg)
			rt.breakers[cfg.ID] = b
		}
		opts.Breaker = b
	}
	return opts
}

// BreakerStates snapshots every breaker created so far, keyed by source id.
func (rt *Runtime) BreakerStates() map[string]circuitbreaker.Snapshot {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	out := make(map[string]circuitbreaker.Snapshot, len(rt.breakers))
	for id, b := range rt.breakers {
		out[id] = b.Snapshot()
	}
	return out
}

// coalesce runs fn once per key for all concurrent callers. fn gets a context
// detached from any single caller, so one caller giving up does not fail the
// others; per-attempt fetch timeouts still bound it. Each caller waits on its
// own ctx.
func (rt *Runtime) coalesce(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := rt.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Cached serves the value derived from rawURL through the shared cache,
// fetching and parsing only on a miss. Concurrent misses on the same key
// share one fetch.
func Cached[T any](ctx context.Context, rt *Runtime, cfg source.Config, rawURL string, ttl time.Duration, accept string, parse func([]byte) (T, error)) (T, error) {
	key := cache.Key(cfg.ID, rawURL)
	typed := cache.For[T](rt.Cache, cache.JSONCodec[T]{})

	if v, ok := typed.Get(ctx, key); ok {
		return v, nil
	}

	v, _, err := rt.coalesce(ctx, key, func(ctx context.Context) (any, error) {
		if v, ok := typed.Get(ctx, key); ok {
			return v, nil
		}
		resp, err := rt.Fetch.Do(ctx, rawURL, rt.optionsFor(cfg, accept))
		if err != nil {
			return nil, err
		}
		v, err := parse(resp.Body)
		if err != nil {
			return nil, asParseError(cfg.ID, err)
		}
		typed.Set(ctx, key, v, ttl)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func asParseError(sourceID string, err error) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &ParseError{Source: sourceID, Err: err}
}
