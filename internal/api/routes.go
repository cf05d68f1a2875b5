// Package api mounts the HTTP routes under /api/v1.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/statchart/backend/internal/api/handlers"
	"github.com/statchart/backend/internal/cache"
	"github.com/statchart/backend/internal/metrics"
	"github.com/statchart/backend/internal/query"
	"github.com/statchart/backend/pkg/circuitbreaker"
)

type Deps struct {
	Engine *query.Engine
	Cache  *cache.Layered
	// Ready reports whether backing stores are reachable; nil means always.
	Ready func(ctx context.Context) error
	// Breakers reports per-source circuit state for /ready.
	Breakers func() map[string]circuitbreaker.Snapshot
}

func Register(app *fiber.App, d Deps) fiber.Router {
	queryHandler := handlers.NewQueryHandler(d.Engine)
	catalogHandler := handlers.NewCatalogHandler(d.Engine.Catalog())
	sourceHandler := handlers.NewSourceHandler(d.Engine.Registry())
	cacheHandler := handlers.NewCacheHandler(d.Cache)

	api := app.Group("/api/v1")

	api.Post("/datasets", queryHandler.ExecuteQuery)
	api.Get("/datasets/shared/:state", queryHandler.ExecuteShared)
	api.Post("/export", queryHandler.ExportCSV)
	api.Post("/state", queryHandler.EncodeState)
	api.Get("/state/:token", queryHandler.DecodeState)
	api.Get("/queries/history", queryHandler.GetQueryHistory)

	api.Get("/catalog", catalogHandler.Search)
	api.Get("/catalog/topics", catalogHandler.Topics)

	api.Get("/sources", sourceHandler.List)
	api.Get("/sources/:id", sourceHandler.Get)
	api.Get("/sources/:id/entities", sourceHandler.Entities)
	api.Get("/sources/:id/indicators", sourceHandler.Indicators)

	api.Post("/cache/cleanup", cacheHandler.Cleanup)
	api.Delete("/cache", cacheHandler.Clear)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if d.Ready != nil {
			if err := d.Ready(c.UserContext()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "unavailable",
					"error":  err.Error(),
				})
			}
		}
		body := fiber.Map{"status": "ready"}
		if d.Breakers != nil {
			body["breakers"] = d.Breakers()
		}
		return c.JSON(body)
	})

	api.Get("/metrics", metrics.MetricsHandler())

	return api
}
