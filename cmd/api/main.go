package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/statchart/backend/internal/adapter"
	"github.com/statchart/backend/internal/adapter/eurostat"
	"github.com/statchart/backend/internal/adapter/owid"
	"github.com/statchart/backend/internal/adapter/wikidata"
	"github.com/statchart/backend/internal/adapter/worldbank"
	"github.com/statchart/backend/internal/api"
	"github.com/statchart/backend/internal/cache"
	"github.com/statchart/backend/internal/cache/badgerstore"
	redisstore "github.com/statchart/backend/internal/cache/redis"
	"github.com/statchart/backend/internal/catalog"
	"github.com/statchart/backend/internal/fetch"
	"github.com/statchart/backend/internal/metrics"
	"github.com/statchart/backend/internal/middleware/ratelimit"
	"github.com/statchart/backend/internal/middleware/security"
	"github.com/statchart/backend/internal/middleware/validation"
	"github.com/statchart/backend/internal/query"
	"github.com/statchart/backend/internal/source"
	"github.com/statchart/backend/internal/storage/sqlite"
	"github.com/statchart/backend/pkg/circuitbreaker"
	"github.com/statchart/backend/pkg/config"
	appLogger "github.com/statchart/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting statchart API server", zap.String("cacheBackend", cfg.Cache.Backend))
	metrics.Init()

	sqliteClient, err := sqlite.Open(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to open SQLite database", zap.Error(err))
	}
	defer sqliteClient.Close()

	responseCache := cache.New(
		cache.NewLazyStore(storeOpener(cfg, sqliteClient)),
		cache.WithLogger(appLogger.Named("cache")),
	)
	defer responseCache.Close()

	runtimeOpts := []adapter.RuntimeOption{
		adapter.WithFetchOptions(fetch.Options{
			Retries:    cfg.Fetch.Retries,
			RetryDelay: cfg.Fetch.RetryDelay(),
			Timeout:    cfg.Fetch.Timeout(),
		}),
		adapter.WithTTL(cfg.Cache.TTL(), cfg.Cache.MetadataTTL()),
	}
	if cfg.Breaker.Enabled {
		runtimeOpts = append(runtimeOpts, adapter.WithBreakers(circuitbreaker.Config{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          time.Duration(cfg.Breaker.TimeoutSec) * time.Second,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: 1,
			Logger:           appLogger.Named("breaker"),
		}))
	}
	rt := adapter.NewRuntime(
		fetch.NewClient(fetch.WithUserAgent(cfg.Fetch.UserAgent), fetch.WithLogger(appLogger.Named("fetch"))),
		responseCache,
		runtimeOpts...,
	)

	registry := adapter.NewRegistry(
		worldbank.New(sourceConfig(source.WorldBank(), cfg.Sources.WorldBank), rt),
		eurostat.New(sourceConfig(source.Eurostat(), cfg.Sources.Eurostat), rt),
		owid.New(sourceConfig(source.OWID(), cfg.Sources.OWID), rt),
		wikidata.New(sourceConfig(source.Wikidata(), cfg.Sources.Wikidata), rt),
	)
	queryEngine := query.NewEngine(registry, catalog.MustLoad(), sqliteClient)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Cache.CleanupSchedule, func() {
		removed := responseCache.CleanupExpired(context.Background())
		appLogger.Info("Expired cache entries removed", zap.Int("removed", removed))
	})
	if err != nil {
		appLogger.Fatal("Invalid cache cleanup schedule", zap.String("schedule", cfg.Cache.CleanupSchedule), zap.Error(err))
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:            appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, X-Client-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: splitOrigins(cfg.Server.AllowOrigins),
		IsDevelopment:  os.Getenv("STATCHART_ENV") == "development",
	}))
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		QueryPaths: []string{"/datasets", "/export", "/state"},
		Logger:     appLogger.Named("validation"),
	}))

	api.Register(app, api.Deps{
		Engine:   queryEngine,
		Cache:    responseCache,
		Ready:    sqliteClient.Ping,
		Breakers: rt.BreakerStates,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	<-scheduler.Stop().Done()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("Shutdown incomplete", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

// storeOpener picks the persistent cache tier. The SQLite handle is shared
// with query history, so it is handed over as is.
func storeOpener(cfg *config.Config, db *sqlite.Client) cache.Opener {
	switch cfg.Cache.Backend {
	case "redis":
		return func(context.Context) (cache.Store, error) {
			return redisstore.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		}
	case "badger":
		return func(context.Context) (cache.Store, error) {
			return badgerstore.Open(cfg.Badger.Path, cfg.Badger.CompressionLevel)
		}
	case "memory":
		return nil
	default:
		return func(context.Context) (cache.Store, error) { return sqliteStore{db}, nil }
	}
}

// sqliteStore keeps cache shutdown from closing the history database.
type sqliteStore struct {
	*sqlite.Client
}

func (sqliteStore) Close() error { return nil }

func sourceConfig(base source.Config, override config.SourceConfig) source.Config {
	if override.BaseURL != "" {
		base = base.WithBaseURL(override.BaseURL)
	}
	if override.RequestsPerSecond > 0 {
		base = base.WithRequestsPerSecond(override.RequestsPerSecond)
	}
	return base
}

func splitOrigins(s string) []string {
	if strings.TrimSpace(s) == "" || strings.TrimSpace(s) == "*" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
