package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Fetch     FetchConfig
	Cache     CacheConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Badger    BadgerConfig
	Sources   SourcesConfig
	Breaker   BreakerConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	AllowOrigins string
}

type FetchConfig struct {
	Retries      int
	RetryDelayMs int
	TimeoutMs    int
	UserAgent    string
}

func (f FetchConfig) RetryDelay() time.Duration {
	return time.Duration(f.RetryDelayMs) * time.Millisecond
}

func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutMs) * time.Millisecond
}

type CacheConfig struct {
	// Backend selects the persistent tier: sqlite, redis, badger or memory.
	Backend          string
	TTLMinutes       int
	MetadataTTLHours int
	CleanupSchedule  string
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

func (c CacheConfig) MetadataTTL() time.Duration {
	return time.Duration(c.MetadataTTLHours) * time.Hour
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type BadgerConfig struct {
	Path             string
	CompressionLevel int
}

type SourceConfig struct {
	BaseURL           string
	RequestsPerSecond float64
}

type SourcesConfig struct {
	WorldBank SourceConfig
	Eurostat  SourceConfig
	OWID      SourceConfig
	Wikidata  SourceConfig
}

type BreakerConfig struct {
	Enabled          bool
	FailureThreshold uint32
	TimeoutSec       int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/statchart")

	return load(v)
}

// LoadFile reads configuration from an explicit path, still applying
// defaults and environment overrides.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("STATCHART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Cache.Backend {
	case "sqlite", "redis", "badger", "memory":
	default:
		return fmt.Errorf("invalid cache backend %q", c.Cache.Backend)
	}
	if c.Fetch.Retries < 0 {
		return fmt.Errorf("fetch.retries must not be negative")
	}
	if c.Cache.TTLMinutes <= 0 {
		return fmt.Errorf("cache.ttlMinutes must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowOrigins", "*")

	v.SetDefault("fetch.retries", 2)
	v.SetDefault("fetch.retryDelayMs", 1000)
	v.SetDefault("fetch.timeoutMs", 30000)
	v.SetDefault("fetch.userAgent", "statchart/1.0 (+https://github.com/statchart/backend)")

	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.ttlMinutes", 60)
	v.SetDefault("cache.metadataTtlHours", 24)
	v.SetDefault("cache.cleanupSchedule", "@every 6h")

	v.SetDefault("sqlite.path", "./data/statchart.db")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("badger.path", "./data/badger")
	v.SetDefault("badger.compressionLevel", 2)

	v.SetDefault("sources.worldbank.requestsPerSecond", 5)
	v.SetDefault("sources.eurostat.requestsPerSecond", 2)
	v.SetDefault("sources.owid.requestsPerSecond", 5)
	v.SetDefault("sources.wikidata.requestsPerSecond", 1)

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.failureThreshold", 5)
	v.SetDefault("breaker.timeoutSec", 30)

	v.SetDefault("ratelimit.requestsPerMinute", 120)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
