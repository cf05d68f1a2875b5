package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Fetch.Retries != 2 {
		t.Errorf("fetch.retries = %d, want 2", cfg.Fetch.Retries)
	}
	if cfg.Fetch.RetryDelay() != time.Second {
		t.Errorf("retry delay = %s, want 1s", cfg.Fetch.RetryDelay())
	}
	if cfg.Fetch.Timeout() != 30*time.Second {
		t.Errorf("timeout = %s, want 30s", cfg.Fetch.Timeout())
	}
	if cfg.Cache.Backend != "sqlite" {
		t.Errorf("cache.backend = %q, want sqlite", cfg.Cache.Backend)
	}
	if cfg.Sources.Wikidata.RequestsPerSecond != 1 {
		t.Errorf("wikidata rps = %v, want 1", cfg.Sources.Wikidata.RequestsPerSecond)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
cache:
  backend: badger
  ttlMinutes: 5
sources:
  eurostat:
    baseUrl: http://mirror.local/eurostat
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Cache.Backend != "badger" {
		t.Errorf("backend = %q", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL() != 5*time.Minute {
		t.Errorf("ttl = %s", cfg.Cache.TTL())
	}
	if cfg.Sources.Eurostat.BaseURL != "http://mirror.local/eurostat" {
		t.Errorf("eurostat baseUrl = %q", cfg.Sources.Eurostat.BaseURL)
	}
}

func TestLoadFileRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  backend: floppy\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for unknown cache backend")
	}
}
