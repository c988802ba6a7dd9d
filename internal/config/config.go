// Package config reads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mswatii/pokedex-prices/internal/assistant"
	"github.com/mswatii/pokedex-prices/internal/catalog"
	"github.com/mswatii/pokedex-prices/internal/database"
	"github.com/mswatii/pokedex-prices/internal/explorer"
	"github.com/mswatii/pokedex-prices/internal/retry"
	"github.com/mswatii/pokedex-prices/internal/session"
)

const (
	DefaultPort     = "8080"
	DefaultLLMURL   = "https://api.openai.com/v1"
	DefaultLLMModel = "gpt-4o-mini"
)

// ErrMissingAPIKey is returned when CATALOG_API_KEY is unset
var ErrMissingAPIKey = catalog.ErrMissingAPIKey

// Config is everything the binaries need to wire the application
type Config struct {
	Catalog   catalog.Config
	Assistant assistant.Config
	Sessions  session.TTLs
	Database  database.Config
	Explorer  explorer.Options
	Port      string
	LogLevel  string
}

// AssistantEnabled reports whether a language model key was supplied
func (c Config) AssistantEnabled() bool {
	return c.Assistant.APIKey != ""
}

// Load builds a Config from the process environment
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	e := env{lookup: lookup}

	cfg := Config{
		Catalog: catalog.Config{
			BaseURL:      e.str("CATALOG_BASE_URL", catalog.DefaultBaseURL),
			APIKey:       e.str("CATALOG_API_KEY", ""),
			APIKeyHeader: e.str("CATALOG_API_KEY_HEADER", catalog.DefaultAPIKeyHeader),
			RPS:          e.integer("CATALOG_RPS", catalog.DefaultRPS),
			Timeout:      e.duration("CATALOG_TIMEOUT", catalog.DefaultTimeout),
			Retry: retry.Policy{
				Attempts:  e.integer("RETRY_ATTEMPTS", 3),
				BaseDelay: e.duration("RETRY_BASE_DELAY", time.Second),
			},
			Pages: catalog.PaginatorConfig{
				PageSize:    e.integer("CATALOG_PAGE_SIZE", catalog.DefaultPageSize),
				MaxPages:    e.integer("CATALOG_MAX_PAGES", catalog.DefaultMaxPages),
				Mode:        catalog.Mode(strings.ToLower(e.str("FETCH_MODE", string(catalog.ModeSequential)))),
				Workers:     e.integer("FETCH_WORKERS", catalog.DefaultWorkers),
				Speculative: e.integer("FETCH_SPECULATIVE_PAGES", catalog.DefaultSpeculative),
				PageTimeout: e.duration("FETCH_PAGE_TIMEOUT", catalog.DefaultPageTimeout),
			},
		},
		Assistant: assistant.Config{
			BaseURL: e.str("LLM_BASE_URL", DefaultLLMURL),
			APIKey:  e.str("LLM_API_KEY", ""),
			Model:   e.str("LLM_MODEL", DefaultLLMModel),
		},
		Sessions: session.TTLs{
			Sets:   e.duration("SET_CACHE_TTL", session.DefaultSetTTL),
			Images: e.duration("IMAGE_CACHE_TTL", session.DefaultImageTTL),
			Idle:   e.duration("SESSION_IDLE_TTL", session.DefaultIdleTTL),
		},
		Database: database.Config{
			User:     e.str("DB_USER", ""),
			Password: e.str("DB_PASSWORD", ""),
			Host:     e.str("DB_HOST", ""),
			Port:     e.str("DB_PORT", "5432"),
			Name:     e.str("DB_NAME", ""),
		},
		Explorer: explorer.Options{
			EnrichPages: e.integer("ENRICH_MAX_PAGES", 10),
		},
		Port:     e.str("PORT", DefaultPort),
		LogLevel: e.str("LOG_LEVEL", "info"),
	}

	if e.err != nil {
		return Config{}, e.err
	}
	switch cfg.Catalog.Pages.Mode {
	case catalog.ModeSequential, catalog.ModeConcurrent:
	default:
		return Config{}, fmt.Errorf("FETCH_MODE must be %q or %q, got %q",
			catalog.ModeSequential, catalog.ModeConcurrent, cfg.Catalog.Pages.Mode)
	}
	if cfg.Catalog.APIKey == "" {
		return Config{}, ErrMissingAPIKey
	}
	return cfg, nil
}

// env remembers the first malformed variable so Load can report it
type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) str(key, fallback string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (e *env) integer(key string, fallback int) int {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if err != nil {
		return fallback
	}
	return n
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Bare numbers are seconds
		if secs, nerr := strconv.ParseFloat(v, 64); nerr == nil {
			return time.Duration(secs * float64(time.Second))
		}
		if e.err == nil {
			e.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		return fallback
	}
	return d
}
