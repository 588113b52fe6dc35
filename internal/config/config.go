// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package config loads and validates the Quill configuration from file
// and environment.
package config

import (
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// Config is the top-level Quill configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Generation GenerationConfig `mapstructure:"generation"`
	Index      IndexConfig      `mapstructure:"index"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	History    HistoryConfig    `mapstructure:"history"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Gates      GatesConfig      `mapstructure:"gates"`
}

// ServerConfig controls how Quill listens for connections.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Dimension         int           `mapstructure:"dimension"`
	BaseURL           string        `mapstructure:"base_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// GenerationConfig holds the generation provider settings.
type GenerationConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	BaseURL      string        `mapstructure:"base_url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SystemPrompt string        `mapstructure:"system_prompt"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// RetrievalConfig tunes chunking, search, and context assembly.
type RetrievalConfig struct {
	ChunkSize     int     `mapstructure:"chunk_size"`
	ChunkOverlap  int     `mapstructure:"chunk_overlap"`
	MaxDocs       int     `mapstructure:"max_docs"`
	MinScore      float64 `mapstructure:"min_score"`
	ContextBudget int     `mapstructure:"context_budget"`
}

// HistoryConfig controls durable conversation memory.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Window  int    `mapstructure:"window"`
}

// RateLimitConfig sets per-route request limits.
type RateLimitConfig struct {
	Enabled bool                  `mapstructure:"enabled"`
	MaxKeys int                   `mapstructure:"max_keys"`
	Routes  map[string]RouteLimit `mapstructure:"routes"`
}

// RouteLimit is the token bucket for one route.
type RouteLimit struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// GatesConfig bounds concurrent upstream calls.
type GatesConfig struct {
	EmbedLimit    int           `mapstructure:"embed_limit"`
	GenerateLimit int           `mapstructure:"generate_limit"`
	AcquireWait   time.Duration `mapstructure:"acquire_wait"`
}

// DefaultSystemPrompt grounds answers in retrieved material and keeps
// the assistant from posing as a clinician.
const DefaultSystemPrompt = "You are a careful assistant for new parents. " +
	"Ground your answers in the provided reference material and cite it. " +
	"You are not a doctor; for anything urgent, tell the user to contact a medical professional."

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix QUILL_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults. The api_key defaults are empty but must be registered so
	// AutomaticEnv surfaces env-only keys through Unmarshal.
	v.SetDefault("server.listen", "127.0.0.1:8321")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.requests_per_second", 5.0)
	v.SetDefault("embedding.timeout", "10s")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.model", "claude-sonnet-4-5")
	v.SetDefault("generation.max_tokens", 1024)
	v.SetDefault("generation.max_retries", 2)
	v.SetDefault("generation.timeout", "60s")
	v.SetDefault("generation.system_prompt", DefaultSystemPrompt)
	v.SetDefault("index.backend", "sqlite")
	v.SetDefault("index.path", "quill.db")
	v.SetDefault("retrieval.chunk_size", 1000)
	v.SetDefault("retrieval.chunk_overlap", 100)
	v.SetDefault("retrieval.max_docs", 5)
	v.SetDefault("retrieval.min_score", 0.25)
	v.SetDefault("retrieval.context_budget", 8000)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "quill-history.db")
	v.SetDefault("history.window", 10)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.max_keys", 10000)
	v.SetDefault("rate_limit.routes.generate.requests_per_minute", 20)
	v.SetDefault("rate_limit.routes.generate.burst", 5)
	v.SetDefault("rate_limit.routes.ingest.requests_per_minute", 60)
	v.SetDefault("rate_limit.routes.ingest.burst", 10)
	v.SetDefault("rate_limit.routes.search.requests_per_minute", 60)
	v.SetDefault("rate_limit.routes.search.burst", 10)
	v.SetDefault("gates.embed_limit", 8)
	v.SetDefault("gates.generate_limit", 4)
	v.SetDefault("gates.acquire_wait", "2s")

	// Environment
	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File. When no path is given, fall back to the default location if
	// a config exists there.
	if path == "" {
		if p, err := DefaultConfigPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, quillerr.Errorf(quillerr.CodeConfigInvalid, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateGeneration()...)
	errs = append(errs, c.validateIndex()...)
	errs = append(errs, c.validateRetrieval()...)
	errs = append(errs, c.validateHistory()...)
	errs = append(errs, c.validateGates()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid, "config: server.listen must not be empty"))
		return errs
	}
	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
		return errs
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: server.listen port must be between 1 and 65535, got %d", port))
	}

	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error

	if c.Embedding.Model == "" {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid, "config: embedding.model must not be empty"))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: embedding.dimension must be positive, got %d", c.Embedding.Dimension))
	}
	if c.Embedding.RequestsPerSecond < 0 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: embedding.requests_per_second must not be negative, got %g", c.Embedding.RequestsPerSecond))
	}

	return errs
}

func (c *Config) validateGeneration() []error {
	var errs []error

	if c.Generation.Model == "" {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid, "config: generation.model must not be empty"))
	}
	if c.Generation.MaxTokens <= 0 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: generation.max_tokens must be positive, got %d", c.Generation.MaxTokens))
	}
	if c.Generation.MaxRetries < 0 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: generation.max_retries must not be negative, got %d", c.Generation.MaxRetries))
	}

	return errs
}

func (c *Config) validateIndex() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Index.Backend] {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: index.backend must be one of [sqlite, memory], got %q", c.Index.Backend))
	}
	if c.Index.Backend == "sqlite" && c.Index.Path == "" {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: index.path must not be empty for the sqlite backend"))
	}

	return errs
}

func (c *Config) validateRetrieval() []error {
	var errs []error

	if c.Retrieval.ChunkSize <= 0 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: retrieval.chunk_size must be positive, got %d", c.Retrieval.ChunkSize))
	}
	if c.Retrieval.ChunkOverlap < 0 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: retrieval.chunk_overlap must not be negative, got %d", c.Retrieval.ChunkOverlap))
	}
	if c.Retrieval.ChunkSize > 0 && c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: retrieval.chunk_overlap (%d) must be smaller than retrieval.chunk_size (%d)",
			c.Retrieval.ChunkOverlap, c.Retrieval.ChunkSize))
	}
	if c.Retrieval.MaxDocs <= 0 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: retrieval.max_docs must be positive, got %d", c.Retrieval.MaxDocs))
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: retrieval.min_score must be in [0,1], got %g", c.Retrieval.MinScore))
	}
	if c.Retrieval.ContextBudget <= 0 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: retrieval.context_budget must be positive, got %d", c.Retrieval.ContextBudget))
	}

	return errs
}

func (c *Config) validateHistory() []error {
	var errs []error

	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: history.path must not be empty when history is enabled"))
	}
	if c.History.Window < 0 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: history.window must not be negative, got %d", c.History.Window))
	}

	return errs
}

func (c *Config) validateGates() []error {
	var errs []error

	if c.Gates.EmbedLimit <= 0 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: gates.embed_limit must be positive, got %d", c.Gates.EmbedLimit))
	}
	if c.Gates.GenerateLimit <= 0 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: gates.generate_limit must be positive, got %d", c.Gates.GenerateLimit))
	}
	if c.Gates.AcquireWait <= 0 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"config: gates.acquire_wait must be positive, got %s", c.Gates.AcquireWait))
	}

	return errs
}
