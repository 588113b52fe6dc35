// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package main

import (
	"github.com/quill-dev/quill/internal/config"
	"github.com/quill-dev/quill/internal/history"
	historysqlite "github.com/quill-dev/quill/internal/history/sqlite"
	"github.com/quill-dev/quill/internal/index"
	_ "github.com/quill-dev/quill/internal/index/memindex"  // register memory backend
	_ "github.com/quill-dev/quill/internal/index/sqlitevec" // register sqlite backend
	"github.com/quill-dev/quill/internal/provider"
	anthropicprov "github.com/quill-dev/quill/internal/provider/anthropic"
	openaiprov "github.com/quill-dev/quill/internal/provider/openai"
	"github.com/quill-dev/quill/internal/rag"
	"github.com/quill-dev/quill/internal/ratelimit"
	"github.com/quill-dev/quill/internal/redact"
	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// App holds the wired subsystems and manages their lifecycle.
type App struct {
	Pipeline *rag.Pipeline
	Limiter  *ratelimit.Limiter

	index   index.Index
	history history.Store
	done    chan struct{}
}

// WireApp builds every subsystem from configuration.
func WireApp(cfg *config.Config) (*App, error) {
	embedder, err := openaiprov.New(openaiprov.Config{
		APIKey:            cfg.Embedding.APIKey,
		Model:             cfg.Embedding.Model,
		Dimension:         cfg.Embedding.Dimension,
		BaseURL:           cfg.Embedding.BaseURL,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})
	if err != nil {
		return nil, quillerr.Wrapf(err, quillerr.CodeConfigInvalid, "wiring embedder")
	}

	retry := provider.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Generation.MaxRetries

	generator, err := anthropicprov.New(anthropicprov.Config{
		APIKey:    cfg.Generation.APIKey,
		Model:     cfg.Generation.Model,
		MaxTokens: cfg.Generation.MaxTokens,
		BaseURL:   cfg.Generation.BaseURL,
		Retry:     retry,
	})
	if err != nil {
		return nil, quillerr.Wrapf(err, quillerr.CodeConfigInvalid, "wiring generator")
	}

	ix, err := index.New(index.Config{
		Backend:   cfg.Index.Backend,
		Path:      cfg.Index.Path,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return nil, quillerr.Wrapf(err, quillerr.CodeConfigInvalid, "wiring vector index")
	}

	app := &App{index: ix, done: make(chan struct{})}

	var hist history.Store
	if cfg.History.Enabled {
		hist, err = historysqlite.New(cfg.History.Path)
		if err != nil {
			app.Close()
			return nil, quillerr.Wrapf(err, quillerr.CodeConfigInvalid, "wiring history store")
		}
		app.history = hist
	}

	chunker, err := rag.NewChunker(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
	if err != nil {
		app.Close()
		return nil, err
	}
	assembler, err := rag.NewAssembler(cfg.Retrieval.MinScore, cfg.Retrieval.MaxDocs, cfg.Retrieval.ContextBudget)
	if err != nil {
		app.Close()
		return nil, err
	}
	embedGate, err := rag.NewGate("embedding", int64(cfg.Gates.EmbedLimit), cfg.Gates.AcquireWait)
	if err != nil {
		app.Close()
		return nil, err
	}
	generateGate, err := rag.NewGate("generation", int64(cfg.Gates.GenerateLimit), cfg.Gates.AcquireWait)
	if err != nil {
		app.Close()
		return nil, err
	}

	pipeline, err := rag.NewPipeline(rag.PipelineDeps{
		Embedder:     embedder,
		Generator:    generator,
		Index:        ix,
		Assembler:    assembler,
		Ingestor:     rag.NewIngestor(chunker, embedder, ix, retry),
		History:      hist,
		Redactor:     redact.NewDefaultPolicy(),
		EmbedGate:    embedGate,
		GenerateGate: generateGate,
	}, rag.Options{
		SystemPrompt:    cfg.Generation.SystemPrompt,
		SearchK:         cfg.Retrieval.MaxDocs,
		MinScore:        cfg.Retrieval.MinScore,
		HistoryLimit:    cfg.History.Window,
		EmbedTimeout:    cfg.Embedding.Timeout,
		GenerateTimeout: cfg.Generation.Timeout,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Pipeline = pipeline

	routes := make(map[string]ratelimit.RouteConfig, len(cfg.RateLimit.Routes))
	for name, rl := range cfg.RateLimit.Routes {
		routes[name] = ratelimit.RouteConfig{
			RequestsPerMinute: rl.RequestsPerMinute,
			Burst:             rl.Burst,
		}
	}
	limiter, err := ratelimit.New(ratelimit.Config{
		Enabled: cfg.RateLimit.Enabled,
		MaxKeys: cfg.RateLimit.MaxKeys,
		Routes:  routes,
	}, app.done)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Limiter = limiter

	return app, nil
}

// Close releases every subsystem. Safe to call on a partially wired App.
func (a *App) Close() {
	select {
	case <-a.done:
	default:
		close(a.done)
	}
	if a.history != nil {
		_ = a.history.Close()
	}
	if a.index != nil {
		_ = a.index.Close()
	}
}
