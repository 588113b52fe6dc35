// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package rag wires embedding, retrieval, assembly, and generation into
// one pipeline. Embedding and search failures end a request
// immediately; only generation and ingestion retry.
package rag

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quill-dev/quill/internal/history"
	"github.com/quill-dev/quill/internal/index"
	"github.com/quill-dev/quill/internal/provider"
	"github.com/quill-dev/quill/internal/redact"
	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// noGroundingNote augments the system prompt when retrieval found
// nothing above the score floor.
const noGroundingNote = "No reference material matched this question. " +
	"Answer from general knowledge and say that no sources were found."

// Options tunes the pipeline. Zero values are replaced by defaults in
// NewPipeline.
type Options struct {
	SystemPrompt string
	SearchK      int
	MinScore     float64
	HistoryLimit int

	EmbedTimeout    time.Duration
	SearchTimeout   time.Duration
	GenerateTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.SearchK == 0 {
		o.SearchK = 5
	}
	if o.HistoryLimit == 0 {
		o.HistoryLimit = 10
	}
	if o.EmbedTimeout == 0 {
		o.EmbedTimeout = 10 * time.Second
	}
	if o.SearchTimeout == 0 {
		o.SearchTimeout = 5 * time.Second
	}
	if o.GenerateTimeout == 0 {
		o.GenerateTimeout = 60 * time.Second
	}
}

func (o *Options) validate() error {
	var errs []error
	if o.SearchK < 0 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"search k must not be negative, got %d", o.SearchK))
	}
	if o.MinScore < 0 || o.MinScore > 1 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"min score must be in [0,1], got %g", o.MinScore))
	}
	if o.HistoryLimit < 0 {
		errs = append(errs, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"history limit must not be negative, got %d", o.HistoryLimit))
	}
	return quillerr.Join(errs...)
}

// Response is one answered question with the documents cited in it.
type Response struct {
	Answer    string
	Citations []Citation
	Grounded  bool
}

// Pipeline orchestrates retrieval-augmented generation. The history
// store and redaction policy are optional; a nil history store disables
// conversation memory.
type Pipeline struct {
	embedder  provider.Embedder
	generator provider.Generator
	index     index.Index
	assembler *Assembler
	ingestor  *Ingestor

	history  history.Store
	redactor redact.Policy

	embedGate    *Gate
	generateGate *Gate

	opts  Options
	newID func() string

	// onPersisted, when set, is called after the fire-and-forget history
	// write finishes. Tests use it to wait for the background goroutine.
	onPersisted func()
}

// PipelineDeps carries the collaborators for NewPipeline.
type PipelineDeps struct {
	Embedder  provider.Embedder
	Generator provider.Generator
	Index     index.Index
	Assembler *Assembler
	Ingestor  *Ingestor

	History  history.Store
	Redactor redact.Policy

	EmbedGate    *Gate
	GenerateGate *Gate
}

// NewPipeline validates deps and options and builds a Pipeline.
func NewPipeline(deps PipelineDeps, opts Options) (*Pipeline, error) {
	if deps.Embedder == nil || deps.Generator == nil || deps.Index == nil ||
		deps.Assembler == nil || deps.Ingestor == nil {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"pipeline requires embedder, generator, index, assembler, and ingestor")
	}
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	return &Pipeline{
		embedder:     deps.Embedder,
		generator:    deps.Generator,
		index:        deps.Index,
		assembler:    deps.Assembler,
		ingestor:     deps.Ingestor,
		history:      deps.History,
		redactor:     deps.Redactor,
		embedGate:    deps.EmbedGate,
		generateGate: deps.GenerateGate,
		opts:         opts,
		newID:        uuid.NewString,
	}, nil
}

// GenerateResponse answers a query for one caller identity: embed the
// query, retrieve and assemble context, then generate. Empty retrieval
// is not an error; the answer proceeds ungrounded. A non-empty convo is
// the conversation so far as the caller sees it and takes precedence
// over the stored window; the pipeline only reads and extends the
// sequence it is handed.
func (p *Pipeline) GenerateResponse(ctx context.Context, identity, query string, convo []provider.Message) (Response, error) {
	if strings.TrimSpace(query) == "" {
		return Response{}, quillerr.Errorf(quillerr.CodeInputInvalid, "query must not be empty")
	}
	for i, m := range convo {
		if !m.Role.Valid() {
			return Response{}, quillerr.Errorf(quillerr.CodeInputInvalid,
				"conversation history message %d has invalid role %q", i, m.Role)
		}
	}

	start := time.Now()

	vector, err := p.embedQuery(ctx, query)
	if err != nil {
		return Response{}, err
	}

	results, err := p.search(ctx, vector)
	if err != nil {
		return Response{}, err
	}

	assembly := p.assembler.Assemble(results)
	grounded := assembly.Context != ""

	msgs := convo
	if len(msgs) == 0 {
		msgs = p.recentHistory(ctx, identity)
	}

	answer, err := p.generate(ctx, assembly, msgs, query)
	if err != nil {
		return Response{}, err
	}

	slog.Info("generated response",
		"identity_set", identity != "",
		"retrieved", len(results),
		"cited", len(assembly.Citations),
		"grounded", grounded,
		"duration", time.Since(start))

	p.persistTurns(identity, query, answer)

	return Response{
		Answer:    answer,
		Citations: assembly.Citations,
		Grounded:  grounded,
	}, nil
}

// SearchKnowledge embeds the query and returns raw index matches.
func (p *Pipeline) SearchKnowledge(ctx context.Context, query string, k int, minScore float64) ([]index.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, quillerr.Errorf(quillerr.CodeInputInvalid, "query must not be empty")
	}
	if k <= 0 {
		k = p.opts.SearchK
	}

	vector, err := p.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	searchCtx, cancel := context.WithTimeout(ctx, p.opts.SearchTimeout)
	defer cancel()
	return p.index.Search(searchCtx, vector, k, minScore)
}

// IngestDocument chunks, embeds, and indexes one document.
func (p *Pipeline) IngestDocument(ctx context.Context, doc DocumentInput) (IngestResult, error) {
	release, err := p.embedGate.Acquire(ctx)
	if err != nil {
		return IngestResult{}, err
	}
	defer release()

	return p.ingestor.Ingest(ctx, doc)
}

func (p *Pipeline) embedQuery(ctx context.Context, query string) ([]float32, error) {
	release, err := p.embedGate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	embedCtx, cancel := context.WithTimeout(ctx, p.opts.EmbedTimeout)
	defer cancel()

	// Query embedding is fail-fast: a retry here would stack on top of
	// user-facing latency.
	return p.embedder.Embed(embedCtx, query)
}

func (p *Pipeline) search(ctx context.Context, vector []float32) ([]index.SearchResult, error) {
	searchCtx, cancel := context.WithTimeout(ctx, p.opts.SearchTimeout)
	defer cancel()
	return p.index.Search(searchCtx, vector, p.opts.SearchK, p.opts.MinScore)
}

func (p *Pipeline) generate(ctx context.Context, assembly Assembly, msgs []provider.Message, query string) (string, error) {
	release, err := p.generateGate.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	genCtx, cancel := context.WithTimeout(ctx, p.opts.GenerateTimeout)
	defer cancel()

	systemPrompt := p.opts.SystemPrompt
	if assembly.Context == "" {
		if systemPrompt != "" {
			systemPrompt += "\n\n"
		}
		systemPrompt += noGroundingNote
	}

	return p.generator.Generate(genCtx, provider.GenerateRequest{
		SystemPrompt: systemPrompt,
		Context:      assembly.Context,
		History:      msgs,
		UserQuery:    query,
	})
}

// recentHistory loads conversation memory. A read failure degrades to an
// empty history rather than failing the request.
func (p *Pipeline) recentHistory(ctx context.Context, identity string) []provider.Message {
	if p.history == nil || identity == "" || p.opts.HistoryLimit == 0 {
		return nil
	}
	turns, err := p.history.Recent(ctx, identity, p.opts.HistoryLimit)
	if err != nil {
		slog.Warn("loading conversation history failed, proceeding without it", "error", err)
		return nil
	}
	msgs := make([]provider.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, provider.Message{
			Role:      t.Role,
			Content:   t.Content,
			Timestamp: t.CreatedAt,
		})
	}
	return msgs
}

// persistTurns records the exchange asynchronously. The request is
// already answered; a write failure is logged, never surfaced.
func (p *Pipeline) persistTurns(identity, query, answer string) {
	if p.history == nil || identity == "" {
		return
	}

	if p.redactor != nil {
		query = p.redactor.Redact(query)
		answer = p.redactor.Redact(answer)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if p.onPersisted != nil {
			defer p.onPersisted()
		}

		now := time.Now()
		turns := []history.Turn{
			{ID: p.newID(), Identity: identity, Role: provider.RoleUser, Content: query, CreatedAt: now},
			{ID: p.newID(), Identity: identity, Role: provider.RoleAssistant, Content: answer, CreatedAt: now.Add(time.Millisecond)},
		}
		for _, t := range turns {
			if err := p.history.Append(ctx, t); err != nil {
				slog.Warn("persisting conversation turn failed", "role", t.Role, "error", err)
				return
			}
		}
	}()
}
