// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package openai implements provider.Embedder using the OpenAI
// Embeddings API.
package openai

import (
	"context"
	"errors"
	"net/http"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	"github.com/quill-dev/quill/internal/provider"
	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// Config holds OpenAI embedder configuration.
type Config struct {
	APIKey    string
	Model     string
	Dimension int
	BaseURL   string // optional, useful for testing against a mock server

	// RequestsPerSecond paces outbound calls client-side so batch
	// ingestion does not trip the provider's own limiter. Zero disables
	// pacing.
	RequestsPerSecond float64
}

// Embedder implements provider.Embedder backed by OpenAI.
type Embedder struct {
	client    openaisdk.Client
	model     string
	dimension int
	pacer     *rate.Limiter
}

// Compile-time interface check.
var _ provider.Embedder = (*Embedder)(nil)

// New creates a new OpenAI embedder. Returns an error if the API key or
// model is missing.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid, "openai: missing api_key in config")
	}
	if cfg.Model == "" {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid, "openai: missing embedding model in config")
	}
	if cfg.Dimension <= 0 {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid, "openai: embedding dimension must be positive, got %d", cfg.Dimension)
	}

	// Retry behavior is owned by the ingestion pipeline, not the SDK.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	var pacer *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Embedder{
		client:    openaisdk.NewClient(opts...),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		pacer:     pacer,
	}, nil
}

func (e *Embedder) Dimension() int { return e.dimension }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds all texts in one API call. The call is atomic: any
// failure returns no vectors. Output order matches input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, quillerr.Errorf(quillerr.CodeInputInvalid, "embed batch must not be empty")
	}
	for i, t := range texts {
		if t == "" {
			return nil, quillerr.Errorf(quillerr.CodeInputInvalid, "embed batch item %d is empty", i)
		}
	}

	if e.pacer != nil {
		if err := e.pacer.Wait(ctx); err != nil {
			return nil, quillerr.Wrapf(err, quillerr.CodeEmbedUpstreamFailure, "waiting for embed pacing")
		}
	}

	resp, err := e.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          openaisdk.EmbeddingModel(e.model),
		Dimensions:     openaisdk.Int(int64(e.dimension)),
		EncodingFormat: openaisdk.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, classifyError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, quillerr.Errorf(quillerr.CodeEmbedMalformedResponse,
			"embeddings response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, quillerr.Errorf(quillerr.CodeEmbedMalformedResponse,
				"embeddings response index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.dimension {
			return nil, quillerr.Errorf(quillerr.CodeEmbedMalformedResponse,
				"embedding %d has %d dimensions, expected %d", d.Index, len(d.Embedding), e.dimension)
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		vectors[d.Index] = vec
	}
	for i, v := range vectors {
		if v == nil {
			return nil, quillerr.Errorf(quillerr.CodeEmbedMalformedResponse,
				"embeddings response missing vector for input %d", i)
		}
	}

	return vectors, nil
}

func classifyError(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
			http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
			return quillerr.Wrapf(err, quillerr.CodeInputInvalid,
				"embeddings request rejected (status %d)", apiErr.StatusCode)
		}
	}
	return quillerr.Wrapf(err, quillerr.CodeEmbedUpstreamFailure, "calling embeddings api")
}
