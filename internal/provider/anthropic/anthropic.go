// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package anthropic implements provider.Generator using the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/quill-dev/quill/internal/provider"
	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// Config holds Anthropic generator configuration.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string // optional, useful for testing against a mock server

	Retry provider.RetryPolicy
}

// Generator implements provider.Generator backed by Anthropic.
type Generator struct {
	client    anthropicsdk.Client
	model     string
	maxTokens int
	retry     provider.RetryPolicy
}

// Compile-time interface check.
var _ provider.Generator = (*Generator)(nil)

// New creates a new Anthropic generator. Returns an error if the API key
// or model is missing.
func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid, "anthropic: missing api_key in config")
	}
	if cfg.Model == "" {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid, "anthropic: missing model in config")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = provider.DefaultRetryPolicy()
	}

	// Retry behavior is owned here via the retry policy, not the SDK.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Generator{
		client:    anthropicsdk.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		retry:     cfg.Retry,
	}, nil
}

// Generate produces one completion. Transient upstream failures are
// retried per the configured policy; malformed responses and request
// rejections are not.
func (g *Generator) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	params, err := g.buildParams(req)
	if err != nil {
		return "", err
	}

	var text string
	err = g.retry.Do(ctx, func(ctx context.Context) error {
		msg, err := g.client.Messages.New(ctx, params)
		if err != nil {
			return classifyError(err)
		}
		text, err = extractText(msg)
		return err
	}, quillerr.IsUpstreamFailure)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (g *Generator) buildParams(req provider.GenerateRequest) (anthropicsdk.MessageNewParams, error) {
	if req.UserQuery == "" {
		return anthropicsdk.MessageNewParams{}, quillerr.Errorf(quillerr.CodeInputInvalid,
			"generate request user query must not be empty")
	}

	messages, err := buildMessages(req)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	maxTokens := g.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(g.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if system := buildSystem(req); system != "" {
		params.System = []anthropicsdk.TextBlockParam{
			{Text: system},
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropicsdk.Float(*req.Temperature)
	}
	return params, nil
}

// buildSystem combines the configured system prompt with the retrieved
// context so the model grounds its answer before seeing the question.
func buildSystem(req provider.GenerateRequest) string {
	var b strings.Builder
	if req.SystemPrompt != "" {
		b.WriteString(req.SystemPrompt)
	}
	if req.Context != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Use the following reference material to answer:\n\n")
		b.WriteString(req.Context)
	}
	return b.String()
}

func buildMessages(req provider.GenerateRequest) ([]anthropicsdk.MessageParam, error) {
	result := make([]anthropicsdk.MessageParam, 0, len(req.History)+1)
	for i, msg := range req.History {
		switch msg.Role {
		case provider.RoleUser:
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewTextBlock(msg.Content)))
		case provider.RoleAssistant:
			result = append(result, anthropicsdk.NewAssistantMessage(
				anthropicsdk.NewTextBlock(msg.Content)))
		case provider.RoleSystem:
			// System turns ride in the request's system field, never the
			// message list.
			continue
		default:
			return nil, quillerr.Errorf(quillerr.CodeInputInvalid,
				"history message %d has invalid role %q", i, msg.Role)
		}
	}
	result = append(result, anthropicsdk.NewUserMessage(
		anthropicsdk.NewTextBlock(req.UserQuery)))
	return result, nil
}

func extractText(msg *anthropicsdk.Message) (string, error) {
	if msg == nil || len(msg.Content) == 0 {
		return "", quillerr.Errorf(quillerr.CodeGenerateMalformedResponse,
			"messages response has no content blocks")
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	if b.Len() == 0 {
		return "", quillerr.Errorf(quillerr.CodeGenerateMalformedResponse,
			"messages response has no text content")
	}
	return b.String(), nil
}

func classifyError(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
			http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
			return quillerr.Wrapf(err, quillerr.CodeInputInvalid,
				"messages request rejected (status %d)", apiErr.StatusCode)
		}
	}
	return quillerr.Wrapf(err, quillerr.CodeGenerateUpstreamFailure, "calling messages api")
}
