// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package provider defines the capability interfaces the retrieval
// pipeline consumes: text embedding and grounded generation. Vendor SDK
// payloads are converted to the typed structs here at the adapter
// boundary, so malformed upstream data fails in exactly one place.
package provider

import (
	"context"
	"time"
)

// Embedder maps text to fixed-dimension vectors.
type Embedder interface {
	// Embed returns the embedding for a single non-empty text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts preserving input order. The call is atomic:
	// any failure fails the whole batch so the text-to-vector mapping is
	// never ambiguous.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the vector length this embedder produces.
	Dimension() int
}

// Generator invokes a generative model with an assembled message set and
// returns the completion text.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// GenerateRequest carries everything needed to build the model prompt.
type GenerateRequest struct {
	// SystemPrompt sets the assistant's standing instructions.
	SystemPrompt string
	// Context is the retrieved evidence block; empty means the model is
	// told explicitly that no grounding was found.
	Context string
	// History is the prior conversation in order.
	History []Message
	// UserQuery is the trailing user message.
	UserQuery string
	// MaxTokens caps the completion length; zero uses the adapter default.
	MaxTokens int
	// Temperature, when non-nil, overrides the adapter default.
	Temperature *float64
}

// MessageRole identifies the sender of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether the role is one the pipeline accepts.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Message is a single conversation turn. An ordered sequence of messages
// forms a conversation; the pipeline only ever reads and extends the
// in-memory sequence handed to it, durability belongs to the history store.
type Message struct {
	Role      MessageRole
	Content   string
	Timestamp time.Time
}
