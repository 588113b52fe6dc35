// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package index defines the vector index the pipeline searches and the
// document model it stores. Backends register themselves by name; the
// interface is defined here, on the consumer side.
package index

import (
	"context"
	"time"

	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// MetadataSource is the one metadata key every document must carry.
const MetadataSource = "source"

// Document is a unit of indexed knowledge. The embedding is set once at
// ingestion and immutable afterwards; the index owns the document from
// the moment it is upserted.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the invariants an index relies on. dimension <= 0 skips
// the embedding length check (backend decides lazily).
func (d Document) Validate(dimension int) error {
	if d.ID == "" {
		return quillerr.New(quillerr.CodeInputInvalid, "document id must not be empty")
	}
	if d.Content == "" {
		return quillerr.New(quillerr.CodeInputInvalid, "document content must not be empty")
	}
	if d.Metadata[MetadataSource] == "" {
		return quillerr.New(quillerr.CodeInputInvalid, "document metadata must include source",
			quillerr.Field("doc_id", d.ID))
	}
	if len(d.Embedding) == 0 {
		return quillerr.New(quillerr.CodeInputInvalid, "document embedding must not be empty",
			quillerr.Field("doc_id", d.ID))
	}
	if dimension > 0 && len(d.Embedding) != dimension {
		return quillerr.Errorf(quillerr.CodeInputInvalid,
			"document %s embedding has %d dimensions, index expects %d; mixing embedding models in one index is an error",
			d.ID, len(d.Embedding), dimension)
	}
	return nil
}

// SearchResult pairs a stored document with its similarity to the query.
// Score is cosine similarity: bounded, higher means more similar, and
// comparable across results of one search call. Results are ephemeral.
type SearchResult struct {
	Document Document
	Score    float64
}

// Index is the nearest-neighbor store the pipeline talks to.
type Index interface {
	// Upsert inserts or replaces a document by ID. The first call creates
	// the backing schema if absent. Upserts are idempotent.
	Upsert(ctx context.Context, doc Document) error

	// Search returns up to k results sorted descending by score, ties
	// broken by most recent CreatedAt first. Results scoring below
	// minScore are dropped. An empty or uninitialized index yields an
	// empty slice, never an error.
	Search(ctx context.Context, vector []float32, k int, minScore float64) ([]SearchResult, error)

	// Get fetches a document by ID; absence is a CodeDocumentNotFound error.
	Get(ctx context.Context, id string) (Document, error)

	// Delete removes a document by ID. Deleting an absent ID is a no-op.
	Delete(ctx context.Context, id string) error

	Close() error
}
