// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package memindex provides an in-memory cosine-similarity index. It
// backs the "memory" backend for single-node development and is the
// index of choice in tests.
package memindex

import (
	"context"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/quill-dev/quill/internal/index"
	quillerr "github.com/quill-dev/quill/pkg/errors"
)

func init() {
	index.RegisterBackend("memory", func(cfg index.Config) (index.Index, error) {
		return New(cfg.Dimension), nil
	})
}

// Compile-time interface check.
var _ index.Index = (*Index)(nil)

// Index is a mutex-guarded map of documents with brute-force
// nearest-neighbor search. Safe for concurrent use.
type Index struct {
	mu        sync.RWMutex
	docs      map[string]index.Document
	dimension int
}

// New creates an empty in-memory index. dimension <= 0 accepts the first
// upserted embedding's length as the index dimension.
func New(dimension int) *Index {
	return &Index{
		docs:      make(map[string]index.Document),
		dimension: dimension,
	}
}

func (ix *Index) Upsert(_ context.Context, doc index.Document) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := doc.Validate(ix.dimension); err != nil {
		return err
	}
	if ix.dimension <= 0 {
		ix.dimension = len(doc.Embedding)
	}

	now := time.Now()
	if prev, ok := ix.docs[doc.ID]; ok {
		// Idempotent by ID: creation time survives re-upserts.
		doc.CreatedAt = prev.CreatedAt
	} else if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	ix.docs[doc.ID] = cloneDoc(doc)
	return nil
}

func (ix *Index) Search(_ context.Context, vector []float32, k int, minScore float64) ([]index.SearchResult, error) {
	if k <= 0 {
		return nil, quillerr.Errorf(quillerr.CodeInputInvalid, "search k must be positive, got %d", k)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.docs) == 0 {
		return []index.SearchResult{}, nil
	}
	if ix.dimension > 0 && len(vector) != ix.dimension {
		return nil, quillerr.Errorf(quillerr.CodeInputInvalid,
			"query vector has %d dimensions, index expects %d", len(vector), ix.dimension)
	}

	results := make([]index.SearchResult, 0, len(ix.docs))
	for _, doc := range ix.docs {
		score := cosine(vector, doc.Embedding)
		if score < minScore {
			continue
		}
		results = append(results, index.SearchResult{Document: cloneDoc(doc), Score: score})
	}

	slices.SortFunc(results, compareResults)

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (ix *Index) Get(_ context.Context, id string) (index.Document, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	doc, ok := ix.docs[id]
	if !ok {
		return index.Document{}, quillerr.Errorf(quillerr.CodeDocumentNotFound, "document %s not found", id)
	}
	return cloneDoc(doc), nil
}

func (ix *Index) Delete(_ context.Context, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.docs, id)
	return nil
}

func (ix *Index) Close() error { return nil }

// compareResults orders descending by score, ties broken by most recent
// CreatedAt, then by ID for full determinism.
func compareResults(a, b index.SearchResult) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	switch {
	case a.Document.CreatedAt.After(b.Document.CreatedAt):
		return -1
	case a.Document.CreatedAt.Before(b.Document.CreatedAt):
		return 1
	}
	return strcmp(a.Document.ID, b.Document.ID)
}

func strcmp(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func cloneDoc(doc index.Document) index.Document {
	doc.Metadata = maps.Clone(doc.Metadata)
	doc.Embedding = slices.Clone(doc.Embedding)
	return doc
}
