// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package rag

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/quill-dev/quill/internal/index"
	"github.com/quill-dev/quill/internal/provider"
	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// DocumentInput is one document submitted for ingestion. ID is optional;
// a UUID is assigned when empty.
type DocumentInput struct {
	ID      string
	Content string
	Source  string
}

func (d DocumentInput) validate() error {
	var errs []error
	if strings.TrimSpace(d.Content) == "" {
		errs = append(errs, quillerr.Errorf(quillerr.CodeInputInvalid, "document content must not be empty"))
	}
	if strings.TrimSpace(d.Source) == "" {
		errs = append(errs, quillerr.Errorf(quillerr.CodeInputInvalid, "document source must not be empty"))
	}
	return quillerr.Join(errs...)
}

// ChunkResult reports the outcome for one chunk of an ingested document.
// Err is nil for chunks that were embedded and indexed.
type ChunkResult struct {
	Index      int
	DocumentID string
	Err        error
}

// IngestResult summarises one document's ingestion.
type IngestResult struct {
	DocumentID string
	Chunks     []ChunkResult
}

// Failed reports how many chunks were not indexed.
func (r IngestResult) Failed() int {
	n := 0
	for _, c := range r.Chunks {
		if c.Err != nil {
			n++
		}
	}
	return n
}

// Ingestor chunks, embeds, and indexes documents. Batch embedding is
// attempted first; when the whole batch fails transiently after
// retries, each chunk falls back to an individual embed so one bad
// window cannot sink the rest of the document.
type Ingestor struct {
	chunker  *Chunker
	embedder provider.Embedder
	index    index.Index
	retry    provider.RetryPolicy
	newID    func() string
}

// NewIngestor wires an Ingestor. retry governs calls to the embedder.
func NewIngestor(chunker *Chunker, embedder provider.Embedder, ix index.Index, retry provider.RetryPolicy) *Ingestor {
	return &Ingestor{
		chunker:  chunker,
		embedder: embedder,
		index:    ix,
		retry:    retry,
		newID:    uuid.NewString,
	}
}

// Ingest processes one document. Validation and chunking errors fail the
// whole call; embedding and indexing errors are reported per chunk so
// callers can retry just the failures.
func (in *Ingestor) Ingest(ctx context.Context, doc DocumentInput) (IngestResult, error) {
	if err := doc.validate(); err != nil {
		return IngestResult{}, err
	}
	if doc.ID == "" {
		doc.ID = in.newID()
	}

	chunks := in.chunker.Split(doc.ID, doc.Content)
	if len(chunks) == 0 {
		return IngestResult{}, quillerr.Errorf(quillerr.CodeInputInvalid,
			"document %s produced no chunks", doc.ID)
	}

	result := IngestResult{
		DocumentID: doc.ID,
		Chunks:     make([]ChunkResult, len(chunks)),
	}
	for i, c := range chunks {
		result.Chunks[i] = ChunkResult{Index: c.Index, DocumentID: c.ID}
	}

	vectors, batchErr := in.embedBatch(ctx, chunks)
	if batchErr != nil {
		slog.Warn("batch embed failed, falling back to per-chunk embedding",
			"document_id", doc.ID, "chunks", len(chunks), "error", batchErr)
		vectors = in.embedEach(ctx, chunks, result.Chunks)
	}

	for i, c := range chunks {
		if result.Chunks[i].Err != nil {
			continue
		}
		err := in.index.Upsert(ctx, index.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  chunkMetadata(doc.Source, c.Index),
			Embedding: vectors[i],
		})
		if err != nil {
			result.Chunks[i].Err = err
		}
	}

	if failed := result.Failed(); failed > 0 {
		slog.Warn("document partially ingested",
			"document_id", doc.ID, "chunks", len(chunks), "failed", failed)
	}
	return result, nil
}

func (in *Ingestor) embedBatch(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	var vectors [][]float32
	err := in.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = in.embedder.EmbedBatch(ctx, texts)
		return err
	}, quillerr.IsUpstreamFailure)
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// embedEach embeds chunks one at a time, recording failures in results.
// The returned slice is positionally aligned with chunks; failed
// entries are nil.
func (in *Ingestor) embedEach(ctx context.Context, chunks []Chunk, results []ChunkResult) [][]float32 {
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		err := in.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			vectors[i], err = in.embedder.Embed(ctx, c.Content)
			return err
		}, quillerr.IsUpstreamFailure)
		if err != nil {
			results[i].Err = err
		}
	}
	return vectors
}
