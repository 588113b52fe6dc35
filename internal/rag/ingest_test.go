// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package rag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-dev/quill/internal/index/memindex"
	"github.com/quill-dev/quill/internal/provider"
	quillerr "github.com/quill-dev/quill/pkg/errors"
)

func testRetry() provider.RetryPolicy {
	return provider.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestIngestor(t *testing.T, emb *fakeEmbedder) (*Ingestor, *memindex.Index) {
	t.Helper()
	chunker, err := NewChunker(64, 8)
	require.NoError(t, err)
	ix := memindex.New(emb.Dimension())
	return NewIngestor(chunker, emb, ix, testRetry()), ix
}

func TestIngestor_IngestIndexesAllChunks(t *testing.T) {
	ctx := context.Background()
	emb := newFakeEmbedder()
	in, ix := newTestIngestor(t, emb)

	res, err := in.Ingest(ctx, DocumentInput{
		ID:      "guide",
		Content: "Fevers in infants under three months always warrant a call to the pediatrician. A newborn fever above 38C is an emergency.",
		Source:  "peds-handbook",
	})
	require.NoError(t, err)
	assert.Equal(t, "guide", res.DocumentID)
	require.NotEmpty(t, res.Chunks)
	assert.Zero(t, res.Failed())

	for _, c := range res.Chunks {
		doc, err := ix.Get(ctx, c.DocumentID)
		require.NoError(t, err)
		assert.Equal(t, "peds-handbook", doc.Metadata["source"])
		assert.NotEmpty(t, doc.Metadata[MetadataChunkIndex])
	}
	assert.Equal(t, "guide-c0", res.Chunks[0].DocumentID)
}

func TestIngestor_AssignsIDWhenEmpty(t *testing.T) {
	emb := newFakeEmbedder()
	in, _ := newTestIngestor(t, emb)
	in.newID = func() string { return "generated" }

	res, err := in.Ingest(context.Background(), DocumentInput{Content: "some fever advice", Source: "s"})
	require.NoError(t, err)
	assert.Equal(t, "generated", res.DocumentID)
}

func TestIngestor_ValidationErrors(t *testing.T) {
	emb := newFakeEmbedder()
	in, _ := newTestIngestor(t, emb)

	_, err := in.Ingest(context.Background(), DocumentInput{Source: "s"})
	require.Error(t, err)
	assert.True(t, quillerr.IsInputInvalid(err))

	_, err = in.Ingest(context.Background(), DocumentInput{Content: "text"})
	require.Error(t, err)
	assert.True(t, quillerr.IsInputInvalid(err))
}

func TestIngestor_BatchPreferredOverSingles(t *testing.T) {
	emb := newFakeEmbedder()
	in, _ := newTestIngestor(t, emb)

	_, err := in.Ingest(context.Background(), DocumentInput{ID: "d", Content: "infant feeding schedule", Source: "s"})
	require.NoError(t, err)
	assert.Equal(t, 1, emb.batchCalls)
	assert.Zero(t, emb.embedCalls)
}

func TestIngestor_FallsBackToPerChunkOnBatchFailure(t *testing.T) {
	emb := newFakeEmbedder()
	emb.batchErr = quillerr.Errorf(quillerr.CodeEmbedUpstreamFailure, "batch endpoint down")
	in, ix := newTestIngestor(t, emb)

	res, err := in.Ingest(context.Background(), DocumentInput{ID: "d", Content: "newborn sleep guidance", Source: "s"})
	require.NoError(t, err)
	assert.Zero(t, res.Failed())
	assert.GreaterOrEqual(t, emb.embedCalls, 1)

	_, err = ix.Get(context.Background(), "d-c0")
	require.NoError(t, err)
}

func TestIngestor_ReportsPerChunkFailures(t *testing.T) {
	emb := newFakeEmbedder()
	emb.batchErr = quillerr.Errorf(quillerr.CodeEmbedUpstreamFailure, "batch down")
	emb.embedErr = quillerr.Errorf(quillerr.CodeEmbedUpstreamFailure, "singles down too")
	in, _ := newTestIngestor(t, emb)

	res, err := in.Ingest(context.Background(), DocumentInput{ID: "d", Content: "cough dosing chart", Source: "s"})
	require.NoError(t, err, "per-chunk failures are reported, not returned")
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, len(res.Chunks), res.Failed())
	for _, c := range res.Chunks {
		assert.True(t, quillerr.IsUpstreamFailure(c.Err))
	}
}
