// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-dev/quill/internal/index"
)

func result(id, content, source string, score float64) index.SearchResult {
	return index.SearchResult{
		Document: index.Document{
			ID:       id,
			Content:  content,
			Metadata: map[string]string{index.MetadataSource: source},
		},
		Score: score,
	}
}

func TestAssembler_NumberedBlocks(t *testing.T) {
	a, err := NewAssembler(0.1, 5, 10000)
	require.NoError(t, err)

	got := a.Assemble([]index.SearchResult{
		result("d1", "fevers in infants under three months need urgent review", "peds-guide", 0.9),
		result("d2", "most toddler fevers resolve without treatment", "peds-guide", 0.7),
	})

	want := "[1] fevers in infants under three months need urgent review\nsource: peds-guide\n\n" +
		"[2] most toddler fevers resolve without treatment\nsource: peds-guide"
	assert.Equal(t, want, got.Context)
	require.Len(t, got.Citations, 2)
	assert.Equal(t, "d1", got.Citations[0].ID)
	assert.Equal(t, 0.9, got.Citations[0].Score)
	assert.Equal(t, "peds-guide", got.Citations[0].Source)
}

func TestAssembler_ScoreFloor(t *testing.T) {
	a, err := NewAssembler(0.5, 5, 10000)
	require.NoError(t, err)

	got := a.Assemble([]index.SearchResult{
		result("high", "kept", "s", 0.8),
		result("low", "dropped", "s", 0.2),
	})
	require.Len(t, got.Citations, 1)
	assert.Equal(t, "high", got.Citations[0].ID)
	assert.NotContains(t, got.Context, "dropped")
}

func TestAssembler_ThresholdOneEmptiesContext(t *testing.T) {
	a, err := NewAssembler(1.0, 5, 10000)
	require.NoError(t, err)

	got := a.Assemble([]index.SearchResult{
		result("d1", "close but not exact", "s", 0.999),
	})
	assert.Empty(t, got.Context)
	assert.Empty(t, got.Citations)
}

func TestAssembler_MaxDocs(t *testing.T) {
	a, err := NewAssembler(0, 2, 10000)
	require.NoError(t, err)

	got := a.Assemble([]index.SearchResult{
		result("d1", "one", "s", 0.9),
		result("d2", "two", "s", 0.8),
		result("d3", "three", "s", 0.7),
	})
	assert.Len(t, got.Citations, 2)
}

func TestAssembler_BudgetFitsWholeDocuments(t *testing.T) {
	a, err := NewAssembler(0, 5, 60)
	require.NoError(t, err)

	got := a.Assemble([]index.SearchResult{
		result("d1", "short", "s", 0.9),
		result("d2", "this block is far too long to fit inside the remaining budget space", "s", 0.8),
		result("d3", "tiny", "s", 0.7),
	})

	// d2 does not fit whole, so it and everything after it is dropped.
	require.Len(t, got.Citations, 1)
	assert.Equal(t, "d1", got.Citations[0].ID)
	assert.LessOrEqual(t, len(got.Context), 60)
}

func TestAssembler_MissingSourceRendersUnknown(t *testing.T) {
	a, err := NewAssembler(0, 5, 10000)
	require.NoError(t, err)

	got := a.Assemble([]index.SearchResult{
		{Document: index.Document{ID: "d1", Content: "orphan"}, Score: 0.5},
	})
	assert.Contains(t, got.Context, "source: unknown")
}

func TestAssembler_EmptyResults(t *testing.T) {
	a, err := NewAssembler(0.1, 5, 10000)
	require.NoError(t, err)

	got := a.Assemble(nil)
	assert.Empty(t, got.Context)
	assert.Empty(t, got.Citations)
}

func TestNewAssembler_Validation(t *testing.T) {
	_, err := NewAssembler(0.1, 0, 100)
	require.Error(t, err)
	_, err = NewAssembler(0.1, 5, 0)
	require.Error(t, err)
}
