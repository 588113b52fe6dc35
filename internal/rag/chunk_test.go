// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_SplitWindows(t *testing.T) {
	c, err := NewChunker(10, 3)
	require.NoError(t, err)

	chunks := c.Split("doc1", "abcdefghijklmnopqrst")
	require.Len(t, chunks, 3)

	assert.Equal(t, "abcdefghij", chunks[0].Content)
	assert.Equal(t, "hijklmnopq", chunks[1].Content)
	assert.Equal(t, "opqrst", chunks[2].Content)

	assert.Equal(t, "doc1-c0", chunks[0].ID)
	assert.Equal(t, "doc1-c1", chunks[1].ID)
	assert.Equal(t, "doc1-c2", chunks[2].ID)
	assert.Equal(t, 2, chunks[2].Index)
}

func TestChunker_ShortContentSingleChunk(t *testing.T) {
	c, err := NewChunker(100, 20)
	require.NoError(t, err)

	chunks := c.Split("doc1", "short text")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0].Content)
	assert.Equal(t, "doc1-c0", chunks[0].ID)
}

func TestChunker_EmptyContent(t *testing.T) {
	c, err := NewChunker(10, 2)
	require.NoError(t, err)
	assert.Empty(t, c.Split("doc1", ""))
}

func TestChunker_RuneBoundaries(t *testing.T) {
	c, err := NewChunker(4, 1)
	require.NoError(t, err)

	// Multibyte runes must never be split mid-character.
	chunks := c.Split("doc1", "日本語のテキストです")
	var rejoined []rune
	for i, ch := range chunks {
		assert.True(t, len([]rune(ch.Content)) <= 4)
		if i == 0 {
			rejoined = append(rejoined, []rune(ch.Content)...)
		} else {
			rejoined = append(rejoined, []rune(ch.Content)[1:]...)
		}
	}
	assert.Equal(t, "日本語のテキストです", string(rejoined))
}

func TestChunker_Deterministic(t *testing.T) {
	c, err := NewChunker(16, 4)
	require.NoError(t, err)

	content := strings.Repeat("fever in infants. ", 10)
	first := c.Split("doc1", content)
	second := c.Split("doc1", content)
	assert.Equal(t, first, second)
}

func TestNewChunker_Validation(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.size, tt.overlap)
			require.Error(t, err)
		})
	}
}
