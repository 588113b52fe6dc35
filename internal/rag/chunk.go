// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package rag

import (
	"fmt"
	"strconv"

	"github.com/quill-dev/quill/internal/index"
	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// MetadataChunkIndex records a chunk's position within its parent
// document.
const MetadataChunkIndex = "chunk_index"

// Chunk is one window of a source document, ready for embedding.
type Chunk struct {
	ID      string
	Content string
	Index   int
}

// Chunker splits documents into overlapping rune windows. Splitting is
// deterministic: the same input always yields the same chunks and IDs.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker validates the window parameters. Overlap must be smaller
// than size or the window could never advance.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"chunk overlap (%d) must be smaller than chunk size (%d)", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split windows content into chunks with IDs derived from parentID.
// Offsets are in runes so multibyte text never splits mid-character.
func (c *Chunker) Split(parentID, content string) []Chunk {
	runes := []rune(content)
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	chunks := make([]Chunk, 0, (len(runes)+step-1)/step)
	for start, idx := 0, 0; start < len(runes); start, idx = start+step, idx+1 {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			ID:      fmt.Sprintf("%s-c%d", parentID, idx),
			Content: string(runes[start:end]),
			Index:   idx,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// chunkMetadata builds the metadata stored with an indexed chunk.
func chunkMetadata(source string, chunkIndex int) map[string]string {
	return map[string]string{
		index.MetadataSource: source,
		MetadataChunkIndex:   strconv.Itoa(chunkIndex),
	}
}
