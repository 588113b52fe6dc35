// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package rag

import (
	"fmt"
	"strings"

	"github.com/quill-dev/quill/internal/index"
	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// Citation identifies one document that contributed to an assembled
// context, with its similarity score.
type Citation struct {
	ID     string  `json:"id"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// Assembly is the rendered context plus the documents cited in it, in
// rendering order.
type Assembly struct {
	Context   string
	Citations []Citation
}

// Assembler renders search results into a numbered context block for
// generation. Documents appear whole or not at all: a document that
// would push the context past the budget is skipped along with
// everything after it, keeping citation numbers contiguous.
type Assembler struct {
	minScore   float64
	maxDocs    int
	charBudget int
}

// NewAssembler validates the parameters and builds an Assembler.
func NewAssembler(minScore float64, maxDocs, charBudget int) (*Assembler, error) {
	if maxDocs <= 0 {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"assembler max docs must be positive, got %d", maxDocs)
	}
	if charBudget <= 0 {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"assembler char budget must be positive, got %d", charBudget)
	}
	return &Assembler{minScore: minScore, maxDocs: maxDocs, charBudget: charBudget}, nil
}

// Assemble renders results into the context format consumed by the
// generator:
//
//	[1] <content>
//	source: <source>
//
// Results below the score floor are dropped. Output is deterministic
// for a given input slice.
func (a *Assembler) Assemble(results []index.SearchResult) Assembly {
	var (
		b         strings.Builder
		citations []Citation
	)

	n := 0
	for _, r := range results {
		if r.Score < a.minScore {
			continue
		}
		if n >= a.maxDocs {
			break
		}

		block := renderBlock(n+1, r.Document)
		if b.Len()+len(block) > a.charBudget {
			break
		}

		b.WriteString(block)
		citations = append(citations, Citation{
			ID:     r.Document.ID,
			Score:  r.Score,
			Source: r.Document.Metadata[index.MetadataSource],
		})
		n++
	}

	return Assembly{
		Context:   strings.TrimSuffix(b.String(), "\n\n"),
		Citations: citations,
	}
}

func renderBlock(n int, doc index.Document) string {
	source := doc.Metadata[index.MetadataSource]
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("[%d] %s\nsource: %s\n\n", n, doc.Content, source)
}
