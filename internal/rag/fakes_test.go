// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package rag

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/quill-dev/quill/internal/provider"
	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// fakeEmbedder maps text to a deterministic bag-of-words vector over a
// fixed vocabulary, so related phrases land near each other under
// cosine similarity without any network.
type fakeEmbedder struct {
	vocab      []string
	mu         sync.Mutex
	embedCalls int
	batchCalls int
	embedErr   error
	batchErr   error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		vocab: []string{"fever", "infant", "newborn", "rash", "cough", "dose", "sleep", "feeding"},
	}
}

func (f *fakeEmbedder) Dimension() int { return len(f.vocab) }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	err := f.embedErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.vectorize(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batchCalls++
	err := f.batchErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vectorize(t)
	}
	return out, nil
}

// vectorize counts vocabulary hits, stripping a trailing 's' so plural
// forms share a dimension with their singular.
func (f *fakeEmbedder) vectorize(text string) []float32 {
	vec := make([]float32, len(f.vocab))
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?:;()[]")
		word = strings.TrimSuffix(word, "s")
		for i, v := range f.vocab {
			if word == v {
				vec[i]++
			}
		}
	}
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		// Unrelated text points along a dedicated axis-free direction:
		// reuse the first dimension weakly so the vector is non-zero.
		vec[0] = 0.001
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// fakeGenerator echoes a canned answer and records the request it saw.
type fakeGenerator struct {
	answer string
	err    error
	calls  atomic.Int64

	mu      sync.Mutex
	lastReq provider.GenerateRequest
	block   chan struct{} // when set, Generate waits for ctx or close
}

func (f *fakeGenerator) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = req
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return "", quillerr.Wrap(ctx.Err(), quillerr.CodeGenerateUpstreamFailure, "generation cancelled")
		case <-block:
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeGenerator) last() provider.GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}
