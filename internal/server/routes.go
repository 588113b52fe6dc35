// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/quill-dev/quill/internal/index"
	"github.com/quill-dev/quill/internal/provider"
	"github.com/quill-dev/quill/internal/rag"
	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// Pipeline is the slice of the RAG pipeline the HTTP layer needs.
type Pipeline interface {
	GenerateResponse(ctx context.Context, identity, query string, convo []provider.Message) (rag.Response, error)
	SearchKnowledge(ctx context.Context, query string, k int, minScore float64) ([]index.SearchResult, error)
	IngestDocument(ctx context.Context, doc rag.DocumentInput) (rag.IngestResult, error)
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "generate",
		Method:      http.MethodPost,
		Path:        "/v1/generate",
		Summary:     "Answer a question grounded in the knowledge base",
		Tags:        []string{"generation"},
	}, s.handleGenerate)

	huma.Register(s.api, huma.Operation{
		OperationID:   "ingest-document",
		Method:        http.MethodPost,
		Path:          "/v1/knowledge",
		Summary:       "Ingest a document into the knowledge base",
		Tags:          []string{"knowledge"},
		DefaultStatus: http.StatusCreated,
	}, s.handleIngest)

	huma.Register(s.api, huma.Operation{
		OperationID:   "ingest-documents-bulk",
		Method:        http.MethodPost,
		Path:          "/v1/knowledge/bulk",
		Summary:       "Ingest multiple documents",
		Tags:          []string{"knowledge"},
		DefaultStatus: http.StatusCreated,
	}, s.handleIngestBulk)

	huma.Register(s.api, huma.Operation{
		OperationID: "search-knowledge",
		Method:      http.MethodGet,
		Path:        "/v1/knowledge/search",
		Summary:     "Search the knowledge base",
		Tags:        []string{"knowledge"},
	}, s.handleSearch)
}

type historyMessageBody struct {
	Role    string `json:"role" enum:"user,assistant,system" doc:"Sender of the turn"`
	Content string `json:"content" minLength:"1" doc:"Turn text"`
}

type generateInput struct {
	Identity string `header:"X-Quill-Identity" doc:"Caller identity for history and rate limiting"`
	Body     struct {
		Query string `json:"query" minLength:"1" maxLength:"4000" doc:"Question to answer"`
		// ConversationHistory, when present, replaces the stored window for
		// this request.
		ConversationHistory []historyMessageBody `json:"conversation_history,omitempty" maxItems:"50" doc:"Prior turns, oldest first"`
	}
}

type citationBody struct {
	ID     string  `json:"id" doc:"Cited chunk ID"`
	Score  float64 `json:"score" doc:"Similarity score in [0,1]"`
	Source string  `json:"source" doc:"Origin of the cited document"`
}

type generateOutput struct {
	Body struct {
		Answer    string         `json:"answer"`
		Citations []citationBody `json:"citations"`
		Grounded  bool           `json:"grounded" doc:"False when no reference material matched"`
	}
}

func (s *Server) handleGenerate(ctx context.Context, input *generateInput) (*generateOutput, error) {
	if err := s.limiter.Allow("generate", input.Identity); err != nil {
		return nil, toHumaError(err)
	}

	convo := make([]provider.Message, 0, len(input.Body.ConversationHistory))
	for _, m := range input.Body.ConversationHistory {
		convo = append(convo, provider.Message{
			Role:    provider.MessageRole(m.Role),
			Content: m.Content,
		})
	}

	resp, err := s.pipeline.GenerateResponse(ctx, input.Identity, input.Body.Query, convo)
	if err != nil {
		return nil, toHumaError(err)
	}

	out := &generateOutput{}
	out.Body.Answer = resp.Answer
	out.Body.Grounded = resp.Grounded
	out.Body.Citations = toCitationBodies(resp.Citations)
	return out, nil
}

type documentBody struct {
	ID      string `json:"id,omitempty" doc:"Optional document ID; generated when empty"`
	Content string `json:"content" minLength:"1" doc:"Document text"`
	Source  string `json:"source" minLength:"1" doc:"Origin of the document"`
}

type ingestInput struct {
	Identity string `header:"X-Quill-Identity"`
	Body     documentBody
}

type ingestResultBody struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Failed     int    `json:"failed"`
}

type ingestOutput struct {
	Body ingestResultBody
}

func (s *Server) handleIngest(ctx context.Context, input *ingestInput) (*ingestOutput, error) {
	if err := s.limiter.Allow("ingest", input.Identity); err != nil {
		return nil, toHumaError(err)
	}

	res, err := s.pipeline.IngestDocument(ctx, rag.DocumentInput{
		ID:      input.Body.ID,
		Content: input.Body.Content,
		Source:  input.Body.Source,
	})
	if err != nil {
		return nil, toHumaError(err)
	}

	return &ingestOutput{Body: toIngestResultBody(res)}, nil
}

type ingestBulkInput struct {
	Identity string `header:"X-Quill-Identity"`
	Body     struct {
		Documents []documentBody `json:"documents" minItems:"1" maxItems:"100"`
	}
}

type ingestBulkOutput struct {
	Body struct {
		Results []ingestResultBody `json:"results"`
	}
}

// handleIngestBulk ingests documents sequentially. One bad document does
// not stop the rest; its result carries every chunk as failed.
func (s *Server) handleIngestBulk(ctx context.Context, input *ingestBulkInput) (*ingestBulkOutput, error) {
	if err := s.limiter.Allow("ingest", input.Identity); err != nil {
		return nil, toHumaError(err)
	}

	out := &ingestBulkOutput{}
	out.Body.Results = make([]ingestResultBody, 0, len(input.Body.Documents))
	for _, d := range input.Body.Documents {
		res, err := s.pipeline.IngestDocument(ctx, rag.DocumentInput{
			ID:      d.ID,
			Content: d.Content,
			Source:  d.Source,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, toHumaError(err)
			}
			out.Body.Results = append(out.Body.Results, ingestResultBody{DocumentID: d.ID, Failed: -1})
			continue
		}
		out.Body.Results = append(out.Body.Results, toIngestResultBody(res))
	}
	return out, nil
}

type searchInput struct {
	Identity string  `header:"X-Quill-Identity"`
	Query    string  `query:"query" required:"true" minLength:"1" doc:"Search query"`
	K        int     `query:"limit" minimum:"1" maximum:"50" default:"10" doc:"Maximum results"`
	MinScore float64 `query:"min_score" minimum:"0" maximum:"1" doc:"Similarity floor"`
}

type searchResultBody struct {
	ID      string            `json:"id"`
	Content string            `json:"content"`
	Score   float64           `json:"score"`
	Meta    map[string]string `json:"metadata,omitempty"`
}

type searchOutput struct {
	Body struct {
		Results []searchResultBody `json:"results"`
	}
}

func (s *Server) handleSearch(ctx context.Context, input *searchInput) (*searchOutput, error) {
	if err := s.limiter.Allow("search", input.Identity); err != nil {
		return nil, toHumaError(err)
	}

	results, err := s.pipeline.SearchKnowledge(ctx, input.Query, input.K, input.MinScore)
	if err != nil {
		return nil, toHumaError(err)
	}

	out := &searchOutput{}
	out.Body.Results = make([]searchResultBody, 0, len(results))
	for _, r := range results {
		out.Body.Results = append(out.Body.Results, searchResultBody{
			ID:      r.Document.ID,
			Content: r.Document.Content,
			Score:   r.Score,
			Meta:    r.Document.Metadata,
		})
	}
	return out, nil
}

func toCitationBodies(citations []rag.Citation) []citationBody {
	out := make([]citationBody, 0, len(citations))
	for _, c := range citations {
		out = append(out, citationBody{ID: c.ID, Score: c.Score, Source: c.Source})
	}
	return out
}

func toIngestResultBody(res rag.IngestResult) ingestResultBody {
	return ingestResultBody{
		DocumentID: res.DocumentID,
		Chunks:     len(res.Chunks),
		Failed:     res.Failed(),
	}
}

// toHumaError maps pipeline errors onto HTTP responses. Internal detail
// stays in the logs; clients get the stable user message.
func toHumaError(err error) error {
	status := quillerr.HTTPStatus(err)
	humaErr := huma.NewError(status, quillerr.UserMessage(err))

	if secs, ok := quillerr.RetryAfterSeconds(err); ok {
		return huma.ErrorWithHeaders(humaErr, http.Header{
			"Retry-After": []string{strconv.Itoa(secs)},
		})
	}
	return humaErr
}
