// Package rag turns a question into ranked, citable passages and builds the
// grounded prompt the chat model answers from.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/config"
	"github.com/nikhilbhutani/docrag/internal/llm"
	"github.com/nikhilbhutani/docrag/internal/models"
	"github.com/nikhilbhutani/docrag/internal/vectorstore"
	"github.com/nikhilbhutani/docrag/pkg/chunker"
)

// QueryEmbedder is satisfied by *embedding.Service.
type QueryEmbedder interface {
	EmbedSingle(ctx context.Context, cred llm.Credential, text string) ([]float32, error)
}

type KeyResolver interface {
	ActiveCredential(ctx context.Context, orgID uuid.UUID) (llm.Credential, error)
}

type Retriever struct {
	index    vectorstore.Index
	embedder QueryEmbedder
	keys     KeyResolver
	cfg      config.RetrievalConfig
}

func NewRetriever(index vectorstore.Index, embedder QueryEmbedder, keys KeyResolver, cfg config.RetrievalConfig) *Retriever {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 5
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 10
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = 200
	}
	return &Retriever{index: index, embedder: embedder, keys: keys, cfg: cfg}
}

// Limit applies the default and the cap to a caller-requested limit.
// Asking for more than the cap silently yields the cap.
func (r *Retriever) Limit(limit int) int {
	if limit <= 0 {
		return r.cfg.DefaultLimit
	}
	return min(limit, r.cfg.MaxLimit)
}

// Retrieve embeds question with cred and returns the best matching passages
// of orgID, best first. An organization without READY documents gets an
// empty slice.
func (r *Retriever) Retrieve(ctx context.Context, cred llm.Credential, orgID uuid.UUID, question string, limit int) ([]vectorstore.SearchResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.Validation("question must not be empty")
	}

	vec, err := r.embedder.EmbedSingle(ctx, cred, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	results, err := r.index.Search(ctx, orgID, vec, r.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	kept := results[:0]
	for _, res := range results {
		if res.Score >= r.cfg.MinScore {
			kept = append(kept, res)
		}
	}
	return kept, nil
}

// Search resolves the organization's active key and returns citations; it
// backs the standalone search endpoint.
func (r *Retriever) Search(ctx context.Context, orgID uuid.UUID, question string, limit int) ([]models.SourceCitation, error) {
	cred, err := r.keys.ActiveCredential(ctx, orgID)
	if err != nil {
		return nil, err
	}
	results, err := r.Retrieve(ctx, cred, orgID, question, limit)
	if err != nil {
		return nil, err
	}
	return r.Cite(results), nil
}

// Cite snapshots results into citations stored with an answer.
func (r *Retriever) Cite(results []vectorstore.SearchResult) []models.SourceCitation {
	citations := make([]models.SourceCitation, len(results))
	for i, res := range results {
		preview := res.Preview
		if preview == "" {
			preview = chunker.Preview(res.Content, r.cfg.PreviewChars)
		}
		citations[i] = models.SourceCitation{
			DocumentID:     res.DocumentID,
			FileName:       res.FileName,
			ChunkID:        res.ChunkID,
			ChunkIndex:     res.ChunkIndex,
			RelevanceScore: res.Score,
			TextPreview:    preview,
		}
	}
	return citations
}
