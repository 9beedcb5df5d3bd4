package embedding

import (
	"context"
	"fmt"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/llm"
)

// Embedder is the single-call provider surface; *llm.Client implements it.
type Embedder interface {
	Embed(ctx context.Context, cred llm.Credential, texts []string) (*llm.EmbeddingResponse, error)
}

type Service struct {
	client    Embedder
	batchSize int
}

func NewService(client Embedder, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Service{client: client, batchSize: batchSize}
}

// Embed returns one vector per text, in input order, issuing one provider
// call per batch. A batch failure fails the whole call; the error keeps the
// classification of the underlying provider error.
func (s *Service) Embed(ctx context.Context, cred llm.Credential, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += s.batchSize {
		end := min(i+s.batchSize, len(texts))

		resp, err := s.client.Embed(ctx, cred, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", i/s.batchSize, err)
		}
		if len(resp.Embeddings) != end-i {
			return nil, apperr.Provider(nil, false, "embedding batch %d returned %d vectors for %d inputs",
				i/s.batchSize, len(resp.Embeddings), end-i)
		}
		all = append(all, resp.Embeddings...)
	}

	return all, nil
}

func (s *Service) EmbedSingle(ctx context.Context, cred llm.Credential, text string) ([]float32, error) {
	embeddings, err := s.Embed(ctx, cred, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, apperr.Provider(nil, false, "no embedding returned")
	}
	return embeddings[0], nil
}
