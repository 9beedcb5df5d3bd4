package vectorstore

import (
	"context"

	"github.com/google/uuid"
)

type SearchResult struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	FileName   string    `json:"file_name"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Preview    string    `json:"preview"`
	PageNumber int       `json:"page_number"`
	Score      float64   `json:"score"`
}

// Index answers nearest-neighbor queries over stored chunk vectors. Chunks
// are written by the document repository in the same transaction as the
// document's state change (see ReplaceChunks and DeleteChunks).
//
// Search ranks by cosine similarity, descending; ties are broken by chunk
// index then document id, both ascending. Only chunks of READY, non-deleted
// documents of orgID are candidates. k is clamped to the index maximum.
type Index interface {
	Search(ctx context.Context, orgID uuid.UUID, query []float32, k int) ([]SearchResult, error)
}

// ClampK bounds a caller-requested k to [1, maxK].
func ClampK(k, maxK int) int {
	if maxK <= 0 {
		maxK = 50
	}
	if k <= 0 {
		return 1
	}
	return min(k, maxK)
}
