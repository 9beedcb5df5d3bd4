package document

import (
	"context"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docrag/internal/models"
)

type ListFilter struct {
	Status   models.DocumentStatus
	Search   string // case-insensitive filename substring
	Page     int
	PageSize int
}

// Repository persists documents. Every method is scoped to one
// organization, and soft-deleted documents are invisible to all of them
// except Purge.
//
// The Mark/Commit methods are guarded by the document's generation: they
// only apply when the stored generation still equals gen and the document
// is in a state the transition is legal from. They report false, without an
// error, when the guard rejects the write.
type Repository interface {
	Create(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, orgID, id uuid.UUID) (*models.Document, error)
	List(ctx context.Context, orgID uuid.UUID, f ListFilter) ([]models.Document, int, error)
	Stats(ctx context.Context, orgID uuid.UUID) (*models.DocumentStats, error)

	// BeginReprocess moves a READY or FAILED document to PROCESSING under a
	// new generation and drops its chunks, returning how many were removed.
	BeginReprocess(ctx context.Context, orgID, id uuid.UUID) (*models.Document, int64, error)
	MarkProcessing(ctx context.Context, orgID, id uuid.UUID, gen int) (bool, error)
	// CommitReady replaces the document's chunks and flips it to READY in
	// one transaction.
	CommitReady(ctx context.Context, orgID, id uuid.UUID, gen int, chunks []models.DocumentChunk) (bool, error)
	// MarkFailed records msg and removes any chunks of the document.
	MarkFailed(ctx context.Context, orgID, id uuid.UUID, gen int, msg string) (bool, error)

	SoftDelete(ctx context.Context, orgID, id uuid.UUID) (*models.Document, error)
	// Purge removes the chunks of a soft-deleted document. transitioned is
	// true only for the first successful purge, so quota is released once.
	Purge(ctx context.Context, orgID, id uuid.UUID) (doc *models.Document, transitioned bool, err error)
}
