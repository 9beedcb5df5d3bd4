package document

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/models"
	"github.com/nikhilbhutani/docrag/internal/vectorstore"
)

// MemoryRepository is a Repository held in process memory, storing chunks
// in a vectorstore.MemoryStore. It applies the same guards as PgRepository.
type MemoryRepository struct {
	mu      sync.Mutex
	docs    map[uuid.UUID]*models.Document
	purged  map[uuid.UUID]bool
	index   *vectorstore.MemoryStore
	visible sync.Map // document id -> struct{}, READY and not deleted
}

// NewMemoryRepository wires index so Search only sees READY documents.
func NewMemoryRepository(index *vectorstore.MemoryStore) *MemoryRepository {
	r := &MemoryRepository{
		docs:   make(map[uuid.UUID]*models.Document),
		purged: make(map[uuid.UUID]bool),
		index:  index,
	}
	index.Visible = func(_, documentID uuid.UUID) bool {
		_, ok := r.visible.Load(documentID)
		return ok
	}
	return r
}

func (r *MemoryRepository) lookup(orgID, id uuid.UUID) (*models.Document, error) {
	d, ok := r.docs[id]
	if !ok || d.OrganizationID != orgID || d.DeletedAt != nil {
		return nil, apperr.NotFound("document not found")
	}
	return d, nil
}

func clone(d *models.Document) *models.Document {
	c := *d
	return &c
}

func (r *MemoryRepository) Create(_ context.Context, doc *models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	doc.UploadedAt, doc.UpdatedAt = now, now
	r.docs[doc.ID] = clone(doc)
	r.index.SetFileName(doc.ID, doc.FileName)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, orgID, id uuid.UUID) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.lookup(orgID, id)
	if err != nil {
		return nil, err
	}
	return clone(d), nil
}

func (r *MemoryRepository) List(_ context.Context, orgID uuid.UUID, f ListFilter) ([]models.Document, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []models.Document
	for _, d := range r.docs {
		if d.OrganizationID != orgID || d.DeletedAt != nil {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(d.FileName), strings.ToLower(f.Search)) {
			continue
		}
		matched = append(matched, *d)
	}
	slices.SortFunc(matched, func(a, b models.Document) int {
		if c := b.UploadedAt.Compare(a.UploadedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	total := len(matched)
	start := min((max(f.Page, 1)-1)*f.PageSize, total)
	end := min(start+f.PageSize, total)
	page := append([]models.Document{}, matched[start:end]...)
	return page, total, nil
}

func (r *MemoryRepository) Stats(_ context.Context, orgID uuid.UUID) (*models.DocumentStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s models.DocumentStats
	for _, d := range r.docs {
		if d.OrganizationID != orgID || d.DeletedAt != nil {
			continue
		}
		s.Total++
		s.TotalChunks += d.ChunkCount
		s.TotalSizeBytes += d.FileSize
		switch d.Status {
		case models.DocStatusUploaded:
			s.Uploaded++
		case models.DocStatusProcessing:
			s.Processing++
		case models.DocStatusReady:
			s.Ready++
		case models.DocStatusFailed:
			s.Failed++
		}
	}
	return &s, nil
}

func (r *MemoryRepository) BeginReprocess(ctx context.Context, orgID, id uuid.UUID) (*models.Document, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.lookup(orgID, id)
	if err != nil {
		return nil, 0, err
	}
	if !d.Status.Terminal() {
		return nil, 0, apperr.InvalidState("document is %s; only READY or FAILED documents can be reprocessed", d.Status)
	}

	r.visible.Delete(id)
	removed := int64(r.index.Count(id))
	if err := r.index.DeleteDocument(ctx, orgID, id); err != nil {
		return nil, 0, err
	}

	d.Status = models.DocStatusProcessing
	d.Generation++
	d.ChunkCount = 0
	d.ErrorMessage = nil
	d.ProcessedAt = nil
	d.UpdatedAt = time.Now().UTC()
	return clone(d), removed, nil
}

func (r *MemoryRepository) guard(orgID, id uuid.UUID, gen int, from ...models.DocumentStatus) *models.Document {
	d, err := r.lookup(orgID, id)
	if err != nil || d.Generation != gen || !slices.Contains(from, d.Status) {
		return nil
	}
	return d
}

func (r *MemoryRepository) MarkProcessing(_ context.Context, orgID, id uuid.UUID, gen int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.guard(orgID, id, gen, models.DocStatusUploaded, models.DocStatusProcessing)
	if d == nil {
		return false, nil
	}
	d.Status = models.DocStatusProcessing
	d.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) CommitReady(ctx context.Context, orgID, id uuid.UUID, gen int, chunks []models.DocumentChunk) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.guard(orgID, id, gen, models.DocStatusProcessing)
	if d == nil {
		return false, nil
	}
	if err := r.index.UpsertChunks(ctx, orgID, id, chunks); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	d.Status = models.DocStatusReady
	d.ChunkCount = len(chunks)
	d.ErrorMessage = nil
	d.ProcessedAt = &now
	d.UpdatedAt = now
	r.visible.Store(id, struct{}{})
	return true, nil
}

func (r *MemoryRepository) MarkFailed(ctx context.Context, orgID, id uuid.UUID, gen int, msg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.guard(orgID, id, gen, models.DocStatusUploaded, models.DocStatusProcessing)
	if d == nil {
		return false, nil
	}
	r.visible.Delete(id)
	if err := r.index.DeleteDocument(ctx, orgID, id); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	d.Status = models.DocStatusFailed
	d.ChunkCount = 0
	d.ErrorMessage = &msg
	d.ProcessedAt = &now
	d.UpdatedAt = now
	return true, nil
}

func (r *MemoryRepository) SoftDelete(_ context.Context, orgID, id uuid.UUID) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.lookup(orgID, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	d.DeletedAt = &now
	d.UpdatedAt = now
	r.visible.Delete(id)
	return clone(d), nil
}

func (r *MemoryRepository) Purge(ctx context.Context, orgID, id uuid.UUID) (*models.Document, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok || d.OrganizationID != orgID || d.DeletedAt == nil {
		return nil, false, apperr.NotFound("document not found")
	}
	if err := r.index.DeleteDocument(ctx, orgID, id); err != nil {
		return nil, false, err
	}
	first := !r.purged[id]
	r.purged[id] = true
	return clone(d), first, nil
}
