// Package document is the ingestion coordinator: it owns the document state
// machine, schedules processing jobs and runs them on the worker side.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/audit"
	"github.com/nikhilbhutani/docrag/internal/config"
	"github.com/nikhilbhutani/docrag/internal/events"
	"github.com/nikhilbhutani/docrag/internal/llm"
	"github.com/nikhilbhutani/docrag/internal/models"
	"github.com/nikhilbhutani/docrag/internal/queue"
	"github.com/nikhilbhutani/docrag/internal/storage"
	"github.com/nikhilbhutani/docrag/pkg/chunker"
	"github.com/nikhilbhutani/docrag/pkg/textextract"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	statsTTL        = 30 * time.Second
)

type Embedder interface {
	Embed(ctx context.Context, cred llm.Credential, texts []string) ([][]float32, error)
}

type KeyResolver interface {
	ActiveCredential(ctx context.Context, orgID uuid.UUID) (llm.Credential, error)
}

type Enqueuer interface {
	EnqueueDocumentProcess(ctx context.Context, payload queue.DocumentPayload) error
	EnqueueDocumentPurge(ctx context.Context, payload queue.DocumentPayload) error
}

type QuotaTracker interface {
	ReserveDocument(ctx context.Context, orgID uuid.UUID, size int64) error
	ReleaseDocument(ctx context.Context, orgID uuid.UUID, size int64, chunks int) error
	AdjustChunks(ctx context.Context, orgID uuid.UUID, delta int) error
}

// StatsCache is satisfied by *cache.Cache.
type StatsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Deps are the collaborators of Service. Quota, Audit, Events and Cache
// may be nil.
type Deps struct {
	Repo      Repository
	Blobs     storage.BlobStore
	Extractor TextExtractor
	Embedder  Embedder
	Keys      KeyResolver
	Queue     Enqueuer
	Quota     QuotaTracker
	Audit     audit.Recorder
	Events    events.Publisher
	Cache     StatsCache
}

type Service struct {
	repo      Repository
	blobs     storage.BlobStore
	extractor TextExtractor
	embedder  Embedder
	keys      KeyResolver
	queue     Enqueuer
	quota     QuotaTracker
	audit     audit.Recorder
	events    events.Publisher
	cache     StatsCache

	maxFileSize  int64
	chunkOpts    chunker.Options
	previewChars int
}

func NewService(d Deps, ing config.IngestionConfig, previewChars int) *Service {
	s := &Service{
		repo:         d.Repo,
		blobs:        d.Blobs,
		extractor:    d.Extractor,
		embedder:     d.Embedder,
		keys:         d.Keys,
		queue:        d.Queue,
		quota:        d.Quota,
		audit:        d.Audit,
		events:       d.Events,
		cache:        d.Cache,
		maxFileSize:  ing.MaxFileSizeBytes(),
		chunkOpts:    chunker.Options{Size: ing.ChunkSize, Overlap: ing.ChunkOverlap},
		previewChars: previewChars,
	}
	if s.extractor == nil {
		s.extractor = NewTextExtractor()
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.previewChars <= 0 {
		s.previewChars = 200
	}
	return s
}

type UploadInput struct {
	OrganizationID uuid.UUID
	UploadedBy     *uuid.UUID
	FileName       string
	Size           int64
	Content        io.Reader
}

// Submit validates and stores an upload, records it as UPLOADED and
// enqueues its first processing job. Nothing is stored or enqueued when
// validation fails.
func (s *Service) Submit(ctx context.Context, in UploadInput) (*models.Document, error) {
	fileType := textextract.NormalizeType(in.FileName)
	if !textextract.IsSupported(fileType) {
		return nil, apperr.Validation("unsupported file type %q, supported: %v", fileType, textextract.SupportedTypes())
	}
	if in.Size <= 0 {
		return nil, apperr.Validation("file is empty")
	}
	if in.Size > s.maxFileSize {
		return nil, apperr.Validation("file is %d bytes, the limit is %d MB", in.Size, s.maxFileSize>>20)
	}

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(in.Content, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	header = header[:n]
	if err := s.extractor.Sniff(header, fileType); err != nil {
		return nil, err
	}

	if s.quota != nil {
		if err := s.quota.ReserveDocument(ctx, in.OrganizationID, in.Size); err != nil {
			return nil, err
		}
	}
	release := func() {
		if s.quota == nil {
			return
		}
		if err := s.quota.ReleaseDocument(context.WithoutCancel(ctx), in.OrganizationID, in.Size, 0); err != nil {
			slog.Warn("failed to release document quota", "organization_id", in.OrganizationID, "error", err)
		}
	}

	doc := &models.Document{
		ID:             uuid.New(),
		OrganizationID: in.OrganizationID,
		UploadedBy:     in.UploadedBy,
		FileName:       in.FileName,
		FileType:       fileType,
		FileSize:       in.Size,
		Status:         models.DocStatusUploaded,
		Generation:     1,
	}
	doc.FilePath = storage.Key(doc.OrganizationID, doc.ID, doc.FileName)

	body := io.MultiReader(bytes.NewReader(header), in.Content)
	if err := s.blobs.Put(ctx, doc.FilePath, body, in.Size, contentType(fileType)); err != nil {
		release()
		return nil, fmt.Errorf("store upload: %w", err)
	}

	if err := s.repo.Create(ctx, doc); err != nil {
		release()
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), doc.FilePath); derr != nil {
			slog.Warn("failed to remove orphaned upload", "path", doc.FilePath, "error", derr)
		}
		return nil, err
	}

	audit.Record(ctx, s.audit, audit.Entry{
		OrganizationID: doc.OrganizationID,
		UserID:         doc.UploadedBy,
		Action:         audit.ActionDocUpload,
		ResourceType:   "document",
		ResourceID:     &doc.ID,
		Details:        map[string]any{"file_name": doc.FileName, "file_size": doc.FileSize},
	})
	s.invalidateStats(ctx, doc.OrganizationID)

	slog.Info("document uploaded", "document_id", doc.ID, "organization_id", doc.OrganizationID, "file_type", fileType, "size", in.Size)

	if err := s.enqueue(ctx, doc); err != nil {
		return s.Get(context.WithoutCancel(ctx), doc.OrganizationID, doc.ID)
	}
	return doc, nil
}

// Reprocess sends a READY or FAILED document through the pipeline again.
// Its chunks are dropped immediately; jobs of the previous generation that
// are still queued become no-ops.
func (s *Service) Reprocess(ctx context.Context, orgID, id uuid.UUID) (*models.Document, error) {
	doc, removed, err := s.repo.BeginReprocess(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if s.quota != nil && removed > 0 {
		if err := s.quota.AdjustChunks(ctx, orgID, -int(removed)); err != nil {
			slog.Warn("failed to adjust chunk quota", "organization_id", orgID, "error", err)
		}
	}

	audit.Record(ctx, s.audit, audit.Entry{
		OrganizationID: orgID,
		Action:         audit.ActionDocReprocess,
		ResourceType:   "document",
		ResourceID:     &doc.ID,
		Details:        map[string]any{"generation": doc.Generation, "removed_chunks": removed},
	})
	s.invalidateStats(ctx, orgID)

	if err := s.enqueue(ctx, doc); err != nil {
		return s.Get(context.WithoutCancel(ctx), orgID, id)
	}
	return doc, nil
}

// enqueue schedules the first attempt of the document's current generation.
// A document whose job cannot be scheduled is failed so it never sits in a
// state no worker will move it out of.
func (s *Service) enqueue(ctx context.Context, doc *models.Document) error {
	payload := queue.DocumentPayload{
		DocumentID:     doc.ID,
		OrganizationID: doc.OrganizationID,
		Generation:     doc.Generation,
	}
	err := s.queue.EnqueueDocumentProcess(ctx, payload)
	if err == nil {
		return nil
	}

	slog.Error("failed to enqueue document", "document_id", doc.ID, "error", err)
	wctx := context.WithoutCancel(ctx)
	if _, ferr := s.repo.MarkFailed(wctx, doc.OrganizationID, doc.ID, doc.Generation,
		"processing could not be scheduled; reprocess the document to retry"); ferr != nil {
		slog.Error("failed to mark unscheduled document", "document_id", doc.ID, "error", ferr)
	}
	s.invalidateStats(wctx, doc.OrganizationID)
	return err
}

// Delete hides the document immediately and purges its chunks and blob in
// the background. Once the document is hidden the delete has succeeded,
// even if the purge has to be left for later.
func (s *Service) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	doc, err := s.repo.SoftDelete(ctx, orgID, id)
	if err != nil {
		return err
	}

	audit.Record(ctx, s.audit, audit.Entry{
		OrganizationID: orgID,
		Action:         audit.ActionDocDelete,
		ResourceType:   "document",
		ResourceID:     &doc.ID,
		Details:        map[string]any{"file_name": doc.FileName},
	})
	s.invalidateStats(ctx, orgID)

	payload := queue.DocumentPayload{DocumentID: id, OrganizationID: orgID, Generation: doc.Generation}
	if err := s.queue.EnqueueDocumentPurge(ctx, payload); err != nil {
		slog.Warn("failed to enqueue purge, purging inline", "document_id", id, "error", err)
		// The document is already deleted; leftovers are unreachable and
		// only cost storage.
		if perr := s.Purge(context.WithoutCancel(ctx), payload); perr != nil {
			slog.Error("inline purge failed", "document_id", id, "error", perr)
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, orgID, id uuid.UUID) (*models.Document, error) {
	return s.repo.Get(ctx, orgID, id)
}

type StatusView struct {
	ID           uuid.UUID             `json:"id"`
	Status       models.DocumentStatus `json:"status"`
	ChunkCount   int                   `json:"chunk_count"`
	ErrorMessage *string               `json:"error_message,omitempty"`
	ProcessedAt  *time.Time            `json:"processed_at,omitempty"`
}

func (s *Service) Status(ctx context.Context, orgID, id uuid.UUID) (*StatusView, error) {
	doc, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		ID:           doc.ID,
		Status:       doc.Status,
		ChunkCount:   doc.ChunkCount,
		ErrorMessage: doc.ErrorMessage,
		ProcessedAt:  doc.ProcessedAt,
	}, nil
}

type ListResult struct {
	Documents  []models.Document `json:"documents"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

func (s *Service) List(ctx context.Context, orgID uuid.UUID, f ListFilter) (*ListResult, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("unknown status %q", f.Status)
	}
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.PageSize <= 0:
		f.PageSize = defaultPageSize
	case f.PageSize > maxPageSize:
		f.PageSize = maxPageSize
	}

	docs, total, err := s.repo.List(ctx, orgID, f)
	if err != nil {
		return nil, err
	}
	return &ListResult{
		Documents:  docs,
		Total:      total,
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(f.PageSize))),
	}, nil
}

func statsKey(orgID uuid.UUID) string {
	return "doc_stats:" + orgID.String()
}

func (s *Service) Stats(ctx context.Context, orgID uuid.UUID) (*models.DocumentStats, error) {
	if s.cache != nil {
		var cached models.DocumentStats
		if err := s.cache.Get(ctx, statsKey(orgID), &cached); err == nil {
			return &cached, nil
		}
	}

	stats, err := s.repo.Stats(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, statsKey(orgID), stats, statsTTL); err != nil {
			slog.Debug("failed to cache document stats", "error", err)
		}
	}
	return stats, nil
}

func (s *Service) invalidateStats(ctx context.Context, orgID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(context.WithoutCancel(ctx), statsKey(orgID)); err != nil {
		slog.Debug("failed to invalidate document stats", "organization_id", orgID, "error", err)
	}
}

func contentType(fileType string) string {
	switch fileType {
	case "pdf":
		return "application/pdf"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "md":
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}
