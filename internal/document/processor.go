package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/audit"
	"github.com/nikhilbhutani/docrag/internal/events"
	"github.com/nikhilbhutani/docrag/internal/models"
	"github.com/nikhilbhutani/docrag/internal/queue"
	"github.com/nikhilbhutani/docrag/internal/storage"
	"github.com/nikhilbhutani/docrag/pkg/chunker"
	"github.com/nikhilbhutani/docrag/pkg/tokenizer"
)

// ErrDeadLetter marks a job that failed on its last attempt. The document
// has already been marked FAILED; the worker must not retry the task.
var ErrDeadLetter = errors.New("document job exhausted its attempts")

const maxErrorMessage = 500

// HandleJob runs one delivery of a processing job. lastAttempt tells it
// whether the queue will deliver the job again on error.
//
// Returned errors mean "retry me", except ones wrapping ErrDeadLetter.
// Non-retryable failures are recorded on the document and reported as
// success so the queue drops the job.
func (s *Service) HandleJob(ctx context.Context, p queue.DocumentPayload, lastAttempt bool) error {
	log := slog.With("document_id", p.DocumentID, "organization_id", p.OrganizationID,
		"generation", p.Generation, "attempt", p.Attempt)

	doc, err := s.repo.Get(ctx, p.OrganizationID, p.DocumentID)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Info("document no longer exists, dropping job")
		return nil
	}
	if err != nil {
		return s.fail(ctx, log, p, fmt.Errorf("load document: %w", err), lastAttempt)
	}
	if doc.Generation != p.Generation || doc.Status.Terminal() {
		log.Info("stale job, dropping", "status", doc.Status, "current_generation", doc.Generation)
		return nil
	}

	ok, err := s.repo.MarkProcessing(ctx, p.OrganizationID, p.DocumentID, p.Generation)
	if err != nil {
		return s.fail(ctx, log, p, err, lastAttempt)
	}
	if !ok {
		log.Info("document moved on before processing started, dropping job")
		return nil
	}
	if p.Attempt == 0 {
		audit.Record(ctx, s.audit, audit.Entry{
			OrganizationID: doc.OrganizationID,
			Action:         audit.ActionDocProcessStart,
			ResourceType:   "document",
			ResourceID:     &doc.ID,
			Details:        map[string]any{"generation": doc.Generation},
		})
		s.publish(ctx, doc, events.DocumentProcessing, models.DocStatusProcessing, 0, "")
	}

	start := time.Now()
	chunks, err := s.buildChunks(ctx, doc)
	if err != nil {
		return s.fail(ctx, log, p, err, lastAttempt)
	}

	committed, err := s.repo.CommitReady(ctx, p.OrganizationID, p.DocumentID, p.Generation, chunks)
	if err != nil {
		return s.fail(ctx, log, p, fmt.Errorf("commit chunks: %w", err), lastAttempt)
	}
	if !committed {
		log.Info("document changed during processing, discarding results")
		return nil
	}

	if s.quota != nil && len(chunks) > 0 {
		if err := s.quota.AdjustChunks(context.WithoutCancel(ctx), doc.OrganizationID, len(chunks)); err != nil {
			log.Warn("failed to adjust chunk quota", "error", err)
		}
	}
	audit.Record(ctx, s.audit, audit.Entry{
		OrganizationID: doc.OrganizationID,
		Action:         audit.ActionDocProcessComplete,
		ResourceType:   "document",
		ResourceID:     &doc.ID,
		Details:        map[string]any{"chunk_count": len(chunks), "duration_ms": time.Since(start).Milliseconds()},
	})
	s.publish(ctx, doc, events.DocumentReady, models.DocStatusReady, len(chunks), "")
	s.invalidateStats(ctx, doc.OrganizationID)

	log.Info("document processed", "chunks", len(chunks), "duration", time.Since(start))
	return nil
}

// buildChunks runs extract, chunk and embed. Blank text yields no chunks.
func (s *Service) buildChunks(ctx context.Context, doc *models.Document) ([]models.DocumentChunk, error) {
	cred, err := s.keys.ActiveCredential(ctx, doc.OrganizationID)
	if err != nil {
		return nil, err
	}

	data, err := storage.ReadAll(ctx, s.blobs, doc.FilePath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Validation("the uploaded file is missing from storage")
	}
	if err != nil {
		return nil, fmt.Errorf("read original: %w", err)
	}

	extracted, err := s.extractor.Extract(ctx, ReaderAtFromBytes(data), int64(len(data)), doc.FileType)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, apperr.Validation("could not extract text from %s: %v", doc.FileName, err)
	}

	pieces := chunker.Collect(chunker.Split(extracted.Content, s.chunkOpts))
	if len(pieces) == 0 {
		return nil, nil
	}

	texts := make([]string, len(pieces))
	for i, c := range pieces {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.Embed(ctx, cred, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(pieces) {
		return nil, apperr.Provider(nil, false, "received %d embeddings for %d chunks", len(vectors), len(pieces))
	}

	chunks := make([]models.DocumentChunk, len(pieces))
	for i, c := range pieces {
		chunks[i] = models.DocumentChunk{
			DocumentID:     doc.ID,
			OrganizationID: doc.OrganizationID,
			ChunkIndex:     c.Index,
			Content:        c.Content,
			Preview:        chunker.Preview(c.Content, s.previewChars),
			CharStart:      c.Start,
			CharEnd:        c.End,
			TokenCount:     tokenizer.CountTokens(c.Content),
			PageNumber:     extracted.PageAt(c.Start),
			Embedding:      vectors[i],
		}
	}
	return chunks, nil
}

// fail decides between retrying and failing the document. Errors without a
// kind (database, network, cancellation) are treated like transient
// provider errors.
func (s *Service) fail(ctx context.Context, log *slog.Logger, p queue.DocumentPayload, cause error, lastAttempt bool) error {
	retryable := apperr.Retryable(cause) || apperr.KindOf(cause) == ""
	if retryable && !lastAttempt {
		log.Warn("document processing failed, will retry", "error", cause)
		return fmt.Errorf("process document %s: %w", p.DocumentID, cause)
	}

	msg := failureMessage(cause)
	if retryable {
		msg = truncateMessage("max retries exceeded: " + msg)
	}

	wctx := context.WithoutCancel(ctx)
	changed, err := s.repo.MarkFailed(wctx, p.OrganizationID, p.DocumentID, p.Generation, msg)
	if err != nil {
		return fmt.Errorf("mark document %s failed: %w", p.DocumentID, err)
	}
	if changed {
		log.Error("document processing failed", "error", cause, "retryable", retryable)
		audit.Record(wctx, s.audit, audit.Entry{
			OrganizationID: p.OrganizationID,
			Action:         audit.ActionDocProcessFail,
			ResourceType:   "document",
			ResourceID:     &p.DocumentID,
			Details:        map[string]any{"error": msg, "attempt": p.Attempt},
		})
		doc := &models.Document{ID: p.DocumentID, OrganizationID: p.OrganizationID}
		s.publish(wctx, doc, events.DocumentFailed, models.DocStatusFailed, 0, msg)
		s.invalidateStats(wctx, p.OrganizationID)
	}

	if retryable {
		return fmt.Errorf("%w: %w", ErrDeadLetter, cause)
	}
	return nil
}

// Purge removes what is left of a soft-deleted document. It is safe to run
// more than once; quota is only released by the first run.
func (s *Service) Purge(ctx context.Context, p queue.DocumentPayload) error {
	doc, transitioned, err := s.repo.Purge(ctx, p.OrganizationID, p.DocumentID)
	if errors.Is(err, apperr.ErrNotFound) {
		slog.Info("nothing to purge", "document_id", p.DocumentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("purge document %s: %w", p.DocumentID, err)
	}

	if transitioned && s.quota != nil {
		if err := s.quota.ReleaseDocument(ctx, doc.OrganizationID, doc.FileSize, doc.ChunkCount); err != nil {
			slog.Warn("failed to release document quota", "document_id", doc.ID, "error", err)
		}
	}

	if doc.FilePath != "" {
		if err := s.blobs.Delete(ctx, doc.FilePath); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete original %s: %w", doc.FilePath, err)
		}
	}

	slog.Info("document purged", "document_id", doc.ID, "organization_id", doc.OrganizationID)
	return nil
}

func (s *Service) publish(ctx context.Context, doc *models.Document, typ string, status models.DocumentStatus, chunks int, errMsg string) {
	e := events.Event{
		Type:           typ,
		DocumentID:     doc.ID,
		OrganizationID: doc.OrganizationID,
		Status:         string(status),
		ChunkCount:     chunks,
		Error:          errMsg,
		OccurredAt:     time.Now().UTC(),
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), e); err != nil {
		slog.Warn("failed to publish document event", "event", typ, "document_id", doc.ID, "error", err)
	}
}

func failureMessage(err error) string {
	var msg string
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "processing timed out"
	case apperr.KindOf(err) != "":
		msg = apperr.Message(err)
	default:
		msg = err.Error()
	}
	return truncateMessage(msg)
}

func truncateMessage(msg string) string {
	if utf8.RuneCountInString(msg) <= maxErrorMessage {
		return msg
	}
	return string([]rune(msg)[:maxErrorMessage-3]) + "..."
}
