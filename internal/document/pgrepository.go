package document

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/models"
	"github.com/nikhilbhutani/docrag/internal/vectorstore"
)

const documentColumns = `id, organization_id, uploaded_by, file_name, file_type, file_size, file_path, status,
	error_message, chunk_count, generation, uploaded_at, processed_at, updated_at, deleted_at`

type PgRepository struct {
	db *pgxpool.Pool
}

func NewPgRepository(db *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: db}
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.OrganizationID, &d.UploadedBy, &d.FileName, &d.FileType, &d.FileSize, &d.FilePath,
		&d.Status, &d.ErrorMessage, &d.ChunkCount, &d.Generation, &d.UploadedAt, &d.ProcessedAt, &d.UpdatedAt, &d.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("document not found")
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) Create(ctx context.Context, doc *models.Document) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO documents (id, organization_id, uploaded_by, file_name, file_type, file_size, file_path, status, generation)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING uploaded_at, updated_at`,
		doc.ID, doc.OrganizationID, doc.UploadedBy, doc.FileName, doc.FileType, doc.FileSize, doc.FilePath,
		doc.Status, doc.Generation,
	).Scan(&doc.UploadedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *PgRepository) Get(ctx context.Context, orgID, id uuid.UUID) (*models.Document, error) {
	return scanDocument(r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`,
		id, orgID,
	))
}

// likePattern escapes LIKE metacharacters so the search term matches
// literally.
func likePattern(s string) string {
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}

func (r *PgRepository) List(ctx context.Context, orgID uuid.UUID, f ListFilter) ([]models.Document, int, error) {
	where := "WHERE organization_id = $1 AND deleted_at IS NULL"
	args := []any{orgID}
	argN := 2

	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, f.Status)
		argN++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND file_name ILIKE $%d", argN)
		args = append(args, likePattern(f.Search))
		argN++
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT count(*) FROM documents "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	query := fmt.Sprintf(`SELECT `+documentColumns+` FROM documents %s
		ORDER BY uploaded_at DESC, id
		LIMIT $%d OFFSET $%d`, where, argN, argN+1)
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	return docs, total, rows.Err()
}

func (r *PgRepository) Stats(ctx context.Context, orgID uuid.UUID) (*models.DocumentStats, error) {
	var s models.DocumentStats
	err := r.db.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status = 'UPLOADED'),
		        count(*) FILTER (WHERE status = 'PROCESSING'),
		        count(*) FILTER (WHERE status = 'READY'),
		        count(*) FILTER (WHERE status = 'FAILED'),
		        COALESCE(sum(chunk_count), 0),
		        COALESCE(sum(file_size), 0)
		 FROM documents WHERE organization_id = $1 AND deleted_at IS NULL`,
		orgID,
	).Scan(&s.Total, &s.Uploaded, &s.Processing, &s.Ready, &s.Failed, &s.TotalChunks, &s.TotalSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("document stats: %w", err)
	}
	return &s, nil
}

func (r *PgRepository) BeginReprocess(ctx context.Context, orgID, id uuid.UUID) (*models.Document, int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := scanDocument(tx.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
		 FOR UPDATE`,
		id, orgID,
	))
	if err != nil {
		return nil, 0, err
	}
	if !doc.Status.Terminal() {
		return nil, 0, apperr.InvalidState("document is %s; only READY or FAILED documents can be reprocessed", doc.Status)
	}

	removed, err := vectorstore.DeleteChunks(ctx, tx, orgID, id)
	if err != nil {
		return nil, 0, err
	}

	doc, err = scanDocument(tx.QueryRow(ctx,
		`UPDATE documents
		 SET status = 'PROCESSING', generation = generation + 1, chunk_count = 0,
		     error_message = NULL, processed_at = NULL, updated_at = now()
		 WHERE id = $1 AND organization_id = $2
		 RETURNING `+documentColumns,
		id, orgID,
	))
	if err != nil {
		return nil, 0, fmt.Errorf("reset document: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("commit reprocess: %w", err)
	}
	return doc, removed, nil
}

func (r *PgRepository) MarkProcessing(ctx context.Context, orgID, id uuid.UUID, gen int) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE documents SET status = 'PROCESSING', updated_at = now()
		 WHERE id = $1 AND organization_id = $2 AND generation = $3
		   AND status IN ('UPLOADED', 'PROCESSING') AND deleted_at IS NULL`,
		id, orgID, gen,
	)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// lockForTransition locks the document row and checks the generation guard.
func lockForTransition(ctx context.Context, tx pgx.Tx, orgID, id uuid.UUID, gen int, from ...models.DocumentStatus) (bool, error) {
	var status models.DocumentStatus
	var current int
	err := tx.QueryRow(ctx,
		`SELECT status, generation FROM documents
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
		 FOR UPDATE`,
		id, orgID,
	).Scan(&status, &current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock document: %w", err)
	}
	if current != gen {
		return false, nil
	}
	for _, s := range from {
		if s == status {
			return true, nil
		}
	}
	return false, nil
}

func (r *PgRepository) CommitReady(ctx context.Context, orgID, id uuid.UUID, gen int, chunks []models.DocumentChunk) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ok, err := lockForTransition(ctx, tx, orgID, id, gen, models.DocStatusProcessing)
	if err != nil || !ok {
		return false, err
	}

	if err := vectorstore.ReplaceChunks(ctx, tx, orgID, id, chunks); err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE documents
		 SET status = 'READY', chunk_count = $3, error_message = NULL, processed_at = now(), updated_at = now()
		 WHERE id = $1 AND organization_id = $2`,
		id, orgID, len(chunks),
	)
	if err != nil {
		return false, fmt.Errorf("mark ready: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit ready: %w", err)
	}
	return true, nil
}

func (r *PgRepository) MarkFailed(ctx context.Context, orgID, id uuid.UUID, gen int, msg string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ok, err := lockForTransition(ctx, tx, orgID, id, gen, models.DocStatusUploaded, models.DocStatusProcessing)
	if err != nil || !ok {
		return false, err
	}

	if _, err := vectorstore.DeleteChunks(ctx, tx, orgID, id); err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE documents
		 SET status = 'FAILED', chunk_count = 0, error_message = $3, processed_at = now(), updated_at = now()
		 WHERE id = $1 AND organization_id = $2`,
		id, orgID, msg,
	)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit failed: %w", err)
	}
	return true, nil
}

func (r *PgRepository) SoftDelete(ctx context.Context, orgID, id uuid.UUID) (*models.Document, error) {
	return scanDocument(r.db.QueryRow(ctx,
		`UPDATE documents SET deleted_at = now(), updated_at = now()
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
		 RETURNING `+documentColumns,
		id, orgID,
	))
}

func (r *PgRepository) Purge(ctx context.Context, orgID, id uuid.UUID) (*models.Document, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var purged bool
	doc, err := scanDocument(tx.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NOT NULL
		 FOR UPDATE`,
		id, orgID,
	))
	if err != nil {
		return nil, false, err
	}
	if err := tx.QueryRow(ctx, `SELECT purged_at IS NOT NULL FROM documents WHERE id = $1`, id).Scan(&purged); err != nil {
		return nil, false, fmt.Errorf("read purge marker: %w", err)
	}

	if _, err := vectorstore.DeleteChunks(ctx, tx, orgID, id); err != nil {
		return nil, false, err
	}
	if !purged {
		if _, err := tx.Exec(ctx, `UPDATE documents SET purged_at = now() WHERE id = $1`, id); err != nil {
			return nil, false, fmt.Errorf("mark purged: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit purge: %w", err)
	}
	return doc, !purged, nil
}
