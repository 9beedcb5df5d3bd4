package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/nikhilbhutani/docrag/internal/models"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx, so chunk writes can join a
// caller's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type PgVectorStore struct {
	db   *pgxpool.Pool
	maxK int
}

func NewPgVectorStore(db *pgxpool.Pool, maxK int) *PgVectorStore {
	return &PgVectorStore{db: db, maxK: maxK}
}

// ReplaceChunks deletes the document's chunks and inserts chunks in their
// place using db. Run it inside a transaction so readers never observe a
// mix of old and new rows.
func ReplaceChunks(ctx context.Context, db DBTX, orgID, documentID uuid.UUID, chunks []models.DocumentChunk) error {
	if _, err := DeleteChunks(ctx, db, orgID, documentID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch.Queue(
			`INSERT INTO document_chunks (id, document_id, organization_id, chunk_index, content, preview, char_start, char_end, token_count, page_number, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			id, documentID, orgID, c.ChunkIndex, c.Content, c.Preview, c.CharStart, c.CharEnd,
			c.TokenCount, c.PageNumber, pgvector.NewVector(c.Embedding),
		)
	}

	br := db.SendBatch(ctx, batch)
	for _, c := range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return br.Close()
}

// DeleteChunks removes every chunk of a document and reports how many went.
func DeleteChunks(ctx context.Context, db DBTX, orgID, documentID uuid.UUID) (int64, error) {
	tag, err := db.Exec(ctx,
		"DELETE FROM document_chunks WHERE document_id = $1 AND organization_id = $2",
		documentID, orgID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Search filters on organization before ranking. Vectors of a different
// dimension (from an earlier embedding model) are skipped rather than
// compared.
func (s *PgVectorStore) Search(ctx context.Context, orgID uuid.UUID, query []float32, k int) ([]SearchResult, error) {
	if len(query) == 0 {
		return []SearchResult{}, nil
	}
	k = ClampK(k, s.maxK)
	embedding := pgvector.NewVector(query)

	rows, err := s.db.Query(ctx,
		`SELECT c.id, c.document_id, d.file_name, c.chunk_index, c.content, c.preview, c.page_number,
		        1 - (c.embedding <=> $1) AS score
		 FROM document_chunks c
		 JOIN documents d ON d.id = c.document_id AND d.organization_id = c.organization_id
		 WHERE c.organization_id = $2
		   AND d.status = 'READY'
		   AND d.deleted_at IS NULL
		   AND vector_dims(c.embedding) = $3
		 ORDER BY c.embedding <=> $1, c.chunk_index, c.document_id
		 LIMIT $4`,
		embedding, orgID, len(query), k,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.FileName, &r.ChunkIndex, &r.Content, &r.Preview, &r.PageNumber, &r.Score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
