// Package quota enforces per-organization usage limits.
//
// Counters live in organization_quotas. A row is created on first use with
// the configured defaults; limits on an existing row win over config.
// Reservations are single conditional UPDATEs, so concurrent uploads can
// never push a counter past its limit.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/config"
	"github.com/nikhilbhutani/docrag/internal/models"
)

type Service struct {
	db       *pgxpool.Pool
	defaults config.QuotaConfig
}

func NewService(db *pgxpool.Pool, defaults config.QuotaConfig) *Service {
	return &Service{db: db, defaults: defaults}
}

func (s *Service) ensureRow(ctx context.Context, orgID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO organization_quotas (organization_id, max_documents, max_storage_bytes, max_chat_sessions)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (organization_id) DO NOTHING`,
		orgID, s.defaults.MaxDocuments, s.defaults.MaxStorageBytes, s.defaults.MaxChatSessions,
	)
	if err != nil {
		return fmt.Errorf("ensure quota row: %w", err)
	}
	return nil
}

// ReserveDocument counts one more document of size bytes against the
// organization, or returns a QuotaExceeded error and changes nothing.
func (s *Service) ReserveDocument(ctx context.Context, orgID uuid.UUID, size int64) error {
	if err := s.ensureRow(ctx, orgID); err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE organization_quotas
		 SET current_documents = current_documents + 1,
		     current_storage_bytes = current_storage_bytes + $2,
		     updated_at = now()
		 WHERE organization_id = $1
		   AND current_documents + 1 <= max_documents
		   AND current_storage_bytes + $2 <= max_storage_bytes`,
		orgID, size,
	)
	if err != nil {
		return fmt.Errorf("reserve document quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		q, err := s.Get(ctx, orgID)
		if err != nil {
			return err
		}
		if q.CurrentDocuments+1 > q.MaxDocuments {
			return apperr.QuotaExceeded("document limit reached (%d)", q.MaxDocuments)
		}
		return apperr.QuotaExceeded("storage limit reached (%d bytes)", q.MaxStorageBytes)
	}
	return nil
}

// ReleaseDocument undoes a ReserveDocument and drops the document's chunks
// from the chunk counter.
func (s *Service) ReleaseDocument(ctx context.Context, orgID uuid.UUID, size int64, chunks int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE organization_quotas
		 SET current_documents = GREATEST(current_documents - 1, 0),
		     current_storage_bytes = GREATEST(current_storage_bytes - $2, 0),
		     current_chunks = GREATEST(current_chunks - $3, 0),
		     updated_at = now()
		 WHERE organization_id = $1`,
		orgID, size, chunks,
	)
	if err != nil {
		return fmt.Errorf("release document quota: %w", err)
	}
	return nil
}

func (s *Service) AdjustChunks(ctx context.Context, orgID uuid.UUID, delta int) error {
	if delta == 0 {
		return nil
	}
	if err := s.ensureRow(ctx, orgID); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx,
		`UPDATE organization_quotas
		 SET current_chunks = GREATEST(current_chunks + $2, 0), updated_at = now()
		 WHERE organization_id = $1`,
		orgID, delta,
	)
	if err != nil {
		return fmt.Errorf("adjust chunk quota: %w", err)
	}
	return nil
}

func (s *Service) ReserveSession(ctx context.Context, orgID uuid.UUID) error {
	if err := s.ensureRow(ctx, orgID); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE organization_quotas
		 SET current_chat_sessions = current_chat_sessions + 1, updated_at = now()
		 WHERE organization_id = $1 AND current_chat_sessions + 1 <= max_chat_sessions`,
		orgID,
	)
	if err != nil {
		return fmt.Errorf("reserve session quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.QuotaExceeded("chat session limit reached")
	}
	return nil
}

func (s *Service) ReleaseSession(ctx context.Context, orgID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE organization_quotas
		 SET current_chat_sessions = GREATEST(current_chat_sessions - 1, 0), updated_at = now()
		 WHERE organization_id = $1`,
		orgID,
	)
	if err != nil {
		return fmt.Errorf("release session quota: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, orgID uuid.UUID) (*models.OrganizationQuota, error) {
	var q models.OrganizationQuota
	err := s.db.QueryRow(ctx,
		`SELECT organization_id, max_documents, max_storage_bytes, max_chat_sessions,
		        current_documents, current_storage_bytes, current_chunks, current_chat_sessions
		 FROM organization_quotas WHERE organization_id = $1`,
		orgID,
	).Scan(&q.OrganizationID, &q.MaxDocuments, &q.MaxStorageBytes, &q.MaxChatSessions,
		&q.CurrentDocuments, &q.CurrentStorageBytes, &q.CurrentChunks, &q.CurrentChatSessions)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.OrganizationQuota{
			OrganizationID:  orgID,
			MaxDocuments:    s.defaults.MaxDocuments,
			MaxStorageBytes: s.defaults.MaxStorageBytes,
			MaxChatSessions: s.defaults.MaxChatSessions,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}
	return &q, nil
}
