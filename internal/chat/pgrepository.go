package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/models"
)

const sessionColumns = `id, organization_id, user_id, title, message_count, created_at, updated_at, deleted_at`

type PgRepository struct {
	db *pgxpool.Pool
}

func NewPgRepository(db *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: db}
}

func scanSession(row pgx.Row) (*models.ChatSession, error) {
	var s models.ChatSession
	err := row.Scan(&s.ID, &s.OrganizationID, &s.UserID, &s.Title, &s.MessageCount, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("chat session not found")
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PgRepository) CreateSession(ctx context.Context, s *models.ChatSession) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO chat_sessions (id, organization_id, user_id, title)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		s.ID, s.OrganizationID, s.UserID, s.Title,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert chat session: %w", err)
	}
	return nil
}

func (r *PgRepository) GetSession(ctx context.Context, orgID, userID, id uuid.UUID) (*models.ChatSession, error) {
	return scanSession(r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions
		 WHERE id = $1 AND organization_id = $2 AND user_id = $3 AND deleted_at IS NULL`,
		id, orgID, userID,
	))
}

func (r *PgRepository) ListSessions(ctx context.Context, orgID, userID uuid.UUID) ([]models.ChatSession, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions
		 WHERE organization_id = $1 AND user_id = $2 AND deleted_at IS NULL
		 ORDER BY updated_at DESC`,
		orgID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.ChatSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *PgRepository) RenameSession(ctx context.Context, orgID, userID, id uuid.UUID, title string) (*models.ChatSession, error) {
	return scanSession(r.db.QueryRow(ctx,
		`UPDATE chat_sessions SET title = $4, updated_at = now()
		 WHERE id = $1 AND organization_id = $2 AND user_id = $3 AND deleted_at IS NULL
		 RETURNING `+sessionColumns,
		id, orgID, userID, title,
	))
}

func (r *PgRepository) DeleteSession(ctx context.Context, orgID, userID, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE chat_sessions SET deleted_at = now(), updated_at = now()
		 WHERE id = $1 AND organization_id = $2 AND user_id = $3 AND deleted_at IS NULL`,
		id, orgID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("chat session not found")
	}
	return nil
}

func (r *PgRepository) SetTitleIfDefault(ctx context.Context, orgID, userID, id uuid.UUID, title string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE chat_sessions SET title = $4
		 WHERE id = $1 AND organization_id = $2 AND user_id = $3 AND title = $5 AND deleted_at IS NULL`,
		id, orgID, userID, title, models.DefaultSessionTitle,
	)
	if err != nil {
		return false, fmt.Errorf("set session title: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) AppendMessage(ctx context.Context, orgID uuid.UUID, m *models.ChatMessage) error {
	var sources []byte
	if len(m.Sources) > 0 {
		var err error
		if sources, err = json.Marshal(m.Sources); err != nil {
			return fmt.Errorf("marshal sources: %w", err)
		}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE chat_sessions SET message_count = message_count + 1, updated_at = now()
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`,
		m.SessionID, orgID,
	)
	if err != nil {
		return fmt.Errorf("bump session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("chat session not found")
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, sources)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		m.ID, m.SessionID, m.Role, m.Content, sources,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) RecentMessages(ctx context.Context, orgID, sessionID uuid.UUID, n int) ([]models.ChatMessage, error) {
	rows, err := r.db.Query(ctx,
		`SELECT m.id, m.session_id, m.role, m.content, m.sources, m.created_at
		 FROM chat_messages m
		 JOIN chat_sessions s ON s.id = m.session_id
		 WHERE m.session_id = $1 AND s.organization_id = $2
		 ORDER BY m.seq DESC
		 LIMIT $3`,
		sessionID, orgID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.ChatMessage{}
	for rows.Next() {
		var m models.ChatMessage
		var sources []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &sources, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &m.Sources); err != nil {
				return nil, fmt.Errorf("decode sources of message %s: %w", m.ID, err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}
