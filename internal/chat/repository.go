package chat

import (
	"context"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docrag/internal/models"
)

// Repository persists sessions and their messages. Session reads and
// writes are scoped to one organization and the owning user, and skip
// soft-deleted sessions.
type Repository interface {
	CreateSession(ctx context.Context, s *models.ChatSession) error
	GetSession(ctx context.Context, orgID, userID, id uuid.UUID) (*models.ChatSession, error)
	ListSessions(ctx context.Context, orgID, userID uuid.UUID) ([]models.ChatSession, error)
	RenameSession(ctx context.Context, orgID, userID, id uuid.UUID, title string) (*models.ChatSession, error)
	DeleteSession(ctx context.Context, orgID, userID, id uuid.UUID) error
	// SetTitleIfDefault retitles a session that still has the default title.
	SetTitleIfDefault(ctx context.Context, orgID, userID, id uuid.UUID, title string) (bool, error)

	// AppendMessage inserts m and bumps the session's message count and
	// updated_at in one transaction.
	AppendMessage(ctx context.Context, orgID uuid.UUID, m *models.ChatMessage) error
	// RecentMessages returns the last n messages of a session, oldest first.
	RecentMessages(ctx context.Context, orgID, sessionID uuid.UUID, n int) ([]models.ChatMessage, error)
}
