package chat

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/models"
)

// MemoryRepository is an in-process Repository for tests and local runs.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.ChatSession
	messages map[uuid.UUID][]models.ChatMessage
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: map[uuid.UUID]*models.ChatSession{}, messages: map[uuid.UUID][]models.ChatMessage{}}
}

func (r *MemoryRepository) session(orgID, userID, id uuid.UUID) (*models.ChatSession, error) {
	s, ok := r.sessions[id]
	if !ok || s.OrganizationID != orgID || s.UserID != userID || s.DeletedAt != nil {
		return nil, apperr.NotFound("chat session not found")
	}
	return s, nil
}

func (r *MemoryRepository) CreateSession(_ context.Context, s *models.ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.CreatedAt, s.UpdatedAt = time.Now(), time.Now()
	c := *s
	r.sessions[s.ID] = &c
	return nil
}

func (r *MemoryRepository) GetSession(_ context.Context, orgID, userID, id uuid.UUID) (*models.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.session(orgID, userID, id)
	if err != nil {
		return nil, err
	}
	c := *s
	return &c, nil
}

func (r *MemoryRepository) ListSessions(_ context.Context, orgID, userID uuid.UUID) ([]models.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.ChatSession{}
	for _, s := range r.sessions {
		if s.OrganizationID == orgID && s.UserID == userID && s.DeletedAt == nil {
			out = append(out, *s)
		}
	}
	slices.SortFunc(out, func(a, b models.ChatSession) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

func (r *MemoryRepository) RenameSession(_ context.Context, orgID, userID, id uuid.UUID, title string) (*models.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.session(orgID, userID, id)
	if err != nil {
		return nil, err
	}
	s.Title = title
	c := *s
	return &c, nil
}

func (r *MemoryRepository) DeleteSession(_ context.Context, orgID, userID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.session(orgID, userID, id)
	if err != nil {
		return err
	}
	now := time.Now()
	s.DeletedAt = &now
	return nil
}

func (r *MemoryRepository) SetTitleIfDefault(_ context.Context, orgID, userID, id uuid.UUID, title string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.session(orgID, userID, id)
	if err != nil || s.Title != models.DefaultSessionTitle {
		return false, err
	}
	s.Title = title
	return true, nil
}

func (r *MemoryRepository) AppendMessage(_ context.Context, orgID uuid.UUID, m *models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[m.SessionID]
	if !ok || s.OrganizationID != orgID || s.DeletedAt != nil {
		return apperr.NotFound("chat session not found")
	}
	m.CreatedAt = time.Now()
	r.messages[m.SessionID] = append(r.messages[m.SessionID], *m)
	s.MessageCount++
	s.UpdatedAt = m.CreatedAt
	return nil
}

func (r *MemoryRepository) RecentMessages(_ context.Context, orgID, sessionID uuid.UUID, n int) ([]models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok || r.sessions[sessionID].OrganizationID != orgID {
		return []models.ChatMessage{}, nil
	}
	all := r.messages[sessionID]
	return slices.Clone(all[max(len(all)-n, 0):]), nil
}

// Messages returns every stored message of a session in insertion order.
func (r *MemoryRepository) Messages(sessionID uuid.UUID) []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages[sessionID])
}
