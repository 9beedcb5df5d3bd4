package quota

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/config"
	"github.com/nikhilbhutani/docrag/internal/models"
)

// MemoryService applies the same limits as Service without a database.
// Tests and single-process setups use it.
type MemoryService struct {
	mu       sync.Mutex
	defaults config.QuotaConfig
	rows     map[uuid.UUID]*models.OrganizationQuota
}

func NewMemoryService(defaults config.QuotaConfig) *MemoryService {
	return &MemoryService{defaults: defaults, rows: make(map[uuid.UUID]*models.OrganizationQuota)}
}

func (m *MemoryService) row(orgID uuid.UUID) *models.OrganizationQuota {
	q, ok := m.rows[orgID]
	if !ok {
		q = &models.OrganizationQuota{
			OrganizationID:  orgID,
			MaxDocuments:    m.defaults.MaxDocuments,
			MaxStorageBytes: m.defaults.MaxStorageBytes,
			MaxChatSessions: m.defaults.MaxChatSessions,
		}
		m.rows[orgID] = q
	}
	return q
}

func (m *MemoryService) ReserveDocument(_ context.Context, orgID uuid.UUID, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.row(orgID)
	if q.CurrentDocuments+1 > q.MaxDocuments {
		return apperr.QuotaExceeded("document limit reached (%d)", q.MaxDocuments)
	}
	if q.CurrentStorageBytes+size > q.MaxStorageBytes {
		return apperr.QuotaExceeded("storage limit reached (%d bytes)", q.MaxStorageBytes)
	}
	q.CurrentDocuments++
	q.CurrentStorageBytes += size
	return nil
}

func (m *MemoryService) ReleaseDocument(_ context.Context, orgID uuid.UUID, size int64, chunks int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.row(orgID)
	q.CurrentDocuments = max(q.CurrentDocuments-1, 0)
	q.CurrentStorageBytes = max(q.CurrentStorageBytes-size, 0)
	q.CurrentChunks = max(q.CurrentChunks-chunks, 0)
	return nil
}

func (m *MemoryService) AdjustChunks(_ context.Context, orgID uuid.UUID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.row(orgID)
	q.CurrentChunks = max(q.CurrentChunks+delta, 0)
	return nil
}

func (m *MemoryService) ReserveSession(_ context.Context, orgID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.row(orgID)
	if q.CurrentChatSessions+1 > q.MaxChatSessions {
		return apperr.QuotaExceeded("chat session limit reached")
	}
	q.CurrentChatSessions++
	return nil
}

func (m *MemoryService) ReleaseSession(_ context.Context, orgID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.row(orgID)
	q.CurrentChatSessions = max(q.CurrentChatSessions-1, 0)
	return nil
}

func (m *MemoryService) Get(_ context.Context, orgID uuid.UUID) (*models.OrganizationQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := *m.row(orgID)
	return &q, nil
}
