package quota

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/config"
)

func TestMemoryServiceDocumentLimits(t *testing.T) {
	ctx := context.Background()
	org := uuid.New()
	m := NewMemoryService(config.QuotaConfig{MaxDocuments: 2, MaxStorageBytes: 100, MaxChatSessions: 1})

	require.NoError(t, m.ReserveDocument(ctx, org, 60))
	err := m.ReserveDocument(ctx, org, 50)
	assert.ErrorIs(t, err, apperr.ErrQuotaExceeded)

	require.NoError(t, m.ReserveDocument(ctx, org, 40))
	err = m.ReserveDocument(ctx, org, 0)
	assert.ErrorIs(t, err, apperr.ErrQuotaExceeded)

	require.NoError(t, m.AdjustChunks(ctx, org, 7))
	require.NoError(t, m.ReleaseDocument(ctx, org, 60, 7))

	q, err := m.Get(ctx, org)
	require.NoError(t, err)
	assert.Equal(t, 1, q.CurrentDocuments)
	assert.Equal(t, int64(40), q.CurrentStorageBytes)
	assert.Zero(t, q.CurrentChunks)
}

func TestMemoryServiceSessionsAreScopedPerOrg(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryService(config.QuotaConfig{MaxChatSessions: 1})
	a, b := uuid.New(), uuid.New()

	require.NoError(t, m.ReserveSession(ctx, a))
	assert.ErrorIs(t, m.ReserveSession(ctx, a), apperr.ErrQuotaExceeded)
	require.NoError(t, m.ReserveSession(ctx, b))

	require.NoError(t, m.ReleaseSession(ctx, a))
	require.NoError(t, m.ReserveSession(ctx, a))
}
