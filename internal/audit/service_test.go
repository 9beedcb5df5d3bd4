package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docrag/internal/tenant"
)

type captureRecorder struct {
	entries []Entry
	err     error
}

func (c *captureRecorder) Log(ctx context.Context, e Entry) error {
	c.entries = append(c.entries, fillFromContext(ctx, e))
	return c.err
}

func TestRecordFillsPrincipal(t *testing.T) {
	p := &tenant.Principal{UserID: uuid.New(), OrganizationID: uuid.New()}
	ctx := tenant.WithPrincipal(context.Background(), p)
	rec := &captureRecorder{}

	Record(ctx, rec, Entry{Action: ActionDocUpload, ResourceType: "document"})

	require.Len(t, rec.entries, 1)
	got := rec.entries[0]
	assert.Equal(t, p.OrganizationID, got.OrganizationID)
	require.NotNil(t, got.UserID)
	assert.Equal(t, p.UserID, *got.UserID)
}

func TestRecordKeepsExplicitIDs(t *testing.T) {
	ctx := tenant.WithPrincipal(context.Background(), &tenant.Principal{UserID: uuid.New(), OrganizationID: uuid.New()})
	org, user := uuid.New(), uuid.New()
	rec := &captureRecorder{}

	Record(ctx, rec, Entry{OrganizationID: org, UserID: &user, Action: ActionChatCreate})

	assert.Equal(t, org, rec.entries[0].OrganizationID)
	assert.Equal(t, user, *rec.entries[0].UserID)
}

func TestRecordSwallowsFailures(t *testing.T) {
	rec := &captureRecorder{err: errors.New("db down")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NotPanics(t, func() { Record(ctx, rec, Entry{Action: ActionDocDelete}) })
	assert.Len(t, rec.entries, 1)
	assert.NotPanics(t, func() { Record(ctx, nil, Entry{Action: ActionDocDelete}) })
}

func TestFillFromContextWithoutPrincipal(t *testing.T) {
	e := fillFromContext(context.Background(), Entry{Action: ActionAPIKeyCreate})
	assert.Equal(t, uuid.Nil, e.OrganizationID)
	assert.Nil(t, e.UserID)
}
