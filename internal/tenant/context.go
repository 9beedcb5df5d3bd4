package tenant

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const principalKey contextKey = "principal"

const RoleAdmin = "ADMIN"

// Principal identifies the caller of a request: the organization every
// query is scoped to and the user acting inside it.
type Principal struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Role           string
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

func OrgIDFromContext(ctx context.Context) uuid.UUID {
	if p := FromContext(ctx); p != nil {
		return p.OrganizationID
	}
	return uuid.Nil
}

func UserIDFromContext(ctx context.Context) uuid.UUID {
	if p := FromContext(ctx); p != nil {
		return p.UserID
	}
	return uuid.Nil
}
