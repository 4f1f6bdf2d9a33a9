// Package auth is the identity boundary: who is acting and for which
// organization. Session handling lives outside the service.
package auth

import (
	"context"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
)

// Role of the acting user.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCashier Role = "cashier"
)

// ParseRole returns the role named s. Unknown or empty names are cashiers.
func ParseRole(s string) Role {
	if Role(s) == RoleAdmin {
		return RoleAdmin
	}
	return RoleCashier
}

// Identity is the current user, organization and role.
type Identity struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
	Role   Role   `json:"role"`
}

// Provider resolves the identity of a request.
type Provider interface {
	Identity(ctx context.Context) (Identity, error)
}

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Static resolves the identity carried by the context and falls back to a
// fixed default.
type Static struct {
	Default Identity
}

func (s Static) Identity(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok {
		id = s.Default
	}
	if id.OrgID == "" {
		id.OrgID = s.Default.OrgID
	}
	if id.UserID == "" {
		id.UserID = s.Default.UserID
	}
	if id.Role == "" {
		id.Role = s.Default.Role
	}
	if id.Role == "" {
		id.Role = RoleCashier
	}
	if id.OrgID == "" {
		return Identity{}, apperr.Validation("organization is required")
	}
	return id, nil
}
